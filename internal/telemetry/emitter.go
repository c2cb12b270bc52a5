package telemetry

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/palpation"
)

const (
	StreamRecords  = "records"
	StreamCommands = "commands"
)

// Emitter decouples the control loop from telemetry consumers. Emit and
// SendCommand are non-blocking channel sends; Run drains the queues into the
// record and command hubs.
type Emitter struct {
	records  chan palpation.Record
	commands chan palpation.PoseCommand

	recordHub  *Hub[palpation.Record]
	commandHub *Hub[palpation.PoseCommand]

	dropped atomic.Uint64
	cleared atomic.Uint64
}

// NewEmitter creates an emitter with the given queue size and hub history.
func NewEmitter(queueSize, history int) *Emitter {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Emitter{
		records:    make(chan palpation.Record, queueSize),
		commands:   make(chan palpation.PoseCommand, queueSize),
		recordHub:  NewHub[palpation.Record](StreamRecords, history),
		commandHub: NewHub[palpation.PoseCommand](StreamCommands, history),
	}
}

// Records returns the record hub.
func (e *Emitter) Records() *Hub[palpation.Record] { return e.recordHub }

// Commands returns the pose command hub.
func (e *Emitter) Commands() *Hub[palpation.PoseCommand] { return e.commandHub }

// Emit queues a record. It reports false when the queue was full and the
// record was dropped.
func (e *Emitter) Emit(rec palpation.Record) bool {
	select {
	case e.records <- rec:
		return true
	default:
		e.dropped.Add(1)
		monitoring.TelemetryDropped.WithLabelValues("queue").Inc()
		return false
	}
}

// SendCommand queues a pose command for the command stream. A full queue
// drops the command; the controller is never held up by observers.
func (e *Emitter) SendCommand(cmd palpation.PoseCommand) error {
	select {
	case e.commands <- cmd:
	default:
		e.dropped.Add(1)
		monitoring.TelemetryDropped.WithLabelValues("queue").Inc()
	}
	return nil
}

// Clear discards records queued but not yet delivered. It returns how many
// were discarded.
func (e *Emitter) Clear() int {
	n := 0
	for {
		select {
		case <-e.records:
			n++
		default:
			e.cleared.Add(uint64(n))
			return n
		}
	}
}

// Backlog returns the number of queued records.
func (e *Emitter) Backlog() int { return len(e.records) }

// Dropped returns how many items were lost to a full queue.
func (e *Emitter) Dropped() uint64 { return e.dropped.Load() }

// Cleared returns how many records Clear has discarded in total.
func (e *Emitter) Cleared() uint64 { return e.cleared.Load() }

// Run delivers queued items to the hubs until ctx is cancelled, then closes
// the hubs so streaming clients finish.
func (e *Emitter) Run(ctx context.Context) error {
	defer e.recordHub.Close()
	defer e.commandHub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-e.records:
			e.recordHub.Publish(rec)
		case cmd := <-e.commands:
			e.commandHub.Publish(cmd)
		}
	}
}

// Flush delivers everything currently queued without blocking. It is used
// by synchronous drivers that do not run Run in a goroutine.
func (e *Emitter) Flush() {
	for {
		select {
		case rec := <-e.records:
			e.recordHub.Publish(rec)
		case cmd := <-e.commands:
			e.commandHub.Publish(cmd)
		default:
			return
		}
	}
}
