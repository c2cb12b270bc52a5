package runner

import (
	"errors"
	"sync"

	"github.com/banshee-data/palpation/internal/palpation"
)

// MultiSink sends each command to every sink in order. All sinks are
// tried; their errors are joined.
type MultiSink []CommandSink

// SendCommand implements CommandSink.
func (m MultiSink) SendCommand(cmd palpation.PoseCommand) error {
	var errs []error
	for _, s := range m {
		if err := s.SendCommand(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CommandFunc adapts a function to CommandSink.
type CommandFunc func(palpation.PoseCommand) error

// SendCommand implements CommandSink.
func (f CommandFunc) SendCommand(cmd palpation.PoseCommand) error { return f(cmd) }

// Trace keeps every record and command in memory. It is a RecordSink and a
// CommandSink for offline runs; it has no backlog, so Clear drops nothing.
type Trace struct {
	mu       sync.Mutex
	records  []palpation.Record
	commands []palpation.PoseCommand
}

// Emit implements RecordSink.
func (t *Trace) Emit(rec palpation.Record) bool {
	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()
	return true
}

// Clear implements RecordSink.
func (t *Trace) Clear() int { return 0 }

// SendCommand implements CommandSink.
func (t *Trace) SendCommand(cmd palpation.PoseCommand) error {
	t.mu.Lock()
	t.commands = append(t.commands, cmd)
	t.mu.Unlock()
	return nil
}

// Records returns a copy of the recorded telemetry.
func (t *Trace) Records() []palpation.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]palpation.Record(nil), t.records...)
}

// Commands returns a copy of the recorded commands.
func (t *Trace) Commands() []palpation.PoseCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]palpation.PoseCommand(nil), t.commands...)
}
