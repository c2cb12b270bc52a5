// Package ftsensor reads force/torque samples from serial, UDP (RDT) and
// captured-packet feeds and hands them to a wrench sink.
package ftsensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/wrench"
)

var ErrWriteFailed = errors.New("short write to force/torque sensor")

var logf = monitoring.Component("FTSensor")

// subscriberBuffer is the per-subscriber backlog. Slow readers lose lines
// rather than stalling the sensor.
const subscriberBuffer = 64

// Reading is one line from the sensor and what it decoded to.
type Reading struct {
	Raw    string
	Wrench wrench.Wrench
	// Err is set when the line was not a sample. Comment and banner lines
	// carry ErrSkipLine.
	Err error
}

// Mux reads newline-framed samples from a serial sensor, forwards decoded
// wrenches to a sink and fans every reading out to subscribers.
type Mux[T SerialPorter] struct {
	port   T
	sink   Sink
	source string

	subMu sync.Mutex
	subs  map[string]chan Reading

	writeMu  sync.Mutex
	closing  atomic.Bool
	latest   atomic.Pointer[wrench.Wrench]
	parseLog rate.Sometimes
}

// NewMux creates a Mux over port. A nil sink discards samples.
func NewMux[T SerialPorter](port T, sink Sink) *Mux[T] {
	if sink == nil {
		sink = SinkFunc(func(wrench.Wrench) {})
	}
	return &Mux[T]{
		port:     port,
		sink:     sink,
		source:   "serial",
		subs:     make(map[string]chan Reading),
		parseLog: rate.Sometimes{Interval: time.Second},
	}
}

// Subscribe registers a reader of every line from the port. After Close the
// returned channel is already closed.
func (s *Mux[T]) Subscribe() (id string, ch <-chan Reading) {
	id = uuid.NewString()
	c := make(chan Reading, subscriberBuffer)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closing.Load() {
		close(c)
		return id, c
	}
	s.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Mux[T]) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if c, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(c)
	}
}

// Initialize sends the given setup commands in order, stopping at the first
// failure.
func (s *Mux[T]) Initialize(commands ...string) error {
	for _, command := range commands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes a newline-terminated command to the port.
func (s *Mux[T]) SendCommand(command string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Latest returns the most recently decoded sample and whether one exists.
func (s *Mux[T]) Latest() (wrench.Wrench, bool) {
	w := s.latest.Load()
	if w == nil {
		return wrench.Wrench{}, false
	}
	return *w, true
}

// Monitor reads lines until ctx is cancelled, the port reaches EOF or Close
// is called. Cancelling ctx closes the mux.
func (s *Mux[T]) Monitor(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	scan := bufio.NewScanner(s.port)
	for scan.Scan() {
		if s.closing.Load() {
			break
		}
		s.handleLine(scan.Text())
	}
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case s.closing.Load():
		return nil
	default:
		return scan.Err()
	}
}

// Run implements Source.
func (s *Mux[T]) Run(ctx context.Context) error { return s.Monitor(ctx) }

func (s *Mux[T]) handleLine(line string) {
	w, err := ParseLine(line)
	switch {
	case err == nil:
		s.latest.Store(&w)
		s.sink.Ingest(w)
		monitoring.WrenchSamples.WithLabelValues(s.source).Inc()
	case errors.Is(err, ErrSkipLine):
	default:
		monitoring.WrenchParseErrors.WithLabelValues(s.source).Inc()
		s.parseLog.Do(func() { logf("dropping unparseable line %q: %v", line, err) })
	}

	r := Reading{Raw: line, Wrench: w, Err: err}
	s.subMu.Lock()
	for _, c := range s.subs {
		select {
		case c <- r:
		default:
		}
	}
	s.subMu.Unlock()
}

// Close closes every subscriber channel and the port.
func (s *Mux[T]) Close() error {
	if s.closing.Swap(true) {
		return nil
	}
	s.subMu.Lock()
	for id, c := range s.subs {
		delete(s.subs, id)
		close(c)
	}
	s.subMu.Unlock()
	return s.port.Close()
}
