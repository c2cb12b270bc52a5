package ftsensor

import (
	"context"
	"io"

	"github.com/banshee-data/palpation/internal/wrench"
)

// SerialPorter is the minimal serial port surface the mux needs. It lets
// tests drive the mux without hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// Sink receives decoded wrench samples. *wrench.Filter satisfies it.
type Sink interface {
	Ingest(wrench.Wrench)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(wrench.Wrench)

// Ingest calls f(w).
func (f SinkFunc) Ingest(w wrench.Wrench) { f(w) }

// Source is a running force/torque feed.
type Source interface {
	// Run reads samples into the sink until ctx is cancelled or the
	// transport fails.
	Run(ctx context.Context) error
	// Close releases the transport.
	Close() error
}
