package ftsensor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/palpation/internal/wrench"
)

// PipePort is an in-memory SerialPorter. Lines pushed with Feed are read by
// the Mux; commands written by the Mux are captured for inspection. The
// simulator uses it to drive the serial path without hardware.
type PipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	// WriteError, when set, is returned by every Write.
	WriteError error
	closed     bool
}

// NewPipePort creates an open PipePort.
func NewPipePort() *PipePort {
	r, w := io.Pipe()
	return &PipePort{r: r, w: w}
}

// Read implements io.Reader. It blocks until Feed supplies data or the port
// is closed.
func (p *PipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write captures data sent towards the sensor.
func (p *PipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.WriteError != nil {
		return 0, p.WriteError
	}
	return p.written.Write(b)
}

// Close ends the read side with io.EOF.
func (p *PipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.w.Close()
}

// Feed writes one line to the read side, appending a newline. It blocks until
// the reader has consumed it.
func (p *PipePort) Feed(line string) error {
	_, err := io.WriteString(p.w, line+"\n")
	return err
}

// FeedWrench formats w as a six-column CSV line and feeds it.
func (p *PipePort) FeedWrench(w wrench.Wrench) error {
	return p.Feed(FormatCSV(w))
}

// Written returns everything written to the port so far.
func (p *PipePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// FormatCSV renders w in the six-column form ParseLine accepts.
func FormatCSV(w wrench.Wrench) string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%.6f,%.6f",
		w.Force.X, w.Force.Y, w.Force.Z, w.Torque.X, w.Torque.Y, w.Torque.Z)
}
