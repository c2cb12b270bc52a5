package ftsensor

import (
	"context"
	"sync"
)

// Disabled is a Source with no sensor behind it, used when the controller
// runs without force feedback. Contact detection then never fires and the
// bias stays at zero.
type Disabled struct {
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewDisabled returns a Disabled source.
func NewDisabled() *Disabled {
	return &Disabled{closeCh: make(chan struct{})}
}

// Run blocks until ctx is cancelled or Close is called.
func (d *Disabled) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closeCh:
		return nil
	}
}

// Close unblocks Run. It is safe to call more than once.
func (d *Disabled) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.closeCh)
	}
	return nil
}
