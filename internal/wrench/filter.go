// Package wrench holds the latest force/torque sample from a sensor feed and
// estimates the sensor's z-force bias over a gated sampling window.
//
// Feed goroutines call Ingest. The control task reads through Latest, Bias
// and CorrectedFz, which are lock-free and never wait on a writer.
package wrench

import (
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultBiasSamples is the number of z-force samples averaged into a bias.
const DefaultBiasSamples = 500

// Wrench is a force and torque pair in the sensor frame.
type Wrench struct {
	Force  r3.Vec
	Torque r3.Vec
}

// Bias is the estimated steady-state z-force offset.
type Bias struct {
	Value   float64
	Samples int
	Settled bool
}

type biasSnapshot struct {
	Bias
	epoch uint64
}

// Filter is a single-slot mailbox for the live wrench plus a gated bias
// estimator. The zero value is not usable; call NewFilter.
type Filter struct {
	samples int

	latest   atomic.Pointer[Wrench]
	bias     atomic.Pointer[biasSnapshot]
	sampling atomic.Bool
	epoch    atomic.Uint64
	ingested atomic.Uint64

	// Writer-side accumulator, serialised between feeds.
	mu       sync.Mutex
	accEpoch uint64
	sum      float64
	count    int
	settled  bool

	onSettle func(Bias)
}

// NewFilter returns a filter that averages n samples into a bias. n <= 0
// selects DefaultBiasSamples.
func NewFilter(n int) *Filter {
	if n <= 0 {
		n = DefaultBiasSamples
	}
	f := &Filter{samples: n}
	f.latest.Store(&Wrench{})
	f.bias.Store(&biasSnapshot{})
	return f
}

// OnSettle registers a callback run on the feed goroutine when a bias is
// finalised. It must be set before feeds start.
func (f *Filter) OnSettle(fn func(Bias)) { f.onSettle = fn }

// BiasSamples returns the configured sample window.
func (f *Filter) BiasSamples() int { return f.samples }

// Ingest publishes w as the latest sample and, while sampling is enabled,
// accumulates its z-force into the bias window.
func (f *Filter) Ingest(w Wrench) {
	sample := w
	f.latest.Store(&sample)
	f.ingested.Add(1)

	f.mu.Lock()
	epoch := f.epoch.Load()
	if epoch != f.accEpoch {
		f.accEpoch = epoch
		f.sum, f.count, f.settled = 0, 0, false
	}
	if !f.sampling.Load() || f.settled {
		f.mu.Unlock()
		return
	}
	f.sum += w.Force.Z
	f.count++
	if f.count < f.samples {
		f.mu.Unlock()
		return
	}
	f.settled = true
	b := Bias{Value: f.sum / float64(f.count), Samples: f.count, Settled: true}
	f.bias.Store(&biasSnapshot{Bias: b, epoch: epoch})
	f.mu.Unlock()

	if f.onSettle != nil {
		f.onSettle(b)
	}
}

// SetSampling opens or closes the bias sampling gate.
func (f *Filter) SetSampling(on bool) { f.sampling.Store(on) }

// Sampling reports whether the bias sampling gate is open.
func (f *Filter) Sampling() bool { return f.sampling.Load() }

// ResetBias discards the current bias and restarts the sample window. The
// accumulator is cleared by the next Ingest under the new epoch.
func (f *Filter) ResetBias() {
	epoch := f.epoch.Add(1)
	f.bias.Store(&biasSnapshot{epoch: epoch})
}

// Latest returns the most recent raw sample.
func (f *Filter) Latest() Wrench { return *f.latest.Load() }

// Ingested returns the number of samples received since construction.
func (f *Filter) Ingested() uint64 { return f.ingested.Load() }

// Bias returns the bias for the current window. It reads as zero and
// unsettled until the window completes.
func (f *Filter) Bias() Bias {
	snap := f.bias.Load()
	if snap.epoch != f.epoch.Load() {
		return Bias{}
	}
	return snap.Bias
}

// CorrectedFz returns the latest z-force minus the settled bias, or the raw
// z-force before the bias settles.
func (f *Filter) CorrectedFz() float64 {
	fz := f.latest.Load().Force.Z
	if b := f.Bias(); b.Settled {
		return fz - b.Value
	}
	return fz
}
