// Package runner drives a palpation controller at a fixed rate: each cycle
// reads joints, steps the controller, sends the pose command and emits the
// telemetry record.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/palpation"
	"github.com/banshee-data/palpation/internal/timeutil"
)

var logf = monitoring.Component("Runner")

// JointSource supplies the latest joint sample.
type JointSource interface {
	Joints() (kinematics.JointState, error)
}

// CommandSink receives one pose command per successful cycle.
type CommandSink interface {
	SendCommand(palpation.PoseCommand) error
}

// RecordSink receives one telemetry record per successful cycle. Emit must
// not block; Clear drops records queued but not yet delivered.
type RecordSink interface {
	Emit(palpation.Record) bool
	Clear() int
}

// Config wires a Runner.
type Config struct {
	Controller *palpation.Controller
	Joints     JointSource
	Commands   CommandSink
	Records    RecordSink
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// ExitOnComplete stops Run once the raster is complete.
	ExitOnComplete bool
}

// Stats is a snapshot of the runner counters.
type Stats struct {
	Cycles   uint64 `json:"cycles"`
	Errors   uint64 `json:"errors"`
	Overruns uint64 `json:"overruns"`
	Complete bool   `json:"complete"`
}

// Runner owns the controller for the lifetime of Run; nothing else may call
// Step concurrently.
type Runner struct {
	ctrl     *palpation.Controller
	joints   JointSource
	commands CommandSink
	records  RecordSink
	clock    timeutil.Clock
	period   time.Duration
	exit     bool

	cycles   atomic.Uint64
	errs     atomic.Uint64
	overruns atomic.Uint64
	complete atomic.Bool
	last     atomic.Pointer[palpation.Output]

	errLog rate.Sometimes
}

// New validates cfg and returns a Runner. The controller must already be
// configured; its control rate sets the period.
func New(cfg Config) (*Runner, error) {
	if cfg.Controller == nil || cfg.Joints == nil {
		return nil, errors.New("runner: controller and joint source are required")
	}
	if cfg.Controller.Lifecycle() == palpation.Unconfigured {
		return nil, palpation.ErrNotConfigured
	}
	if cfg.Commands == nil {
		cfg.Commands = MultiSink(nil)
	}
	if cfg.Records == nil {
		cfg.Records = discardRecords{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Runner{
		ctrl:     cfg.Controller,
		joints:   cfg.Joints,
		commands: cfg.Commands,
		records:  cfg.Records,
		clock:    cfg.Clock,
		period:   cfg.Controller.Config().Period(),
		exit:     cfg.ExitOnComplete,
		errLog:   rate.Sometimes{Interval: time.Second},
	}, nil
}

// Period returns the control period.
func (r *Runner) Period() time.Duration { return r.period }

// Stats returns the runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Cycles:   r.cycles.Load(),
		Errors:   r.errs.Load(),
		Overruns: r.overruns.Load(),
		Complete: r.complete.Load(),
	}
}

// Last returns the output of the most recent successful cycle.
func (r *Runner) Last() (palpation.Output, bool) {
	out := r.last.Load()
	if out == nil {
		return palpation.Output{}, false
	}
	return *out, true
}

// Activate captures the start pose from the joint source. It is a no-op
// when the controller is already active.
func (r *Runner) Activate() error {
	if r.ctrl.Lifecycle() == palpation.Active {
		return nil
	}
	js, err := r.joints.Joints()
	if err != nil {
		return fmt.Errorf("runner: initial joint state: %w", err)
	}
	return r.ctrl.Activate(js, r.clock.Now())
}

// Run activates the controller and runs one cycle per tick until ctx is
// cancelled, or until the raster completes when ExitOnComplete is set. The
// controller is deactivated on return.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Activate(); err != nil {
		return err
	}
	defer r.ctrl.Deactivate()

	ticker := r.clock.NewTicker(r.period)
	defer ticker.Stop()
	logf("control loop running at %v", r.period)

	for {
		select {
		case <-ctx.Done():
			logf("control loop stopped after %d cycles", r.cycles.Load())
			return ctx.Err()
		case now := <-ticker.C():
			r.Cycle(now)
			if r.exit && r.complete.Load() {
				logf("raster complete after %d cycles", r.cycles.Load())
				return nil
			}
		}
	}
}

// RunCycles activates the controller and runs up to n cycles back to back,
// advancing clock by one period after each. It stops early once the raster
// completes when ExitOnComplete is set, and returns the cycles run.
func (r *Runner) RunCycles(clock *timeutil.MockClock, n int) (int, error) {
	if err := r.Activate(); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		clock.Advance(r.period)
		r.Cycle(clock.Now())
		if r.exit && r.complete.Load() {
			return i + 1, nil
		}
	}
	return n, nil
}

// Cycle runs one control cycle stamped now. Failures are counted and
// logged; the cycle then produces no command.
func (r *Runner) Cycle(now time.Time) {
	begin := r.clock.Now()
	defer func() {
		d := r.clock.Since(begin)
		monitoring.CycleDuration.Observe(d.Seconds())
		if d > r.period {
			r.overruns.Add(1)
			monitoring.CycleOverruns.Inc()
		}
	}()

	js, err := r.joints.Joints()
	if err != nil {
		r.fail("joints", err)
		return
	}
	out, err := r.ctrl.Step(palpation.Input{Time: now, Joints: js})
	if err != nil {
		r.fail("step", err)
		return
	}

	if err := r.commands.SendCommand(out.Command); err != nil {
		r.fail("command", err)
	}
	if out.ClearBacklog {
		if n := r.records.Clear(); n > 0 {
			logf("cleared %d queued records at end of palpation %d", n, out.Record.Index)
		}
	}
	r.records.Emit(out.Record)

	r.last.Store(&out)
	r.cycles.Add(1)
	if out.Complete {
		r.complete.Store(true)
	}
}

func (r *Runner) fail(stage string, err error) {
	r.errs.Add(1)
	monitoring.DriverErrors.WithLabelValues(stage).Inc()
	r.errLog.Do(func() { logf("cycle failed at %s: %v", stage, err) })
}

type discardRecords struct{}

func (discardRecords) Emit(palpation.Record) bool { return true }
func (discardRecords) Clear() int                 { return 0 }
