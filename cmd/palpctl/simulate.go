package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/palpation/internal/palpation"
	"github.com/banshee-data/palpation/internal/runner"
	"github.com/banshee-data/palpation/internal/security"
	"github.com/banshee-data/palpation/internal/sim"
	"github.com/banshee-data/palpation/internal/timeutil"
	"github.com/banshee-data/palpation/internal/wrench"
)

// simEpoch stamps simulated runs so their output is reproducible.
var simEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type simOptions struct {
	cells   int
	maxTime time.Duration
	seed    uint64
	noise   float64
	outDir  string
}

type simResult struct {
	Records   []palpation.Record
	Cycles    int
	Cells     int
	Complete  bool
	Contacts  int
	MinZ      float64
	PeakForce float64
	Bias      wrench.Bias
}

func newSimulateCmd(o *rootOptions) *cobra.Command {
	so := simOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the controller against the simulated gantry in virtual time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.load()
			if err != nil {
				return err
			}
			if so.outDir != "" {
				sb, err := security.DefaultSandbox()
				if err != nil {
					return err
				}
				if err := sb.Check(so.outDir); err != nil {
					return err
				}
			}

			res, err := simulate(b, so)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "cycles:     %d (%v simulated)\n", res.Cycles, time.Duration(res.Cycles)*b.cfg.Period())
			fmt.Fprintf(w, "cells:      %d (complete: %t)\n", res.Cells, res.Complete)
			fmt.Fprintf(w, "contacts:   %d\n", res.Contacts)
			fmt.Fprintf(w, "lowest z:   %.5f m\n", res.MinZ)
			fmt.Fprintf(w, "peak force: %.3f N\n", res.PeakForce)
			fmt.Fprintf(w, "last bias:  %.4f N over %d samples\n", res.Bias.Value, res.Bias.Samples)

			if so.outDir == "" {
				return nil
			}
			if err := os.MkdirAll(so.outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output dir: %w", err)
			}
			zPath := filepath.Join(so.outDir, "z.png")
			if err := plotHeights(res.Records, zPath); err != nil {
				return err
			}
			fPath := filepath.Join(so.outDir, "force.png")
			if err := plotForce(res.Records, fPath); err != nil {
				return err
			}
			fmt.Fprintf(w, "wrote %s and %s\n", zPath, fPath)
			return nil
		},
	}
	cmd.Flags().IntVarP(&so.cells, "cells", "n", 1, "Stop after this many cells (0 runs the whole raster)")
	cmd.Flags().DurationVar(&so.maxTime, "max-time", 30*time.Minute, "Give up after this much simulated time")
	cmd.Flags().Uint64Var(&so.seed, "seed", 1, "Sensor noise seed")
	cmd.Flags().Float64Var(&so.noise, "noise", sim.DefaultRigConfig().NoiseStdDev, "Sensor noise standard deviation in N")
	cmd.Flags().StringVarP(&so.outDir, "out-dir", "o", "", "Write z.png and force.png traces here")
	return cmd
}

// simulate runs the configured controller on a simulated rig homed at the
// bench's zero pose, one cycle per period of virtual time.
func simulate(b *bench, so simOptions) (simResult, error) {
	if so.cells < 0 {
		return simResult{}, fmt.Errorf("cells must not be negative, got %d", so.cells)
	}
	if so.maxTime <= 0 {
		return simResult{}, errors.New("max-time must be positive")
	}

	clock := timeutil.NewMockClock(simEpoch)
	filter := wrench.NewFilter(b.cfg.BiasSamples)
	ctrl := palpation.NewController(filter)
	if err := ctrl.Configure(b.cfg, b.est); err != nil {
		return simResult{}, err
	}

	rc := sim.DefaultRigConfig().WithHome(b.home)
	rc.Seed = so.seed
	rc.NoiseStdDev = so.noise
	rig, err := sim.NewRig(rc, clock, filter)
	if err != nil {
		return simResult{}, err
	}

	trace := &runner.Trace{}
	r, err := runner.New(runner.Config{
		Controller:     ctrl,
		Joints:         rig,
		Commands:       rig,
		Records:        trace,
		Clock:          clock,
		ExitOnComplete: true,
	})
	if err != nil {
		return simResult{}, err
	}

	res := simResult{MinZ: math.Inf(1)}
	limit := int(so.maxTime / r.Period())
	for res.Cycles < limit {
		n, err := r.RunCycles(clock, 1)
		if err != nil {
			return simResult{}, err
		}
		res.Cycles += n
		out, _ := r.Last()
		if out.Complete || (so.cells > 0 && out.Record.Index >= so.cells) {
			break
		}
	}

	res.Records = trace.Records()
	prevContact := false
	for _, rec := range res.Records {
		if rec.Contact && !prevContact {
			res.Contacts++
		}
		prevContact = rec.Contact
		res.MinZ = math.Min(res.MinZ, rec.CurrentZ)
		res.PeakForce = math.Max(res.PeakForce, math.Abs(rec.ForceZ))
	}
	if out, ok := r.Last(); ok {
		res.Cells = out.Record.Index
		res.Complete = out.Complete
	}
	res.Bias = filter.Bias()
	if st := r.Stats(); st.Errors > 0 {
		return res, fmt.Errorf("%d cycles failed", st.Errors)
	}
	return res, nil
}
