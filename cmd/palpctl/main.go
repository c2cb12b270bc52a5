// Command palpctl checks, plans, simulates and inspects palpation runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/palpation/internal/config"
	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/palpation"
	"github.com/banshee-data/palpation/internal/sim"
	"github.com/banshee-data/palpation/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "palpctl",
		Short: "Plan, simulate and inspect force-guided palpation runs",
		Long: `palpctl works against the same JSON configuration and robot description
as the palpation daemon. It can validate them, draw the raster, run the
controller against the simulated gantry, and read a live daemon's telemetry.`,
		Version:      version.String(),
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", config.DefaultConfigPath, "Path to the palpation JSON config")

	cmd.AddCommand(
		newCheckCmd(o),
		newPlanCmd(o),
		newSimulateCmd(o),
		newTailCmd(),
		newStatusCmd(),
	)
	return cmd
}

// bench is a loaded and resolved configuration.
type bench struct {
	path string
	pc   *config.PalpationConfig
	cfg  palpation.Config
	est  *kinematics.PoseEstimator
	home r3.Vec
}

func (o *rootOptions) load() (*bench, error) {
	pc, err := config.LoadPalpationConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := pc.Resolve()
	if err != nil {
		return nil, err
	}
	est, err := pc.LoadEstimator()
	if err != nil {
		return nil, fmt.Errorf("failed to load robot description: %w", err)
	}
	home, err := sim.HomeFromEstimator(est, len(est.JointNames()))
	if err != nil {
		return nil, err
	}
	return &bench{path: o.configPath, pc: pc, cfg: cfg, est: est, home: home}, nil
}
