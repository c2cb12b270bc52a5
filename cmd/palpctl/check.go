package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCheckCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and robot description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.load()
			if err != nil {
				return err
			}
			printBench(cmd, b)
			return nil
		},
	}
}

func printBench(cmd *cobra.Command, b *bench) {
	out := cmd.OutOrStdout()
	cfg := b.cfg
	cells := cfg.Sequencer().Cells(b.home)
	names := b.est.JointNames()

	fmt.Fprintf(out, "config:      %s\n", b.path)
	fmt.Fprintf(out, "robot:       %s\n", b.pc.GetRobotDescription())
	fmt.Fprintf(out, "chain:       %s -> %s (%d joints: %s)\n",
		b.pc.GetBaseLink(), b.pc.GetEndEffectorLink(), len(names), strings.Join(names, ", "))
	fmt.Fprintf(out, "home:        (%.5f, %.5f, %.5f)\n", b.home.X, b.home.Y, b.home.Z)
	fmt.Fprintf(out, "loop:        %g Hz (%v)\n", cfg.ControlRateHz, cfg.Period())
	fmt.Fprintf(out, "raster:      %d cells, %d columns of %.1f mm, x bound %.1f mm\n",
		len(cells), cfg.GridColumns, cfg.CellSize*1000, cfg.GridXBound*1000)
	fmt.Fprintf(out, "stop height: %.5f m (%s surface %.4f, offset %.4f)\n",
		cfg.SurfaceHeight(b.home.Z), cfg.SurfaceReference, cfg.SurfaceZ, cfg.SurfaceOffset)
	fmt.Fprintf(out, "contact:     fz < %.3f N, gates approach: %t\n", cfg.ContactThreshold, cfg.ContactGatesApproach)
	fmt.Fprintf(out, "probe:       %.2f mm at %g Hz for %v\n", cfg.PalpationAmplitude*1000, cfg.PalpationFrequency, cfg.PalpationDuration)
}
