package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/palpation/internal/security"
)

func newPlanCmd(o *rootOptions) *cobra.Command {
	var (
		out  string
		list bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the raster cells and optionally draw them to a PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := o.load()
			if err != nil {
				return err
			}
			if out != "" {
				sb, err := security.DefaultSandbox()
				if err != nil {
					return err
				}
				if err := sb.CheckOutput(out, ".png"); err != nil {
					return err
				}
			}

			cells := b.cfg.Sequencer().Cells(b.home)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%d cells from (%.5f, %.5f)\n", len(cells), b.home.X, b.home.Y)
			if list {
				for k, c := range cells {
					fmt.Fprintf(w, "%4d  x=%.5f  y=%.5f\n", k, c.X, c.Y)
				}
			}
			if out == "" {
				return nil
			}
			if err := plotRaster(cells, b.home, out); err != nil {
				return err
			}
			fmt.Fprintf(w, "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the raster as a PNG")
	cmd.Flags().BoolVar(&list, "list", false, "List every cell position")
	return cmd
}
