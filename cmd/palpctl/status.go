package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/palpation/internal/httputil"
	"github.com/banshee-data/palpation/internal/telemetry"
)

func newStatusCmd() *cobra.Command {
	var (
		addr    string
		raw     bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest record and command from a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			url := strings.TrimRight(addr, "/") + "/debug/palpation-status"
			var st telemetry.Status
			if err := httputil.GetJSON(cmd.Context(), client, url, &st); err != nil {
				return fmt.Errorf("status from %s: %w", addr, err)
			}
			w := cmd.OutOrStdout()
			if raw {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(w, st)
			return nil
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "http://localhost:8080", "Debug HTTP address of the daemon")
	cmd.Flags().BoolVar(&raw, "json", false, "Print the raw status JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func printStatus(w io.Writer, st telemetry.Status) {
	if r := st.Record; r != nil {
		fmt.Fprintf(w, "record:   cell %d %s t=%.3fs z=%.5f target=%.5f fz=%.3f N contact=%t\n",
			r.Index, r.Phase, r.Elapsed, r.CurrentZ, r.TargetZ, r.ForceZ, r.Contact)
	} else {
		fmt.Fprintln(w, "record:   none yet")
	}
	if c := st.Command; c != nil {
		fmt.Fprintf(w, "command:  %s in %s at (%.5f, %.5f, %.5f)\n",
			c.Stamp, c.FrameID, c.Position[0], c.Position[1], c.Position[2])
	} else {
		fmt.Fprintln(w, "command:  none yet")
	}
	fmt.Fprintf(w, "queue:    backlog %d, dropped %d, cleared %d\n", st.Backlog, st.Dropped, st.Cleared)
	fmt.Fprintf(w, "clients:  records %d, commands %d\n",
		st.Clients[telemetry.StreamRecords], st.Clients[telemetry.StreamCommands])
}
