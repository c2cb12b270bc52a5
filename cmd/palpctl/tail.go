package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/palpation/internal/palpation"
	"github.com/banshee-data/palpation/internal/telemetry"
)

// errEnough ends a stream once the requested count has been printed.
var errEnough = errors.New("enough")

func newTailCmd() *cobra.Command {
	var (
		addr     string
		count    int
		commands bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream records (CSV) or pose commands (JSON lines) from a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := telemetry.Dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			w := cmd.OutOrStdout()
			seen := 0
			more := func() error {
				seen++
				if count > 0 && seen >= count {
					return errEnough
				}
				return nil
			}
			if commands {
				err = client.FollowCommands(cmd.Context(), func(c palpation.PoseCommand) error {
					b, err := json.Marshal(telemetry.ViewCommand(c))
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\n", b)
					return more()
				})
			} else {
				fmt.Fprintln(w, strings.Join(palpation.RecordFields, ","))
				err = client.FollowRecords(cmd.Context(), func(r palpation.Record) error {
					fmt.Fprintln(w, formatRecord(r))
					return more()
				})
			}
			return streamEnd(err)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "localhost:50051", "gRPC telemetry address of the daemon")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many messages (0 follows until interrupted)")
	cmd.Flags().BoolVar(&commands, "commands", false, "Stream pose commands instead of records")
	return cmd
}

func formatRecord(r palpation.Record) string {
	vals := r.Values()
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// streamEnd maps the normal ways a tail finishes to nil.
func streamEnd(err error) error {
	switch {
	case err == nil, errors.Is(err, errEnough), errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		return nil
	case status.Code(err) == codes.Canceled:
		return nil
	}
	return err
}
