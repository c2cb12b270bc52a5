package ftsensor

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/palpation/internal/httputil"
)

// AttachAdminRoutes registers sensor debugging endpoints under /debug/. They
// are reachable only from localhost or the tailnet.
func (s *Mux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("ft-latest", "latest decoded force/torque sample", func(w http.ResponseWriter, r *http.Request) {
		latest, ok := s.Latest()
		if !ok {
			httputil.NotFound(w, "no sample received yet")
			return
		}
		httputil.WriteJSONOK(w, map[string][3]float64{
			"force":  {latest.Force.X, latest.Force.Y, latest.Force.Z},
			"torque": {latest.Torque.X, latest.Torque.Y, latest.Torque.Z},
		})
	})

	debug.HandleSilentFunc("ft-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			httputil.BadRequest(w, "missing command")
			return
		}
		if err := s.SendCommand(command); err != nil {
			httputil.InternalServerError(w, "failed to write command")
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to sensor", command))
	})

	debug.HandleSilentFunc("ft-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case rd, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", rd.Raw); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
