package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/palpation/internal/httputil"
	"github.com/banshee-data/palpation/internal/palpation"
)

// maxChartPoints caps the samples drawn by the chart route.
const maxChartPoints = 2000

// StatusFunc supplies extra fields for the status route, typically a
// snapshot of the controller.
type StatusFunc func() any

// Status is the body of the palpation-status route.
type Status struct {
	Record     *palpation.Record `json:"record"`
	Command    *CommandView      `json:"command"`
	Backlog    int               `json:"backlog"`
	Dropped    uint64            `json:"dropped"`
	Cleared    uint64            `json:"cleared"`
	Clients    map[string]int    `json:"clients"`
	Controller any               `json:"controller,omitempty"`
}

// CommandView is the JSON form of a pose command.
type CommandView struct {
	Stamp       string     `json:"stamp"`
	FrameID     string     `json:"frame_id"`
	Position    [3]float64 `json:"position"`
	Orientation [4]float64 `json:"orientation"` // x, y, z, w
}

// ViewCommand converts c to its JSON form.
func ViewCommand(c palpation.PoseCommand) CommandView {
	p, q := c.Pose.Position, c.Pose.Orientation
	return CommandView{
		Stamp:       c.Stamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		FrameID:     c.FrameID,
		Position:    [3]float64{p.X, p.Y, p.Z},
		Orientation: [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real},
	}
}

// Snapshot returns the current status.
func (e *Emitter) Snapshot(extra StatusFunc) Status {
	st := Status{
		Backlog: e.Backlog(),
		Dropped: e.Dropped(),
		Cleared: e.Cleared(),
		Clients: map[string]int{
			StreamRecords:  e.recordHub.Clients(),
			StreamCommands: e.commandHub.Clients(),
		},
	}
	if r, ok := e.recordHub.Latest(); ok {
		st.Record = &r
	}
	if c, ok := e.commandHub.Latest(); ok {
		v := ViewCommand(c)
		st.Command = &v
	}
	if extra != nil {
		st.Controller = extra()
	}
	return st
}

// AttachAdminRoutes registers the telemetry debug routes under /debug/.
func (e *Emitter) AttachAdminRoutes(mux *http.ServeMux, extra StatusFunc) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("palpation-status", "latest palpation record and command (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, e.Snapshot(extra))
	})

	debug.HandleFunc("palpation-chart", "recent z trajectory and contact force", func(w http.ResponseWriter, r *http.Request) {
		limit := maxChartPoints
		if s := r.URL.Query().Get("n"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httputil.BadRequest(w, "n must be a positive integer")
				return
			}
			limit = min(n, maxChartPoints)
		}
		history := e.recordHub.History()
		if len(history) > limit {
			history = history[len(history)-limit:]
		}
		var buf bytes.Buffer
		if err := renderChart(&buf, history); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})

	debug.HandleSilentFunc("palpation-tail", func(w http.ResponseWriter, r *http.Request) {
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

		_, ch, cancel := e.recordHub.Subscribe(0)
		defer cancel()

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case rec, ok := <-ch:
				if !ok {
					return
				}
				b, err := json.Marshal(rec)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

func renderChart(buf *bytes.Buffer, history []palpation.Record) error {
	x := make([]string, len(history))
	current := make([]opts.LineData, len(history))
	target := make([]opts.LineData, len(history))
	force := make([]opts.LineData, len(history))
	for i, r := range history {
		x[i] = strconv.FormatFloat(r.Elapsed, 'f', 3, 64)
		current[i] = opts.LineData{Value: r.CurrentZ}
		target[i] = opts.LineData{Value: r.TargetZ}
		force[i] = opts.LineData{Value: r.ForceZ}
	}

	subtitle := "no records yet"
	if n := len(history); n > 0 {
		last := history[n-1]
		subtitle = fmt.Sprintf("cell=%d phase=%s samples=%d", last.Index, last.Phase, n)
	}

	z := charts.NewLine()
	z.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Palpation", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "End-effector z", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "z (m)"}),
	)
	z.SetXAxis(x).
		AddSeries("current_z", current).
		AddSeries("target_z", target)

	f := charts.NewLine()
	f.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Bias-corrected force z"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "N"}),
	)
	f.SetXAxis(x).AddSeries("force_z", force)

	page := components.NewPage()
	page.AddCharts(z, f)
	return page.Render(buf)
}
