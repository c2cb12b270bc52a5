package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/palpation/internal/httputil"
	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/palpation"
	"github.com/banshee-data/palpation/internal/telemetry"
)

const defaultsPath = "../../config/palpation.defaults.json"

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func loadBench(t *testing.T, path string) *bench {
	t.Helper()
	b, err := (&rootOptions{configPath: path}).load()
	require.NoError(t, err)
	return b
}

// oneCellConfig writes a raster of a single cell.
func oneCellConfig(t *testing.T) string {
	t.Helper()
	robot, err := filepath.Abs(filepath.Join("..", "..", "config", "gantry.robot.yaml"))
	require.NoError(t, err)
	b, err := json.Marshal(map[string]any{
		"robot_description":  robot,
		"grid_columns":       1,
		"grid_x_bound":       0.001,
		"palpation_duration": "1s",
		"surface_reference":  "start",
		"surface_z":          -0.005,
		"surface_offset":     0.0045,
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "one-cell.json")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func TestCheck(t *testing.T) {
	out, err := execute(t, "check", "-c", defaultsPath)
	require.NoError(t, err)
	assert.Contains(t, out, "base_link -> probe_tip (3 joints: x_axis, y_axis, z_axis)")
	assert.Regexp(t, `home:        \(-?0\.00000, -?0\.00000, 0\.10000\)`, out)
	assert.Contains(t, out, "raster:      361 cells, 19 columns of 2.5 mm")
	assert.Contains(t, out, "stop height: 0.09050 m")
	assert.Contains(t, out, "loop:        500 Hz (2ms)")
}

func TestCheck_BadConfig(t *testing.T) {
	_, err := execute(t, "check", "-c", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = execute(t, "check", "extra-arg", "-c", defaultsPath)
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	png := filepath.Join(t.TempDir(), "raster.png")
	out, err := execute(t, "plan", "-c", defaultsPath, "--out", png, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "361 cells from (")
	assert.Contains(t, out, "  19  x=0.00250  y=0.00000")
	assert.Contains(t, out, " 360  x=0.04500  y=0.04500")

	info, err := os.Stat(png)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPlan_OutputChecks(t *testing.T) {
	_, err := execute(t, "plan", "-c", defaultsPath, "--out", filepath.Join(t.TempDir(), "raster.jpg"))
	assert.ErrorContains(t, err, ".png")

	_, err = execute(t, "plan", "-c", defaultsPath, "--out", "/proc/raster.png")
	assert.Error(t, err)
}

func TestSimulate_FirstCell(t *testing.T) {
	b := loadBench(t, defaultsPath)
	res, err := simulate(b, simOptions{cells: 1, maxTime: time.Minute, seed: 1, noise: 0.01})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Cells)
	assert.False(t, res.Complete)
	assert.Equal(t, 1, res.Contacts)
	assert.Len(t, res.Records, res.Cycles)
	assert.Less(t, res.MinZ, b.cfg.SurfaceHeight(b.home.Z), "probing dips below the stop height")
	assert.Greater(t, res.PeakForce, -b.cfg.ContactThreshold)
	assert.True(t, res.Bias.Settled)
	assert.InDelta(t, 0.8, res.Bias.Value, 0.01)
}

func TestSimulate_WholeRaster(t *testing.T) {
	b := loadBench(t, oneCellConfig(t))
	res, err := simulate(b, simOptions{cells: 0, maxTime: time.Minute, seed: 7})
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, 1, res.Cells)
}

func TestSimulate_Options(t *testing.T) {
	b := loadBench(t, defaultsPath)
	_, err := simulate(b, simOptions{cells: -1, maxTime: time.Second})
	assert.Error(t, err)
	_, err = simulate(b, simOptions{cells: 1})
	assert.Error(t, err)

	res, err := simulate(b, simOptions{cells: 1, maxTime: 100 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Cycles, "stops at max-time")
	assert.Equal(t, 0, res.Cells)
}

func TestSimulateCmd_WritesTraces(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")
	out, err := execute(t, "simulate", "-c", oneCellConfig(t), "-n", "0", "--out-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "cells:      1 (complete: true)")
	assert.Contains(t, out, "contacts:   1")

	for _, name := range []string{"z.png", "force.png"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
}

func TestStatus(t *testing.T) {
	rec := palpation.Record{Index: 4, Phase: palpation.Palpate, Elapsed: 12.5, CurrentZ: 0.0921, TargetZ: 0.0905, ForceZ: -0.61, Contact: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/debug/palpation-status" {
			httputil.NotFound(w, "no route")
			return
		}
		httputil.WriteJSONOK(w, telemetry.Status{
			Record:  &rec,
			Backlog: 2,
			Cleared: 40,
			Clients: map[string]int{telemetry.StreamRecords: 1},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--addr", srv.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, out, "record:   cell 4 Palpate t=12.500s z=0.09210 target=0.09050 fz=-0.610 N contact=true")
	assert.Contains(t, out, "command:  none yet")
	assert.Contains(t, out, "queue:    backlog 2, dropped 0, cleared 40")
	assert.Contains(t, out, "clients:  records 1, commands 0")

	out, err = execute(t, "status", "--addr", srv.URL, "--json")
	require.NoError(t, err)
	var st telemetry.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 4, st.Record.Index)
}

func TestStatus_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := execute(t, "status", "--addr", url, "--timeout", "1s")
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	e := telemetry.NewEmitter(16, 16)
	l, err := telemetry.Listen("127.0.0.1:0", e)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)
	go e.Run(ctx)
	go func() {
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				e.Emit(palpation.Record{Index: 2, Phase: palpation.Approach, CurrentZ: 0.095})
				e.SendCommand(palpation.PoseCommand{FrameID: "base_link", Stamp: time.Unix(int64(i), 0)})
			}
		}
	}()

	out, err := execute(t, "tail", "--addr", l.Addr(), "-n", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, strings.Join(palpation.RecordFields, ","), lines[0])
	assert.Equal(t, "0,0.095,0,0,0,2,2,0,0", lines[1])

	out, err = execute(t, "tail", "--addr", l.Addr(), "-n", "2", "--commands")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var view telemetry.CommandView
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &view))
	assert.Equal(t, "base_link", view.FrameID)
}

func TestStreamEnd(t *testing.T) {
	assert.NoError(t, streamEnd(nil))
	assert.NoError(t, streamEnd(errEnough))
	assert.NoError(t, streamEnd(context.Canceled))
	assert.Error(t, streamEnd(os.ErrNotExist))
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "palpctl version")
}
