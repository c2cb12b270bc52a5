package telemetry

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/palpation/internal/palpation"
)

func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestViewCommand(t *testing.T) {
	v := ViewCommand(sampleCommand())
	assert.Equal(t, "base_link", v.FrameID)
	assert.Equal(t, [3]float64{0.1, -0.2, 0.095}, v.Position)
	assert.Equal(t, [4]float64{1, 0, 0, 0}, v.Orientation)
	assert.Equal(t, "2026-03-01T12:00:00.123456Z", v.Stamp)
}

func TestAdminRoutes_Status(t *testing.T) {
	e := NewEmitter(8, 8)
	httpMux := http.NewServeMux()
	e.AttachAdminRoutes(httpMux, func() any { return map[string]string{"phase": "Palpate"} })

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/palpation-status"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var empty map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &empty))
	assert.Nil(t, empty["record"])

	e.Emit(sampleRecord())
	e.SendCommand(sampleCommand())
	e.Flush()

	w = httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/palpation-status"))
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Record     palpation.Record  `json:"record"`
		Command    CommandView       `json:"command"`
		Clients    map[string]int    `json:"clients"`
		Controller map[string]string `json:"controller"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 7, got.Record.Index)
	assert.Equal(t, palpation.Palpate, got.Record.Phase)
	assert.Equal(t, "base_link", got.Command.FrameID)
	assert.Equal(t, 0, got.Clients[StreamRecords])
	assert.Equal(t, "Palpate", got.Controller["phase"])
}

func TestAdminRoutes_Chart(t *testing.T) {
	e := NewEmitter(64, 64)
	httpMux := http.NewServeMux()
	e.AttachAdminRoutes(httpMux, nil)

	for i := 0; i < 20; i++ {
		rec := sampleRecord()
		rec.Elapsed = float64(i) * 0.002
		e.Emit(rec)
	}
	e.Flush()

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/palpation-chart?n=10"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	assert.Contains(t, body, "current_z")
	assert.Contains(t, body, "force_z")
	assert.Contains(t, body, "samples=10")

	for _, q := range []string{"n=0", "n=-3", "n=abc"} {
		w = httptest.NewRecorder()
		httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/palpation-chart?"+q))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestAdminRoutes_ChartEmpty(t *testing.T) {
	e := NewEmitter(4, 4)
	httpMux := http.NewServeMux()
	e.AttachAdminRoutes(httpMux, nil)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/palpation-chart"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "no records yet")
}

func TestAdminRoutes_Tail(t *testing.T) {
	e := NewEmitter(8, 8)
	httpMux := http.NewServeMux()
	e.AttachAdminRoutes(httpMux, nil)
	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/palpation-tail")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": ping\n", line)

	e.Emit(sampleRecord())
	e.Flush()

	got := make(chan string, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(got)
				return
			}
			if strings.HasPrefix(line, "data: ") {
				got <- strings.TrimPrefix(strings.TrimSpace(line), "data: ")
				return
			}
		}
	}()
	select {
	case data := <-got:
		var rec palpation.Record
		require.NoError(t, json.Unmarshal([]byte(data), &rec))
		assert.Equal(t, 7, rec.Index)
		assert.InDelta(t, 0.0952, rec.CurrentZ, 1e-12)
	case <-time.After(2 * time.Second):
		t.Fatal("no SSE record relayed")
	}

	e.Records().Close()
}

func TestAdminRoutes_TailMethod(t *testing.T) {
	e := NewEmitter(4, 4)
	httpMux := http.NewServeMux()
	e.AttachAdminRoutes(httpMux, nil)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/palpation-tail"))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
