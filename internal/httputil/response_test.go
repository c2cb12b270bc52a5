package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banshee-data/palpation/internal/monitoring"
)

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(http.ResponseWriter)
		code  int
		msg   string
	}{
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "n must be a positive integer") }, http.StatusBadRequest, "n must be a positive integer"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "render error") }, http.StatusInternalServerError, "render error"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no sample received yet") }, http.StatusNotFound, "no sample received yet"},
		{"custom", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusConflict, "already active") }, http.StatusConflict, "already active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %s, want application/json", ct)
			}
			var body ErrorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.Error != tt.msg {
				t.Errorf("error = %q, want %q", body.Error, tt.msg)
			}
		})
	}
}

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]float64{"current_z": 0.0952})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]float64
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["current_z"] != 0.0952 {
		t.Errorf("current_z = %v, want 0.0952", resp["current_z"])
	}
}

func TestWriteJSON_EncodeFailureIsLogged(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()

	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, math.NaN())

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "[HTTP] ") {
		t.Errorf("log lines = %q", lines)
	}
}
