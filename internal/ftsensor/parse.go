package ftsensor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/palpation/internal/wrench"
)

const (
	PayloadWrenchCSV  = "wrench_csv"
	PayloadWrenchJSON = "wrench_json"
	PayloadComment    = "comment"
	PayloadUnknown    = "unknown"
)

// ErrSkipLine marks lines that carry no sample, such as blanks, comments and
// sensor status banners.
var ErrSkipLine = errors.New("line carries no sample")

// ClassifyPayload returns a coarse type token for a sensor line.
func ClassifyPayload(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "" || strings.HasPrefix(line, "#"):
		return PayloadComment
	case strings.HasPrefix(line, "{"):
		return PayloadWrenchJSON
	case strings.ContainsAny(line[:1], "+-.0123456789"):
		return PayloadWrenchCSV
	default:
		return PayloadUnknown
	}
}

type jsonWrench struct {
	Fx *float64 `json:"fx"`
	Fy *float64 `json:"fy"`
	Fz *float64 `json:"fz"`
	Tx *float64 `json:"tx"`
	Ty *float64 `json:"ty"`
	Tz *float64 `json:"tz"`

	Force  *[3]float64 `json:"force"`
	Torque *[3]float64 `json:"torque"`
}

// ParseLine decodes one sensor line. It accepts six comma or whitespace
// separated values (fx fy fz tx ty tz), optionally preceded by a timestamp
// or sequence column, or a JSON object with either fx..tz keys or force and
// torque arrays.
func ParseLine(line string) (wrench.Wrench, error) {
	line = strings.TrimSpace(line)
	switch ClassifyPayload(line) {
	case PayloadComment, PayloadUnknown:
		return wrench.Wrench{}, ErrSkipLine
	case PayloadWrenchJSON:
		return parseJSON(line)
	default:
		return parseCSV(line)
	}
}

func parseCSV(line string) (wrench.Wrench, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	switch len(fields) {
	case 6:
	case 7:
		fields = fields[1:]
	default:
		return wrench.Wrench{}, fmt.Errorf("expected 6 or 7 fields, got %d", len(fields))
	}

	var v [6]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return wrench.Wrench{}, fmt.Errorf("field %d: %w", i, err)
		}
		v[i] = x
	}
	return fromArray(v), nil
}

func parseJSON(line string) (wrench.Wrench, error) {
	var j jsonWrench
	if err := json.Unmarshal([]byte(line), &j); err != nil {
		return wrench.Wrench{}, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if j.Force != nil {
		w := wrench.Wrench{Force: r3.Vec{X: j.Force[0], Y: j.Force[1], Z: j.Force[2]}}
		if j.Torque != nil {
			w.Torque = r3.Vec{X: j.Torque[0], Y: j.Torque[1], Z: j.Torque[2]}
		}
		return w, nil
	}
	if j.Fz == nil {
		// Status and configuration replies share the JSON framing.
		return wrench.Wrench{}, ErrSkipLine
	}
	get := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return fromArray([6]float64{get(j.Fx), get(j.Fy), get(j.Fz), get(j.Tx), get(j.Ty), get(j.Tz)}), nil
}

func fromArray(v [6]float64) wrench.Wrench {
	return wrench.Wrench{
		Force:  r3.Vec{X: v[0], Y: v[1], Z: v[2]},
		Torque: r3.Vec{X: v[3], Y: v[4], Z: v[5]},
	}
}
