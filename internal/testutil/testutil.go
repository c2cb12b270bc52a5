// Package testutil provides shared test fixtures: the bench gantry
// description, a pose estimator built from it, float assertions and
// loopback HTTP requests for debug routes.
package testutil

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/palpation/internal/kinematics"
)

// GantryYAML is a three-axis cartesian gantry whose probe tip sits at
// (0, 0, 0.1) with every joint at zero.
const GantryYAML = `
name: test_gantry
links:
  - name: base_link
  - name: x_carriage
  - name: y_carriage
  - name: z_carriage
  - name: probe_tip
joints:
  - name: x_axis
    type: prismatic
    parent: base_link
    child: x_carriage
    origin: {xyz: [0, 0, 0.35]}
    axis: [1, 0, 0]
  - name: y_axis
    type: prismatic
    parent: x_carriage
    child: y_carriage
    axis: [0, 1, 0]
  - name: z_axis
    type: prismatic
    parent: y_carriage
    child: z_carriage
    axis: [0, 0, 1]
  - name: probe_mount
    type: fixed
    parent: z_carriage
    child: probe_tip
    origin: {xyz: [0, 0, -0.25], rpy: [3.141592653589793, 0, 0]}
`

// GantryJoints is the configured joint order for GantryYAML.
var GantryJoints = []string{"x_axis", "y_axis", "z_axis"}

// GantryHome is the tip position with every joint at zero.
var GantryHome = r3.Vec{X: 0, Y: 0, Z: 0.1}

// GantryEstimator builds a pose estimator for GantryYAML.
func GantryEstimator(t testing.TB) *kinematics.PoseEstimator {
	t.Helper()
	desc, err := kinematics.ParseDescription([]byte(GantryYAML))
	if err != nil {
		t.Fatalf("parse gantry: %v", err)
	}
	chain, err := kinematics.BuildChain(desc, "base_link", "probe_tip")
	if err != nil {
		t.Fatalf("build gantry chain: %v", err)
	}
	est, err := kinematics.NewPoseEstimator(chain, GantryJoints)
	if err != nil {
		t.Fatalf("gantry estimator: %v", err)
	}
	return est
}

// AssertNear fails when |got-want| > tol.
func AssertNear(t testing.TB, label string, got, want, tol float64) {
	t.Helper()
	if math.IsNaN(got) || math.Abs(got-want) > tol {
		t.Errorf("%s = %.9g, want %.9g ± %g", label, got, want, tol)
	}
}

// AssertVecNear compares each component of got and want.
func AssertVecNear(t testing.TB, label string, got, want r3.Vec, tol float64) {
	t.Helper()
	if r3.Norm(r3.Sub(got, want)) > tol {
		t.Errorf("%s = %+v, want %+v ± %g", label, got, want, tol)
	}
}

// AssertStatusCode checks an HTTP status code.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// LocalRequest returns a request that appears to come from loopback, which
// the tsweb debug handler requires.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}
