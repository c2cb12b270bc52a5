package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op that must not reach the previous logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestComponent(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Component("Controller")
	logf("phase %s -> %s", "GridMove", "Approach")

	// swapping the logger after construction still takes effect
	var swapped string
	SetLogger(func(format string, v ...interface{}) { swapped = fmt.Sprintf(format, v...) })
	logf("index=%d", 3)

	if len(lines) != 1 || lines[0] != "[Controller] phase GridMove -> Approach" {
		t.Errorf("lines = %q", lines)
	}
	if swapped != "[Controller] index=3" {
		t.Errorf("swapped logger got %q", swapped)
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()
	Logf("test message: %s", "value")
}
