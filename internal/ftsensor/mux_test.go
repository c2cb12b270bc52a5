package ftsensor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/wrench"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type recordingSink struct {
	mu  sync.Mutex
	got []wrench.Wrench
}

func (r *recordingSink) Ingest(w wrench.Wrench) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, w)
}

func (r *recordingSink) samples() []wrench.Wrench {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wrench.Wrench(nil), r.got...)
}

func startMux(t *testing.T, sink Sink) (*Mux[*PipePort], *PipePort, chan error, context.CancelFunc) {
	t.Helper()
	ignore := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, ignore) })
	port := NewPipePort()
	mux := NewMux(port, sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	return mux, port, done, cancel
}

func TestMux_DecodesIntoSink(t *testing.T) {
	sink := &recordingSink{}
	mux, port, done, cancel := startMux(t, sink)
	defer cancel()

	before := testutil.ToFloat64(monitoring.WrenchSamples.WithLabelValues("serial"))
	badBefore := testutil.ToFloat64(monitoring.WrenchParseErrors.WithLabelValues("serial"))

	require.NoError(t, port.Feed("# banner"))
	require.NoError(t, port.Feed("0,0,-0.5,0,0,0"))
	require.NoError(t, port.Feed("garbage,1,2"))
	require.NoError(t, port.Feed(`{"fz": -0.75}`))
	require.NoError(t, port.Close())

	select {
	case err := <-done:
		require.NoError(t, err, "EOF should end Monitor cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after port close")
	}

	got := sink.samples()
	require.Len(t, got, 2)
	assert.Equal(t, -0.5, got[0].Force.Z)
	assert.Equal(t, -0.75, got[1].Force.Z)

	latest, ok := mux.Latest()
	require.True(t, ok)
	assert.Equal(t, -0.75, latest.Force.Z)

	assert.Equal(t, before+2, testutil.ToFloat64(monitoring.WrenchSamples.WithLabelValues("serial")))
	assert.Equal(t, badBefore+1, testutil.ToFloat64(monitoring.WrenchParseErrors.WithLabelValues("serial")))
}

func TestMux_FeedsFilter(t *testing.T) {
	f := wrench.NewFilter(3)
	f.SetSampling(true)
	_, port, done, cancel := startMux(t, f)
	defer cancel()

	for _, fz := range []string{"-0.1", "-0.2", "-0.3", "-1.0"} {
		require.NoError(t, port.Feed("0,0,"+fz+",0,0,0"))
	}
	require.NoError(t, port.Close())
	<-done

	b := f.Bias()
	require.True(t, b.Settled)
	assert.InDelta(t, -0.2, b.Value, 1e-12)
	assert.InDelta(t, -0.8, f.CorrectedFz(), 1e-12)
}

func TestMux_Subscribers(t *testing.T) {
	mux, port, done, cancel := startMux(t, nil)
	defer cancel()

	id1, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	require.NoError(t, port.Feed("1,2,3,4,5,6"))
	r1 := <-ch1
	assert.Equal(t, "1,2,3,4,5,6", r1.Raw)
	assert.NoError(t, r1.Err)
	assert.Equal(t, 3.0, r1.Wrench.Force.Z)
	assert.Equal(t, "1,2,3,4,5,6", (<-ch2).Raw)

	mux.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open, "unsubscribed channel should be closed")
	mux.Unsubscribe(id1) // second call is a no-op

	require.NoError(t, port.Feed("# banner"))
	assert.ErrorIs(t, (<-ch2).Err, ErrSkipLine)

	require.NoError(t, mux.Close())
	_, open = <-ch2
	assert.False(t, open, "Close should close remaining subscribers")

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}

	_, late := mux.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscribing after Close yields a closed channel")
	assert.NoError(t, mux.Close(), "Close is idempotent")
}

func TestMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	sink := &recordingSink{}
	mux, port, done, cancel := startMux(t, sink)
	defer cancel()

	mux.Subscribe() // never drained
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, port.Feed("0,0,1,0,0,0"))
	}
	require.NoError(t, port.Close())
	<-done
	assert.Len(t, sink.samples(), subscriberBuffer+10)
}

func TestMux_ContextCancel(t *testing.T) {
	mux, _, done, cancel := startMux(t, nil)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor ignored cancellation")
	}
	_, late := mux.Subscribe()
	_, open := <-late
	assert.False(t, open, "cancellation closes the mux")
}

func TestMux_SendCommand(t *testing.T) {
	port := NewPipePort()
	mux := NewMux(port, nil)
	defer mux.Close()

	require.NoError(t, mux.SendCommand("BIAS"))
	require.NoError(t, mux.SendCommand("RATE 1000\n"))
	require.NoError(t, mux.Initialize("CSV ON", "STREAM"))
	assert.Equal(t, "BIAS\nRATE 1000\nCSV ON\nSTREAM\n", port.Written())

	port.WriteError = errors.New("unplugged")
	err := mux.Initialize("STREAM")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "STREAM"))
}

type shortWriter struct{ *PipePort }

func (s shortWriter) Write(b []byte) (int, error) { return len(b) - 1, nil }

func TestMux_ShortWrite(t *testing.T) {
	port := shortWriter{NewPipePort()}
	mux := NewMux(port, nil)
	defer mux.Close()
	assert.ErrorIs(t, mux.SendCommand("X"), ErrWriteFailed)
}

func TestMux_LatestBeforeData(t *testing.T) {
	mux := NewMux(NewPipePort(), nil)
	defer mux.Close()
	_, ok := mux.Latest()
	assert.False(t, ok)
}
