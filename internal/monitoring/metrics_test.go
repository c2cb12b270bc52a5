package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	before := testutil.ToFloat64(CycleTotal.WithLabelValues("Approach"))
	CycleTotal.WithLabelValues("Approach").Inc()
	if got := testutil.ToFloat64(CycleTotal.WithLabelValues("Approach")); got != before+1 {
		t.Errorf("palpation_cycles_total{phase=Approach} = %v, want %v", got, before+1)
	}

	PalpationIndex.Set(7)
	if got := testutil.ToFloat64(PalpationIndex); got != 7 {
		t.Errorf("palpation_index = %v, want 7", got)
	}

	if n := testutil.CollectAndCount(CycleDuration); n != 1 {
		t.Errorf("cycle duration collectors = %d, want 1", n)
	}
}
