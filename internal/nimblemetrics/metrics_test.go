package nimblemetrics

import (
	"testing"
	"time"
)

func TestRateCounterComputesPerSecondRate(t *testing.T) {
	r := NewRateCounter(time.Second)
	start := time.Unix(0, 0)
	r.Add(start, 10)

	rate := r.RatePerSecond(start.Add(500 * time.Millisecond))
	if rate < 19.9 || rate > 20.1 {
		t.Fatalf("expected ~20/s (10 units over 0.5s), got %f", rate)
	}
}

func TestWindowAggregateDropsOldestBeyondCapacity(t *testing.T) {
	w := NewWindowAggregate(3)
	for _, v := range []float64{1, 2, 3, 4} {
		w.Observe(v)
	}

	min, avg, max := w.MinAvgMax()
	if min != 2 || max != 4 {
		t.Fatalf("expected window [2,3,4], got min=%f max=%f", min, max)
	}
	if avg != 3 {
		t.Fatalf("expected avg 3, got %f", avg)
	}
}

func TestWindowAggregateEmpty(t *testing.T) {
	w := NewWindowAggregate(5)
	min, avg, max := w.MinAvgMax()
	if min != 0 || avg != 0 || max != 0 {
		t.Fatalf("expected all zero for empty window, got %f %f %f", min, avg, max)
	}
}

func TestEstimateRTTMillisWraps(t *testing.T) {
	// now slightly after echo: normal case.
	if rtt := EstimateRTTMillis(1050, 1000); rtt != 50 {
		t.Fatalf("expected rtt 50, got %d", rtt)
	}
	// now wrapped around 65536 boundary relative to echo: still a small
	// positive delta thanks to uint16 wraparound subtraction.
	if rtt := EstimateRTTMillis(10, 65530); rtt != 16 {
		t.Fatalf("expected wrapped rtt 16, got %d", rtt)
	}
}
