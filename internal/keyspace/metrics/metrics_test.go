package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncExpiredSkipsNonPositive(t *testing.T) {
	before := testutil.ToFloat64(ExpiredKeys.WithLabelValues("0"))
	IncExpired("0", 0)
	IncExpired("0", -5)
	if after := testutil.ToFloat64(ExpiredKeys.WithLabelValues("0")); after != before {
		t.Fatalf("expected IncExpired to ignore non-positive n, got %v -> %v", before, after)
	}
	IncExpired("0", 3)
	if after := testutil.ToFloat64(ExpiredKeys.WithLabelValues("0")); after != before+3 {
		t.Fatalf("expected IncExpired(3) to add 3, got %v -> %v", before, after)
	}
}

func TestHitMissCounters(t *testing.T) {
	IncHit("1")
	IncMiss("1")
	if testutil.ToFloat64(KeyspaceHits.WithLabelValues("1")) == 0 {
		t.Fatal("expected IncHit to bump the hits counter")
	}
	if testutil.ToFloat64(KeyspaceMisses.WithLabelValues("1")) == 0 {
		t.Fatal("expected IncMiss to bump the misses counter")
	}
}

func TestSetRehashingGauge(t *testing.T) {
	SetRehashing("2", true)
	if got := testutil.ToFloat64(RehashInProgress.WithLabelValues("2")); got != 1 {
		t.Fatalf("expected 1 while rehashing, got %v", got)
	}
	SetRehashing("2", false)
	if got := testutil.ToFloat64(RehashInProgress.WithLabelValues("2")); got != 0 {
		t.Fatalf("expected 0 once rehash completes, got %v", got)
	}
}
