package dedup

import "testing"

func TestObserveFirstDetectionReports(t *testing.T) {
	st := NewState(2.5, 10)
	if got := Observe(st, 0.4); got != Report {
		t.Fatalf("expected first detection to report, got %s", got)
	}
}

func TestObserveCooldown(t *testing.T) {
	st := NewState(2.5, 10)
	steps := []struct {
		now  float64
		want Decision
	}{
		{10.0, Report},
		{11.0, Suppress},
		{12.4, Suppress},
		{12.5, Report},
		{14.9, Suppress},
		{20.0, Report},
	}
	for _, s := range steps {
		if got := Observe(st, s.now); got != s.want {
			t.Fatalf("at %.1f: expected %s, got %s", s.now, s.want, got)
		}
	}
	if last, ok := st.LastReported(); !ok || last != 20.0 {
		t.Fatalf("unexpected last reported %v %v", last, ok)
	}
}

func TestCooldownProperty(t *testing.T) {
	const cooldown = 2.5
	times := []float64{0, 0.5, 1.1, 2.4, 2.6, 3.0, 5.2, 5.3, 9.0, 9.1, 9.2, 11.8, 12.0}
	st := NewState(cooldown, 4)
	reported := make([]bool, len(times))
	for i, now := range times {
		reported[i] = Observe(st, now) == Report
	}
	for i := range times {
		for j := i + 1; j < len(times); j++ {
			gap := times[j] - times[i]
			if gap < cooldown && reported[i] && reported[j] {
				t.Fatalf("events %.1f and %.1f both reported within cooldown", times[i], times[j])
			}
			if gap > cooldown && j == i+1 && !reported[j] {
				t.Fatalf("event %.1f should be reportable after a %.1fs gap", times[j], gap)
			}
		}
	}
}

func TestRingIsBoundedAndPruned(t *testing.T) {
	st := NewState(1, 3)
	for _, now := range []float64{0, 0.1, 0.2, 0.3, 0.4} {
		Observe(st, now)
	}
	if st.RecentCount() != 3 {
		t.Fatalf("expected ring capped at 3, got %d", st.RecentCount())
	}
	recent := st.Recent()
	if recent[0] != 0.2 || recent[2] != 0.4 {
		t.Fatalf("unexpected ring contents %v", recent)
	}

	Observe(st, 2.35)
	recent = st.Recent()
	if len(recent) != 2 || recent[0] != 0.4 || recent[1] != 2.35 {
		t.Fatalf("expected stale detections pruned, got %v", recent)
	}
}

func TestReset(t *testing.T) {
	st := NewState(0, 0)
	Observe(st, 1)
	st.Reset()
	if st.RecentCount() != 0 {
		t.Fatalf("expected empty ring after reset")
	}
	if got := Observe(st, 1.5); got != Report {
		t.Fatalf("expected report after reset, got %s", got)
	}
}
