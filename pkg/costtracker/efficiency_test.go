package costtracker

import "testing"

func TestResolveTrend_Degrading(t *testing.T) {
	if got := resolveTrend(1000, 1200); got != TrendDegrading {
		t.Errorf("got %v, want degrading", got)
	}
}

func TestResolveTrend_Improving(t *testing.T) {
	if got := resolveTrend(1000, 800); got != TrendImproving {
		t.Errorf("got %v, want improving", got)
	}
}

func TestResolveTrend_Stable(t *testing.T) {
	if got := resolveTrend(1000, 1050); got != TrendStable {
		t.Errorf("got %v, want stable", got)
	}
}

func TestResolveTrend_NoFirstHalfActivity(t *testing.T) {
	if got := resolveTrend(0, 0); got != TrendStable {
		t.Errorf("got %v, want stable when nothing happened either half", got)
	}
	if got := resolveTrend(0, 500); got != TrendDegrading {
		t.Errorf("got %v, want degrading when cost appears from nothing", got)
	}
}
