package orchestrator

import (
	"testing"
	"time"
)

func TestCadences_NormalizedFillsDefaults(t *testing.T) {
	got := Cadences{}.Normalized()
	if got.Fast != 30*time.Second {
		t.Errorf("fast = %v, want 30s", got.Fast)
	}
	if got.Slow != 90*time.Second {
		t.Errorf("slow = %v, want 90s", got.Slow)
	}
	if got.Cost != time.Hour {
		t.Errorf("cost = %v, want 1h", got.Cost)
	}
	if got.Anomaly != 2*time.Minute {
		t.Errorf("anomaly = %v, want 2m", got.Anomaly)
	}
}

func TestCadences_NormalizedPreservesSetValues(t *testing.T) {
	cfg := Cadences{Fast: 5 * time.Second, Slow: 10 * time.Second, Cost: time.Minute, Anomaly: time.Second}
	got := cfg.Normalized()
	if got != cfg {
		t.Errorf("expected explicit cadences preserved, got %+v", got)
	}
}

func TestOrchestrator_AddStatAccumulatesAndIgnoresZero(t *testing.T) {
	o := &Orchestrator{stats: make(map[string]int64)}
	o.addStat("x", 3)
	o.addStat("x", 2)
	o.addStat("y", 0)
	if o.stats["x"] != 5 {
		t.Errorf("x = %d, want 5", o.stats["x"])
	}
	if _, ok := o.stats["y"]; ok {
		t.Error("expected zero-valued stat not to be recorded")
	}
}
