package anomaly

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

func testConfig() Config {
	return Config{}.Normalized()
}

func TestCheckFailureRate_SkipsBelowMinimumSample(t *testing.T) {
	if got := CheckFailureRate(testConfig(), 4, 4); got != nil {
		t.Errorf("expected nil with <5 runs, got %+v", got)
	}
}

func TestCheckFailureRate_Warning(t *testing.T) {
	got := CheckFailureRate(testConfig(), 10, 3)
	if got == nil || got.Severity != SeverityWarning {
		t.Fatalf("expected warning, got %+v", got)
	}
}

func TestCheckFailureRate_Critical(t *testing.T) {
	got := CheckFailureRate(testConfig(), 10, 5)
	if got == nil || got.Severity != SeverityCritical {
		t.Fatalf("expected critical, got %+v", got)
	}
}

func TestCheckFailureRate_BelowWarning(t *testing.T) {
	if got := CheckFailureRate(testConfig(), 10, 1); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestCheckCostSpike_SkipsZeroPrior(t *testing.T) {
	if got := CheckCostSpike(testConfig(), 5000, 0); got != nil {
		t.Errorf("expected nil with zero prior, got %+v", got)
	}
}

func TestCheckCostSpike_Warning(t *testing.T) {
	got := CheckCostSpike(testConfig(), 2100, 1000)
	if got == nil || got.Severity != SeverityWarning {
		t.Fatalf("expected warning, got %+v", got)
	}
}

func TestCheckCostSpike_Critical(t *testing.T) {
	got := CheckCostSpike(testConfig(), 3100, 1000)
	if got == nil || got.Severity != SeverityCritical {
		t.Fatalf("expected critical, got %+v", got)
	}
}

func TestCheckStuckTask(t *testing.T) {
	now := time.Now()
	cfg := testConfig()

	warning := CheckStuckTask(cfg, taskmodel.Run{StartedAt: now.Add(-70 * time.Minute)}, now)
	if warning == nil || warning.Severity != SeverityWarning {
		t.Fatalf("expected warning, got %+v", warning)
	}

	critical := CheckStuckTask(cfg, taskmodel.Run{StartedAt: now.Add(-130 * time.Minute)}, now)
	if critical == nil || critical.Severity != SeverityCritical {
		t.Fatalf("expected critical, got %+v", critical)
	}

	none := CheckStuckTask(cfg, taskmodel.Run{StartedAt: now.Add(-5 * time.Minute)}, now)
	if none != nil {
		t.Errorf("expected nil for a fresh run, got %+v", none)
	}
}

func TestCheckNoProgress(t *testing.T) {
	cfg := testConfig()
	if got := CheckNoProgress(cfg, 0, 0); got != nil {
		t.Errorf("expected nil with no busy agents, got %+v", got)
	}
	if got := CheckNoProgress(cfg, 3, 2); got != nil {
		t.Errorf("expected nil with progress happening, got %+v", got)
	}
	if got := CheckNoProgress(cfg, 3, 0); got == nil {
		t.Error("expected an anomaly with busy agents and no finishes")
	}
}

func TestCheckAgentTimeout(t *testing.T) {
	now := time.Now()
	cfg := testConfig()
	stale := taskmodel.Agent{ID: uuid.New(), LastHeartbeat: now.Add(-20 * time.Minute)}
	if got := CheckAgentTimeout(cfg, stale, now); got == nil {
		t.Error("expected an anomaly for a stale heartbeat")
	}
	fresh := taskmodel.Agent{ID: uuid.New(), LastHeartbeat: now.Add(-1 * time.Minute)}
	if got := CheckAgentTimeout(cfg, fresh, now); got != nil {
		t.Errorf("expected nil for a fresh heartbeat, got %+v", got)
	}
}
