package requeue

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func defaultQuotaConfig() QuotaBackoffConfig {
	return QuotaBackoffConfig{
		Base:        30 * time.Second,
		Max:         30 * time.Minute,
		Factor:      2,
		JitterRatio: 0.2,
	}
}

func TestComputeQuotaBackoff_Deterministic(t *testing.T) {
	id := uuid.New()
	cfg := defaultQuotaConfig()
	a := ComputeQuotaBackoff(cfg, 2, id, "quota exceeded")
	b := ComputeQuotaBackoff(cfg, 2, id, "quota exceeded")
	if a != b {
		t.Errorf("expected deterministic result, got %v vs %v", a, b)
	}
}

func TestComputeQuotaBackoff_GrowsWithRetryCount(t *testing.T) {
	id := uuid.New()
	cfg := defaultQuotaConfig()
	small := ComputeQuotaBackoff(cfg, 0, id, "msg")
	large := ComputeQuotaBackoff(cfg, 3, id, "msg")
	if large <= small {
		t.Errorf("expected backoff to grow with retryCount: %v vs %v", small, large)
	}
}

func TestComputeQuotaBackoff_CapsAtMax(t *testing.T) {
	id := uuid.New()
	cfg := defaultQuotaConfig()
	got := ComputeQuotaBackoff(cfg, 20, id, "msg")
	ceiling := cfg.Max + time.Duration(float64(cfg.Max)*cfg.JitterRatio)
	if got > ceiling {
		t.Errorf("backoff %v exceeds max+jitter ceiling %v", got, ceiling)
	}
}

func TestComputeQuotaBackoff_DifferentTasksDiffer(t *testing.T) {
	cfg := defaultQuotaConfig()
	a := ComputeQuotaBackoff(cfg, 2, uuid.New(), "msg")
	b := ComputeQuotaBackoff(cfg, 2, uuid.New(), "msg")
	if a == b {
		t.Skip("jitter collision across random ids is possible but unlikely; not a hard failure")
	}
}
