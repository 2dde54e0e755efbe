package requeue

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// QuotaBackoffConfig parameterizes ComputeQuotaBackoff.
type QuotaBackoffConfig struct {
	Base        time.Duration
	Max         time.Duration
	Factor      float64
	JitterRatio float64
}

// ComputeQuotaBackoff returns the cooldown a quota_wait task must still
// serve before its next retry: an exponential backoff on retryCount,
// capped at Max, with deterministic jitter seeded from the task id and
// latest error message so repeated calls for the same task agree.
func ComputeQuotaBackoff(cfg QuotaBackoffConfig, retryCount int, taskID uuid.UUID, latestErrorMessage string) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := float64(cfg.Base) * math.Pow(cfg.Factor, float64(retryCount))
	if delay > float64(cfg.Max) {
		delay = float64(cfg.Max)
	}

	seed := quotaJitterSeed(taskID, latestErrorMessage)
	r := rand.New(rand.NewSource(seed))
	jitter := (r.Float64()*2 - 1) * cfg.JitterRatio * delay

	result := delay + jitter
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

func quotaJitterSeed(taskID uuid.UUID, latestErrorMessage string) int64 {
	h := fnv.New64a()
	h.Write(taskID[:])
	h.Write([]byte(latestErrorMessage))
	return int64(h.Sum64())
}
