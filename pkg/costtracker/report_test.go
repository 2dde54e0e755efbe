package costtracker

import (
	"testing"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

func TestReportFromBuckets(t *testing.T) {
	buckets := map[taskmodel.RunStatus]db.CostBucket{
		taskmodel.RunSuccess:   {Count: 8, Tokens: 80000},
		taskmodel.RunFailed:    {Count: 1, Tokens: 5000},
		taskmodel.RunCancelled: {Count: 1, Tokens: 1000},
	}
	r := reportFromBuckets(buckets)

	if r.RunsCount != 10 {
		t.Errorf("RunsCount = %d, want 10", r.RunsCount)
	}
	if r.SuccessfulRuns != 8 {
		t.Errorf("SuccessfulRuns = %d, want 8", r.SuccessfulRuns)
	}
	if r.FailedRuns != 2 {
		t.Errorf("FailedRuns = %d, want 2", r.FailedRuns)
	}
	if r.TotalTokens != 86000 {
		t.Errorf("TotalTokens = %d, want 86000", r.TotalTokens)
	}
	if r.AverageTokensPerRun != 8600 {
		t.Errorf("AverageTokensPerRun = %v, want 8600", r.AverageTokensPerRun)
	}
	if r.CostPerSuccessfulTask != 10750 {
		t.Errorf("CostPerSuccessfulTask = %v, want 10750", r.CostPerSuccessfulTask)
	}
}

func TestReportFromBuckets_Empty(t *testing.T) {
	r := reportFromBuckets(map[taskmodel.RunStatus]db.CostBucket{})
	if r.RunsCount != 0 || r.AverageTokensPerRun != 0 || r.CostPerSuccessfulTask != 0 {
		t.Errorf("expected a zero report, got %+v", r)
	}
}
