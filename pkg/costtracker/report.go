// Package costtracker aggregates run token spend into period reports, flags
// threshold breaches against configured daily/hourly limits, and tracks
// whether cost-per-successful-task is trending up or down (C11).
package costtracker

import (
	"context"
	"time"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// PeriodReport summarizes run cost and outcome over a time window.
type PeriodReport struct {
	TotalTokens           int64
	RunsCount             int64
	SuccessfulRuns        int64
	FailedRuns            int64
	AverageTokensPerRun    float64
	CostPerSuccessfulTask float64
}

// GetCostByPeriod reports token spend and run outcomes for runs finished in
// [start, end).
func GetCostByPeriod(ctx context.Context, q *db.Queries, start, end time.Time) (PeriodReport, error) {
	buckets, err := q.GetCostByPeriod(ctx, start, end)
	if err != nil {
		return PeriodReport{}, err
	}
	return reportFromBuckets(buckets), nil
}

func reportFromBuckets(buckets map[taskmodel.RunStatus]db.CostBucket) PeriodReport {
	var r PeriodReport
	for status, b := range buckets {
		r.TotalTokens += b.Tokens
		r.RunsCount += b.Count
		switch status {
		case taskmodel.RunSuccess:
			r.SuccessfulRuns += b.Count
		case taskmodel.RunFailed, taskmodel.RunCancelled:
			r.FailedRuns += b.Count
		}
	}
	if r.RunsCount > 0 {
		r.AverageTokensPerRun = float64(r.TotalTokens) / float64(r.RunsCount)
	}
	if r.SuccessfulRuns > 0 {
		r.CostPerSuccessfulTask = float64(r.TotalTokens) / float64(r.SuccessfulRuns)
	}
	return r
}
