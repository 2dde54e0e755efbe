package costtracker

import (
	"context"
	"time"

	"github.com/cyclemanager/cyclemanager/internal/db"
)

// Trend describes how cost-per-successful-task is moving across a window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

const (
	lowSuccessRateThreshold       = 0.7
	highTokensPerSuccessThreshold = 50000
)

// EfficiencyReport is the outcome of comparing the first and second half of
// a cost-analysis window.
type EfficiencyReport struct {
	Trend           Trend
	FirstHalf       PeriodReport
	SecondHalf      PeriodReport
	Overall         PeriodReport
	Recommendations []string
}

// AnalyzeCostEfficiency compares the first and second half of the last
// `days` days: cost-per-successful-task degrading more than 10% is
// "degrading", improving more than 10% is "improving", otherwise "stable".
// Recommendations trigger when the window's overall success rate drops
// below 70% or tokens-per-successful-task exceeds 50000.
func AnalyzeCostEfficiency(ctx context.Context, q *db.Queries, days int) (EfficiencyReport, error) {
	if days <= 0 {
		days = 7
	}
	now := time.Now()
	start := now.AddDate(0, 0, -days)
	mid := start.Add(now.Sub(start) / 2)

	firstHalf, err := GetCostByPeriod(ctx, q, start, mid)
	if err != nil {
		return EfficiencyReport{}, err
	}
	secondHalf, err := GetCostByPeriod(ctx, q, mid, now)
	if err != nil {
		return EfficiencyReport{}, err
	}
	overall, err := GetCostByPeriod(ctx, q, start, now)
	if err != nil {
		return EfficiencyReport{}, err
	}

	report := EfficiencyReport{
		Trend:      resolveTrend(firstHalf.CostPerSuccessfulTask, secondHalf.CostPerSuccessfulTask),
		FirstHalf:  firstHalf,
		SecondHalf: secondHalf,
		Overall:    overall,
	}

	if overall.RunsCount > 0 {
		successRate := float64(overall.SuccessfulRuns) / float64(overall.RunsCount)
		if successRate < lowSuccessRateThreshold {
			report.Recommendations = append(report.Recommendations,
				"success rate is below 70%; investigate recurring failure categories before increasing throughput")
		}
	}
	if overall.CostPerSuccessfulTask > highTokensPerSuccessThreshold {
		report.Recommendations = append(report.Recommendations,
			"tokens per successful task exceed 50000; review task sizing or prompt efficiency")
	}

	return report, nil
}

func resolveTrend(firstHalfCostPerSuccess, secondHalfCostPerSuccess float64) Trend {
	if firstHalfCostPerSuccess <= 0 {
		if secondHalfCostPerSuccess <= 0 {
			return TrendStable
		}
		return TrendDegrading
	}
	switch {
	case secondHalfCostPerSuccess > firstHalfCostPerSuccess*1.10:
		return TrendDegrading
	case secondHalfCostPerSuccess < firstHalfCostPerSuccess*0.9:
		return TrendImproving
	default:
		return TrendStable
	}
}
