package costtracker

import (
	"context"
	"time"

	"github.com/cyclemanager/cyclemanager/internal/db"
)

// DefaultWarningThreshold is the fraction of a limit at which a warning
// alert fires, ahead of outright exceedance.
const DefaultWarningThreshold = 0.8

// LimitsConfig parameterizes CheckCostLimits. A limit <= 0 means unlimited
// and is never checked.
type LimitsConfig struct {
	DailyTokenLimit  int64
	HourlyTokenLimit int64
	WarningThreshold float64
}

// LimitAlert is one daily or hourly limit breach.
type LimitAlert struct {
	AlertType string
	Period    string
	Used      int64
	Limit     int64
	Ratio     float64
}

// CheckCostLimits compares today's and the last hour's token usage against
// the configured limits, returning a warning alert at WarningThreshold and
// an exceedance alert at or past the limit. At most one alert is returned
// per period: once usage reaches the limit, only the exceedance alert is
// returned.
func CheckCostLimits(ctx context.Context, q *db.Queries, cfg LimitsConfig) ([]LimitAlert, error) {
	threshold := cfg.WarningThreshold
	if threshold <= 0 {
		threshold = DefaultWarningThreshold
	}

	now := time.Now()
	var alerts []LimitAlert

	if cfg.DailyTokenLimit > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		report, err := GetCostByPeriod(ctx, q, dayStart, now.Add(time.Second))
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, limitAlertsFor("daily", report.TotalTokens, cfg.DailyTokenLimit, threshold)...)
	}

	if cfg.HourlyTokenLimit > 0 {
		hourStart := now.Add(-time.Hour)
		report, err := GetCostByPeriod(ctx, q, hourStart, now.Add(time.Second))
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, limitAlertsFor("hourly", report.TotalTokens, cfg.HourlyTokenLimit, threshold)...)
	}

	return alerts, nil
}

func limitAlertsFor(period string, used, limit int64, warningThreshold float64) []LimitAlert {
	ratio := float64(used) / float64(limit)
	var alerts []LimitAlert
	if ratio >= 1.0 {
		alerts = append(alerts, LimitAlert{AlertType: period + "_token_exceeded", Period: period, Used: used, Limit: limit, Ratio: ratio})
	} else if ratio >= warningThreshold {
		alerts = append(alerts, LimitAlert{AlertType: period + "_token_warning", Period: period, Used: used, Limit: limit, Ratio: ratio})
	}
	return alerts
}
