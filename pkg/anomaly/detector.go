package anomaly

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/events"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// Detector runs every anomaly check against current store state once per
// invocation and reports whichever anomalies survive repeat suppression.
type Detector struct {
	pool       *pgxpool.Pool
	eventLog   *events.Logger
	metric     *prometheus.CounterVec
	cfg        Config
	suppressor *suppressor
}

// NewDetector creates a Detector with the given configuration.
func NewDetector(pool *pgxpool.Pool, eventLog *events.Logger, metric *prometheus.CounterVec, cfg Config) *Detector {
	return &Detector{
		pool: pool, eventLog: eventLog, metric: metric,
		cfg:        cfg.Normalized(),
		suppressor: newSuppressor(maxSuppressionEntries),
	}
}

// RunChecks evaluates every check and reports each anomaly that is not
// currently suppressed. Returns the anomalies actually reported.
func (d *Detector) RunChecks(ctx context.Context) ([]Anomaly, error) {
	q := db.New(d.pool)
	now := time.Now()

	var candidates []Anomaly

	lastHour, err := q.GetCostByPeriod(ctx, now.Add(-time.Hour), now)
	if err != nil {
		return nil, err
	}
	priorHour, err := q.GetCostByPeriod(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}

	totalRuns, failedRuns := tally(lastHour)
	if a := CheckFailureRate(d.cfg, totalRuns, failedRuns); a != nil {
		candidates = append(candidates, *a)
	}

	lastHourTokens := sumTokens(lastHour)
	priorHourTokens := sumTokens(priorHour)
	if a := CheckCostSpike(d.cfg, lastHourTokens, priorHourTokens); a != nil {
		candidates = append(candidates, *a)
	}

	stuckCutoff := now.Add(-time.Duration(d.cfg.StuckTaskMinutes) * time.Minute)
	stuckRuns, err := q.ListStuckRuns(ctx, stuckCutoff)
	if err != nil {
		return nil, err
	}
	for _, run := range stuckRuns {
		if a := CheckStuckTask(d.cfg, run, now); a != nil {
			candidates = append(candidates, *a)
		}
	}

	busyAgents, err := q.ListAgentsByStatus(ctx, taskmodel.AgentBusy)
	if err != nil {
		return nil, err
	}
	progressWindow, err := q.GetCostByPeriod(ctx, now.Add(-time.Duration(d.cfg.NoProgressMinutes)*time.Minute), now)
	if err != nil {
		return nil, err
	}
	successfulFinishes := progressWindow[taskmodel.RunSuccess].Count
	if a := CheckNoProgress(d.cfg, countBusyAgents(d.cfg, busyAgents, now), successfulFinishes); a != nil {
		candidates = append(candidates, *a)
	}

	for _, agent := range busyAgents {
		if a := CheckAgentTimeout(d.cfg, agent, now); a != nil {
			candidates = append(candidates, *a)
		}
	}

	var reported []Anomaly
	for _, a := range candidates {
		if d.reportAnomaly(a, now) {
			reported = append(reported, a)
		}
	}
	return reported, nil
}

// reportAnomaly emits the anomaly's event and metric if it is not
// currently suppressed by repeat-cooldown, returning whether it was
// reported. Suppressed anomalies are dropped entirely, per contract.
func (d *Detector) reportAnomaly(a Anomaly, now time.Time) bool {
	sig := Signature(a.Type, a.Severity, a.Details)
	if !d.suppressor.shouldReport(sig, d.cfg.RepeatCooldown, now) {
		return false
	}

	if d.eventLog != nil {
		d.eventLog.Async("anomaly."+a.Type, "cycle", uuid.Nil, nil, a.Details)
	}
	if d.metric != nil {
		d.metric.WithLabelValues(a.Type, string(a.Severity)).Inc()
	}
	return true
}

// countBusyAgents returns the count the no-progress check should use: every
// busy agent by default, or only those with a fresh heartbeat when
// StrictBusyAgents opts into the tightened behavior.
func countBusyAgents(cfg Config, busyAgents []taskmodel.Agent, now time.Time) int64 {
	if !cfg.StrictBusyAgents {
		return int64(len(busyAgents))
	}
	threshold := time.Duration(cfg.AgentTimeoutMinutes) * time.Minute
	var n int64
	for _, a := range busyAgents {
		if now.Sub(a.LastHeartbeat) < threshold {
			n++
		}
	}
	return n
}

func tally(buckets map[taskmodel.RunStatus]db.CostBucket) (total, failed int64) {
	for status, b := range buckets {
		total += b.Count
		if status == taskmodel.RunFailed || status == taskmodel.RunCancelled {
			failed += b.Count
		}
	}
	return total, failed
}

func sumTokens(buckets map[taskmodel.RunStatus]db.CostBucket) int64 {
	var total int64
	for _, b := range buckets {
		total += b.Tokens
	}
	return total
}
