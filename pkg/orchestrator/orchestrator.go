// Package orchestrator drives the cycle manager's tick loop (C13): it
// starts a cycle epoch, performs the unconditional full-cleanup pass that
// bounds it, then runs every cleaner, requeuer, cost check, and anomaly
// sweep on its own cadence until the context is cancelled.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyclemanager/cyclemanager/internal/db"
	"github.com/cyclemanager/cyclemanager/internal/events"
	"github.com/cyclemanager/cyclemanager/pkg/anomaly"
	"github.com/cyclemanager/cyclemanager/pkg/cleaners"
	"github.com/cyclemanager/cyclemanager/pkg/costtracker"
	"github.com/cyclemanager/cyclemanager/pkg/notify"
	"github.com/cyclemanager/cyclemanager/pkg/requeue"
	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// cancelledDuringCleanupReason is the fixed error message stamped on every
// run cancelled by a cycle boundary's full cleanup pass.
const cancelledDuringCleanupReason = "Cancelled during cycle cleanup"

// Cadences bundles the tick intervals the orchestrator runs cleaners and
// monitors on, loaded from config.
type Cadences struct {
	Fast    time.Duration // C5, C7, C9
	Slow    time.Duration // C6, C8, C10
	Cost    time.Duration // C11
	Anomaly time.Duration // C12
}

// Normalized fills any zero-valued interval with its documented default.
func (c Cadences) Normalized() Cadences {
	if c.Fast <= 0 {
		c.Fast = 30 * time.Second
	}
	if c.Slow <= 0 {
		c.Slow = 90 * time.Second
	}
	if c.Cost <= 0 {
		c.Cost = time.Hour
	}
	if c.Anomaly <= 0 {
		c.Anomaly = 2 * time.Minute
	}
	return c
}

// CostLimits carries the cost tracker's configured daily/hourly ceilings
// through to the orchestrator's hourly cost check.
type CostLimits = costtracker.LimitsConfig

// Orchestrator wires together every cleaner, requeuer, and monitor and
// drives them on their configured cadences, logging per-tick failures
// without aborting the loop.
type Orchestrator struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	eventLog *events.Logger
	cadences Cadences

	leaseCleaner  *cleaners.LeaseCleaner
	runCleaner    *cleaners.RunCleaner
	agentCleaner  *cleaners.AgentCleaner
	mergeQueue    *cleaners.MergeQueueRecoverer
	failedQueuer  *requeue.FailedTaskRequeuer
	blockedQueuer *requeue.BlockedTaskRequeuer
	costLimits    CostLimits
	anomalyDet    *anomaly.Detector
	notifier      *notify.Notifier

	cycleDuration *prometheus.HistogramVec

	mu    sync.Mutex
	stats map[string]int64
}

// Components bundles every collaborator the orchestrator dispatches to on
// its cadences. All fields except Notifier are required.
type Components struct {
	LeaseCleaner  *cleaners.LeaseCleaner
	RunCleaner    *cleaners.RunCleaner
	AgentCleaner  *cleaners.AgentCleaner
	MergeQueue    *cleaners.MergeQueueRecoverer
	FailedQueuer  *requeue.FailedTaskRequeuer
	BlockedQueuer *requeue.BlockedTaskRequeuer
	CostLimits    CostLimits
	AnomalyDet    *anomaly.Detector
	// Notifier is optional: nil disables Slack forwarding entirely.
	Notifier *notify.Notifier
}

// New creates an Orchestrator.
func New(pool *pgxpool.Pool, logger *slog.Logger, eventLog *events.Logger, cadences Cadences, c Components, cycleDuration *prometheus.HistogramVec) *Orchestrator {
	return &Orchestrator{
		pool:          pool,
		logger:        logger,
		eventLog:      eventLog,
		cadences:      cadences.Normalized(),
		leaseCleaner:  c.LeaseCleaner,
		runCleaner:    c.RunCleaner,
		agentCleaner:  c.AgentCleaner,
		mergeQueue:    c.MergeQueue,
		failedQueuer:  c.FailedQueuer,
		blockedQueuer: c.BlockedQueuer,
		costLimits:    c.CostLimits,
		anomalyDet:    c.AnomalyDet,
		notifier:      c.Notifier,
		cycleDuration: cycleDuration,
		stats:         make(map[string]int64),
	}
}

// Run starts a new cycle epoch, performs its bounding full-cleanup pass,
// then drives every cleaner/requeuer/monitor on its cadence until ctx is
// cancelled. It blocks for the lifetime of the cycle.
func (o *Orchestrator) Run(ctx context.Context) error {
	q := db.New(o.pool)

	lastNumber, err := q.LastCycleNumber(ctx)
	if err != nil {
		return fmt.Errorf("reading last cycle number: %w", err)
	}
	cycle, err := q.StartCycle(ctx, lastNumber+1)
	if err != nil {
		return fmt.Errorf("starting cycle %d: %w", lastNumber+1, err)
	}
	o.logger.Info("cycle started", "number", cycle.Number, "id", cycle.ID)

	if err := o.PerformFullCleanup(ctx); err != nil {
		o.logger.Error("performing cycle boundary cleanup", "error", err)
	}

	fastTicker := time.NewTicker(o.cadences.Fast)
	slowTicker := time.NewTicker(o.cadences.Slow)
	costTicker := time.NewTicker(o.cadences.Cost)
	anomalyTicker := time.NewTicker(o.cadences.Anomaly)
	defer fastTicker.Stop()
	defer slowTicker.Stop()
	defer costTicker.Stop()
	defer anomalyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.finishCycle(cycle.ID)
		case <-fastTicker.C:
			o.runTick(ctx, "fast", o.tickFast)
		case <-slowTicker.C:
			o.runTick(ctx, "slow", o.tickSlow)
		case <-costTicker.C:
			o.runTick(ctx, "cost", o.tickCost)
		case <-anomalyTicker.C:
			o.runTick(ctx, "anomaly", o.tickAnomaly)
		}
	}
}

// finishCycle records the cycle's terminal status and accumulated stats.
// It uses a fresh background context since the caller's ctx is already
// cancelled by this point.
func (o *Orchestrator) finishCycle(cycleID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	o.mu.Lock()
	statsJSON, err := json.Marshal(o.stats)
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding cycle stats: %w", err)
	}

	q := db.New(o.pool)
	if _, err := q.FinishCycle(ctx, db.FinishCycleParams{
		ID: cycleID, Status: taskmodel.CycleCompleted, Stats: statsJSON,
	}); err != nil {
		return fmt.Errorf("finishing cycle %s: %w", cycleID, err)
	}
	o.logger.Info("cycle finished", "id", cycleID)
	return nil
}

func (o *Orchestrator) runTick(ctx context.Context, kind string, fn func(context.Context) error) {
	start := time.Now()
	if err := fn(ctx); err != nil {
		o.logger.Error("tick failed", "kind", kind, "error", err)
	}
	if o.cycleDuration != nil {
		o.cycleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (o *Orchestrator) tickFast(ctx context.Context) error {
	if n, err := o.leaseCleaner.Clean(ctx); err != nil {
		o.logger.Error("lease cleaner", "error", err)
	} else {
		o.addStat("leases_expired", int64(n))
	}

	if n, err := o.runCleaner.Clean(ctx); err != nil {
		o.logger.Error("run cleaner", "error", err)
	} else {
		o.addStat("runs_cancelled", int64(n))
	}

	if n, err := o.failedQueuer.Run(ctx); err != nil {
		o.logger.Error("failed task requeuer", "error", err)
	} else {
		o.addStat("failed_tasks_processed", int64(n))
	}
	return nil
}

func (o *Orchestrator) tickSlow(ctx context.Context) error {
	if n, err := o.agentCleaner.Clean(ctx); err != nil {
		o.logger.Error("agent cleaner", "error", err)
	} else {
		o.addStat("agents_marked_offline", int64(n))
	}

	if n, err := o.mergeQueue.Clean(ctx); err != nil {
		o.logger.Error("merge queue recoverer", "error", err)
	} else {
		o.addStat("merge_claims_recovered", int64(n))
	}

	if n, err := o.blockedQueuer.Run(ctx); err != nil {
		o.logger.Error("blocked task requeuer", "error", err)
	} else {
		o.addStat("blocked_tasks_processed", int64(n))
	}
	return nil
}

func (o *Orchestrator) tickCost(ctx context.Context) error {
	q := db.New(o.pool)
	alerts, err := costtracker.CheckCostLimits(ctx, q, o.costLimits)
	if err != nil {
		return fmt.Errorf("checking cost limits: %w", err)
	}
	for _, a := range alerts {
		if o.eventLog != nil {
			o.eventLog.Async("cost."+a.AlertType, "cycle", uuid.Nil, nil, a)
		}
		if o.notifier != nil {
			o.notifier.NotifyCostAlert(ctx, a.AlertType, a.Period, a.Used, a.Limit)
		}
	}
	o.addStat("cost_alerts", int64(len(alerts)))
	return nil
}

func (o *Orchestrator) tickAnomaly(ctx context.Context) error {
	reported, err := o.anomalyDet.RunChecks(ctx)
	if err != nil {
		return fmt.Errorf("running anomaly checks: %w", err)
	}
	if o.notifier != nil {
		for _, a := range reported {
			o.notifier.NotifyAnomaly(ctx, a.Type, string(a.Severity), a.Details)
		}
	}
	o.addStat("anomalies_reported", int64(len(reported)))
	return nil
}

func (o *Orchestrator) addStat(key string, n int64) {
	if n == 0 {
		return
	}
	o.mu.Lock()
	o.stats[key] += n
	o.mu.Unlock()
}

// PerformFullCleanup runs the cycle boundary's unconditional recovery
// pass, in order: clean expired leases, delete every remaining lease, reset
// offline agents, set every non-offline agent to idle with no current
// task, revert every running task to queued, and cancel every running run.
// It calls the unexported performFullCleanup with preserveTaskState false;
// that parameter is kept for interface parity with the original control
// loop but is never branched on, so running tasks are always reverted to
// queued regardless of its value.
func (o *Orchestrator) PerformFullCleanup(ctx context.Context) error {
	return o.performFullCleanup(ctx, false)
}

func (o *Orchestrator) performFullCleanup(ctx context.Context, preserveTaskState bool) error {
	_ = preserveTaskState

	expiredLeases, err := o.leaseCleaner.Clean(ctx)
	if err != nil {
		return fmt.Errorf("cleaning expired leases: %w", err)
	}

	q := db.New(o.pool)

	remainingLeases, err := q.DeleteAllLeases(ctx)
	if err != nil {
		return fmt.Errorf("deleting remaining leases: %w", err)
	}

	offlinedAgents, err := o.agentCleaner.Clean(ctx)
	if err != nil {
		return fmt.Errorf("resetting offline agents: %w", err)
	}

	idledAgents, err := q.ResetNonOfflineAgentsToIdle(ctx)
	if err != nil {
		return fmt.Errorf("idling non-offline agents: %w", err)
	}

	revertedTasks, err := q.RevertAllRunningTasksToQueued(ctx)
	if err != nil {
		return fmt.Errorf("reverting running tasks: %w", err)
	}

	cancelledRuns, err := q.CancelAllRunningRuns(ctx, cancelledDuringCleanupReason)
	if err != nil {
		return fmt.Errorf("cancelling running runs: %w", err)
	}

	counts := map[string]any{
		"expiredLeases":   expiredLeases,
		"remainingLeases": remainingLeases,
		"offlinedAgents":  offlinedAgents,
		"idledAgents":     idledAgents,
		"revertedTasks":   revertedTasks,
		"cancelledRuns":   cancelledRuns,
	}
	if o.eventLog != nil {
		o.eventLog.Async("cycle.cleanup", "cycle", uuid.Nil, nil, counts)
	}

	o.addStat("full_cleanup_leases", int64(expiredLeases)+remainingLeases)
	o.addStat("full_cleanup_agents", int64(offlinedAgents)+idledAgents)
	o.addStat("full_cleanup_tasks_reverted", revertedTasks)
	o.addStat("full_cleanup_runs_cancelled", cancelledRuns)

	o.logger.Info("cycle boundary cleanup complete",
		"expiredLeases", expiredLeases,
		"remainingLeases", remainingLeases,
		"offlinedAgents", offlinedAgents,
		"idledAgents", idledAgents,
		"revertedTasks", revertedTasks,
		"cancelledRuns", cancelledRuns,
	)
	return nil
}
