package anomaly

import (
	"time"

	"github.com/cyclemanager/cyclemanager/pkg/taskmodel"
)

// CheckFailureRate flags the last hour's run failure rate. Skipped when
// fewer than 5 runs occurred.
func CheckFailureRate(cfg Config, totalRuns, failedRuns int64) *Anomaly {
	if totalRuns < 5 {
		return nil
	}
	rate := float64(failedRuns) / float64(totalRuns)

	severity, ok := severityFor(rate, cfg.FailureRateWarning, cfg.FailureRateCritical)
	if !ok {
		return nil
	}
	return &Anomaly{
		Type:     TypeHighFailureRate,
		Severity: severity,
		Details:  map[string]any{"totalRuns": totalRuns, "failedRuns": failedRuns, "rate": rate},
	}
}

// CheckCostSpike compares the last hour's token spend against the hour
// before it. Skipped when the prior hour spent nothing.
func CheckCostSpike(cfg Config, lastHourTokens, priorHourTokens int64) *Anomaly {
	if priorHourTokens == 0 {
		return nil
	}
	ratio := float64(lastHourTokens) / float64(priorHourTokens)

	severity, ok := severityFor(ratio, cfg.CostSpikeRatio, cfg.CostSpikeRatio*1.5)
	if !ok {
		return nil
	}
	return &Anomaly{
		Type:     TypeCostSpike,
		Severity: severity,
		Details:  map[string]any{"lastHourTokens": lastHourTokens, "priorHourTokens": priorHourTokens, "ratio": ratio},
	}
}

// CheckStuckTask flags a run still marked running past stuckMinutes,
// escalating to critical past twice that threshold.
func CheckStuckTask(cfg Config, run taskmodel.Run, now time.Time) *Anomaly {
	threshold := time.Duration(cfg.StuckTaskMinutes) * time.Minute
	duration := now.Sub(run.StartedAt)
	if duration < threshold {
		return nil
	}

	severity := SeverityWarning
	if duration > 2*threshold {
		severity = SeverityCritical
	}
	return &Anomaly{
		Type:     TypeStuckTask,
		Severity: severity,
		Details:  map[string]any{"taskId": run.TaskID, "runId": run.ID, "durationSeconds": duration.Seconds()},
	}
}

// CheckNoProgress flags a window with busy agents but zero successful run
// finishes, suggesting the system is active but stuck.
func CheckNoProgress(cfg Config, activeBusyAgents, successfulFinishes int64) *Anomaly {
	if activeBusyAgents <= 0 || successfulFinishes > 0 {
		return nil
	}
	return &Anomaly{
		Type:     TypeNoProgress,
		Severity: SeverityWarning,
		Details:  map[string]any{"activeBusyAgents": activeBusyAgents, "windowMinutes": cfg.NoProgressMinutes},
	}
}

// CheckAgentTimeout flags a busy agent whose heartbeat predates the
// timeout threshold.
func CheckAgentTimeout(cfg Config, agent taskmodel.Agent, now time.Time) *Anomaly {
	threshold := time.Duration(cfg.AgentTimeoutMinutes) * time.Minute
	if now.Sub(agent.LastHeartbeat) < threshold {
		return nil
	}
	return &Anomaly{
		Type:     TypeAgentTimeout,
		Severity: SeverityWarning,
		Details:  map[string]any{"agentId": agent.ID, "lastHeartbeat": agent.LastHeartbeat},
	}
}

func severityFor(value, warningAt, criticalAt float64) (Severity, bool) {
	switch {
	case value >= criticalAt:
		return SeverityCritical, true
	case value >= warningAt:
		return SeverityWarning, true
	default:
		return "", false
	}
}
