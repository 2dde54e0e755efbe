package anomaly

import "time"

// Severity is an anomaly's urgency.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Anomaly types, matching the `anomaly.<type>` event taxonomy.
const (
	TypeHighFailureRate = "high_failure_rate"
	TypeCostSpike       = "cost_spike"
	TypeStuckTask       = "stuck_task"
	TypeNoProgress      = "no_progress"
	TypeAgentTimeout    = "agent_timeout"
)

// Anomaly is one detected condition, carrying enough detail for an
// operator to act on it without re-querying the store.
type Anomaly struct {
	Type     string
	Severity Severity
	Details  map[string]any
}

// Config parameterizes every check's thresholds. Zero values fall back to
// the documented defaults via Normalized.
type Config struct {
	FailureRateWarning  float64
	FailureRateCritical float64
	CostSpikeRatio      float64
	StuckTaskMinutes    int
	NoProgressMinutes   int
	AgentTimeoutMinutes int
	RepeatCooldown      time.Duration

	// StrictBusyAgents tightens the no-progress check to only count busy
	// agents with a heartbeat fresher than AgentTimeoutMinutes, instead of
	// every agent in the busy state regardless of heartbeat age. Defaults to
	// false, matching the originally observed behavior.
	StrictBusyAgents bool
}

// Normalized returns a copy of cfg with every unset field replaced by its
// documented default.
func (c Config) Normalized() Config {
	if c.FailureRateWarning <= 0 {
		c.FailureRateWarning = 0.2
	}
	if c.FailureRateCritical <= 0 {
		c.FailureRateCritical = 0.4
	}
	if c.CostSpikeRatio <= 0 {
		c.CostSpikeRatio = 2.0
	}
	if c.StuckTaskMinutes <= 0 {
		c.StuckTaskMinutes = 60
	}
	if c.NoProgressMinutes <= 0 {
		c.NoProgressMinutes = 30
	}
	if c.AgentTimeoutMinutes <= 0 {
		c.AgentTimeoutMinutes = 10
	}
	if c.RepeatCooldown <= 0 {
		c.RepeatCooldown = 5 * time.Minute
	}
	return c
}
