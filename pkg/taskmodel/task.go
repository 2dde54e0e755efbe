// Package taskmodel holds the entities the cycle manager reconciles: tasks,
// runs, leases, agents, merge-queue rows, and the event log.
package taskmodel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskRole is the kind of agent meant to execute a task.
type TaskRole string

const (
	RoleWorker TaskRole = "worker"
	RoleTester TaskRole = "tester"
	RoleDocser TaskRole = "docser"
)

// TaskKind distinguishes code-producing work from research work.
type TaskKind string

const (
	KindCode     TaskKind = "code"
	KindResearch TaskKind = "research"
)

// TaskStatus is a task's position in the state machine.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskBlocked   TaskStatus = "blocked"
	TaskFailed    TaskStatus = "failed"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
)

// BlockReason explains why a blocked task is frozen.
type BlockReason string

const (
	BlockNone           BlockReason = ""
	BlockAwaitingJudge  BlockReason = "awaiting_judge"
	BlockNeedsRework    BlockReason = "needs_rework"
	BlockQuotaWait      BlockReason = "quota_wait"
	BlockIssueLinking   BlockReason = "issue_linking"
	blockNeedsHumanLegacy BlockReason = "needs_human" // normalized to BlockAwaitingJudge on read
)

// NormalizeBlockReason maps the legacy needs_human value onto its current
// equivalent. Every reader of a task's block reason must pass it through
// this function.
func NormalizeBlockReason(r BlockReason) BlockReason {
	if r == blockNeedsHumanLegacy {
		return BlockAwaitingJudge
	}
	return r
}

// PRContext carries the pull-request linkage for PR-review and AutoFix tasks.
type PRContext struct {
	Number       int    `json:"number,omitempty"`
	URL          string `json:"url,omitempty"`
	SourceTaskID string `json:"sourceTaskId,omitempty"`
	HeadRef      string `json:"headRef,omitempty"`
	HeadSha      string `json:"headSha,omitempty"`
	BaseRef      string `json:"baseRef,omitempty"`
}

// IssueContext carries the linked issue-tracker reference.
type IssueContext struct {
	Number int    `json:"number,omitempty"`
	URL    string `json:"url,omitempty"`
}

// TaskContext is the task's structured payload: files touched, specs,
// free-form notes, and optional PR/issue linkage.
type TaskContext struct {
	Files []string      `json:"files,omitempty"`
	Specs []string      `json:"specs,omitempty"`
	Notes string        `json:"notes,omitempty"`
	PR    *PRContext    `json:"pr,omitempty"`
	Issue *IssueContext `json:"issue,omitempty"`

	// ImportedFromPRBacklog marks tasks synthesized from a PR backlog import,
	// one of the PR-review recognition signals alongside Goal/Title/PR.
	ImportedFromPRBacklog bool `json:"importedFromPrBacklog,omitempty"`
}

// Task is a unit of work tracked by the cycle manager.
type Task struct {
	ID              uuid.UUID
	Title           string
	Goal            string
	Role            TaskRole
	Kind            TaskKind
	Status          TaskStatus
	BlockReason     BlockReason
	RetryCount      int
	Priority        int
	RiskLevel       int
	TimeboxMinutes  int
	AllowedPaths    []string
	Commands        []string
	Dependencies    []uuid.UUID
	Context         TaskContext
	UpdatedAt       time.Time
	CreatedAt       time.Time
}

// RunStatus is the lifecycle state of a single agent execution.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// PolicyViolation records a single allowed-path violation surfaced by a
// worker's policy enforcement layer.
type PolicyViolation struct {
	Path   string `json:"path"`
	Reason string `json:"reason,omitempty"`
}

// RunErrorMeta is the structured error payload a run may report.
type RunErrorMeta struct {
	FailureCode       string            `json:"failureCode,omitempty"`
	FailedCommand     string            `json:"failedCommand,omitempty"`
	PolicyViolations  []PolicyViolation `json:"policyViolations,omitempty"`
	Stderr            string            `json:"stderr,omitempty"`
	Source            string            `json:"source,omitempty"`
}

// Artifact types a run may produce; used to decide whether a success run
// carries something a Judge can review.
type ArtifactType string

const (
	ArtifactPR             ArtifactType = "pr"
	ArtifactWorktree       ArtifactType = "worktree"
	ArtifactResearchClaim  ArtifactType = "research_claim"
	ArtifactResearchSource ArtifactType = "research_source"
	ArtifactResearchReport ArtifactType = "research_report"
)

// Run is one agent's execution attempt of a task.
type Run struct {
	ID           uuid.UUID
	TaskID       uuid.UUID
	AgentID      uuid.UUID
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
	CostTokens   *int64
	ErrorMessage *string
	ErrorMeta    *RunErrorMeta
	JudgedAt     *time.Time
	Artifacts    []ArtifactType
}

// HasJudgeableArtifact reports whether the run produced something a Judge
// can act on: a PR, a worktree, or a research deliverable.
func (r Run) HasJudgeableArtifact() bool {
	for _, a := range r.Artifacts {
		switch a {
		case ArtifactPR, ArtifactWorktree, ArtifactResearchClaim, ArtifactResearchSource, ArtifactResearchReport:
			return true
		}
	}
	return false
}

// Lease is a worker's exclusive, time-bounded claim on a task.
type Lease struct {
	ID           uuid.UUID
	TaskID       uuid.UUID
	OwnerAgentID uuid.UUID
	ExpiresAt    time.Time
}

// AgentStatus is an executor's registration state.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Agent is an executor registration.
type Agent struct {
	ID            uuid.UUID
	Role          TaskRole
	Status        AgentStatus
	CurrentTaskID *uuid.UUID
	LastHeartbeat time.Time
	Metadata      json.RawMessage
}

// MergeQueueStatus is a PR merge-queue row's lifecycle state.
type MergeQueueStatus string

const (
	MergeQueuePending    MergeQueueStatus = "pending"
	MergeQueueProcessing MergeQueueStatus = "processing"
	MergeQueueMerged     MergeQueueStatus = "merged"
	MergeQueueFailed     MergeQueueStatus = "failed"
)

// MergeQueueEntry is one row of the external PR merge queue.
type MergeQueueEntry struct {
	ID              uuid.UUID
	TaskID          uuid.UUID
	PRNumber        int
	Status          MergeQueueStatus
	ClaimOwner      *string
	ClaimToken      *string
	ClaimedAt       *time.Time
	ClaimExpiresAt  *time.Time
	NextAttemptAt   *time.Time
	UpdatedAt       time.Time
}

// Event is an append-only log row describing a state transition or
// observation.
type Event struct {
	ID         uuid.UUID
	Type       string
	EntityType string
	EntityID   uuid.UUID
	AgentID    *uuid.UUID
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// CycleStatus is the lifecycle state of one orchestrator tick epoch.
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
)

// Cycle is a bounded epoch of control-loop activity, recorded for operator
// visibility.
type Cycle struct {
	ID            uuid.UUID
	Number        int64
	Status        CycleStatus
	StartedAt     time.Time
	FinishedAt    *time.Time
	Stats         json.RawMessage
	StateSnapshot json.RawMessage
}
