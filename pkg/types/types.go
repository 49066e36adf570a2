package types

import (
	"time"
)

// Mission represents a single operator-requested unit of work
type Mission struct {
	ID          string            `json:"mission_id"`
	Goal        string            `json:"goal"`
	Category    string            `json:"category"`
	Constraints map[string]string `json:"constraints,omitempty"`
	State       MissionState      `json:"state"`
	Rank        RiskTier          `json:"rank"`
	TaskIDs     []string          `json:"task_ids,omitempty"`
	History     []StateChange     `json:"history,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// StateChange is one append-only history record for a mission.
// Mission.State is always the fold of History through the state machine.
type StateChange struct {
	State     MissionState `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason,omitempty"`
}

// MissionState represents the lifecycle state of a mission
type MissionState string

const (
	MissionStateCreated  MissionState = "created"
	MissionStateQueued   MissionState = "queued"
	MissionStateRunning  MissionState = "running"
	MissionStatePaused   MissionState = "paused"
	MissionStateSuccess  MissionState = "success"
	MissionStateFailure  MissionState = "failure"
	MissionStateAborted  MissionState = "aborted"
	MissionStateRejected MissionState = "rejected"
)

// Terminal reports whether a mission state admits no further transitions
func (s MissionState) Terminal() bool {
	switch s {
	case MissionStateSuccess, MissionStateFailure, MissionStateAborted, MissionStateRejected:
		return true
	}
	return false
}

// Task represents a unit dispatched to workers, gated by a commit decision
type Task struct {
	ID          string            `json:"task_id"`
	MissionID   string            `json:"mission_id"`
	Kind        WorkerKind        `json:"kind"`
	Params      map[string]string `json:"params,omitempty"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	RiskTier    RiskTier          `json:"risk_tier"`
	Reversible  bool              `json:"reversible"`
	Retryable   bool              `json:"retryable"`
	State       TaskState         `json:"state"`
	Attempts    int               `json:"attempts"`
	ArtifactIDs []string          `json:"artifact_ids,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TaskState represents the state of a task
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateReady     TaskState = "ready"
	TaskStateRunning   TaskState = "running"
	TaskStateSucceeded TaskState = "succeeded"
	TaskStateFailed    TaskState = "failed"
	TaskStateAborted   TaskState = "aborted"
)

// Terminal reports whether a task state admits no further transitions
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateAborted:
		return true
	}
	return false
}

// WorkerKind identifies a worker plugin family
type WorkerKind string

const (
	WorkerKindScout   WorkerKind = "scout"
	WorkerKindBuilder WorkerKind = "builder"
	WorkerKindVerify  WorkerKind = "verify"
	WorkerKindCustom  WorkerKind = "custom"
)

// RiskTier ranks the blast radius of a task or mission, E (trivial) to S (severe)
type RiskTier string

const (
	TierE RiskTier = "E"
	TierD RiskTier = "D"
	TierC RiskTier = "C"
	TierB RiskTier = "B"
	TierA RiskTier = "A"
	TierS RiskTier = "S"
)

var tierOrder = map[RiskTier]int{
	TierE: 0,
	TierD: 1,
	TierC: 2,
	TierB: 3,
	TierA: 4,
	TierS: 5,
}

// Ord returns the tier's position in the E..S ordering; unknown tiers rank
// strictest so that ties go to the stricter side
func (t RiskTier) Ord() int {
	if o, ok := tierOrder[t]; ok {
		return o
	}
	return tierOrder[TierS]
}

// AtLeast reports whether t is as strict or stricter than other
func (t RiskTier) AtLeast(other RiskTier) bool {
	return t.Ord() >= other.Ord()
}

// Stricter returns the stricter of the two tiers
func Stricter(a, b RiskTier) RiskTier {
	if a.Ord() >= b.Ord() {
		return a
	}
	return b
}

// Stage is the evolution stage: a monotonic permission level earned by
// successful mission history
type Stage string

const (
	StageDormant   Stage = "DORMANT"
	StageAwakening Stage = "AWAKENING"
	StageForging   Stage = "FORGING"
	StageSovereign Stage = "SOVEREIGN"
	StageApex      Stage = "APEX"
)

var stageOrder = map[Stage]int{
	StageDormant:   0,
	StageAwakening: 1,
	StageForging:   2,
	StageSovereign: 3,
	StageApex:      4,
}

// Ord returns the stage's position in the progression
func (s Stage) Ord() int {
	return stageOrder[s]
}

// Capability names an action family the runtime may perform autonomously
type Capability string

const (
	CapabilityRecall          Capability = "RECALL"
	CapabilityWorkerSpawn     Capability = "WORKER_SPAWN"
	CapabilityAutoApprove     Capability = "AUTO_APPROVE"
	CapabilityAutonomousChain Capability = "AUTONOMOUS_CHAIN"
	CapabilityExternalAction  Capability = "EXTERNAL_ACTION"
)

// CommitState is the discrete verdict assigned to a task before dispatch
type CommitState string

const (
	CommitActionReady  CommitState = "ACTION_READY"
	CommitNeedsConfirm CommitState = "NEEDS_CONFIRM"
	CommitBlocked      CommitState = "BLOCKED"
)

// CommitDecision is the governance verdict for one task
type CommitDecision struct {
	TaskID            string      `json:"task_id"`
	State             CommitState `json:"state"`
	Reason            string      `json:"reason,omitempty"`
	Risk              RiskTier    `json:"risk"`
	CountdownSeconds  int         `json:"countdown_seconds"`
	ApproversRequired int         `json:"approvers_required"`
}

// Artifact is a durable output of a task with a content hash and review status
type Artifact struct {
	ID                string         `json:"artifact_id"`
	MissionID         string         `json:"mission_id"`
	TaskID            string         `json:"task_id"`
	Type              ArtifactType   `json:"type"`
	Version           int            `json:"version"`
	PreviousVersionID string         `json:"previous_version_id,omitempty"`
	Status            ArtifactStatus `json:"status"`
	ContentHash       string         `json:"content_hash"`
	ContentRef        string         `json:"content_ref"`
	InputSnapshot     string         `json:"input_snapshot,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	ReviewedAt        time.Time      `json:"reviewed_at,omitempty"`
	ReviewedBy        string         `json:"reviewed_by,omitempty"`

	// Content carries the raw bytes from worker to vault; the vault
	// persists them as a content-addressed blob and sets ContentRef.
	// Never serialized into the ledger.
	Content []byte `json:"-"`
}

// ArtifactType classifies artifact content
type ArtifactType string

const (
	ArtifactText   ArtifactType = "text"
	ArtifactCode   ArtifactType = "code"
	ArtifactData   ArtifactType = "data"
	ArtifactReport ArtifactType = "report"
	ArtifactLog    ArtifactType = "log"
)

// ArtifactStatus represents the review state of an artifact version
type ArtifactStatus string

const (
	ArtifactPendingReview ArtifactStatus = "pending_review"
	ArtifactApproved      ArtifactStatus = "approved"
	ArtifactRejected      ArtifactStatus = "rejected"
	ArtifactArchived      ArtifactStatus = "archived"
)

// ResultStatus summarizes the outcome of a worker step or a merged dispatch
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultPartial ResultStatus = "partial"
	ResultFailure ResultStatus = "failure"
)

// Cost accumulates the resources a dispatch consumed, summed component-wise
type Cost struct {
	TimeMS   int64 `json:"time_ms"`
	Tokens   int64 `json:"tokens"`
	APICalls int64 `json:"api_calls"`
}

// Add returns the component-wise sum of two costs
func (c Cost) Add(other Cost) Cost {
	return Cost{
		TimeMS:   c.TimeMS + other.TimeMS,
		Tokens:   c.Tokens + other.Tokens,
		APICalls: c.APICalls + other.APICalls,
	}
}

// WorkerResult is the value a worker plugin returns to the dispatcher.
// Workers never call back into the engine or the ledger; this value is
// the only channel for their effects.
type WorkerResult struct {
	Status    ResultStatus   `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Artifacts []*Artifact    `json:"artifacts,omitempty"`
	Cost      Cost           `json:"cost"`
	Errors    []string       `json:"errors,omitempty"`
}

// WorkerDescriptor describes a registered worker plugin family
type WorkerDescriptor struct {
	Kind             WorkerKind    `json:"kind"`
	Capabilities     []Capability  `json:"capabilities,omitempty"`
	RiskLevel        RiskTier      `json:"risk_level"`
	RequiresApproval bool          `json:"requires_approval"`
	TimeoutDefault   time.Duration `json:"timeout_default"`
}

// Utilization is a point-in-time snapshot of swarm occupancy
type Utilization struct {
	Live    int                `json:"live"`
	Max     int                `json:"max"`
	PerKind map[WorkerKind]int `json:"per_kind,omitempty"`
}
