package ledger

import (
	"time"

	"github.com/aegiskernel/aegis/pkg/types"
)

// Payload schemas, one per event kind. Payloads are stable wire structures:
// fields are only ever added, never renamed or removed.

// DoctrineLoadedPayload is the first entry of every process run
type DoctrineLoadedPayload struct {
	Hash     string `json:"hash"`
	Defaults bool   `json:"defaults"`
}

// ConfigChangedPayload records a runtime config swap before it takes effect
type ConfigChangedPayload struct {
	Section string `json:"section"`
	Detail  string `json:"detail,omitempty"`
}

// MissionCreatedPayload carries the full mission at creation time
type MissionCreatedPayload struct {
	Mission        *types.Mission `json:"mission"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// MissionDecomposedPayload records the planner output verbatim
type MissionDecomposedPayload struct {
	MissionID string        `json:"mission_id"`
	Planner   string        `json:"planner"`
	Tasks     []*types.Task `json:"tasks"`
}

// MissionStateChangedPayload records one state machine transition
type MissionStateChangedPayload struct {
	MissionID string             `json:"mission_id"`
	From      types.MissionState `json:"from"`
	To        types.MissionState `json:"to"`
	Reason    string             `json:"reason,omitempty"`
}

// TaskCreatedPayload carries one planned task
type TaskCreatedPayload struct {
	Task *types.Task `json:"task"`
}

// TaskCommitDecidedPayload records the governance verdict for a task
type TaskCommitDecidedPayload struct {
	MissionID string               `json:"mission_id"`
	Decision  types.CommitDecision `json:"decision"`
}

// TaskDispatchedPayload records handoff to the worker swarm
type TaskDispatchedPayload struct {
	MissionID string             `json:"mission_id"`
	TaskID    string             `json:"task_id"`
	Steps     []types.WorkerKind `json:"steps"`
	Attempt   int                `json:"attempt"`
}

// TaskCompletedPayload records the merged swarm result for a task
type TaskCompletedPayload struct {
	MissionID   string             `json:"mission_id"`
	TaskID      string             `json:"task_id"`
	Status      types.ResultStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	ArtifactIDs []string           `json:"artifact_ids,omitempty"`
	Cost        types.Cost         `json:"cost"`
	Errors      []string           `json:"errors,omitempty"`
}

// TaskAbortedPayload records a cancelled or timed-out task
type TaskAbortedPayload struct {
	MissionID string `json:"mission_id"`
	TaskID    string `json:"task_id"`
	Reason    string `json:"reason"`
}

// ArtifactCreatedPayload records a durable worker output
type ArtifactCreatedPayload struct {
	Artifact *types.Artifact `json:"artifact"`
}

// ArtifactReviewedPayload records an operator or automatic review verdict
type ArtifactReviewedPayload struct {
	ArtifactID string               `json:"artifact_id"`
	Status     types.ArtifactStatus `json:"status"`
	ReviewedBy string               `json:"reviewed_by"`
	Auto       bool                 `json:"auto,omitempty"`
}

// ApprovalRequestedPayload opens a confirmation window for a task
type ApprovalRequestedPayload struct {
	MissionID         string         `json:"mission_id"`
	TaskID            string         `json:"task_id"`
	Risk              types.RiskTier `json:"risk"`
	CountdownSeconds  int            `json:"countdown_seconds"`
	ApproversRequired int            `json:"approvers_required"`
	Deadline          time.Time      `json:"deadline"`
}

// ApprovalGrantedPayload settles a confirmation window positively
type ApprovalGrantedPayload struct {
	MissionID string   `json:"mission_id"`
	TaskID    string   `json:"task_id"`
	Approvers []string `json:"approvers"`
}

// ApprovalRejectedPayload settles a confirmation window negatively
type ApprovalRejectedPayload struct {
	MissionID string `json:"mission_id"`
	TaskID    string `json:"task_id"`
	Approver  string `json:"approver"`
	Reason    string `json:"reason,omitempty"`
}

// CommitExpiredPayload records a lapsed confirmation window
type CommitExpiredPayload struct {
	MissionID string    `json:"mission_id"`
	TaskID    string    `json:"task_id"`
	Deadline  time.Time `json:"deadline"`
}

// CapabilityUnlockedPayload records an evolution stage advancement
type CapabilityUnlockedPayload struct {
	Stage        types.Stage        `json:"stage"`
	Successes    int                `json:"successes"`
	Capabilities []types.Capability `json:"capabilities"`
}

// MissionSnapshotPayload checkpoints a full mission for fast recovery
type MissionSnapshotPayload struct {
	Mission *types.Mission `json:"mission"`
	Tasks   []*types.Task  `json:"tasks,omitempty"`
}

// CapacityExhaustedPayload records a task queueing on a full worker pool
type CapacityExhaustedPayload struct {
	MissionID string           `json:"mission_id"`
	TaskID    string           `json:"task_id"`
	Kind      types.WorkerKind `json:"kind"`
}
