package projector

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aegiskernel/aegis/pkg/capability"
	"github.com/aegiskernel/aegis/pkg/ledger"
	"github.com/aegiskernel/aegis/pkg/types"
)

// MissionView is the projected state of one mission and its tasks
type MissionView struct {
	Mission *types.Mission
	Tasks   map[string]*types.Task
}

// TimelineEntry is one mission-scoped point on the audit timeline
type TimelineEntry struct {
	Seq  uint64    `json:"seq"`
	TS   time.Time `json:"ts"`
	Kind string    `json:"kind"`
}

// PendingCommit is one open confirmation window in the projected queue.
// It carries enough of the original decision for the commit engine to
// restore the countdown with its wall-clock deadline after a restart.
type PendingCommit struct {
	MissionID         string         `json:"mission_id"`
	TaskID            string         `json:"task_id"`
	Risk              types.RiskTier `json:"risk"`
	CountdownSeconds  int            `json:"countdown_seconds"`
	ApproversRequired int            `json:"approvers_required"`
	Deadline          time.Time      `json:"deadline"`
}

// Projector folds the ledger into in-memory views. Application is
// single-threaded: entries are applied in ledger order, and for any ledger
// prefix the resulting views are a pure function of that prefix. All views
// are caches; the ledger remains the only truth.
type Projector struct {
	mu sync.RWMutex

	missions    map[string]*MissionView
	timeline    map[string][]TimelineEntry
	artifacts   map[string]*types.Artifact
	commitQueue map[string]PendingCommit

	stage     types.Stage
	successes uint64

	live    int
	perKind map[types.WorkerKind]int

	lastSeq uint64
}

// New creates an empty projector
func New() *Projector {
	return &Projector{
		missions:    make(map[string]*MissionView),
		timeline:    make(map[string][]TimelineEntry),
		artifacts:   make(map[string]*types.Artifact),
		commitQueue: make(map[string]PendingCommit),
		stage:       types.StageDormant,
		perKind:     make(map[types.WorkerKind]int),
	}
}

// Replay folds every ledger entry from fromSeq (exclusive) forward
func (p *Projector) Replay(led *ledger.Ledger, fromSeq uint64) error {
	entries, err := led.Tail(fromSeq)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := p.Apply(e); err != nil {
			return fmt.Errorf("apply seq %d: %w", e.Seq, err)
		}
	}
	return nil
}

// Apply folds one entry into the views. Entries must arrive in ledger
// order; stale or duplicate sequences are ignored.
func (p *Projector) Apply(e *ledger.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Seq <= p.lastSeq {
		return nil
	}
	p.lastSeq = e.Seq

	switch e.Kind {
	case ledger.KindMissionCreated:
		var payload ledger.MissionCreatedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		p.missions[payload.Mission.ID] = &MissionView{
			Mission: payload.Mission,
			Tasks:   make(map[string]*types.Task),
		}
		p.appendTimeline(payload.Mission.ID, e)

	case ledger.KindMissionDecomposed:
		var payload ledger.MissionDecomposedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		view := p.missions[payload.MissionID]
		if view == nil {
			return nil
		}
		rank := types.TierE
		for _, t := range payload.Tasks {
			view.Tasks[t.ID] = t
			view.Mission.TaskIDs = append(view.Mission.TaskIDs, t.ID)
			rank = types.Stricter(rank, t.RiskTier)
		}
		view.Mission.Rank = rank
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindMissionStateChanged:
		var payload ledger.MissionStateChangedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		view := p.missions[payload.MissionID]
		if view == nil {
			return nil
		}
		view.Mission.State = payload.To
		view.Mission.UpdatedAt = e.TS
		view.Mission.History = append(view.Mission.History, types.StateChange{
			State:     payload.To,
			Timestamp: e.TS,
			Reason:    payload.Reason,
		})
		if payload.To == types.MissionStateSuccess {
			p.successes++
			if next := capability.StageFor(p.successes); next.Ord() > p.stage.Ord() {
				p.stage = next
			}
		}
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindTaskCreated:
		var payload ledger.TaskCreatedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if view := p.missions[payload.Task.MissionID]; view != nil {
			if _, ok := view.Tasks[payload.Task.ID]; !ok {
				view.Tasks[payload.Task.ID] = payload.Task
			}
		}

	case ledger.KindTaskCommitDecided:
		var payload ledger.TaskCommitDecidedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if payload.Decision.State == types.CommitBlocked {
			if t := p.task(payload.MissionID, payload.Decision.TaskID); t != nil {
				t.State = types.TaskStateFailed
			}
		}
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindTaskDispatched:
		var payload ledger.TaskDispatchedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if t := p.task(payload.MissionID, payload.TaskID); t != nil {
			if t.State != types.TaskStateRunning {
				p.live++
				p.perKind[t.Kind]++
			}
			t.State = types.TaskStateRunning
			t.Attempts = payload.Attempt
		}
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindTaskCompleted:
		var payload ledger.TaskCompletedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if t := p.task(payload.MissionID, payload.TaskID); t != nil {
			p.release(t)
			if payload.Status == types.ResultFailure {
				t.State = types.TaskStateFailed
			} else {
				t.State = types.TaskStateSucceeded
			}
			t.Attempts = payload.Attempts
			t.ArtifactIDs = payload.ArtifactIDs
		}
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindTaskAborted:
		var payload ledger.TaskAbortedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if t := p.task(payload.MissionID, payload.TaskID); t != nil {
			p.release(t)
			t.State = types.TaskStateAborted
		}
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindApprovalRequested:
		var payload ledger.ApprovalRequestedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		p.commitQueue[payload.TaskID] = PendingCommit{
			MissionID:         payload.MissionID,
			TaskID:            payload.TaskID,
			Risk:              payload.Risk,
			CountdownSeconds:  payload.CountdownSeconds,
			ApproversRequired: payload.ApproversRequired,
			Deadline:          payload.Deadline,
		}
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindApprovalGranted:
		var payload ledger.ApprovalGrantedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		delete(p.commitQueue, payload.TaskID)
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindApprovalRejected:
		var payload ledger.ApprovalRejectedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		delete(p.commitQueue, payload.TaskID)
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindCommitExpired:
		var payload ledger.CommitExpiredPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		delete(p.commitQueue, payload.TaskID)
		p.appendTimeline(payload.MissionID, e)

	case ledger.KindArtifactCreated:
		var payload ledger.ArtifactCreatedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		p.artifacts[payload.Artifact.ID] = payload.Artifact

	case ledger.KindArtifactReviewed:
		var payload ledger.ArtifactReviewedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		if a := p.artifacts[payload.ArtifactID]; a != nil {
			a.Status = payload.Status
			a.ReviewedBy = payload.ReviewedBy
			a.ReviewedAt = e.TS
		}

	case ledger.KindCapabilityUnlocked:
		var payload ledger.CapabilityUnlockedPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		// Stage is monotonic: replay never regresses it
		if payload.Stage.Ord() > p.stage.Ord() {
			p.stage = payload.Stage
		}
		if uint64(payload.Successes) > p.successes {
			p.successes = uint64(payload.Successes)
		}

	case ledger.KindMissionSnapshot:
		var payload ledger.MissionSnapshotPayload
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return err
		}
		view := &MissionView{
			Mission: payload.Mission,
			Tasks:   make(map[string]*types.Task),
		}
		for _, t := range payload.Tasks {
			view.Tasks[t.ID] = t
		}
		p.missions[payload.Mission.ID] = view

	default:
		// DoctrineLoaded, ConfigChanged, CapacityExhausted and future
		// kinds touch no view
	}

	return nil
}

func (p *Projector) task(missionID, taskID string) *types.Task {
	if view := p.missions[missionID]; view != nil {
		return view.Tasks[taskID]
	}
	return nil
}

func (p *Projector) release(t *types.Task) {
	if t.State == types.TaskStateRunning {
		p.live--
		if p.perKind[t.Kind] > 0 {
			p.perKind[t.Kind]--
		}
		if p.live < 0 {
			p.live = 0
		}
	}
}

func (p *Projector) appendTimeline(missionID string, e *ledger.Entry) {
	if missionID == "" {
		return
	}
	p.timeline[missionID] = append(p.timeline[missionID], TimelineEntry{
		Seq:  e.Seq,
		TS:   e.TS,
		Kind: e.Kind,
	})
}

// Mission returns the projected view of one mission
func (p *Projector) Mission(missionID string) (*MissionView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	view, ok := p.missions[missionID]
	return view, ok
}

// Missions returns every projected mission
func (p *Projector) Missions() []*MissionView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*MissionView, 0, len(p.missions))
	for _, view := range p.missions {
		out = append(out, view)
	}
	return out
}

// Timeline returns the mission's audit timeline in ledger order
func (p *Projector) Timeline(missionID string) []TimelineEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]TimelineEntry(nil), p.timeline[missionID]...)
}

// Artifact returns projected artifact metadata
func (p *Projector) Artifact(artifactID string) (*types.Artifact, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.artifacts[artifactID]
	return a, ok
}

// Stage returns the projected evolution stage and success count
func (p *Projector) Stage() (types.Stage, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stage, p.successes
}

// CommitQueue returns the open confirmation windows
func (p *Projector) CommitQueue() []PendingCommit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PendingCommit, 0, len(p.commitQueue))
	for _, pc := range p.commitQueue {
		out = append(out, pc)
	}
	return out
}

// Utilization returns the projected worker occupancy
func (p *Projector) Utilization() types.Utilization {
	p.mu.RLock()
	defer p.mu.RUnlock()
	perKind := make(map[types.WorkerKind]int, len(p.perKind))
	for k, v := range p.perKind {
		if v > 0 {
			perKind[k] = v
		}
	}
	return types.Utilization{Live: p.live, PerKind: perKind}
}

// LastSeq returns the sequence of the last applied entry
func (p *Projector) LastSeq() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeq
}
