package capability

import (
	"sync"

	"github.com/aegiskernel/aegis/pkg/types"
)

// Stage thresholds: cumulative successful missions required to reach each
// stage. Stages are append-only monotonic; replay can only raise them.
var thresholds = []struct {
	count uint64
	stage types.Stage
}{
	{1, types.StageAwakening},
	{10, types.StageForging},
	{50, types.StageSovereign},
	{200, types.StageApex},
}

var permittedByStage = map[types.Stage][]types.Capability{
	types.StageDormant: {},
	types.StageAwakening: {
		types.CapabilityRecall,
		types.CapabilityWorkerSpawn,
	},
	types.StageForging: {
		types.CapabilityRecall,
		types.CapabilityWorkerSpawn,
		types.CapabilityAutoApprove,
	},
	types.StageSovereign: {
		types.CapabilityRecall,
		types.CapabilityWorkerSpawn,
		types.CapabilityAutoApprove,
		types.CapabilityAutonomousChain,
	},
	types.StageApex: {
		types.CapabilityRecall,
		types.CapabilityWorkerSpawn,
		types.CapabilityAutoApprove,
		types.CapabilityAutonomousChain,
		types.CapabilityExternalAction,
	},
}

// PermittedSet returns the capability names permitted at a stage
func PermittedSet(stage types.Stage) []types.Capability {
	return append([]types.Capability(nil), permittedByStage[stage]...)
}

// StageFor returns the stage earned by a cumulative success count
func StageFor(successes uint64) types.Stage {
	stage := types.StageDormant
	for _, t := range thresholds {
		if successes >= t.count {
			stage = t.stage
		}
	}
	return stage
}

// Registry tracks the current evolution stage and cumulative successful
// mission count. Stage is never downgraded; if state is corrupted it is
// recomputed by full ledger replay.
type Registry struct {
	mu        sync.RWMutex
	stage     types.Stage
	successes uint64
}

// NewRegistry starts at DORMANT with no history
func NewRegistry() *Registry {
	return &Registry{stage: types.StageDormant}
}

// RecordSuccess increments the successful-mission counter. When a threshold
// is crossed it returns the new stage, its capability set, and true; the
// caller appends the CapabilityUnlocked event.
func (r *Registry) RecordSuccess() (types.Stage, []types.Capability, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.successes++
	next := StageFor(r.successes)
	if next.Ord() <= r.stage.Ord() {
		return r.stage, nil, false
	}
	r.stage = next
	return next, PermittedSet(next), true
}

// Restore raises the registry to at least the given state during replay.
// It never lowers either value: stage monotonicity holds across replays.
func (r *Registry) Restore(stage types.Stage, successes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if successes > r.successes {
		r.successes = successes
	}
	if stage.Ord() > r.stage.Ord() {
		r.stage = stage
	}
}

// Permitted reports whether the capability is in the current stage's set.
// It is a pure function of stage.
func (r *Registry) Permitted(cap types.Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range permittedByStage[r.stage] {
		if c == cap {
			return true
		}
	}
	return false
}

// Stage returns the current evolution stage
func (r *Registry) Stage() types.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

// Successes returns the cumulative successful mission count
func (r *Registry) Successes() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.successes
}
