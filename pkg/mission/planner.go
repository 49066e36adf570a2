package mission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/types"
)

// Planner decomposes a mission goal into an ordered task DAG. External
// planners (LLM-backed) may be non-deterministic; their output is recorded
// verbatim in the ledger so replay never re-plans.
type Planner interface {
	Name() string
	Plan(ctx context.Context, m *types.Mission, cfg *config.Runtime) ([]*types.Task, error)
}

// FallbackPlanner is the built-in deterministic planner: a pure function
// of (goal, constraints, config). The same mission always yields the same
// task list, ids included.
type FallbackPlanner struct{}

func (FallbackPlanner) Name() string { return "fallback" }

// Plan splits the goal on "then" / ";" into a dependency chain and
// classifies each step by its leading verbs.
func (FallbackPlanner) Plan(_ context.Context, m *types.Mission, _ *config.Runtime) ([]*types.Task, error) {
	steps := splitGoal(m.Goal)
	if len(steps) == 0 {
		return nil, fmt.Errorf("mission %s: empty goal", m.ID)
	}

	tasks := make([]*types.Task, 0, len(steps))
	var prev string
	for i, step := range steps {
		kind, tier, reversible := classifyStep(step)
		task := &types.Task{
			ID:         deriveTaskID(m.ID, i),
			MissionID:  m.ID,
			Kind:       kind,
			RiskTier:   tier,
			Reversible: reversible,
			Retryable:  reversible,
			State:      types.TaskStatePending,
			CreatedAt:  m.CreatedAt,
			Params: map[string]string{
				"goal":     step,
				"category": m.Category,
			},
		}
		for k, v := range m.Constraints {
			task.Params[k] = v
		}
		if prev != "" {
			task.DependsOn = []string{prev}
		}
		prev = task.ID
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// destructive verbs force an irreversible high-risk builder task
var destructiveVerbs = []string{
	"delete", "remove", "destroy", "drop", "purge", "erase",
	"overwrite", "deploy", "send", "publish", "release",
}

var verifyVerbs = []string{"verify", "check", "test", "validate", "audit"}

var scoutVerbs = []string{
	"read", "scan", "list", "find", "inspect", "fetch",
	"search", "analyze", "summarize",
}

func classifyStep(step string) (types.WorkerKind, types.RiskTier, bool) {
	lower := strings.ToLower(step)
	for _, v := range destructiveVerbs {
		if containsWord(lower, v) {
			return types.WorkerKindBuilder, types.TierA, false
		}
	}
	for _, v := range verifyVerbs {
		if containsWord(lower, v) {
			return types.WorkerKindVerify, types.TierD, true
		}
	}
	for _, v := range scoutVerbs {
		if containsWord(lower, v) {
			return types.WorkerKindScout, types.TierE, true
		}
	}
	// Anything that changes state but is not destructive
	return types.WorkerKindBuilder, types.TierC, true
}

func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if strings.Trim(f, ".,!?:") == word {
			return true
		}
	}
	return false
}

func splitGoal(goal string) []string {
	normalized := strings.ReplaceAll(goal, " then ", ";")
	parts := strings.Split(normalized, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// deriveTaskID is stable across replans of the same mission
func deriveTaskID(missionID string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", missionID, index)))
	return "t-" + hex.EncodeToString(sum[:6])
}

// now is a seam for tests
var now = func() time.Time { return time.Now().UTC() }
