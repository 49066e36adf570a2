package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegiskernel/aegis/pkg/types"
)

// Built-in fallback plugins. They are deterministic over task params so
// that decomposition and dispatch stay replayable when no external plugin
// is installed. Real deployments register their own plugins per kind.

// ScoutWorker gathers read-only observations about the task subject
type ScoutWorker struct{}

func (ScoutWorker) Describe() types.WorkerDescriptor {
	return types.WorkerDescriptor{
		Kind:           types.WorkerKindScout,
		Capabilities:   []types.Capability{types.CapabilityRecall},
		RiskLevel:      types.TierE,
		TimeoutDefault: 10 * time.Second,
	}
}

func (ScoutWorker) Execute(ctx context.Context, task *types.Task) (*types.WorkerResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := []byte(fmt.Sprintf("observation for %s: %s", task.MissionID, paramSummary(task)))
	return &types.WorkerResult{
		Status: types.ResultSuccess,
		Data: map[string]any{
			"observed": paramSummary(task),
		},
		Artifacts: []*types.Artifact{newArtifact(task, types.ArtifactReport, content)},
		Cost:      types.Cost{TimeMS: 1, APICalls: 0},
	}, nil
}

// BuilderWorker produces the task's target output from scout observations
type BuilderWorker struct{}

func (BuilderWorker) Describe() types.WorkerDescriptor {
	return types.WorkerDescriptor{
		Kind:           types.WorkerKindBuilder,
		Capabilities:   []types.Capability{types.CapabilityWorkerSpawn},
		RiskLevel:      types.TierC,
		TimeoutDefault: 30 * time.Second,
	}
}

func (BuilderWorker) Execute(ctx context.Context, task *types.Task) (*types.WorkerResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if task.Params["fail"] == "true" {
		return &types.WorkerResult{
			Status: types.ResultFailure,
			Errors: []string{"builder: forced failure"},
			Cost:   types.Cost{TimeMS: 1},
		}, nil
	}

	content := []byte(fmt.Sprintf("built output for %s: %s", task.MissionID, paramSummary(task)))
	return &types.WorkerResult{
		Status: types.ResultSuccess,
		Data: map[string]any{
			"built": true,
		},
		Artifacts: []*types.Artifact{newArtifact(task, types.ArtifactCode, content)},
		Cost:      types.Cost{TimeMS: 2},
	}, nil
}

// VerifyWorker checks the build output and reports a verdict
type VerifyWorker struct{}

func (VerifyWorker) Describe() types.WorkerDescriptor {
	return types.WorkerDescriptor{
		Kind:           types.WorkerKindVerify,
		Capabilities:   []types.Capability{types.CapabilityRecall},
		RiskLevel:      types.TierD,
		TimeoutDefault: 15 * time.Second,
	}
}

func (VerifyWorker) Execute(ctx context.Context, task *types.Task) (*types.WorkerResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := []byte(fmt.Sprintf("verification for %s: pass", task.MissionID))
	return &types.WorkerResult{
		Status: types.ResultSuccess,
		Data: map[string]any{
			"verified": true,
		},
		Artifacts: []*types.Artifact{newArtifact(task, types.ArtifactLog, content)},
		Cost:      types.Cost{TimeMS: 1},
	}, nil
}

// RegisterBuiltins installs the fallback scout/builder/verify plugins
func RegisterBuiltins(r *Registry) error {
	for _, p := range []Plugin{ScoutWorker{}, BuilderWorker{}, VerifyWorker{}} {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func newArtifact(task *types.Task, typ types.ArtifactType, content []byte) *types.Artifact {
	sum := sha256.Sum256(content)
	return &types.Artifact{
		ID:            uuid.New().String(),
		MissionID:     task.MissionID,
		TaskID:        task.ID,
		Type:          typ,
		Version:       1,
		Status:        types.ArtifactPendingReview,
		ContentHash:   hex.EncodeToString(sum[:]),
		InputSnapshot: paramSummary(task),
		CreatedAt:     time.Now().UTC(),
		Content:       content,
	}
}

// paramSummary renders task params in a stable order
func paramSummary(task *types.Task) string {
	if len(task.Params) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(task.Params))
	for k := range task.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+task.Params[k])
	}
	return strings.Join(parts, " ")
}
