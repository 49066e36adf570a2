package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/types"
)

// fakeChecker grants exactly the capabilities in its set
type fakeChecker struct {
	granted map[types.Capability]bool
}

func (f *fakeChecker) Permitted(c types.Capability) bool { return f.granted[c] }

func awakened() *fakeChecker {
	return &fakeChecker{granted: map[types.Capability]bool{
		types.CapabilityRecall:      true,
		types.CapabilityWorkerSpawn: true,
	}}
}

func scoutDesc() *types.WorkerDescriptor {
	return &types.WorkerDescriptor{
		Kind:           types.WorkerKindScout,
		RiskLevel:      types.TierE,
		TimeoutDefault: 10 * time.Second,
	}
}

func reversibleTask(kind types.WorkerKind, tier types.RiskTier) *types.Task {
	return &types.Task{
		ID:         "t-1",
		MissionID:  "m-1",
		Kind:       kind,
		RiskTier:   tier,
		Reversible: true,
		Params:     map[string]string{},
	}
}

func TestClassify(t *testing.T) {
	cfg := config.DefaultRuntime()

	tests := []struct {
		name string
		task *types.Task
		desc *types.WorkerDescriptor
		want types.RiskTier
	}{
		{
			name: "declared tier wins when stricter",
			task: reversibleTask(types.WorkerKindScout, types.TierC),
			desc: scoutDesc(),
			want: types.TierC,
		},
		{
			name: "descriptor risk wins when stricter",
			task: reversibleTask(types.WorkerKindBuilder, types.TierE),
			desc: &types.WorkerDescriptor{Kind: types.WorkerKindBuilder, RiskLevel: types.TierB},
			want: types.TierB,
		},
		{
			name: "irreversible is never below A",
			task: &types.Task{ID: "t-2", Kind: types.WorkerKindBuilder, RiskTier: types.TierD, Reversible: false},
			desc: scoutDesc(),
			want: types.TierA,
		},
		{
			name: "empty tier defaults to E",
			task: reversibleTask(types.WorkerKindScout, ""),
			desc: scoutDesc(),
			want: types.TierE,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.task, tt.desc, cfg))
		})
	}
}

func TestClassifyConfigOverrideOnlyTightens(t *testing.T) {
	cfg := config.DefaultRuntime()
	cfg.Governance.RiskOverrides[types.WorkerKindScout] = types.TierB
	assert.Equal(t, types.TierB, Classify(reversibleTask(types.WorkerKindScout, types.TierE), scoutDesc(), cfg))

	// An override looser than the declared tier does not lower it
	cfg.Governance.RiskOverrides[types.WorkerKindScout] = types.TierE
	assert.Equal(t, types.TierC, Classify(reversibleTask(types.WorkerKindScout, types.TierC), scoutDesc(), cfg))
}

func TestEvaluateLowTiersActionReady(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())
	cfg := config.DefaultRuntime()

	for _, tier := range []types.RiskTier{types.TierE, types.TierD} {
		d := gate.Evaluate(reversibleTask(types.WorkerKindScout, tier), scoutDesc(), cfg)
		assert.Equal(t, types.CommitActionReady, d.State)
		assert.Equal(t, 0, d.CountdownSeconds)
		assert.Empty(t, d.Reason)
	}

	d := gate.Evaluate(reversibleTask(types.WorkerKindScout, types.TierC), scoutDesc(), cfg)
	assert.Equal(t, types.CommitActionReady, d.State)
	assert.Equal(t, "logged", d.Reason)
}

func TestEvaluateTierANeedsConfirm(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())

	task := &types.Task{
		ID:         "t-del",
		Kind:       types.WorkerKindBuilder,
		RiskTier:   types.TierA,
		Reversible: false,
		Params:     map[string]string{},
	}
	d := gate.Evaluate(task, &types.WorkerDescriptor{Kind: types.WorkerKindBuilder, RiskLevel: types.TierC}, config.DefaultRuntime())

	assert.Equal(t, types.CommitNeedsConfirm, d.State)
	assert.Equal(t, types.TierA, d.Risk)
	assert.Equal(t, 10, d.CountdownSeconds)
	assert.Equal(t, 1, d.ApproversRequired)
}

func TestEvaluateTierSDualApproval(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())
	cfg := config.DefaultRuntime()
	cfg.Governance.DualApprovalForS = true

	task := &types.Task{ID: "t-s", Kind: types.WorkerKindCustom, RiskTier: types.TierS, Reversible: false}
	d := gate.Evaluate(task, &types.WorkerDescriptor{Kind: types.WorkerKindCustom, RiskLevel: types.TierS}, cfg)

	assert.Equal(t, types.CommitNeedsConfirm, d.State)
	assert.Equal(t, 30, d.CountdownSeconds)
	assert.Equal(t, 2, d.ApproversRequired)
}

func TestEvaluateTierBAutonomousChain(t *testing.T) {
	cfg := config.DefaultRuntime()
	task := reversibleTask(types.WorkerKindBuilder, types.TierB)
	desc := &types.WorkerDescriptor{Kind: types.WorkerKindBuilder, RiskLevel: types.TierB}

	// Without AUTONOMOUS_CHAIN the B tier waits for confirmation
	gate := NewGate(config.DefaultDoctrine(), awakened())
	d := gate.Evaluate(task, desc, cfg)
	assert.Equal(t, types.CommitNeedsConfirm, d.State)
	assert.Equal(t, 3, d.CountdownSeconds)
	assert.Equal(t, 0, d.ApproversRequired)

	// With it, B runs unattended but stays logged
	checker := awakened()
	checker.granted[types.CapabilityAutonomousChain] = true
	gate = NewGate(config.DefaultDoctrine(), checker)
	d = gate.Evaluate(task, desc, cfg)
	assert.Equal(t, types.CommitActionReady, d.State)
	assert.Equal(t, "logged:autonomous_chain", d.Reason)
}

func TestEvaluateMissingCapabilityBlocks(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), &fakeChecker{granted: map[types.Capability]bool{}})

	d := gate.Evaluate(reversibleTask(types.WorkerKindScout, types.TierE), scoutDesc(), config.DefaultRuntime())
	assert.Equal(t, types.CommitBlocked, d.State)
	assert.Equal(t, "capability:WORKER_SPAWN", d.Reason)
}

func TestEvaluateUnregisteredKindBlocksOnDoctrine(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())

	d := gate.Evaluate(reversibleTask("phantom", types.TierE), nil, config.DefaultRuntime())
	assert.Equal(t, types.CommitBlocked, d.State)
	assert.Equal(t, "doctrine:no_artifact_no_existence:phantom", d.Reason)
}

func TestEvaluateSkipVerifyIrreversibleBlocks(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())

	task := &types.Task{
		ID:         "t-sv",
		Kind:       types.WorkerKindBuilder,
		Reversible: false,
		Params:     map[string]string{ParamSkipVerify: "true"},
	}
	d := gate.Evaluate(task, &types.WorkerDescriptor{Kind: types.WorkerKindBuilder, RiskLevel: types.TierC}, config.DefaultRuntime())
	assert.Equal(t, types.CommitBlocked, d.State)
	assert.Equal(t, "doctrine:no_verification_rejected", d.Reason)
}

func TestEvaluateWhitelist(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())
	cfg := config.DefaultRuntime()
	cfg.Governance.Whitelist = []string{"ops@example.com"}

	task := reversibleTask(types.WorkerKindScout, types.TierE)
	task.Params[ParamRecipient] = "stranger@example.com"
	d := gate.Evaluate(task, scoutDesc(), cfg)
	assert.Equal(t, types.CommitBlocked, d.State)
	assert.Equal(t, "whitelist:stranger@example.com", d.Reason)

	task.Params[ParamRecipient] = "ops@example.com"
	d = gate.Evaluate(task, scoutDesc(), cfg)
	assert.Equal(t, types.CommitActionReady, d.State)
}

func TestEvaluateSpendCaps(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())
	cfg := config.DefaultRuntime()
	cfg.Workers.MaxCostPerTask = 100

	task := reversibleTask(types.WorkerKindScout, types.TierE)
	task.Params[ParamCostEstimate] = "500"
	d := gate.Evaluate(task, scoutDesc(), cfg)
	assert.Equal(t, types.CommitBlocked, d.State)
	assert.Contains(t, d.Reason, "caps:cost_exceeds_task_cap")

	task.Params[ParamCostEstimate] = "50"
	d = gate.Evaluate(task, scoutDesc(), cfg)
	assert.Equal(t, types.CommitActionReady, d.State)
}

func TestEvaluateDisabledKindBlocks(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())
	cfg := config.DefaultRuntime()
	cfg.Workers.MaxPerKind[types.WorkerKindScout] = 0

	d := gate.Evaluate(reversibleTask(types.WorkerKindScout, types.TierE), scoutDesc(), cfg)
	assert.Equal(t, types.CommitBlocked, d.State)
	assert.Equal(t, "caps:kind_disabled:scout", d.Reason)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	gate := NewGate(config.DefaultDoctrine(), awakened())
	cfg := config.DefaultRuntime()
	task := reversibleTask(types.WorkerKindScout, types.TierC)

	first := gate.Evaluate(task, scoutDesc(), cfg)
	second := gate.Evaluate(task, scoutDesc(), cfg)
	assert.Equal(t, first, second)
}
