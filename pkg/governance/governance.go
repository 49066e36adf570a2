package governance

import (
	"fmt"
	"strconv"

	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/types"
)

// Params understood by the gate. Workers declare their intent through task
// params; the gate never inspects worker code.
const (
	// ParamRecipient names an external recipient; it must be whitelisted.
	ParamRecipient = "recipient"

	// ParamCostEstimate is the declared token spend for the task.
	ParamCostEstimate = "cost_estimate"

	// ParamSkipVerify opts a task out of its verify step. Irreversible
	// tasks may not do this (no_verification_rejected).
	ParamSkipVerify = "skip_verify"
)

// PermissionChecker answers capability queries for the current stage
type PermissionChecker interface {
	Permitted(cap types.Capability) bool
}

// tierRule is one row of the risk tier table
type tierRule struct {
	autonomous       bool
	approvalRequired bool
	countdownSeconds int
}

var tierRules = map[types.RiskTier]tierRule{
	types.TierE: {autonomous: true, approvalRequired: false, countdownSeconds: 0},
	types.TierD: {autonomous: true, approvalRequired: false, countdownSeconds: 0},
	types.TierC: {autonomous: true, approvalRequired: false, countdownSeconds: 0},
	types.TierB: {autonomous: false, approvalRequired: false, countdownSeconds: 3},
	types.TierA: {autonomous: false, approvalRequired: true, countdownSeconds: 10},
	types.TierS: {autonomous: false, approvalRequired: true, countdownSeconds: 30},
}

// Gate classifies task risk and produces commit decisions. Evaluation is a
// pure function of (task, descriptor, config, stage): re-evaluating a task
// with identical inputs yields the same decision.
type Gate struct {
	doctrine *config.Doctrine
	caps     PermissionChecker
}

// NewGate creates a governance gate bound to the loaded doctrine and the
// capability registry
func NewGate(doctrine *config.Doctrine, caps PermissionChecker) *Gate {
	return &Gate{doctrine: doctrine, caps: caps}
}

// Classify derives the effective risk tier for a task. Declared tier,
// descriptor risk level, reversibility, and config overrides are combined;
// ties always go to the stricter side.
func Classify(task *types.Task, desc *types.WorkerDescriptor, cfg *config.Runtime) types.RiskTier {
	tier := task.RiskTier
	if tier == "" {
		tier = types.TierE
	}
	if desc != nil {
		tier = types.Stricter(tier, desc.RiskLevel)
	}
	if !task.Reversible {
		// Irreversible work is never below A
		tier = types.Stricter(tier, types.TierA)
	}
	if override, ok := cfg.Governance.RiskOverrides[task.Kind]; ok {
		tier = types.Stricter(tier, override)
	}
	return tier
}

// Evaluate runs the gate chain for one task: doctrine, capability, caps,
// then the risk tier table. The outcome is encoded in the decision; BLOCKED
// decisions carry exactly one named missing prerequisite.
func (g *Gate) Evaluate(task *types.Task, desc *types.WorkerDescriptor, cfg *config.Runtime) types.CommitDecision {
	tier := Classify(task, desc, cfg)

	if reason, ok := g.doctrineGate(task, desc); !ok {
		return blocked(task, tier, reason)
	}
	if reason, ok := g.capabilityGate(desc); !ok {
		return blocked(task, tier, reason)
	}
	if reason, ok := capsGate(task, cfg); !ok {
		return blocked(task, tier, reason)
	}

	return g.tierDecision(task, tier, cfg)
}

// doctrineGate enforces no_artifact_no_existence and no_verification_rejected
func (g *Gate) doctrineGate(task *types.Task, desc *types.WorkerDescriptor) (string, bool) {
	if desc == nil {
		// An unregistered kind can produce no artifact
		return fmt.Sprintf("doctrine:no_artifact_no_existence:%s", task.Kind), false
	}
	if task.Params[ParamSkipVerify] == "true" && !task.Reversible {
		return "doctrine:no_verification_rejected", false
	}
	return "", true
}

// capabilityGate requires WORKER_SPAWN plus every capability the worker
// descriptor declares
func (g *Gate) capabilityGate(desc *types.WorkerDescriptor) (string, bool) {
	required := append([]types.Capability{types.CapabilityWorkerSpawn}, desc.Capabilities...)
	for _, c := range required {
		if !g.caps.Permitted(c) {
			return fmt.Sprintf("capability:%s", c), false
		}
	}
	return "", true
}

// capsGate checks per-kind worker availability, spend caps, and the
// external-recipient whitelist
func capsGate(task *types.Task, cfg *config.Runtime) (string, bool) {
	if n, ok := cfg.Workers.MaxPerKind[task.Kind]; ok && n == 0 {
		return fmt.Sprintf("caps:kind_disabled:%s", task.Kind), false
	}

	if raw, ok := task.Params[ParamCostEstimate]; ok {
		est, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Sprintf("caps:cost_estimate_unparseable:%s", raw), false
		}
		if cfg.Workers.MaxCostPerTask > 0 && est > cfg.Workers.MaxCostPerTask {
			return fmt.Sprintf("caps:cost_exceeds_task_cap:%d>%d", est, cfg.Workers.MaxCostPerTask), false
		}
		if cfg.Governance.SpendCapTokens > 0 && est > cfg.Governance.SpendCapTokens {
			return fmt.Sprintf("caps:cost_exceeds_spend_cap:%d>%d", est, cfg.Governance.SpendCapTokens), false
		}
	}

	if recipient, ok := task.Params[ParamRecipient]; ok && recipient != "" {
		if !cfg.Governance.Whitelisted(recipient) {
			return fmt.Sprintf("whitelist:%s", recipient), false
		}
	}

	return "", true
}

// tierDecision maps the effective tier onto a commit state per the risk
// tier table
func (g *Gate) tierDecision(task *types.Task, tier types.RiskTier, cfg *config.Runtime) types.CommitDecision {
	rule := tierRules[tier]

	countdown := rule.countdownSeconds
	if window := int(cfg.Commit.ApprovalWindow.Seconds()); window > countdown {
		countdown = window
	}

	switch {
	case rule.autonomous:
		reason := ""
		if tier == types.TierC {
			reason = "logged"
		}
		return types.CommitDecision{
			TaskID: task.ID,
			State:  types.CommitActionReady,
			Reason: reason,
			Risk:   tier,
		}

	case tier == types.TierB && g.caps.Permitted(types.CapabilityAutonomousChain):
		// Conditional autonomy: B-tier runs unattended once the stage
		// has earned AUTONOMOUS_CHAIN, still logged with its countdown.
		return types.CommitDecision{
			TaskID: task.ID,
			State:  types.CommitActionReady,
			Reason: "logged:autonomous_chain",
			Risk:   tier,
		}

	default:
		approvers := 0
		if rule.approvalRequired {
			approvers = 1
			if tier == types.TierS && cfg.Governance.DualApprovalForS {
				approvers = 2
			}
		}
		return types.CommitDecision{
			TaskID:            task.ID,
			State:             types.CommitNeedsConfirm,
			Reason:            fmt.Sprintf("tier_%s_requires_confirmation", tier),
			Risk:              tier,
			CountdownSeconds:  countdown,
			ApproversRequired: approvers,
		}
	}
}

func blocked(task *types.Task, tier types.RiskTier, reason string) types.CommitDecision {
	return types.CommitDecision{
		TaskID: task.ID,
		State:  types.CommitBlocked,
		Reason: reason,
		Risk:   tier,
	}
}
