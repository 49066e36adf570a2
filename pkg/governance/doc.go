/*
Package governance classifies task risk and issues the commit verdict that
gates every dispatch.

Classification starts from the worker descriptor's risk level, folds in
config overrides (which may only tighten), and forces at least tier A for
irreversible tasks. The gate then walks three checks in order: doctrine
(registered kind, verify not skipped for irreversible work), capability
(the current stage must grant WORKER_SPAWN plus everything the descriptor
lists), and per-tier policy.

Tier policy:

	E, D      ACTION_READY, autonomous
	C         ACTION_READY, reason logged
	B         NEEDS_CONFIRM 3s, auto-resolves when AUTONOMOUS_CHAIN is held
	A         NEEDS_CONFIRM 10s, one approver
	S         NEEDS_CONFIRM 30s, two approvers when DualApprovalForS

A DORMANT stage holds no capabilities, so the capability check blocks all
dispatch until the first stage unlock.

The gate is pure: it never touches the ledger or timers. Callers record
the TaskCommitDecided entry and, for NEEDS_CONFIRM, register the window
with the commit engine.
*/
package governance
