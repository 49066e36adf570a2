/*
Package types defines the core data structures used throughout Aegis.

This package contains all fundamental types that represent the Aegis domain
model, including missions, tasks, risk tiers, evolution stages, capabilities,
commit decisions, artifacts, and worker results. These types are used by all
other packages for state management, governance, and replay logic.

# Architecture

The types package is the foundation of the Aegis data model. It defines:

  - Mission lifecycle (goal, category, state, history)
  - Task execution state and dispatch gating
  - Risk tiers (E trivial through S severe) with a total order
  - Evolution stages (DORMANT through APEX) earned by success history
  - Capability names the runtime may hold per stage
  - Commit verdicts (ACTION_READY, NEEDS_CONFIRM, BLOCKED)
  - Artifact versioning, content addressing, and review status
  - Worker results and component-wise cost accounting

All types are designed to be:
  - Serializable (JSON, for ledger payloads and CLI output)
  - Replayable (state is always the fold of recorded history)
  - Self-documenting (string-typed enums, clear field names)
  - Validated (constants for enums, ordering helpers)

# Core Types

Mission Lifecycle:
  - Mission: Operator-requested unit of work with history
  - MissionState: Created, queued, running, paused, or terminal
  - StateChange: One append-only history record

Task Execution:
  - Task: Unit dispatched to workers, gated by a commit decision
  - TaskState: Pending, ready, running, or terminal
  - WorkerKind: Scout, builder, verify, or custom plugin family

Governance:
  - RiskTier: E/D/C/B/A/S blast-radius ranking with Ord/AtLeast/Stricter
  - Stage: Monotonic permission level (DORMANT..APEX)
  - Capability: Named action family (WORKER_SPAWN, AUTO_APPROVE, ...)
  - CommitDecision: The verdict assigned to a task before dispatch

Outputs:
  - Artifact: Versioned, content-addressed, reviewable task output
  - WorkerResult: The only channel for a worker's effects
  - Cost: Time, token, and API-call accounting

# State Machines

Mission states:

	created ──▶ queued ──▶ running ──▶ success
	                │         │  ▲
	                │         ▼  │
	                │       paused ──▶ aborted
	                │         │
	                ▼         ▼
	            rejected   failure

Task states:

	pending ──▶ ready ──▶ running ──▶ succeeded
	                         │   ▲
	                         │   └── (retry)
	                         ├──▶ failed
	                         └──▶ aborted

Terminal states admit no further transitions; both MissionState and
TaskState expose Terminal() for this check.

# Risk and Stage Ordering

RiskTier and Stage are string-typed but totally ordered through Ord().
Unknown risk tiers rank as S so ties always go to the stricter side:

	types.Stricter(types.TierB, types.TierD) // TierB
	types.TierA.AtLeast(types.TierC)         // true

# Usage

Creating a mission:

	m := &types.Mission{
		ID:       uuid.New().String(),
		Goal:     "survey the data directory",
		Category: "scout",
		State:    types.MissionStateCreated,
		Rank:     types.TierE,
	}

Folding task risk into mission rank:

	m.Rank = types.Stricter(m.Rank, task.RiskTier)

Summing dispatch costs:

	total := types.Cost{}
	for _, r := range results {
		total = total.Add(r.Cost)
	}

# Integration Points

This package is imported by:

  - pkg/ledger: Event payloads reference these types
  - pkg/mission: State machine and engine operate on Mission/Task
  - pkg/governance: Commit verdicts from RiskTier and Stage
  - pkg/capability: Stage progression and capability grants
  - pkg/worker: Plugin descriptors and results
  - pkg/projector: Read models fold ledger entries into these types

# See Also

  - pkg/ledger: Durable event record for every state change
  - pkg/governance: How RiskTier maps to commit verdicts
  - pkg/capability: How Stage advances with success history
*/
package types
