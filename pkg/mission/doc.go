/*
Package mission implements the mission state machine, the planner, and the
engine that drives missions from goal to terminal state.

# Architecture

	┌────────────────── MISSION ENGINE ───────────────────┐
	│                                                     │
	│  Create ──▶ plan (Planner) ──▶ tasks w/ deps        │
	│                  │                                  │
	│                  ▼                                  │
	│  run loop: claim ready tasks ──▶ governance gate    │
	│                  │                    │             │
	│                  │          NEEDS_CONFIRM? wait     │
	│                  ▼                    │             │
	│            dispatchWithRetry ◀────────┘             │
	│                  │                                  │
	│                  ▼                                  │
	│  completeTask ──▶ ledger append ──▶ finish()        │
	└─────────────────────────────────────────────────────┘

The engine owns one goroutine per running mission. Tasks become ready when
their dependencies succeed; each ready task is classified and gated before
dispatch, and every transition is appended to the ledger before the
in-memory mission reflects it.

# Core Components

State machine (fsm.go):
  - CanTransition / Transition: The legal mission transitions
  - FoldHistory: Recomputes state from an append-only history

Planner (planner.go):
  - Planner interface: Plan(ctx, mission, cfg) ([]*Task, error)
  - FallbackPlanner: Keyword decomposition into scout/builder/verify
    steps with linear dependencies

Engine (engine.go):
  - Create/CreateWithKey: Records MissionCreated (idempotency key aware)
  - Start/Pause/Resume/Abort: Lifecycle control
  - Approve/Reject: Resolves pending commit windows
  - Restore: Re-adopts non-terminal missions after a restart
  - Retry: Exponential backoff, base 1s, factor 2, jitter ±25%, cap 30s

# Commit Gating

Before dispatch every task gets a governance verdict. ACTION_READY
dispatches immediately. NEEDS_CONFIRM parks the task until an approval,
a rejection, or window expiry; the verdict arrives through the commit
engine's callbacks. BLOCKED fails the task with the gate's reason.

# Restart Semantics

A restored mission keeps its recorded decomposition and picks up where
the previous process left off: completed tasks stay completed, in-flight
tasks are re-gated, and open approval windows keep their original
wall-clock deadlines.

# Integration Points

  - pkg/governance: Classification and commit verdicts
  - pkg/commit: Countdown windows for NEEDS_CONFIRM tasks
  - pkg/swarm: Dispatch, admission, and result merging
  - pkg/capability: Success counting drives stage advancement
  - pkg/ledger: Every transition is appended before taking effect
*/
package mission
