/*
Package kernel assembles every Aegis subsystem into a single bootable unit
and exposes the control-plane operations the CLI calls.

# Architecture

	┌──────────────────────── KERNEL ─────────────────────────┐
	│                                                         │
	│  boot order:                                            │
	│    dirs ─▶ doctrine ─▶ runtime cfg ─▶ bolt ─▶ ledger    │
	│      ─▶ replay (projector) ─▶ capability restore        │
	│      ─▶ registry/limits/dispatcher/commit/gate          │
	│      ─▶ engine ─▶ vault ─▶ restore missions+commits     │
	│      ─▶ DoctrineLoaded append ─▶ collector ─▶ health    │
	│                                                         │
	│  live wiring:                                           │
	│    ledger.SetOnAppend ──▶ projector.Apply               │
	│                       └─▶ events.Broker (followers)     │
	└─────────────────────────────────────────────────────────┘

The kernel owns all subsystems; nothing in the tree uses package-level
singletons. Boot refuses to proceed on a doctrine violation (exit code 4),
a malformed config (ErrConfig, exit 2), or a storage failure (ErrStorage,
exit 3).

# Control Plane

Missions: CreateMission (idempotency-key aware), PauseMission,
ResumeMission, AbortMission, GetMission, ListMissions, MissionTimeline.

Approvals: PendingApprovals, ApproveTask, RejectTask.

Artifacts: GetArtifact, ReadArtifact, MissionArtifacts, ReviewArtifact.

Ledger: TailLedger, FollowLedger/UnfollowLedger, VerifyLedger.

Config: Runtime, Doctrine, UpdateRuntime (validates, appends
ConfigChanged, then swaps).

# Restart Semantics

Every boot replays the full ledger into the projector, restores the
capability stage (ledger fold, then the bolt snapshot, whichever is
higher), re-adopts non-terminal missions with deep copies of their
projected state, and rebuilds open approval windows with their original
wall-clock deadlines.

# Usage

	k, err := kernel.New(kernel.Options{DataDir: dir})
	if err != nil { ... }
	k.Start()
	defer k.Shutdown()

	m, err := k.CreateMission("survey the repo", "scout", nil, "")

# Integration Points

  - cmd/aegis: Every CLI command boots a kernel over --data-dir
  - pkg/metrics: The kernel is the collector's Source
  - pkg/health: Ledger and index probes feed /healthz
*/
package kernel
