package mission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegiskernel/aegis/pkg/capability"
	"github.com/aegiskernel/aegis/pkg/commit"
	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/governance"
	"github.com/aegiskernel/aegis/pkg/ledger"
	"github.com/aegiskernel/aegis/pkg/swarm"
	"github.com/aegiskernel/aegis/pkg/types"
	"github.com/aegiskernel/aegis/pkg/worker"
)

type engineFixture struct {
	engine   *Engine
	led      *ledger.Ledger
	caps     *capability.Registry
	commits  *commit.Engine
	registry *worker.Registry
}

func newTestEngine(t *testing.T, stage types.Stage, mutate func(*config.Runtime)) *engineFixture {
	t.Helper()

	cfg := config.DefaultRuntime()
	if mutate != nil {
		mutate(cfg)
	}

	led, err := ledger.Open(t.TempDir(), "core")
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	caps := capability.NewRegistry()
	if stage != types.StageDormant {
		caps.Restore(stage, 1)
	}

	commits := commit.NewEngine()
	t.Cleanup(commits.Stop)

	registry := worker.NewRegistry()
	require.NoError(t, worker.RegisterBuiltins(registry))
	limits := worker.NewLimits(cfg.Workers)

	e := NewEngine(
		led,
		governance.NewGate(config.DefaultDoctrine(), caps),
		caps,
		commits,
		swarm.NewDispatcher(registry, limits),
		registry,
		config.NewStore(cfg),
		FallbackPlanner{},
	)
	return &engineFixture{engine: e, led: led, caps: caps, commits: commits, registry: registry}
}

func (f *engineFixture) kinds(t *testing.T) []string {
	t.Helper()
	entries, err := f.led.Read(ledger.Filter{})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind)
	}
	return out
}

// assertSubsequence checks that want appears in kinds in order
func assertSubsequence(t *testing.T, kinds, want []string) {
	t.Helper()
	i := 0
	for _, k := range kinds {
		if i < len(want) && k == want[i] {
			i++
		}
	}
	require.Equal(t, len(want), i, "kinds %v missing ordered subsequence %v", kinds, want)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countKind(kinds []string, kind string) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// holdWorker parks until released; after release it completes instantly
type holdWorker struct {
	release chan struct{}
	started chan struct{}
}

func (h *holdWorker) Describe() types.WorkerDescriptor {
	return types.WorkerDescriptor{
		Kind:           types.WorkerKindCustom,
		Capabilities:   []types.Capability{types.CapabilityRecall},
		RiskLevel:      types.TierE,
		TimeoutDefault: 5 * time.Second,
	}
}

func (h *holdWorker) Execute(ctx context.Context, task *types.Task) (*types.WorkerResult, error) {
	select {
	case h.started <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.release:
		return &types.WorkerResult{Status: types.ResultSuccess}, nil
	}
}

func TestScoutMissionEndToEnd(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)

	m, err := f.engine.Create("read file foo", "fs", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))
	f.engine.Wait()

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateSuccess, got.State)
	require.Len(t, got.TaskIDs, 1)

	task, err := f.engine.Task(got.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateSucceeded, task.State)
	assert.Equal(t, types.WorkerKindScout, task.Kind)

	kinds := f.kinds(t)
	assertSubsequence(t, kinds, []string{
		ledger.KindMissionCreated,
		ledger.KindMissionDecomposed,
		ledger.KindTaskCreated,
		ledger.KindTaskCommitDecided,
		ledger.KindTaskDispatched,
		ledger.KindTaskCompleted,
		ledger.KindMissionSnapshot,
	})

	// state always equals the fold of history
	folded, err := FoldHistory(got.History)
	require.NoError(t, err)
	assert.Equal(t, got.State, folded)
}

func TestDormantStageBlocksDispatch(t *testing.T) {
	f := newTestEngine(t, types.StageDormant, nil)

	m, err := f.engine.Create("draft a summary document", "docs", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))
	f.engine.Wait()

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateFailure, got.State)
	last := got.History[len(got.History)-1]
	assert.Equal(t, "capability:WORKER_SPAWN", last.Reason)

	kinds := f.kinds(t)
	assert.Zero(t, countKind(kinds, ledger.KindTaskDispatched))
}

func TestApprovalGrantedDispatches(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)

	m, err := f.engine.Create("delete file bar", "fs", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))

	waitFor(t, "confirmation window", func() bool {
		return len(f.commits.Pending()) == 1
	})
	pending := f.commits.Pending()[0]
	assert.Equal(t, types.TierA, pending.Decision.Risk)
	assert.Equal(t, 10, pending.Decision.CountdownSeconds)
	assert.Equal(t, 1, pending.Decision.ApproversRequired)

	require.NoError(t, f.engine.Approve(pending.Decision.TaskID, "operator"))
	f.engine.Wait()

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateSuccess, got.State)

	// approval strictly precedes dispatch for tier A work
	assertSubsequence(t, f.kinds(t), []string{
		ledger.KindApprovalRequested,
		ledger.KindApprovalGranted,
		ledger.KindTaskDispatched,
		ledger.KindTaskCompleted,
	})
}

func TestApprovalRejectedFailsMission(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)

	m, err := f.engine.Create("delete file bar", "fs", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))

	waitFor(t, "confirmation window", func() bool {
		return len(f.commits.Pending()) == 1
	})
	taskID := f.commits.Pending()[0].Decision.TaskID
	require.NoError(t, f.engine.Reject(taskID, "operator", "not today"))
	f.engine.Wait()

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateFailure, got.State)

	kinds := f.kinds(t)
	assert.Equal(t, 1, countKind(kinds, ledger.KindApprovalRejected))
	assert.Zero(t, countKind(kinds, ledger.KindTaskDispatched))
}

func TestApprovalTimeoutBlocksTask(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)

	m, err := f.engine.Create("delete file bar", "fs", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))

	waitFor(t, "confirmation window", func() bool {
		return len(f.commits.Pending()) == 1
	})
	entry := f.commits.Pending()[0]

	// drive the deadline hook directly instead of waiting out the window
	f.engine.onExpired(entry)
	f.engine.Wait()

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateFailure, got.State)
	last := got.History[len(got.History)-1]
	assert.Equal(t, "approval_timeout", last.Reason)

	kinds := f.kinds(t)
	assert.Equal(t, 1, countKind(kinds, ledger.KindCommitExpired))
	assert.Zero(t, countKind(kinds, ledger.KindTaskDispatched))
}

func TestLapsedApprovalFailsAfterRestart(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)

	// restored state: a tier-A task whose confirmation window opened in
	// the previous process
	m := &types.Mission{
		ID:   "m-restored",
		Goal: "delete file bar",
		Rank: types.TierA,
		History: []types.StateChange{
			{State: types.MissionStateCreated},
			{State: types.MissionStateQueued},
			{State: types.MissionStateRunning},
		},
		State:   types.MissionStateRunning,
		TaskIDs: []string{"t-del"},
	}
	task := &types.Task{
		ID:        "t-del",
		MissionID: m.ID,
		Kind:      types.WorkerKindBuilder,
		RiskTier:  types.TierA,
		State:     types.TaskStatePending,
		Params:    map[string]string{"goal": "delete file bar", "category": "fs"},
	}
	f.engine.Restore(m, []*types.Task{task})

	// the window's deadline passed while the process was down
	f.commits.Restore(commit.Entry{
		MissionID: m.ID,
		Decision: types.CommitDecision{
			TaskID:            task.ID,
			State:             types.CommitNeedsConfirm,
			Risk:              types.TierA,
			CountdownSeconds:  10,
			ApproversRequired: 1,
		},
		Deadline: time.Now().UTC().Add(-time.Minute),
	})

	waitFor(t, "lapsed window expiry", func() bool {
		return countKind(f.kinds(t), ledger.KindCommitExpired) == 1
	})

	require.NoError(t, f.engine.Start(m.ID))
	f.engine.Wait()

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateFailure, got.State)
	last := got.History[len(got.History)-1]
	assert.Equal(t, "approval_timeout", last.Reason)

	// the lapsed window settles the task; no fresh countdown opens
	assert.Empty(t, f.commits.Pending())
	kinds := f.kinds(t)
	assert.Zero(t, countKind(kinds, ledger.KindApprovalRequested))
	assert.Zero(t, countKind(kinds, ledger.KindTaskDispatched))
}

func TestAbortDuringApprovalClearsWindow(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)

	m, err := f.engine.Create("delete file bar", "fs", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))

	waitFor(t, "confirmation window", func() bool {
		return len(f.commits.Pending()) == 1
	})

	_, err = f.engine.Abort(m.ID)
	require.NoError(t, err)
	f.engine.Wait()

	assert.Empty(t, f.commits.Pending())

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateAborted, got.State)
	task, err := f.engine.Task(got.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateAborted, task.State)

	kinds := f.kinds(t)
	assert.Zero(t, countKind(kinds, ledger.KindTaskDispatched))
	assert.Zero(t, countKind(kinds, ledger.KindCommitExpired))
}

func TestWorkerCapBoundsConcurrentDispatch(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, func(cfg *config.Runtime) {
		cfg.Workers.MaxTotal = 2
		cfg.Workers.MaxPerKind = map[types.WorkerKind]int{}
	})

	goals := []string{
		"read file one", "read file two", "read file three",
		"read file four", "read file five",
	}
	for _, goal := range goals {
		m, err := f.engine.Create(goal, "fs", nil)
		require.NoError(t, err)
		require.NoError(t, f.engine.Start(m.ID))
	}
	f.engine.Wait()

	entries, err := f.led.Read(ledger.Filter{})
	require.NoError(t, err)

	inflight, peak := 0, 0
	for _, e := range entries {
		switch e.Kind {
		case ledger.KindTaskDispatched:
			inflight++
			if inflight > peak {
				peak = inflight
			}
		case ledger.KindTaskCompleted:
			inflight--
		}
	}
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 5, countKind(f.kinds(t), ledger.KindTaskCompleted))
}

func TestPauseHoldsBackDependentTasks(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)
	hold := &holdWorker{release: make(chan struct{}), started: make(chan struct{}, 2)}
	require.NoError(t, f.registry.Register(hold))

	m, err := f.engine.Create("read part one then read part two", "fs",
		map[string]string{"steps": "custom"})
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))

	<-hold.started
	_, err = f.engine.Pause(m.ID)
	require.NoError(t, err)

	close(hold.release)

	waitFor(t, "first task settle", func() bool {
		got, err := f.engine.Get(m.ID)
		if err != nil || len(got.TaskIDs) != 2 {
			return false
		}
		task, err := f.engine.Task(got.TaskIDs[0])
		return err == nil && task.State == types.TaskStateSucceeded
	})

	// paused: the dependent task must not start
	time.Sleep(50 * time.Millisecond)
	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStatePaused, got.State)
	second, err := f.engine.Task(got.TaskIDs[1])
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatePending, second.State)

	_, err = f.engine.Resume(m.ID)
	require.NoError(t, err)
	f.engine.Wait()

	got, err = f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateSuccess, got.State)
}

func TestAbortCancelsInFlightTask(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)
	hold := &holdWorker{release: make(chan struct{}), started: make(chan struct{}, 1)}
	require.NoError(t, f.registry.Register(hold))

	m, err := f.engine.Create("read the archive", "fs",
		map[string]string{"steps": "custom"})
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))

	<-hold.started
	state, err := f.engine.Abort(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateAborted, state)
	f.engine.Wait()

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateAborted, got.State)

	task, err := f.engine.Task(got.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateAborted, task.State)
	assert.Equal(t, 1, countKind(f.kinds(t), ledger.KindTaskAborted))

	// double abort is an illegal transition, not a crash
	_, err = f.engine.Abort(m.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, func(cfg *config.Runtime) {
		cfg.Retry.BackoffBase = time.Millisecond
		cfg.Retry.BackoffCap = 5 * time.Millisecond
		cfg.Retry.JitterPct = 0
	})

	m, err := f.engine.Create("draft the report", "docs",
		map[string]string{"steps": "builder", "fail": "true"})
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))
	f.engine.Wait()

	got, err := f.engine.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.MissionStateFailure, got.State)

	task, err := f.engine.Task(got.TaskIDs[0])
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateFailed, task.State)
	assert.Equal(t, 3, task.Attempts)

	kinds := f.kinds(t)
	assert.Equal(t, 3, countKind(kinds, ledger.KindTaskDispatched))
	assert.Equal(t, 1, countKind(kinds, ledger.KindTaskCompleted))
}

func TestCapabilityAdvancesOnThreshold(t *testing.T) {
	f := newTestEngine(t, types.StageDormant, nil)
	// 0 successes: the very first successful mission reaches AWAKENING,
	// but DORMANT blocks scout work on RECALL. Use a capability-free path
	// by restoring to the brink of the next threshold instead.
	f.caps.Restore(types.StageAwakening, 9)

	m, err := f.engine.Create("read file foo", "fs", nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(m.ID))
	f.engine.Wait()

	assert.Equal(t, types.StageForging, f.caps.Stage())
	assert.Equal(t, 1, countKind(f.kinds(t), ledger.KindCapabilityUnlocked))

	// completion precedes the unlock it triggered
	assertSubsequence(t, f.kinds(t), []string{
		ledger.KindTaskCompleted,
		ledger.KindMissionStateChanged,
		ledger.KindCapabilityUnlocked,
	})
}

func TestRestoreResetsInterruptedTasks(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)

	m := &types.Mission{
		ID:    "m-replayed",
		State: types.MissionStateRunning,
		History: []types.StateChange{
			{State: types.MissionStateCreated},
			{State: types.MissionStateQueued},
			{State: types.MissionStateRunning},
		},
		TaskIDs: []string{"t-1", "t-2"},
	}
	tasks := []*types.Task{
		{ID: "t-1", MissionID: m.ID, State: types.TaskStateSucceeded},
		{ID: "t-2", MissionID: m.ID, State: types.TaskStateRunning},
	}
	f.engine.Restore(m, tasks)

	done, err := f.engine.Task("t-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStateSucceeded, done.State)

	interrupted, err := f.engine.Task("t-2")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatePending, interrupted.State)
}

func TestBackoffDelayBounds(t *testing.T) {
	cfg := config.RetryConfig{
		BackoffBase:   time.Second,
		BackoffFactor: 2,
		BackoffCap:    30 * time.Second,
		JitterPct:     0.25,
	}

	for i := 0; i < 50; i++ {
		d1 := backoffDelay(cfg, 1)
		assert.GreaterOrEqual(t, d1, 750*time.Millisecond)
		assert.LessOrEqual(t, d1, 1250*time.Millisecond)

		d3 := backoffDelay(cfg, 3)
		assert.GreaterOrEqual(t, d3, 3*time.Second)
		assert.LessOrEqual(t, d3, 5*time.Second)

		// deep attempts are capped before jitter
		d10 := backoffDelay(cfg, 10)
		assert.LessOrEqual(t, d10, 37500*time.Millisecond)
	}

	cfg.JitterPct = 0
	assert.Equal(t, 4*time.Second, backoffDelay(cfg, 3))
}

func TestMissionCounts(t *testing.T) {
	f := newTestEngine(t, types.StageAwakening, nil)

	m1, err := f.engine.Create("read a", "fs", nil)
	require.NoError(t, err)
	_, err = f.engine.Create("read b", "fs", nil)
	require.NoError(t, err)

	require.NoError(t, f.engine.Start(m1.ID))
	f.engine.Wait()

	counts := f.engine.MissionCounts()
	assert.Equal(t, 1, counts[types.MissionStateSuccess])
	assert.Equal(t, 1, counts[types.MissionStateCreated])

	assert.Len(t, f.engine.List(""), 2)
	assert.Len(t, f.engine.List(types.MissionStateSuccess), 1)

	_, err = f.engine.Get("phantom")
	assert.ErrorIs(t, err, ErrNotFound)
}
