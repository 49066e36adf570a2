package mission

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegiskernel/aegis/pkg/capability"
	"github.com/aegiskernel/aegis/pkg/commit"
	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/governance"
	"github.com/aegiskernel/aegis/pkg/ledger"
	"github.com/aegiskernel/aegis/pkg/log"
	"github.com/aegiskernel/aegis/pkg/metrics"
	"github.com/aegiskernel/aegis/pkg/swarm"
	"github.com/aegiskernel/aegis/pkg/types"
	"github.com/aegiskernel/aegis/pkg/worker"
)

// ErrNotFound is returned for an unknown mission or task id
var ErrNotFound = errors.New("mission: not found")

// abortGraceDefault is how long in-flight workers get after an abort
const abortGraceDefault = 5 * time.Second

// ArtifactSink persists artifact content durably. The vault implements it
// and may auto-approve low-risk artifacts based on the originating task's
// risk tier.
type ArtifactSink interface {
	Store(artifact *types.Artifact, risk types.RiskTier) error
}

// verdict settles a task's confirmation window
type verdict struct {
	approved  bool
	reason    string
	approvers []string
}

// Engine owns mission lifecycle: creation, decomposition, the per-mission
// orchestration loop, and all ledger mutation for missions and tasks. All
// in-memory mission and task state is a cache of the ledger.
type Engine struct {
	led        *ledger.Ledger
	gate       *governance.Gate
	caps       *capability.Registry
	commits    *commit.Engine
	dispatcher *swarm.Dispatcher
	registry   *worker.Registry
	cfg        *config.Store
	planner    Planner
	sink       ArtifactSink

	abortGrace time.Duration

	mu          sync.Mutex
	missions    map[string]*types.Mission
	tasks       map[string]*types.Task
	cancels     map[string]context.CancelFunc
	resume      map[string]chan struct{}
	verdicts    map[string]chan verdict
	settled     map[string]verdict
	failReasons map[string]string

	wg sync.WaitGroup
}

// NewEngine wires the engine into its collaborators. It takes over the
// commit engine's settlement hooks and the dispatcher's saturation hook.
func NewEngine(
	led *ledger.Ledger,
	gate *governance.Gate,
	caps *capability.Registry,
	commits *commit.Engine,
	dispatcher *swarm.Dispatcher,
	registry *worker.Registry,
	cfg *config.Store,
	planner Planner,
) *Engine {
	e := &Engine{
		led:         led,
		gate:        gate,
		caps:        caps,
		commits:     commits,
		dispatcher:  dispatcher,
		registry:    registry,
		cfg:         cfg,
		planner:     planner,
		abortGrace:  abortGraceDefault,
		missions:    make(map[string]*types.Mission),
		tasks:       make(map[string]*types.Task),
		cancels:     make(map[string]context.CancelFunc),
		resume:      make(map[string]chan struct{}),
		verdicts:    make(map[string]chan verdict),
		settled:     make(map[string]verdict),
		failReasons: make(map[string]string),
	}

	commits.OnApproved = e.onApproved
	commits.OnExpired = e.onExpired
	dispatcher.OnSaturation = e.onSaturation
	dispatcher.OnAdmitted = e.onAdmitted
	return e
}

// SetArtifactSink attaches the durable artifact store
func (e *Engine) SetArtifactSink(sink ArtifactSink) {
	e.sink = sink
}

// Create records a new mission. The mission starts in created state; Start
// launches its orchestration loop.
func (e *Engine) Create(goal, category string, constraints map[string]string) (*types.Mission, error) {
	return e.CreateWithKey(goal, category, constraints, "")
}

// CreateWithKey records a new mission carrying the operator's idempotency
// key in its creation event. Dedup itself is the kernel's concern.
func (e *Engine) CreateWithKey(goal, category string, constraints map[string]string, idempotencyKey string) (*types.Mission, error) {
	ts := now()
	m := &types.Mission{
		ID:          uuid.NewString(),
		Goal:        goal,
		Category:    category,
		Constraints: constraints,
		State:       types.MissionStateCreated,
		Rank:        types.TierE,
		CreatedAt:   ts,
		UpdatedAt:   ts,
		History: []types.StateChange{
			{State: types.MissionStateCreated, Timestamp: ts, Reason: "operator_intent"},
		},
	}

	if _, err := e.led.Append(ledger.KindMissionCreated, &ledger.MissionCreatedPayload{
		Mission:        m,
		IdempotencyKey: idempotencyKey,
	}); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.missions[m.ID] = m
	e.mu.Unlock()

	logger := log.WithMissionID(m.ID)
	logger.Info().Str("goal", goal).Msg("mission created")
	return e.snapshotMission(m.ID)
}

// Start launches the orchestration loop for any non-terminal mission.
// Restored running or paused missions pick up where the previous process
// left off; a loop already running is a no-op.
func (e *Engine) Start(missionID string) error {
	e.mu.Lock()
	m, ok := e.missions[missionID]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	if m.State.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrIllegalTransition, m.State)
	}
	if _, running := e.cancels[missionID]; running {
		e.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[missionID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(ctx, m)
	return nil
}

// Pause suspends dispatching after in-flight tasks complete
func (e *Engine) Pause(missionID string) (types.MissionState, error) {
	e.mu.Lock()
	m, ok := e.missions[missionID]
	if !ok {
		e.mu.Unlock()
		return "", ErrNotFound
	}
	from := m.State
	if err := Transition(m, types.MissionStatePaused, "operator_pause", now()); err != nil {
		e.mu.Unlock()
		return m.State, err
	}
	e.resume[missionID] = make(chan struct{})
	e.mu.Unlock()

	_, err := e.led.Append(ledger.KindMissionStateChanged, &ledger.MissionStateChangedPayload{
		MissionID: missionID, From: from, To: types.MissionStatePaused, Reason: "operator_pause",
	})
	return types.MissionStatePaused, err
}

// Resume continues a paused mission
func (e *Engine) Resume(missionID string) (types.MissionState, error) {
	e.mu.Lock()
	m, ok := e.missions[missionID]
	if !ok {
		e.mu.Unlock()
		return "", ErrNotFound
	}
	from := m.State
	if err := Transition(m, types.MissionStateRunning, "operator_resume", now()); err != nil {
		e.mu.Unlock()
		return m.State, err
	}
	if ch, ok := e.resume[missionID]; ok {
		close(ch)
		delete(e.resume, missionID)
	}
	e.mu.Unlock()

	_, err := e.led.Append(ledger.KindMissionStateChanged, &ledger.MissionStateChangedPayload{
		MissionID: missionID, From: from, To: types.MissionStateRunning, Reason: "operator_resume",
	})
	return types.MissionStateRunning, err
}

// Abort cancels a mission from any non-terminal state. In-flight workers
// receive a cancellation signal and get a grace period before abandonment.
func (e *Engine) Abort(missionID string) (types.MissionState, error) {
	e.mu.Lock()
	m, ok := e.missions[missionID]
	if !ok {
		e.mu.Unlock()
		return "", ErrNotFound
	}
	from := m.State
	if err := Transition(m, types.MissionStateAborted, "operator_abort", now()); err != nil {
		e.mu.Unlock()
		return m.State, err
	}
	cancel := e.cancels[missionID]
	if ch, ok := e.resume[missionID]; ok {
		close(ch)
		delete(e.resume, missionID)
	}
	e.mu.Unlock()

	if _, err := e.led.Append(ledger.KindMissionStateChanged, &ledger.MissionStateChangedPayload{
		MissionID: missionID, From: from, To: types.MissionStateAborted, Reason: "operator_abort",
	}); err != nil {
		return types.MissionStateAborted, err
	}
	if cancel != nil {
		cancel()
	}
	return types.MissionStateAborted, nil
}

// Approve records one operator approval for a task awaiting confirmation
func (e *Engine) Approve(taskID, approver string) error {
	_, _, err := e.commits.Approve(taskID, approver)
	return err
}

// Reject settles a pending task negatively with the operator's reason
func (e *Engine) Reject(taskID, approver, reason string) error {
	entry, err := e.commits.Reject(taskID, approver, reason)
	if err != nil {
		return err
	}

	metrics.ApprovalsTotal.WithLabelValues("rejected").Inc()
	if _, err := e.led.Append(ledger.KindApprovalRejected, &ledger.ApprovalRejectedPayload{
		MissionID: entry.MissionID,
		TaskID:    taskID,
		Approver:  approver,
		Reason:    reason,
	}); err != nil {
		return err
	}
	e.deliver(taskID, verdict{approved: false, reason: "approval_rejected: " + reason})
	return nil
}

// Get returns an isolated snapshot of one mission
func (e *Engine) Get(missionID string) (*types.Mission, error) {
	return e.snapshotMission(missionID)
}

// List returns snapshots of all missions, optionally filtered by state
func (e *Engine) List(state types.MissionState) []*types.Mission {
	e.mu.Lock()
	ids := make([]string, 0, len(e.missions))
	for id, m := range e.missions {
		if state == "" || m.State == state {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	out := make([]*types.Mission, 0, len(ids))
	for _, id := range ids {
		if m, err := e.snapshotMission(id); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Task returns an isolated snapshot of one task
func (e *Engine) Task(taskID string) (*types.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	clone.DependsOn = append([]string(nil), t.DependsOn...)
	clone.ArtifactIDs = append([]string(nil), t.ArtifactIDs...)
	return &clone, nil
}

// MissionCounts returns the number of missions per state
func (e *Engine) MissionCounts() map[types.MissionState]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.MissionState]int)
	for _, m := range e.missions {
		out[m.State]++
	}
	return out
}

// Restore seeds the engine from replayed ledger state without appending.
// Tasks caught mid-dispatch by a crash are reset for re-dispatch.
func (e *Engine) Restore(m *types.Mission, tasks []*types.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.missions[m.ID] = m
	if m.State == types.MissionStatePaused {
		if _, ok := e.resume[m.ID]; !ok {
			e.resume[m.ID] = make(chan struct{})
		}
	}
	for _, t := range tasks {
		if t.State == types.TaskStateRunning || t.State == types.TaskStateReady {
			t.State = types.TaskStatePending
		}
		e.tasks[t.ID] = t
	}
}

// Wait blocks until all orchestration loops have finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

// run is the per-mission orchestration loop
func (e *Engine) run(ctx context.Context, m *types.Mission) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, m.ID)
		e.mu.Unlock()
	}()

	logger := log.WithMissionID(m.ID)

	if m.State == types.MissionStateCreated {
		if err := e.transition(m, types.MissionStateQueued, "accepted"); err != nil {
			logger.Error().Err(err).Msg("queue transition failed")
			return
		}
	}

	// A restored mission already has its decomposition on record
	if len(m.TaskIDs) == 0 {
		if err := e.plan(ctx, m); err != nil {
			logger.Error().Err(err).Msg("decomposition failed")
			_ = e.transition(m, types.MissionStateRunning, "planning")
			_ = e.transition(m, types.MissionStateFailure, "planning_failed: "+err.Error())
			e.checkpoint(m)
			return
		}
	}

	if m.State == types.MissionStateQueued {
		if err := e.transition(m, types.MissionStateRunning, "dispatching"); err != nil {
			logger.Error().Err(err).Msg("run transition failed")
			return
		}
	}

	for {
		if err := e.waitIfPaused(ctx, m.ID); err != nil {
			break
		}
		ready := e.claimReady(m.ID)
		if len(ready) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, t := range ready {
			wg.Add(1)
			go func(task *types.Task) {
				defer wg.Done()
				e.runTask(ctx, m, task)
			}(t)
		}
		wg.Wait()

		if ctx.Err() != nil || e.missionFailed(m.ID) {
			break
		}
	}

	e.finish(ctx, m)
}

// plan decomposes the mission and records the planner output verbatim
func (e *Engine) plan(ctx context.Context, m *types.Mission) error {
	tasks, err := e.planner.Plan(ctx, m, e.cfg.Current())
	if err != nil {
		return err
	}

	if _, err := e.led.Append(ledger.KindMissionDecomposed, &ledger.MissionDecomposedPayload{
		MissionID: m.ID,
		Planner:   e.planner.Name(),
		Tasks:     tasks,
	}); err != nil {
		return err
	}

	rank := types.TierE
	e.mu.Lock()
	for _, t := range tasks {
		e.tasks[t.ID] = t
		m.TaskIDs = append(m.TaskIDs, t.ID)
		rank = types.Stricter(rank, t.RiskTier)
	}
	m.Rank = rank
	e.mu.Unlock()

	for _, t := range tasks {
		if _, err := e.led.Append(ledger.KindTaskCreated, &ledger.TaskCreatedPayload{Task: t}); err != nil {
			return err
		}
	}
	return nil
}

// runTask gates, dispatches, and settles one task
func (e *Engine) runTask(ctx context.Context, m *types.Mission, task *types.Task) {
	cfg := e.cfg.Current()
	desc := e.registry.Descriptor(task.Kind)

	// Config seen here is the config of record for the task's lifetime;
	// long-running tasks are not re-gated mid-flight.
	decision := e.gate.Evaluate(task, desc, cfg)
	if _, err := e.led.Append(ledger.KindTaskCommitDecided, &ledger.TaskCommitDecidedPayload{
		MissionID: m.ID,
		Decision:  decision,
	}); err != nil {
		e.failTask(m, task, "storage: "+err.Error())
		return
	}

	switch decision.State {
	case types.CommitBlocked:
		e.failTask(m, task, decision.Reason)
		return
	case types.CommitNeedsConfirm:
		if !e.awaitApproval(ctx, m, task, decision) {
			return
		}
	}

	e.dispatchWithRetry(ctx, m, task, cfg)
}

// awaitApproval opens a confirmation window and blocks until it settles.
// Returns true when the task may dispatch.
func (e *Engine) awaitApproval(ctx context.Context, m *types.Mission, task *types.Task, decision types.CommitDecision) bool {
	e.mu.Lock()
	if v, ok := e.settled[task.ID]; ok {
		// The window settled before this loop could wait on it: a
		// countdown that lapsed while the process was down, or an
		// operator verdict delivered between restore and restart. The
		// ledger already carries the settlement; never open a fresh
		// window for it.
		delete(e.settled, task.ID)
		e.mu.Unlock()
		if !v.approved {
			e.failTask(m, task, v.reason)
			return false
		}
		return true
	}
	ch := make(chan verdict, 1)
	e.verdicts[task.ID] = ch
	e.mu.Unlock()

	entry := e.commits.Register(m.ID, decision)
	if _, err := e.led.Append(ledger.KindApprovalRequested, &ledger.ApprovalRequestedPayload{
		MissionID:         m.ID,
		TaskID:            task.ID,
		Risk:              decision.Risk,
		CountdownSeconds:  decision.CountdownSeconds,
		ApproversRequired: decision.ApproversRequired,
		Deadline:          entry.Deadline,
	}); err != nil {
		e.failTask(m, task, "storage: "+err.Error())
		return false
	}

	select {
	case <-ctx.Done():
		e.commits.Cancel(task.ID)
		e.abortTask(m, task, "operator_abort")
		return false
	case v := <-ch:
		if !v.approved {
			e.commits.Cancel(task.ID)
			e.failTask(m, task, v.reason)
			return false
		}
		return true
	}
}

// dispatchWithRetry hands the task to the swarm, retrying worker failures
// with exponential backoff
func (e *Engine) dispatchWithRetry(ctx context.Context, m *types.Mission, task *types.Task, cfg *config.Runtime) {
	logger := log.WithTaskID(task.ID)

	for attempt := 1; ; attempt++ {
		e.mu.Lock()
		task.State = types.TaskStateRunning
		task.Attempts = attempt
		e.mu.Unlock()

		// TaskDispatched is appended by onAdmitted once the pool admits
		// the task; a queued task is not dispatched yet
		res, err := e.dispatcher.Dispatch(ctx, task, cfg)
		if err != nil {
			if ctx.Err() != nil {
				e.abortTask(m, task, "operator_abort")
				return
			}
			// Timeouts and dispatch errors are worker failures, eligible
			// for retry like any other
			res = &types.WorkerResult{
				Status: types.ResultFailure,
				Errors: []string{err.Error()},
			}
		}

		if res.Status != types.ResultFailure {
			e.completeTask(m, task, res)
			return
		}

		retry := cfg.Retry
		if !task.Retryable || attempt >= retry.MaxAttempts {
			e.recordTaskResult(m, task, res)
			e.failTask(m, task, firstError(res))
			return
		}

		metrics.TasksRetried.Inc()
		delay := backoffDelay(retry, attempt)
		logger.Warn().
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("task failed, retrying")

		select {
		case <-ctx.Done():
			e.abortTask(m, task, "operator_abort")
			return
		case <-time.After(delay):
		}
	}
}

// completeTask persists artifacts and records a successful task result
func (e *Engine) completeTask(m *types.Mission, task *types.Task, res *types.WorkerResult) {
	var artifactIDs []string
	for _, a := range res.Artifacts {
		if e.sink != nil {
			if err := e.sink.Store(a, task.RiskTier); err != nil {
				logger := log.WithTaskID(task.ID)
				logger.Error().Err(err).Msg("artifact store failed")
				continue
			}
		}
		if _, err := e.led.Append(ledger.KindArtifactCreated, &ledger.ArtifactCreatedPayload{Artifact: a}); err != nil {
			continue
		}
		if a.Status == types.ArtifactApproved {
			_, _ = e.led.Append(ledger.KindArtifactReviewed, &ledger.ArtifactReviewedPayload{
				ArtifactID: a.ID,
				Status:     a.Status,
				ReviewedBy: a.ReviewedBy,
				Auto:       true,
			})
		}
		artifactIDs = append(artifactIDs, a.ID)
	}

	e.mu.Lock()
	task.State = types.TaskStateSucceeded
	task.ArtifactIDs = artifactIDs
	attempts := task.Attempts
	e.mu.Unlock()

	_, _ = e.led.Append(ledger.KindTaskCompleted, &ledger.TaskCompletedPayload{
		MissionID:   m.ID,
		TaskID:      task.ID,
		Status:      res.Status,
		Attempts:    attempts,
		ArtifactIDs: artifactIDs,
		Cost:        res.Cost,
		Errors:      res.Errors,
	})
}

// recordTaskResult appends the final failed attempt without changing state
func (e *Engine) recordTaskResult(m *types.Mission, task *types.Task, res *types.WorkerResult) {
	e.mu.Lock()
	attempts := task.Attempts
	e.mu.Unlock()

	_, _ = e.led.Append(ledger.KindTaskCompleted, &ledger.TaskCompletedPayload{
		MissionID: m.ID,
		TaskID:    task.ID,
		Status:    res.Status,
		Attempts:  attempts,
		Cost:      res.Cost,
		Errors:    res.Errors,
	})
}

func (e *Engine) failTask(m *types.Mission, task *types.Task, reason string) {
	e.mu.Lock()
	task.State = types.TaskStateFailed
	if _, ok := e.failReasons[m.ID]; !ok {
		e.failReasons[m.ID] = reason
	}
	e.mu.Unlock()
	metrics.TasksFailed.Inc()
	logger := log.WithTaskID(task.ID)
	logger.Warn().Str("reason", reason).Msg("task failed")
}

func (e *Engine) abortTask(m *types.Mission, task *types.Task, reason string) {
	e.mu.Lock()
	task.State = types.TaskStateAborted
	e.mu.Unlock()
	_, _ = e.led.Append(ledger.KindTaskAborted, &ledger.TaskAbortedPayload{
		MissionID: m.ID,
		TaskID:    task.ID,
		Reason:    reason,
	})
}

// finish settles the mission's terminal state and checkpoints it
func (e *Engine) finish(ctx context.Context, m *types.Mission) {
	e.mu.Lock()
	state := m.State
	terminal := state.Terminal()
	failReason := e.failReasons[m.ID]
	delete(e.failReasons, m.ID)
	e.mu.Unlock()

	if !terminal && state == types.MissionStatePaused {
		// All tasks settled while paused; unpark for settlement
		_ = e.transition(m, types.MissionStateRunning, "settlement")
	}

	switch {
	case terminal:
		// Operator abort already transitioned and recorded
	case ctx.Err() != nil:
		_ = e.transition(m, types.MissionStateAborted, "operator_abort")
	case failReason != "":
		_ = e.transition(m, types.MissionStateFailure, failReason)
		metrics.MissionsCompleted.WithLabelValues("failure").Inc()
	default:
		_ = e.transition(m, types.MissionStateSuccess, "all_tasks_succeeded")
		metrics.MissionsCompleted.WithLabelValues("success").Inc()
		e.recordSuccess()
	}

	e.checkpoint(m)
	logger := log.WithMissionID(m.ID)
	logger.Info().Str("state", string(m.State)).Msg("mission settled")
}

// recordSuccess feeds the capability registry; stage advancements are
// ledger-recorded after the completion that earned them
func (e *Engine) recordSuccess() {
	stage, unlocked, advanced := e.caps.RecordSuccess()
	metrics.CapabilityStage.Set(float64(stage.Ord()))
	metrics.MissionSuccesses.Set(float64(e.caps.Successes()))
	if !advanced {
		return
	}
	_, _ = e.led.Append(ledger.KindCapabilityUnlocked, &ledger.CapabilityUnlockedPayload{
		Stage:        stage,
		Successes:    int(e.caps.Successes()),
		Capabilities: unlocked,
	})
	logger := log.WithComponent("capability")
	logger.Info().
		Str("stage", string(stage)).
		Msg("evolution stage advanced")
}

// checkpoint writes a MissionSnapshot for fast recovery. Snapshots are an
// optimization; replay from the raw log yields the same state.
func (e *Engine) checkpoint(m *types.Mission) {
	snap, err := e.snapshotMission(m.ID)
	if err != nil {
		return
	}
	tasks := make([]*types.Task, 0, len(snap.TaskIDs))
	for _, id := range snap.TaskIDs {
		if t, err := e.Task(id); err == nil {
			tasks = append(tasks, t)
		}
	}
	_, _ = e.led.Append(ledger.KindMissionSnapshot, &ledger.MissionSnapshotPayload{
		Mission: snap,
		Tasks:   tasks,
	})
}

func (e *Engine) transition(m *types.Mission, to types.MissionState, reason string) error {
	e.mu.Lock()
	from := m.State
	if err := Transition(m, to, reason, now()); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	_, err := e.led.Append(ledger.KindMissionStateChanged, &ledger.MissionStateChangedPayload{
		MissionID: m.ID,
		From:      from,
		To:        to,
		Reason:    reason,
	})
	return err
}

// claimReady returns pending tasks whose dependencies have all succeeded
// and marks them ready
func (e *Engine) claimReady(missionID string) []*types.Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.missions[missionID]
	if !ok {
		return nil
	}

	var ready []*types.Task
	for _, id := range m.TaskIDs {
		t := e.tasks[id]
		if t == nil || t.State != types.TaskStatePending {
			continue
		}
		if e.depsSatisfiedLocked(t) {
			t.State = types.TaskStateReady
			ready = append(ready, t)
		}
	}
	return ready
}

func (e *Engine) depsSatisfiedLocked(t *types.Task) bool {
	for _, dep := range t.DependsOn {
		d := e.tasks[dep]
		if d == nil || d.State != types.TaskStateSucceeded {
			return false
		}
	}
	return true
}

func (e *Engine) missionFailed(missionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, failed := e.failReasons[missionID]
	return failed
}

func (e *Engine) waitIfPaused(ctx context.Context, missionID string) error {
	for {
		e.mu.Lock()
		ch := e.resume[missionID]
		e.mu.Unlock()
		if ch == nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// onApproved is the commit engine's settlement hook
func (e *Engine) onApproved(entry commit.Entry) {
	metrics.ApprovalsTotal.WithLabelValues("granted").Inc()
	_, _ = e.led.Append(ledger.KindApprovalGranted, &ledger.ApprovalGrantedPayload{
		MissionID: entry.MissionID,
		TaskID:    entry.Decision.TaskID,
		Approvers: entry.Approvers,
	})
	e.deliver(entry.Decision.TaskID, verdict{approved: true, approvers: entry.Approvers})
}

// onExpired records the lapsed window; the task is blocked, never executed
func (e *Engine) onExpired(entry commit.Entry) {
	metrics.CommitExpired.Inc()
	_, _ = e.led.Append(ledger.KindCommitExpired, &ledger.CommitExpiredPayload{
		MissionID: entry.MissionID,
		TaskID:    entry.Decision.TaskID,
		Deadline:  entry.Deadline,
	})
	blocked := entry.Decision
	blocked.State = types.CommitBlocked
	blocked.Reason = "approval_timeout"
	_, _ = e.led.Append(ledger.KindTaskCommitDecided, &ledger.TaskCommitDecidedPayload{
		MissionID: entry.MissionID,
		Decision:  blocked,
	})
	e.deliver(entry.Decision.TaskID, verdict{approved: false, reason: "approval_timeout"})
}

// onAdmitted records the dispatch once the worker pool admits the task
func (e *Engine) onAdmitted(task *types.Task, steps []types.WorkerKind) {
	e.mu.Lock()
	attempt := task.Attempts
	e.mu.Unlock()

	metrics.TasksDispatched.Inc()
	_, _ = e.led.Append(ledger.KindTaskDispatched, &ledger.TaskDispatchedPayload{
		MissionID: task.MissionID,
		TaskID:    task.ID,
		Steps:     steps,
		Attempt:   attempt,
	})
}

func (e *Engine) onSaturation(task *types.Task, kind types.WorkerKind) {
	metrics.CapacityExhausted.Inc()
	_, _ = e.led.Append(ledger.KindCapacityExhausted, &ledger.CapacityExhaustedPayload{
		MissionID: task.MissionID,
		TaskID:    task.ID,
		Kind:      kind,
	})
}

func (e *Engine) deliver(taskID string, v verdict) {
	e.mu.Lock()
	ch := e.verdicts[taskID]
	if ch == nil {
		// Settlement raced the orchestration loop (expiry during
		// restore, before the mission loop restarts). Hold the verdict;
		// the next awaitApproval for this task consumes it.
		e.settled[taskID] = v
		e.mu.Unlock()
		return
	}
	delete(e.verdicts, taskID)
	e.mu.Unlock()
	ch <- v
}

func (e *Engine) snapshotMission(missionID string) (*types.Mission, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.missions[missionID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *m
	clone.TaskIDs = append([]string(nil), m.TaskIDs...)
	clone.History = append([]types.StateChange(nil), m.History...)
	if m.Constraints != nil {
		clone.Constraints = make(map[string]string, len(m.Constraints))
		for k, v := range m.Constraints {
			clone.Constraints[k] = v
		}
	}
	return &clone, nil
}

func firstError(res *types.WorkerResult) string {
	if len(res.Errors) > 0 {
		return res.Errors[0]
	}
	return "worker_failure"
}

// backoffDelay is exponential with jitter: base * factor^(attempt-1),
// capped, then spread by ±jitter
func backoffDelay(cfg config.RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BackoffBase)
	for i := 1; i < attempt; i++ {
		delay *= cfg.BackoffFactor
	}
	if limit := float64(cfg.BackoffCap); limit > 0 && delay > limit {
		delay = limit
	}
	if cfg.JitterPct > 0 {
		spread := delay * cfg.JitterPct
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
