package kernel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aegiskernel/aegis/pkg/capability"
	"github.com/aegiskernel/aegis/pkg/commit"
	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/events"
	"github.com/aegiskernel/aegis/pkg/governance"
	"github.com/aegiskernel/aegis/pkg/health"
	"github.com/aegiskernel/aegis/pkg/ledger"
	"github.com/aegiskernel/aegis/pkg/log"
	"github.com/aegiskernel/aegis/pkg/metrics"
	"github.com/aegiskernel/aegis/pkg/mission"
	"github.com/aegiskernel/aegis/pkg/projector"
	"github.com/aegiskernel/aegis/pkg/storage"
	"github.com/aegiskernel/aegis/pkg/swarm"
	"github.com/aegiskernel/aegis/pkg/types"
	"github.com/aegiskernel/aegis/pkg/vault"
	"github.com/aegiskernel/aegis/pkg/worker"
)

var (
	// ErrConfig marks boot failures caused by operator configuration
	ErrConfig = errors.New("kernel: configuration rejected")

	// ErrStorage marks boot failures caused by the data directory
	ErrStorage = errors.New("kernel: storage unavailable")

	// ErrInvalid marks control-plane requests the kernel refuses
	ErrInvalid = errors.New("kernel: invalid request")
)

// viewCheckpoint names the projector's checkpoint in the derived cache
const viewCheckpoint = "views"

// Options configures a kernel boot
type Options struct {
	// DataDir is the root of all durable state.
	DataDir string

	// Planner overrides the deterministic fallback planner.
	Planner mission.Planner

	// Plugins are registered in addition to the built-in workers.
	Plugins []worker.Plugin
}

// CapabilityStatus is the operator-facing view of the evolution stage
type CapabilityStatus struct {
	Stage     types.Stage        `json:"stage"`
	Successes uint64             `json:"successes"`
	Permitted []types.Capability `json:"permitted"`
}

// Kernel owns every subsystem and is the single entry point of the
// control plane. Nothing in the runtime is package-global: one process
// hosts exactly one kernel over one data directory.
type Kernel struct {
	dataDir  string
	doctrine *config.Doctrine
	cfg      *config.Store
	cfgPath  string

	led       *ledger.Ledger
	store     *storage.BoltStore
	caps      *capability.Registry
	registry  *worker.Registry
	limits    *worker.Limits
	commits   *commit.Engine
	engine    *mission.Engine
	vault     *vault.Vault
	views     *projector.Projector
	broker    *events.Broker
	collector *metrics.Collector
	monitor   *health.Monitor
}

// New boots a kernel over opts.DataDir: doctrine first, then storage,
// then full ledger replay into the projector, then subsystem wiring and
// state restoration. The first entry of every run is DoctrineLoaded.
func New(opts Options) (*Kernel, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir required", ErrConfig)
	}

	configDir := filepath.Join(opts.DataDir, "config")
	for _, dir := range []string{opts.DataDir, configDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
	}

	doctrine, err := config.LoadDoctrine(filepath.Join(configDir, "doctrine.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := doctrine.Validate(); err != nil {
		// Surfaced unwrapped: callers exit with the doctrine code
		return nil, err
	}

	cfgPath := filepath.Join(configDir, "runtime.yaml")
	runtime, err := config.LoadRuntime(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	store, err := storage.NewBoltStore(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	led, err := ledger.Open(filepath.Join(opts.DataDir, "ledger"), "core")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	k := &Kernel{
		dataDir:  opts.DataDir,
		doctrine: doctrine,
		cfg:      config.NewStore(runtime),
		cfgPath:  cfgPath,
		led:      led,
		store:    store,
		caps:     capability.NewRegistry(),
		registry: worker.NewRegistry(),
		views:    projector.New(),
		broker:   events.NewBroker(),
	}

	if err := k.replay(); err != nil {
		k.closeStores()
		return nil, err
	}

	if err := worker.RegisterBuiltins(k.registry); err != nil {
		k.closeStores()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	for _, p := range opts.Plugins {
		if err := k.registry.Register(p); err != nil {
			k.closeStores()
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	k.limits = worker.NewLimits(runtime.Workers)
	dispatcher := swarm.NewDispatcher(k.registry, k.limits)
	k.commits = commit.NewEngine()
	gate := governance.NewGate(doctrine, k.caps)

	planner := opts.Planner
	if planner == nil {
		planner = mission.FallbackPlanner{}
	}

	k.engine = mission.NewEngine(led, gate, k.caps, k.commits, dispatcher, k.registry, k.cfg, planner)

	k.vault, err = vault.New(filepath.Join(opts.DataDir, "artifacts"), k.caps, store)
	if err != nil {
		k.closeStores()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	k.engine.SetArtifactSink(k.vault)

	k.restoreMissions()

	if _, err := led.Append(ledger.KindDoctrineLoaded, &ledger.DoctrineLoadedPayload{
		Hash:     doctrine.Hash(),
		Defaults: doctrine.Defaults,
	}); err != nil {
		k.closeStores()
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	// Commit windows re-arm after the doctrine record so that a window
	// which lapsed while the process was down expires into entries that
	// follow DoctrineLoaded, keeping it the first entry of every run.
	k.restoreCommits()

	k.collector = metrics.NewCollector(k)
	k.monitor = health.NewMonitor(health.DefaultConfig(),
		health.CheckFunc{Label: "ledger", Probe: func(context.Context) error {
			_, err := led.Segments()
			return err
		}},
		health.CheckFunc{Label: "index", Probe: func(context.Context) error {
			_, err := store.GetCheckpoint(viewCheckpoint)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		}},
	)

	logger := log.WithComponent("kernel")
	logger.Info().
		Str("data_dir", opts.DataDir).
		Str("doctrine_hash", doctrine.Hash()).
		Uint64("replayed_seq", k.views.LastSeq()).
		Msg("kernel booted")
	return k, nil
}

// replay folds the whole ledger into the projector. Views are in-memory,
// so every boot replays from the first segment; MissionSnapshot entries
// fast-forward individual missions along the way.
func (k *Kernel) replay() error {
	if err := k.views.Replay(k.led, 0); err != nil {
		return fmt.Errorf("%w: replay: %v", ErrStorage, err)
	}
	if err := k.store.PutCheckpoint(viewCheckpoint, k.views.LastSeq()); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	stage, successes := k.views.Stage()
	k.caps.Restore(stage, successes)
	if s, n, err := k.store.GetCapability(); err == nil {
		k.caps.Restore(s, n)
	}
	return nil
}

// restoreMissions seeds the engine from the projected views.
func (k *Kernel) restoreMissions() {
	for _, view := range k.views.Missions() {
		if view.Mission.State.Terminal() {
			continue
		}
		// The engine gets its own copies; the projector keeps mutating
		// its view as live entries arrive
		m := *view.Mission
		m.TaskIDs = append([]string(nil), view.Mission.TaskIDs...)
		m.History = append([]types.StateChange(nil), view.Mission.History...)
		tasks := make([]*types.Task, 0, len(view.Tasks))
		for _, t := range view.Tasks {
			tc := *t
			tc.DependsOn = append([]string(nil), t.DependsOn...)
			tc.ArtifactIDs = append([]string(nil), t.ArtifactIDs...)
			tasks = append(tasks, &tc)
		}
		k.engine.Restore(&m, tasks)
	}
}

// restoreCommits re-arms open confirmation windows with their original
// wall-clock deadlines. A window that lapsed while the process was down
// expires immediately and fails its task with approval_timeout.
func (k *Kernel) restoreCommits() {
	for _, pc := range k.views.CommitQueue() {
		k.commits.Restore(commit.Entry{
			MissionID: pc.MissionID,
			Decision: types.CommitDecision{
				TaskID:            pc.TaskID,
				State:             types.CommitNeedsConfirm,
				Risk:              pc.Risk,
				CountdownSeconds:  pc.CountdownSeconds,
				ApproversRequired: pc.ApproversRequired,
			},
			Deadline: pc.Deadline,
		})
	}
}

// Start brings the kernel live: ledger entries begin flowing to the
// event broker and the live views, the metrics collector starts, and
// every non-terminal mission's orchestration loop resumes.
func (k *Kernel) Start() error {
	k.led.SetOnAppend(func(e *ledger.Entry) {
		if err := k.views.Apply(e); err != nil {
			logger := log.WithComponent("kernel")
			logger.Error().Err(err).Uint64("seq", e.Seq).Msg("view apply failed")
		}
		k.broker.Publish(e)
	})
	k.broker.Start()
	k.collector.Start()
	k.monitor.Start()

	for _, m := range k.engine.List("") {
		if m.State.Terminal() {
			continue
		}
		if err := k.engine.Start(m.ID); err != nil {
			logger := log.WithMissionID(m.ID)
			logger.Warn().Err(err).Msg("mission restart skipped")
		}
	}
	return nil
}

// Shutdown stops background work and persists recoverable snapshots.
// Non-terminal missions are left as-is; the next boot resumes them from
// the ledger.
func (k *Kernel) Shutdown() error {
	if k.collector != nil {
		k.collector.Stop()
	}
	k.monitor.Stop()
	k.broker.Stop()
	k.commits.Stop()

	if err := k.store.PutCapability(k.caps.Stage(), k.caps.Successes()); err != nil {
		logger := log.WithComponent("kernel")
		logger.Error().Err(err).Msg("capability snapshot failed")
	}
	if err := k.store.PutCheckpoint(viewCheckpoint, k.views.LastSeq()); err != nil {
		logger := log.WithComponent("kernel")
		logger.Error().Err(err).Msg("view checkpoint failed")
	}

	return k.closeStores()
}

func (k *Kernel) closeStores() error {
	err := k.led.Close()
	if cerr := k.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// CreateMission records and starts a new mission. A repeated idempotency
// key returns the original mission without creating another.
func (k *Kernel) CreateMission(goal, category string, constraints map[string]string, idempotencyKey string) (*types.Mission, error) {
	if goal == "" {
		return nil, fmt.Errorf("%w: empty goal", ErrInvalid)
	}

	if idempotencyKey != "" {
		if id, err := k.store.GetIdempotencyKey(idempotencyKey); err == nil {
			return k.engine.Get(id)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	m, err := k.engine.CreateWithKey(goal, category, constraints, idempotencyKey)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		if err := k.store.PutIdempotencyKey(idempotencyKey, m.ID); err != nil {
			return nil, err
		}
	}

	if err := k.engine.Start(m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

// PauseMission suspends dispatching for a running mission
func (k *Kernel) PauseMission(missionID string) (types.MissionState, error) {
	return k.engine.Pause(missionID)
}

// ResumeMission continues a paused mission
func (k *Kernel) ResumeMission(missionID string) (types.MissionState, error) {
	return k.engine.Resume(missionID)
}

// AbortMission cancels a mission from any non-terminal state
func (k *Kernel) AbortMission(missionID string) (types.MissionState, error) {
	return k.engine.Abort(missionID)
}

// ApproveTask records one approval vote for a task awaiting confirmation
func (k *Kernel) ApproveTask(taskID, approver string) error {
	return k.engine.Approve(taskID, approver)
}

// RejectTask settles a pending confirmation negatively
func (k *Kernel) RejectTask(taskID, approver, reason string) error {
	return k.engine.Reject(taskID, approver, reason)
}

// GetMission returns a snapshot of one mission
func (k *Kernel) GetMission(missionID string) (*types.Mission, error) {
	return k.engine.Get(missionID)
}

// ListMissions returns mission snapshots, optionally filtered by state
func (k *Kernel) ListMissions(state types.MissionState) []*types.Mission {
	return k.engine.List(state)
}

// GetTask returns a snapshot of one task
func (k *Kernel) GetTask(taskID string) (*types.Task, error) {
	return k.engine.Task(taskID)
}

// MissionTimeline returns the mission's audit timeline in ledger order
func (k *Kernel) MissionTimeline(missionID string) []projector.TimelineEntry {
	return k.views.Timeline(missionID)
}

// PendingApprovals returns the open confirmation queue in deadline order
func (k *Kernel) PendingApprovals() []commit.Entry {
	return k.commits.Pending()
}

// TailLedger returns durable entries with seq > fromSeq
func (k *Kernel) TailLedger(fromSeq uint64) ([]*ledger.Entry, error) {
	return k.led.Tail(fromSeq)
}

// FollowLedger subscribes to entries appended after the call. Pair with
// TailLedger on the subscriber's last seen sequence for a gapless feed.
func (k *Kernel) FollowLedger() events.Subscriber {
	return k.broker.Subscribe()
}

// UnfollowLedger closes a subscription
func (k *Kernel) UnfollowLedger(sub events.Subscriber) {
	k.broker.Unsubscribe(sub)
}

// VerifyLedger recomputes the digest chain over the whole ledger
func (k *Kernel) VerifyLedger() (ledger.VerifyResult, error) {
	return k.led.VerifyChain()
}

// Capability returns the current evolution stage and its permissions
func (k *Kernel) Capability() CapabilityStatus {
	stage := k.caps.Stage()
	return CapabilityStatus{
		Stage:     stage,
		Successes: k.caps.Successes(),
		Permitted: capability.PermittedSet(stage),
	}
}

// GetArtifact returns one artifact's metadata
func (k *Kernel) GetArtifact(artifactID string) (*types.Artifact, error) {
	return k.vault.Get(artifactID)
}

// ReadArtifact returns an artifact's blob content
func (k *Kernel) ReadArtifact(artifactID string) ([]byte, error) {
	return k.vault.Read(artifactID)
}

// MissionArtifacts returns all artifacts recorded for a mission
func (k *Kernel) MissionArtifacts(missionID string) ([]*types.Artifact, error) {
	return k.vault.ByMission(missionID)
}

// ReviewArtifact settles a pending artifact and records the verdict
func (k *Kernel) ReviewArtifact(artifactID, reviewer string, approve bool) (*types.Artifact, error) {
	a, err := k.vault.Review(artifactID, reviewer, approve)
	if err != nil {
		return nil, err
	}
	_, err = k.led.Append(ledger.KindArtifactReviewed, &ledger.ArtifactReviewedPayload{
		ArtifactID: a.ID,
		Status:     a.Status,
		ReviewedBy: reviewer,
	})
	return a, err
}

// Runtime returns a snapshot of the live runtime config
func (k *Kernel) Runtime() *config.Runtime {
	return k.cfg.Current()
}

// Doctrine returns the loaded doctrine
func (k *Kernel) Doctrine() *config.Doctrine {
	return k.doctrine
}

// UpdateRuntime validates and installs a new runtime config. The
// ConfigChanged entry is appended before the swap takes effect; tasks
// already gated keep their decision-time snapshot.
func (k *Kernel) UpdateRuntime(cfg *config.Runtime, section, detail string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if _, err := k.led.Append(ledger.KindConfigChanged, &ledger.ConfigChangedPayload{
		Section: section,
		Detail:  detail,
	}); err != nil {
		return err
	}

	k.cfg.Swap(cfg.Clone())
	k.limits.Update(cfg.Workers)
	if err := cfg.Save(k.cfgPath); err != nil {
		logger := log.WithComponent("kernel")
		logger.Error().Err(err).Msg("runtime config save failed")
	}
	return nil
}

// HealthHandler serves the kernel's subsystem health as JSON
func (k *Kernel) HealthHandler() http.Handler {
	return k.monitor.Handler()
}

// Wait blocks until every mission orchestration loop has finished
func (k *Kernel) Wait() {
	k.engine.Wait()
}

// MissionCounts implements metrics.Source
func (k *Kernel) MissionCounts() map[types.MissionState]int {
	return k.engine.MissionCounts()
}

// Utilization implements metrics.Source
func (k *Kernel) Utilization() types.Utilization {
	return k.limits.Utilization()
}

// CommitQueueDepth implements metrics.Source
func (k *Kernel) CommitQueueDepth() int {
	return len(k.commits.Pending())
}

// Stage implements metrics.Source
func (k *Kernel) Stage() (types.Stage, int) {
	return k.caps.Stage(), int(k.caps.Successes())
}
