package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/log"
	"github.com/aegiskernel/aegis/pkg/types"
	"github.com/aegiskernel/aegis/pkg/worker"
)

const (
	// MaxSteps bounds the per-task fan-out
	MaxSteps = 3

	// ParamSteps overrides the default step sequence with a CSV subset,
	// e.g. "scout,verify".
	ParamSteps = "steps"

	// ParamOptionalSteps lists steps whose failure does not short-circuit
	// the remainder.
	ParamOptionalSteps = "optional_steps"

	// saturationPoll is the wait interval while queued on a full pool
	saturationPoll = 25 * time.Millisecond
)

// ErrTooManySteps is returned when a task asks for more than MaxSteps
var ErrTooManySteps = errors.New("swarm: step sequence exceeds limit")

// Dispatcher fans one task out to a bounded sequence of worker steps and
// merges their results. Steps execute sequentially in declared order;
// concurrency across tasks is bounded by the shared Limits.
type Dispatcher struct {
	registry *worker.Registry
	limits   *worker.Limits

	// OnSaturation, when set, is invoked once per dispatch the first time
	// the pool is full and the task has to wait. The mission engine uses
	// it to record CapacityExhausted.
	OnSaturation func(task *types.Task, kind types.WorkerKind)

	// OnAdmitted, when set, is invoked once per dispatch after the first
	// step's slot is claimed. A task is never reported dispatched before
	// the pool admits it.
	OnAdmitted func(task *types.Task, steps []types.WorkerKind)
}

// NewDispatcher creates a dispatcher over the plugin registry and the
// shared worker limits
func NewDispatcher(registry *worker.Registry, limits *worker.Limits) *Dispatcher {
	return &Dispatcher{registry: registry, limits: limits}
}

// StepsFor builds the step sequence for a task. Single-kind tasks run just
// their own kind; builder tasks run the full scout → builder → verify
// pipeline. Tasks may override to a subset via the steps param.
func (d *Dispatcher) StepsFor(task *types.Task) ([]types.WorkerKind, error) {
	if raw, ok := task.Params[ParamSteps]; ok && raw != "" {
		parts := strings.Split(raw, ",")
		if len(parts) > MaxSteps {
			return nil, fmt.Errorf("%w: %d > %d", ErrTooManySteps, len(parts), MaxSteps)
		}
		steps := make([]types.WorkerKind, 0, len(parts))
		for _, p := range parts {
			kind := types.WorkerKind(strings.TrimSpace(p))
			if _, ok := d.registry.Get(kind); !ok {
				return nil, fmt.Errorf("swarm: unknown step kind %q", kind)
			}
			steps = append(steps, kind)
		}
		return steps, nil
	}

	switch task.Kind {
	case types.WorkerKindBuilder:
		return []types.WorkerKind{types.WorkerKindScout, types.WorkerKindBuilder, types.WorkerKindVerify}, nil
	default:
		return []types.WorkerKind{task.Kind}, nil
	}
}

// Dispatch runs the task's step sequence and returns the merged result.
// When the pool is saturated the task queues (or fails with ErrCapacity,
// per config). Cancellation of ctx signals in-flight workers, discards
// partial results, and surfaces ctx.Err(); cancelling twice is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, task *types.Task, cfg *config.Runtime) (*types.WorkerResult, error) {
	steps, err := d.StepsFor(task)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("swarm")
	optional := optionalSteps(task)
	saturationSeen := false

	var results []*types.WorkerResult
	for i, kind := range steps {
		if err := d.claimSlot(ctx, task, kind, cfg, &saturationSeen); err != nil {
			return nil, err
		}
		if i == 0 && d.OnAdmitted != nil {
			d.OnAdmitted(task, steps)
		}

		res, err := d.runStep(ctx, task, kind, cfg)
		d.limits.Unregister(kind)

		if err != nil {
			// Cancellation and timeouts discard partial results
			return nil, err
		}

		results = append(results, res)
		if res.Status == types.ResultFailure && !optional[kind] {
			logger.Debug().
				Str("task_id", task.ID).
				Str("step", string(kind)).
				Msg("mandatory step failed, short-circuiting remainder")
			break
		}
	}

	return Merge(results), nil
}

// claimSlot blocks until a worker slot for kind is available, or fails
// with ErrCapacity when queueing is disabled
func (d *Dispatcher) claimSlot(ctx context.Context, task *types.Task, kind types.WorkerKind, cfg *config.Runtime, saturationSeen *bool) error {
	for {
		err := d.limits.RegisterSpawn(kind)
		if err == nil {
			return nil
		}
		if !errors.Is(err, worker.ErrCapacity) {
			return err
		}

		if !*saturationSeen {
			*saturationSeen = true
			if d.OnSaturation != nil {
				d.OnSaturation(task, kind)
			}
		}
		if !cfg.Commit.QueueOnSaturation {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(saturationPoll):
		}
	}
}

// runStep executes one worker step under its timeout
func (d *Dispatcher) runStep(ctx context.Context, task *types.Task, kind types.WorkerKind, cfg *config.Runtime) (*types.WorkerResult, error) {
	plugin, ok := d.registry.Get(kind)
	if !ok {
		return nil, fmt.Errorf("swarm: no plugin for kind %q", kind)
	}

	timeout := plugin.Describe().TimeoutDefault
	if max := cfg.Workers.MaxExecutionTime; max > 0 && (timeout <= 0 || timeout > max) {
		timeout = max
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *types.WorkerResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := plugin.Execute(stepCtx, task)
		done <- outcome{res, err}
	}()

	select {
	case <-stepCtx.Done():
		// Worker is signalled via stepCtx; its eventual result is discarded
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("swarm: step %s timed out after %v: %w", kind, timeout, context.DeadlineExceeded)
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("swarm: step %s: %w", kind, out.err)
		}
		if out.res == nil {
			return nil, fmt.Errorf("swarm: step %s returned no result", kind)
		}
		return out.res, nil
	}
}

func optionalSteps(task *types.Task) map[types.WorkerKind]bool {
	out := make(map[types.WorkerKind]bool)
	if raw, ok := task.Params[ParamOptionalSteps]; ok {
		for _, p := range strings.Split(raw, ",") {
			out[types.WorkerKind(strings.TrimSpace(p))] = true
		}
	}
	return out
}
