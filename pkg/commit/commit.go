package commit

import (
	"errors"
	"sync"
	"time"

	"github.com/aegiskernel/aegis/pkg/log"
	"github.com/aegiskernel/aegis/pkg/types"
)

var (
	// ErrNotPending is returned when approving or rejecting a task that
	// has no pending confirmation
	ErrNotPending = errors.New("commit: task not pending confirmation")

	// ErrUnauthorized is returned for approvals without a named approver
	// or a repeat vote from the same approver on a multi-approval task
	ErrUnauthorized = errors.New("commit: approver not accepted")
)

// Status of a pending confirmation
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Entry is one pending (or settled) confirmation. Deadline is wall-clock
// so countdowns survive process restart via ledger replay.
type Entry struct {
	Decision  types.CommitDecision `json:"decision"`
	MissionID string               `json:"mission_id"`
	Status    Status               `json:"status"`
	Approvers []string             `json:"approvers,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	Deadline  time.Time            `json:"deadline"`
}

// Engine registers NEEDS_CONFIRM decisions and drives their countdowns.
// A countdown expires into BLOCKED, never into execution; approval and
// rejection stop it immediately. The engine never appends to the ledger
// itself: the hooks are invoked exactly once per settlement and the
// caller records the outcome.
type Engine struct {
	mu      sync.Mutex
	pending map[string]*Entry
	timers  map[string]*time.Timer
	clock   func() time.Time

	// OnApproved fires once when an entry collects its required approvals.
	OnApproved func(entry Entry)

	// OnExpired fires once when an entry's countdown lapses.
	OnExpired func(entry Entry)
}

// NewEngine creates a commit engine using the wall clock
func NewEngine() *Engine {
	return &Engine{
		pending: make(map[string]*Entry),
		timers:  make(map[string]*time.Timer),
		clock:   time.Now,
	}
}

// Register adds a NEEDS_CONFIRM decision with its countdown. A zero
// countdown expires on the next tick; it never short-circuits to
// dispatch. Registering an already-pending task is a no-op.
func (e *Engine) Register(missionID string, d types.CommitDecision) Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.pending[d.TaskID]; ok {
		return *existing
	}

	now := e.clock().UTC()
	entry := &Entry{
		Decision:  d,
		MissionID: missionID,
		Status:    StatusPending,
		CreatedAt: now,
		Deadline:  now.Add(time.Duration(d.CountdownSeconds) * time.Second),
	}
	e.pending[d.TaskID] = entry
	e.armTimerLocked(d.TaskID, entry.Deadline.Sub(now))
	return *entry
}

// Restore re-registers a pending entry with its original wall-clock
// deadline after a restart. A deadline already in the past expires on the
// next tick.
func (e *Engine) Restore(entry Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pending[entry.Decision.TaskID]; ok {
		return
	}

	stored := entry
	stored.Status = StatusPending
	e.pending[entry.Decision.TaskID] = &stored
	e.armTimerLocked(entry.Decision.TaskID, entry.Deadline.Sub(e.clock().UTC()))
}

func (e *Engine) armTimerLocked(taskID string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.timers[taskID] = time.AfterFunc(d, func() {
		e.expire(taskID)
	})
}

func (e *Engine) expire(taskID string) {
	e.mu.Lock()
	entry, ok := e.pending[taskID]
	if !ok || entry.Status != StatusPending {
		e.mu.Unlock()
		return
	}
	entry.Status = StatusExpired
	entry.Reason = "approval_timeout"
	snapshot := *entry
	delete(e.pending, taskID)
	delete(e.timers, taskID)
	e.mu.Unlock()

	logger := log.WithComponent("commit")
	logger.Warn().
		Str("task_id", taskID).
		Msg("confirmation window expired")
	if e.OnExpired != nil {
		e.OnExpired(snapshot)
	}
}

// Approve records one approval vote. The first call that satisfies the
// required approver count settles the entry, stops the countdown, and
// fires OnApproved. Re-approving a settled task is a no-op (changed is
// false, no error). A repeat vote from the same approver on a multi-
// approval task is ErrUnauthorized.
func (e *Engine) Approve(taskID, approver string) (Entry, bool, error) {
	if approver == "" {
		return Entry{}, false, ErrUnauthorized
	}

	e.mu.Lock()
	entry, ok := e.pending[taskID]
	if !ok {
		e.mu.Unlock()
		return Entry{}, false, ErrNotPending
	}

	for _, a := range entry.Approvers {
		if a == approver {
			e.mu.Unlock()
			if len(entry.Approvers) >= required(entry) {
				return *entry, false, nil
			}
			return Entry{}, false, ErrUnauthorized
		}
	}

	entry.Approvers = append(entry.Approvers, approver)
	if len(entry.Approvers) < required(entry) {
		snapshot := *entry
		e.mu.Unlock()
		return snapshot, false, nil
	}

	entry.Status = StatusApproved
	snapshot := *entry
	e.stopTimerLocked(taskID)
	delete(e.pending, taskID)
	e.mu.Unlock()

	if e.OnApproved != nil {
		e.OnApproved(snapshot)
	}
	return snapshot, true, nil
}

// Reject settles a pending entry immediately with the operator's reason
func (e *Engine) Reject(taskID, approver, reason string) (Entry, error) {
	if approver == "" {
		return Entry{}, ErrUnauthorized
	}

	e.mu.Lock()
	entry, ok := e.pending[taskID]
	if !ok {
		e.mu.Unlock()
		return Entry{}, ErrNotPending
	}

	entry.Status = StatusRejected
	entry.Reason = reason
	entry.Approvers = append(entry.Approvers, approver)
	snapshot := *entry
	e.stopTimerLocked(taskID)
	delete(e.pending, taskID)
	e.mu.Unlock()

	return snapshot, nil
}

// Cancel withdraws a pending entry without settling it: the countdown
// stops and no hook fires. Used when the task awaiting confirmation is
// aborted or has already been settled through the ledger.
func (e *Engine) Cancel(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[taskID]; !ok {
		return false
	}
	e.stopTimerLocked(taskID)
	delete(e.pending, taskID)
	return true
}

func (e *Engine) stopTimerLocked(taskID string) {
	if t, ok := e.timers[taskID]; ok {
		t.Stop()
		delete(e.timers, taskID)
	}
}

// Pending returns a snapshot of the confirmation queue in deadline order
func (e *Engine) Pending() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Entry, 0, len(e.pending))
	for _, entry := range e.pending {
		out = append(out, *entry)
	}
	sortByDeadline(out)
	return out
}

// IsPending reports whether a task awaits confirmation
func (e *Engine) IsPending(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[taskID]
	return ok
}

// Stop cancels all countdown timers; pending entries are preserved in the
// ledger and restored on the next start
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

func required(entry *Entry) int {
	if entry.Decision.ApproversRequired < 1 {
		return 1
	}
	return entry.Decision.ApproversRequired
}

func sortByDeadline(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Deadline.Before(entries[j-1].Deadline); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
