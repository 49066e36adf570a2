package worker

import (
	"fmt"
	"sync"

	"github.com/aegiskernel/aegis/pkg/config"
	"github.com/aegiskernel/aegis/pkg/types"
)

// Limits tracks live worker counts against the configured caps. CanSpawn,
// RegisterSpawn, and Unregister are mutually exclusive under a single lock;
// counters never go negative (clamped at zero). Config updates take effect
// on the next spawn decision, never mid-flight.
type Limits struct {
	mu       sync.Mutex
	cfg      config.WorkerLimits
	live     int
	liveKind map[types.WorkerKind]int
}

// NewLimits creates a limits accountant from the worker config
func NewLimits(cfg config.WorkerLimits) *Limits {
	return &Limits{
		cfg:      cfg,
		liveKind: make(map[types.WorkerKind]int),
	}
}

// CanSpawn reports whether a worker of kind can start right now
func (l *Limits) CanSpawn(kind types.WorkerKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canSpawnLocked(kind)
}

func (l *Limits) canSpawnLocked(kind types.WorkerKind) bool {
	if l.live >= l.cfg.MaxTotal {
		return false
	}
	if cap, ok := l.cfg.MaxPerKind[kind]; ok && l.liveKind[kind] >= cap {
		return false
	}
	return true
}

// RegisterSpawn claims a worker slot; ErrCapacity when the pool is full
func (l *Limits) RegisterSpawn(kind types.WorkerKind) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.canSpawnLocked(kind) {
		return fmt.Errorf("spawn %s: %w", kind, ErrCapacity)
	}
	l.live++
	l.liveKind[kind]++
	return nil
}

// Unregister releases a worker slot. Releasing more than was claimed is
// clamped at zero rather than going negative.
func (l *Limits) Unregister(kind types.WorkerKind) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.live > 0 {
		l.live--
	}
	if l.liveKind[kind] > 0 {
		l.liveKind[kind]--
	}
}

// Update installs new caps; running workers are unaffected
func (l *Limits) Update(cfg config.WorkerLimits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
}

// Utilization returns a point-in-time occupancy snapshot
func (l *Limits) Utilization() types.Utilization {
	l.mu.Lock()
	defer l.mu.Unlock()

	perKind := make(map[types.WorkerKind]int, len(l.liveKind))
	for k, v := range l.liveKind {
		if v > 0 {
			perKind[k] = v
		}
	}
	return types.Utilization{
		Live:    l.live,
		Max:     l.cfg.MaxTotal,
		PerKind: perKind,
	}
}
