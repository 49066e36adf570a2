package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Result represents the outcome of one subsystem probe
type Result struct {
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration"`
}

// Checker probes one kernel subsystem
type Checker interface {
	// Check performs the probe and returns the result
	Check(ctx context.Context) Result

	// Name identifies the subsystem in reports
	Name() string
}

// CheckFunc adapts a function to the Checker interface
type CheckFunc struct {
	Probe func(ctx context.Context) error
	Label string
}

func (c CheckFunc) Name() string { return c.Label }

func (c CheckFunc) Check(ctx context.Context) Result {
	start := time.Now()
	err := c.Probe(ctx)
	res := Result{
		Healthy:   err == nil,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Config tunes the monitor
type Config struct {
	// Interval is the time between probe rounds.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration

	// Retries is the number of consecutive failures before a subsystem
	// is reported unhealthy.
	Retries int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
		Retries:  3,
	}
}

// Status tracks one subsystem across probe rounds
type Status struct {
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastCheck            time.Time `json:"last_check"`
	LastResult           Result    `json:"last_result"`
	Healthy              bool      `json:"healthy"`
}

func (s *Status) update(result Result, cfg Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= cfg.Retries {
			s.Healthy = false
		}
	}
}

// Monitor runs the registered checkers on an interval and aggregates
// their status. A subsystem starts healthy and flips only after the
// retry threshold of consecutive failures.
type Monitor struct {
	cfg      Config
	checkers []Checker

	mu     sync.RWMutex
	status map[string]*Status

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a monitor over the given checkers
func NewMonitor(cfg Config, checkers ...Checker) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		checkers: checkers,
		status:   make(map[string]*Status),
		stopCh:   make(chan struct{}),
	}
	for _, c := range checkers {
		m.status[c.Name()] = &Status{Healthy: true}
	}
	return m
}

// Start begins the probe loop; the first round runs immediately
func (m *Monitor) Start() {
	go func() {
		m.runRound()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.runRound()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop ends the probe loop
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) runRound() {
	for _, c := range m.checkers {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
		res := c.Check(ctx)
		cancel()

		m.mu.Lock()
		m.status[c.Name()].update(res, m.cfg)
		m.mu.Unlock()
	}
}

// Healthy reports whether every subsystem is currently healthy
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.status {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of every subsystem's status
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.status))
	for name, s := range m.status {
		out[name] = *s
	}
	return out
}

// Handler serves the aggregate status as JSON; 503 when any subsystem
// is unhealthy
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthy := m.Healthy()
		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(struct {
			Healthy    bool              `json:"healthy"`
			Subsystems map[string]Status `json:"subsystems"`
		}{
			Healthy:    healthy,
			Subsystems: m.Snapshot(),
		})
	})
}
