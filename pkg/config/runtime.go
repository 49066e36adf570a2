package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegiskernel/aegis/pkg/types"
)

// Runtime is the operator-editable configuration. Every mutation appends a
// ConfigChanged ledger entry before the new values take effect; tasks
// already gated keep the snapshot they were evaluated against.
type Runtime struct {
	Workers    WorkerLimits     `yaml:"workers" json:"workers"`
	Commit     CommitConfig     `yaml:"commit" json:"commit"`
	Governance GovernanceConfig `yaml:"governance" json:"governance"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
}

// WorkerLimits bounds the worker swarm
type WorkerLimits struct {
	MaxTotal         int                      `yaml:"max_total" json:"max_total"`
	MaxPerKind       map[types.WorkerKind]int `yaml:"max_per_kind" json:"max_per_kind"`
	MaxExecutionTime time.Duration            `yaml:"max_execution_time" json:"max_execution_time"`
	MaxMemoryBytes   int64                    `yaml:"max_memory_bytes" json:"max_memory_bytes"`
	MaxCostPerTask   int64                    `yaml:"max_cost_per_task" json:"max_cost_per_task"`
}

// CommitConfig tunes the commit engine
type CommitConfig struct {
	// QueueOnSaturation makes the dispatcher queue tasks instead of
	// failing with CapacityExhausted when the pool is full.
	QueueOnSaturation bool `yaml:"queue_on_saturation" json:"queue_on_saturation"`

	// ApprovalWindow extends a tier's minimum countdown when larger.
	ApprovalWindow time.Duration `yaml:"approval_window" json:"approval_window"`
}

// GovernanceConfig tunes the governance gate
type GovernanceConfig struct {
	// RiskOverrides forces a tier per task kind; overrides only ever
	// tighten (ties go to the stricter side).
	RiskOverrides map[types.WorkerKind]types.RiskTier `yaml:"risk_overrides" json:"risk_overrides"`

	// Whitelist enumerates permitted external recipients.
	Whitelist []string `yaml:"whitelist" json:"whitelist"`

	// SpendCapTokens caps per-task token spend.
	SpendCapTokens int64 `yaml:"spend_cap_tokens" json:"spend_cap_tokens"`

	// DualApprovalForS requires 2 approvers for S-tier tasks.
	DualApprovalForS bool `yaml:"dual_approval_for_s" json:"dual_approval_for_s"`
}

// RetryConfig tunes task retry behavior
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	BackoffCap    time.Duration `yaml:"backoff_cap" json:"backoff_cap"`
	JitterPct     float64       `yaml:"jitter_pct" json:"jitter_pct"`
}

// DefaultRuntime returns the runtime defaults
func DefaultRuntime() *Runtime {
	return &Runtime{
		Workers: WorkerLimits{
			MaxTotal: 8,
			MaxPerKind: map[types.WorkerKind]int{
				types.WorkerKindScout:   4,
				types.WorkerKindBuilder: 2,
				types.WorkerKindVerify:  2,
				types.WorkerKindCustom:  1,
			},
			MaxExecutionTime: 60 * time.Second,
			MaxMemoryBytes:   512 << 20,
			MaxCostPerTask:   10000,
		},
		Commit: CommitConfig{
			QueueOnSaturation: true,
			ApprovalWindow:    0,
		},
		Governance: GovernanceConfig{
			RiskOverrides:    map[types.WorkerKind]types.RiskTier{},
			Whitelist:        nil,
			SpendCapTokens:   100000,
			DualApprovalForS: false,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BackoffBase:   time.Second,
			BackoffFactor: 2,
			BackoffCap:    30 * time.Second,
			JitterPct:     0.25,
		},
	}
}

// LoadRuntime reads runtime config at path; a missing file yields defaults
func LoadRuntime(path string) (*Runtime, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultRuntime(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read runtime config: %w", err)
	}

	cfg := DefaultRuntime()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse runtime config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the runtime config to path
func (r *Runtime) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal runtime config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write runtime config: %w", err)
	}
	return nil
}

// Validate rejects configs the engine cannot honor
func (r *Runtime) Validate() error {
	if r.Workers.MaxTotal <= 0 {
		return fmt.Errorf("workers.max_total must be positive, got %d", r.Workers.MaxTotal)
	}
	for kind, n := range r.Workers.MaxPerKind {
		if n < 0 {
			return fmt.Errorf("workers.max_per_kind[%s] must not be negative, got %d", kind, n)
		}
	}
	if r.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", r.Retry.MaxAttempts)
	}
	if r.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be at least 1, got %v", r.Retry.BackoffFactor)
	}
	return nil
}

// Clone returns a deep copy so gated tasks keep their decision-time snapshot
func (r *Runtime) Clone() *Runtime {
	out := *r
	out.Workers.MaxPerKind = make(map[types.WorkerKind]int, len(r.Workers.MaxPerKind))
	for k, v := range r.Workers.MaxPerKind {
		out.Workers.MaxPerKind[k] = v
	}
	out.Governance.RiskOverrides = make(map[types.WorkerKind]types.RiskTier, len(r.Governance.RiskOverrides))
	for k, v := range r.Governance.RiskOverrides {
		out.Governance.RiskOverrides[k] = v
	}
	out.Governance.Whitelist = append([]string(nil), r.Governance.Whitelist...)
	return &out
}

// Whitelisted reports whether target is a permitted external recipient
func (g *GovernanceConfig) Whitelisted(target string) bool {
	for _, w := range g.Whitelist {
		if w == target {
			return true
		}
	}
	return false
}

// Store holds the live runtime config behind a lock. Readers take a
// snapshot; writers swap the whole value.
type Store struct {
	mu  sync.RWMutex
	cur *Runtime
}

// NewStore wraps an initial runtime config
func NewStore(cfg *Runtime) *Store {
	return &Store{cur: cfg}
}

// Current returns a snapshot of the live config
func (s *Store) Current() *Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Swap installs a new config and returns the previous one
func (s *Store) Swap(cfg *Runtime) *Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cur
	s.cur = cfg
	return old
}
