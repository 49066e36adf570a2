package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegiskernel/aegis/pkg/types"
)

func TestDefaultDoctrineValidates(t *testing.T) {
	d := DefaultDoctrine()
	require.NoError(t, d.Validate())
	assert.True(t, d.Defaults)
	assert.NotEmpty(t, d.Hash())
}

func TestLoadDoctrineMissingFileUsesDefaults(t *testing.T) {
	d, err := LoadDoctrine(filepath.Join(t.TempDir(), "doctrine.json"))
	require.NoError(t, err)
	assert.True(t, d.Defaults)
}

func TestLoadDoctrineFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doctrine.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"history_is_truth": true,
		"append_only": true,
		"no_artifact_no_existence": true,
		"no_verification_rejected": true,
		"irreversible_requires_approval": true
	}`), 0644))

	d, err := LoadDoctrine(path)
	require.NoError(t, err)
	assert.False(t, d.Defaults)
	require.NoError(t, d.Validate())
}

func TestDoctrineValidateRejectsDisabledInvariant(t *testing.T) {
	d := DefaultDoctrine()
	d.AppendOnly = false
	err := d.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDoctrineViolation)
}

func TestDoctrineHashIsStable(t *testing.T) {
	assert.Equal(t, DefaultDoctrine().Hash(), DefaultDoctrine().Hash())

	d := DefaultDoctrine()
	d.Defaults = false // excluded from the hash
	assert.Equal(t, DefaultDoctrine().Hash(), d.Hash())
}

func TestLoadRuntimeMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadRuntime(filepath.Join(t.TempDir(), "runtime.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers.MaxTotal)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestRuntimeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")

	cfg := DefaultRuntime()
	cfg.Workers.MaxTotal = 2
	cfg.Governance.Whitelist = []string{"ops@example.com"}
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadRuntime(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Workers.MaxTotal)
	assert.True(t, loaded.Governance.Whitelisted("ops@example.com"))
	assert.False(t, loaded.Governance.Whitelisted("other@example.com"))
}

func TestRuntimeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Runtime)
		wantErr bool
	}{
		{"defaults pass", func(r *Runtime) {}, false},
		{"zero max_total", func(r *Runtime) { r.Workers.MaxTotal = 0 }, true},
		{"negative per-kind cap", func(r *Runtime) { r.Workers.MaxPerKind[types.WorkerKindScout] = -1 }, true},
		{"zero attempts", func(r *Runtime) { r.Retry.MaxAttempts = 0 }, true},
		{"shrinking backoff", func(r *Runtime) { r.Retry.BackoffFactor = 0.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRuntime()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultRuntime()
	clone := cfg.Clone()

	clone.Workers.MaxPerKind[types.WorkerKindScout] = 99
	clone.Governance.RiskOverrides[types.WorkerKindScout] = types.TierS

	assert.Equal(t, 4, cfg.Workers.MaxPerKind[types.WorkerKindScout])
	_, ok := cfg.Governance.RiskOverrides[types.WorkerKindScout]
	assert.False(t, ok)
}

func TestStoreSwap(t *testing.T) {
	store := NewStore(DefaultRuntime())

	next := DefaultRuntime()
	next.Workers.MaxExecutionTime = 5 * time.Second
	old := store.Swap(next)

	assert.Equal(t, 60*time.Second, old.Workers.MaxExecutionTime)
	assert.Equal(t, 5*time.Second, store.Current().Workers.MaxExecutionTime)
}
