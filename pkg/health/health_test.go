package health

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyProbe struct {
	err error
}

func (f *flakyProbe) probe(context.Context) error { return f.err }

func newMonitor(probes map[string]*flakyProbe) *Monitor {
	cfg := Config{Interval: time.Hour, Timeout: time.Second, Retries: 3}
	checkers := make([]Checker, 0, len(probes))
	for name, p := range probes {
		checkers = append(checkers, CheckFunc{Probe: p.probe, Label: name})
	}
	return NewMonitor(cfg, checkers...)
}

func TestSubsystemStartsHealthy(t *testing.T) {
	m := newMonitor(map[string]*flakyProbe{"ledger": {}})
	assert.True(t, m.Healthy())
}

func TestUnhealthyAfterRetryThreshold(t *testing.T) {
	p := &flakyProbe{err: errors.New("disk gone")}
	m := newMonitor(map[string]*flakyProbe{"ledger": {}, "index": p})

	// two failures stay under the threshold
	m.runRound()
	m.runRound()
	assert.True(t, m.Healthy())

	m.runRound()
	assert.False(t, m.Healthy())

	snap := m.Snapshot()
	assert.Equal(t, 3, snap["index"].ConsecutiveFailures)
	assert.Contains(t, snap["index"].LastResult.Message, "disk gone")
	assert.True(t, snap["ledger"].Healthy)
}

func TestRecoveryAfterSingleSuccess(t *testing.T) {
	p := &flakyProbe{err: errors.New("locked")}
	m := newMonitor(map[string]*flakyProbe{"index": p})

	for i := 0; i < 3; i++ {
		m.runRound()
	}
	require.False(t, m.Healthy())

	p.err = nil
	m.runRound()
	assert.True(t, m.Healthy())
	assert.Equal(t, 0, m.Snapshot()["index"].ConsecutiveFailures)
}

func TestHandlerReports503WhenUnhealthy(t *testing.T) {
	p := &flakyProbe{err: errors.New("boom")}
	m := newMonitor(map[string]*flakyProbe{"index": p})
	for i := 0; i < 3; i++ {
		m.runRound()
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 503, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":false`)

	p.err = nil
	m.runRound()
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
}
