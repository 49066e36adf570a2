package metrics

import (
	"time"

	"github.com/aegiskernel/aegis/pkg/types"
)

// Source exposes the runtime snapshots the collector polls. The kernel
// implements it.
type Source interface {
	MissionCounts() map[types.MissionState]int
	Utilization() types.Utilization
	CommitQueueDepth() int
	Stage() (types.Stage, int)
}

// Collector periodically samples gauge-style metrics from the kernel
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector polling every 15 seconds
func NewCollector(source Source) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectMissionMetrics()
	c.collectWorkerMetrics()
	c.collectCommitMetrics()
	c.collectCapabilityMetrics()
}

func (c *Collector) collectMissionMetrics() {
	for state, count := range c.source.MissionCounts() {
		MissionsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectWorkerMetrics() {
	u := c.source.Utilization()
	WorkerPoolMax.Set(float64(u.Max))
	for kind, count := range u.PerKind {
		WorkersLive.WithLabelValues(string(kind)).Set(float64(count))
	}
}

func (c *Collector) collectCommitMetrics() {
	CommitQueueDepth.Set(float64(c.source.CommitQueueDepth()))
}

func (c *Collector) collectCapabilityMetrics() {
	stage, successes := c.source.Stage()
	CapabilityStage.Set(float64(stage.Ord()))
	MissionSuccesses.Set(float64(successes))
}
