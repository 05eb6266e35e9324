package metrics

import (
	"time"

	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/types"
)

// StatusSource reports every registered decider with its instances
type StatusSource interface {
	Statuses() []controller.DeciderStatus
}

// PendingSource reports the number of jobs waiting for an instance
type PendingSource interface {
	PendingCount() int
}

// Collector refreshes gauges from the decider registry
type Collector struct {
	deciders StatusSource
	pending  PendingSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector; pending may be nil
func NewCollector(deciders StatusSource, pending PendingSource) *Collector {
	return &Collector{
		deciders: deciders,
		pending:  pending,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
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

// Collect runs one collection pass
func (c *Collector) Collect() {
	c.collectDeciderMetrics()

	if c.pending != nil {
		JobsPending.Set(float64(c.pending.PendingCount()))
	}
}

var installationStatuses = []types.InstallationStatus{
	types.NotInstalled,
	types.Installing,
	types.Installed,
	types.InstallFailed,
}

func (c *Collector) collectDeciderMetrics() {
	statuses := c.deciders.Statuses()

	// Instances come and go; drop series of states that no longer exist
	InstancesTotal.Reset()

	for _, st := range statuses {
		for _, s := range installationStatuses {
			v := 0.0
			if st.Status == s {
				v = 1
			}
			DecidersInstalled.WithLabelValues(st.Name, string(s)).Set(v)
		}

		counts := make(map[types.InstanceState]int)
		for _, inst := range st.Instances {
			counts[inst.State]++
		}
		for state, n := range counts {
			InstancesTotal.WithLabelValues(st.Name, string(state)).Set(float64(n))
		}
	}
}
