package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-task-scheduler/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports scheduler/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	schedulerTasks  *prom.GaugeVec
	schedulerTotals *prom.GaugeVec
	schedulerClosed *prom.GaugeVec

	poolTasks   *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	schedulerTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskscheduler",
		Name:      "scheduler_tasks",
		Help:      "Tasks per scheduler by state (queued, pending, active).",
	}, []string{"scheduler", "state"})
	schedulerTotals := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskscheduler",
		Name:      "scheduler_tasks_total",
		Help:      "Scheduler task outcome count snapshot (executed, abandoned, rejected).",
	}, []string{"scheduler", "outcome"})
	schedulerClosed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskscheduler",
		Name:      "scheduler_closed",
		Help:      "Scheduler closed state (1=closed, 0=open).",
	}, []string{"scheduler"})

	poolTasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskscheduler",
		Name:      "pool_tasks",
		Help:      "Tasks per pool by state (queued, pending, active).",
	}, []string{"pool", "state"})
	poolWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskscheduler",
		Name:      "pool_workers",
		Help:      "Worker count per pool.",
	}, []string{"pool"})
	poolRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "taskscheduler",
		Name:      "pool_running",
		Help:      "Pool running state (1=running, 0=stopped).",
	}, []string{"pool"})

	var err error
	if schedulerTasks, err = registerCollector(reg, schedulerTasks); err != nil {
		return nil, err
	}
	if schedulerTotals, err = registerCollector(reg, schedulerTotals); err != nil {
		return nil, err
	}
	if schedulerClosed, err = registerCollector(reg, schedulerClosed); err != nil {
		return nil, err
	}
	if poolTasks, err = registerCollector(reg, poolTasks); err != nil {
		return nil, err
	}
	if poolWorkers, err = registerCollector(reg, poolWorkers); err != nil {
		return nil, err
	}
	if poolRunning, err = registerCollector(reg, poolRunning); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:        interval,
		schedulers:      make(map[string]SchedulerSnapshotProvider),
		pools:           make(map[string]PoolSnapshotProvider),
		schedulerTasks:  schedulerTasks,
		schedulerTotals: schedulerTotals,
		schedulerClosed: schedulerClosed,
		poolTasks:       poolTasks,
		poolWorkers:     poolWorkers,
		poolRunning:     poolRunning,
	}, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.schedulerTasks.WithLabelValues(name, "queued").Set(float64(stats.Queued))
		p.schedulerTasks.WithLabelValues(name, "pending").Set(float64(stats.Pending))
		p.schedulerTasks.WithLabelValues(name, "active").Set(float64(stats.Active))
		p.schedulerTotals.WithLabelValues(name, "executed").Set(float64(stats.Executed))
		p.schedulerTotals.WithLabelValues(name, "abandoned").Set(float64(stats.Abandoned))
		p.schedulerTotals.WithLabelValues(name, "rejected").Set(float64(stats.Rejected))
		p.schedulerClosed.WithLabelValues(name).Set(boolGauge(stats.Closed))
	}
	p.schedulersMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolTasks.WithLabelValues(name, "queued").Set(float64(stats.Queued))
		p.poolTasks.WithLabelValues(name, "pending").Set(float64(stats.Pending))
		p.poolTasks.WithLabelValues(name, "active").Set(float64(stats.Active))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
	p.poolsMu.RUnlock()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
