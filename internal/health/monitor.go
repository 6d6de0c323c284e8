package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradewire/bridge/internal/observ"
)

// Monitor runs the probes on a fixed interval, composes snapshots and
// raises an anomaly only after a category has been bad for Debounce
// consecutive samples. A single transient blip never raises.
type Monitor struct {
	Probes   []Probe
	Interval time.Duration
	Debounce int
	Store    *Store

	mu      sync.Mutex // guards streaks
	streaks map[Category]int
	now     func() time.Time
}

func NewMonitor(probes []Probe, interval time.Duration, debounce int, store *Store) *Monitor {
	if debounce <= 0 {
		debounce = 2
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		Probes:   probes,
		Interval: interval,
		Debounce: debounce,
		Store:    store,
		streaks:  make(map[Category]int),
		now:      time.Now,
	}
}

// Run ticks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick takes one snapshot, updates the store and applies debounce logic.
// Safe for concurrent use.
func (m *Monitor) Tick(ctx context.Context) Snapshot {
	snap := m.Sample(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, res := range snap.Probes {
		m.debounce(res, snap)
	}
	return snap
}

// Sample composes one snapshot and stores it without touching debounce
// state. Recovery workers use it to re-check health after a remediation;
// an off-schedule sample must never advance anomaly streaks.
func (m *Monitor) Sample(ctx context.Context) Snapshot {
	snap := Snapshot{Taken: m.now().UTC(), Overall: StatusHealthy}

	for _, p := range m.Probes {
		res := m.sample(ctx, p)
		res.Name = p.Name()
		res.Category = p.Category()
		snap.Probes = append(snap.Probes, res)
		if rank(res.Status) > rank(snap.Overall) {
			// check_failed aggregates as critical
			if res.Status == StatusCheckFailed {
				snap.Overall = StatusCritical
			} else {
				snap.Overall = res.Status
			}
		}
		observ.SetGauge("health_probe_status", float64(rank(res.Status)), map[string]string{"probe": p.Name()})
	}

	m.Store.SetSnapshot(snap)
	observ.SetGauge("health_overall_status", float64(rank(snap.Overall)), nil)
	return snap
}

// sample runs one probe, converting panics and probe-level errors into
// CHECK_FAILED results so sampling can never crash the monitor.
func (m *Monitor) sample(ctx context.Context, p Probe) (res ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ProbeResult{Status: StatusCheckFailed, Detail: fmt.Sprintf("probe panic: %v", r)}
			observ.Log("probe_panic", map[string]any{"probe": p.Name(), "panic": fmt.Sprint(r)})
		}
	}()
	return p.Check(ctx)
}

func (m *Monitor) debounce(res ProbeResult, snap Snapshot) {
	if res.Status == StatusHealthy {
		m.streaks[res.Category] = 0
		if m.Store.Resolve(res.Category) {
			observ.Log("anomaly_resolved", map[string]any{"category": string(res.Category)})
			observ.IncCounter("anomalies_resolved_total", map[string]string{"category": string(res.Category)})
		}
		return
	}

	m.streaks[res.Category]++
	if m.streaks[res.Category] < m.Debounce {
		return
	}

	severity := SeverityWarning
	if res.Status == StatusCritical || res.Status == StatusCheckFailed {
		severity = SeverityCritical
	}
	raised := m.Store.Raise(Anomaly{
		Category: res.Category,
		Severity: severity,
		Detail:   res.Detail,
		Snapshot: snap,
		RaisedAt: m.now().UTC(),
	})
	if raised {
		observ.IncCounter("anomalies_raised_total", map[string]string{"category": string(res.Category), "severity": string(severity)})
		observ.Log("anomaly_raised", map[string]any{
			"category": string(res.Category), "severity": string(severity), "detail": res.Detail,
		})
	}
}
