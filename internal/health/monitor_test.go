package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeProbe returns scripted results, one per Tick.
type fakeProbe struct {
	name     string
	category Category
	script   []Status
	calls    int
}

func (f *fakeProbe) Name() string       { return f.name }
func (f *fakeProbe) Category() Category { return f.category }

func (f *fakeProbe) Check(ctx context.Context) ProbeResult {
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	return ProbeResult{Status: f.script[idx], Detail: "scripted"}
}

// steadyProbe always returns the same status; stateless so it can be
// sampled from many goroutines.
type steadyProbe struct {
	category Category
	status   Status
}

func (s steadyProbe) Name() string       { return "steady" }
func (s steadyProbe) Category() Category { return s.category }
func (s steadyProbe) Check(ctx context.Context) ProbeResult {
	return ProbeResult{Status: s.status}
}

type panicProbe struct{}

func (panicProbe) Name() string       { return "boom" }
func (panicProbe) Category() Category { return CategoryHostUnresponsive }
func (panicProbe) Check(ctx context.Context) ProbeResult {
	panic("probe exploded")
}

func tick(m *Monitor, n int) {
	for i := 0; i < n; i++ {
		m.Tick(context.Background())
	}
}

func TestDebounceExactlyNthSampleRaises(t *testing.T) {
	probe := &fakeProbe{name: "flow", category: CategoryLowSuccessRate, script: []Status{
		StatusCritical, StatusCritical, StatusCritical,
	}}
	store := NewStore()
	m := NewMonitor([]Probe{probe}, time.Second, 2, store)

	m.Tick(context.Background())
	if got := store.PopPending(); len(got) != 0 {
		t.Fatalf("N-1 consecutive bad samples must not raise, got %d", len(got))
	}

	m.Tick(context.Background())
	got := store.PopPending()
	if len(got) != 1 {
		t.Fatalf("Nth bad sample must raise exactly one anomaly, got %d", len(got))
	}
	if got[0].Category != CategoryLowSuccessRate || got[0].Severity != SeverityCritical {
		t.Errorf("unexpected anomaly: %+v", got[0])
	}

	// Third bad sample continues the same episode; nothing new raised.
	m.Tick(context.Background())
	if got := store.PopPending(); len(got) != 0 {
		t.Errorf("same episode raised again: %d", len(got))
	}
}

func TestTransientBlipDoesNotRaise(t *testing.T) {
	probe := &fakeProbe{name: "flow", category: CategoryLowSuccessRate, script: []Status{
		StatusCritical, StatusHealthy, StatusCritical, StatusHealthy,
	}}
	store := NewStore()
	m := NewMonitor([]Probe{probe}, time.Second, 2, store)

	tick(m, 4)
	if got := store.PopPending(); len(got) != 0 {
		t.Errorf("alternating blips must never raise, got %d", len(got))
	}
}

func TestRecoveryResolvesAnomaly(t *testing.T) {
	probe := &fakeProbe{name: "proc", category: CategoryHostUnresponsive, script: []Status{
		StatusCritical, StatusCritical, StatusHealthy,
	}}
	store := NewStore()
	m := NewMonitor([]Probe{probe}, time.Second, 2, store)

	tick(m, 2)
	if len(store.Active()) != 1 {
		t.Fatal("anomaly should be active after debounce")
	}

	m.Tick(context.Background())
	if len(store.Active()) != 0 {
		t.Error("healthy sample should resolve the anomaly")
	}

	// A fresh degradation after recovery starts a new episode.
	probe.script = append(probe.script, StatusCritical, StatusCritical)
	tick(m, 2)
	store.PopPending() // drop the first episode's entry
	if len(store.Active()) != 1 {
		t.Error("new episode should raise again after resolution")
	}
}

func TestOverallIsWorstOfProbes(t *testing.T) {
	store := NewStore()
	m := NewMonitor([]Probe{
		&fakeProbe{name: "a", category: CategoryCPUCritical, script: []Status{StatusHealthy}},
		&fakeProbe{name: "b", category: CategoryMemoryCritical, script: []Status{StatusWarning}},
		&fakeProbe{name: "c", category: CategoryDiskCritical, script: []Status{StatusCritical}},
	}, time.Second, 2, store)

	snap := m.Tick(context.Background())
	if snap.Overall != StatusCritical {
		t.Errorf("overall should be worst-of, got %s", snap.Overall)
	}
}

func TestProbePanicBecomesCheckFailed(t *testing.T) {
	store := NewStore()
	m := NewMonitor([]Probe{panicProbe{}}, time.Second, 1, store)

	snap := m.Tick(context.Background())
	if len(snap.Probes) != 1 {
		t.Fatal("panicking probe missing from snapshot")
	}
	if snap.Probes[0].Status != StatusCheckFailed {
		t.Errorf("panic should downgrade to CHECK_FAILED, got %s", snap.Probes[0].Status)
	}
	if snap.Overall != StatusCritical {
		t.Errorf("CHECK_FAILED must aggregate as critical, got %s", snap.Overall)
	}

	got := store.PopPending()
	if len(got) != 1 || got[0].Severity != SeverityCritical {
		t.Errorf("check failure should raise critical with debounce=1: %+v", got)
	}
}

// Recovery workers resample health concurrently with the monitor loop;
// both Tick and Sample must tolerate that.
func TestTickIsSafeForConcurrentUse(t *testing.T) {
	store := NewStore()
	m := NewMonitor([]Probe{
		steadyProbe{category: CategoryDiskCritical, status: StatusCritical},
	}, time.Second, 2, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				m.Tick(context.Background())
				m.Sample(context.Background())
			}
		}()
	}
	wg.Wait()

	if len(store.Active()) != 1 {
		t.Errorf("sustained critical probe should leave one active anomaly, got %d", len(store.Active()))
	}
}

func TestSampleDoesNotAdvanceDebounce(t *testing.T) {
	store := NewStore()
	m := NewMonitor([]Probe{
		steadyProbe{category: CategoryDiskCritical, status: StatusCritical},
	}, time.Second, 2, store)

	for i := 0; i < 5; i++ {
		m.Sample(context.Background())
	}
	if got := store.PopPending(); len(got) != 0 {
		t.Fatalf("off-schedule samples must never raise, got %d", len(got))
	}
	if snap := store.Latest(); snap.Overall != StatusCritical {
		t.Errorf("sample should still refresh the stored snapshot, got %s", snap.Overall)
	}

	// Debounce still counts only scheduled ticks.
	m.Tick(context.Background())
	if got := store.PopPending(); len(got) != 0 {
		t.Fatalf("first tick must not raise with debounce=2, got %d", len(got))
	}
	m.Tick(context.Background())
	if got := store.PopPending(); len(got) != 1 {
		t.Errorf("second tick should raise exactly one anomaly, got %d", len(got))
	}
}

func TestFlowProbeIdleWindowIsHealthy(t *testing.T) {
	probe := &FlowProbe{Dir: t.TempDir(), Window: time.Hour}
	res := probe.Check(context.Background())
	if res.Status != StatusHealthy {
		t.Errorf("idle flow should be healthy, got %s", res.Status)
	}
}
