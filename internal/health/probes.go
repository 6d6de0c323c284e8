package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessProbe checks that the execution host process is present and in a
// runnable state, not merely listed.
type ProcessProbe struct {
	ExeName string
}

func (p *ProcessProbe) Name() string       { return "process" }
func (p *ProcessProbe) Category() Category { return CategoryHostUnresponsive }

func (p *ProcessProbe) Check(ctx context.Context) ProbeResult {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return ProbeResult{Status: StatusCheckFailed, Detail: err.Error()}
	}
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil || !strings.EqualFold(name, p.ExeName) {
			continue
		}
		statuses, err := proc.StatusWithContext(ctx)
		if err == nil {
			for _, st := range statuses {
				if st == process.Zombie {
					return ProbeResult{Status: StatusCritical, Detail: fmt.Sprintf("%s is a zombie (pid %d)", p.ExeName, proc.Pid)}
				}
			}
		}
		return ProbeResult{Status: StatusHealthy, Detail: fmt.Sprintf("pid %d", proc.Pid), Value: float64(proc.Pid)}
	}
	return ProbeResult{Status: StatusCritical, Detail: p.ExeName + " not running"}
}

// FlowProbe derives the signal success rate from processed/ vs failed/
// counts inside a rolling window. An idle window is healthy; flow health
// only degrades when signals actually fail.
type FlowProbe struct {
	Dir      string // shared directory root
	Window   time.Duration
	WarnRate float64 // below this is a warning (default 0.8)
	CritRate float64 // below this is critical (default 0.5)

	now func() time.Time
}

func (p *FlowProbe) Name() string       { return "signal_flow" }
func (p *FlowProbe) Category() Category { return CategoryLowSuccessRate }

func (p *FlowProbe) Check(ctx context.Context) ProbeResult {
	warn, crit := p.WarnRate, p.CritRate
	if warn == 0 {
		warn = 0.8
	}
	if crit == 0 {
		crit = 0.5
	}
	clock := p.now
	if clock == nil {
		clock = time.Now
	}
	cutoff := clock().Add(-p.Window)

	processed, err := countRecent(filepath.Join(p.Dir, "processed"), cutoff)
	if err != nil {
		return ProbeResult{Status: StatusCheckFailed, Detail: err.Error()}
	}
	failed, err := countRecent(filepath.Join(p.Dir, "failed"), cutoff)
	if err != nil {
		return ProbeResult{Status: StatusCheckFailed, Detail: err.Error()}
	}

	total := processed + failed
	if total == 0 {
		return ProbeResult{Status: StatusHealthy, Detail: "no signal flow in window", Value: 1.0}
	}
	rate := float64(processed) / float64(total)
	res := ProbeResult{Value: rate, Detail: fmt.Sprintf("%d ok / %d failed", processed, failed)}
	switch {
	case rate < crit:
		res.Status = StatusCritical
	case rate < warn:
		res.Status = StatusWarning
	default:
		res.Status = StatusHealthy
	}
	return res
}

func countRecent(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(cutoff) {
			n++
		}
	}
	return n, nil
}

// FreshnessProbe tracks the age of the newest market-data write.
type FreshnessProbe struct {
	Dir    string
	MaxAge time.Duration

	now func() time.Time
}

func (p *FreshnessProbe) Name() string       { return "data_freshness" }
func (p *FreshnessProbe) Category() Category { return CategoryStaleData }

func (p *FreshnessProbe) Check(ctx context.Context) ProbeResult {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return ProbeResult{Status: StatusCheckFailed, Detail: err.Error()}
	}
	var newest time.Time
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	if newest.IsZero() {
		return ProbeResult{Status: StatusWarning, Detail: "no market data files"}
	}
	clock := p.now
	if clock == nil {
		clock = time.Now
	}
	age := clock().Sub(newest)
	res := ProbeResult{Value: age.Seconds(), Detail: fmt.Sprintf("last write %s ago", age.Round(time.Second))}
	if age > p.MaxAge {
		res.Status = StatusCritical
	} else {
		res.Status = StatusHealthy
	}
	return res
}

// AccessProbe verifies this process can still write to the shared
// directory; losing that breaks the whole hand-off contract.
type AccessProbe struct {
	Dir string
}

func (p *AccessProbe) Name() string       { return "shared_dir_access" }
func (p *AccessProbe) Category() Category { return CategoryPermissionError }

func (p *AccessProbe) Check(ctx context.Context) ProbeResult {
	probe := filepath.Join(p.Dir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return ProbeResult{Status: StatusCritical, Detail: err.Error()}
	}
	if err := os.Remove(probe); err != nil {
		return ProbeResult{Status: StatusCritical, Detail: err.Error()}
	}
	return ProbeResult{Status: StatusHealthy}
}

// thresholdStatus grades a utilization percentage.
func thresholdStatus(pct, warn, crit float64) Status {
	switch {
	case pct >= crit:
		return StatusCritical
	case pct >= warn:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// CPUProbe samples total CPU utilization.
type CPUProbe struct {
	WarnPct, CritPct float64
}

func (p *CPUProbe) Name() string       { return "cpu" }
func (p *CPUProbe) Category() Category { return CategoryCPUCritical }

func (p *CPUProbe) Check(ctx context.Context) ProbeResult {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(pcts) == 0 {
		return ProbeResult{Status: StatusCheckFailed, Detail: fmt.Sprintf("cpu sample: %v", err)}
	}
	pct := pcts[0]
	return ProbeResult{
		Status: thresholdStatus(pct, p.WarnPct, p.CritPct),
		Detail: fmt.Sprintf("%.1f%%", pct),
		Value:  pct,
	}
}

// MemoryProbe samples virtual memory utilization.
type MemoryProbe struct {
	WarnPct, CritPct float64
}

func (p *MemoryProbe) Name() string       { return "memory" }
func (p *MemoryProbe) Category() Category { return CategoryMemoryCritical }

func (p *MemoryProbe) Check(ctx context.Context) ProbeResult {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return ProbeResult{Status: StatusCheckFailed, Detail: err.Error()}
	}
	return ProbeResult{
		Status: thresholdStatus(vm.UsedPercent, p.WarnPct, p.CritPct),
		Detail: fmt.Sprintf("%.1f%%", vm.UsedPercent),
		Value:  vm.UsedPercent,
	}
}

// DiskProbe samples used-space percentage on the volume holding the
// shared directory.
type DiskProbe struct {
	Path             string
	WarnPct, CritPct float64
}

func (p *DiskProbe) Name() string       { return "disk" }
func (p *DiskProbe) Category() Category { return CategoryDiskCritical }

func (p *DiskProbe) Check(ctx context.Context) ProbeResult {
	usage, err := disk.UsageWithContext(ctx, p.Path)
	if err != nil {
		return ProbeResult{Status: StatusCheckFailed, Detail: err.Error()}
	}
	return ProbeResult{
		Status: thresholdStatus(usage.UsedPercent, p.WarnPct, p.CritPct),
		Detail: fmt.Sprintf("%.1f%% used, %d MB free", usage.UsedPercent, usage.Free/1024/1024),
		Value:  usage.UsedPercent,
	}
}
