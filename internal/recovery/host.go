package recovery

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tradewire/bridge/internal/observ"
)

// HostController abstracts start/stop control of the execution terminal
// so recovery logic can be exercised against a fake in tests.
type HostController interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	Responsive(ctx context.Context) bool
}

// ProcessController drives the real terminal process: graceful terminate
// with a kill fallback, relaunch from the install directory.
type ProcessController struct {
	Dir     string // terminal install directory
	ExeName string
	// GraceWait bounds how long Stop waits after SIGTERM before killing.
	GraceWait time.Duration
}

func (pc *ProcessController) find(ctx context.Context) (*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err == nil && strings.EqualFold(name, pc.ExeName) {
			return p, nil
		}
	}
	return nil, nil
}

func (pc *ProcessController) Stop(ctx context.Context) error {
	p, err := pc.find(ctx)
	if err != nil {
		return err
	}
	if p == nil {
		return nil // already gone
	}

	if err := p.TerminateWithContext(ctx); err != nil {
		observ.LogError("host_terminate_failed", err, map[string]any{"pid": p.Pid})
	}

	grace := pc.GraceWait
	if grace <= 0 {
		grace = 10 * time.Second
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return p.KillWithContext(ctx)
}

func (pc *ProcessController) Start(ctx context.Context) error {
	exe := filepath.Join(pc.Dir, pc.ExeName)
	cmd := exec.Command(exe)
	cmd.Dir = pc.Dir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", exe, err)
	}
	// The terminal owns its own lifetime from here; reap in background.
	go func() { _ = cmd.Wait() }()
	observ.Log("host_started", map[string]any{"exe": exe, "pid": cmd.Process.Pid})
	return nil
}

func (pc *ProcessController) Responsive(ctx context.Context) bool {
	p, err := pc.find(ctx)
	if err != nil || p == nil {
		return false
	}
	statuses, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, st := range statuses {
		if st == process.Zombie {
			return false
		}
	}
	return true
}
