package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tradewire/bridge/internal/observ"
)

// StepResult is the outcome of one maintenance step.
type StepResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report is the consolidated outcome of one maintenance pass.
type Report struct {
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Steps    []StepResult `json:"steps"`
}

// Healthy reports whether every step succeeded.
func (r Report) Healthy() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return false
		}
	}
	return true
}

type MaintenanceConfig struct {
	SharedDir     string
	LogDir        string
	MarketDataDir string
	TerminalDir   string
	TerminalExe   string
	TempGlobs     []string // expanded relative to TerminalDir
	// CloneStagingDir, when set, is a staged copy of the terminal state;
	// the replication pass strips credential artifacts from it so the
	// copy is safe to clone onto another host.
	CloneStagingDir string
	CredentialGlobs []string
	LogMaxAge       time.Duration
	SnapshotMaxAge  time.Duration
	KeepArchiveDays int
}

// Maintenance runs the proactive daily upkeep pass. Steps are
// independent: one failing never aborts the rest.
type Maintenance struct {
	cfg  MaintenanceConfig
	host HostController
	now  func() time.Time
}

func NewMaintenance(cfg MaintenanceConfig, host HostController) *Maintenance {
	if cfg.LogMaxAge <= 0 {
		cfg.LogMaxAge = 7 * 24 * time.Hour
	}
	if cfg.SnapshotMaxAge <= 0 {
		cfg.SnapshotMaxAge = time.Hour
	}
	if cfg.KeepArchiveDays <= 0 {
		cfg.KeepArchiveDays = 7
	}
	if len(cfg.CredentialGlobs) == 0 {
		cfg.CredentialGlobs = []string{"config/accounts.dat", "config/*.srv", "origin.txt"}
	}
	return &Maintenance{cfg: cfg, host: host, now: time.Now}
}

// Run executes every maintenance step and returns the per-step report.
func (mt *Maintenance) Run(ctx context.Context) Report {
	report := Report{Started: mt.now().UTC()}

	steps := []struct {
		name string
		fn   func(ctx context.Context) (string, error)
	}{
		{"log_rotation", mt.rotateLogs},
		{"disk_reclaim", mt.reclaimDisk},
		{"permission_selftest", mt.permissionSelfTest},
		{"integrity_check", mt.integrityCheck},
		{"replication_readiness", mt.replicationReadiness},
	}

	for _, step := range steps {
		detail, err := step.fn(ctx)
		sr := StepResult{Name: step.name, OK: err == nil, Detail: detail}
		if err != nil {
			sr.Error = err.Error()
			observ.LogError("maintenance_step_failed", err, map[string]any{"step": step.name})
		}
		observ.IncCounter("maintenance_steps_total", map[string]string{"step": step.name, "ok": fmt.Sprint(sr.OK)})
		report.Steps = append(report.Steps, sr)
	}

	report.Finished = mt.now().UTC()
	observ.RecordDuration("maintenance_pass", report.Finished.Sub(report.Started), nil)
	observ.Log("maintenance_completed", map[string]any{"healthy": report.Healthy(), "steps": len(report.Steps)})
	return report
}

func (mt *Maintenance) rotateLogs(ctx context.Context) (string, error) {
	if mt.cfg.LogDir == "" {
		return "no log dir configured", nil
	}
	removed, err := pruneOlderThan(mt.cfg.LogDir, "*.log", mt.now().Add(-mt.cfg.LogMaxAge))
	return fmt.Sprintf("%d logs pruned", removed), err
}

func (mt *Maintenance) reclaimDisk(ctx context.Context) (string, error) {
	total := 0
	for _, glob := range mt.cfg.TempGlobs {
		n, err := removeGlob(filepath.Join(mt.cfg.TerminalDir, glob))
		if err != nil {
			return "", err
		}
		total += n
	}
	if mt.cfg.MarketDataDir != "" {
		n, err := pruneOlderThan(mt.cfg.MarketDataDir, "*", mt.now().Add(-mt.cfg.SnapshotMaxAge))
		if err != nil {
			return "", err
		}
		total += n
	}
	return fmt.Sprintf("%d files reclaimed", total), nil
}

// permissionSelfTest probes write access to the shared directory and
// attempts a mode repair before giving up.
func (mt *Maintenance) permissionSelfTest(ctx context.Context) (string, error) {
	if err := writeProbe(mt.cfg.SharedDir); err == nil {
		return "write access ok", nil
	}
	if err := os.Chmod(mt.cfg.SharedDir, 0o755); err != nil {
		return "", fmt.Errorf("chmod repair: %w", err)
	}
	if err := writeProbe(mt.cfg.SharedDir); err != nil {
		return "", fmt.Errorf("write access after repair: %w", err)
	}
	return "write access repaired", nil
}

func (mt *Maintenance) integrityCheck(ctx context.Context) (string, error) {
	exe := filepath.Join(mt.cfg.TerminalDir, mt.cfg.TerminalExe)
	if _, err := os.Stat(exe); err != nil {
		return "", fmt.Errorf("terminal executable: %w", err)
	}
	for _, sub := range []string{"processed", "failed", "archive"} {
		dir := filepath.Join(mt.cfg.SharedDir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("required subdir %s: %w", sub, err)
		}
	}
	if mt.host != nil && !mt.host.Responsive(ctx) {
		return "", fmt.Errorf("terminal process not responsive")
	}
	return "executable, subdirs and process ok", nil
}

// replicationReadiness strips host-specific credential artifacts from the
// clone staging copy. The live terminal directory is never touched.
func (mt *Maintenance) replicationReadiness(ctx context.Context) (string, error) {
	if mt.cfg.CloneStagingDir == "" {
		return "no staging dir configured", nil
	}
	total := 0
	for _, glob := range mt.cfg.CredentialGlobs {
		n, err := removeGlob(filepath.Join(mt.cfg.CloneStagingDir, glob))
		if err != nil {
			return "", err
		}
		total += n
	}
	return fmt.Sprintf("%d credential artifacts stripped", total), nil
}

// ReclaimAggressive frees disk under pressure: temp files plus the oldest
// archive day shards beyond the keep window. Invoked by DISK_CRITICAL
// recovery, not by the daily pass.
func (mt *Maintenance) ReclaimAggressive(ctx context.Context, archiveDir string) (int, error) {
	total := 0
	for _, glob := range mt.cfg.TempGlobs {
		n, err := removeGlob(filepath.Join(mt.cfg.TerminalDir, glob))
		if err == nil {
			total += n
		}
	}

	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		return total, err
	}
	var days []string
	for _, e := range entries {
		if e.IsDir() {
			days = append(days, e.Name())
		}
	}
	sort.Strings(days) // yyyymmdd sorts chronologically
	if len(days) > mt.cfg.KeepArchiveDays {
		for _, day := range days[:len(days)-mt.cfg.KeepArchiveDays] {
			if err := os.RemoveAll(filepath.Join(archiveDir, day)); err == nil {
				total++
				observ.Log("archive_shard_reclaimed", map[string]any{"day": day})
			}
		}
	}
	return total, nil
}

func writeProbe(dir string) error {
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func pruneOlderThan(dir, pattern string, cutoff time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			continue
		}
		if fi.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func removeGlob(pattern string) (int, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}
