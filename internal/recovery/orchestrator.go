package recovery

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/tradewire/bridge/internal/alerts"
	"github.com/tradewire/bridge/internal/health"
	"github.com/tradewire/bridge/internal/observ"
)

// Alerter delivers escalations to the notification collaborator.
type Alerter interface {
	Send(a alerts.Alert) error
}

type OrchestratorConfig struct {
	SharedDir   string
	ArchiveDir  string
	EventLog    string
	Cooldown    time.Duration // min gap between episodes per category
	RestartWait time.Duration
}

// Orchestrator executes bounded reactive recovery for critical anomalies.
// One remediation per anomaly episode, a cooldown before the next episode
// may trigger another, and escalation instead of retry when remediation
// fails. Repeated silent restarts are exactly what this design avoids.
type Orchestrator struct {
	cfg     OrchestratorConfig
	store   *health.Store
	host    HostController
	maint   *Maintenance
	alerter Alerter
	// Resample takes a fresh snapshot after a remediation so the outcome
	// is judged on current state, not the snapshot that raised the alarm.
	resample func(ctx context.Context) health.Snapshot

	lastAttempt map[health.Category]time.Time
	now         func() time.Time
}

func NewOrchestrator(cfg OrchestratorConfig, store *health.Store, host HostController, maint *Maintenance, alerter Alerter, resample func(ctx context.Context) health.Snapshot) *Orchestrator {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Minute
	}
	if cfg.RestartWait <= 0 {
		cfg.RestartWait = 10 * time.Second
	}
	return &Orchestrator{
		cfg:         cfg,
		store:       store,
		host:        host,
		maint:       maint,
		alerter:     alerter,
		resample:    resample,
		lastAttempt: make(map[health.Category]time.Time),
		now:         time.Now,
	}
}

// Run drains pending anomalies on a short interval until cancelled.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, a := range o.store.PopPending() {
				o.Handle(ctx, a)
			}
		}
	}
}

// Handle runs at most one bounded remediation for the anomaly.
func (o *Orchestrator) Handle(ctx context.Context, a health.Anomaly) {
	if a.Severity != health.SeverityCritical {
		observ.Log("anomaly_noted", map[string]any{"category": string(a.Category), "severity": string(a.Severity)})
		return
	}

	if last, ok := o.lastAttempt[a.Category]; ok && o.now().Sub(last) < o.cfg.Cooldown {
		observ.Log("recovery_cooldown_active", map[string]any{
			"category": string(a.Category), "since": o.now().Sub(last).String(),
		})
		return
	}
	o.lastAttempt[a.Category] = o.now()

	before := a.Snapshot
	var action string
	var recovered bool

	switch a.Category {
	case health.CategoryHostUnresponsive:
		action = "restart_host"
		recovered = o.restartHost(ctx, a)
	case health.CategoryPermissionError:
		action = "repair_permissions"
		recovered = o.repairPermissions(ctx, a)
	case health.CategoryDiskCritical:
		action = "aggressive_cleanup"
		recovered = o.aggressiveCleanup(ctx, a)
	default:
		// No built-in remediation; guessing at fixes is worse than asking.
		action = "none"
		recovered = false
	}

	after := o.resample(ctx)
	o.journal(a, action, before, after, recovered)
	observ.IncCounter("recovery_attempts_total", map[string]string{
		"category": string(a.Category), "action": action, "recovered": boolLabel(recovered),
	})

	if recovered {
		o.store.Resolve(a.Category)
		observ.Log("recovery_succeeded", map[string]any{"category": string(a.Category), "action": action})
		return
	}
	o.escalate(a, action)
}

// restartHost performs the single allowed stop/wait/start cycle and then
// re-checks the host. One attempt per episode; the cooldown gate bounds
// episode frequency.
func (o *Orchestrator) restartHost(ctx context.Context, a health.Anomaly) bool {
	observ.Log("recovery_restarting_host", map[string]any{"detail": a.Detail})
	if err := o.host.Stop(ctx); err != nil {
		observ.LogError("host_stop_failed", err, nil)
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(o.cfg.RestartWait):
	}
	if err := o.host.Start(ctx); err != nil {
		observ.LogError("host_start_failed", err, nil)
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(o.cfg.RestartWait):
	}
	return o.host.Responsive(ctx)
}

func (o *Orchestrator) repairPermissions(ctx context.Context, a health.Anomaly) bool {
	if err := os.Chmod(o.cfg.SharedDir, 0o755); err != nil {
		observ.LogError("permission_repair_failed", err, map[string]any{"dir": o.cfg.SharedDir})
		return false
	}
	for _, sub := range []string{"processed", "failed", "archive"} {
		_ = os.Chmod(filepath.Join(o.cfg.SharedDir, sub), 0o755)
	}
	return writeProbe(o.cfg.SharedDir) == nil
}

func (o *Orchestrator) aggressiveCleanup(ctx context.Context, a health.Anomaly) bool {
	reclaimed, err := o.maint.ReclaimAggressive(ctx, o.cfg.ArchiveDir)
	if err != nil {
		observ.LogError("aggressive_cleanup_failed", err, nil)
		return false
	}
	observ.Log("aggressive_cleanup_done", map[string]any{"reclaimed": reclaimed})

	after := o.resample(ctx)
	for _, p := range after.Probes {
		if p.Category == health.CategoryDiskCritical {
			return p.Status == health.StatusHealthy || p.Status == health.StatusWarning
		}
	}
	return reclaimed > 0
}

// escalate emits the durable alert and deliberately stops; a human takes
// it from here.
func (o *Orchestrator) escalate(a health.Anomaly, action string) {
	observ.IncCounter("escalations_total", map[string]string{"category": string(a.Category)})
	observ.Log("anomaly_escalated", map[string]any{"category": string(a.Category), "action_tried": action})
	err := o.alerter.Send(alerts.Alert{
		Category:  string(a.Category),
		Severity:  string(a.Severity),
		Message:   "recovery exhausted: " + a.Detail,
		Snapshot:  a.Snapshot,
		Attempts:  1,
		Timestamp: o.now().UTC(),
	})
	if err != nil {
		observ.LogError("escalation_send_failed", err, nil)
	}
}

type recoveryEvent struct {
	Category  string          `json:"category"`
	Action    string          `json:"action"`
	Before    health.Snapshot `json:"before"`
	After     health.Snapshot `json:"after"`
	Recovered bool            `json:"recovered"`
	At        time.Time       `json:"at"`
}

// journal appends the attempt with before/after health to the event log.
func (o *Orchestrator) journal(a health.Anomaly, action string, before, after health.Snapshot, recovered bool) {
	if o.cfg.EventLog == "" {
		return
	}
	j, err := alerts.NewJournal(o.cfg.EventLog)
	if err != nil {
		observ.LogError("recovery_journal_failed", err, nil)
		return
	}
	ev := recoveryEvent{
		Category: string(a.Category), Action: action,
		Before: before, After: after, Recovered: recovered, At: o.now().UTC(),
	}
	if err := j.Append("recovery", ev); err != nil {
		observ.LogError("recovery_journal_failed", err, nil)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
