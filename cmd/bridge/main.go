package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tradewire/bridge/internal/alerts"
	"github.com/tradewire/bridge/internal/broker"
	"github.com/tradewire/bridge/internal/config"
	"github.com/tradewire/bridge/internal/health"
	"github.com/tradewire/bridge/internal/lifecycle"
	"github.com/tradewire/bridge/internal/observ"
	"github.com/tradewire/bridge/internal/protocol"
	"github.com/tradewire/bridge/internal/recovery"
)

func main() {
	configPath := flag.String("config", "config/bridge.yaml", "path to bridge config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager, err := lifecycle.New(lifecycle.Config{
		Dir:           cfg.Paths.SharedDir,
		SignalFile:    cfg.Paths.SignalFile,
		ResultFile:    cfg.Paths.ResultFile,
		PollInterval:  time.Duration(cfg.Lifecycle.PollIntervalMs) * time.Millisecond,
		ResultTimeout: time.Duration(cfg.Lifecycle.ResultTimeoutSecs) * time.Second,
		MaxSize:       cfg.Lifecycle.MaxSize,
		Retention:     time.Duration(cfg.Lifecycle.RetentionHours) * time.Hour,
		Instruments:   cfg.Lifecycle.Instruments,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init lifecycle manager: %v\n", err)
		os.Exit(1)
	}

	table := buildSymbolTable(cfg)

	journal, err := alerts.NewJournal(cfg.Alerts.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init alert journal: %v\n", err)
		os.Exit(1)
	}
	alertClient := alerts.NewClient(alerts.Config{
		Enabled:       cfg.Alerts.Enabled,
		WebhookURL:    cfg.Alerts.WebhookURL,
		RatePerMinute: cfg.Alerts.RatePerMinute,
		Timeout:       time.Duration(cfg.Alerts.TimeoutMs) * time.Millisecond,
		MaxRetries:    cfg.Alerts.MaxRetries,
	}, journal)
	defer alertClient.Close()

	store := health.NewStore()
	monitor := health.NewMonitor(buildProbes(cfg), time.Duration(cfg.Health.CheckIntervalSecs)*time.Second, cfg.Health.DebounceCount, store)

	host := &recovery.ProcessController{
		Dir:       cfg.Paths.TerminalDir,
		ExeName:   cfg.Paths.TerminalExe,
		GraceWait: time.Duration(cfg.Recovery.RestartWaitSecs) * time.Second,
	}
	maint := recovery.NewMaintenance(recovery.MaintenanceConfig{
		SharedDir:       cfg.Paths.SharedDir,
		LogDir:          cfg.Paths.LogDir,
		MarketDataDir:   cfg.Paths.MarketDataDir,
		TerminalDir:     cfg.Paths.TerminalDir,
		TerminalExe:     cfg.Paths.TerminalExe,
		TempGlobs:       cfg.Recovery.TempGlobs,
		CloneStagingDir: cfg.Recovery.CloneStagingDir,
		CredentialGlobs: cfg.Recovery.CredentialGlobs,
		LogMaxAge:       time.Duration(cfg.Recovery.LogMaxAgeHours) * time.Hour,
		SnapshotMaxAge:  time.Duration(cfg.Recovery.SnapshotMaxAgeMins) * time.Minute,
		KeepArchiveDays: cfg.Recovery.KeepArchiveDays,
	}, host)
	orchestrator := recovery.NewOrchestrator(recovery.OrchestratorConfig{
		SharedDir:   cfg.Paths.SharedDir,
		ArchiveDir:  filepath.Join(cfg.Paths.SharedDir, "archive"),
		EventLog:    cfg.Recovery.EventLogPath,
		Cooldown:    time.Duration(cfg.Recovery.CooldownSecs) * time.Second,
		RestartWait: time.Duration(cfg.Recovery.RestartWaitSecs) * time.Second,
	}, store, host, maint, alertClient, monitor.Sample)

	observ.Log("bridge_started", map[string]any{
		"shared_dir": cfg.Paths.SharedDir,
		"broker":     table.Profile().Name,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		orchestrator.Run(ctx, 5*time.Second)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runLifecycleWorker(ctx, cfg, manager, table)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runMaintenanceScheduler(ctx, cfg, maint)
	}()

	srv := startMetricsServer(cfg.MetricsAddr, store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	observ.Log("bridge_stopping", map[string]any{"signal": sig.String()})

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	wg.Wait()
	observ.Log("bridge_stopped", nil)
}

// buildSymbolTable detects the broker (or applies the configured
// override) and builds the validated translation table.
func buildSymbolTable(cfg config.Root) *broker.Table {
	available := loadAvailableInstruments(cfg.Paths.SharedDir)
	server := loadTradeServer(cfg.Paths.TerminalDir)

	var profile broker.Profile
	if cfg.Broker.Profile != "" || cfg.Broker.Prefix != "" || cfg.Broker.Suffix != "" || len(cfg.Broker.SymbolOverrides) > 0 {
		profile = broker.Generic()
		if cfg.Broker.Profile != "" {
			profile.Name = cfg.Broker.Profile
		}
		profile.Prefix = cfg.Broker.Prefix
		profile.Suffix = cfg.Broker.Suffix
		profile.Overrides = cfg.Broker.SymbolOverrides
		observ.Log("broker_profile_configured", map[string]any{"profile": profile.Name})
	} else {
		detection := broker.Detect(server, available)
		profile = detection.Profile
		observ.Log("broker_detected", map[string]any{
			"profile":    profile.Name,
			"confidence": detection.Confidence,
			"evidence":   detection.Evidence,
		})
	}

	return broker.BuildTable(profile, cfg.Lifecycle.Instruments, available)
}

// loadAvailableInstruments reads the instrument list the terminal
// publishes into the shared directory. Absence is fine; the table is
// then built on convention alone.
func loadAvailableInstruments(sharedDir string) []string {
	data, err := os.ReadFile(filepath.Join(sharedDir, "available_symbols.json"))
	if err != nil {
		return nil
	}
	var symbols []string
	if err := json.Unmarshal(data, &symbols); err != nil {
		observ.LogError("available_symbols_unreadable", err, nil)
		return nil
	}
	return symbols
}

// loadTradeServer reads the terminal's configured trade server name,
// used as a broker fingerprint.
func loadTradeServer(terminalDir string) string {
	data, err := os.ReadFile(filepath.Join(terminalDir, "config", "server.txt"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// runLifecycleWorker drives the hand-off lifecycle for signals the
// backend writes straight into the shared directory: validate and
// translate the pending signal, adopt it so its result correlates,
// reconcile the result slot (archive matched pairs, quarantine orphans)
// and prune the processed/ mirror.
func runLifecycleWorker(ctx context.Context, cfg config.Root, manager *lifecycle.Manager, table *broker.Table) {
	pollTicker := time.NewTicker(time.Duration(cfg.Lifecycle.PollIntervalMs) * time.Millisecond)
	pruneTicker := time.NewTicker(time.Hour)
	defer pollTicker.Stop()
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			translatePendingSignal(manager, table)
			if err := manager.Reconcile(); err != nil {
				observ.LogError("result_reconcile_failed", err, nil)
			}
		case <-pruneTicker.C:
			if _, err := manager.PruneProcessed(); err != nil {
				observ.LogError("prune_failed", err, nil)
			}
		}
	}
}

// translatePendingSignal validates the pending signal, rewrites its
// canonical symbol to the broker's form before the terminal consumes it,
// and adopts it so Reconcile can archive the matching result. Invalid
// payloads are quarantined and the slot cleared so the terminal never
// executes garbage.
func translatePendingSignal(manager *lifecycle.Manager, table *broker.Table) {
	slot := manager.SignalSlot()
	raw, ok, err := slot.ReadRaw()
	if err != nil || !ok {
		return
	}

	// A record already carrying a broker symbol was translated on an
	// earlier poll (or before a restart); it is the terminal's turn now.
	var peek protocol.FireSignal
	if json.Unmarshal(raw, &peek) == nil {
		if canonical, ok := table.ReverseTranslate(peek.Symbol); ok && canonical != peek.Symbol {
			manager.AdoptPending(peek)
			return
		}
	}

	sig, err := manager.ValidatePayload(raw)
	if err != nil {
		var verr *lifecycle.ValidationError
		if errors.As(err, &verr) {
			if clearErr := slot.Clear(); clearErr != nil {
				observ.LogError("slot_clear_failed", clearErr, nil)
			}
		}
		return
	}

	mapping, ok := table.Translate(sig.Symbol)
	if !ok || mapping.Unmapped || mapping.BrokerSymbol == sig.Symbol {
		if ok && mapping.Unmapped {
			observ.Log("signal_symbol_unmapped", map[string]any{"signal_id": sig.SignalID, "symbol": sig.Symbol})
		}
		manager.AdoptPending(sig)
		return
	}
	if mapping.LowConfidence {
		observ.Log("signal_symbol_low_confidence", map[string]any{
			"signal_id": sig.SignalID, "symbol": sig.Symbol, "broker_symbol": mapping.BrokerSymbol,
		})
	}

	sig.Symbol = mapping.BrokerSymbol
	if err := slot.Overwrite(sig); err != nil {
		observ.LogError("signal_translate_failed", err, map[string]any{"signal_id": sig.SignalID})
		return
	}
	manager.AdoptPending(sig)
	observ.IncCounter("signals_translated_total", nil)
}

// runMaintenanceScheduler fires the daily pass at the configured UTC hour.
func runMaintenanceScheduler(ctx context.Context, cfg config.Root, maint *recovery.Maintenance) {
	for {
		next := nextRunAt(time.Now().UTC(), cfg.Recovery.MaintenanceHourUTC)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			report := maint.Run(ctx)
			if !report.Healthy() {
				observ.Log("maintenance_unhealthy", map[string]any{"steps": report.Steps})
			}
		}
	}
}

func nextRunAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// buildProbes assembles the monitor's probe set from configuration.
func buildProbes(cfg config.Root) []health.Probe {
	probes := []health.Probe{
		&health.ProcessProbe{ExeName: cfg.Paths.TerminalExe},
		&health.FlowProbe{
			Dir:    cfg.Paths.SharedDir,
			Window: time.Duration(cfg.Health.FlowWindowMins) * time.Minute,
		},
		&health.AccessProbe{Dir: cfg.Paths.SharedDir},
		&health.CPUProbe{WarnPct: cfg.Health.CPUWarnPct, CritPct: cfg.Health.CPUCritPct},
		&health.MemoryProbe{WarnPct: cfg.Health.MemWarnPct, CritPct: cfg.Health.MemCritPct},
		&health.DiskProbe{Path: cfg.Paths.SharedDir, WarnPct: cfg.Health.DiskWarnPct, CritPct: cfg.Health.DiskCritPct},
	}
	if cfg.Paths.MarketDataDir != "" {
		probes = append(probes, &health.FreshnessProbe{
			Dir:    cfg.Paths.MarketDataDir,
			MaxAge: time.Duration(cfg.Health.StaleDataSecs) * time.Second,
		})
	}
	return probes
}

// startMetricsServer exposes the metrics dump and the latest snapshot on
// a local port for operators.
func startMetricsServer(addr string, store *health.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := store.Latest()
		code := http.StatusOK
		if snap.Overall == health.StatusCritical {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(snap)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.LogError("metrics_server_failed", err, nil)
		}
	}()
	return srv
}
