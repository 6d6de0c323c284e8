package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tradewire/bridge/internal/observ"
	"github.com/tradewire/bridge/internal/protocol"
)

// State is the lifecycle position of one signal.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateValidated State = "VALIDATED"
	StateHandedOff State = "HANDED_OFF"
	StateCompleted State = "COMPLETED"
	StateTimedOut  State = "TIMED_OUT"
	StateRejected  State = "REJECTED"
)

// ValidationError describes a malformed or out-of-policy signal. The
// offending payload is quarantined to failed/, never deleted.
type ValidationError struct {
	Field  string
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: field=%s rule=%s %s", e.Field, e.Rule, e.Detail)
}

type Config struct {
	Dir           string
	SignalFile    string
	ResultFile    string
	PollInterval  time.Duration
	ResultTimeout time.Duration
	MaxSize       float64
	Retention     time.Duration
	Instruments   []string
}

// Manager enforces the shared-directory contract: it validates and hands
// off signals, correlates results, quarantines protocol violations and
// archives completed pairs. It never writes FireSignals on behalf of the
// terminal; the slot stays a single-writer-single-reader resource across
// process boundaries.
type Manager struct {
	cfg       Config
	signals   *protocol.Slot
	results   *protocol.Slot
	validate  *validator.Validate
	whitelist map[string]struct{}

	mu       sync.Mutex
	states   map[string]State
	archived map[string]struct{}
	// pending is the externally written signal currently in flight,
	// remembered so its result can be correlated and the pair archived
	// after the terminal consumes the signal file.
	pending *protocol.FireSignal

	now func() time.Time
}

func New(cfg Config) (*Manager, error) {
	if cfg.SignalFile == "" {
		cfg.SignalFile = "fire_signal.json"
	}
	if cfg.ResultFile == "" {
		cfg.ResultFile = "trade_result.json"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = 30 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1.0
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}

	for _, sub := range []string{"processed", "failed", "archive"} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}

	m := &Manager{
		cfg:       cfg,
		signals:   protocol.NewSlot(filepath.Join(cfg.Dir, cfg.SignalFile)),
		results:   protocol.NewSlot(filepath.Join(cfg.Dir, cfg.ResultFile)),
		validate:  validator.New(),
		whitelist: make(map[string]struct{}, len(cfg.Instruments)),
		states:    make(map[string]State),
		archived:  make(map[string]struct{}),
		now:       time.Now,
	}
	for _, sym := range cfg.Instruments {
		m.whitelist[strings.ToUpper(sym)] = struct{}{}
	}

	if err := m.hydrateArchiveIndex(); err != nil {
		return nil, err
	}
	return m, nil
}

// hydrateArchiveIndex rebuilds the idempotence index from archive shard
// file names so restarts cannot re-archive completed signals.
func (m *Manager) hydrateArchiveIndex() error {
	root := filepath.Join(m.cfg.Dir, "archive")
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if id := shardSignalID(d.Name()); id != "" {
			m.archived[id] = struct{}{}
		}
		return nil
	})
}

// shardSignalID recovers the signal id from a shard name of the form
// <id>_<HHMMSS>.json, tolerating the numeric suffix Archive appends on a
// name collision.
func shardSignalID(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if tail := lastUnderscorePart(base); isDigits(tail) && len(tail) != 6 && len(tail) < len(base) {
		base = base[:len(base)-len(tail)-1]
	}
	tail := lastUnderscorePart(base)
	if !isDigits(tail) || len(tail) != 6 || len(tail) == len(base) {
		return ""
	}
	return base[:len(base)-len(tail)-1]
}

func lastUnderscorePart(s string) string {
	if idx := strings.LastIndex(s, "_"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Submit validates a FireSignal and places it into the hand-off slot.
// A second submit before the terminal consumes the first fails with
// protocol.ErrSlotOccupied; queuing is the backend's responsibility.
func (m *Manager) Submit(sig protocol.FireSignal) error {
	if sig.SignalID == "" {
		sig.SignalID = uuid.NewString()
	}

	m.setState(sig.SignalID, StateSubmitted)

	if verr := m.check(sig); verr != nil {
		m.setState(sig.SignalID, StateRejected)
		observ.IncCounter("signals_rejected_total", map[string]string{"reason": verr.Rule})
		return verr
	}
	m.setState(sig.SignalID, StateValidated)

	if m.isArchived(sig.SignalID) {
		observ.Log("signal_already_archived", map[string]any{"signal_id": sig.SignalID})
		return nil
	}

	if err := m.signals.Write(sig); err != nil {
		if errors.Is(err, protocol.ErrSlotOccupied) {
			observ.IncCounter("protocol_violations_total", map[string]string{"kind": "slot_overwrite"})
			observ.Log("slot_overwrite_rejected", map[string]any{"signal_id": sig.SignalID})
		}
		return err
	}

	m.setState(sig.SignalID, StateHandedOff)
	observ.IncCounter("signals_submitted_total", nil)
	observ.Log("signal_handed_off", map[string]any{
		"signal_id": sig.SignalID, "symbol": sig.Symbol, "side": string(sig.Side), "size": sig.Size,
	})
	return nil
}

// ValidatePayload deserializes and checks a raw hand-off payload. On any
// failure the payload lands in failed/ with a timestamped name and the
// hand-off slot is left untouched.
func (m *Manager) ValidatePayload(raw []byte) (protocol.FireSignal, error) {
	var sig protocol.FireSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		verr := &ValidationError{Field: "payload", Rule: "json", Detail: err.Error()}
		m.quarantine(raw, "invalid")
		return sig, verr
	}
	if verr := m.check(sig); verr != nil {
		m.quarantine(raw, "invalid")
		if sig.SignalID != "" {
			m.setState(sig.SignalID, StateRejected)
		}
		return sig, verr
	}
	return sig, nil
}

// check applies struct rules, whitelist membership and size bounds.
func (m *Manager) check(sig protocol.FireSignal) *ValidationError {
	if err := m.validate.Struct(sig); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fe.Field(), Rule: fe.Tag(), Detail: fmt.Sprintf("value %v", fe.Value())}
		}
		return &ValidationError{Field: "payload", Rule: "struct", Detail: err.Error()}
	}
	if len(m.whitelist) > 0 {
		if _, ok := m.whitelist[strings.ToUpper(sig.Symbol)]; !ok {
			return &ValidationError{Field: "canonical_symbol", Rule: "whitelist", Detail: sig.Symbol + " not in supported instrument set"}
		}
	}
	if sig.Size > m.cfg.MaxSize {
		return &ValidationError{Field: "size", Rule: "max", Detail: fmt.Sprintf("%.2f exceeds max %.2f", sig.Size, m.cfg.MaxSize)}
	}
	return nil
}

// quarantine moves a rejected payload into failed/. Write failures are
// logged, not returned; the validation verdict already stands.
func (m *Manager) quarantine(raw []byte, base string) {
	name := fmt.Sprintf("%s_%s.json", base, m.now().UTC().Format("20060102_150405.000"))
	path := filepath.Join(m.cfg.Dir, "failed", name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		observ.LogError("quarantine_write_failed", err, map[string]any{"path": path})
		return
	}
	observ.IncCounter("signals_quarantined_total", map[string]string{"kind": base})
	observ.Log("payload_quarantined", map[string]any{"path": path})
}

// ObserveCompletion waits for the terminal to consume the signal and
// produce a matching TradeResult. Past the configured timeout a synthetic
// timeout result is returned; the wait is never indefinite. Results for
// other signals found along the way are quarantined as orphans.
func (m *Manager) ObserveCompletion(ctx context.Context, signalID string) (protocol.TradeResult, error) {
	deadline := m.now().Add(m.cfg.ResultTimeout)

	wake := make(chan struct{}, 1)
	watcher := m.watchResults(wake)
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if res, done, err := m.checkResult(signalID); err != nil {
			return protocol.TradeResult{}, err
		} else if done {
			return res, nil
		}

		if !m.now().Before(deadline) {
			m.setState(signalID, StateTimedOut)
			observ.IncCounter("signals_timed_out_total", nil)
			observ.Log("signal_timed_out", map[string]any{"signal_id": signalID})
			return protocol.TradeResult{
				SignalID:  signalID,
				Status:    protocol.StatusTimeout,
				Message:   "no result within " + m.cfg.ResultTimeout.String(),
				Timestamp: m.now().UTC(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return protocol.TradeResult{}, ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// checkResult inspects the result slot once. A matching result is only
// complete once the terminal has also cleared the signal slot.
func (m *Manager) checkResult(signalID string) (protocol.TradeResult, bool, error) {
	var res protocol.TradeResult
	ok, err := m.results.Read(&res)
	if err != nil {
		// Treat a half-garbled result file as not-yet-present; the
		// terminal may still be writing outside the rename contract.
		observ.LogError("result_decode_failed", err, nil)
		return res, false, nil
	}
	if !ok {
		return res, false, nil
	}

	if res.SignalID != signalID {
		m.quarantineOrphan(res)
		if err := m.results.Clear(); err != nil {
			return res, false, err
		}
		return res, false, nil
	}

	occupied, err := m.signals.Occupied()
	if err != nil {
		return res, false, err
	}
	if occupied {
		// Result arrived before the slot was cleared; wait for both.
		return res, false, nil
	}

	if err := m.results.Clear(); err != nil {
		return res, false, err
	}
	m.setState(signalID, StateCompleted)
	observ.IncCounter("signals_completed_total", map[string]string{"status": string(res.Status)})
	return res, true, nil
}

// AdoptPending registers a signal the backend wrote straight into the
// hand-off slot, so this manager can correlate its result and archive the
// pair. Idempotent per signal id; re-adopting the same id just refreshes
// the remembered record (e.g. after symbol translation).
func (m *Manager) AdoptPending(sig protocol.FireSignal) {
	m.mu.Lock()
	same := m.pending != nil && m.pending.SignalID == sig.SignalID
	m.pending = &sig
	if !same {
		m.states[sig.SignalID] = StateHandedOff
	}
	m.mu.Unlock()

	if !same {
		observ.IncCounter("signals_adopted_total", nil)
		observ.Log("signal_adopted", map[string]any{
			"signal_id": sig.SignalID, "symbol": sig.Symbol, "side": string(sig.Side),
		})
	}
}

// Reconcile correlates the result slot against the adopted in-flight
// signal. A matching result whose signal file has been consumed completes
// and archives the pair; a result correlating to no known hand-off is
// quarantined as an orphan, never discarded.
func (m *Manager) Reconcile() error {
	var res protocol.TradeResult
	ok, err := m.results.Read(&res)
	if err != nil || !ok {
		return err
	}

	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()

	if pending != nil && res.SignalID == pending.SignalID {
		occupied, err := m.signals.Occupied()
		if err != nil {
			return err
		}
		if occupied {
			// Result arrived before the signal was consumed; wait for both.
			return nil
		}

		m.setState(res.SignalID, StateCompleted)
		observ.IncCounter("signals_completed_total", map[string]string{"status": string(res.Status)})
		if err := m.Archive(*pending, res); err != nil {
			return err
		}
		m.mu.Lock()
		m.pending = nil
		m.mu.Unlock()
		return m.results.Clear()
	}

	if st, known := m.State(res.SignalID); known && st == StateHandedOff {
		return nil // live hand-off, ObserveCompletion owns it
	}
	m.quarantineOrphan(res)
	return m.results.Clear()
}

func (m *Manager) quarantineOrphan(res protocol.TradeResult) {
	raw, err := json.Marshal(res)
	if err != nil {
		raw = []byte(fmt.Sprintf("%+v", res))
	}
	m.quarantine(raw, "orphan")
	observ.IncCounter("protocol_violations_total", map[string]string{"kind": "orphan_result"})
	observ.Log("orphan_result_quarantined", map[string]any{"signal_id": res.SignalID})
}

// Archive moves a completed pair under archive/<yyyymmdd>/ and mirrors a
// copy into processed/ for short-term inspection. Idempotent per
// signal_id: a second call is a no-op before any mutation happens.
func (m *Manager) Archive(sig protocol.FireSignal, res protocol.TradeResult) error {
	m.mu.Lock()
	if _, done := m.archived[sig.SignalID]; done {
		m.mu.Unlock()
		observ.Log("archive_skipped_duplicate", map[string]any{"signal_id": sig.SignalID})
		return nil
	}
	m.mu.Unlock()

	now := m.now().UTC()
	dayDir := filepath.Join(m.cfg.Dir, "archive", now.Format("20060102"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return err
	}

	pair := struct {
		Signal     protocol.FireSignal  `json:"signal"`
		Result     protocol.TradeResult `json:"result"`
		ArchivedAt time.Time            `json:"archived_at"`
	}{Signal: sig, Result: res, ArchivedAt: now}

	data, err := json.MarshalIndent(pair, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s.json", sig.SignalID, now.Format("150405"))
	path := filepath.Join(dayDir, name)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dayDir, fmt.Sprintf("%s_%s_%d.json", sig.SignalID, now.Format("150405"), n))
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	mirror := filepath.Join(m.cfg.Dir, "processed", filepath.Base(path))
	if err := os.WriteFile(mirror, data, 0o644); err != nil {
		observ.LogError("processed_mirror_failed", err, map[string]any{"path": mirror})
	}

	m.mu.Lock()
	m.archived[sig.SignalID] = struct{}{}
	m.mu.Unlock()

	observ.IncCounter("signals_archived_total", nil)
	observ.Log("signal_archived", map[string]any{"signal_id": sig.SignalID, "path": path})
	return nil
}

// PruneProcessed removes processed/ mirrors older than the retention
// window. Archive shards are not touched here.
func (m *Manager) PruneProcessed() (int, error) {
	dir := filepath.Join(m.cfg.Dir, "processed")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.cfg.Retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		observ.Log("processed_pruned", map[string]any{"removed": removed})
	}
	return removed, nil
}

// State reports the lifecycle position of a signal.
func (m *Manager) State(signalID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[signalID]
	return st, ok
}

// SignalSlot exposes the hand-off slot for collaborators that rewrite the
// pending record in place (symbol translation).
func (m *Manager) SignalSlot() *protocol.Slot { return m.signals }

// Dir returns the shared directory root.
func (m *Manager) Dir() string { return m.cfg.Dir }

func (m *Manager) setState(id string, st State) {
	m.mu.Lock()
	m.states[id] = st
	m.mu.Unlock()
}

func (m *Manager) isArchived(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.archived[id]
	return ok
}
