package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewire/bridge/internal/protocol"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(Config{
		Dir:           t.TempDir(),
		PollInterval:  10 * time.Millisecond,
		ResultTimeout: 300 * time.Millisecond,
		MaxSize:       1.0,
		Instruments:   []string{"EURUSD", "GBPUSD", "XAUUSD"},
	})
	require.NoError(t, err)
	return m
}

func validSignal(id string) protocol.FireSignal {
	return protocol.FireSignal{
		SignalID: id,
		Action:   protocol.ActionTrade,
		Symbol:   "EURUSD",
		Side:     protocol.SideBuy,
		Size:     0.01,
	}
}

func TestSubmitObserveArchiveHappyPath(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Submit(validSignal("S1")))
	st, _ := m.State("S1")
	assert.Equal(t, StateHandedOff, st)

	// Play the execution host: consume the signal, write the result.
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = m.signals.Clear()
		ref := "12345"
		_ = m.results.Overwrite(protocol.TradeResult{
			SignalID:     "S1",
			Status:       protocol.StatusSuccess,
			ExecutionRef: &ref,
			Timestamp:    time.Now().UTC(),
		})
	}()

	res, err := m.ObserveCompletion(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, res.Status)
	assert.Equal(t, "S1", res.SignalID)

	st, _ = m.State("S1")
	assert.Equal(t, StateCompleted, st)

	require.NoError(t, m.Archive(validSignal("S1"), res))

	dayDir := filepath.Join(m.cfg.Dir, "archive", time.Now().UTC().Format("20060102"))
	entries, err := os.ReadDir(dayDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "S1_")

	mirrors, err := os.ReadDir(filepath.Join(m.cfg.Dir, "processed"))
	require.NoError(t, err)
	assert.Len(t, mirrors, 1)
}

func TestSecondSubmitBeforeConsumptionIsRejected(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Submit(validSignal("S1")))
	err := m.Submit(validSignal("S2"))
	require.True(t, errors.Is(err, protocol.ErrSlotOccupied))

	var got protocol.FireSignal
	ok, err := m.signals.Read(&got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "S1", got.SignalID, "first signal must remain intact")
}

func TestSubmitAssignsSignalID(t *testing.T) {
	m := newTestManager(t)
	sig := validSignal("")
	require.NoError(t, m.Submit(sig))

	var got protocol.FireSignal
	ok, err := m.signals.Read(&got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, got.SignalID)
}

func TestValidatePayloadQuarantinesWithoutTouchingSlot(t *testing.T) {
	m := newTestManager(t)

	testCases := []struct {
		name    string
		payload string
		field   string
	}{
		{name: "not_json", payload: "{nope", field: "payload"},
		{name: "missing_side", payload: `{"signal_id":"S1","action":"trade","canonical_symbol":"EURUSD","size":0.01}`, field: "Side"},
		{name: "bad_action", payload: `{"signal_id":"S1","action":"hedge","canonical_symbol":"EURUSD","side":"buy","size":0.01}`, field: "Action"},
		{name: "zero_size", payload: `{"signal_id":"S1","action":"trade","canonical_symbol":"EURUSD","side":"buy","size":0}`, field: "Size"},
		{name: "off_whitelist", payload: `{"signal_id":"S1","action":"trade","canonical_symbol":"DOGEUSD","side":"buy","size":0.01}`, field: "canonical_symbol"},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.ValidatePayload([]byte(tc.payload))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)

			failed, err := os.ReadDir(filepath.Join(m.cfg.Dir, "failed"))
			require.NoError(t, err)
			assert.Len(t, failed, i+1, "each rejection lands in failed/")

			occupied, err := m.signals.Occupied()
			require.NoError(t, err)
			assert.False(t, occupied, "validation must never mutate the hand-off slot")
		})
	}
}

func TestSubmitRejectsOversizedOrder(t *testing.T) {
	m := newTestManager(t)
	sig := validSignal("S1")
	sig.Size = 5.0

	err := m.Submit(sig)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "size", verr.Field)

	st, _ := m.State("S1")
	assert.Equal(t, StateRejected, st)
}

func TestObserveCompletionTimesOutWithSyntheticResult(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Submit(validSignal("S1")))

	start := time.Now()
	res, err := m.ObserveCompletion(context.Background(), "S1")
	require.NoError(t, err)

	assert.Equal(t, protocol.StatusTimeout, res.Status)
	assert.Equal(t, "S1", res.SignalID)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)

	st, _ := m.State("S1")
	assert.Equal(t, StateTimedOut, st)
}

func TestObserveCompletionQuarantinesMismatchedResult(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Submit(validSignal("S1")))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = m.signals.Clear()
		_ = m.results.Overwrite(protocol.TradeResult{SignalID: "GHOST", Status: protocol.StatusSuccess})
		time.Sleep(60 * time.Millisecond)
		_ = m.results.Overwrite(protocol.TradeResult{SignalID: "S1", Status: protocol.StatusSuccess})
	}()

	res, err := m.ObserveCompletion(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, res.Status)

	failed, err := os.ReadDir(filepath.Join(m.cfg.Dir, "failed"))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Name(), "orphan_")
}

func TestReconcileQuarantinesUncorrelatedResult(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.results.Overwrite(protocol.TradeResult{SignalID: "NOBODY", Status: protocol.StatusClosed}))

	require.NoError(t, m.Reconcile())

	occupied, err := m.results.Occupied()
	require.NoError(t, err)
	assert.False(t, occupied, "orphan result cleared from slot")

	failed, err := os.ReadDir(filepath.Join(m.cfg.Dir, "failed"))
	require.NoError(t, err)
	assert.Len(t, failed, 1, "orphan quarantined, not discarded")
}

func TestReconcileArchivesAdoptedSignal(t *testing.T) {
	m := newTestManager(t)
	sig := validSignal("S1")
	require.NoError(t, m.signals.Overwrite(sig))
	m.AdoptPending(sig)

	st, _ := m.State("S1")
	assert.Equal(t, StateHandedOff, st)

	// Result lands before the terminal has consumed the signal file;
	// reconcile must wait, not complete.
	res := protocol.TradeResult{SignalID: "S1", Status: protocol.StatusSuccess, Timestamp: time.Now().UTC()}
	require.NoError(t, m.results.Overwrite(res))
	require.NoError(t, m.Reconcile())
	st, _ = m.State("S1")
	assert.Equal(t, StateHandedOff, st)

	// Terminal consumes the signal; the pair completes and archives.
	require.NoError(t, m.signals.Clear())
	require.NoError(t, m.Reconcile())

	st, _ = m.State("S1")
	assert.Equal(t, StateCompleted, st)

	dayDir := filepath.Join(m.cfg.Dir, "archive", time.Now().UTC().Format("20060102"))
	entries, err := os.ReadDir(dayDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "S1_")

	failed, err := os.ReadDir(filepath.Join(m.cfg.Dir, "failed"))
	require.NoError(t, err)
	assert.Empty(t, failed, "a correlated result must never be treated as an orphan")

	occupied, err := m.results.Occupied()
	require.NoError(t, err)
	assert.False(t, occupied, "result slot cleared after archiving")
}

func TestArchiveIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	sig := validSignal("S1")
	res := protocol.TradeResult{SignalID: "S1", Status: protocol.StatusSuccess, Timestamp: time.Now().UTC()}

	require.NoError(t, m.Archive(sig, res))
	require.NoError(t, m.Archive(sig, res))

	dayDir := filepath.Join(m.cfg.Dir, "archive", time.Now().UTC().Format("20060102"))
	entries, err := os.ReadDir(dayDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "second archive must be a no-op")
}

func TestArchiveIndexSurvivesRestart(t *testing.T) {
	m := newTestManager(t)
	res := protocol.TradeResult{SignalID: "S1", Status: protocol.StatusSuccess, Timestamp: time.Now().UTC()}
	require.NoError(t, m.Archive(validSignal("S1"), res))

	reborn, err := New(m.cfg)
	require.NoError(t, err)
	require.NoError(t, reborn.Archive(validSignal("S1"), res))

	dayDir := filepath.Join(m.cfg.Dir, "archive", time.Now().UTC().Format("20060102"))
	entries, err := os.ReadDir(dayDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestArchiveIndexParsesCollisionSuffixedShards(t *testing.T) {
	m := newTestManager(t)
	dayDir := filepath.Join(m.cfg.Dir, "archive", "20260801")
	require.NoError(t, os.MkdirAll(dayDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dayDir, "S1_150405_1.json"), []byte("{}"), 0o644))

	reborn, err := New(m.cfg)
	require.NoError(t, err)

	res := protocol.TradeResult{SignalID: "S1", Status: protocol.StatusSuccess, Timestamp: time.Now().UTC()}
	require.NoError(t, reborn.Archive(validSignal("S1"), res))

	// The collided shard already covers S1; nothing new may appear.
	total := 0
	err = filepath.WalkDir(filepath.Join(m.cfg.Dir, "archive"), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			total++
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total, "collision-suffixed shard must still index its signal id")
}

func TestPruneProcessedHonorsRetention(t *testing.T) {
	m := newTestManager(t)
	m.cfg.Retention = time.Hour

	dir := filepath.Join(m.cfg.Dir, "processed")
	fresh := filepath.Join(dir, "fresh.json")
	stale := filepath.Join(dir, "stale.json")
	require.NoError(t, os.WriteFile(fresh, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed, err := m.PruneProcessed()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}
