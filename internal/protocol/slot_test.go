package protocol

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSlotWriteRejectsWhenOccupied(t *testing.T) {
	slot := NewSlot(filepath.Join(t.TempDir(), "fire_signal.json"))

	first := FireSignal{SignalID: "S1", Action: ActionTrade, Symbol: "EURUSD", Side: SideBuy, Size: 0.01}
	if err := slot.Write(first); err != nil {
		t.Fatalf("first write: %v", err)
	}

	second := FireSignal{SignalID: "S2", Action: ActionTrade, Symbol: "GBPUSD", Side: SideSell, Size: 0.02}
	if err := slot.Write(second); err != ErrSlotOccupied {
		t.Fatalf("expected ErrSlotOccupied, got %v", err)
	}

	// First record must remain intact.
	var got FireSignal
	ok, err := slot.Read(&got)
	if err != nil || !ok {
		t.Fatalf("read back: ok=%v err=%v", ok, err)
	}
	if got.SignalID != "S1" || got.Symbol != "EURUSD" {
		t.Errorf("first signal clobbered: %+v", got)
	}
}

func TestSlotEmptyAndMissingMeanNoPendingItem(t *testing.T) {
	dir := t.TempDir()
	slot := NewSlot(filepath.Join(dir, "trade_result.json"))

	var res TradeResult
	ok, err := slot.Read(&res)
	if err != nil {
		t.Fatalf("read missing: %v", err)
	}
	if ok {
		t.Error("missing file reported a pending record")
	}

	// Zero-byte file counts as empty too.
	if err := os.WriteFile(slot.Path(), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err = slot.Read(&res)
	if err != nil || ok {
		t.Errorf("empty file: ok=%v err=%v", ok, err)
	}

	occupied, err := slot.Occupied()
	if err != nil || occupied {
		t.Errorf("empty file reported occupied: %v %v", occupied, err)
	}
}

func TestSlotClearThenWrite(t *testing.T) {
	slot := NewSlot(filepath.Join(t.TempDir(), "fire_signal.json"))

	sig := FireSignal{SignalID: "S1", Action: ActionTrade, Symbol: "EURUSD", Side: SideBuy, Size: 0.01}
	if err := slot.Write(sig); err != nil {
		t.Fatal(err)
	}
	if err := slot.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := slot.Clear(); err != nil {
		t.Errorf("second clear should be a no-op: %v", err)
	}
	if err := slot.Write(sig); err != nil {
		t.Errorf("write after clear: %v", err)
	}
}

func TestSlotWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	slot := NewSlot(filepath.Join(dir, "fire_signal.json"))
	if err := slot.Write(FireSignal{SignalID: "S1", Action: ActionTrade, Symbol: "EURUSD", Side: SideBuy, Size: 0.01}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "fire_signal.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}
