package protocol

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Slot is one hand-off file in the shared directory. The backend writes,
// the terminal reads and clears (or the reverse for results), so writes
// go through a temp name plus rename to keep partial reads impossible.
// An absent or empty file means "no pending item", never an error.
type Slot struct {
	path string
}

func NewSlot(path string) *Slot {
	return &Slot{path: path}
}

func (s *Slot) Path() string { return s.path }

// Occupied reports whether an unconsumed record is present.
func (s *Slot) Occupied() (bool, error) {
	fi, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Size() > 0, nil
}

// Write serializes v into the slot. Fails with ErrSlotOccupied when an
// unconsumed record is already present; overwriting would destroy intent.
func (s *Slot) Write(v any) error {
	occupied, err := s.Occupied()
	if err != nil {
		return err
	}
	if occupied {
		return ErrSlotOccupied
	}
	return s.Overwrite(v)
}

// Overwrite serializes v into the slot regardless of occupancy. Reserved
// for records this process owns (e.g. rewriting a signal after symbol
// translation); backend-facing paths go through Write.
func (s *Slot) Overwrite(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Read deserializes the pending record into v. Returns (false, nil) when
// the slot is empty or absent.
func (s *Slot) Read(v any) (bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode slot record: %w", err)
	}
	return true, nil
}

// ReadRaw returns the raw pending payload, if any.
func (s *Slot) ReadRaw() ([]byte, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// Clear empties the slot. Missing file is fine.
func (s *Slot) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
