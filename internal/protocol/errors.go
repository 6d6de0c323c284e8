package protocol

import (
	"errors"
	"fmt"
)

// ErrSlotOccupied means an unconsumed signal already sits in the hand-off
// slot. The caller retries or escalates; this layer never queues.
var ErrSlotOccupied = errors.New("hand-off slot occupied by unconsumed signal")

// ErrSlotEmpty means a read expected a pending record and found none.
var ErrSlotEmpty = errors.New("hand-off slot empty")

// Violation is a breach of the shared-directory contract by one of the
// collaborating processes (slot overwrite attempt, orphan result).
type Violation struct {
	Kind     string // "slot_overwrite" | "orphan_result"
	SignalID string
	Detail   string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("protocol violation (%s) signal=%s: %s", v.Kind, v.SignalID, v.Detail)
}
