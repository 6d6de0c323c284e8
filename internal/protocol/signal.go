package protocol

import "time"

// Action is the instruction type carried by a FireSignal.
type Action string

const (
	ActionTrade Action = "trade"
	ActionClose Action = "close"
)

// Side is the direction of a trade instruction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ResultStatus is the terminal's verdict on a signal. StatusTimeout is
// synthesized by this process when the terminal never answers.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusClosed  ResultStatus = "closed"
	StatusTimeout ResultStatus = "timeout"
)

// FireSignal is a single pending trade instruction written into the
// hand-off slot. Symbols are canonical; translation to the broker's
// naming happens before the terminal consumes the file.
type FireSignal struct {
	SignalID   string  `json:"signal_id" validate:"required"`
	Action     Action  `json:"action" validate:"required,oneof=trade close"`
	Symbol     string  `json:"canonical_symbol" validate:"required"`
	Side       Side    `json:"side" validate:"required,oneof=buy sell"`
	Size       float64 `json:"size" validate:"gt=0"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

// AccountSnapshot mirrors the terminal's account state at execution time.
type AccountSnapshot struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FloatingPL float64 `json:"floating_pl"`
}

// TradeResult is the outcome record the terminal writes for a FireSignal.
type TradeResult struct {
	SignalID     string          `json:"signal_id"`
	Status       ResultStatus    `json:"status"`
	ExecutionRef *string         `json:"execution_ref"`
	Message      string          `json:"message,omitempty"`
	Account      AccountSnapshot `json:"account_snapshot"`
	Timestamp    time.Time       `json:"timestamp"`
}
