// Package signal defines the Signal wire type exchanged between the
// signal generator and the order executor through the queue, and the
// supporting enums from spec.md §3.
package signal

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Type enumerates the signal variants spec.md §3 lists.
type Type string

const (
	TypeStrongBuy        Type = "STRONG_BUY"
	TypeBuy              Type = "BUY"
	TypeWeakBuy          Type = "WEAK_BUY"
	TypeSell             Type = "SELL"
	TypeStopLoss         Type = "STOP_LOSS"
	TypeTakeProfit       Type = "TAKE_PROFIT"
	TypeSmartTakeProfit  Type = "SMART_TAKE_PROFIT"
	TypeEarlyTakeProfit  Type = "EARLY_TAKE_PROFIT"
	TypeGradualExit      Type = "GRADUAL_EXIT"
	TypePartialExit      Type = "PARTIAL_EXIT"
	TypeRotationSell     Type = "ROTATION_SELL"
	TypeUrgentSell       Type = "URGENT_SELL"
	TypeAddPosition      Type = "ADD_POSITION"
)

// Side is the order direction implied by a signal.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// IsBuyFamily reports whether t is one of the BUY-family types that
// participate in the per-symbol daily buy cap and the opposite-direction
// dedup check.
func (t Type) IsBuyFamily() bool {
	switch t {
	case TypeStrongBuy, TypeBuy, TypeWeakBuy, TypeAddPosition:
		return true
	}
	return false
}

// IsSellFamily reports whether t is one of the SELL-family exit types.
func (t Type) IsSellFamily() bool {
	switch t {
	case TypeSell, TypeStopLoss, TypeTakeProfit, TypeSmartTakeProfit,
		TypeEarlyTakeProfit, TypeGradualExit, TypePartialExit,
		TypeRotationSell, TypeUrgentSell:
		return true
	}
	return false
}

// Indicators is the indicator snapshot embedded in a signal at emission
// time; OE reads its ATR to derive stops for a BUY that carries none, and
// never recomputes scoring.
type Indicators struct {
	RSI          decimal.Decimal `json:"rsi"`
	MACD         decimal.Decimal `json:"macd"`
	MACDSignal   decimal.Decimal `json:"macd_signal"`
	BBUpper      decimal.Decimal `json:"bb_upper"`
	BBMiddle     decimal.Decimal `json:"bb_middle"`
	BBLower      decimal.Decimal `json:"bb_lower"`
	SMA20        decimal.Decimal `json:"sma_20"`
	SMA50        decimal.Decimal `json:"sma_50"`
	ATR          decimal.Decimal `json:"atr"`
	VolumeRatio  decimal.Decimal `json:"volume_ratio"`
}

// Signal is the queue payload described in spec.md §3. Field order and
// JSON tags are load-bearing: the serialized bytes are the queue member
// identity, carried on the Signal itself (see OriginalJSON).
type Signal struct {
	Symbol    string     `json:"symbol"`
	Type      Type       `json:"type"`
	Side      Side       `json:"side"`
	Score     int        `json:"score"`
	Priority  int        `json:"priority"`
	Price     decimal.Decimal  `json:"price"`
	Quantity  int64      `json:"quantity,omitempty"`
	StopLoss  *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Indicators Indicators `json:"indicators"`
	Reasons   []string   `json:"reasons,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	QueuedAt  time.Time  `json:"queued_at"`
	RetryAfter *int64    `json:"retry_after,omitempty"`
	RetryCount int       `json:"retry_count"`
	FailedAt  *time.Time `json:"failed_at,omitempty"`
	Account   string     `json:"account"`

	// originalJSON is attached post-consume by the queue and must never be
	// part of the serialized wire form — it exists only so callers can
	// mark_completed/mark_failed against the exact bytes that identified
	// this member in the processing set. json:"-" enforces that it never
	// round-trips through Marshal.
	originalJSON []byte `json:"-"`
}

// NewStrongBuy-style constructors are intentionally omitted: SG builds a
// Signal literal directly in the entry/exit scorers, matching the
// teacher's style of building model structs inline rather than behind a
// constructor for simple value objects (see database/models_pkg).

// Marshal serializes the signal to its canonical wire form.
func (s *Signal) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes b into a new Signal, recording b as the signal's
// OriginalJSON so the byte-identity invariant holds from the moment a
// signal is read back off the queue.
func Unmarshal(b []byte) (*Signal, error) {
	var s Signal
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	s.originalJSON = append([]byte(nil), b...)
	return &s, nil
}

// OriginalJSON returns the exact bytes this signal was decoded from, or
// nil if the signal was never round-tripped through Unmarshal (e.g. one
// just built by the scorer, not yet published).
func (s *Signal) OriginalJSON() []byte {
	return s.originalJSON
}

// WithOriginalJSON attaches raw as the signal's original-bytes identity.
// Used by the queue immediately after a successful publish, so a
// subsequent mark_completed on the same in-memory value (rather than a
// freshly-Unmarshal'd one) still carries the correct identity.
func (s *Signal) WithOriginalJSON(raw []byte) *Signal {
	s.originalJSON = append([]byte(nil), raw...)
	return s
}
