package pg

import "time"

// OrderRecord is the audit trail of every order the executor submitted,
// one row per broker order_id (spec.md §3, §6 "DB schema (owned)").
//
// Key Fields:
//   - AccountID: which trading account this order belongs to
//   - OrderID: the broker's own identifier, empty until submission succeeds
//   - Status: the broker's status at submission (broker.OrderResult.Status)
//   - SignalType: the originating Signal's Type, kept for later analysis
type OrderRecord struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID   string    `gorm:"size:32;index;not null" json:"account_id"`
	OrderID     string    `gorm:"size:64;index" json:"order_id"`
	Symbol      string    `gorm:"size:16;index;not null" json:"symbol"`
	Side        string    `gorm:"size:8;not null" json:"side"`
	SignalType  string    `gorm:"size:32;not null" json:"signal_type"`
	Price       float64   `gorm:"type:decimal(18,4);not null" json:"price"`
	Quantity    int64     `gorm:"not null" json:"quantity"`
	FilledQty   int64     `json:"filled_qty"`
	Status      string    `gorm:"size:16;index;not null" json:"status"`
	RejectCode  string    `gorm:"size:64" json:"reject_code,omitempty"`
	SubmittedAt time.Time `gorm:"index;not null" json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (OrderRecord) TableName() string { return "order_records" }

// PositionStop is the authoritative stop-loss/take-profit state for one
// open position, progressing through a monotonic lifecycle: active ->
// {hit_stop_loss, hit_take_profit, closed}. Once non-active, a
// PositionStop must never transition back to active for the same
// position (spec.md §8.7).
type PositionStop struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID  string     `gorm:"size:32;index;not null" json:"account_id"`
	Symbol     string     `gorm:"size:16;index;not null" json:"symbol"`
	Market     string     `gorm:"size:8;index;not null" json:"market"` // HK or US, for Kelly tiering
	EntryPrice float64    `gorm:"type:decimal(18,4);not null" json:"entry_price"`
	Quantity   int64      `gorm:"not null" json:"quantity"`
	StopLoss   float64    `gorm:"type:decimal(18,4);not null" json:"stop_loss"`
	TakeProfit float64    `gorm:"type:decimal(18,4);not null" json:"take_profit"`
	Status     string     `gorm:"size:16;index;not null;default:active" json:"status"`
	ExitPrice  float64    `gorm:"type:decimal(18,4)" json:"exit_price,omitempty"`
	ExitReason string     `gorm:"size:32" json:"exit_reason,omitempty"`
	OpenedAt   time.Time  `gorm:"not null" json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

func (PositionStop) TableName() string { return "position_stops" }

// KlineDaily is one symbol-day of OHLCV history, the unit the kline
// hybrid loader reads and writes (spec.md §4.8). Partitioned by year via
// raw DDL before AutoMigrate runs, since GORM's own migrator can't
// express range partitioning.
type KlineDaily struct {
	Symbol string    `gorm:"size:16;not null;primaryKey" json:"symbol"`
	Date   time.Time `gorm:"not null;primaryKey" json:"date"`
	Open   float64   `gorm:"type:decimal(18,4);not null" json:"open"`
	High   float64   `gorm:"type:decimal(18,4);not null" json:"high"`
	Low    float64   `gorm:"type:decimal(18,4);not null" json:"low"`
	Close  float64   `gorm:"type:decimal(18,4);not null" json:"close"`
	Volume int64     `gorm:"not null" json:"volume"`
	Source string    `gorm:"size:16;not null" json:"source"` // "db" or "api"
}

func (KlineDaily) TableName() string { return "kline_daily" }

// SignalHistory records every signal SG emitted, independent of the
// queue's own lifecycle, for later backtesting.
type SignalHistory struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID  string     `gorm:"size:32;index;not null" json:"account_id"`
	Symbol     string     `gorm:"size:16;index;not null" json:"symbol"`
	Type       string     `gorm:"size:32;not null" json:"type"`
	Score      int        `gorm:"not null" json:"score"`
	Price      float64    `gorm:"type:decimal(18,4);not null" json:"price"`
	EmittedAt  time.Time  `gorm:"index;not null" json:"emitted_at"`
	OrderID    string     `gorm:"size:64" json:"order_id,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

func (SignalHistory) TableName() string { return "signal_history" }

// TradingCalendar marks which dates the target exchange is open, used to
// skip scan/rotation loops on holidays (spec.md §4.2).
type TradingCalendar struct {
	Date   time.Time `gorm:"not null;primaryKey" json:"date"`
	Market string    `gorm:"size:8;not null;primaryKey" json:"market"` // HK or US
	Open   bool      `gorm:"not null" json:"open"`
}

func (TradingCalendar) TableName() string { return "trading_calendar" }
