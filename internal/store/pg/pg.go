// Package pg provides GORM/PostgreSQL-backed persistence for order
// history, position stops, kline bars, signal history, and the trading
// calendar (spec.md §6 "DB schema (owned)").
//
// Grounded on database/connection.go and database/models.go's
// gorm.Open+Silent-logger+raw-DDL-before-AutoMigrate pattern.
package pg

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB holds the GORM connection and exposes the repository methods below.
type DB struct {
	db *gorm.DB
}

func Connect(host string, port int, dbname, user, password string) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{db: gdb}, nil
}

// ConnectDSN opens a connection using a raw libpq-style DSN, for callers
// that already hold one (internal/config.Config.DatabaseDSN) rather than
// discrete host/port/user fields.
func ConnectDSN(dsn string) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{db: gdb}, nil
}

func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSchema partitions kline_daily by year via raw DDL (AutoMigrate
// can't express range partitioning), then auto-migrates everything else.
func (d *DB) InitSchema(years []int) error {
	if err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS kline_daily (
			symbol VARCHAR(16) NOT NULL,
			date DATE NOT NULL,
			open DECIMAL(18,4) NOT NULL,
			high DECIMAL(18,4) NOT NULL,
			low DECIMAL(18,4) NOT NULL,
			close DECIMAL(18,4) NOT NULL,
			volume BIGINT NOT NULL,
			source VARCHAR(16) NOT NULL,
			PRIMARY KEY (symbol, date)
		) PARTITION BY RANGE (date)
	`).Error; err != nil {
		return fmt.Errorf("failed to create kline_daily: %w", err)
	}

	for _, year := range years {
		partition := fmt.Sprintf("kline_daily_%d", year)
		if err := d.db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s PARTITION OF kline_daily
			FOR VALUES FROM ('%d-01-01') TO ('%d-01-01')
		`, partition, year, year+1)).Error; err != nil {
			return fmt.Errorf("failed to create partition %s: %w", partition, err)
		}
	}

	return d.db.AutoMigrate(
		&OrderRecord{},
		&PositionStop{},
		&SignalHistory{},
		&TradingCalendar{},
	)
}

// --- OrderRecord ---

func (d *DB) InsertOrder(rec *OrderRecord) error {
	return d.db.Create(rec).Error
}

func (d *DB) UpdateOrderStatus(orderID, status string, filledQty int64, rejectCode string) error {
	return d.db.Model(&OrderRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":      status,
			"filled_qty":  filledQty,
			"reject_code": rejectCode,
			"updated_at":  time.Now(),
		}).Error
}

// OrdersToday returns every order submitted for account on the given
// UTC day, used by the signal generator's scan loop to merge that day's
// BUY orders into traded_today on every scan.
func (d *DB) OrdersToday(account string, day time.Time) ([]OrderRecord, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var out []OrderRecord
	err := d.db.Where("account_id = ? AND submitted_at >= ? AND submitted_at < ?", account, start, end).
		Order("submitted_at asc").
		Find(&out).Error
	return out, err
}

// --- PositionStop ---

var validTransitions = map[string][]string{
	"active": {"hit_stop_loss", "hit_take_profit", "closed"},
}

// ErrInvalidTransition guards spec.md §8.7's monotonic lifecycle: once a
// PositionStop leaves "active" it can never return to it.
var ErrInvalidTransition = fmt.Errorf("pg: invalid position_stop status transition")

func (d *DB) InsertPositionStop(p *PositionStop) error {
	if p.Status == "" {
		p.Status = "active"
	}
	return d.db.Create(p).Error
}

// TransitionPositionStop moves a position stop out of "active", recording
// the exit price/reason. It is a no-op returning ErrInvalidTransition if
// the row is already non-active, preventing a late-arriving price tick
// from reviving a closed position.
func (d *DB) TransitionPositionStop(id int64, newStatus string, exitPrice float64, exitReason string) error {
	var current PositionStop
	if err := d.db.First(&current, id).Error; err != nil {
		return err
	}

	allowed := false
	for _, s := range validTransitions[current.Status] {
		if s == newStatus {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition
	}

	now := time.Now()
	return d.db.Model(&PositionStop{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      newStatus,
		"exit_price":  exitPrice,
		"exit_reason": exitReason,
		"closed_at":   now,
	}).Error
}

// UpdateStopLevels rewrites an active position's stop-loss/take-profit
// levels in place, used by the "smart hold" exit floor (spec.md §4.5.3:
// "if score < 0, suppress and raise stop_loss to price and take_profit
// to price * 1.05") where no order is submitted, only the stop record
// changes.
func (d *DB) UpdateStopLevels(id int64, stopLoss, takeProfit float64) error {
	return d.db.Model(&PositionStop{}).Where("id = ? AND status = ?", id, "active").Updates(map[string]interface{}{
		"stop_loss":   stopLoss,
		"take_profit": takeProfit,
	}).Error
}

func (d *DB) ActivePositionStop(account, symbol string) (*PositionStop, error) {
	var p PositionStop
	err := d.db.Where("account_id = ? AND symbol = ? AND status = ?", account, symbol, "active").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ReduceQuantity lowers a still-active position's tracked quantity after
// a partial/gradual exit, leaving the row active (spec.md §4.3 SELL step
// 3: "for partial exits, keep row active but reduce tracked quantity").
func (d *DB) ReduceQuantity(id int64, newQuantity int64) error {
	return d.db.Model(&PositionStop{}).Where("id = ?", id).Update("quantity", newQuantity).Error
}

// ClosedTradeStats aggregates win rate and average win/loss magnitude for
// closed positions in [since, now), used by the Kelly overlay (spec.md
// §4.4 step 3). scope narrows by symbol, by market, or neither (global).
type ClosedTradeStats struct {
	ClosedTrades int
	WinRate      float64
	AvgWin       float64 // positive
	AvgLossAbs   float64 // positive magnitude
}

// KellyStats computes ClosedTradeStats for account, optionally narrowed
// to symbol and/or market (empty string = unrestricted), over positions
// closed since the given time.
func (d *DB) KellyStats(account, symbol, market string, since time.Time) (ClosedTradeStats, error) {
	q := d.db.Model(&PositionStop{}).
		Where("account_id = ? AND status IN ? AND closed_at >= ?", account,
			[]string{"hit_stop_loss", "hit_take_profit", "closed"}, since)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if market != "" {
		q = q.Where("market = ?", market)
	}

	var rows []PositionStop
	if err := q.Find(&rows).Error; err != nil {
		return ClosedTradeStats{}, err
	}

	var wins, losses int
	var sumWin, sumLossAbs float64
	for _, r := range rows {
		pnl := (r.ExitPrice - r.EntryPrice) * float64(r.Quantity)
		if pnl > 0 {
			wins++
			sumWin += pnl
		} else if pnl < 0 {
			losses++
			sumLossAbs += -pnl
		}
	}

	stats := ClosedTradeStats{ClosedTrades: len(rows)}
	if len(rows) > 0 {
		stats.WinRate = float64(wins) / float64(len(rows))
	}
	if wins > 0 {
		stats.AvgWin = sumWin / float64(wins)
	}
	if losses > 0 {
		stats.AvgLossAbs = sumLossAbs / float64(losses)
	}
	return stats, nil
}

// --- KlineDaily ---

func (d *DB) UpsertKline(bars []KlineDaily) error {
	if len(bars) == 0 {
		return nil
	}
	return d.db.Save(&bars).Error
}

func (d *DB) KlineRange(symbol string, from, to time.Time) ([]KlineDaily, error) {
	var out []KlineDaily
	err := d.db.Where("symbol = ? AND date >= ? AND date <= ?", symbol, from, to).
		Order("date asc").
		Find(&out).Error
	return out, err
}

// --- SignalHistory ---

func (d *DB) InsertSignalHistory(h *SignalHistory) error {
	return d.db.Create(h).Error
}

// UpdateSignalHistoryExecution stamps the most recent signal_history row
// for (account, symbol, type) with the broker order_id once OE submits
// it, per spec.md §4.3 BUY step 7 "Update SignalHistory with execution
// fields".
func (d *DB) UpdateSignalHistoryExecution(account, symbol, typ, orderID string) error {
	var row SignalHistory
	err := d.db.Where("account_id = ? AND symbol = ? AND type = ?", account, symbol, typ).
		Order("emitted_at desc").First(&row).Error
	if err != nil {
		return err
	}
	now := time.Now()
	return d.db.Model(&SignalHistory{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"order_id":    orderID,
		"executed_at": now,
	}).Error
}

// --- TradingCalendar ---

func (d *DB) IsMarketOpen(market string, day time.Time) (bool, error) {
	var row TradingCalendar
	date := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	err := d.db.Where("market = ? AND date = ?", market, date).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		// No calendar entry for a weekday defaults to open; holidays must
		// be seeded explicitly.
		return day.Weekday() != time.Saturday && day.Weekday() != time.Sunday, nil
	}
	if err != nil {
		return false, err
	}
	return row.Open, nil
}
