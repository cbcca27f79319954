// Package kline implements the hybrid daily-bar loader described in
// spec.md §4.8: DB history for the bulk of the window, the live API for
// the last few days, merged with API rows taking precedence on date
// collision. Grounded on spec.md §4.8 plus database/repository.go's
// dedupe/sort-by-date helper style.
package kline

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"hkus-trading-core/internal/broker"
	"hkus-trading-core/internal/errs"
	"hkus-trading-core/internal/store/pg"
)

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// optionPattern excludes derivative contracts from the auto-sync path —
// an option's own trading history is meaningless for equity indicator
// scoring.
var optionPattern = regexp.MustCompile(`^[A-Z]+\d{6}[CP]\d+\.(US|HK|SH|SZ)$`)

func IsOption(symbol string) bool {
	return optionPattern.MatchString(symbol)
}

// Config mirrors the USE_DB_KLINES/DB_KLINES_HISTORY_DAYS/
// API_KLINES_LATEST_DAYS config knobs (spec.md §6).
type Config struct {
	UseDB           bool
	DBHistoryDays   int
	APILatestDays   int
	MinRows         int
}

func DefaultConfig() Config {
	return Config{UseDB: true, DBHistoryDays: 90, APILatestDays: 3, MinRows: 30}
}

type Loader struct {
	db     *pg.DB
	client broker.Client
	cfg    Config
}

func New(db *pg.DB, client broker.Client, cfg Config) *Loader {
	return &Loader{db: db, client: client, cfg: cfg}
}

// Load returns up to cfg.DBHistoryDays+cfg.APILatestDays days of daily
// bars for symbol, oldest first, merged per spec.md §4.8.
func (l *Loader) Load(ctx context.Context, symbol string) ([]broker.Candle, error) {
	if !l.cfg.UseDB || l.db == nil {
		return l.apiOnly(ctx, symbol, 100)
	}

	today := time.Now().UTC()
	dbFrom := today.AddDate(0, 0, -l.cfg.DBHistoryDays)
	dbTo := today.AddDate(0, 0, -3)

	dbRows, err := l.db.KlineRange(symbol, dbFrom, dbTo)
	if err != nil {
		return l.apiOnly(ctx, symbol, 100)
	}

	apiFrom := today.AddDate(0, 0, -l.cfg.APILatestDays)
	apiRows, err := l.client.History(ctx, symbol, apiFrom, today)
	if err != nil {
		apiRows = nil
	}

	merged := Merge(toDBCandles(dbRows), apiRows)

	if len(merged) < l.cfg.MinRows && !IsOption(symbol) {
		if err := l.syncHistory(ctx, symbol, 100); err == nil {
			dbRows, err = l.db.KlineRange(symbol, today.AddDate(0, 0, -100), dbTo)
			if err == nil {
				merged = Merge(toDBCandles(dbRows), apiRows)
			}
		}
	}

	if len(merged) < l.cfg.MinRows {
		return nil, &errs.DataShortageError{Symbol: symbol, Rows: len(merged), Need: l.cfg.MinRows}
	}
	return merged, nil
}

func (l *Loader) apiOnly(ctx context.Context, symbol string, days int) ([]broker.Candle, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	rows, err := l.client.History(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}
	if len(rows) < l.cfg.MinRows {
		return nil, &errs.DataShortageError{Symbol: symbol, Rows: len(rows), Need: l.cfg.MinRows}
	}
	return rows, nil
}

func (l *Loader) syncHistory(ctx context.Context, symbol string, days int) error {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	rows, err := l.client.History(ctx, symbol, from, to)
	if err != nil {
		return err
	}
	return l.db.UpsertKline(toPgRows(symbol, rows))
}

// Merge unions db and api candles by date; api rows win on collision.
// Idempotent and order-independent: merging the same api slice again
// produces the same result (spec.md invariant 8).
func Merge(db, api []broker.Candle) []broker.Candle {
	byDate := make(map[string]broker.Candle, len(db)+len(api))
	for _, c := range db {
		byDate[dateKey(c.Time)] = c
	}
	for _, c := range api {
		byDate[dateKey(c.Time)] = c
	}

	out := make([]broker.Candle, 0, len(byDate))
	for _, c := range byDate {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func toDBCandles(rows []pg.KlineDaily) []broker.Candle {
	out := make([]broker.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, broker.Candle{
			Time:   r.Date,
			Open:   decimalFromFloat(r.Open),
			High:   decimalFromFloat(r.High),
			Low:    decimalFromFloat(r.Low),
			Close:  decimalFromFloat(r.Close),
			Volume: r.Volume,
		})
	}
	return out
}

func toPgRows(symbol string, candles []broker.Candle) []pg.KlineDaily {
	out := make([]pg.KlineDaily, 0, len(candles))
	for _, c := range candles {
		f, _ := c.Open.Float64()
		h, _ := c.High.Float64()
		lo, _ := c.Low.Float64()
		cl, _ := c.Close.Float64()
		out = append(out, pg.KlineDaily{
			Symbol: symbol,
			Date:   c.Time,
			Open:   f,
			High:   h,
			Low:    lo,
			Close:  cl,
			Volume: c.Volume,
			Source: "api",
		})
	}
	return out
}
