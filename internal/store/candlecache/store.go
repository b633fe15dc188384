// Package candlecache keeps fetched Upbit candles in a local sqlite file so
// repeated simulations over the same window do not hit the exchange.
package candlecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"smtm/internal/market"
)

type Store struct {
	db   *sql.DB
	path string
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("candle cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string { return s.path }

// Insert upserts candles keyed by market, unit and candle start.
func (s *Store) Insert(ctx context.Context, unit int, candles []market.Snapshot) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (market, unit, start_ms, utc, kst, open, high, low, close, trade_ts, acc_price, acc_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market, unit, start_ms) DO UPDATE SET
		    utc=excluded.utc,
		    kst=excluded.kst,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    trade_ts=excluded.trade_ts,
		    acc_price=excluded.acc_price,
		    acc_volume=excluded.acc_volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		start := c.Time().UnixMilli()
		if _, err := stmt.ExecContext(ctx, c.Market, unit, start, c.DateTimeUTC, c.DateTimeKST,
			c.OpeningPrice.String(), c.HighPrice.String(), c.LowPrice.String(), c.TradePrice.String(),
			c.Timestamp, c.AccTradePrice.String(), c.AccTradeVolume.String()); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// RecordWindow notes that the exchange was asked for count candles ending
// before endMs, so the same request can be answered locally.
func (s *Store) RecordWindow(ctx context.Context, mkt string, unit int, endMs int64, count int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO windows (market, unit, end_ms, count) VALUES (?, ?, ?, ?)
		ON CONFLICT(market, unit, end_ms) DO UPDATE SET count=MAX(count, excluded.count)`,
		mkt, unit, endMs, count)
	return err
}

// HasWindow reports whether a window of at least count candles ending at
// endMs was fetched before.
func (s *Store) HasWindow(ctx context.Context, mkt string, unit int, endMs int64, count int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count FROM windows WHERE market=? AND unit=? AND end_ms=?`, mkt, unit, endMs).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= count, nil
}

// Window returns up to count cached candles starting before endMs, oldest first.
func (s *Store) Window(ctx context.Context, mkt string, unit int, endMs int64, count int) ([]market.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market, utc, kst, open, high, low, close, trade_ts, acc_price, acc_volume FROM (
			SELECT * FROM candles WHERE market=? AND unit=? AND start_ms < ?
			ORDER BY start_ms DESC LIMIT ?
		) ORDER BY start_ms ASC`, mkt, unit, endMs, count)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Snapshot
	for rows.Next() {
		var (
			snap                                     market.Snapshot
			open, high, low, closing, accPx, accVol string
		)
		if err := rows.Scan(&snap.Market, &snap.DateTimeUTC, &snap.DateTimeKST, &open, &high, &low, &closing,
			&snap.Timestamp, &accPx, &accVol); err != nil {
			return nil, err
		}
		snap.OpeningPrice = parseDecimal(open)
		snap.HighPrice = parseDecimal(high)
		snap.LowPrice = parseDecimal(low)
		snap.TradePrice = parseDecimal(closing)
		snap.AccTradePrice = parseDecimal(accPx)
		snap.AccTradeVolume = parseDecimal(accVol)
		snap.Unit = unit
		out = append(out, snap)
	}
	return out, rows.Err()
}

func parseDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			market     TEXT NOT NULL,
			unit       INTEGER NOT NULL,
			start_ms   INTEGER NOT NULL,
			utc        TEXT NOT NULL,
			kst        TEXT NOT NULL,
			open       TEXT NOT NULL,
			high       TEXT NOT NULL,
			low        TEXT NOT NULL,
			close      TEXT NOT NULL,
			trade_ts   INTEGER NOT NULL DEFAULT 0,
			acc_price  TEXT NOT NULL,
			acc_volume TEXT NOT NULL,
			PRIMARY KEY (market, unit, start_ms)
		);`,
		`CREATE TABLE IF NOT EXISTS windows (
			market TEXT NOT NULL,
			unit   INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			count  INTEGER NOT NULL,
			fetched_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (market, unit, end_ms)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
