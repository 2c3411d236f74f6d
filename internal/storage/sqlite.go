// Package storage persists bot state: a SQLite database for candle history
// and backtest results, plus a JSON snapshot file for the live book.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eddiefleurent/threat_level_midnight/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS ohlcv (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	exchange TEXT NOT NULL,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	UNIQUE(exchange, symbol, timeframe, timestamp)
);

CREATE INDEX IF NOT EXISTS idx_ohlcv_lookup
	ON ohlcv(exchange, symbol, timeframe, timestamp);

CREATE TABLE IF NOT EXISTS backtest_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_name TEXT NOT NULL,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	initial_capital REAL NOT NULL,
	final_capital REAL NOT NULL,
	total_return_pct REAL,
	annual_return_pct REAL,
	sharpe_ratio REAL,
	sortino_ratio REAL,
	max_drawdown_pct REAL,
	win_rate REAL,
	profit_factor REAL,
	total_trades INTEGER,
	params TEXT,
	created_at TEXT DEFAULT (datetime('now')),
	trades_json TEXT
);

CREATE TABLE IF NOT EXISTS accumulators (
	name TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at TEXT DEFAULT (datetime('now'))
);
`

// DB wraps the SQLite candle and backtest store.
type DB struct {
	conn *sql.DB
}

// OpenDB opens (and migrates) the database at path.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// SQLite writes are single-threaded anyway; one connection avoids
	// SQLITE_BUSY under concurrent strategy evaluation.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// StoreOHLCV upserts a batch of candles in one transaction.
func (d *DB) StoreOHLCV(exchange, symbol, timeframe string, bars models.Series) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ohlcv
		(exchange, symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.Exec(exchange, symbol, timeframe,
			b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("storing %s %s candle at %d: %w", symbol, timeframe, b.Timestamp, err)
		}
	}
	return tx.Commit()
}

// LoadOHLCV reads candles ordered by timestamp. startTS/endTS of zero mean
// unbounded.
func (d *DB) LoadOHLCV(exchange, symbol, timeframe string, startTS, endTS int64) (models.Series, error) {
	query := "SELECT timestamp, open, high, low, close, volume FROM ohlcv WHERE exchange=? AND symbol=? AND timeframe=?"
	args := []any{exchange, symbol, timeframe}
	if startTS > 0 {
		query += " AND timestamp >= ?"
		args = append(args, startTS)
	}
	if endTS > 0 {
		query += " AND timestamp <= ?"
		args = append(args, endTS)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading %s %s candles: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var bars models.Series
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// LatestTimestamp returns the newest stored candle timestamp, or zero when
// none exist.
func (d *DB) LatestTimestamp(exchange, symbol, timeframe string) (int64, error) {
	var ts sql.NullInt64
	err := d.conn.QueryRow(
		"SELECT MAX(timestamp) FROM ohlcv WHERE exchange=? AND symbol=? AND timeframe=?",
		exchange, symbol, timeframe).Scan(&ts)
	if err != nil {
		return 0, err
	}
	return ts.Int64, nil
}

// SaveAccumulator upserts a named JSON blob, used by strategies that carry
// running state between sessions (IV history, wheel phase, streaks).
func (d *DB) SaveAccumulator(name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding accumulator %s: %w", name, err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO accumulators (name, payload, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(name) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		name, string(payload))
	return err
}

// LoadAccumulator decodes a named JSON blob into v. Returns false when the
// name has never been saved.
func (d *DB) LoadAccumulator(name string, v any) (bool, error) {
	var payload string
	err := d.conn.QueryRow("SELECT payload FROM accumulators WHERE name=?", name).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return false, fmt.Errorf("decoding accumulator %s: %w", name, err)
	}
	return true, nil
}

// BacktestResult is one persisted backtest run.
type BacktestResult struct {
	ID              int64           `json:"id"`
	StrategyName    string          `json:"strategy_name"`
	Symbol          string          `json:"symbol"`
	Timeframe       string          `json:"timeframe"`
	StartDate       string          `json:"start_date"`
	EndDate         string          `json:"end_date"`
	InitialCapital  float64         `json:"initial_capital"`
	FinalCapital    float64         `json:"final_capital"`
	TotalReturnPct  float64         `json:"total_return_pct"`
	AnnualReturnPct float64         `json:"annual_return_pct"`
	SharpeRatio     float64         `json:"sharpe_ratio"`
	SortinoRatio    float64         `json:"sortino_ratio"`
	MaxDrawdownPct  float64         `json:"max_drawdown_pct"`
	WinRate         float64         `json:"win_rate"`
	ProfitFactor    float64         `json:"profit_factor"`
	TotalTrades     int             `json:"total_trades"`
	Params          map[string]any  `json:"params,omitempty"`
	Trades          json.RawMessage `json:"trades,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// StoreBacktestResult inserts one result row.
func (d *DB) StoreBacktestResult(r BacktestResult) error {
	params, err := json.Marshal(r.Params)
	if err != nil {
		return err
	}
	trades := r.Trades
	if trades == nil {
		trades = json.RawMessage("[]")
	}
	_, err = d.conn.Exec(`
		INSERT INTO backtest_results
		(strategy_name, symbol, timeframe, start_date, end_date,
		 initial_capital, final_capital, total_return_pct, annual_return_pct,
		 sharpe_ratio, sortino_ratio, max_drawdown_pct, win_rate, profit_factor,
		 total_trades, params, trades_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StrategyName, r.Symbol, r.Timeframe, r.StartDate, r.EndDate,
		r.InitialCapital, r.FinalCapital, r.TotalReturnPct, r.AnnualReturnPct,
		r.SharpeRatio, r.SortinoRatio, r.MaxDrawdownPct, r.WinRate, r.ProfitFactor,
		r.TotalTrades, string(params), string(trades))
	if err != nil {
		return fmt.Errorf("storing backtest result for %s: %w", r.StrategyName, err)
	}
	return nil
}

// BacktestResults lists persisted runs, newest first, optionally filtered
// by strategy name.
func (d *DB) BacktestResults(strategyName string) ([]BacktestResult, error) {
	query := `SELECT id, strategy_name, symbol, timeframe, start_date, end_date,
		initial_capital, final_capital, total_return_pct, annual_return_pct,
		sharpe_ratio, sortino_ratio, max_drawdown_pct, win_rate, profit_factor,
		total_trades, params, trades_json, created_at FROM backtest_results`
	var args []any
	if strategyName != "" {
		query += " WHERE strategy_name = ?"
		args = append(args, strategyName)
	}
	query += " ORDER BY created_at DESC"

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BacktestResult
	for rows.Next() {
		var r BacktestResult
		var params, trades, createdAt sql.NullString
		if err := rows.Scan(&r.ID, &r.StrategyName, &r.Symbol, &r.Timeframe,
			&r.StartDate, &r.EndDate, &r.InitialCapital, &r.FinalCapital,
			&r.TotalReturnPct, &r.AnnualReturnPct, &r.SharpeRatio, &r.SortinoRatio,
			&r.MaxDrawdownPct, &r.WinRate, &r.ProfitFactor, &r.TotalTrades,
			&params, &trades, &createdAt); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" {
			_ = json.Unmarshal([]byte(params.String), &r.Params)
		}
		if trades.Valid {
			r.Trades = json.RawMessage(trades.String)
		}
		if createdAt.Valid {
			r.CreatedAt, _ = time.Parse("2006-01-02 15:04:05", strings.TrimSpace(createdAt.String))
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
