// Package store persists the trading core's market data, features, signals,
// and execution history to a single SQLite database.
//
// Writes are queued on a buffered channel and drained by one goroutine, so
// the market-data event loop that calls Save* methods never blocks on disk
// I/O. Reads (used by the dashboard and reporting) go straight to the
// database, serialized by SQLite's own locking.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"auction-trader/pkg/types"
)

const writeQueueSize = 4096

// Store is the SQLite-backed persistence layer for one symbol.
type Store struct {
	db     *sql.DB
	symbol string
	log    *slog.Logger

	queue chan func(*sql.DB) error
	wg    sync.WaitGroup

	mu      sync.Mutex
	lastErr error
}

// Open creates (or reuses) a SQLite database at dir/dbFile, creates the
// schema if absent, and starts the background write-drain goroutine.
func Open(dir, dbFile, symbol string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	path := filepath.Join(dir, dbFile)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid lock contention

	s := &Store{
		db:     db,
		symbol: symbol,
		log:    slog.Default().With("component", "store", "symbol", symbol),
		queue:  make(chan func(*sql.DB) error, writeQueueSize),
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.drain()

	return s, nil
}

// Close stops accepting new writes, drains the queue, and closes the
// database.
func (s *Store) Close() error {
	close(s.queue)
	s.wg.Wait()
	return s.db.Close()
}

// LastWriteError returns the most recent background write error, if any.
// The write-through queue never blocks the caller on failure; this is the
// only way to observe a write that failed. Writes dropped because the queue
// was full are logged at WARN and are not recorded here.
func (s *Store) LastWriteError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) drain() {
	defer s.wg.Done()
	for fn := range s.queue {
		if err := fn(s.db); err != nil {
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
		}
	}
}

// enqueue submits a write without blocking the caller. A saturated queue
// drops the oldest queued write to make room, rather than blocking the
// market-data event loop or dropping the write just submitted.
func (s *Store) enqueue(fn func(*sql.DB) error) {
	select {
	case s.queue <- fn:
		return
	default:
	}

	select {
	case <-s.queue:
		s.log.Warn("write queue full, dropped oldest queued write")
	default:
	}

	select {
	case s.queue <- fn:
	default:
		s.log.Warn("write queue full, dropped write")
	}
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars_1m (
			ts_min INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			vwap REAL NOT NULL,
			trade_count INTEGER NOT NULL,
			bid_px_close REAL NOT NULL,
			ask_px_close REAL NOT NULL,
			bid_sz_close REAL NOT NULL,
			ask_sz_close REAL NOT NULL,
			PRIMARY KEY (ts_min, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS features_1m (
			ts_min INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			mid_close REAL NOT NULL,
			sigma_240 REAL NOT NULL,
			bin_width REAL NOT NULL,
			va_poc REAL NOT NULL,
			va_vah REAL NOT NULL,
			va_val REAL NOT NULL,
			va_valid INTEGER NOT NULL,
			of_1m REAL NOT NULL,
			of_norm_1m REAL NOT NULL,
			qimb_close REAL NOT NULL,
			qimb_ema REAL NOT NULL,
			spread_avg_60m REAL NOT NULL,
			PRIMARY KEY (ts_min, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			ts_min INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			signal_type TEXT,
			action TEXT NOT NULL,
			stop_price REAL,
			tp1_price REAL,
			tp2_price REAL,
			strategy_tag TEXT,
			confidence REAL,
			reason TEXT,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals (ts_min)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals (symbol)`,
		`CREATE TABLE IF NOT EXISTS trades (
			ts_ms INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			price REAL NOT NULL,
			size REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_trades_ts ON trades (symbol, ts_ms)`,
		`CREATE TABLE IF NOT EXISTS quotes (
			ts_ms INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			bid_px REAL NOT NULL,
			bid_sz REAL NOT NULL,
			ask_px REAL NOT NULL,
			ask_sz REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_ts ON quotes (symbol, ts_ms)`,
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			entry_ts INTEGER NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			size REAL NOT NULL,
			original_size REAL NOT NULL,
			stop_price REAL NOT NULL,
			tp1_price REAL,
			tp2_price REAL,
			tp1_hit INTEGER DEFAULT 0,
			strategy_tag TEXT,
			fees_paid REAL DEFAULT 0,
			funding_paid REAL DEFAULT 0,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS trade_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			entry_ts INTEGER NOT NULL,
			exit_ts INTEGER NOT NULL,
			side TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			size REAL NOT NULL,
			pnl_gross REAL NOT NULL,
			pnl_net REAL NOT NULL,
			fees REAL NOT NULL,
			funding REAL NOT NULL,
			exit_reason TEXT NOT NULL,
			strategy_tag TEXT,
			hold_minutes INTEGER NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_symbol ON trade_records (symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_records_ts ON trade_records (exit_ts)`,
		`CREATE TABLE IF NOT EXISTS daily_pnl (
			date TEXT NOT NULL,
			symbol TEXT NOT NULL,
			realized_pnl REAL DEFAULT 0,
			unrealized_pnl REAL DEFAULT 0,
			trades_count INTEGER DEFAULT 0,
			win_count INTEGER DEFAULT 0,
			loss_count INTEGER DEFAULT 0,
			fees_total REAL DEFAULT 0,
			funding_total REAL DEFAULT 0,
			PRIMARY KEY (date, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT NOT NULL UNIQUE,
			client_order_id TEXT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			price REAL,
			qty REAL NOT NULL,
			status TEXT NOT NULL,
			filled_qty REAL DEFAULT 0,
			avg_price REAL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// SaveBar queues a finalized bar for persistence.
func (s *Store) SaveBar(bar types.Bar1m) {
	symbol := s.symbol
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR REPLACE INTO bars_1m VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			bar.TsMin, symbol, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.VWAP,
			bar.TradeCount, bar.BidPxClose, bar.AskPxClose, bar.BidSzClose, bar.AskSzClose)
		return err
	})
}

// SaveFeatures queues a feature vector for persistence.
func (s *Store) SaveFeatures(f types.Features1m) {
	symbol := s.symbol
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR REPLACE INTO features_1m VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			f.TsMin, symbol, f.MidClose, f.Sigma240, f.BinWidth,
			f.VA.POC, f.VA.VAH, f.VA.VAL, boolToInt(f.VA.IsValid),
			f.OrderFlow.OF1m, f.OrderFlow.OFNorm1m, f.QIMBClose, f.QIMBEMA, f.SpreadAvg60m)
		return err
	})
}

// SaveSignal queues a generated signal for persistence (HOLD signals
// included, for audit continuity).
func (s *Store) SaveSignal(sig types.Signal) {
	symbol := s.symbol
	id := uuid.New().String()
	var signalType *string
	if sig.SignalType != nil {
		tag := sig.SignalType.StrategyTag()
		signalType = &tag
	}
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO signals
			(id, ts_min, symbol, signal_type, action, stop_price, tp1_price, tp2_price, strategy_tag, confidence, reason)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			id, sig.TsMin, symbol, signalType, actionString(sig.Action),
			sig.Stop, sig.TP1, sig.TP2, sig.StrategyTag, sig.Confidence, sig.Reason)
		return err
	})
}

// SaveTick queues a raw trade print for persistence.
func (s *Store) SaveTick(t types.Trade) {
	symbol := s.symbol
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO trades (ts_ms, symbol, price, size) VALUES (?,?,?,?)`,
			t.TsMs, symbol, t.Price, t.Size)
		return err
	})
}

// SaveQuote queues a raw top-of-book snapshot for persistence.
func (s *Store) SaveQuote(q types.Quote) {
	symbol := s.symbol
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO quotes (ts_ms, symbol, bid_px, bid_sz, ask_px, ask_sz) VALUES (?,?,?,?,?,?)`,
			q.TsMs, symbol, q.BidPx, q.BidSz, q.AskPx, q.AskSz)
		return err
	})
}

// SavePosition queues an upsert of the single active position.
func (s *Store) SavePosition(pos types.Position) {
	symbol := s.symbol
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT OR REPLACE INTO positions
			(symbol, entry_ts, side, entry_price, size, original_size, stop_price, tp1_price, tp2_price,
			 tp1_hit, strategy_tag, fees_paid, funding_paid, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			symbol, pos.EntryTs, pos.Side.String(), pos.EntryPrice, pos.Size, pos.OriginalSize,
			pos.StopPrice, pos.TP1Price, pos.TP2Price, boolToInt(pos.TP1Hit), pos.StrategyTag,
			pos.FeesPaid, pos.FundingPaid, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// DeletePosition queues removal of the active position (after a full close).
func (s *Store) DeletePosition() {
	symbol := s.symbol
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`DELETE FROM positions WHERE symbol = ?`, symbol)
		return err
	})
}

// GetPosition synchronously loads the active position, if any.
func (s *Store) GetPosition() (*types.Position, error) {
	row := s.db.QueryRow(`SELECT entry_ts, side, entry_price, size, original_size, stop_price,
		tp1_price, tp2_price, tp1_hit, strategy_tag, fees_paid, funding_paid
		FROM positions WHERE symbol = ?`, s.symbol)

	var pos types.Position
	var side string
	var tp1Hit int
	if err := row.Scan(&pos.EntryTs, &side, &pos.EntryPrice, &pos.Size, &pos.OriginalSize,
		&pos.StopPrice, &pos.TP1Price, &pos.TP2Price, &tp1Hit, &pos.StrategyTag,
		&pos.FeesPaid, &pos.FundingPaid); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	pos.Side = parseSide(side)
	pos.TP1Hit = tp1Hit != 0
	return &pos, nil
}

// SaveTrade queues a completed round trip and its daily P&L rollup.
func (s *Store) SaveTrade(tr types.TradeRecord) {
	symbol := s.symbol
	s.enqueue(func(db *sql.DB) error {
		if _, err := db.Exec(`INSERT INTO trade_records
			(symbol, entry_ts, exit_ts, side, entry_price, exit_price, size, pnl_gross, pnl_net,
			 fees, funding, exit_reason, strategy_tag, hold_minutes)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			symbol, tr.EntryTs, tr.ExitTs, tr.Side.String(), tr.EntryPrice, tr.ExitPrice, tr.Size,
			tr.PnLGross, tr.PnLNet, tr.Fees, tr.Funding, tr.ExitReason.String(), tr.StrategyTag, tr.HoldMinutes); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		return upsertDailyPnL(db, symbol, tr)
	})
}

func upsertDailyPnL(db *sql.DB, symbol string, tr types.TradeRecord) error {
	date := time.UnixMilli(tr.ExitTs).UTC().Format("2006-01-02")
	win, loss := 0, 1
	if tr.PnLNet > 0 {
		win, loss = 1, 0
	}
	_, err := db.Exec(`INSERT INTO daily_pnl (date, symbol, realized_pnl, trades_count, win_count, loss_count, fees_total, funding_total)
		VALUES (?,?,?,1,?,?,?,?)
		ON CONFLICT(date, symbol) DO UPDATE SET
			realized_pnl = realized_pnl + excluded.realized_pnl,
			trades_count = trades_count + 1,
			win_count = win_count + excluded.win_count,
			loss_count = loss_count + excluded.loss_count,
			fees_total = fees_total + excluded.fees_total,
			funding_total = funding_total + excluded.funding_total`,
		date, symbol, tr.PnLNet, win, loss, tr.Fees, tr.Funding)
	return err
}

// SaveOrder queues an upsert of an order's lifecycle state.
func (s *Store) SaveOrder(o types.OrderRecord) {
	now := time.Now().UnixMilli()
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO orders
			(order_id, client_order_id, symbol, side, order_type, price, qty, status, filled_qty, avg_price, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(order_id) DO UPDATE SET
				status = excluded.status, filled_qty = excluded.filled_qty,
				avg_price = excluded.avg_price, updated_at = excluded.updated_at`,
			o.OrderID, o.ClientOrderID, o.Symbol, o.Side.String(), o.OrderType, o.Price, o.Qty,
			o.Status, o.FilledQty, o.AvgPrice, now, now)
		return err
	})
}

// GetTrades returns trade history for the store's symbol, most recent first.
func (s *Store) GetTrades(limit int) ([]types.TradeRecord, error) {
	query := `SELECT entry_ts, exit_ts, side, entry_price, exit_price, size, pnl_gross, pnl_net,
		fees, funding, exit_reason, strategy_tag, hold_minutes FROM trade_records WHERE symbol = ? ORDER BY exit_ts DESC`
	args := []any{s.symbol}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	defer rows.Close()

	var out []types.TradeRecord
	for rows.Next() {
		var tr types.TradeRecord
		var side, exitReason string
		if err := rows.Scan(&tr.EntryTs, &tr.ExitTs, &side, &tr.EntryPrice, &tr.ExitPrice, &tr.Size,
			&tr.PnLGross, &tr.PnLNet, &tr.Fees, &tr.Funding, &exitReason, &tr.StrategyTag, &tr.HoldMinutes); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		tr.Side = parseSide(side)
		tr.ExitReason = parseExitReason(exitReason)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// GetTradeStats computes aggregate trading statistics for the store's symbol.
func (s *Store) GetTradeStats() (types.Stats, error) {
	row := s.db.QueryRow(`SELECT
		COUNT(*),
		SUM(CASE WHEN pnl_net > 0 THEN 1 ELSE 0 END),
		SUM(CASE WHEN pnl_net <= 0 THEN 1 ELSE 0 END),
		COALESCE(SUM(pnl_net), 0),
		COALESCE(AVG(pnl_net), 0),
		COALESCE(AVG(CASE WHEN pnl_net > 0 THEN pnl_net END), 0),
		COALESCE(AVG(CASE WHEN pnl_net <= 0 THEN pnl_net END), 0),
		COALESCE(SUM(fees), 0),
		COALESCE(SUM(funding), 0)
		FROM trade_records WHERE symbol = ?`, s.symbol)

	var stats types.Stats
	var winners, losers sql.NullInt64
	if err := row.Scan(&stats.TotalTrades, &winners, &losers, &stats.TotalPnL, &stats.AvgPnL,
		&stats.AvgWinner, &stats.AvgLoser, &stats.TotalFees, &stats.TotalFunding); err != nil {
		return types.Stats{}, fmt.Errorf("get trade stats: %w", err)
	}
	stats.Winners = int(winners.Int64)
	stats.Losers = int(losers.Int64)
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.Winners) / float64(stats.TotalTrades)
	}
	stats.MaxDrawdown = maxDrawdownFromTrades(s)
	return stats, nil
}

// maxDrawdownFromTrades is computed from the equity curve rather than a
// running query, since SQL has no native running-minimum aggregate.
func maxDrawdownFromTrades(s *Store) float64 {
	rows, err := s.db.Query(`SELECT pnl_net FROM trade_records WHERE symbol = ? ORDER BY exit_ts ASC`, s.symbol)
	if err != nil {
		return 0
	}
	defer rows.Close()

	var equity, peak, maxDD float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			continue
		}
		equity += pnl
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// GetDailyPnL returns the daily P&L rollup for the store's symbol, oldest first.
func (s *Store) GetDailyPnL() ([]types.DailyPnL, error) {
	rows, err := s.db.Query(`SELECT date, symbol, realized_pnl, unrealized_pnl, trades_count,
		win_count, loss_count, fees_total, funding_total FROM daily_pnl WHERE symbol = ? ORDER BY date ASC`, s.symbol)
	if err != nil {
		return nil, fmt.Errorf("get daily pnl: %w", err)
	}
	defer rows.Close()

	var out []types.DailyPnL
	for rows.Next() {
		var d types.DailyPnL
		if err := rows.Scan(&d.Date, &d.Symbol, &d.RealizedPnL, &d.UnrealizedPnL, &d.TradesCount,
			&d.WinCount, &d.LossCount, &d.FeesTotal, &d.FundingTotal); err != nil {
			return nil, fmt.Errorf("scan daily pnl: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// EquityPoint is one sample of the cumulative equity curve.
type EquityPoint struct {
	TsMs   int64
	Equity float64
}

// GetEquityCurve reconstructs the equity curve from trade history.
func (s *Store) GetEquityCurve(initialCapital float64) ([]EquityPoint, error) {
	rows, err := s.db.Query(`SELECT exit_ts, pnl_net FROM trade_records WHERE symbol = ? ORDER BY exit_ts ASC`, s.symbol)
	if err != nil {
		return nil, fmt.Errorf("get equity curve: %w", err)
	}
	defer rows.Close()

	equity := initialCapital
	curve := []EquityPoint{{TsMs: 0, Equity: equity}}
	for rows.Next() {
		var exitTs int64
		var pnl float64
		if err := rows.Scan(&exitTs, &pnl); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}
		equity += pnl
		curve = append(curve, EquityPoint{TsMs: exitTs, Equity: equity})
	}
	return curve, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func actionString(a types.Action) string {
	switch a {
	case types.ActionEnterLong:
		return "ENTER_LONG"
	case types.ActionEnterShort:
		return "ENTER_SHORT"
	case types.ActionExit:
		return "EXIT"
	default:
		return "HOLD"
	}
}

func parseSide(s string) types.PositionSide {
	if s == "SHORT" {
		return types.Short
	}
	return types.Long
}

func parseExitReason(s string) types.ExitReason {
	for r := types.ExitStopLoss; r <= types.ExitManual; r++ {
		if r.String() == s {
			return r
		}
	}
	return types.ExitStopLoss
}
