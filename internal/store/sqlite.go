package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"stockbt/internal/domain"
	"stockbt/internal/util"
)

// Compile-time interface checks.
var _ MacroStore = (*SQLiteStore)(nil)
var _ FundamentalsStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)

// SQLiteStore implements MacroStore, FundamentalsStore and RunStore backed by
// a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// runTimeLayout is fixed-width so created_at sorts lexicographically.
const runTimeLayout = "2006-01-02T15:04:05.000000Z"

// migrations are applied in order on open. Every statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS macro_observations (
		series_id TEXT NOT NULL,
		date      TEXT NOT NULL,
		value     REAL NOT NULL,
		PRIMARY KEY (series_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS fundamentals (
		symbol         TEXT NOT NULL,
		as_of          TEXT NOT NULL,
		pe             REAL,
		pb             REAL,
		ps             REAL,
		peg            REAL,
		roe            REAL,
		debt_to_equity REAL,
		dividend_yield REAL,
		payout_ratio   REAL,
		market_cap     REAL,
		PRIMARY KEY (symbol, as_of)
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id           TEXT PRIMARY KEY,
		created_at   TEXT NOT NULL,
		strategy     TEXT NOT NULL,
		start_date   TEXT NOT NULL,
		end_date     TEXT NOT NULL,
		config_json  TEXT NOT NULL,
		summary_json TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_records (
		run_id           TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		date             TEXT NOT NULL,
		portfolio_value  REAL NOT NULL,
		cash             REAL NOT NULL,
		benchmark_value  REAL NOT NULL,
		daily_return_pct REAL NOT NULL,
		drawdown_pct     REAL NOT NULL,
		positions        INTEGER NOT NULL,
		regime           TEXT,
		PRIMARY KEY (run_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS rebalance_events (
		run_id     TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		date       TEXT NOT NULL,
		event_json TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created ON backtest_runs(created_at)`,
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// MacroStore implementation
// ---------------------------------------------------------------------------

// WriteMacroObservations upserts observations in a single transaction.
func (s *SQLiteStore) WriteMacroObservations(ctx context.Context, obs []domain.MacroObservation) error {
	if len(obs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO macro_observations (series_id, date, value) VALUES (?, ?, ?)
			 ON CONFLICT(series_id, date) DO UPDATE SET value = excluded.value`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, o := range obs {
			if _, err := stmt.ExecContext(ctx, o.SeriesID, util.Day(o.Date).Format(util.DateLayout), o.Value); err != nil {
				return fmt.Errorf("upserting %s %s: %w", o.SeriesID, o.Date.Format(util.DateLayout), err)
			}
		}
		return nil
	})
}

// MacroObservations returns a series' observations within [start, end].
func (s *SQLiteStore) MacroObservations(ctx context.Context, seriesID string, start, end time.Time) ([]domain.MacroObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, value FROM macro_observations
		 WHERE series_id = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC`,
		seriesID, util.Day(start).Format(util.DateLayout), util.Day(end).Format(util.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", seriesID, err)
	}
	defer rows.Close()

	var out []domain.MacroObservation
	for rows.Next() {
		var (
			date  string
			value float64
		)
		if err := rows.Scan(&date, &value); err != nil {
			return nil, err
		}
		d, err := util.ParseDay(date)
		if err != nil {
			return nil, fmt.Errorf("bad date %q in %s: %w", date, seriesID, err)
		}
		out = append(out, domain.MacroObservation{SeriesID: seriesID, Date: d, Value: value})
	}
	return out, rows.Err()
}

// LatestMacroDate returns the newest stored date for a series.
func (s *SQLiteStore) LatestMacroDate(ctx context.Context, seriesID string) (time.Time, bool, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM macro_observations WHERE series_id = ?`, seriesID).Scan(&date)
	if err != nil {
		return time.Time{}, false, err
	}
	if !date.Valid {
		return time.Time{}, false, nil
	}
	d, err := util.ParseDay(date.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

// ---------------------------------------------------------------------------
// FundamentalsStore implementation
// ---------------------------------------------------------------------------

// SaveFundamentals upserts one snapshot.
func (s *SQLiteStore) SaveFundamentals(ctx context.Context, f domain.Fundamentals) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fundamentals
			(symbol, as_of, pe, pb, ps, peg, roe, debt_to_equity, dividend_yield, payout_ratio, market_cap)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(symbol, as_of) DO UPDATE SET
			pe = excluded.pe, pb = excluded.pb, ps = excluded.ps, peg = excluded.peg,
			roe = excluded.roe, debt_to_equity = excluded.debt_to_equity,
			dividend_yield = excluded.dividend_yield, payout_ratio = excluded.payout_ratio,
			market_cap = excluded.market_cap`,
		f.Symbol, util.Day(f.AsOf).Format(util.DateLayout),
		nullable(f.PE), nullable(f.PB), nullable(f.PS), nullable(f.PEG), nullable(f.ROE),
		nullable(f.DebtToEquity), nullable(f.DividendYield), nullable(f.PayoutRatio), nullable(f.MarketCap),
	)
	if err != nil {
		return fmt.Errorf("saving fundamentals for %s: %w", f.Symbol, err)
	}
	return nil
}

// FundamentalsAsOf returns the latest snapshot on or before asOf.
func (s *SQLiteStore) FundamentalsAsOf(ctx context.Context, symbol string, asOf time.Time) (*domain.Fundamentals, error) {
	var (
		date                                       string
		pe, pb, ps, peg, roe, de, dy, payout, mcap sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT as_of, pe, pb, ps, peg, roe, debt_to_equity, dividend_yield, payout_ratio, market_cap
		 FROM fundamentals WHERE symbol = ? AND as_of <= ?
		 ORDER BY as_of DESC LIMIT 1`,
		symbol, util.Day(asOf).Format(util.DateLayout),
	).Scan(&date, &pe, &pb, &ps, &peg, &roe, &de, &dy, &payout, &mcap)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying fundamentals for %s: %w", symbol, err)
	}
	d, err := util.ParseDay(date)
	if err != nil {
		return nil, err
	}
	return &domain.Fundamentals{
		Symbol:        symbol,
		AsOf:          d,
		PE:            ptr(pe),
		PB:            ptr(pb),
		PS:            ptr(ps),
		PEG:           ptr(peg),
		ROE:           ptr(roe),
		DebtToEquity:  ptr(de),
		DividendYield: ptr(dy),
		PayoutRatio:   ptr(payout),
		MarketCap:     ptr(mcap),
	}, nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun writes the run row, its daily records and rebalance events in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	cfg := run.ConfigJSON
	if len(cfg) == 0 {
		cfg = []byte("{}")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO backtest_runs (id, created_at, strategy, start_date, end_date, config_json, summary_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.CreatedAt.UTC().Format(runTimeLayout), run.Strategy,
			run.Summary.Start.Format(util.DateLayout), run.Summary.End.Format(util.DateLayout),
			string(cfg), string(summary))
		if err != nil {
			return fmt.Errorf("inserting run %s: %w", run.ID, err)
		}

		daily, err := tx.PrepareContext(ctx,
			`INSERT INTO daily_records
				(run_id, date, portfolio_value, cash, benchmark_value, daily_return_pct, drawdown_pct, positions, regime)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer daily.Close()
		for _, r := range run.Daily {
			if _, err := daily.ExecContext(ctx, run.ID, r.Date.Format(util.DateLayout),
				r.PortfolioValue, r.Cash, r.BenchmarkValue, r.DailyReturnPct, r.DrawdownPct,
				r.Positions, string(r.Regime)); err != nil {
				return fmt.Errorf("inserting daily record %s: %w", r.Date.Format(util.DateLayout), err)
			}
		}

		events, err := tx.PrepareContext(ctx,
			`INSERT INTO rebalance_events (run_id, seq, date, event_json) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer events.Close()
		for i, e := range run.Rebalances {
			body, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding rebalance event: %w", err)
			}
			if _, err := events.ExecContext(ctx, run.ID, i, e.Date.Format(util.DateLayout), string(body)); err != nil {
				return fmt.Errorf("inserting rebalance event %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetRun loads a run with its records.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var created, strategy, cfg, summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, strategy, config_json, summary_json FROM backtest_runs WHERE id = ?`, id,
	).Scan(&created, &strategy, &cfg, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}

	run := &RunRecord{ID: id, Strategy: strategy, ConfigJSON: []byte(cfg)}
	if run.CreatedAt, err = time.Parse(runTimeLayout, created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("decoding summary: %w", err)
	}

	if run.Daily, err = s.dailyRecords(ctx, id); err != nil {
		return nil, err
	}
	if run.Rebalances, err = s.rebalanceEvents(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) dailyRecords(ctx context.Context, runID string) ([]domain.DailyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, portfolio_value, cash, benchmark_value, daily_return_pct, drawdown_pct, positions, regime
		 FROM daily_records WHERE run_id = ? ORDER BY date ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying daily records: %w", err)
	}
	defer rows.Close()

	var out []domain.DailyRecord
	for rows.Next() {
		var (
			r      domain.DailyRecord
			date   string
			regime sql.NullString
		)
		if err := rows.Scan(&date, &r.PortfolioValue, &r.Cash, &r.BenchmarkValue,
			&r.DailyReturnPct, &r.DrawdownPct, &r.Positions, &regime); err != nil {
			return nil, err
		}
		if r.Date, err = util.ParseDay(date); err != nil {
			return nil, err
		}
		r.Regime = domain.RegimeLabel(regime.String)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) rebalanceEvents(ctx context.Context, runID string) ([]domain.RebalanceEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_json FROM rebalance_events WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying rebalance events: %w", err)
	}
	defer rows.Close()

	var out []domain.RebalanceEvent
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e domain.RebalanceEvent
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decoding rebalance event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListRuns returns archived runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	q := `SELECT id, created_at, strategy, summary_json FROM backtest_runs ORDER BY created_at DESC, id ASC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			rs               RunSummary
			created, summary string
		)
		if err := rows.Scan(&rs.ID, &created, &rs.Strategy, &summary); err != nil {
			return nil, err
		}
		if rs.CreatedAt, err = time.Parse(runTimeLayout, created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(summary), &rs.Summary); err != nil {
			return nil, fmt.Errorf("decoding summary of %s: %w", rs.ID, err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
