package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
	"github.com/ducminhle1904/trading-risk-engine/pkg/types"
)

// SQLiteJournal appends trades and snapshots to a SQLite database. Money is
// stored as decimal text so amounts read back exactly.
type SQLiteJournal struct {
	db *sql.DB
	mu sync.Mutex
}

// SnapshotRow is one stored ledger snapshot
type SnapshotRow struct {
	Timestamp      time.Time
	TotalValue     decimal.Decimal
	Cash           decimal.Decimal
	PositionsValue decimal.Decimal
	NumPositions   int
	RiskyExposure  decimal.Decimal
	RealizedPnL    decimal.Decimal
}

// NewSQLiteJournal opens (or creates) the SQLite database and runs migrations.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so report readers do not block the engine
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info(context.Background(), "SQLite trade journal opened", "path", dbPath)
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT NOT NULL UNIQUE,
			action        TEXT NOT NULL,
			ticker        TEXT NOT NULL,
			shares        INTEGER NOT NULL,
			price         TEXT NOT NULL,
			timestamp     TEXT NOT NULL,
			signal_score  REAL,
			position_type TEXT,
			profit        TEXT,
			profit_pct    TEXT,
			hold_days     INTEGER,
			reason        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker)`,

		`CREATE TABLE IF NOT EXISTS snapshots (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       TEXT NOT NULL,
			total_value     TEXT NOT NULL,
			cash            TEXT NOT NULL,
			positions_value TEXT NOT NULL,
			num_positions   INTEGER NOT NULL,
			risky_exposure  TEXT NOT NULL,
			realized_pnl    TEXT NOT NULL
		)`,
	}

	for _, s := range stmts {
		if _, err := j.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func nullableDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// Record appends one committed trade
func (j *SQLiteJournal) Record(ctx context.Context, t portfolio.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `INSERT INTO trades
		(id, action, ticker, shares, price, timestamp, signal_score, position_type, profit, profit_pct, hold_days, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Action, t.Ticker, t.Shares, t.Price.String(), t.Timestamp.UTC().Format(time.RFC3339Nano),
		t.SignalScore, string(t.PositionType), nullableDecimal(t.Profit), nullableDecimal(t.ProfitPct),
		t.HoldDays, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}
	return nil
}

// RecordSnapshot appends one ledger snapshot
func (j *SQLiteJournal) RecordSnapshot(ctx context.Context, s *portfolio.Snapshot) error {
	if s == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `INSERT INTO snapshots
		(timestamp, total_value, cash, positions_value, num_positions, risky_exposure, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), s.TotalValue.String(), s.Cash.String(),
		s.PositionsValue.String(), s.NumPositions, s.RiskyExposure.String(), s.RealizedPnL.String(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Trades returns every journaled trade in commit order
func (j *SQLiteJournal) Trades(ctx context.Context) ([]portfolio.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id, action, ticker, shares, price, timestamp,
		signal_score, position_type, profit, profit_pct, hold_days, reason
		FROM trades ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []portfolio.TradeRecord
	for rows.Next() {
		var (
			t                 portfolio.TradeRecord
			price, ts         string
			positionType      sql.NullString
			profit, profitPct sql.NullString
			signalScore       sql.NullFloat64
			holdDays          sql.NullInt64
			reason            sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Action, &t.Ticker, &t.Shares, &price, &ts,
			&signalScore, &positionType, &profit, &profitPct, &holdDays, &reason); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}

		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("trade %s price: %w", t.ID, err)
		}
		if t.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("trade %s timestamp: %w", t.ID, err)
		}
		if t.Profit, err = parseNullable(profit); err != nil {
			return nil, fmt.Errorf("trade %s profit: %w", t.ID, err)
		}
		if t.ProfitPct, err = parseNullable(profitPct); err != nil {
			return nil, fmt.Errorf("trade %s profit_pct: %w", t.ID, err)
		}
		t.SignalScore = signalScore.Float64
		t.PositionType = types.PositionType(positionType.String)
		t.HoldDays = int(holdDays.Int64)
		t.Reason = reason.String

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Snapshots returns every stored snapshot, oldest first
func (j *SQLiteJournal) Snapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT timestamp, total_value, cash, positions_value,
		num_positions, risky_exposure, realized_pnl FROM snapshots ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var (
			row                                   SnapshotRow
			ts, total, cash, posValue, risky, pnl string
		)
		if err := rows.Scan(&ts, &total, &cash, &posValue, &row.NumPositions, &risky, &pnl); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if row.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("snapshot timestamp: %w", err)
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&row.TotalValue, total},
			{&row.Cash, cash},
			{&row.PositionsValue, posValue},
			{&row.RiskyExposure, risky},
			{&row.RealizedPnL, pnl},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("snapshot value %q: %w", f.src, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func parseNullable(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Close closes the database
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
