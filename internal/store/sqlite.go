package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"harvester/internal/domain"
	"harvester/internal/fault"
	"harvester/internal/gaps"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Sink = (*SQLite)(nil)

// SQLite is the relational backend. One instance per worker; SQLite with
// busy_timeout serializes concurrent writers on the same file.
type SQLite struct {
	path string
	db   *sql.DB
}

// NewSQLite creates an unconnected SQLite sink for the database at path.
func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

// Connect opens the database and applies the pragmas the write path needs.
func (s *SQLite) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fault.StorageConnection("sqlite.connect", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fault.StorageConnection("sqlite.connect", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fault.StorageConnection("sqlite.connect", err)
		}
	}
	s.db = db
	return nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureIndexes creates the tables and indexes if they do not exist.
func (s *SQLite) EnsureIndexes(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol       TEXT    NOT NULL,
			interval     TEXT    NOT NULL,
			open_time    INTEGER NOT NULL,
			open         REAL NOT NULL,
			high         REAL NOT NULL,
			low          REAL NOT NULL,
			close        REAL NOT NULL,
			volume       REAL NOT NULL,
			quote_volume REAL NOT NULL,
			trade_count  INTEGER NOT NULL,
			PRIMARY KEY (symbol, interval, open_time)
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			symbol   TEXT    NOT NULL,
			trade_id INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			price    REAL NOT NULL,
			quantity REAL NOT NULL,
			maker    INTEGER NOT NULL,
			PRIMARY KEY (symbol, trade_id)
		)`,
		`CREATE TABLE IF NOT EXISTS funding (
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			rate       REAL NOT NULL,
			mark_price REAL NOT NULL,
			PRIMARY KEY (symbol, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_symbol_time ON candles (symbol, interval, open_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades (symbol, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_funding_symbol_ts ON funding (symbol, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// Write upserts records in a single transaction. Errors are classified as
// storage-connection faults: with upsert semantics the remaining failure
// modes (locked database, closed connection) are all retryable.
func (s *SQLite) Write(ctx context.Context, col Collection, records []domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fault.StorageConnection("sqlite.write", err)
	}
	defer tx.Rollback()

	written := 0
	for _, r := range records {
		var execErr error
		switch rec := r.(type) {
		case domain.Candle:
			_, execErr = tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO candles
				 (symbol, interval, open_time, open, high, low, close, volume, quote_volume, trade_count)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.Symbol, string(rec.Interval), rec.OpenTime.UnixMilli(),
				rec.Open, rec.High, rec.Low, rec.Close,
				rec.Volume, rec.QuoteVolume, rec.TradeCount,
			)
		case domain.Trade:
			_, execErr = tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO trades (symbol, trade_id, ts, price, quantity, maker)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				rec.Symbol, rec.ID, rec.Timestamp.UnixMilli(),
				rec.Price, rec.Quantity, boolToInt(rec.Maker),
			)
		case domain.FundingRate:
			_, execErr = tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO funding (symbol, ts, rate, mark_price)
				 VALUES (?, ?, ?, ?)`,
				rec.Symbol, rec.Timestamp.UnixMilli(), rec.Rate, rec.MarkPrice,
			)
		default:
			return written, fault.Validation("sqlite.write",
				fmt.Errorf("unsupported record type %T for collection %s", r, col))
		}
		if execErr != nil {
			return written, fault.StorageConnection("sqlite.write", execErr)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fault.StorageConnection("sqlite.write", err)
	}
	return written, nil
}

// WriteBatch writes records in chunks of batchSize, each in its own
// transaction.
func (s *SQLite) WriteBatch(ctx context.Context, col Collection, records []domain.Record, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = len(records)
	}
	total := 0
	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))
		n, err := s.Write(ctx, col, records[i:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// QueryLatest returns up to limit records for a symbol, newest first.
func (s *SQLite) QueryLatest(ctx context.Context, col Collection, symbol string, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 1
	}

	switch col.Series {
	case domain.SeriesCandles:
		rows, err := s.db.QueryContext(ctx,
			`SELECT symbol, interval, open_time, open, high, low, close, volume, quote_volume, trade_count
			 FROM candles WHERE symbol = ? AND interval = ?
			 ORDER BY open_time DESC LIMIT ?`,
			symbol, string(col.Interval), limit,
		)
		if err != nil {
			return nil, fault.StorageConnection("sqlite.query", err)
		}
		defer rows.Close()

		var out []domain.Record
		for rows.Next() {
			var c domain.Candle
			var iv string
			var ms int64
			if err := rows.Scan(&c.Symbol, &iv, &ms, &c.Open, &c.High, &c.Low, &c.Close,
				&c.Volume, &c.QuoteVolume, &c.TradeCount); err != nil {
				return nil, fmt.Errorf("scanning candle: %w", err)
			}
			c.Interval = domain.Interval(iv)
			c.OpenTime = time.UnixMilli(ms).UTC()
			out = append(out, c)
		}
		return out, rows.Err()

	case domain.SeriesTrades:
		rows, err := s.db.QueryContext(ctx,
			`SELECT symbol, trade_id, ts, price, quantity, maker
			 FROM trades WHERE symbol = ? ORDER BY ts DESC LIMIT ?`,
			symbol, limit,
		)
		if err != nil {
			return nil, fault.StorageConnection("sqlite.query", err)
		}
		defer rows.Close()

		var out []domain.Record
		for rows.Next() {
			var t domain.Trade
			var ms int64
			var maker int
			if err := rows.Scan(&t.Symbol, &t.ID, &ms, &t.Price, &t.Quantity, &maker); err != nil {
				return nil, fmt.Errorf("scanning trade: %w", err)
			}
			t.Timestamp = time.UnixMilli(ms).UTC()
			t.Maker = maker != 0
			out = append(out, t)
		}
		return out, rows.Err()

	case domain.SeriesFunding:
		rows, err := s.db.QueryContext(ctx,
			`SELECT symbol, ts, rate, mark_price
			 FROM funding WHERE symbol = ? ORDER BY ts DESC LIMIT ?`,
			symbol, limit,
		)
		if err != nil {
			return nil, fault.StorageConnection("sqlite.query", err)
		}
		defer rows.Close()

		var out []domain.Record
		for rows.Next() {
			var f domain.FundingRate
			var ms int64
			if err := rows.Scan(&f.Symbol, &ms, &f.Rate, &f.MarkPrice); err != nil {
				return nil, fmt.Errorf("scanning funding rate: %w", err)
			}
			f.Timestamp = time.UnixMilli(ms).UTC()
			out = append(out, f)
		}
		return out, rows.Err()
	}
	return nil, fault.Validation("sqlite.query", fmt.Errorf("unknown collection %s", col))
}

// Timestamps returns stored record timestamps for a symbol in [start, end),
// ascending.
func (s *SQLite) Timestamps(ctx context.Context, col Collection, symbol string, start, end time.Time) ([]time.Time, error) {
	table, tsCol, args := s.seriesQuery(col, symbol)
	if table == "" {
		return nil, fault.Validation("sqlite.timestamps", fmt.Errorf("unknown collection %s", col))
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s AND %s >= ? AND %s < ? ORDER BY %s ASC`,
		tsCol, table, args.where, tsCol, tsCol, tsCol,
	)
	qargs := append(args.vals, start.UnixMilli(), end.UnixMilli())
	rows, err := s.db.QueryContext(ctx, query, qargs...)
	if err != nil {
		return nil, fault.StorageConnection("sqlite.timestamps", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scanning timestamp: %w", err)
		}
		out = append(out, time.UnixMilli(ms).UTC())
	}
	return out, rows.Err()
}

// FindGaps runs the shared gap detector over stored timestamps so backend
// and in-core detection cannot disagree.
func (s *SQLite) FindGaps(ctx context.Context, col Collection, symbol string, start, end time.Time, interval, tolerance time.Duration) ([]gaps.Gap, error) {
	ts, err := s.Timestamps(ctx, col, symbol, start, end)
	if err != nil {
		return nil, err
	}
	return gaps.Find(ts, interval, start, end, tolerance), nil
}

// DeleteRange removes a symbol's records in [start, end).
func (s *SQLite) DeleteRange(ctx context.Context, col Collection, symbol string, start, end time.Time) (int64, error) {
	table, tsCol, args := s.seriesQuery(col, symbol)
	if table == "" {
		return 0, fault.Validation("sqlite.delete", fmt.Errorf("unknown collection %s", col))
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE %s AND %s >= ? AND %s < ?`, table, args.where, tsCol, tsCol)
	qargs := append(args.vals, start.UnixMilli(), end.UnixMilli())
	res, err := s.db.ExecContext(ctx, query, qargs...)
	if err != nil {
		return 0, fault.StorageConnection("sqlite.delete", err)
	}
	return res.RowsAffected()
}

type whereClause struct {
	where string
	vals  []any
}

// seriesQuery maps a collection to its table, timestamp column, and symbol
// filter. An empty table name means the collection is unknown.
func (s *SQLite) seriesQuery(col Collection, symbol string) (table, tsCol string, args whereClause) {
	switch col.Series {
	case domain.SeriesCandles:
		return "candles", "open_time", whereClause{
			where: "symbol = ? AND interval = ?",
			vals:  []any{symbol, string(col.Interval)},
		}
	case domain.SeriesTrades:
		return "trades", "ts", whereClause{where: "symbol = ?", vals: []any{symbol}}
	case domain.SeriesFunding:
		return "funding", "ts", whereClause{where: "symbol = ?", vals: []any{symbol}}
	}
	return "", "", whereClause{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
