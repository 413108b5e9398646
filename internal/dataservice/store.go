// Package dataservice serves household consumption data from SQLite over
// the line protocol in internal/mcp.
package dataservice

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/dayuer/agentbus/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS consumption (
	consumer_id TEXT NOT NULL,
	date TEXT NOT NULL,
	daily_kwh REAL NOT NULL CHECK (daily_kwh >= 0),
	uses_efficient_equipment INTEGER,
	produces_solar INTEGER
);
CREATE INDEX IF NOT EXISTS idx_consumption_consumer ON consumption (consumer_id);
CREATE INDEX IF NOT EXISTS idx_consumption_date ON consumption (date);
`

// Record is one day of consumption for one household.
type Record struct {
	ConsumerID             string  `json:"consumer_id"`
	Date                   string  `json:"date"`
	DailyKwh               float64 `json:"daily_kwh"`
	UsesEfficientEquipment bool    `json:"uses_efficient_equipment"`
	ProducesSolar          bool    `json:"produces_solar"`
}

// Summary aggregates a household's records.
type Summary struct {
	ConsumerID             string  `json:"consumer_id"`
	AvgKwh                 float64 `json:"avg_kwh"`
	UsesEfficientEquipment bool    `json:"uses_efficient_equipment"`
	ProducesSolar          bool    `json:"produces_solar"`
}

// Store is a pooled SQLite handle on the consumption database.
type Store struct {
	pool *sqlitex.Pool
	path string
	log  zerolog.Logger
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("dataservice: database path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("dataservice: create %s: %w", dir, err)
		}
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    4,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("dataservice: open %s: %w", path, err)
	}

	s := &Store{
		pool: pool,
		path: path,
		log:  logging.Component(log, "store").With().Str("path", path).Logger(),
	}
	if err := s.exec(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	}); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("dataservice: create schema: %w", err)
	}
	s.log.Debug().Msg("database opened")
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes every pooled connection.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("dataservice: close %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("dataservice: take connection: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// Insert writes records in a single transaction.
func (s *Store) Insert(ctx context.Context, records []Record) error {
	return s.write(ctx, false, records)
}

// Replace deletes every record and writes records in its place. Either
// both happen or neither does.
func (s *Store) Replace(ctx context.Context, records []Record) error {
	return s.write(ctx, true, records)
}

func (s *Store) write(ctx context.Context, reset bool, records []Record) error {
	return s.exec(ctx, func(conn *sqlite.Conn) (err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("dataservice: begin transaction: %w", err)
		}
		defer endTransaction(&err)

		if reset {
			if err = sqlitex.Execute(conn, "DELETE FROM consumption", nil); err != nil {
				return fmt.Errorf("dataservice: clear records: %w", err)
			}
		}
		for _, r := range records {
			err = sqlitex.Execute(conn,
				"INSERT INTO consumption VALUES (?, ?, ?, ?, ?)",
				&sqlitex.ExecOptions{Args: []any{
					r.ConsumerID, r.Date, r.DailyKwh,
					boolInt(r.UsesEfficientEquipment), boolInt(r.ProducesSolar),
				}})
			if err != nil {
				return fmt.Errorf("dataservice: insert %s/%s: %w", r.ConsumerID, r.Date, err)
			}
		}
		return nil
	})
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT COUNT(*) FROM consumption", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	return n, err
}

// ConsumerSummary averages daily usage per household, rounded to two
// decimals. A household counts as efficient or solar if any of its
// records says so.
func (s *Store) ConsumerSummary(ctx context.Context) ([]Summary, error) {
	const query = `
		SELECT consumer_id, AVG(daily_kwh), MAX(uses_efficient_equipment), MAX(produces_solar)
		FROM consumption
		GROUP BY consumer_id
		ORDER BY consumer_id`

	out := []Summary{}
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, Summary{
					ConsumerID:             stmt.ColumnText(0),
					AvgKwh:                 round2(stmt.ColumnFloat(1)),
					UsesEfficientEquipment: stmt.ColumnInt(2) != 0,
					ProducesSolar:          stmt.ColumnInt(3) != 0,
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dataservice: consumer summary: %w", err)
	}
	return out, nil
}

// RecentRecords returns up to n records, newest date first.
func (s *Store) RecentRecords(ctx context.Context, n int) ([]Record, error) {
	const query = `
		SELECT consumer_id, date, daily_kwh, uses_efficient_equipment, produces_solar
		FROM consumption
		ORDER BY date DESC, consumer_id
		LIMIT ?`

	out := []Record{}
	err := s.exec(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{n},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, Record{
					ConsumerID:             stmt.ColumnText(0),
					Date:                   stmt.ColumnText(1),
					DailyKwh:               stmt.ColumnFloat(2),
					UsesEfficientEquipment: stmt.ColumnInt(3) != 0,
					ProducesSolar:          stmt.ColumnInt(4) != 0,
				})
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dataservice: recent records: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
