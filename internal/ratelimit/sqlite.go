package ratelimit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the persistent Store of spec.md §6: a single database file
// at the dsn passed to NewSQLiteStore, holding one table keyed uniquely on
// (url, referrer). Grounded on the corpus's SQLiteStore, adapted from a
// bucket-key increment to the continuous sliding-window algorithm.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dsn and ensures
// the meter table exists. Use ":memory:" for tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: open sqlite: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meter_rows (
			id            TEXT NOT NULL,
			url           TEXT NOT NULL,
			referrer      TEXT NOT NULL,
			count         INTEGER NOT NULL DEFAULT 0,
			rate          INTEGER NOT NULL DEFAULT 0,
			time          REAL NOT NULL DEFAULT 0,
			total         INTEGER NOT NULL DEFAULT 0,
			rejected      INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (url, referrer)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ratelimit: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Admit(ctx context.Context, url, referrer string, rateLimit int64, windowSeconds float64, now float64) (MeterRow, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MeterRow{}, false, err
	}
	defer tx.Rollback()

	row := MeterRow{URL: url, Referrer: referrer, RateLimit: rateLimit}
	err = tx.QueryRowContext(ctx,
		`SELECT id, count, time, total, rejected FROM meter_rows WHERE url = ? AND referrer = ?`, url, referrer,
	).Scan(&row.ID, &row.WindowCount, &row.WindowStart, &row.Total, &row.Rejected)

	switch {
	case err == sql.ErrNoRows:
		row.ID = NewRowID()
	case err != nil:
		return MeterRow{}, false, err
	}

	next, admitted := applyAdmission(row, rateLimit, windowSeconds, now)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meter_rows (id, url, referrer, count, rate, time, total, rejected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, referrer) DO UPDATE SET
			count = excluded.count,
			rate = excluded.rate,
			time = excluded.time,
			total = excluded.total,
			rejected = excluded.rejected
	`, next.ID, next.URL, next.Referrer, next.WindowCount, next.RateLimit, next.WindowStart, next.Total, next.Rejected)
	if err != nil {
		return MeterRow{}, false, err
	}

	return next, admitted, tx.Commit()
}

func (s *SQLiteStore) Seed(ctx context.Context, url, referrer string, rateLimit int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meter_rows (id, url, referrer, count, rate, time, total, rejected)
		VALUES (?, ?, ?, 0, ?, 0, 0, 0)
		ON CONFLICT(url, referrer) DO NOTHING
	`, NewRowID(), url, referrer, rateLimit)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, url, referrer string) (MeterRow, bool, error) {
	row := MeterRow{URL: url, Referrer: referrer}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, count, rate, time, total, rejected FROM meter_rows WHERE url = ? AND referrer = ?`, url, referrer,
	).Scan(&row.ID, &row.WindowCount, &row.RateLimit, &row.WindowStart, &row.Total, &row.Rejected)
	if err == sql.ErrNoRows {
		return MeterRow{}, false, nil
	}
	if err != nil {
		return MeterRow{}, false, err
	}
	return row, true, nil
}

func (s *SQLiteStore) All(ctx context.Context) ([]MeterRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url, referrer, count, rate, time, total, rejected FROM meter_rows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MeterRow
	for rows.Next() {
		var row MeterRow
		if err := rows.Scan(&row.ID, &row.URL, &row.Referrer, &row.WindowCount, &row.RateLimit, &row.WindowStart, &row.Total, &row.Rejected); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM meter_rows`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
