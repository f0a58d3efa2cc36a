// Package shiftlog archives shift start/end events in Postgres. The
// archive is optional; the engine works without a database and the
// store-side shift_logs collection is written independently.
package shiftlog

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Entry is one shift lifecycle event.
type Entry struct {
	Type       string    `json:"type"` // START or END
	DriverID   string    `json:"driverId"`
	DriverName string    `json:"driverName"`
	Company    string    `json:"company"`
	At         time.Time `json:"time"`
}

const (
	TypeStart = "START"
	TypeEnd   = "END"
)

// Archive writes shift log entries to Postgres.
type Archive struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the shift_logs table exists.
func Open(ctx context.Context, dsn string) (*Archive, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	const schema = `
CREATE TABLE IF NOT EXISTS shift_logs (
    id          BIGSERIAL PRIMARY KEY,
    type        TEXT NOT NULL,
    driver_id   TEXT NOT NULL,
    driver_name TEXT NOT NULL,
    company     TEXT NOT NULL,
    logged_at   TIMESTAMPTZ NOT NULL
)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db}, nil
}

// Record inserts one entry.
func (a *Archive) Record(ctx context.Context, e Entry) error {
	const q = `INSERT INTO shift_logs (type, driver_id, driver_name, company, logged_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := a.db.ExecContext(ctx, q, e.Type, e.DriverID, e.DriverName, e.Company, e.At)
	return err
}

// Recent returns the newest entries for a company, most recent first.
func (a *Archive) Recent(ctx context.Context, company string, limit int) ([]Entry, error) {
	const q = `SELECT type, driver_id, driver_name, company, logged_at
FROM shift_logs WHERE company = $1 ORDER BY logged_at DESC LIMIT $2`
	rows, err := a.db.QueryContext(ctx, q, company, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Type, &e.DriverID, &e.DriverName, &e.Company, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (a *Archive) Close() error { return a.db.Close() }
