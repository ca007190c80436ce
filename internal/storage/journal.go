// Package storage keeps a local journal of failed remote calls in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"accusim/internal/log"
	"accusim/internal/remote"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is a journaled failure.
type Entry struct {
	ID int64
	remote.Failure
}

type Journal struct {
	db     *sql.DB
	logger *log.Logger
}

func OpenJournal(dbPath string, logger *log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer; failures are reported from several goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateJournal(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Journal{db: db, logger: logger.WithComponent(log.ComponentStorage)}, nil
}

func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Record stores f.
func (j *Journal) Record(ctx context.Context, f remote.Failure) (int64, error) {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO failures (occurred_at, view, endpoint, method, url, kind, status, date_range, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UTC().Format(timeLayout),
		f.View, string(f.Endpoint), f.Method, f.URL, string(f.Kind), f.Status, f.Range, f.Message,
	)
	if err != nil {
		return 0, fmt.Errorf("insert failure: %w", err)
	}
	return res.LastInsertId()
}

// ReportFailure journals f. Storage errors are logged and never returned to the caller.
func (j *Journal) ReportFailure(ctx context.Context, f remote.Failure) {
	// The request that failed may already be cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if _, err := j.Record(ctx, f); err != nil {
		j.logger.ErrorContext(ctx, "Failed to journal remote failure",
			log.FieldError, err,
			log.FieldEndpoint, string(f.Endpoint))
	}
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, occurred_at, view, endpoint, method, url, kind, status, date_range, message
		FROM failures
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			at       string
			endpoint string
			kind     string
		)
		if err := rows.Scan(&e.ID, &at, &e.View, &endpoint, &e.Method, &e.URL, &kind, &e.Status, &e.Range, &e.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		e.At, err = time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at %q: %w", at, err)
		}
		e.Endpoint = remote.Endpoint(endpoint)
		e.Kind = remote.ErrorKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count failures: %w", err)
	}
	return n, nil
}

// Prune deletes entries older than cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM failures WHERE occurred_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune failures: %w", err)
	}
	return res.RowsAffected()
}

// RunPruner deletes entries older than retention on every tick until ctx is
// cancelled. It always returns nil.
func (j *Journal) RunPruner(ctx context.Context, retention, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := j.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				j.logger.Warn("Failed to prune failure journal", log.FieldError, err)
				continue
			}
			if n > 0 {
				j.logger.Debug("Pruned failure journal", log.FieldCount, n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
