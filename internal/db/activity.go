package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mescon/InfinityStatus/internal/activity"
)

const activityCounterKey = "activity_counter"

var _ activity.Persister = (*Repository)(nil)

// LoadActivity returns the stored counter and up to limit most recent log entries,
// oldest first.
func (r *Repository) LoadActivity(ctx context.Context, limit int) (int64, []activity.Entry, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", activityCounterKey).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("failed to read counter: %w", err)
	}
	var count int64
	if raw != "" {
		count, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid stored counter %q: %w", raw, err)
		}
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, message, created_at FROM (
			SELECT seq, id, message, created_at FROM activity_log ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, limit)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query activity log: %w", err)
	}
	defer rows.Close()

	var entries []activity.Entry
	for rows.Next() {
		var e activity.Entry
		if err := rows.Scan(&e.ID, &e.Message, &e.CreatedAt); err != nil {
			return 0, nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entries = append(entries, e)
	}
	return count, entries, rows.Err()
}

// SaveActivity stores the counter value and appends entry, trimming the log to keep rows.
func (r *Repository) SaveActivity(ctx context.Context, count int64, entry activity.Entry, keep int) error {
	return WithTxRetry(r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, activityCounterKey, strconv.FormatInt(count, 10), time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to store counter: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO activity_log (id, message, created_at) VALUES (?, ?, ?)",
			entry.ID, entry.Message, entry.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to append activity entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM activity_log WHERE seq NOT IN (
				SELECT seq FROM activity_log ORDER BY seq DESC LIMIT ?
			)
		`, keep); err != nil {
			return fmt.Errorf("failed to trim activity log: %w", err)
		}
		return nil
	})
}
