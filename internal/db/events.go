package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mescon/InfinityStatus/internal/domain"
)

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	AggregateID string
	EventType   domain.EventType
	Limit       int
	Offset      int
}

// DefaultEventLimit caps ListEvents when no limit is given.
const DefaultEventLimit = 100

// ListEvents returns persisted events, newest first.
func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]domain.Event, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = DefaultEventLimit
	}

	where, args := f.where()
	query := `SELECT id, aggregate_type, aggregate_id, event_type, event_data, event_version, created_at, COALESCE(user_id, '')
		FROM events` + where + " ORDER BY id DESC LIMIT ? OFFSET ?"
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			e    domain.Event
			data sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &data, &e.EventVersion, &e.CreatedAt, &e.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.EventData); err != nil {
				return nil, fmt.Errorf("failed to decode event %d data: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns how many events match f, ignoring Limit and Offset.
func (r *Repository) CountEvents(ctx context.Context, f EventFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (f EventFilter) where() (string, []interface{}) {
	clause := " WHERE 1=1"
	var args []interface{}
	if f.AggregateID != "" {
		clause += " AND aggregate_id = ?"
		args = append(args, f.AggregateID)
	}
	if f.EventType != "" {
		clause += " AND event_type = ?"
		args = append(args, string(f.EventType))
	}
	return clause, args
}
