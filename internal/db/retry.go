package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mescon/InfinityStatus/internal/logger"
)

// isBusy reports whether err is SQLite's "database is locked" condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// ExecWithRetry executes a SQL statement with retry logic for SQLITE_BUSY errors.
// Every writer (event bus, sync store, activity log) goes through here.
func ExecWithRetry(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error

	for attempt := 0; attempt < MaxRetries; attempt++ {
		result, err = db.Exec(query, args...)
		if err == nil {
			return result, nil
		}
		if !isBusy(err) {
			return nil, err
		}

		// Exponential backoff: 100ms, 200ms, 400ms, 800ms
		if attempt < MaxRetries-1 {
			delay := RetryDelay * time.Duration(1<<attempt)
			logger.Debugf("Database busy, retrying in %v (attempt %d/%d)", delay, attempt+1, MaxRetries)
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("database busy after %d retries: %w", MaxRetries, err)
}

// QueryWithRetry executes a query with retry logic for SQLITE_BUSY errors.
func QueryWithRetry(db *sql.DB, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error

	for attempt := 0; attempt < MaxRetries; attempt++ {
		rows, err = db.Query(query, args...)
		if err == nil {
			return rows, nil
		}
		if !isBusy(err) {
			return nil, err
		}

		if attempt < MaxRetries-1 {
			delay := RetryDelay * time.Duration(1<<attempt)
			logger.Debugf("Database busy on query, retrying in %v (attempt %d/%d)", delay, attempt+1, MaxRetries)
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("database busy after %d retries: %w", MaxRetries, err)
}

// WithTxRetry runs fn inside a transaction, retrying the whole transaction while the
// database is busy. fn must be safe to re-run.
func WithTxRetry(db *sql.DB, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		err = runTx(db, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt < MaxRetries-1 {
			delay := RetryDelay * time.Duration(1<<attempt)
			logger.Debugf("Database busy in transaction, retrying in %v (attempt %d/%d)", delay, attempt+1, MaxRetries)
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("database busy after %d retries: %w", MaxRetries, err)
}

func runTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
