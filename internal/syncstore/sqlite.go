package syncstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mescon/InfinityStatus/internal/db"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// DefaultDocumentPath is the shared_documents key used when none is configured.
const DefaultDocumentPath = "timers/shared"

// SQLiteStore keeps the document as one row of shared_documents, in the flat layout
// (frame_duration, frame_start_time, ...). Several processes can share the database
// file; each one polls the row version to notice writes made by the others.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	interval time.Duration
	subs     *fanout

	mu       sync.Mutex
	stopPoll chan struct{}
	pollDone chan struct{}
	closed   bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore returns a store over the shared_documents table of conn.
// pollInterval controls how quickly writes from other processes are noticed.
func NewSQLiteStore(conn *sql.DB, path string, pollInterval time.Duration) *SQLiteStore {
	if path == "" {
		path = DefaultDocumentPath
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &SQLiteStore{
		db:       conn,
		path:     path,
		interval: pollInterval,
		subs:     newFanout(),
	}
}

func (s *SQLiteStore) Name() string { return "sqlite:" + s.path }

func (s *SQLiteStore) Read(ctx context.Context) (domain.Document, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	doc, _, err := s.read(ctx, s.db)
	return doc, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) read(ctx context.Context, q queryer) (domain.Document, int64, error) {
	var (
		body    string
		version int64
	)
	err := q.QueryRowContext(ctx, "SELECT body, version FROM shared_documents WHERE path = ?", s.path).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read shared document %s: %w", s.path, err)
	}
	doc, err := decodeFlat([]byte(body))
	if err != nil {
		return nil, 0, fmt.Errorf("shared document %s: %w", s.path, err)
	}
	return doc, version, nil
}

func (s *SQLiteStore) Update(ctx context.Context, patch domain.Document) error {
	return s.update(ctx, patch, nil)
}

// UpdateIf compares inside the write transaction, so the check also holds against
// other processes sharing the database file.
func (s *SQLiteStore) UpdateIf(ctx context.Context, patch, expect domain.Document) error {
	return s.update(ctx, patch, func(cur domain.Document) error {
		return checkExpected(cur, patch, expect)
	})
}

func (s *SQLiteStore) update(ctx context.Context, patch domain.Document, check func(domain.Document) error) error {
	if s.isClosed() {
		return ErrClosed
	}
	err := db.WithTxRetry(s.db, func(tx *sql.Tx) error {
		cur, _, err := s.read(ctx, tx)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(cur); err != nil {
				return err
			}
		}
		body, err := encodeFlat(merge(cur, patch))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE shared_documents SET body = ?, version = version + 1, updated_at = ? WHERE path = ?",
			string(body), time.Now().UTC(), s.path)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("failed to update shared document %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, doc domain.Document) error {
	if s.isClosed() {
		return ErrClosed
	}
	body, err := encodeFlat(doc)
	if err != nil {
		return err
	}
	_, err = db.ExecWithRetry(s.db, `
		INSERT INTO shared_documents (path, body, version, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(path) DO UPDATE SET body = excluded.body, version = shared_documents.version + 1, updated_at = excluded.updated_at
	`, s.path, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write shared document %s: %w", s.path, err)
	}
	return nil
}

// Subscribe starts the version poller on first use.
func (s *SQLiteStore) Subscribe(fn func(domain.Document)) func() {
	cancel := s.subs.subscribe(fn)

	s.mu.Lock()
	if s.stopPoll == nil && !s.closed {
		s.stopPoll = make(chan struct{})
		s.pollDone = make(chan struct{})
		go s.poll(s.stopPoll, s.pollDone)
	}
	s.mu.Unlock()

	return cancel
}

func (s *SQLiteStore) poll(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastVersion int64 = -1
	check := func() {
		if s.subs.count() == 0 {
			return
		}
		var version int64
		err := s.db.QueryRow("SELECT version FROM shared_documents WHERE path = ?", s.path).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		if err != nil {
			logger.Debugf("Sync poll of %s failed: %v", s.path, err)
			return
		}
		if version == lastVersion {
			return
		}
		doc, v, err := s.read(context.Background(), s.db)
		if err != nil {
			logger.Warnf("Sync poll could not read %s: %v", s.path, err)
			return
		}
		lastVersion = v
		s.subs.publish(doc)
	}

	check()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			check()
		}
	}
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopPoll, s.pollDone
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	s.subs.closeAll()
	return nil
}

func encodeFlat(doc domain.Document) ([]byte, error) {
	body, err := json.Marshal(doc.Flatten())
	if err != nil {
		return nil, fmt.Errorf("failed to encode shared document: %w", err)
	}
	return body, nil
}

func decodeFlat(body []byte) (domain.Document, error) {
	var flat map[string]interface{}
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("failed to decode shared document: %w", err)
	}
	return domain.ParseFlatDocument(flat)
}
