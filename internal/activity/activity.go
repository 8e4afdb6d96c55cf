// Package activity implements the shared counter and its bounded log of recent events.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mescon/InfinityStatus/internal/clock"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// LogCapacity is how many log entries are retained; older entries are evicted first.
const LogCapacity = 50

// Entry is one timestamped log line.
type Entry struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// String renders the entry the way it is shown to viewers.
func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.CreatedAt.Format("15:04:05"), e.Message)
}

// Snapshot is the counter value plus the retained log, oldest first.
type Snapshot struct {
	Count   int64   `json:"count"`
	Entries []Entry `json:"entries"`
}

// Persister stores the board so it survives restarts. Implemented by db.Repository.
type Persister interface {
	LoadActivity(ctx context.Context, limit int) (int64, []Entry, error)
	SaveActivity(ctx context.Context, count int64, entry Entry, keep int) error
}

// Board is the counter and log. All methods are safe for concurrent use.
type Board struct {
	mu      sync.Mutex
	clock   clock.Clock
	store   Persister
	count   int64
	entries []Entry
}

// NewBoard returns an empty board. store may be nil.
func NewBoard(clk clock.Clock, store Persister) *Board {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Board{clock: clk, store: store}
}

// Load restores the counter and log from the persister, if any.
func (b *Board) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	count, entries, err := b.store.LoadActivity(ctx, LogCapacity)
	if err != nil {
		return fmt.Errorf("failed to load activity: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.count = count
	b.entries = trim(entries)
	return nil
}

// Increment adds one to the counter and logs it.
func (b *Board) Increment(ctx context.Context) (Snapshot, error) {
	return b.mutate(ctx, 1, "Counter incremented")
}

// Decrement subtracts one from the counter and logs it.
func (b *Board) Decrement(ctx context.Context) (Snapshot, error) {
	return b.mutate(ctx, -1, "Counter decremented")
}

// AppendLog records a free-form message without touching the counter.
func (b *Board) AppendLog(ctx context.Context, message string) (Snapshot, error) {
	if message == "" {
		return Snapshot{}, fmt.Errorf("log message must not be empty")
	}
	return b.mutate(ctx, 0, message)
}

func (b *Board) mutate(ctx context.Context, delta int64, message string) (Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.count + delta
	if delta != 0 {
		message = fmt.Sprintf("%s to %d", message, count)
	}
	entry := Entry{
		ID:        uuid.New().String(),
		Message:   message,
		CreatedAt: b.clock.Now(),
	}

	if b.store != nil {
		if err := b.store.SaveActivity(ctx, count, entry, LogCapacity); err != nil {
			return Snapshot{}, fmt.Errorf("failed to save activity: %w", err)
		}
	}

	b.count = count
	b.entries = trim(append(b.entries, entry))
	logger.Debugf("Activity: %s", entry.Message)
	return b.snapshotLocked(), nil
}

// Count returns the counter value.
func (b *Board) Count() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Entries returns the retained log, oldest first.
func (b *Board) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

// Snapshot returns the counter and log together.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Board) snapshotLocked() Snapshot {
	return Snapshot{
		Count:   b.count,
		Entries: append([]Entry(nil), b.entries...),
	}
}

func trim(entries []Entry) []Entry {
	if over := len(entries) - LogCapacity; over > 0 {
		// Copy so the evicted prefix can be collected.
		entries = append([]Entry(nil), entries[over:]...)
	}
	return entries
}
