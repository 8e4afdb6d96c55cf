package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/InfinityStatus/internal/clock"
)

type fakePersister struct {
	mu      sync.Mutex
	count   int64
	entries []Entry
	saveErr error
}

func (f *fakePersister) LoadActivity(_ context.Context, limit int) (int64, []Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, append([]Entry(nil), f.entries...), nil
}

func (f *fakePersister) SaveActivity(_ context.Context, count int64, e Entry, keep int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.count = count
	f.entries = append(f.entries, e)
	if len(f.entries) > keep {
		f.entries = f.entries[len(f.entries)-keep:]
	}
	return nil
}

func TestBoard_IncrementDecrement(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))
	b := NewBoard(clk, nil)
	ctx := context.Background()

	snap, err := b.Increment(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Count)

	b.Increment(ctx)
	snap, err = b.Decrement(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Count)

	require.Len(t, snap.Entries, 3)
	assert.Equal(t, "Counter incremented to 1", snap.Entries[0].Message)
	assert.Equal(t, "Counter decremented to 1", snap.Entries[2].Message)
	assert.Equal(t, "[09:30:00] Counter incremented to 1", snap.Entries[0].String())
	assert.NotEmpty(t, snap.Entries[0].ID)
}

func TestBoard_CounterMayGoNegative(t *testing.T) {
	b := NewBoard(nil, nil)
	b.Decrement(context.Background())
	assert.Equal(t, int64(-1), b.Count())
}

func TestBoard_AppendLog(t *testing.T) {
	b := NewBoard(nil, nil)

	_, err := b.AppendLog(context.Background(), "")
	assert.Error(t, err)

	snap, err := b.AppendLog(context.Background(), "Frame timer finished")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Count)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "Frame timer finished", snap.Entries[0].Message)
}

func TestBoard_LogCapacity(t *testing.T) {
	b := NewBoard(nil, nil)
	ctx := context.Background()

	for i := 0; i < LogCapacity+7; i++ {
		_, err := b.AppendLog(ctx, fmt.Sprintf("entry %d", i))
		require.NoError(t, err)
	}

	entries := b.Entries()
	require.Len(t, entries, LogCapacity)
	assert.Equal(t, "entry 7", entries[0].Message, "oldest entries are evicted first")
	assert.Equal(t, fmt.Sprintf("entry %d", LogCapacity+6), entries[LogCapacity-1].Message)
}

func TestBoard_Concurrent(t *testing.T) {
	b := NewBoard(nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); b.Increment(ctx) }()
		go func() { defer wg.Done(); b.Decrement(ctx) }()
	}
	wg.Wait()

	assert.Equal(t, int64(0), b.Count())
	assert.Len(t, b.Entries(), LogCapacity)
}

func TestBoard_Persistence(t *testing.T) {
	ctx := context.Background()
	store := &fakePersister{}

	b := NewBoard(nil, store)
	b.Increment(ctx)
	b.Increment(ctx)
	b.AppendLog(ctx, "hello")

	restored := NewBoard(nil, store)
	require.NoError(t, restored.Load(ctx))
	assert.Equal(t, int64(2), restored.Count())
	assert.Len(t, restored.Entries(), 3)
}

func TestBoard_SaveFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &fakePersister{saveErr: errors.New("disk full")}
	b := NewBoard(nil, store)

	_, err := b.Increment(ctx)
	assert.Error(t, err)
	assert.Equal(t, int64(0), b.Count())
	assert.Empty(t, b.Entries())
}
