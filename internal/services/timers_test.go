package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/InfinityStatus/internal/clock"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/registry"
	"github.com/mescon/InfinityStatus/internal/syncstore"
	"github.com/mescon/InfinityStatus/internal/testutil"
)

type serviceFixture struct {
	svc   *TimerService
	clock *clock.MockClock
	bus   *testutil.MockEventBus
}

func newLocalService(t *testing.T) serviceFixture {
	t.Helper()
	clk := clock.NewMockClock(testutil.Epoch)
	bus := testutil.NewMockEventBus()
	svc := NewTimerService(registry.New(clk), nil, bus, testutil.DefaultPresets())
	require.NoError(t, svc.Open(context.Background()))
	return serviceFixture{svc: svc, clock: clk, bus: bus}
}

// interleavingStore runs beforeWrite once, just before the next conditional write
// reaches the store, to let another writer land in between.
type interleavingStore struct {
	syncstore.Store

	mu          sync.Mutex
	beforeWrite func()
}

func (s *interleavingStore) UpdateIf(ctx context.Context, patch, expect domain.Document) error {
	s.mu.Lock()
	hook := s.beforeWrite
	s.beforeWrite = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s.Store.UpdateIf(ctx, patch, expect)
}

func (s *interleavingStore) onNextWrite(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeWrite = fn
}

func newSharedService(t *testing.T, store syncstore.Store, clk *clock.MockClock) serviceFixture {
	t.Helper()
	bus := testutil.NewMockEventBus()
	svc := NewTimerService(registry.New(clk), store, bus, testutil.DefaultPresets())
	require.NoError(t, svc.Open(context.Background()))
	t.Cleanup(svc.Close)
	return serviceFixture{svc: svc, clock: clk, bus: bus}
}

// =============================================================================
// Local mode
// =============================================================================

func TestTimerService_Local_PresetsCreated(t *testing.T) {
	f := newLocalService(t)

	assert.Equal(t, []string{"frame", "twelve"}, f.svc.Registry().IDs())
	assert.False(t, f.svc.Synced())
	assert.Equal(t, "local", f.svc.StoreName())

	r, err := f.svc.Read(context.Background(), "frame")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, r.Remaining)
	assert.False(t, r.Running)
}

func TestTimerService_Local_ControlPublishesEvents(t *testing.T) {
	f := newLocalService(t)
	ctx := WithSource(context.Background(), "homekit")

	st, err := f.svc.Start(ctx, "frame")
	require.NoError(t, err)
	assert.True(t, st.Running)

	// Already running: no change, no event.
	_, err = f.svc.Start(ctx, "frame")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	st, err = f.svc.Stop(ctx, "frame")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, st.PausedOffset)

	_, err = f.svc.Reset(ctx, "frame")
	require.NoError(t, err)
	_, err = f.svc.Restart(ctx, "frame")
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.TimerStarted, domain.TimerStopped, domain.TimerReset, domain.TimerRestarted,
	}, f.bus.EventTypes())

	data, ok := f.bus.LastEvent().ParseTimerEventData()
	require.True(t, ok)
	assert.Equal(t, "frame", data.TimerID)
	assert.Equal(t, "homekit", data.Source)
	assert.True(t, data.Running)
}

func TestTimerService_Local_UnknownTimer(t *testing.T) {
	f := newLocalService(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "nope")
	assert.ErrorIs(t, err, ErrTimerNotFound)
	_, err = f.svc.Read(ctx, "nope")
	assert.ErrorIs(t, err, ErrTimerNotFound)
	assert.Empty(t, f.bus.GetAllEvents())

	// The registry itself stays silent.
	assert.False(t, f.svc.Registry().Read("nope").Found)
	assert.Equal(t, []string{"frame", "twelve"}, f.svc.Registry().IDs())
}

func TestTimerService_Local_SetDuration(t *testing.T) {
	f := newLocalService(t)
	ctx := context.Background()

	_, err := f.svc.SetDuration(ctx, "frame", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)
	st, _ := f.svc.Registry().State("frame")
	assert.Equal(t, 90*time.Second, st.Duration)

	st, err = f.svc.SetDuration(ctx, "frame", 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, st.Duration)
	assert.False(t, st.Running)
	assert.Equal(t, 1, f.bus.EventCount(domain.TimerDurationChanged))
}

func TestTimerService_Local_Create(t *testing.T) {
	f := newLocalService(t)
	ctx := context.Background()

	st, created, err := f.svc.Create(ctx, "tea", "Tea", 3*time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Tea", st.Name)

	_, created, err = f.svc.Create(ctx, "tea", "Other", time.Minute)
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = f.svc.Create(ctx, "bad", "Bad", -time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidDuration)

	// "a_paused" would read back as the paused offset of timer "a".
	_, _, err = f.svc.Create(ctx, "a_paused", "A", time.Minute)
	assert.ErrorIs(t, err, domain.ErrInvalidTimerID)
	assert.Equal(t, 1, f.bus.EventCount(domain.TimerCreated))
}

func TestTimerService_Local_ReadAllPublishesCycleCompleted(t *testing.T) {
	f := newLocalService(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "twelve")
	require.NoError(t, err)
	f.clock.Advance(150 * time.Second)

	readings := f.svc.ReadAll(ctx)
	require.Len(t, readings, 2)
	assert.Equal(t, 30*time.Second, readings[1].Remaining)
	assert.Equal(t, int64(2), readings[1].Cycles)

	events := f.bus.GetEvents(domain.TimerCycleCompleted)
	require.Len(t, events, 1)
	data, _ := events[0].ParseTimerEventData()
	assert.Equal(t, int64(2), data.Cycles)
	assert.Equal(t, int64(2), data.CyclesAdded)

	// Second read in the same cycle publishes nothing new.
	f.svc.ReadAll(ctx)
	assert.Len(t, f.bus.GetEvents(domain.TimerCycleCompleted), 1)
}

func TestTimerService_Local_Synchronize(t *testing.T) {
	f := newLocalService(t)
	ctx := context.Background()

	f.svc.Start(ctx, "frame")
	f.clock.Advance(40 * time.Second)

	states, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	for _, st := range states {
		assert.True(t, st.Running)
		assert.WithinDuration(t, f.clock.Now(), st.AnchorTime, 0)
		assert.Zero(t, st.Cycles)
	}
	assert.Equal(t, 1, f.bus.EventCount(domain.TimersSynchronized))
}

// =============================================================================
// Shared mode
// =============================================================================

func TestTimerService_Shared_BootstrapCreatesDocument(t *testing.T) {
	store := syncstore.NewMemoryStore()
	newSharedService(t, store, clock.NewMockClock(testutil.Epoch))

	doc, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"frame", "twelve"}, doc.IDs())
	assert.Equal(t, 90.0, doc["frame"].Duration)
	assert.Equal(t, testutil.Epoch.UnixMilli(), doc["frame"].StartTime)
}

func TestTimerService_Shared_BootstrapAdoptsExisting(t *testing.T) {
	store := syncstore.NewMemoryStore()
	existing := testutil.DocumentOf(testutil.NewTimer("frame", 45*time.Second, testutil.Running(), testutil.WithCycles(7)))
	require.NoError(t, store.Put(context.Background(), existing))

	f := newSharedService(t, store, clock.NewMockClock(testutil.Epoch))

	st, ok := f.svc.Registry().State("frame")
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, st.Duration)
	assert.Equal(t, int64(7), st.Cycles)

	// The missing preset is added without touching the existing record.
	doc, _ := store.Read(context.Background())
	assert.Equal(t, []string{"frame", "twelve"}, doc.IDs())
	assert.Equal(t, int64(7), doc["frame"].Cycles)
}

func TestTimerService_Shared_ControlWritesRecord(t *testing.T) {
	store := syncstore.NewMemoryStore()
	f := newSharedService(t, store, clock.NewMockClock(testutil.Epoch))
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "frame")
	require.NoError(t, err)

	doc, _ := store.Read(ctx)
	assert.True(t, doc["frame"].Running)
	assert.False(t, doc["twelve"].Running)
	assert.Equal(t, 1, f.bus.EventCount(domain.TimerStarted))
}

func TestTimerService_Shared_TwoViewersConverge(t *testing.T) {
	store := syncstore.NewMemoryStore()
	clk := clock.NewMockClock(testutil.Epoch)
	a := newSharedService(t, store, clk)
	b := newSharedService(t, store, clk)
	ctx := context.Background()

	_, err := a.svc.Start(ctx, "frame")
	require.NoError(t, err)

	// b picks the change up through its subscription.
	assert.Eventually(t, func() bool {
		st, _ := b.svc.Registry().State("frame")
		return st.Running
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return b.bus.EventCount(domain.TimersAdopted) > 0
	}, 2*time.Second, 5*time.Millisecond)

	// b's control action starts from the latest document, not its cache.
	clk.Advance(20 * time.Second)
	st, err := b.svc.Stop(ctx, "frame")
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, st.PausedOffset)

	r, err := a.svc.Start(ctx, "frame")
	require.NoError(t, err)
	assert.WithinDuration(t, clk.Now().Add(-20*time.Second), r.AnchorTime, 0)
}

func TestTimerService_Shared_OwnWritesDoNotAdopt(t *testing.T) {
	store := syncstore.NewMemoryStore()
	f := newSharedService(t, store, clock.NewMockClock(testutil.Epoch))

	_, err := f.svc.Start(context.Background(), "frame")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, f.bus.EventCount(domain.TimersAdopted))
}

func TestTimerService_Shared_MissingDocumentFallsBackToOverwrite(t *testing.T) {
	store := syncstore.NewMemoryStore()
	f := newSharedService(t, store, clock.NewMockClock(testutil.Epoch))
	ctx := context.Background()

	store.Delete()

	_, err := f.svc.Start(ctx, "twelve")
	require.NoError(t, err)

	doc, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame", "twelve"}, doc.IDs(), "full document rewritten")
	assert.True(t, doc["twelve"].Running)
}

func TestTimerService_Shared_StoreFailure(t *testing.T) {
	store := syncstore.NewMemoryStore()
	f := newSharedService(t, store, clock.NewMockClock(testutil.Epoch))
	ctx := context.Background()

	store.FailWith = errors.New("connection refused")

	_, err := f.svc.Start(ctx, "frame")
	assert.ErrorIs(t, err, ErrSyncUnavailable)

	st, _ := f.svc.Registry().State("frame")
	assert.False(t, st.Running, "cache must not change when the write fails")
	assert.Equal(t, 1, f.bus.EventCount(domain.SyncFailed))
	assert.Zero(t, f.bus.EventCount(domain.TimerStarted))

	_, err = f.svc.Synchronize(ctx)
	assert.ErrorIs(t, err, ErrSyncUnavailable)
}

func TestTimerService_Shared_CatchUpWrittenBack(t *testing.T) {
	store := syncstore.NewMemoryStore()
	clk := clock.NewMockClock(testutil.Epoch)
	f := newSharedService(t, store, clk)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, "frame")
	require.NoError(t, err)
	clk.Advance(95 * time.Second)

	r, err := f.svc.Read(ctx, "frame")
	require.NoError(t, err)
	assert.True(t, r.JustFinished)
	assert.Equal(t, 85*time.Second, r.Remaining)

	doc, _ := store.Read(ctx)
	assert.Equal(t, int64(1), doc["frame"].Cycles)
	assert.Equal(t, testutil.Epoch.Add(90*time.Second).UnixMilli(), doc["frame"].StartTime)

	// Re-reading does not count the same cycle again.
	r, _ = f.svc.Read(ctx, "frame")
	assert.False(t, r.JustFinished)
	assert.Equal(t, 1, f.bus.EventCount(domain.TimerCycleCompleted))
}

func TestTimerService_Shared_SynchronizeOverwritesDocument(t *testing.T) {
	store := syncstore.NewMemoryStore()
	clk := clock.NewMockClock(testutil.Epoch)
	f := newSharedService(t, store, clk)
	ctx := context.Background()

	clk.Advance(10 * time.Second)
	_, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)

	doc, _ := store.Read(ctx)
	for _, id := range doc.IDs() {
		assert.True(t, doc[id].Running)
		assert.Equal(t, clk.Now().UnixMilli(), doc[id].StartTime)
	}
}

func TestTimerService_Shared_Create(t *testing.T) {
	store := syncstore.NewMemoryStore()
	f := newSharedService(t, store, clock.NewMockClock(testutil.Epoch))
	ctx := context.Background()

	_, created, err := f.svc.Create(ctx, "tea", "Tea", 3*time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	doc, _ := store.Read(ctx)
	assert.Equal(t, 180.0, doc["tea"].Duration)
	assert.Equal(t, "Tea", doc["tea"].Name)

	_, created, err = f.svc.Create(ctx, "tea", "Tea", time.Minute)
	require.NoError(t, err)
	assert.False(t, created)
}

// =============================================================================
// Shared mode: concurrent writers
// =============================================================================

func TestTimerService_Shared_CatchUpDoesNotOverwriteRemoteStop(t *testing.T) {
	store := syncstore.NewMemoryStore()
	clk := clock.NewMockClock(testutil.Epoch)
	a := newSharedService(t, store, clk)
	wrapped := &interleavingStore{Store: store}
	b := newSharedService(t, wrapped, clk)
	ctx := context.Background()

	_, err := a.svc.Restart(ctx, "twelve")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := b.svc.Registry().State("twelve")
		return st.Running
	}, 2*time.Second, 5*time.Millisecond)
	clk.Advance(150 * time.Second)

	// a stops the timer after b has read the running record but before b's
	// catch-up reaches the store.
	wrapped.onNextWrite(func() {
		_, err := a.svc.Stop(ctx, "twelve")
		require.NoError(t, err)
	})

	r, err := b.svc.Read(ctx, "twelve")
	require.NoError(t, err)
	assert.False(t, r.Running, "b reports the stopped timer")

	doc, err := store.Read(ctx)
	require.NoError(t, err)
	assert.False(t, doc["twelve"].Running, "a's stop survives b's catch-up")
	assert.Equal(t, int64(2), doc["twelve"].Cycles)
	assert.Equal(t, 30.0, doc["twelve"].PausedOffset)

	st, _ := b.svc.Registry().State("twelve")
	assert.False(t, st.Running)
	assert.Equal(t, 30*time.Second, st.PausedOffset)
}

func TestTimerService_Shared_ControlReappliedAfterRemoteChange(t *testing.T) {
	store := syncstore.NewMemoryStore()
	clk := clock.NewMockClock(testutil.Epoch)
	a := newSharedService(t, store, clk)
	wrapped := &interleavingStore{Store: store}
	b := newSharedService(t, wrapped, clk)
	ctx := context.Background()

	_, err := a.svc.Start(ctx, "frame")
	require.NoError(t, err)
	clk.Advance(40 * time.Second)

	// a changes the duration while b is stopping the old record.
	wrapped.onNextWrite(func() {
		_, err := a.svc.SetDuration(ctx, "frame", 2*time.Minute)
		require.NoError(t, err)
	})

	st, err := b.svc.Stop(ctx, "frame")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, st.Duration, "stop applied on top of the new duration")
	assert.False(t, st.Running)

	doc, _ := store.Read(ctx)
	assert.Equal(t, 120.0, doc["frame"].Duration)
	assert.False(t, doc["frame"].Running)
	assert.Equal(t, int64(0), doc["frame"].Cycles)
}

func TestTimerService_Shared_CreateRacesRemoteCreate(t *testing.T) {
	store := syncstore.NewMemoryStore()
	clk := clock.NewMockClock(testutil.Epoch)
	a := newSharedService(t, store, clk)
	wrapped := &interleavingStore{Store: store}
	b := newSharedService(t, wrapped, clk)
	ctx := context.Background()

	wrapped.onNextWrite(func() {
		_, created, err := a.svc.Create(ctx, "tea", "Green Tea", 3*time.Minute)
		require.NoError(t, err)
		require.True(t, created)
	})

	st, created, err := b.svc.Create(ctx, "tea", "Black Tea", 4*time.Minute)
	require.NoError(t, err)
	assert.False(t, created, "a created it first")
	assert.Equal(t, "Green Tea", st.Name)

	doc, _ := store.Read(ctx)
	assert.Equal(t, 180.0, doc["tea"].Duration)
	assert.Zero(t, b.bus.EventCount(domain.TimerCreated))
}

func TestTimerService_Shared_PersistentConflictIsSyncFailure(t *testing.T) {
	store := syncstore.NewMemoryStore()
	f := newSharedService(t, &alwaysConflictStore{Store: store}, clock.NewMockClock(testutil.Epoch))

	_, err := f.svc.Start(context.Background(), "frame")
	assert.ErrorIs(t, err, ErrSyncUnavailable)
	assert.ErrorIs(t, err, syncstore.ErrConflict)

	st, _ := f.svc.Registry().State("frame")
	assert.False(t, st.Running)
	assert.Equal(t, 1, f.bus.EventCount(domain.SyncFailed))
}

type alwaysConflictStore struct {
	syncstore.Store
}

func (alwaysConflictStore) UpdateIf(context.Context, domain.Document, domain.Document) error {
	return syncstore.ErrConflict
}
