package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/InfinityStatus/internal/clock"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/registry"
	"github.com/mescon/InfinityStatus/internal/testutil"
)

func TestPoller_TickRendersViews(t *testing.T) {
	clk := clock.NewMockClock(testutil.Epoch)
	bus := testutil.NewMockEventBus()
	svc := NewTimerService(registry.New(clk), nil, bus, testutil.DefaultPresets())
	require.NoError(t, svc.Open(context.Background()))

	sink := &testutil.MockTickSink{}
	p := NewPoller(svc, sink, time.Second)

	var observed []domain.Reading
	p.Observe = func(rs []domain.Reading) { observed = rs }

	_, err := svc.Start(context.Background(), "frame")
	require.NoError(t, err)
	clk.Advance(95 * time.Second)

	views := p.Tick(WithSource(context.Background(), "poller"))
	require.Len(t, views, 2)
	assert.Equal(t, "1:25", views[0].Display)
	assert.True(t, views[0].JustFinished)
	assert.Equal(t, int64(1), views[0].Cycles)
	assert.Equal(t, 1, views[0].DurationMinutes)
	assert.Equal(t, 30, views[0].DurationRemSecs)
	assert.Equal(t, "1:00", views[1].Display)

	assert.Len(t, observed, 2)
	assert.Equal(t, views, sink.Last())

	events := bus.GetEvents(domain.TimerCycleCompleted)
	require.Len(t, events, 1)
	data, _ := events[0].ParseTimerEventData()
	assert.Equal(t, "poller", data.Source)
}

func TestPoller_StartStop(t *testing.T) {
	svc := NewTimerService(registry.New(nil), nil, nil, testutil.DefaultPresets())
	require.NoError(t, svc.Open(context.Background()))

	sink := &testutil.MockTickSink{}
	p := NewPoller(svc, sink, 10*time.Millisecond)
	p.Start()
	p.Start() // no-op

	assert.Eventually(t, func() bool { return sink.Count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	n := sink.Count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, sink.Count(), "no ticks after Stop")

	p.Stop() // idempotent
}

func TestPoller_NilSink(t *testing.T) {
	svc := NewTimerService(registry.New(nil), nil, nil, testutil.DefaultPresets())
	require.NoError(t, svc.Open(context.Background()))

	p := NewPoller(svc, nil, time.Second)
	assert.Len(t, p.Tick(context.Background()), 2)
}
