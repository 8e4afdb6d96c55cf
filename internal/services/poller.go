package services

import (
	"context"
	"sync"
	"time"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// TickSink receives the readings of every poll.
type TickSink interface {
	BroadcastTick(views []domain.TimerView)
}

// Poller re-reads all timers on a fixed cadence. Each pass is what drives
// auto-restart when nobody is calling the API, and feeds viewers their refresh.
type Poller struct {
	timers   *TimerService
	sink     TickSink
	interval time.Duration

	// Observe, when set, is called with the raw readings of each pass.
	Observe func([]domain.Reading)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. sink may be nil.
func NewPoller(timers *TimerService, sink TickSink, interval time.Duration) *Poller {
	return &Poller{
		timers:   timers,
		sink:     sink,
		interval: interval,
	}
}

// Start launches the polling goroutine. Calling Start twice is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(WithSource(context.Background(), "poller"))
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(ctx, p.done)
	logger.Infof("Poller started (every %v)", p.interval)
}

// Stop halts polling and waits for the goroutine to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick performs one pass and returns what was sent to the sink.
func (p *Poller) Tick(ctx context.Context) []domain.TimerView {
	readings := p.timers.ReadAll(ctx)
	if p.Observe != nil {
		p.Observe(readings)
	}
	views := domain.ViewsOf(readings)
	if p.sink != nil {
		p.sink.BroadcastTick(views)
	}
	return views
}
