package notifier

import (
	"fmt"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// queueSize bounds the number of pending deliveries.
const queueSize = 64

// Bus is the part of the event bus the notifier needs.
type Bus interface {
	Subscribe(eventType domain.EventType, handler func(domain.Event))
	Publish(event domain.Event) error
}

// SendFunc delivers one message to one shoutrrr URL.
type SendFunc func(serviceURL, message string) error

// Target is a configured notification destination.
type Target struct {
	URL      string `json:"-"`
	Provider string `json:"provider"`
}

type delivery struct {
	trigger domain.EventType
	key     string
	message string
}

// Notifier sends cycle completion and sync failure alerts through shoutrrr.
type Notifier struct {
	eb          Bus
	targets     []Target
	minInterval time.Duration
	send        SendFunc
	now         func() time.Time

	lastSent map[string]time.Time // Per-timer throttling
	mu       sync.Mutex

	queue    chan delivery
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewNotifier creates a notifier for the given raw URLs. URLs that cannot be
// normalized are logged and skipped.
func NewNotifier(eb Bus, urls []string, minInterval time.Duration) *Notifier {
	n := &Notifier{
		eb:          eb,
		minInterval: minInterval,
		send:        shoutrrr.Send,
		now:         time.Now,
		lastSent:    make(map[string]time.Time),
		queue:       make(chan delivery, queueSize),
		stopChan:    make(chan struct{}),
	}
	for _, raw := range urls {
		u, err := NormalizeURL(raw)
		if err != nil {
			logger.Warnf("Skipping notification URL: %v", err)
			continue
		}
		n.targets = append(n.targets, Target{URL: u, Provider: ProviderOf(u)})
	}
	return n
}

// SetSender replaces the delivery function. Tests use it to capture messages.
func (n *Notifier) SetSender(send SendFunc) {
	n.send = send
}

// Targets returns the configured destinations.
func (n *Notifier) Targets() []Target {
	return append([]Target(nil), n.targets...)
}

// Start subscribes to timer events and launches the delivery worker.
// With no targets configured it does nothing.
func (n *Notifier) Start() {
	if len(n.targets) == 0 {
		logger.Infof("Notifier disabled (no notification URLs configured)")
		return
	}

	n.eb.Subscribe(domain.TimerCycleCompleted, n.handleCycleCompleted)
	n.eb.Subscribe(domain.SyncFailed, n.handleSyncFailed)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.worker()
	}()

	logger.Infof("Notifier started with %d targets", len(n.targets))
}

// Stop halts the worker and waits for it to exit. Pending deliveries are dropped.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopChan) })
	n.wg.Wait()
}

// SendTest delivers a test message to every target and returns the first error.
func (n *Notifier) SendTest() error {
	if len(n.targets) == 0 {
		return fmt.Errorf("no notification URLs configured")
	}
	message := "🧪 Infinity Status Test Notification\n✅ Your notification configuration is working correctly!"
	for _, t := range n.targets {
		if err := n.send(t.URL, message); err != nil {
			return fmt.Errorf("failed to send to %s: %w", t.Provider, err)
		}
	}
	return nil
}

func (n *Notifier) worker() {
	for {
		select {
		case <-n.stopChan:
			return
		case d := <-n.queue:
			n.deliver(d)
		}
	}
}

func (n *Notifier) handleCycleCompleted(ev domain.Event) {
	data, ok := ev.ParseTimerEventData()
	if !ok {
		logger.Debugf("Notifier: ignoring cycle event without timer_id (AggregateID: %s)", ev.AggregateID)
		return
	}
	n.enqueue(domain.TimerCycleCompleted, data.TimerID, formatCycleMessage(data))
}

func (n *Notifier) handleSyncFailed(ev domain.Event) {
	op := ev.GetStringOr("operation", "unknown")
	msg := fmt.Sprintf("⚠️ Shared timer store unavailable during %s: %s", op, ev.GetStringOr("error", "unknown error"))
	n.enqueue(domain.SyncFailed, "sync:"+op, msg)
}

func (n *Notifier) enqueue(trigger domain.EventType, key, message string) {
	if !n.reserve(key) {
		logger.Debugf("Throttled notification for %s (%s)", key, trigger)
		return
	}
	select {
	case n.queue <- delivery{trigger: trigger, key: key, message: message}:
	default:
		logger.Warnf("Notification queue full, dropping %s for %s", trigger, key)
	}
}

// reserve records a send for key unless one happened within minInterval.
func (n *Notifier) reserve(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.minInterval {
		return false
	}
	n.lastSent[key] = now
	return true
}

func (n *Notifier) deliver(d delivery) {
	for _, t := range n.targets {
		err := n.send(t.URL, d.message)

		data := map[string]interface{}{
			"provider":      t.Provider,
			"trigger_event": string(d.trigger),
		}
		eventType := domain.NotificationSent
		if err != nil {
			logger.Errorf("Failed to send %s notification via %s: %v", d.trigger, t.Provider, err)
			eventType = domain.NotificationFailed
			data["error"] = err.Error()
		} else {
			logger.Debugf("Sent %s notification via %s", d.trigger, t.Provider)
		}

		if pubErr := n.eb.Publish(domain.Event{
			AggregateType: "notification",
			AggregateID:   d.key,
			EventType:     eventType,
			EventData:     data,
		}); pubErr != nil {
			logger.Errorf("Failed to publish %s event: %v", eventType, pubErr)
		}
	}
}

func formatCycleMessage(data domain.TimerEventData) string {
	name := data.Name
	if name == "" {
		name = data.TimerID
	}
	if data.CyclesAdded > 1 {
		return fmt.Sprintf("⏱️ %s finished %d cycles (%d completed)", name, data.CyclesAdded, data.Cycles)
	}
	return fmt.Sprintf("⏱️ %s finished a cycle (%d completed)", name, data.Cycles)
}
