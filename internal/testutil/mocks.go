package testutil

import (
	"sync"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/eventbus"
)

// =============================================================================
// MockEventBus - in-memory Publisher
// =============================================================================

// MockEventBus provides a simple in-memory event bus for testing.
// It captures all published events and allows synchronous subscription.
// Implements eventbus.Publisher interface.
type MockEventBus struct {
	mu              sync.Mutex
	PublishedEvents []domain.Event
	Subscribers     map[domain.EventType][]func(domain.Event)

	// PublishErr, when set, is returned by Publish after recording the event.
	PublishErr error
}

// Compile-time assertion that MockEventBus implements eventbus.Publisher
var _ eventbus.Publisher = (*MockEventBus)(nil)

// NewMockEventBus creates a new mock event bus.
func NewMockEventBus() *MockEventBus {
	return &MockEventBus{
		Subscribers: make(map[domain.EventType][]func(domain.Event)),
	}
}

// Publish stores the event and notifies subscribers synchronously.
func (m *MockEventBus) Publish(event domain.Event) error {
	m.mu.Lock()
	m.PublishedEvents = append(m.PublishedEvents, event)
	subscribers := m.Subscribers[event.EventType]
	err := m.PublishErr
	m.mu.Unlock()

	// Notify subscribers synchronously for deterministic testing
	for _, handler := range subscribers {
		handler(event)
	}
	return err
}

// Subscribe registers a handler that runs synchronously inside Publish.
func (m *MockEventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscribers[eventType] = append(m.Subscribers[eventType], handler)
}

// GetEvents returns all published events of a given type.
func (m *MockEventBus) GetEvents(eventType domain.EventType) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Event
	for _, e := range m.PublishedEvents {
		if e.EventType == eventType {
			result = append(result, e)
		}
	}
	return result
}

// GetAllEvents returns all published events.
func (m *MockEventBus) GetAllEvents() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.Event, len(m.PublishedEvents))
	copy(result, m.PublishedEvents)
	return result
}

// EventTypes returns the types of all published events in order.
func (m *MockEventBus) EventTypes() []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventType, 0, len(m.PublishedEvents))
	for _, e := range m.PublishedEvents {
		out = append(out, e.EventType)
	}
	return out
}

// Reset clears all published events and subscribers.
func (m *MockEventBus) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = nil
	m.Subscribers = make(map[domain.EventType][]func(domain.Event))
}

// EventCount returns the number of events of a given type.
func (m *MockEventBus) EventCount(eventType domain.EventType) int {
	return len(m.GetEvents(eventType))
}

// LastEvent returns the most recently published event, or nil if none.
func (m *MockEventBus) LastEvent() *domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PublishedEvents) == 0 {
		return nil
	}
	e := m.PublishedEvents[len(m.PublishedEvents)-1]
	return &e
}

// =============================================================================
// MockTickSink - records poller output
// =============================================================================

// MockTickSink records every batch of views it receives.
type MockTickSink struct {
	mu    sync.Mutex
	Ticks [][]domain.TimerView
}

// BroadcastTick records views.
func (m *MockTickSink) BroadcastTick(views []domain.TimerView) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ticks = append(m.Ticks, views)
}

// Count returns the number of recorded ticks.
func (m *MockTickSink) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Ticks)
}

// Last returns the most recent batch, or nil.
func (m *MockTickSink) Last() []domain.TimerView {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Ticks) == 0 {
		return nil
	}
	return m.Ticks[len(m.Ticks)-1]
}
