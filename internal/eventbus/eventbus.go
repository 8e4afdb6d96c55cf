package eventbus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mescon/InfinityStatus/internal/db"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// Publisher defines the interface for publishing events.
// This interface enables testing with mock implementations.
type Publisher interface {
	Publish(event domain.Event) error
	Subscribe(eventType domain.EventType, handler func(domain.Event))
}

// Ensure EventBus implements Publisher
var _ Publisher = (*EventBus)(nil)

// EventBus persists events to the events table and fans them out to subscribers.
// With a nil database it only fans out.
type EventBus struct {
	db          *sql.DB
	subscribers map[domain.EventType][]chan domain.Event
	mu          sync.RWMutex
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	// OnDrop is called when a subscriber's buffer is full and an event is dropped.
	OnDrop func(eventType domain.EventType)
}

// SubscriberBuffer is the per-subscriber channel capacity.
const SubscriberBuffer = 100

func NewEventBus(db *sql.DB) *EventBus {
	return &EventBus{
		db:          db,
		subscribers: make(map[domain.EventType][]chan domain.Event),
		stopChan:    make(chan struct{}),
	}
}

func (eb *EventBus) Publish(event domain.Event) error {
	logger.Debugf("EventBus: Publishing event %s (AggregateID: %s)", event.EventType, event.AggregateID)

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC() // Use UTC for consistent SQLite date parsing
	}
	if event.EventVersion == 0 {
		event.EventVersion = 1
	}

	// 1. Store event in database (source of truth for history)
	if eb.db != nil {
		eventDataJSON, err := json.Marshal(event.EventData)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}

		res, err := db.ExecWithRetry(eb.db, `
			INSERT INTO events (aggregate_type, aggregate_id, event_type, event_data, event_version, created_at, user_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, event.AggregateType, event.AggregateID, event.EventType, string(eventDataJSON), event.EventVersion, event.CreatedAt, event.UserID)
		if err != nil {
			return fmt.Errorf("failed to persist event: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			event.ID = id
		}
	}

	// 2. Publish to in-memory subscribers
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.EventType] {
		select {
		case ch <- event:
		default:
			// Non-blocking, drop if buffer full to prevent blocking the publisher
			logger.Debugf("EventBus: dropped %s, subscriber buffer full", event.EventType)
			if eb.OnDrop != nil {
				eb.OnDrop(event.EventType)
			}
		}
	}

	return nil
}

func (eb *EventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	ch := make(chan domain.Event, SubscriberBuffer)

	eb.mu.Lock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	eb.mu.Unlock()

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return // Channel closed
				}
				handler(event)
			case <-eb.stopChan:
				return // Shutdown signal received
			}
		}
	}()
}

// SubscribeMany registers the same handler for several event types.
func (eb *EventBus) SubscribeMany(types []domain.EventType, handler func(domain.Event)) {
	for _, t := range types {
		eb.Subscribe(t, handler)
	}
}

// Shutdown stops all subscriber goroutines and waits for them to finish
func (eb *EventBus) Shutdown() {
	eb.stopOnce.Do(func() {
		close(eb.stopChan)
	})
	eb.wg.Wait()
	logger.Infof("EventBus shutdown complete")
}
