package domain

import (
	"time"
)

type EventType string

const (
	TimerCreated         EventType = "TimerCreated"
	TimerStarted         EventType = "TimerStarted"
	TimerStopped         EventType = "TimerStopped"
	TimerReset           EventType = "TimerReset"
	TimerRestarted       EventType = "TimerRestarted"
	TimerDurationChanged EventType = "TimerDurationChanged"
	TimerCycleCompleted  EventType = "TimerCycleCompleted"
	TimersSynchronized   EventType = "TimersSynchronized"
	TimersAdopted        EventType = "TimersAdopted" // cache replaced from the shared store
	SyncFailed           EventType = "SyncFailed"

	// Counter/log sidecar
	CounterChanged EventType = "CounterChanged"
	ActivityLogged EventType = "ActivityLogged"

	ScheduleTriggered EventType = "ScheduleTriggered"

	NotificationSent   EventType = "NotificationSent"
	NotificationFailed EventType = "NotificationFailed"
)

// TimerEventTypes lists every event that concerns a single timer or the timer set.
var TimerEventTypes = []EventType{
	TimerCreated,
	TimerStarted,
	TimerStopped,
	TimerReset,
	TimerRestarted,
	TimerDurationChanged,
	TimerCycleCompleted,
	TimersSynchronized,
}

// AllEventTypes lists every event type viewers may be shown.
var AllEventTypes = append(append([]EventType(nil), TimerEventTypes...),
	TimersAdopted,
	SyncFailed,
	CounterChanged,
	ActivityLogged,
	ScheduleTriggered,
	NotificationSent,
	NotificationFailed,
)

type Event struct {
	ID            int64                  `json:"id"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	EventType     EventType              `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data"`
	EventVersion  int                    `json:"event_version"`
	CreatedAt     time.Time              `json:"created_at"`
	UserID        string                 `json:"user_id,omitempty"`
}

// =============================================================================
// Type-safe event data accessors
// These helpers provide compile-time safety when extracting data from events.
// =============================================================================

// GetString safely extracts a string field from EventData.
// Returns the value and true if found and is a string, otherwise empty string and false.
func (e *Event) GetString(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key].(string)
	return v, ok
}

// GetStringOr extracts a string field or returns the default value.
func (e *Event) GetStringOr(key, defaultVal string) string {
	if v, ok := e.GetString(key); ok {
		return v
	}
	return defaultVal
}

// GetInt64 safely extracts an int64 field from EventData.
// Handles both int64 and float64 (JSON unmarshaling produces float64).
func (e *Event) GetInt64(key string) (int64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// GetInt64Or extracts an int64 field or returns the default value.
func (e *Event) GetInt64Or(key string, defaultVal int64) int64 {
	if v, ok := e.GetInt64(key); ok {
		return v
	}
	return defaultVal
}

// GetFloat64 safely extracts a float64 field from EventData.
func (e *Event) GetFloat64(key string) (float64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetBool safely extracts a bool field from EventData.
func (e *Event) GetBool(key string) (bool, bool) {
	if e.EventData == nil {
		return false, false
	}
	v, ok := e.EventData[key].(bool)
	return v, ok
}

// GetBoolOr extracts a bool field or returns the default value.
func (e *Event) GetBoolOr(key string, defaultVal bool) bool {
	if v, ok := e.GetBool(key); ok {
		return v
	}
	return defaultVal
}

// GetMap safely extracts a nested map from EventData.
func (e *Event) GetMap(key string) (map[string]interface{}, bool) {
	if e.EventData == nil {
		return nil, false
	}
	v, ok := e.EventData[key].(map[string]interface{})
	return v, ok
}

// GetStringSlice safely extracts a string slice from EventData.
func (e *Event) GetStringSlice(key string) ([]string, bool) {
	if e.EventData == nil {
		return nil, false
	}
	// Handle []string directly
	if v, ok := e.EventData[key].([]string); ok {
		return v, true
	}
	// Handle []interface{} (from JSON unmarshaling)
	if v, ok := e.EventData[key].([]interface{}); ok {
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result, true
	}
	return nil, false
}

// =============================================================================
// Typed event data structures for common events
// =============================================================================

// TimerEventData contains data for single-timer events.
type TimerEventData struct {
	TimerID     string  `json:"timer_id"`
	Name        string  `json:"name,omitempty"`
	Duration    float64 `json:"duration"`
	Cycles      int64   `json:"cycles"`
	CyclesAdded int64   `json:"cycles_added,omitempty"`
	Running     bool    `json:"running"`
	Source      string  `json:"source,omitempty"` // "api", "schedule", "homekit", "poller", "sync"
}

// NewTimerEvent builds an event for one timer from its post-operation state.
func NewTimerEvent(eventType EventType, s TimerState, source string) Event {
	return Event{
		AggregateType: "timer",
		AggregateID:   s.ID,
		EventType:     eventType,
		EventData: map[string]interface{}{
			"timer_id": s.ID,
			"name":     s.Name,
			"duration": s.Duration.Seconds(),
			"cycles":   s.Cycles,
			"running":  s.Running,
			"source":   source,
		},
	}
}

// ParseTimerEventData extracts typed timer data from an event.
func (e *Event) ParseTimerEventData() (TimerEventData, bool) {
	id, ok := e.GetString("timer_id")
	if !ok {
		return TimerEventData{}, false
	}
	duration, _ := e.GetFloat64("duration")
	return TimerEventData{
		TimerID:     id,
		Name:        e.GetStringOr("name", ""),
		Duration:    duration,
		Cycles:      e.GetInt64Or("cycles", 0),
		CyclesAdded: e.GetInt64Or("cycles_added", 0),
		Running:     e.GetBoolOr("running", false),
		Source:      e.GetStringOr("source", ""),
	}, true
}
