package testutil

import (
	"time"

	"github.com/mescon/InfinityStatus/internal/config"
	"github.com/mescon/InfinityStatus/internal/domain"
)

// Epoch is a fixed instant tests anchor mock clocks to.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// TimerOption is a functional option for configuring test timer states.
type TimerOption func(*domain.TimerState)

// Running marks the timer as running from its anchor.
func Running() TimerOption {
	return func(s *domain.TimerState) {
		s.Running = true
	}
}

// PausedAt pauses the timer at offset into the current cycle.
func PausedAt(offset time.Duration) TimerOption {
	return func(s *domain.TimerState) {
		s.Running = false
		s.PausedOffset = offset
	}
}

// WithCycles sets the completed cycle count.
func WithCycles(n int64) TimerOption {
	return func(s *domain.TimerState) {
		s.Cycles = n
	}
}

// AnchoredAt sets the anchor time.
func AnchoredAt(t time.Time) TimerOption {
	return func(s *domain.TimerState) {
		s.AnchorTime = t
	}
}

// NewTimer returns a paused timer anchored at Epoch.
func NewTimer(id string, d time.Duration, opts ...TimerOption) domain.TimerState {
	s := domain.TimerState{ID: id, Name: id, Duration: d, AnchorTime: Epoch}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// DocumentOf builds a shared document from timer states.
func DocumentOf(states ...domain.TimerState) domain.Document {
	doc := make(domain.Document, len(states))
	for _, s := range states {
		doc[s.ID] = domain.SnapshotOf(s)
	}
	return doc
}

// DefaultPresets are the two timers a fresh install starts with.
func DefaultPresets() []config.TimerPreset {
	return config.DefaultTimerPresets()
}
