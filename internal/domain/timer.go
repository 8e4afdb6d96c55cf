package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDuration is returned when a timer duration is zero or negative.
var ErrInvalidDuration = errors.New("duration must be greater than zero")

// ErrInvalidTimerID is returned for ids that cannot be stored as flat document keys.
var ErrInvalidTimerID = errors.New("timer id must be non-empty and contain no spaces, slashes or underscores")

// TimerState is the authoritative state of one repeating countdown timer.
//
// While Running, elapsed time is always derived from AnchorTime, never accumulated.
// While paused, PausedOffset holds the position inside the current cycle.
type TimerState struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Duration     time.Duration `json:"duration"`
	AnchorTime   time.Time     `json:"anchor_time"`
	Running      bool          `json:"running"`
	PausedOffset time.Duration `json:"paused_offset"`
	Cycles       int64         `json:"cycles_completed"`
}

// NewTimerState returns a paused timer anchored at now with no completed cycles.
func NewTimerState(id, name string, duration time.Duration, now time.Time) (TimerState, error) {
	if err := ValidateDuration(duration); err != nil {
		return TimerState{}, err
	}
	return TimerState{
		ID:         id,
		Name:       name,
		Duration:   duration,
		AnchorTime: now,
	}, nil
}

// ValidateDuration rejects durations that cannot form a cycle.
func ValidateDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidDuration, d)
	}
	return nil
}

// ValidateTimerID rejects ids that would be misread in the flat layout, where
// "a_paused" plus "_offset" is indistinguishable from "a" plus "_paused_offset".
func ValidateTimerID(id string) error {
	if id == "" || strings.ContainsAny(id, " /_") {
		return fmt.Errorf("%w: %q", ErrInvalidTimerID, id)
	}
	return nil
}

// Reading is what an observer sees for one timer at one instant.
type Reading struct {
	ID           string
	Name         string
	Found        bool
	Running      bool
	JustFinished bool
	Duration     time.Duration
	Remaining    time.Duration
	TimeInCycle  time.Duration
	Progress     float64
	Cycles       int64
	CyclesAdded  int64
}
