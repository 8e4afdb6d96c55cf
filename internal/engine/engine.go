// Package engine holds the pure time arithmetic behind every timer.
//
// Nothing here reads the wall clock or keeps state: callers pass the TimerState and
// the current instant, and get back either a Reading or the next TimerState. Remaining
// time is always recomputed from the anchor, so irregular polling never causes drift.
package engine

import (
	"time"

	"github.com/mescon/InfinityStatus/internal/domain"
)

// Evaluate derives remaining time, progress and completed cycles at now.
//
// For a running timer the anchor is treated as the start of an uninterrupted run;
// every whole duration elapsed since then counts as a completed cycle. Elapsed time
// from an anchor in the future (clock moved backwards) is clamped to zero.
func Evaluate(s domain.TimerState, now time.Time) domain.Reading {
	r := domain.Reading{
		ID:       s.ID,
		Name:     s.Name,
		Found:    true,
		Running:  s.Running,
		Duration: s.Duration,
		Cycles:   s.Cycles,
	}
	if s.Duration <= 0 {
		return r
	}

	if !s.Running {
		offset := normalizeOffset(s.PausedOffset, s.Duration)
		r.TimeInCycle = offset
		r.Remaining = s.Duration - offset
		r.Progress = float64(offset) / float64(s.Duration)
		return r
	}

	elapsed := now.Sub(s.AnchorTime)
	if elapsed < 0 {
		elapsed = 0
	}
	whole := int64(elapsed / s.Duration)
	inCycle := elapsed % s.Duration

	r.TimeInCycle = inCycle
	r.Remaining = s.Duration - inCycle
	r.Progress = float64(inCycle) / float64(s.Duration)
	r.Cycles = s.Cycles + whole
	r.CyclesAdded = whole
	r.JustFinished = whole > 0
	return r
}

// CatchUp folds any crossed cycle boundaries into the state: cycles advance and the
// anchor moves to the start of the current cycle. The returned reading is the one
// computed before the fold, so JustFinished tells whether the state changed.
func CatchUp(s domain.TimerState, now time.Time) (domain.TimerState, domain.Reading) {
	r := Evaluate(s, now)
	if r.JustFinished {
		s.Cycles = r.Cycles
		s.AnchorTime = now.Add(-r.TimeInCycle)
	}
	return s, r
}

// Start resumes a paused timer from its paused offset. Returns false if already running.
func Start(s domain.TimerState, now time.Time) (domain.TimerState, bool) {
	if s.Running {
		return s, false
	}
	offset := normalizeOffset(s.PausedOffset, s.Duration)
	s.AnchorTime = now.Add(-offset)
	s.PausedOffset = 0
	s.Running = true
	return s, true
}

// Stop freezes a running timer at its position inside the current cycle.
// Cycles crossed since the last read are counted first. Returns false if already paused.
func Stop(s domain.TimerState, now time.Time) (domain.TimerState, bool) {
	if !s.Running {
		return s, false
	}
	s, r := CatchUp(s, now)
	s.PausedOffset = r.TimeInCycle
	s.Running = false
	return s, true
}

// Reset re-anchors the timer at now and clears cycles and offset. The run flag is kept.
func Reset(s domain.TimerState, now time.Time) domain.TimerState {
	s.AnchorTime = now
	s.PausedOffset = 0
	s.Cycles = 0
	return s
}

// Restart is Reset followed by forcing the timer to run.
func Restart(s domain.TimerState, now time.Time) domain.TimerState {
	s = Reset(s, now)
	s.Running = true
	return s
}

// SetDuration changes the cycle length. The partial cycle is discarded and the timer
// is left paused at the start of a fresh cycle; an explicit Start is needed to resume.
func SetDuration(s domain.TimerState, d time.Duration, now time.Time) (domain.TimerState, error) {
	if err := domain.ValidateDuration(d); err != nil {
		return s, err
	}
	s.Duration = d
	s = Reset(s, now)
	s.Running = false
	return s, nil
}

// normalizeOffset keeps a paused offset inside [0, duration).
func normalizeOffset(offset, duration time.Duration) time.Duration {
	if offset < 0 || duration <= 0 {
		return 0
	}
	return offset % duration
}
