package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mescon/InfinityStatus/internal/domain"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func running(d, sinceAnchor time.Duration, cycles int64) domain.TimerState {
	return domain.TimerState{
		ID:         "frame",
		Duration:   d,
		AnchorTime: t0.Add(-sinceAnchor),
		Running:    true,
		Cycles:     cycles,
	}
}

func approx(a, b time.Duration) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Millisecond
}

// =============================================================================
// Evaluate
// =============================================================================

func TestEvaluate_Running(t *testing.T) {
	tests := []struct {
		name          string
		duration      time.Duration
		elapsed       time.Duration
		wantRemaining time.Duration
		wantCycles    int64
		wantFinished  bool
	}{
		{"fresh", 90 * time.Second, 0, 90 * time.Second, 0, false},
		{"mid cycle", 90 * time.Second, 30 * time.Second, 60 * time.Second, 0, false},
		{"exactly one cycle", 60 * time.Second, 60 * time.Second, 60 * time.Second, 1, true},
		{"95s into a 90s timer", 90 * time.Second, 95 * time.Second, 85 * time.Second, 1, true},
		{"catch up 150s into a 60s timer", 60 * time.Second, 150 * time.Second, 30 * time.Second, 2, true},
		{"long gap", 10 * time.Second, 1005 * time.Second, 5 * time.Second, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Evaluate(running(tt.duration, tt.elapsed, 0), t0)
			if !approx(r.Remaining, tt.wantRemaining) {
				t.Errorf("Remaining = %v, want %v", r.Remaining, tt.wantRemaining)
			}
			if r.Cycles != tt.wantCycles {
				t.Errorf("Cycles = %d, want %d", r.Cycles, tt.wantCycles)
			}
			if r.CyclesAdded != tt.wantCycles {
				t.Errorf("CyclesAdded = %d, want %d", r.CyclesAdded, tt.wantCycles)
			}
			if r.JustFinished != tt.wantFinished {
				t.Errorf("JustFinished = %v, want %v", r.JustFinished, tt.wantFinished)
			}
		})
	}
}

func TestEvaluate_AddsToExistingCycles(t *testing.T) {
	r := Evaluate(running(60*time.Second, 150*time.Second, 5), t0)
	if r.Cycles != 7 || r.CyclesAdded != 2 {
		t.Errorf("Cycles/CyclesAdded = %d/%d, want 7/2", r.Cycles, r.CyclesAdded)
	}
}

func TestEvaluate_Paused(t *testing.T) {
	s := domain.TimerState{Duration: 90 * time.Second, PausedOffset: 30 * time.Second, Cycles: 3}

	r := Evaluate(s, t0.Add(time.Hour))
	if r.Remaining != 60*time.Second {
		t.Errorf("Remaining = %v, want 60s frozen", r.Remaining)
	}
	if math.Abs(r.Progress-1.0/3.0) > 1e-9 {
		t.Errorf("Progress = %v, want 1/3", r.Progress)
	}
	if r.JustFinished || r.Cycles != 3 {
		t.Errorf("paused timer must not advance cycles: %+v", r)
	}
}

func TestEvaluate_ClockBackwardsClamped(t *testing.T) {
	s := running(60*time.Second, 0, 0)
	r := Evaluate(s, t0.Add(-10*time.Second))

	if r.Remaining != 60*time.Second || r.Progress != 0 || r.JustFinished {
		t.Errorf("Evaluate() with anchor in the future = %+v, want full remaining", r)
	}
}

func TestEvaluate_Bounds(t *testing.T) {
	durations := []time.Duration{time.Millisecond, time.Second, 7 * time.Second, 90 * time.Second, time.Hour}
	offsets := []time.Duration{-time.Hour, 0, 1, time.Second, 89 * time.Second, 90 * time.Second, 3 * time.Hour}

	for _, d := range durations {
		for _, off := range offsets {
			for _, run := range []bool{true, false} {
				s := domain.TimerState{Duration: d, AnchorTime: t0, Running: run, PausedOffset: off}
				r := Evaluate(s, t0.Add(off))
				if r.Remaining < 0 || r.Remaining > d {
					t.Errorf("d=%v off=%v run=%v: Remaining %v outside [0, d]", d, off, run, r.Remaining)
				}
				if r.Progress < 0 || r.Progress > 1 {
					t.Errorf("d=%v off=%v run=%v: Progress %v outside [0, 1]", d, off, run, r.Progress)
				}
			}
		}
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	s := running(90*time.Second, 40*time.Second, 2)
	a := Evaluate(s, t0)
	b := Evaluate(s, t0)
	if a != b {
		t.Errorf("two evaluations at the same instant differ: %+v vs %+v", a, b)
	}
}

func TestEvaluate_ZeroDurationDegenerate(t *testing.T) {
	r := Evaluate(domain.TimerState{Running: true, AnchorTime: t0}, t0.Add(time.Minute))
	if r.Remaining != 0 || r.Progress != 0 || r.JustFinished {
		t.Errorf("zero duration must yield a degenerate reading, got %+v", r)
	}
}

// =============================================================================
// CatchUp
// =============================================================================

func TestCatchUp_ReanchorsToCurrentCycle(t *testing.T) {
	s, r := CatchUp(running(60*time.Second, 150*time.Second, 0), t0)

	if !r.JustFinished || s.Cycles != 2 {
		t.Fatalf("CatchUp() cycles = %d finished=%v, want 2/true", s.Cycles, r.JustFinished)
	}
	if want := t0.Add(-30 * time.Second); !s.AnchorTime.Equal(want) {
		t.Errorf("AnchorTime = %v, want %v", s.AnchorTime, want)
	}

	// A second read right after sees the same remaining time and no new cycle.
	again := Evaluate(s, t0)
	if again.JustFinished || !approx(again.Remaining, r.Remaining) || again.Cycles != 2 {
		t.Errorf("read after catch-up = %+v, want stable", again)
	}
}

func TestCatchUp_NoBoundaryLeavesStateUntouched(t *testing.T) {
	in := running(60*time.Second, 10*time.Second, 1)
	out, r := CatchUp(in, t0)
	if r.JustFinished || out != in {
		t.Errorf("CatchUp() without boundary mutated state: %+v -> %+v", in, out)
	}
}

// =============================================================================
// Control transitions
// =============================================================================

func TestStopStart_RoundTripKeepsRemaining(t *testing.T) {
	s := running(90*time.Second, 25*time.Second, 0)
	before := Evaluate(s, t0).Remaining

	s, changed := Stop(s, t0)
	if !changed || s.Running {
		t.Fatalf("Stop() changed=%v running=%v", changed, s.Running)
	}
	if s.PausedOffset != 25*time.Second {
		t.Errorf("PausedOffset = %v, want 25s", s.PausedOffset)
	}

	s, changed = Start(s, t0)
	if !changed || !s.Running {
		t.Fatalf("Start() changed=%v running=%v", changed, s.Running)
	}
	if after := Evaluate(s, t0).Remaining; !approx(before, after) {
		t.Errorf("remaining after stop/start = %v, want %v", after, before)
	}
}

func TestStop_FoldsCrossedCycles(t *testing.T) {
	s, _ := Stop(running(60*time.Second, 130*time.Second, 0), t0)
	if s.Cycles != 2 || s.PausedOffset != 10*time.Second {
		t.Errorf("Stop() = cycles %d offset %v, want 2 / 10s", s.Cycles, s.PausedOffset)
	}
}

func TestStartStop_NoOps(t *testing.T) {
	r := running(60*time.Second, 5*time.Second, 0)
	if _, changed := Start(r, t0); changed {
		t.Error("Start() on a running timer should be a no-op")
	}

	p := domain.TimerState{Duration: 60 * time.Second}
	if _, changed := Stop(p, t0); changed {
		t.Error("Stop() on a paused timer should be a no-op")
	}
}

func TestStart_ResumesFromPausedOffset(t *testing.T) {
	p := domain.TimerState{Duration: 60 * time.Second, PausedOffset: 20 * time.Second, Cycles: 1}
	s, _ := Start(p, t0)

	if want := t0.Add(-20 * time.Second); !s.AnchorTime.Equal(want) {
		t.Errorf("AnchorTime = %v, want %v", s.AnchorTime, want)
	}
	if s.PausedOffset != 0 || s.Cycles != 1 {
		t.Errorf("Start() = %+v, want offset cleared and cycles kept", s)
	}
	if r := Evaluate(s, t0.Add(45*time.Second)); !r.JustFinished || r.Remaining != 55*time.Second {
		t.Errorf("45s after resume: %+v, want one boundary crossed with 55s left", r)
	}
}

func TestResetRestart(t *testing.T) {
	s := running(60*time.Second, 500*time.Second, 9)
	s, _ = CatchUp(s, t0)

	reset := Reset(s, t0)
	if reset.Cycles != 0 || reset.PausedOffset != 0 || !reset.AnchorTime.Equal(t0) || !reset.Running {
		t.Errorf("Reset() = %+v", reset)
	}
	if r := Evaluate(reset, t0); r.Remaining != 60*time.Second {
		t.Errorf("remaining after reset = %v, want full duration", r.Remaining)
	}

	paused := domain.TimerState{Duration: 60 * time.Second, PausedOffset: 15 * time.Second, Cycles: 2}
	if Reset(paused, t0).Running {
		t.Error("Reset() must keep a paused timer paused")
	}
	if !Restart(paused, t0).Running {
		t.Error("Restart() must force the timer to run")
	}
}

func TestSetDuration(t *testing.T) {
	s := running(60*time.Second, 90*time.Second, 4)

	next, err := SetDuration(s, 120*time.Second, t0)
	if err != nil {
		t.Fatalf("SetDuration() error = %v", err)
	}
	if next.Duration != 120*time.Second || next.Cycles != 0 || next.Running || !next.AnchorTime.Equal(t0) {
		t.Errorf("SetDuration() = %+v, want paused fresh 120s cycle", next)
	}
	if r := Evaluate(next, t0.Add(time.Hour)); r.Remaining != 120*time.Second {
		t.Errorf("remaining after duration change = %v, want 120s", r.Remaining)
	}
}

func TestSetDuration_RejectsNonPositive(t *testing.T) {
	s := running(60*time.Second, 10*time.Second, 1)
	for _, d := range []time.Duration{0, -time.Second} {
		got, err := SetDuration(s, d, t0)
		if !errors.Is(err, domain.ErrInvalidDuration) {
			t.Errorf("SetDuration(%v) error = %v, want ErrInvalidDuration", d, err)
		}
		if got != s {
			t.Errorf("SetDuration(%v) changed state: %+v", d, got)
		}
	}
}
