// Package registry keeps the in-process set of named timers.
//
// Every access goes through one mutex, so a read that folds crossed cycles into the
// state can never interleave with a control action on the same timer.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/mescon/InfinityStatus/internal/clock"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/engine"
)

// Op is a transition applied to one timer under the registry lock.
// It returns the next state and whether anything changed.
type Op func(s domain.TimerState, now time.Time) (domain.TimerState, bool, error)

// Registry holds timers keyed by id, in creation order.
type Registry struct {
	mu     sync.Mutex
	clock  clock.Clock
	timers map[string]domain.TimerState
	order  []string
}

// New returns an empty registry. A nil clock means the wall clock.
func New(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Registry{
		clock:  clk,
		timers: make(map[string]domain.TimerState),
	}
}

// Now returns the registry's notion of the current instant.
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// Create adds a paused timer. Creating an id that already exists is a no-op and
// leaves the existing timer untouched; the returned bool reports whether it was added.
func (r *Registry) Create(id, name string, d time.Duration) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("timer id must not be empty")
	}
	st, err := domain.NewTimerState(id, name, d, r.clock.Now())
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.timers[id]; ok {
		return false, nil
	}
	r.timers[id] = st
	r.order = append(r.order, id)
	return true, nil
}

// Apply runs op against the timer with the given id. An unknown id is a silent no-op
// (found=false). The state is replaced only when op succeeds.
func (r *Registry) Apply(id string, op Op) (st domain.TimerState, found bool, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.timers[id]
	if !ok {
		return domain.TimerState{}, false, false, nil
	}
	next, changed, err := op(cur, r.clock.Now())
	if err != nil {
		return cur, true, false, err
	}
	r.timers[id] = next
	return next, true, changed, nil
}

// Start resumes a paused timer.
func (r *Registry) Start(id string) (domain.TimerState, bool) {
	st, _, changed, _ := r.Apply(id, StartOp)
	return st, changed
}

// Stop pauses a running timer.
func (r *Registry) Stop(id string) (domain.TimerState, bool) {
	st, _, changed, _ := r.Apply(id, StopOp)
	return st, changed
}

// Reset clears cycles and re-anchors at now, keeping the run flag.
func (r *Registry) Reset(id string) (domain.TimerState, bool) {
	st, found, _, _ := r.Apply(id, ResetOp)
	return st, found
}

// Restart is Reset plus forcing the timer to run.
func (r *Registry) Restart(id string) (domain.TimerState, bool) {
	st, found, _, _ := r.Apply(id, RestartOp)
	return st, found
}

// SetDuration changes the cycle length. Invalid durations leave the timer unchanged.
func (r *Registry) SetDuration(id string, d time.Duration) (domain.TimerState, bool, error) {
	st, found, _, err := r.Apply(id, SetDurationOp(d))
	return st, found, err
}

// Read evaluates one timer at the current instant. If one or more cycles finished
// since the last read, they are folded into the stored state before returning, so the
// next read sees JustFinished=false. Unknown ids yield a zero Reading with Found=false.
func (r *Registry) Read(id string) domain.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked(id, r.clock.Now())
}

// ReadAll reads every timer at one shared instant, in creation order.
func (r *Registry) ReadAll() []domain.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make([]domain.Reading, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.readLocked(id, now))
	}
	return out
}

func (r *Registry) readLocked(id string, now time.Time) domain.Reading {
	cur, ok := r.timers[id]
	if !ok {
		return domain.Reading{ID: id}
	}
	next, reading := engine.CatchUp(cur, now)
	if reading.JustFinished {
		r.timers[id] = next
	}
	return reading
}

// Synchronize restarts every timer on one shared anchor so their cycles line up.
func (r *Registry) Synchronize() []domain.TimerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make([]domain.TimerState, 0, len(r.order))
	for _, id := range r.order {
		next := engine.Restart(r.timers[id], now)
		r.timers[id] = next
		out = append(out, next)
	}
	return out
}

// State returns a copy of the stored state for id.
func (r *Registry) State(id string) (domain.TimerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.timers[id]
	return st, ok
}

// States returns copies of every stored state in creation order.
func (r *Registry) States() []domain.TimerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TimerState, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.timers[id])
	}
	return out
}

// Exists reports whether a timer with the id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[id]
	return ok
}

// IDs returns the registered ids in creation order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Document snapshots every timer into the shared document shape.
func (r *Registry) Document() domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := make(domain.Document, len(r.timers))
	for id, st := range r.timers {
		doc[id] = domain.SnapshotOf(st)
	}
	return doc
}

// Adopt replaces local state with the records in doc. Records that fail validation
// are skipped and reported; ids not yet known are appended in sorted order. A record
// without a name keeps the locally known name.
func (r *Registry) Adopt(doc domain.Document) (adopted []string, rejected map[string]error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range doc.IDs() {
		snap := doc[id]
		if err := snap.Validate(); err != nil {
			if rejected == nil {
				rejected = make(map[string]error)
			}
			rejected[id] = err
			continue
		}
		next := snap.State(id)
		if cur, ok := r.timers[id]; ok {
			if next.Name == "" {
				next.Name = cur.Name
			}
		} else {
			r.order = append(r.order, id)
		}
		r.timers[id] = next
		adopted = append(adopted, id)
	}
	return adopted, rejected
}

// =============================================================================
// Ops shared with the sync-backed service
// =============================================================================

// StartOp resumes a paused timer.
func StartOp(s domain.TimerState, now time.Time) (domain.TimerState, bool, error) {
	next, changed := engine.Start(s, now)
	return next, changed, nil
}

// StopOp pauses a running timer.
func StopOp(s domain.TimerState, now time.Time) (domain.TimerState, bool, error) {
	next, changed := engine.Stop(s, now)
	return next, changed, nil
}

// ResetOp clears cycles and re-anchors, keeping the run flag.
func ResetOp(s domain.TimerState, now time.Time) (domain.TimerState, bool, error) {
	return engine.Reset(s, now), true, nil
}

// RestartOp resets and forces the timer to run.
func RestartOp(s domain.TimerState, now time.Time) (domain.TimerState, bool, error) {
	return engine.Restart(s, now), true, nil
}

// SetDurationOp changes the cycle length to d.
func SetDurationOp(d time.Duration) Op {
	return func(s domain.TimerState, now time.Time) (domain.TimerState, bool, error) {
		next, err := engine.SetDuration(s, d, now)
		if err != nil {
			return s, false, err
		}
		return next, true, nil
	}
}
