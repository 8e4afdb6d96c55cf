package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/mescon/InfinityStatus/internal/config"
	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/engine"
	"github.com/mescon/InfinityStatus/internal/eventbus"
	"github.com/mescon/InfinityStatus/internal/logger"
	"github.com/mescon/InfinityStatus/internal/registry"
	"github.com/mescon/InfinityStatus/internal/syncstore"
)

// maxWriteAttempts bounds how often a control action is re-applied after another
// writer changed the same record first.
const maxWriteAttempts = 3

var (
	// ErrTimerNotFound is returned by control operations on an unknown id.
	ErrTimerNotFound = errors.New("timer not found")
	// ErrSyncUnavailable wraps any shared store failure other than a missing document.
	ErrSyncUnavailable = errors.New("sync store unavailable")
)

type sourceKey struct{}

// WithSource tags ctx with who triggered an action ("api", "schedule", "homekit", ...).
// The source ends up in the published event.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "api"
}

// TimerService is the control surface for timers.
//
// The registry underneath treats an unknown id as a soft no-op and reports it with
// Found=false. The service turns that into ErrTimerNotFound so callers such as the
// API can answer 404. The HomeKit bridge reads the registry directly and gets the
// silent form.
//
// Without a store the registry is authoritative. With a store, the registry is a cache
// of the last document seen: each action reads the document, applies the transition to
// that record, writes the record back and only then updates the cache.
type TimerService struct {
	reg     *registry.Registry
	store   syncstore.Store
	bus     eventbus.Publisher
	presets []config.TimerPreset

	// mu serializes read-modify-write cycles against the store.
	mu        sync.Mutex
	cancelSub func()
}

// NewTimerService wires the registry, an optional shared store and the event bus.
// A nil store keeps timers local to this process.
func NewTimerService(reg *registry.Registry, store syncstore.Store, bus eventbus.Publisher, presets []config.TimerPreset) *TimerService {
	return &TimerService{
		reg:     reg,
		store:   store,
		bus:     bus,
		presets: presets,
	}
}

// Registry returns the underlying registry.
func (s *TimerService) Registry() *registry.Registry {
	return s.reg
}

// Synced reports whether timers are shared through a store.
func (s *TimerService) Synced() bool {
	return s.store != nil
}

// StoreName identifies the shared store, or "local".
func (s *TimerService) StoreName() string {
	if s.store == nil {
		return config.SyncLocal
	}
	return s.store.Name()
}

// Open creates the preset timers and, in shared mode, bootstraps the document
// (creating it if it does not exist yet) and subscribes to remote changes.
func (s *TimerService) Open(ctx context.Context) error {
	for _, p := range s.presets {
		if _, err := s.reg.Create(p.ID, p.Name, p.Duration); err != nil {
			return fmt.Errorf("failed to create timer %q: %w", p.ID, err)
		}
	}

	if s.store == nil {
		logger.Infof("Timer service started with %d local timers", len(s.presets))
		return nil
	}

	if err := s.bootstrap(ctx); err != nil {
		return err
	}
	s.cancelSub = s.store.Subscribe(s.handleRemote)
	logger.Infof("Timer service started, sharing %d timers through %s", len(s.reg.IDs()), s.store.Name())
	return nil
}

// Close cancels the store subscription.
func (s *TimerService) Close() {
	if s.cancelSub != nil {
		s.cancelSub()
		s.cancelSub = nil
	}
}

func (s *TimerService) bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.store.Read(ctx)
	if errors.Is(err, syncstore.ErrNotFound) {
		logger.Infof("Shared document missing in %s, creating it with defaults", s.store.Name())
		if err := s.store.Put(ctx, s.reg.Document()); err != nil {
			return fmt.Errorf("%w: %w", ErrSyncUnavailable, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSyncUnavailable, err)
	}

	s.adopt(doc)

	// Presets that nobody has written yet are added to the shared document.
	missing := make(domain.Document)
	for _, p := range s.presets {
		if _, ok := doc[p.ID]; !ok {
			if st, ok := s.reg.State(p.ID); ok {
				missing[p.ID] = domain.SnapshotOf(st)
			}
		}
	}
	if len(missing) > 0 {
		err := s.write(ctx, missing, doc)
		if errors.Is(err, syncstore.ErrConflict) {
			// Another process added them first.
			_, err = s.refresh(ctx)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// handleRemote treats a delivery as a change notice and adopts the latest document.
// Deliveries are asynchronous, so the delivered copy may already be older than what
// this process has written since.
func (s *TimerService) handleRemote(domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.store.Read(context.Background())
	if err != nil {
		if !errors.Is(err, syncstore.ErrNotFound) && !errors.Is(err, syncstore.ErrClosed) {
			logger.Warnf("Failed to read shared document after change notice: %v", err)
		}
		return
	}

	// Compare caught-up records so a document that merely lacks a local catch-up
	// does not roll the cache back and count the same cycles twice.
	now := s.reg.Now()
	doc = caughtUp(doc, now)
	current := caughtUp(s.reg.Document(), now)
	same := true
	for id, snap := range doc {
		cur, ok := current[id]
		if !ok || !reflect.DeepEqual(cur, withName(snap, cur.Name)) {
			same = false
			break
		}
	}
	if same {
		return
	}

	adopted := s.adopt(doc)
	logger.Debugf("Adopted %d timers from %s", len(adopted), s.store.Name())
	s.publish(domain.Event{
		AggregateType: "sync",
		AggregateID:   s.store.Name(),
		EventType:     domain.TimersAdopted,
		EventData: map[string]interface{}{
			"timers": adopted,
			"source": "sync",
		},
	})
}

func caughtUp(doc domain.Document, now time.Time) domain.Document {
	out := make(domain.Document, len(doc))
	for id, snap := range doc {
		if snap.Validate() != nil {
			out[id] = snap
			continue
		}
		st, _ := engine.CatchUp(snap.State(id), now)
		out[id] = domain.SnapshotOf(st)
	}
	return out
}

func withName(snap domain.Snapshot, fallback string) domain.Snapshot {
	if snap.Name == "" {
		snap.Name = fallback
	}
	return snap
}

func (s *TimerService) adopt(doc domain.Document) []string {
	adopted, rejected := s.reg.Adopt(doc)
	for id, err := range rejected {
		logger.Warnf("Ignoring invalid shared record %q: %v", id, err)
	}
	return adopted
}

// write stores patch with a targeted update, provided each patched record still
// matches base, the document it was computed from. A record changed by another
// writer in the meantime yields syncstore.ErrConflict and nothing is written. When
// the document does not exist the update is replaced by a full overwrite built
// from the cache plus patch.
func (s *TimerService) write(ctx context.Context, patch, base domain.Document) error {
	err := s.store.UpdateIf(ctx, patch, base)
	if errors.Is(err, syncstore.ErrConflict) {
		return err
	}
	if errors.Is(err, syncstore.ErrNotFound) {
		full := s.reg.Document()
		for id, snap := range patch {
			full[id] = snap
		}
		logger.Debugf("Shared document missing, overwriting with %d timers", len(full))
		err = s.store.Put(ctx, full)
	}
	if err != nil {
		return s.syncFailure("write", err)
	}
	s.adopt(patch)
	return nil
}

// refresh pulls the latest document into the cache before a transition and returns
// it as read. A missing document is returned as nil.
func (s *TimerService) refresh(ctx context.Context) (domain.Document, error) {
	doc, err := s.store.Read(ctx)
	if errors.Is(err, syncstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.syncFailure("read", err)
	}
	s.adopt(doc)
	return doc, nil
}

func (s *TimerService) syncFailure(op string, err error) error {
	logger.Errorf("Sync store %s failed during %s: %v", s.store.Name(), op, err)
	s.publish(domain.Event{
		AggregateType: "sync",
		AggregateID:   s.store.Name(),
		EventType:     domain.SyncFailed,
		EventData: map[string]interface{}{
			"operation": op,
			"error":     err.Error(),
		},
	})
	return fmt.Errorf("%w: %w", ErrSyncUnavailable, err)
}

func (s *TimerService) publish(e domain.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(e); err != nil {
		logger.Errorf("Failed to publish %s: %v", e.EventType, err)
	}
}

// =============================================================================
// Control operations
// =============================================================================

// Create adds a new paused timer. It returns false if the id already exists.
func (s *TimerService) Create(ctx context.Context, id, name string, d time.Duration) (domain.TimerState, bool, error) {
	if err := domain.ValidateTimerID(id); err != nil {
		return domain.TimerState{}, false, err
	}
	if s.store == nil {
		created, err := s.reg.Create(id, name, d)
		if err != nil {
			return domain.TimerState{}, false, err
		}
		st, _ := s.reg.State(id)
		if created {
			s.publish(domain.NewTimerEvent(domain.TimerCreated, st, sourceFrom(ctx)))
		}
		return st, created, nil
	}

	st, err := domain.NewTimerState(id, name, d, s.reg.Now())
	if err != nil {
		return domain.TimerState{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for attempt := 1; ; attempt++ {
		base, err := s.refresh(ctx)
		if err != nil {
			return domain.TimerState{}, false, err
		}
		if existing, ok := s.reg.State(id); ok {
			return existing, false, nil
		}
		// The timer enters the cache only once the write succeeds.
		err = s.write(ctx, domain.Document{id: domain.SnapshotOf(st)}, base)
		if err == nil {
			break
		}
		if !errors.Is(err, syncstore.ErrConflict) || attempt == maxWriteAttempts {
			return domain.TimerState{}, false, s.writeFailure(err)
		}
	}
	st, _ = s.reg.State(id)
	s.publish(domain.NewTimerEvent(domain.TimerCreated, st, sourceFrom(ctx)))
	return st, true, nil
}

// Start resumes a paused timer. Starting a running timer changes nothing.
func (s *TimerService) Start(ctx context.Context, id string) (domain.TimerState, error) {
	return s.control(ctx, id, registry.StartOp, domain.TimerStarted)
}

// Stop pauses a running timer at its current position.
func (s *TimerService) Stop(ctx context.Context, id string) (domain.TimerState, error) {
	return s.control(ctx, id, registry.StopOp, domain.TimerStopped)
}

// Reset clears completed cycles and starts the current cycle over, keeping the run flag.
func (s *TimerService) Reset(ctx context.Context, id string) (domain.TimerState, error) {
	return s.control(ctx, id, registry.ResetOp, domain.TimerReset)
}

// Restart is Reset that also starts the timer.
func (s *TimerService) Restart(ctx context.Context, id string) (domain.TimerState, error) {
	return s.control(ctx, id, registry.RestartOp, domain.TimerRestarted)
}

// SetDuration changes the cycle length, clears cycles and leaves the timer paused.
func (s *TimerService) SetDuration(ctx context.Context, id string, d time.Duration) (domain.TimerState, error) {
	return s.control(ctx, id, registry.SetDurationOp(d), domain.TimerDurationChanged)
}

func (s *TimerService) control(ctx context.Context, id string, op registry.Op, eventType domain.EventType) (domain.TimerState, error) {
	var (
		st      domain.TimerState
		found   bool
		changed bool
		err     error
	)
	if s.store == nil {
		st, found, changed, err = s.reg.Apply(id, op)
	} else {
		st, found, changed, err = s.controlShared(ctx, id, op)
	}
	if err != nil {
		return st, err
	}
	if !found {
		return domain.TimerState{}, fmt.Errorf("%w: %s", ErrTimerNotFound, id)
	}
	if changed {
		logger.Debugf("Timer %s: %s", id, eventType)
		s.publish(domain.NewTimerEvent(eventType, st, sourceFrom(ctx)))
	}
	return st, nil
}

// controlShared applies op to the latest stored record. When another writer changes
// the record between the read and the write, op is applied again to the new record.
func (s *TimerService) controlShared(ctx context.Context, id string, op registry.Op) (domain.TimerState, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		base, err := s.refresh(ctx)
		if err != nil {
			return domain.TimerState{}, true, false, err
		}
		cur, ok := s.reg.State(id)
		if !ok {
			return domain.TimerState{}, false, false, nil
		}
		next, changed, err := op(cur, s.reg.Now())
		if err != nil {
			return cur, true, false, err
		}
		if !changed {
			return cur, true, false, nil
		}
		err = s.write(ctx, domain.Document{id: domain.SnapshotOf(next)}, base)
		if err == nil {
			return next, true, true, nil
		}
		if !errors.Is(err, syncstore.ErrConflict) || attempt == maxWriteAttempts {
			return cur, true, false, s.writeFailure(err)
		}
		logger.Debugf("Timer %s changed during write, retrying (attempt %d/%d)", id, attempt, maxWriteAttempts)
	}
}

// writeFailure reports a conflict that outlasted every attempt as a sync failure.
// Other errors from write are already wrapped.
func (s *TimerService) writeFailure(err error) error {
	if errors.Is(err, syncstore.ErrConflict) {
		return s.syncFailure("write", err)
	}
	return err
}

// Synchronize restarts every timer on one shared anchor with a single full write.
func (s *TimerService) Synchronize(ctx context.Context) ([]domain.TimerState, error) {
	var states []domain.TimerState
	if s.store == nil {
		states = s.reg.Synchronize()
	} else {
		s.mu.Lock()
		if _, err := s.refresh(ctx); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		now := s.reg.Now()
		doc := make(domain.Document)
		for _, cur := range s.reg.States() {
			next := engine.Restart(cur, now)
			doc[next.ID] = domain.SnapshotOf(next)
			states = append(states, next)
		}
		if err := s.store.Put(ctx, doc); err != nil {
			s.mu.Unlock()
			return nil, s.syncFailure("synchronize", err)
		}
		s.adopt(doc)
		s.mu.Unlock()
	}

	ids := make([]string, 0, len(states))
	for _, st := range states {
		ids = append(ids, st.ID)
	}
	logger.Infof("Synchronized %d timers", len(states))
	s.publish(domain.Event{
		AggregateType: "timer",
		AggregateID:   "*",
		EventType:     domain.TimersSynchronized,
		EventData: map[string]interface{}{
			"timers": ids,
			"source": sourceFrom(ctx),
		},
	})
	return states, nil
}

// =============================================================================
// Reads
// =============================================================================

// Read evaluates one timer now. Crossed cycles are folded into the state and, in
// shared mode, written back so every viewer converges on the same anchor.
func (s *TimerService) Read(ctx context.Context, id string) (domain.Reading, error) {
	r := s.reg.Read(id)
	if !r.Found {
		return r, fmt.Errorf("%w: %s", ErrTimerNotFound, id)
	}
	if superseded := s.afterRead(ctx, []domain.Reading{r}); superseded {
		r = s.reg.Read(id)
	}
	return r, nil
}

// ReadAll evaluates every timer at one instant, in creation order.
func (s *TimerService) ReadAll(ctx context.Context) []domain.Reading {
	readings := s.reg.ReadAll()
	if superseded := s.afterRead(ctx, readings); superseded {
		readings = s.reg.ReadAll()
	}
	return readings
}

// afterRead publishes completed cycles and, in shared mode, writes the catch-up back.
// The write is skipped when another writer changed the record after it was read;
// the cache then holds that writer's version and afterRead reports true so the
// caller can evaluate again.
func (s *TimerService) afterRead(ctx context.Context, readings []domain.Reading) bool {
	var finished []string
	for _, r := range readings {
		if !r.JustFinished {
			continue
		}
		finished = append(finished, r.ID)
		st, ok := s.reg.State(r.ID)
		if !ok {
			continue
		}
		ev := domain.NewTimerEvent(domain.TimerCycleCompleted, st, sourceFrom(ctx))
		ev.EventData["cycles_added"] = r.CyclesAdded
		s.publish(ev)
	}
	if s.store == nil || len(finished) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-evaluate against the latest document: another viewer may already have
	// written the catch-up, or reset the timer in the meantime.
	base, err := s.refresh(ctx)
	if err != nil {
		logger.Warnf("Failed to share caught-up cycles: %v", err)
		return false
	}
	patch := make(domain.Document)
	for _, id := range finished {
		if r := s.reg.Read(id); r.JustFinished {
			st, _ := s.reg.State(id)
			patch[id] = domain.SnapshotOf(st)
		}
	}
	if len(patch) == 0 {
		return true
	}
	err = s.write(ctx, patch, base)
	if errors.Is(err, syncstore.ErrConflict) {
		logger.Debugf("Caught-up cycles superseded by another writer: %v", err)
		if _, err := s.refresh(ctx); err != nil {
			logger.Warnf("Failed to adopt superseding document: %v", err)
		}
		return true
	}
	if err != nil {
		logger.Warnf("Failed to share caught-up cycles: %v", err)
	}
	return false
}
