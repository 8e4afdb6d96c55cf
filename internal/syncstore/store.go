// Package syncstore provides the shared documents timers are synchronized through.
//
// A Store holds one Document. Every process pointed at the same store sees the same
// timers: control actions read the document, change one record and write it back,
// and subscribers are told whenever the document changes.
package syncstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// ErrNotFound is returned by Read and Update when the document does not exist yet.
var ErrNotFound = errors.New("shared document not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("sync store closed")

// ErrConflict is returned by UpdateIf when a record changed since it was read.
var ErrConflict = errors.New("shared record changed concurrently")

// Store is the shared document backend.
type Store interface {
	// Read returns the current document, or ErrNotFound.
	Read(ctx context.Context) (domain.Document, error)
	// Update replaces the records named in patch, leaving other records as they are.
	// It fails with ErrNotFound if the document does not exist.
	Update(ctx context.Context, patch domain.Document) error
	// UpdateIf is Update guarded per record: each id in patch must still match its
	// record in expect, or be absent when expect has none. Otherwise nothing is
	// written and ErrConflict is returned.
	UpdateIf(ctx context.Context, patch, expect domain.Document) error
	// Put creates or overwrites the whole document.
	Put(ctx context.Context, doc domain.Document) error
	// Subscribe registers fn to receive each new version of the document.
	// Delivery is asynchronous; intermediate versions may be skipped, never reordered.
	Subscribe(fn func(domain.Document)) (cancel func())
	// Name identifies the backend in logs and health output.
	Name() string
	Close() error
}

// fanout delivers documents to subscribers, one goroutine per subscriber. Each
// subscriber holds at most one pending document; a newer one replaces it.
type fanout struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
}

type subscriber struct {
	fn      func(domain.Document)
	pending chan domain.Document
	done    chan struct{}
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]*subscriber)}
}

func (f *fanout) subscribe(fn func(domain.Document)) func() {
	s := &subscriber{
		fn:      fn,
		pending: make(chan domain.Document, 1),
		done:    make(chan struct{}),
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = s
	f.mu.Unlock()

	go s.run()

	return func() {
		f.mu.Lock()
		_, ok := f.subs[id]
		delete(f.subs, id)
		f.mu.Unlock()
		if ok {
			close(s.done)
		}
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case doc := <-s.pending:
			s.deliver(doc)
		}
	}
}

func (s *subscriber) deliver(doc domain.Document) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Sync subscriber panicked: %v", r)
		}
	}()
	s.fn(doc)
}

// publish hands doc to every subscriber, replacing anything still pending.
func (f *fanout) publish(doc domain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.subs {
		// Each subscriber gets its own copy.
		d := doc.Clone()
		select {
		case <-s.pending:
		default:
		}
		select {
		case s.pending <- d:
		default:
		}
	}
}

func (f *fanout) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[int]*subscriber)
	f.mu.Unlock()

	for _, s := range subs {
		close(s.done)
	}
}

// checkExpected compares the records of cur that patch would replace against expect.
func checkExpected(cur, patch, expect domain.Document) error {
	for id := range patch {
		have, exists := cur[id]
		want, expected := expect[id]
		if exists != expected || (exists && !have.SameTiming(want)) {
			return fmt.Errorf("%w: %s", ErrConflict, id)
		}
	}
	return nil
}

// merge returns base with every record in patch replacing its counterpart.
func merge(base, patch domain.Document) domain.Document {
	out := base.Clone()
	for id, snap := range patch {
		out[id] = snap
	}
	return out
}
