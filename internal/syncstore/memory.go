package syncstore

import (
	"context"
	"sync"

	"github.com/mescon/InfinityStatus/internal/domain"
)

// MemoryStore keeps the document in process. Useful for tests and for sharing one
// document between several services in the same binary.
type MemoryStore struct {
	mu     sync.Mutex
	doc    domain.Document // nil until the first Put
	closed bool
	subs   *fanout

	// FailWith, when set, is returned by every write. Tests use it to simulate an
	// unreachable backend.
	FailWith error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store whose document does not exist yet.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: newFanout()}
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Read(ctx context.Context) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.doc == nil {
		return nil, ErrNotFound
	}
	return m.doc.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, patch domain.Document) error {
	return m.update(ctx, patch, nil)
}

func (m *MemoryStore) UpdateIf(ctx context.Context, patch, expect domain.Document) error {
	return m.update(ctx, patch, func(cur domain.Document) error {
		return checkExpected(cur, patch, expect)
	})
}

func (m *MemoryStore) update(ctx context.Context, patch domain.Document, check func(domain.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if err := m.writableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.doc == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	if check != nil {
		if err := check(m.doc); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.doc = merge(m.doc, patch)
	doc := m.doc.Clone()
	m.mu.Unlock()

	m.subs.publish(doc)
	return nil
}

func (m *MemoryStore) Put(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if err := m.writableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.doc = doc.Clone()
	out := m.doc.Clone()
	m.mu.Unlock()

	m.subs.publish(out)
	return nil
}

func (m *MemoryStore) writableLocked() error {
	if m.closed {
		return ErrClosed
	}
	return m.FailWith
}

func (m *MemoryStore) Subscribe(fn func(domain.Document)) func() {
	return m.subs.subscribe(fn)
}

// Delete removes the document, as if it had never been created.
func (m *MemoryStore) Delete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.subs.closeAll()
	return nil
}
