package syncstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mescon/InfinityStatus/internal/domain"
	"github.com/mescon/InfinityStatus/internal/logger"
)

// Codec turns a document into file bytes and back.
type Codec interface {
	Marshal(doc domain.Document) ([]byte, error)
	Unmarshal(data []byte) (domain.Document, error)
	Name() string
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(doc domain.Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

func (jsonCodec) Unmarshal(data []byte) (domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// cborCodec uses core deterministic encoding so identical documents produce identical bytes.
type cborCodec struct {
	enc cbor.EncMode
}

func newCBORCodec() cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder options: %v", err))
	}
	return cborCodec{enc: enc}
}

func (cborCodec) Name() string { return "cbor" }

func (c cborCodec) Marshal(doc domain.Document) ([]byte, error) {
	return c.enc.Marshal(doc)
}

func (cborCodec) Unmarshal(data []byte) (domain.Document, error) {
	var doc domain.Document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// CodecForPath picks CBOR for .cbor files and JSON for everything else.
func CodecForPath(path string) Codec {
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return newCBORCodec()
	}
	return jsonCodec{}
}

// FileStore keeps the document in a single file, written atomically through a
// temporary file and rename. Changes made by other processes are noticed by polling
// the file's modification time and size.
type FileStore struct {
	path     string
	codec    Codec
	interval time.Duration
	subs     *fanout

	mu       sync.Mutex // serializes read-modify-write within this process
	last     []byte     // bytes of the last version published
	stopPoll chan struct{}
	pollDone chan struct{}
	closed   bool
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by path. The codec follows the file extension.
func NewFileStore(path string, pollInterval time.Duration) *FileStore {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &FileStore{
		path:     path,
		codec:    CodecForPath(path),
		interval: pollInterval,
		subs:     newFanout(),
	}
}

func (f *FileStore) Name() string { return "file:" + f.path }

func (f *FileStore) Read(ctx context.Context) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, _, err := f.readLocked()
	return doc, err
}

func (f *FileStore) readLocked() (domain.Document, []byte, error) {
	if f.closed {
		return nil, nil, ErrClosed
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	doc, err := f.codec.Unmarshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s as %s: %w", f.path, f.codec.Name(), err)
	}
	if doc == nil {
		doc = domain.Document{}
	}
	return doc, data, nil
}

func (f *FileStore) Update(ctx context.Context, patch domain.Document) error {
	return f.update(ctx, patch, nil)
}

// UpdateIf compares and writes under the process lock. Writers in other processes
// are not excluded; the file layout has no version to check against.
func (f *FileStore) UpdateIf(ctx context.Context, patch, expect domain.Document) error {
	return f.update(ctx, patch, func(cur domain.Document) error {
		return checkExpected(cur, patch, expect)
	})
}

func (f *FileStore) update(ctx context.Context, patch domain.Document, check func(domain.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, _, err := f.readLocked()
	if err != nil {
		return err
	}
	if check != nil {
		if err := check(cur); err != nil {
			return err
		}
	}
	return f.writeLocked(merge(cur, patch))
}

func (f *FileStore) Put(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.writeLocked(doc)
}

func (f *FileStore) writeLocked(doc domain.Document) error {
	data, err := f.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document as %s: %w", f.codec.Name(), err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}

	f.last = data
	f.subs.publish(doc)
	return nil
}

// Subscribe starts the file poller on first use.
func (f *FileStore) Subscribe(fn func(domain.Document)) func() {
	cancel := f.subs.subscribe(fn)

	f.mu.Lock()
	if f.stopPoll == nil && !f.closed {
		f.stopPoll = make(chan struct{})
		f.pollDone = make(chan struct{})
		go f.poll(f.stopPoll, f.pollDone)
	}
	f.mu.Unlock()

	return cancel
}

func (f *FileStore) poll(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	var (
		lastMod  time.Time
		lastSize int64 = -1
	)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		info, err := os.Stat(f.path)
		if err != nil {
			continue
		}
		if info.ModTime().Equal(lastMod) && info.Size() == lastSize {
			continue
		}
		lastMod, lastSize = info.ModTime(), info.Size()

		f.mu.Lock()
		doc, data, err := f.readLocked()
		changed := err == nil && !bytes.Equal(data, f.last)
		if changed {
			f.last = data
		}
		f.mu.Unlock()

		if err != nil {
			if !errors.Is(err, ErrClosed) {
				logger.Warnf("Sync poll could not read %s: %v", f.path, err)
			}
			continue
		}
		if changed {
			f.subs.publish(doc)
		}
	}
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	stop, done := f.stopPoll, f.pollDone
	f.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	f.subs.closeAll()
	return nil
}
