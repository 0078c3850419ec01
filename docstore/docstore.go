// Package docstore persists a single JSON document per store and
// serializes every mutation behind one lock, so readers always see a
// fully applied state and writes hit disk in submission order.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoChange can be returned by a mutation to report that it left the
// document as-is. The store skips the write and the caller sees
// success.
var ErrNoChange = errors.New("docstore: no change")

// Options configures a Store for document type T.
type Options[T any] struct {
	// Path is the JSON file backing the store.
	Path string
	// Fresh returns an empty document, used when Path is missing or
	// unreadable.
	Fresh func() *T
	// Normalize repairs a loaded document in place. Optional.
	Normalize func(*T)
	// Mirror, when set, receives a copy of every successful write.
	Mirror *Mirror
	Logger *slog.Logger
}

// Store owns one document of type T.
type Store[T any] struct {
	mu        sync.Mutex
	doc       *T
	path      string
	normalize func(*T)
	mirror    *Mirror
	logger    *slog.Logger
}

// Open loads the document at opts.Path, or starts fresh when the file
// is missing or corrupt. A corrupt file is never overwritten until the
// first successful mutation.
func Open[T any](opts Options[T]) (*Store[T], error) {
	if opts.Fresh == nil {
		return nil, fmt.Errorf("docstore: Fresh is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store[T]{
		path:      opts.Path,
		normalize: opts.Normalize,
		mirror:    opts.Mirror,
		logger:    logger,
	}

	doc := opts.Fresh()
	data, err := os.ReadFile(opts.Path)
	switch {
	case err == nil:
		if unmarshalErr := json.Unmarshal(data, doc); unmarshalErr != nil {
			logger.Warn("Store file is corrupt, starting fresh", "path", opts.Path, "error", unmarshalErr)
			doc = opts.Fresh()
		}
	case os.IsNotExist(err):
		logger.Info("Store file missing, starting fresh", "path", opts.Path)
	default:
		return nil, fmt.Errorf("read store file: %w", err)
	}

	if s.normalize != nil {
		s.normalize(doc)
	}
	s.doc = doc
	return s, nil
}

// Mutate applies fn to the document and persists the result. The lock
// is held across read, mutation, and write, so concurrent callers are
// applied one at a time in arrival order. If fn returns an error the
// document is restored from a deep copy and nothing is written;
// ErrNoChange restores too but reports success.
func (s *Store[T]) Mutate(ctx context.Context, fn func(*T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup, err := clone(s.doc)
	if err != nil {
		return fmt.Errorf("snapshot before mutation: %w", err)
	}

	if err := fn(s.doc); err != nil {
		s.doc = backup
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		return err
	}

	if err := s.persist(ctx); err != nil {
		s.doc = backup
		return err
	}
	return nil
}

// Apply runs fn like Mutate but also carries a typed result out of the
// critical section. Declared at package level because a method cannot
// introduce its own type parameter.
func Apply[T, R any](ctx context.Context, s *Store[T], fn func(*T) (R, error)) (R, error) {
	var result R
	err := s.Mutate(ctx, func(doc *T) error {
		var fnErr error
		result, fnErr = fn(doc)
		return fnErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}

// Snapshot returns a deep copy of the current document. Callers may
// read it freely without holding the store lock.
func (s *Store[T]) Snapshot(_ context.Context) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.doc)
}

// persist writes the document via temp file and rename, then mirrors
// asynchronously. Caller holds s.mu.
func (s *Store[T]) persist(ctx context.Context) error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}

	if s.mirror != nil {
		object := filepath.Base(s.path)
		go s.mirror.Upload(context.WithoutCancel(ctx), object, data)
	}
	return nil
}

func clone[T any](doc *T) (*T, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal for clone: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("unmarshal clone: %w", err)
	}
	return out, nil
}
