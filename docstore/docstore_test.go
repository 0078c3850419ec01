package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Version int      `json:"version"`
	Items   []string `json:"items"`
}

func openTestStore(t *testing.T, path string) *Store[testDoc] {
	t.Helper()
	s, err := Open(Options[testDoc]{
		Path:  path,
		Fresh: func() *testDoc { return &testDoc{Version: 1} },
	})
	require.NoError(t, err)
	return s
}

func TestOpenMissingFileStartsFresh(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.json"))

	doc, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)
	require.Empty(t, doc.Items)
}

func TestOpenCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := openTestStore(t, path)
	doc, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)

	// The corrupt file is left untouched until a mutation succeeds.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{not json", string(data))
}

func TestMutatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s := openTestStore(t, path)

	err := s.Mutate(context.Background(), func(doc *testDoc) error {
		doc.Items = append(doc.Items, "first")
		return nil
	})
	require.NoError(t, err)

	reopened := openTestStore(t, path)
	doc, err := reopened.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, doc.Items)
}

func TestMutateErrorRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s := openTestStore(t, path)

	require.NoError(t, s.Mutate(context.Background(), func(doc *testDoc) error {
		doc.Items = []string{"kept"}
		return nil
	}))

	failure := errors.New("validation failed")
	err := s.Mutate(context.Background(), func(doc *testDoc) error {
		doc.Items = append(doc.Items, "discarded")
		return failure
	})
	require.ErrorIs(t, err, failure)

	doc, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, doc.Items)

	// Disk matches memory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "discarded")
}

func TestMutateNoChangeSkipsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	s := openTestStore(t, path)

	require.NoError(t, s.Mutate(context.Background(), func(*testDoc) error {
		return ErrNoChange
	}))

	// No write happened, the file was never created.
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestApplyNoChangeCarriesResult(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.json"))

	got, err := Apply(context.Background(), s, func(*testDoc) (string, error) {
		return "unchanged", ErrNoChange
	})
	require.NoError(t, err)
	require.Equal(t, "unchanged", got)
}

func TestApplyReturnsResult(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.json"))

	count, err := Apply(context.Background(), s, func(doc *testDoc) (int, error) {
		doc.Items = append(doc.Items, "a", "b")
		return len(doc.Items), nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestSnapshotIsDetached(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.json"))

	require.NoError(t, s.Mutate(context.Background(), func(doc *testDoc) error {
		doc.Items = []string{"original"}
		return nil
	}))

	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	snap.Items[0] = "mutated copy"

	doc, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, "original", doc.Items[0])
}

func TestMutateSerializesWriters(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "store.json"))

	const writers = 20
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Mutate(context.Background(), func(doc *testDoc) error {
				doc.Version++
				return nil
			})
		}()
	}
	wg.Wait()

	doc, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1+writers, doc.Version)
}

func TestNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, filepath.Join(dir, "store.json"))

	require.NoError(t, s.Mutate(context.Background(), func(doc *testDoc) error {
		doc.Version = 7
		return nil
	}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "store.json", entries[0].Name())
}
