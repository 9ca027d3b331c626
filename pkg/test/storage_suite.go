package test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns a new store for the test suite.
type StoreFactory func(config.Storage) (store storage.Store, destroy func(), err error)

// StoreSuite runs a set of general tests on the provided Store.
func StoreSuite(t *testing.T, factory StoreFactory) {
	testCases := []struct {
		name string
		test func(*testing.T, storage.Store)
		conf config.Storage
	}{
		{"content", testContent, config.Storage{}},
		{"unique paths", testUniquePaths, config.Storage{}},
		{"missing", testMissing, config.Storage{}},
		{"invalid path", testInvalidPath, config.Storage{}},
		{"remove", testRemove, config.Storage{}},
		{"canceled", testCanceled, config.Storage{}},
		{"reader error", testReaderError, config.Storage{}},
		{"concurrent", testConcurrent, config.Storage{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, destroy, err := factory(tc.conf)
			if err != nil {
				t.Fatal(err)
			}
			tc.test(t, store)
			destroy()
		})
	}
}

// testContent verifies blob content survives a write/open round trip.
func testContent(t *testing.T, store storage.Store) {
	content := "From: a@example.com\r\nSubject: content\r\n\r\nHello\r\n"
	p, err := store.Write(context.Background(), storage.KindRaw, "<id@example.com>.eml",
		strings.NewReader(content))
	require.NoError(t, err)
	require.NotEmpty(t, p)
	assert.True(t, strings.HasPrefix(p, storage.KindRaw+"/"), "path %q should start with kind", p)

	got, err := storage.ReadAll(store, p)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

// testUniquePaths verifies blobs with the same name do not overwrite each other.
func testUniquePaths(t *testing.T, store storage.Store) {
	ctx := context.Background()
	p1 := WriteString(t, store, storage.KindAttachment, "report.pdf", "one")
	p2 := WriteString(t, store, storage.KindAttachment, "report.pdf", "two")
	assert.NotEqual(t, p1, p2)

	got, err := storage.ReadAll(store, p1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
	got, err = storage.ReadAll(store, p2)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	_, err = store.Write(ctx, storage.KindAttachment, "", strings.NewReader("anonymous"))
	assert.NoError(t, err)
}

// testMissing verifies the ErrNotExist contract.
func testMissing(t *testing.T, store storage.Store) {
	_, err := store.Open("raw/000/000000/20240101T000000-0000-nothing.eml")
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

// testInvalidPath verifies paths escaping the store are refused.
func testInvalidPath(t *testing.T, store storage.Store) {
	for _, p := range []string{"", "../outside", "/etc/passwd"} {
		_, err := store.Open(p)
		assert.ErrorIs(t, err, storage.ErrInvalidPath, "Open(%q)", p)
		err = store.Remove(p)
		assert.ErrorIs(t, err, storage.ErrInvalidPath, "Remove(%q)", p)
	}
}

// testRemove verifies removed blobs are gone, and removing twice reports ErrNotExist.
func testRemove(t *testing.T, store storage.Store) {
	keep := WriteString(t, store, storage.KindRendering, "a.html", "<p>keep</p>")
	gone := WriteString(t, store, storage.KindRendering, "a.html", "<p>gone</p>")

	require.NoError(t, store.Remove(gone))
	_, err := store.Open(gone)
	assert.ErrorIs(t, err, storage.ErrNotExist)
	assert.ErrorIs(t, store.Remove(gone), storage.ErrNotExist)

	got, err := storage.ReadAll(store, keep)
	require.NoError(t, err)
	assert.Equal(t, "<p>keep</p>", string(got))
}

// testCanceled verifies a canceled context prevents the write.
func testCanceled(t *testing.T, store storage.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Write(ctx, storage.KindRaw, "late.eml", strings.NewReader("late"))
	assert.ErrorIs(t, err, context.Canceled)
}

// testReaderError verifies a failing source is reported and no path is returned.
func testReaderError(t *testing.T, store storage.Store) {
	boom := errors.New("source exploded")
	p, err := store.Write(context.Background(), storage.KindRaw, "broken.eml", &failingReader{
		data: "partial content",
		err:  boom,
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, p)
}

// testConcurrent writes from several goroutines and reads everything back.
func testConcurrent(t *testing.T, store storage.Store) {
	const workers, each = 4, 10
	var mu sync.Mutex
	written := make(map[string]string)
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				content := fmt.Sprintf("worker %d blob %d", w, i)
				p, err := store.Write(context.Background(), storage.KindRaw, "same.eml",
					strings.NewReader(content))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				written[p] = content
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, written, workers*each)
	for p, want := range written {
		got, err := storage.ReadAll(store, p)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

type failingReader struct {
	data string
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, r.err
	}
	r.done = true
	return copy(p, r.data), nil
}
