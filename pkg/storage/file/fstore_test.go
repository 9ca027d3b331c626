package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/storage"
	"github.com/inbucket/mailvault/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSuite runs storage package test suite on file store.
func TestSuite(t *testing.T) {
	test.StoreSuite(t,
		func(conf config.Storage) (storage.Store, func(), error) {
			ds := setupDataStore(t, conf)
			return ds, func() {}, nil
		})
}

// Test filestore initialization.
func TestFSNew(t *testing.T) {
	// Should fail if no path specified.
	ds, err := New(config.Storage{})
	require.ErrorContains(t, err, "parameter not specified")
	assert.Nil(t, ds)
}

func TestFSRegistered(t *testing.T) {
	s, err := storage.FromConfig(config.Storage{Type: Name, Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Store{}, s)
}

func TestFSGetBlobPath(t *testing.T) {
	// Path should have `blobs` dir appended.
	got := getBlobPath(`one`)
	assert.Regexp(t, "^one.blobs$", got, "Expected one/blobs or similar")

	// Path should convert `$` to `:`.
	got = getBlobPath(`C$\mailvault`)
	assert.Regexp(t, "^C:.mailvault.blobs$", got, "Expected C:\\mailvault\\blobs or similar")
}

// Test directory structure created by filestore.
func TestFSDirStructure(t *testing.T) {
	ds := setupDataStore(t, config.Storage{})
	root := ds.path

	// Check filestore root exists
	assert.True(t, isDir(root), "Expected %q to be a directory", root)

	// "mail" hashes to 1d6e1cf70ec6f9ab28d3ea4b27a49a77654d370e
	expect := filepath.Join(root, "raw", "1d6")
	assert.False(t, isDir(expect), "Expected %q to not exist", expect)

	p := test.WriteString(t, ds, storage.KindRaw, "mail", "content")
	assert.True(t, isDir(expect), "Expected %q to be a directory", expect)
	expect = filepath.Join(expect, "1d6e1c")
	assert.True(t, isDir(expect), "Expected %q to be a directory", expect)
	assert.True(t, isFile(filepath.Join(root, filepath.FromSlash(p))))

	// Removing the only blob cleans up the shard directories, but not the root.
	require.NoError(t, ds.Remove(p))
	assert.False(t, isPresent(filepath.Join(root, "raw")), "Expected raw dir to be removed")
	assert.True(t, isDir(root))
}

// A failed write must not leave a partial file behind.
func TestFSPartialWriteRemoved(t *testing.T) {
	ds := setupDataStore(t, config.Storage{})
	ctx, cancel := context.WithCancel(context.Background())
	r := &cancelingReader{data: strings.Repeat("x", 10000), cancel: cancel}

	_, err := ds.Write(ctx, storage.KindRaw, "partial.eml", r)
	require.ErrorIs(t, err, context.Canceled)

	var files []string
	err = filepath.Walk(ds.path, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files = append(files, path)
		}
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, files)
}

// A collision with an existing file moves on to the next counter value.
func TestFSCollision(t *testing.T) {
	ds := setupDataStore(t, config.Storage{})
	first := test.WriteString(t, ds, storage.KindRaw, "same.eml", "first")

	// Fresh allocator restarts the counter, so its first path collides within the same second.
	ds.alloc = storage.NewPathAllocator(nil)
	second, err := ds.Write(context.Background(), storage.KindRaw, "same.eml",
		strings.NewReader("second"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	got, err := storage.ReadAll(ds, first)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

// setupDataStore creates a new file Store in a temporary directory.
func setupDataStore(t *testing.T, cfg config.Storage) *Store {
	t.Helper()
	cfg.Path = t.TempDir()
	s, err := New(cfg)
	require.NoError(t, err)
	return s.(*Store)
}

// cancelingReader hands out one chunk, then cancels its context.
type cancelingReader struct {
	data   string
	cancel context.CancelFunc
	done   bool
}

func (r *cancelingReader) Read(p []byte) (int, error) {
	if r.done {
		r.cancel()
		return copy(p, "more"), nil
	}
	r.done = true
	return copy(p, r.data), nil
}

func isPresent(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func isFile(path string) bool {
	if fi, err := os.Lstat(path); err == nil {
		return !fi.IsDir()
	}
	return false
}

func isDir(path string) bool {
	if fi, err := os.Lstat(path); err == nil {
		return fi.IsDir()
	}
	return false
}
