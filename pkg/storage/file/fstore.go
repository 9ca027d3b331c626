package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/storage"
	"github.com/rs/zerolog/log"
)

// Name of this store type, as used in configuration.
const Name = "file"

// maxAttempts bounds the number of fresh paths tried when a write collides with an existing file.
const maxAttempts = 5

// Store implements storage.Store on a directory tree.
type Store struct {
	locks         storage.BlobLocks
	path          string
	alloc         *storage.PathAllocator
	bufReaderPool sync.Pool
}

var _ storage.Store = &Store{}

func init() {
	storage.RegisterStore(Name, New)
}

// New creates a file Store rooted at the configured path.
func New(cfg config.Storage) (storage.Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("'path' parameter not specified")
	}
	path := getBlobPath(cfg.Path)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0700); err != nil {
				log.Error().Str("module", "storage").Str("path", path).Err(err).
					Msg("Error creating dir")
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	return &Store{
		path:  path,
		alloc: storage.NewPathAllocator(nil),
		bufReaderPool: sync.Pool{
			New: func() any {
				return bufio.NewReader(nil)
			},
		},
	}, nil
}

// Write stores the content of r under a fresh path, and returns that path.  A partially written
// file is removed when r or the disk fails.
func (fs *Store) Write(ctx context.Context, kind, name string, r io.Reader) (string, error) {
	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := fs.alloc.Next(kind, name)
		err := fs.writeFile(ctx, p, r)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return p, nil
	}
	return "", fmt.Errorf("%w: no free path for %q", storage.ErrNotWritable, name)
}

// Open returns a reader for the blob at p.
func (fs *Store) Open(p string) (io.ReadCloser, error) {
	p, err := storage.CleanPath(p)
	if err != nil {
		return nil, err
	}
	lock := fs.lock(p)
	lock.RLock()
	defer lock.RUnlock()

	file, err := os.Open(fs.filePath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotExist, p)
		}
		return nil, err
	}
	return file, nil
}

// Remove deletes the blob at p, then any directories the removal left empty.
func (fs *Store) Remove(p string) error {
	p, err := storage.CleanPath(p)
	if err != nil {
		return err
	}
	lock := fs.lock(p)
	lock.Lock()
	defer lock.Unlock()

	full := fs.filePath(p)
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", storage.ErrNotExist, p)
		}
		return err
	}
	// Removing a non-empty directory fails, which ends the walk.
	for dir := filepath.Dir(full); dir != fs.path && strings.HasPrefix(dir, fs.path); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (fs *Store) writeFile(ctx context.Context, p string, r io.Reader) error {
	lock := fs.lock(p)
	lock.Lock()
	defer lock.Unlock()

	full := fs.filePath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return notWritable(err)
	}
	file, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return err
		}
		return notWritable(err)
	}
	br := fs.getPooledReader(&ctxReader{ctx: ctx, r: r})
	defer fs.putPooledReader(br)
	w := bufio.NewWriter(file)
	_, err = br.WriteTo(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := os.Remove(full); rerr != nil {
			log.Warn().Str("module", "storage").Str("path", full).Err(rerr).
				Msg("Failed to remove partial blob")
		}
		return err
	}
	return nil
}

func (fs *Store) lock(p string) *sync.RWMutex {
	return fs.locks.For(p)
}

// filePath converts a blob path into an OS file path under the store root.
func (fs *Store) filePath(p string) string {
	return filepath.Join(fs.path, filepath.FromSlash(p))
}

// getPooledReader pulls a buffered reader from the fs.bufReaderPool.
func (fs *Store) getPooledReader(r io.Reader) *bufio.Reader {
	br := fs.bufReaderPool.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

// putPooledReader returns a buffered reader to the fs.bufReaderPool.
func (fs *Store) putPooledReader(br *bufio.Reader) {
	br.Reset(nil)
	fs.bufReaderPool.Put(br)
}

// ctxReader stops reading once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

func notWritable(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", storage.ErrNotWritable, err)
	}
	return err
}

// getBlobPath converts a filestore `path` parameter into the effective blob store path.
// Within the path, '$' is replaced with ':' to support Windows drive letters with our
// env->config map syntax.
func getBlobPath(base string) string {
	path := strings.ReplaceAll(base, "$", ":")
	return filepath.Join(path, "blobs")
}
