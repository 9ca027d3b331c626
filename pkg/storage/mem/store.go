package mem

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/inbucket/mailvault/pkg/config"
	"github.com/inbucket/mailvault/pkg/storage"
)

// Name of this store type, as used in configuration.
const Name = "memory"

// Store implements an in-memory blob store.
type Store struct {
	sync.Mutex
	blobs    map[string]*blob
	alloc    *storage.PathAllocator
	incoming chan *blobDone // New blobs for size enforcer.
	remove   chan *blobDone // Remove deleted blobs from size enforcer.
}

// blob is one stored object.
type blob struct {
	path    string
	content []byte
	el      *list.Element // This blob in the enforcer's list.
}

var _ storage.Store = &Store{}

func init() {
	storage.RegisterStore(Name, New)
}

// New returns an empty memory store.
func New(cfg config.Storage) (storage.Store, error) {
	s := &Store{
		blobs: make(map[string]*blob),
		alloc: storage.NewPathAllocator(nil),
	}
	if str, ok := cfg.Params["maxkb"]; ok {
		maxKB, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse maxkb: %v", err)
		}
		if maxKB > 0 {
			// Setup enforcer.
			s.incoming = make(chan *blobDone)
			s.remove = make(chan *blobDone)
			go s.maxSizeEnforcer(maxKB * 1024)
		}
	}
	return s, nil
}

// Write reads r fully and keeps its content under a fresh path.
func (s *Store) Write(ctx context.Context, kind, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b := &blob{content: content}
	s.Lock()
	for {
		b.path = s.alloc.Next(kind, name)
		if _, exists := s.blobs[b.path]; !exists {
			break
		}
	}
	s.blobs[b.path] = b
	s.Unlock()
	s.enforcerDeliver(b)
	return b.path, nil
}

// Open returns a reader over the blob content.
func (s *Store) Open(p string) (io.ReadCloser, error) {
	p, err := storage.CleanPath(p)
	if err != nil {
		return nil, err
	}
	s.Lock()
	b, ok := s.blobs[p]
	s.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotExist, p)
	}
	return io.NopCloser(bytes.NewReader(b.content)), nil
}

// Remove deletes a single blob.
func (s *Store) Remove(p string) error {
	p, err := storage.CleanPath(p)
	if err != nil {
		return err
	}
	b := s.removeBlob(p)
	if b == nil {
		return fmt.Errorf("%w: %s", storage.ErrNotExist, p)
	}
	s.enforcerRemove(b)
	return nil
}

// Size returns the total number of bytes held by the store.
func (s *Store) Size() int64 {
	s.Lock()
	defer s.Unlock()
	total := int64(0)
	for _, b := range s.blobs {
		total += int64(len(b.content))
	}
	return total
}

// removeBlob deletes a single blob without notifying the size enforcer.  Returns the blob that
// was removed.
func (s *Store) removeBlob(p string) *blob {
	s.Lock()
	defer s.Unlock()
	b := s.blobs[p]
	if b != nil {
		delete(s.blobs, p)
	}
	return b
}
