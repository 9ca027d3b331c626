// Package storage contains implementation independent blob storage logic.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/inbucket/mailvault/pkg/config"
)

var (
	// ErrNotExist indicates the requested blob does not exist.
	ErrNotExist = errors.New("blob does not exist")

	// ErrNotWritable indicates the store refused a write.
	ErrNotWritable = errors.New("blob store not writable")

	// ErrInvalidPath indicates a blob path outside of the store.
	ErrInvalidPath = errors.New("invalid blob path")
)

// Blob kinds, used as the top level directory of a blob path.
const (
	KindRaw        = "raw"
	KindAttachment = "attachments"
	KindRendering  = "html"
	KindArchive    = "archives"
)

// Store is the interface mailvault uses to keep raw messages, attachments and renderings.
// Paths returned by Write are slash separated and relative to the store.
type Store interface {
	Write(ctx context.Context, kind, name string, r io.Reader) (path string, err error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

// StoreFactory constructs a Store from its configuration.
type StoreFactory func(config.Storage) (Store, error)

var storeFactories = make(map[string]StoreFactory)

// RegisterStore registers a factory function capable of creating a Store for the specified
// type.
func RegisterStore(name string, factory StoreFactory) {
	if _, exists := storeFactories[name]; exists {
		panic(fmt.Sprintf("storage.RegisterStore called twice for type %q", name))
	}
	storeFactories[name] = factory
}

// FromConfig creates an instance of the Store based on the provided configuration.
func FromConfig(c config.Storage) (store Store, err error) {
	if factory, ok := storeFactories[c.Type]; ok {
		return factory(c)
	}
	return nil, fmt.Errorf("unknown storage type configured: %q", c.Type)
}

// CleanPath validates a blob path and returns it in canonical form.
func CleanPath(p string) (string, error) {
	if p == "" || strings.ContainsRune(p, '\\') {
		return "", ErrInvalidPath
	}
	p = path.Clean(p)
	if path.IsAbs(p) || p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", ErrInvalidPath
	}
	return p, nil
}

// ReadAll opens the blob at path and returns its content.
func ReadAll(s Store, path string) ([]byte, error) {
	r, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()
	return io.ReadAll(r)
}
