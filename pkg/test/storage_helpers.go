package test

import (
	"context"
	"strings"
	"testing"

	"github.com/inbucket/mailvault/pkg/storage"
)

// WriteString writes content to the store as a blob, failing the test on error.
func WriteString(t *testing.T, store storage.Store, kind, name, content string) string {
	t.Helper()
	p, err := store.Write(context.Background(), kind, name, strings.NewReader(content))
	if err != nil {
		t.Fatalf("Failed to write %q: %v", name, err)
	}
	return p
}

// CountBlobs opens every path and returns how many still exist.
func CountBlobs(t *testing.T, store storage.Store, paths []string) int {
	t.Helper()
	n := 0
	for _, p := range paths {
		r, err := store.Open(p)
		if err != nil {
			continue
		}
		_ = r.Close()
		n++
	}
	return n
}
