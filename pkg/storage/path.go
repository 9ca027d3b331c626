package storage

import (
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/inbucket/mailvault/pkg/stringutil"
)

// PathAllocator hands out fresh relative blob paths.  A path is sharded by the sha1 hash of the
// blob name, and made unique by a timestamp plus a counter kept per directory.
type PathAllocator struct {
	mu     sync.Mutex
	now    func() time.Time
	counts map[string]uint64
}

// NewPathAllocator creates an allocator using the given clock, or time.Now if nil.
func NewPathAllocator(now func() time.Time) *PathAllocator {
	if now == nil {
		now = time.Now
	}
	return &PathAllocator{
		now:    now,
		counts: make(map[string]uint64),
	}
}

// Next returns a path for a new blob.  The result has the shape
// kind/hhh/hhhhhh/<timestamp>-<counter>-<name>.
func (a *PathAllocator) Next(kind, name string) string {
	hash := stringutil.HashName(name)
	dir := path.Join(kind, hash[0:3], hash[0:6])
	a.mu.Lock()
	n := a.counts[dir]
	a.counts[dir] = n + 1
	a.mu.Unlock()
	return path.Join(dir, fmt.Sprintf("%s-%04d-%s", generatePrefix(a.now()), n,
		stringutil.SafeFileName(name)))
}

// generatePrefix converts a Time object into the ISO style format we use as a prefix for blob
// files.
func generatePrefix(date time.Time) string {
	return date.UTC().Format("20060102T150405")
}
