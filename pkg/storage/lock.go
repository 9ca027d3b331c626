package storage

import (
	"strconv"
	"sync"

	"github.com/inbucket/mailvault/pkg/stringutil"
)

// BlobLocks guards blob paths with a fixed table of locks.  A path maps to the slot named by the
// first three hex digits of its hashed name, so a writer replacing a blob and a reader of the
// same blob always share a lock.
type BlobLocks [4096]sync.RWMutex

// For returns the lock guarding the blob at path p.
func (l *BlobLocks) For(p string) *sync.RWMutex {
	i, err := strconv.ParseUint(stringutil.HashName(p)[:3], 16, 16)
	if err != nil {
		return &l[0]
	}
	return &l[i]
}
