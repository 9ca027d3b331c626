package mem

import "container/list"

type blobDone struct {
	blob *blob
	done chan struct{}
}

// maxSizeEnforcer will delete the oldest blob until the entire store is equal to or less than
// maxSize bytes.
func (s *Store) maxSizeEnforcer(maxSize int64) {
	all := &list.List{}
	curSize := int64(0)
	for {
		select {
		case bd, ok := <-s.incoming:
			if !ok {
				return
			}
			// Add blob to all.
			b := bd.blob
			b.el = all.PushBack(b)
			curSize += int64(len(b.content))
			for curSize > maxSize {
				// Remove oldest blob.
				el := all.Front()
				all.Remove(el)
				old := el.Value.(*blob)
				if s.removeBlob(old.path) != nil {
					curSize -= int64(len(old.content))
				}
			}
			close(bd.done)
		case bd, ok := <-s.remove:
			if !ok {
				return
			}
			// Remove blob from all.
			b := bd.blob
			if b.el != nil && all.Remove(b.el) != nil {
				curSize -= int64(len(b.content))
			}
			close(bd.done)
		}
	}
}

// enforcerDeliver sends delivery to enforcer if configured, and waits for completion.
func (s *Store) enforcerDeliver(b *blob) {
	if s.incoming != nil {
		bd := &blobDone{
			blob: b,
			done: make(chan struct{}),
		}
		s.incoming <- bd
		<-bd.done
	}
}

// enforcerRemove sends removal to enforcer if configured, and waits for completion.
func (s *Store) enforcerRemove(b *blob) {
	if s.remove != nil {
		bd := &blobDone{
			blob: b,
			done: make(chan struct{}),
		}
		s.remove <- bd
		<-bd.done
	}
}
