package soft

import (
	"sync/atomic"

	"keyd/internal/domain"
)

// Allocator hands out strictly increasing key identifiers.
type Allocator struct {
	next atomic.Uint64
}

func NewAllocator(start domain.KeyID) *Allocator {
	a := &Allocator{}
	a.next.Store(uint64(start))
	return a
}

func (a *Allocator) Next() domain.KeyID {
	return domain.KeyID(a.next.Add(1) - 1)
}

// Peek reports the identifier the next call to Next will return.
func (a *Allocator) Peek() domain.KeyID {
	return domain.KeyID(a.next.Load())
}
