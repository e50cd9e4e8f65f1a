package tickid

import "fmt"

// FreeList hands out ParticipantId (or ConnectionId, same shape) values in
// the range 0..=254, reusing ids that have been returned via Release.
type FreeList struct {
	next      uint16
	available []ParticipantId
	inUse     map[ParticipantId]bool
}

// NewFreeList creates an empty free list.
func NewFreeList() *FreeList {
	return &FreeList{inUse: make(map[ParticipantId]bool)}
}

// ErrFreeListExhausted is returned when no id in 0..=254 remains available.
var ErrFreeListExhausted = fmt.Errorf("free list exhausted")

// Allocate returns the next available id, preferring released ids over
// fresh ones; the most recently released id is handed out first.
func (f *FreeList) Allocate() (ParticipantId, error) {
	if n := len(f.available); n > 0 {
		id := f.available[n-1]
		f.available = f.available[:n-1]
		f.inUse[id] = true
		return id, nil
	}
	if f.next >= uint16(ReservedParticipantId) {
		return 0, ErrFreeListExhausted
	}
	id := ParticipantId(f.next)
	f.next++
	f.inUse[id] = true
	return id, nil
}

// Release returns id to the pool. Releasing an id not currently in use is a
// no-op.
func (f *FreeList) Release(id ParticipantId) {
	if !f.inUse[id] {
		return
	}
	delete(f.inUse, id)
	f.available = append(f.available, id)
}

// InUse reports whether id is currently allocated.
func (f *FreeList) InUse(id ParticipantId) bool {
	return f.inUse[id]
}
