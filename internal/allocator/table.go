// Package allocator owns exclusive receptor assignment: which subarray,
// if any, holds each receptor and its backing VCC node.
package allocator

import "sync"

// ReceptorTable is the process-wide ownership table shared by every
// subarray. The receptor-to-VCC mapping comes from the fleet topology and
// is read-only; ownership changes only through Allocator calls.
type ReceptorTable struct {
	mu      sync.Mutex
	vccOf   map[int]int // receptor id -> VCC id
	ownerOf map[int]int // receptor id -> subarray id, 0 = unowned
}

// NewReceptorTable builds the table from the topology's receptor map.
func NewReceptorTable(receptorToVCC map[int]int) *ReceptorTable {
	vccOf := make(map[int]int, len(receptorToVCC))
	ownerOf := make(map[int]int, len(receptorToVCC))
	for r, v := range receptorToVCC {
		vccOf[r] = v
		ownerOf[r] = 0
	}
	return &ReceptorTable{vccOf: vccOf, ownerOf: ownerOf}
}

// VCCFor resolves a receptor to its backing VCC id.
func (t *ReceptorTable) VCCFor(receptor int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.vccOf[receptor]
	return v, ok
}

// Owner returns the subarray currently holding a receptor, 0 if unowned.
func (t *ReceptorTable) Owner(receptor int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ownerOf[receptor]
}

// claim takes ownership iff the receptor is unowned. Returns the previous
// owner (0 on success).
func (t *ReceptorTable) claim(receptor, subarrayID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev := t.ownerOf[receptor]; prev != 0 {
		return prev
	}
	t.ownerOf[receptor] = subarrayID
	return 0
}

// release clears ownership iff held by the given subarray.
func (t *ReceptorTable) release(receptor, subarrayID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ownerOf[receptor] != subarrayID {
		return false
	}
	t.ownerOf[receptor] = 0
	return true
}
