package vapidgc

import "github.com/hato1883/vapidgc/pointerset"

// RootSet tracks the set of heap addresses a caller currently holds
// live references to. A collection's root-discovery phase starts from
// exactly this set.
//
// A conservative collector finds its roots by scanning a stack's raw
// bytes for anything that looks like a heap address. Go gives user code
// no equivalent way to walk its own goroutine stack, so root discovery
// here is explicit instead: a caller pins an address with PushRoot
// before it can be invalidated by a collection, and unpins it with
// PopRoot once it no longer needs to keep that object alive. The name
// mirrors the push/pop discipline a stack scan would have observed for
// free.
type RootSet struct {
	held *pointerset.Set
}

func newRootSet() *RootSet {
	return &RootSet{held: pointerset.New()}
}

// PushRoot registers addr as a live root. Registering the same address
// more than once is harmless: duplicate pushes collapse to a single
// membership in the underlying set, and a single PopRoot is enough to
// unpin it again regardless of how many times it was pushed.
func (r *RootSet) PushRoot(addr uintptr) {
	r.held.Insert(addr)
}

// PopRoot unregisters addr as a root. Popping an address that was never
// pushed, or was already popped, is a no-op.
func (r *RootSet) PopRoot(addr uintptr) {
	if !r.held.Contains(addr) {
		return
	}
	remaining := pointerset.New()
	r.held.Each(func(p uintptr) {
		if p != addr {
			remaining.Insert(p)
		}
	})
	r.held = remaining
}

// Snapshot returns the current root addresses.
func (r *RootSet) Snapshot() []uintptr {
	return r.held.Slice()
}

// AddRoot registers addr as a live root on the default heap's root set.
// It panics if no heap has been created yet.
func AddRoot(addr uintptr) {
	h := Default()
	if h == nil {
		panic("vapidgc: AddRoot called with no default heap")
	}
	h.AddRoot(addr)
}

// RemoveRoot unregisters addr from the default heap's root set.
func RemoveRoot(addr uintptr) {
	h := Default()
	if h == nil {
		panic("vapidgc: RemoveRoot called with no default heap")
	}
	h.RemoveRoot(addr)
}

// AddRoot registers addr as a live root for this heap.
func (h *Heap) AddRoot(addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots.PushRoot(addr)
}

// RemoveRoot unregisters addr as a root for this heap.
func (h *Heap) RemoveRoot(addr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots.PopRoot(addr)
}
