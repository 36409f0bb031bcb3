package vapidgc

import (
	"fmt"
	"sync"

	"github.com/hato1883/vapidgc/bitmap"
	"github.com/hato1883/vapidgc/pointerset"
)

// HeaderSize is the width, in bytes, of the header word that precedes
// every allocation.
const HeaderSize = 8

// Stats is a snapshot of a Heap's bookkeeping counters, returned by
// Heap.Stats for diagnostics. It is not part of any collection
// invariant; nothing in the collector reads it back.
type Stats struct {
	UsedBytes      uintptr
	AvailableBytes uintptr
	Collections    uint64
	LastReclaimed  uintptr
}

// Heap is a fixed-size region of simulated memory managed by a
// conservative, moving, mark-compact collector.
//
// All addresses this package hands out are offsets into the Heap's own
// backing buffer, not unsafe.Pointer values: the host Go runtime's
// collector has no reason to ever trace them, so the two collectors
// never fight over ownership of the same bytes.
type Heap struct {
	mu sync.Mutex

	mem  []byte
	bm   *bitmap.Bitmap
	size uintptr

	threshold   float64
	unsafeStack bool
	fillDir     bitmap.Direction

	used        uintptr
	collections uint64
	lastReclaim uintptr

	// objects holds the payload-start address of every object
	// currently allocated in the heap. It is the ground truth a
	// conservative root word is checked against, and is rewritten in
	// place as objects move during compaction.
	objects *pointerset.Set

	roots *RootSet

	// descBlobs holds the payload-start address of every external
	// layout-descriptor byte blob currently allocated in the heap.
	// These are allocations like any other (their own header, their
	// own bitmap range) but are not part of the pointer graph: a
	// descriptor blob is kept alive exactly as long as the external
	// header referencing it, not via root reachability, so it is
	// tracked here rather than in objects.
	descBlobs *pointerset.Set
}

var (
	defaultMu   sync.Mutex
	defaultHeap *Heap
)

// Init creates a new Heap backed by a region of the given size in
// bytes. threshold is the fraction of the region's bytes that may be in
// use before an allocation triggers a collection pass first.
// unsafeStack, when true, pins every object the root set refers to
// directly in place during collection instead of relocating it; objects
// reachable only through a pinned object's fields may still move (see
// CollectWithMode).
func Init(size uintptr, unsafeStack bool, threshold float64) (*Heap, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-size heap", ErrInvalidLayout)
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: threshold %v out of range (0,1]", ErrInvalidLayout, threshold)
	}
	h := &Heap{
		mem:         make([]byte, size),
		bm:          bitmap.New(uint64(size)),
		size:        size,
		threshold:   threshold,
		unsafeStack: unsafeStack,
		fillDir:     bitmap.Forward,
		objects:     pointerset.New(),
		roots:       newRootSet(),
		descBlobs:   pointerset.New(),
	}
	defaultMu.Lock()
	if defaultHeap == nil {
		defaultHeap = h
	}
	defaultMu.Unlock()
	return h, nil
}

// Default returns the process-wide default Heap: the one created by the
// first Init call made while the slot was empty. It returns nil if no
// Heap has been created yet, or if the default Heap has been deleted
// and no Init has run since.
func Default() *Heap {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultHeap
}

// Delete releases a Heap's backing storage. A deleted Heap must not be
// used again.
func (h *Heap) Delete() {
	h.DeleteDebug(0)
}

// DeleteDebug releases a Heap's backing storage, first overwriting
// every byte of the region with the low byte of poison so that any use of a stale
// address fails loudly instead of silently reading freed data.
func (h *Heap) DeleteDebug(poison uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := byte(poison)
	for i := range h.mem {
		h.mem[i] = b
	}
	h.mem = nil
	h.bm = nil
	h.objects = pointerset.New()
	h.roots = newRootSet()
	h.descBlobs = pointerset.New()
	h.used = 0

	defaultMu.Lock()
	if defaultHeap == h {
		defaultHeap = nil
	}
	defaultMu.Unlock()
}

// Used returns the sum of the payload sizes of every live allocation
// (headers and any internal alignment padding are not counted).
func (h *Heap) Used() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Available returns the number of bytes the allocation bitmap still
// marks free (unlike Used, this counts every claimed byte, including
// headers and rounding padding, not just live payloads).
func (h *Heap) Available() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.availableLocked()
}

func (h *Heap) availableLocked() uintptr {
	return uintptr(h.bm.Units()-h.bm.CountSet()) * bitmap.UnitSize
}

// Stats returns a snapshot of the heap's bookkeeping counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		UsedBytes:      h.used,
		AvailableBytes: h.availableLocked(),
		Collections:    h.collections,
		LastReclaimed:  h.lastReclaim,
	}
}

// Bytes returns the region of the heap's backing buffer covering
// [addr, addr+size), for reading or writing an allocation's fields.
// The returned slice aliases the heap's storage and is only valid until
// the next Collect, which may relocate the bytes it describes.
func (h *Heap) Bytes(addr, size uintptr) []byte {
	return h.mem[addr : addr+size]
}

// overThreshold reports whether allocating an additional n payload
// bytes would meet or exceed the heap's collection-trigger threshold.
func (h *Heap) overThreshold(n uintptr) bool {
	return float64(h.used+n) >= h.threshold*float64(h.size)
}

func (h *Heap) header(addr uintptr) headerView {
	return headerView{h: h, addr: addr}
}
