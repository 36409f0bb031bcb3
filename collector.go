package vapidgc

import (
	"encoding/binary"
	"fmt"

	"github.com/hato1883/vapidgc/bitmap"
	"github.com/hato1883/vapidgc/objheader"
	"github.com/hato1883/vapidgc/pointerset"
)

// Collect runs one collection cycle using the heap's configured
// unsafe-stack mode and returns the number of bytes reclaimed.
func (h *Heap) Collect() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.collectLocked(h.unsafeStack), nil
}

// CollectWithMode runs one collection cycle with unsafeStack
// temporarily overriding the heap's configured mode for this cycle
// only; the heap's own setting is restored before returning. This
// mirrors a debug entry point that forces a single pass to treat every
// root as pinned (or not) regardless of how the heap was initialized,
// without disturbing its steady-state behavior.
func (h *Heap) CollectWithMode(unsafeStack bool) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	saved := h.unsafeStack
	h.unsafeStack = unsafeStack
	defer func() { h.unsafeStack = saved }()
	return h.collectLocked(unsafeStack), nil
}

// collectLocked performs root discovery, tracing, compaction, pointer
// rewriting and reclamation. The caller must hold h.mu. It panics with
// ErrHeapExhaustedDuringCollect if compaction cannot place every live
// object somewhere in the region, a fatal, unrecoverable inconsistency
// rather than an ordinary allocation failure.
func (h *Heap) collectLocked(unsafe bool) int {
	rootAddrs := h.roots.Snapshot()

	pinned := pointerset.New()
	if unsafe {
		for _, r := range rootAddrs {
			if h.objects.Contains(r) {
				pinned.Insert(r)
			}
		}
	}

	live := h.trace(rootAddrs)

	var freed uintptr
	h.objects.Each(func(addr uintptr) {
		if !live.Contains(addr) {
			size, _, err := objectInfo(h, addr-HeaderSize)
			if err != nil {
				panic(fmt.Errorf("%w: %v", ErrInvariantViolation, err))
			}
			freed += uintptr(size)
			if descAddr, ok := h.externalDescriptorOf(addr); ok {
				descSize := h.header(descAddr - HeaderSize).read().Size()
				freed += uintptr(descSize)
			}
		}
	})

	moved, movedDesc, newBM, err := h.planCompaction(live, pinned)
	if err != nil {
		panic(fmt.Errorf("%w: %v", ErrHeapExhaustedDuringCollect, err))
	}

	h.applyCompaction(live, pinned, moved, movedDesc, newBM)

	h.objects = pointerset.New()
	live.Each(func(addr uintptr) {
		if final, ok := moved[addr]; ok {
			h.objects.Insert(final)
		} else {
			h.objects.Insert(addr)
		}
	})

	h.rewriteRoots(moved)

	h.used -= freed
	h.collections++
	h.lastReclaim = freed
	h.flipFillDirection()

	return int(freed)
}

// trace walks the object graph reachable from rootAddrs with a work
// queue that always yields its lowest pending address next, returning every reachable object's current payload
// address. Non-pointer-bearing roots (addresses that don't correspond
// to a live allocation) are silently ignored, the same way a
// conservative stack scan discards stack words that merely look like
// heap addresses.
func (h *Heap) trace(rootAddrs []uintptr) *pointerset.Set {
	live := pointerset.New()
	queue := pointerset.New()
	for _, r := range rootAddrs {
		if h.objects.Contains(r) {
			queue.Insert(r)
		}
	}
	for !queue.Empty() {
		addr, _ := queue.PopMin()
		if live.Contains(addr) {
			continue
		}
		live.Insert(addr)
		size, ptrOffsets, err := objectInfo(h, addr-HeaderSize)
		if err != nil {
			panic(fmt.Errorf("%w: %v", ErrInvariantViolation, err))
		}
		for _, off := range ptrOffsets {
			if off+8 > size {
				continue
			}
			val := binary.LittleEndian.Uint64(h.mem[addr+uintptr(off):])
			candidate := uintptr(val)
			if candidate != 0 && h.objects.Contains(candidate) && !live.Contains(candidate) {
				queue.Insert(candidate)
			}
		}
	}
	return live
}

// externalDescriptorOf reports the payload address of the layout
// descriptor blob referenced by the header at ownerPayloadAddr, if that
// header is tag-00 external.
func (h *Heap) externalDescriptorOf(ownerPayloadAddr uintptr) (uintptr, bool) {
	hdr := h.header(ownerPayloadAddr - HeaderSize).read()
	if hdr.Tag() != objheader.TagExternal {
		return 0, false
	}
	return hdr.ExternalAddr(), true
}

// planCompaction decides, for every live non-pinned object, the new
// header address it will occupy. Pinned objects keep their current
// address and are pre-marked in the returned bitmap so movable objects
// are placed around them. External layout-descriptor blobs are placed
// independently of their owner's pinned status: nothing is ever rooted
// at a descriptor directly, so a descriptor can always relocate even
// when the struct referencing it cannot.
func (h *Heap) planCompaction(live, pinned *pointerset.Set) (moved map[uintptr]uintptr, movedDesc map[uintptr]uintptr, newBM *bitmap.Bitmap, err error) {
	newBM = bitmap.New(uint64(h.size))
	moved = make(map[uintptr]uintptr)
	movedDesc = make(map[uintptr]uintptr)

	pinned.Each(func(addr uintptr) {
		size, _, ierr := objectInfo(h, addr-HeaderSize)
		if ierr != nil {
			panic(fmt.Errorf("%w: %v", ErrInvariantViolation, ierr))
		}
		total := roundUp8(HeaderSize + uintptr(size))
		newBM.MarkRange(uint64(addr-HeaderSize), uint64(total))
	})

	var placeErr error
	live.Each(func(addr uintptr) {
		if placeErr != nil || pinned.Contains(addr) {
			return
		}
		size, _, ierr := objectInfo(h, addr-HeaderSize)
		if ierr != nil {
			panic(fmt.Errorf("%w: %v", ErrInvariantViolation, ierr))
		}
		total := roundUp8(HeaderSize + uintptr(size))
		offset, ok := newBM.FirstFit(uint64(total), h.fillDir)
		if !ok {
			placeErr = ErrHeapExhaustedDuringCollect
			return
		}
		newBM.MarkRange(offset, uint64(total))
		moved[addr] = uintptr(offset) + HeaderSize
	})
	if placeErr != nil {
		return nil, nil, nil, placeErr
	}

	live.Each(func(addr uintptr) {
		if placeErr != nil {
			return
		}
		descAddr, ok := h.externalDescriptorOf(addr)
		if !ok {
			return
		}
		if _, done := movedDesc[descAddr]; done {
			return
		}
		n := h.header(descAddr - HeaderSize).read().Size()
		total := roundUp8(HeaderSize + uintptr(n))
		offset, ok2 := newBM.FirstFit(uint64(total), h.fillDir)
		if !ok2 {
			placeErr = ErrHeapExhaustedDuringCollect
			return
		}
		newBM.MarkRange(offset, uint64(total))
		movedDesc[descAddr] = uintptr(offset) + HeaderSize
	})
	if placeErr != nil {
		return nil, nil, nil, placeErr
	}

	return moved, movedDesc, newBM, nil
}

// applyCompaction builds the post-collection region into a fresh
// buffer and swaps it in, then rewrites every live object's pointer
// fields to follow any relocations. Building into a separate buffer
// avoids having to reason about self-overlapping in-place moves: every
// read comes from the old region and every write goes to the new one.
func (h *Heap) applyCompaction(live, pinned *pointerset.Set, moved, movedDesc map[uintptr]uintptr, newBM *bitmap.Bitmap) {
	scratch := make([]byte, h.size)

	type placement struct {
		oldHeader uintptr
		newHeader uintptr
		header    objheader.Header
		total     uintptr
	}
	var placements []placement

	pinned.Each(func(addr uintptr) {
		size, _, _ := objectInfo(h, addr-HeaderSize)
		total := roundUp8(HeaderSize + uintptr(size))
		placements = append(placements, placement{
			oldHeader: addr - HeaderSize,
			newHeader: addr - HeaderSize,
			header:    h.header(addr - HeaderSize).read(),
			total:     total,
		})
	})
	live.Each(func(addr uintptr) {
		newPayload, ok := moved[addr]
		if !ok {
			return
		}
		size, _, _ := objectInfo(h, addr-HeaderSize)
		total := roundUp8(HeaderSize + uintptr(size))
		placements = append(placements, placement{
			oldHeader: addr - HeaderSize,
			newHeader: newPayload - HeaderSize,
			header:    h.header(addr - HeaderSize).read(),
			total:     total,
		})
	})
	for oldDesc, newDesc := range movedDesc {
		n := h.header(oldDesc - HeaderSize).read().Size()
		total := roundUp8(HeaderSize + uintptr(n))
		placements = append(placements, placement{
			oldHeader: oldDesc - HeaderSize,
			newHeader: newDesc - HeaderSize,
			header:    h.header(oldDesc - HeaderSize).read(),
			total:     total,
		})
	}

	// Tombstone every relocated object's old header with a forwarding
	// pointer to its new location. The tombstones are written into the
	// old buffer, which is dropped once the copy below is swapped in, so
	// they last only for this cycle; after Collect returns, a stale
	// pre-collection address reads the new buffer, not a tombstone.
	for _, p := range placements {
		if p.oldHeader == p.newHeader {
			continue
		}
		h.header(p.oldHeader).write(objheader.NewForwarding(p.newHeader + HeaderSize))
	}

	for _, p := range placements {
		binary.LittleEndian.PutUint64(scratch[p.newHeader:], uint64(p.header))
		copy(scratch[p.newHeader+HeaderSize:p.newHeader+p.total], h.mem[p.oldHeader+HeaderSize:p.oldHeader+p.total])
	}

	h.mem = scratch
	h.bm = newBM

	rewrite := func(addr uintptr) {
		// An external-layout owner's header must be patched to its
		// descriptor's new address before objectInfo decodes the
		// descriptor, since that decode now reads from the swapped-in
		// buffer at the descriptor's new location.
		if descAddr, ok := h.externalDescriptorOf(addr); ok {
			if newDesc, ok2 := movedDesc[descAddr]; ok2 {
				h.header(addr - HeaderSize).write(objheader.NewExternal(newDesc))
			}
		}
		size, ptrOffsets, err := objectInfo(h, addr-HeaderSize)
		if err != nil {
			panic(fmt.Errorf("%w: %v", ErrInvariantViolation, err))
		}
		for _, off := range ptrOffsets {
			if off+8 > size {
				continue
			}
			fieldAddr := addr + uintptr(off)
			val := uintptr(binary.LittleEndian.Uint64(h.mem[fieldAddr:]))
			if newAddr, ok := moved[val]; ok {
				binary.LittleEndian.PutUint64(h.mem[fieldAddr:], uint64(newAddr))
			}
		}
	}
	pinned.Each(rewrite)
	live.Each(func(addr uintptr) {
		if _, ok := moved[addr]; ok {
			rewrite(moved[addr])
		}
	})

	h.descBlobs = pointerset.New()
	for _, newDesc := range movedDesc {
		h.descBlobs.Insert(newDesc)
	}
}

// rewriteRoots updates the heap's own root-set bookkeeping so that
// roots pointing at relocated objects keep tracking them at their new
// address.
func (h *Heap) rewriteRoots(moved map[uintptr]uintptr) {
	if len(moved) == 0 {
		return
	}
	updated := newRootSet()
	for _, r := range h.roots.Snapshot() {
		if newAddr, ok := moved[r]; ok {
			updated.PushRoot(newAddr)
		} else {
			updated.PushRoot(r)
		}
	}
	h.roots = updated
}

func (h *Heap) flipFillDirection() {
	if h.fillDir == bitmap.Forward {
		h.fillDir = bitmap.Backward
	} else {
		h.fillDir = bitmap.Forward
	}
}
