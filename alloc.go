package vapidgc

import (
	"fmt"

	"github.com/hato1883/vapidgc/layout"
	"github.com/hato1883/vapidgc/objheader"
)

// objectInfo reports the payload size and pointer-field offsets (both
// relative to the payload start) of the allocation whose header sits at
// headerAddr.
func objectInfo(h *Heap, headerAddr uintptr) (size uint64, ptrOffsets []uint64, err error) {
	hdr := h.header(headerAddr).read()
	switch hdr.Tag() {
	case objheader.TagSize:
		return hdr.Size(), nil, nil

	case objheader.TagPointerMap:
		payload := hdr.PointerMapBits()
		return layout.SizeFromVector(payload), layout.PointerOffsets(payload), nil

	case objheader.TagExternal:
		descriptor := h.readDescriptor(hdr.ExternalAddr())
		size, err = layout.SizeFromString(descriptor)
		if err != nil {
			return 0, nil, err
		}
		ptrOffsets, err = layout.PointerOffsetsFromDescriptor(descriptor)
		if err != nil {
			return 0, nil, err
		}
		return size, ptrOffsets, nil

	default:
		panic(fmt.Errorf("%w: header at %d has unexpected tag %v during trace", ErrInvariantViolation, headerAddr, hdr.Tag()))
	}
}

// allocBlock reserves totalBytes (header included) somewhere in the
// region via the allocation bitmap and returns the header address. It
// does not itself trigger a collection, nor does it update used-byte
// accounting; callers own both of those since only they know whether
// the bytes being reserved are a user-visible payload or bookkeeping
// overhead (e.g. a descriptor blob).
func allocBlock(h *Heap, totalBytes uintptr) (uintptr, bool) {
	offset, ok := h.bm.FirstFit(uint64(totalBytes), h.fillDir)
	if !ok {
		return 0, false
	}
	h.bm.MarkRange(offset, uint64(roundUp8(totalBytes)))
	return uintptr(offset), true
}

func roundUp8(n uintptr) uintptr {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// readDescriptor loads a layout descriptor string back out of the heap
// bytes at its payload address.
func (h *Heap) readDescriptor(payloadAddr uintptr) string {
	descHdr := h.header(payloadAddr - HeaderSize).read()
	n := descHdr.Size()
	return string(h.mem[payloadAddr : payloadAddr+uintptr(n)])
}

// allocateDescriptor stores a layout descriptor string as a heap
// allocation of its own and returns its payload address, for use as the
// payload of a tag-00 external-layout header. A descriptor blob is an
// allocation like any other - it has its own header and bitmap range,
// and moves during compaction like anything else - but it is not part
// of the traceable pointer graph: it is kept alive by its single owning
// header's reference, not by root reachability, so it is tracked in
// h.descBlobs rather than h.objects.
func allocateDescriptor(h *Heap, descriptor string) (uintptr, error) {
	n := uintptr(len(descriptor))
	total := roundUp8(HeaderSize + n)
	headerAddr, ok := allocBlock(h, total)
	if !ok {
		return 0, ErrOutOfMemory
	}
	h.header(headerAddr).write(objheader.NewSize(uint64(n)))
	payloadAddr := headerAddr + HeaderSize
	copy(h.mem[payloadAddr:payloadAddr+n], descriptor)
	h.descBlobs.Insert(payloadAddr)
	h.used += n
	return payloadAddr, nil
}

// AllocStruct allocates an object whose field layout is described by
// descriptor (see the layout package's grammar). If the descriptor's
// fields fit the header's 31 inline pointer-map slots the map is packed
// directly into the header; otherwise the descriptor string itself is
// allocated separately and the header references it. Every struct gets
// a pointer-map or external header, never a size header, so a
// descriptor of 'c' fields alone whose size is not a multiple of 4
// (such as "c" or "3") has no inline map and is rejected with
// ErrInvalidLayout.
func (h *Heap) AllocStruct(descriptor string) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	size, err := layout.SizeFromString(descriptor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	total := roundUp8(HeaderSize + uintptr(size))

	if h.overThreshold(uintptr(size)) {
		h.collectLocked(h.unsafeStack)
	}

	packed, overflow, err := layout.BuildPointerMap(descriptor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}

	place := func() (uintptr, bool) {
		if overflow {
			descAddr, derr := allocateDescriptor(h, descriptor)
			if derr != nil {
				return 0, false
			}
			headerAddr, ok := allocBlock(h, total)
			if !ok {
				h.freeDescriptor(descAddr)
				return 0, false
			}
			h.header(headerAddr).write(objheader.NewExternal(descAddr))
			return headerAddr, true
		}
		headerAddr, ok := allocBlock(h, total)
		if !ok {
			return 0, false
		}
		h.header(headerAddr).write(objheader.NewPointerMap(packed))
		return headerAddr, true
	}

	headerAddr, ok := place()
	if !ok {
		h.collectLocked(h.unsafeStack)
		headerAddr, ok = place()
		if !ok {
			return 0, ErrOutOfMemory
		}
	}

	payloadAddr := headerAddr + HeaderSize
	h.objects.Insert(payloadAddr)
	h.used += uintptr(size)
	return payloadAddr, nil
}

// AllocRaw allocates an opaque, pointer-free byte buffer of the given
// size. The collector never scans its contents for pointers. size may
// be 0, yielding a header-only allocation with no addressable payload
// bytes.
func (h *Heap) AllocRaw(size uintptr) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := roundUp8(HeaderSize + size)

	if h.overThreshold(size) {
		h.collectLocked(h.unsafeStack)
	}

	headerAddr, ok := allocBlock(h, total)
	if !ok {
		h.collectLocked(h.unsafeStack)
		headerAddr, ok = allocBlock(h, total)
		if !ok {
			return 0, ErrOutOfMemory
		}
	}
	h.header(headerAddr).write(objheader.NewSize(uint64(size)))
	payloadAddr := headerAddr + HeaderSize
	h.objects.Insert(payloadAddr)
	h.used += size
	return payloadAddr, nil
}

// freeDescriptor rolls back a descriptor blob allocation that was made
// speculatively but could not be followed by a successful allocation of
// the struct referencing it, so the next attempt (typically right after
// a collection) doesn't leak the space.
func (h *Heap) freeDescriptor(payloadAddr uintptr) {
	descHeaderAddr := payloadAddr - HeaderSize
	n := h.header(descHeaderAddr).read().Size()
	total := roundUp8(HeaderSize + uintptr(n))
	h.bm.ClearRange(uint64(descHeaderAddr), uint64(total))
	h.descBlobs.Remove(payloadAddr)
	h.used -= uintptr(n)
}
