package vapidgc

import (
	"encoding/binary"

	"github.com/hato1883/vapidgc/objheader"
)

// headerView is a cursor onto the 8-byte header word at a given address
// inside a Heap's backing buffer.
type headerView struct {
	h    *Heap
	addr uintptr
}

func (v headerView) read() objheader.Header {
	return objheader.Header(binary.LittleEndian.Uint64(v.h.mem[v.addr:]))
}

func (v headerView) write(hdr objheader.Header) {
	binary.LittleEndian.PutUint64(v.h.mem[v.addr:], uint64(hdr))
}
