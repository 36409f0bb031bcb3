// Package vapidgc implements a precise, moving, mark-compact garbage
// collector over a fixed-size, explicitly managed heap region.
//
// A Heap owns a single contiguous byte region. Allocations are placed
// by a first-fit scan of the allocation bitmap, each one preceded by an 8-byte header
// that records either its exact size, its field layout (inline or by
// reference to an external descriptor), or, transiently during a
// collection, its forwarding address. Collection discovers the set of
// objects reachable from an explicit root set, compacts them toward
// one edge of the region, and rewrites every live pointer to its
// object's new location.
//
// The public API hands out uintptr values rather than unsafe.Pointer:
// these are offsets into a Heap's own backing buffer, not addresses the
// host Go runtime's garbage collector has any reason to trace, so the
// two collectors never contend over the same memory. Callers read and
// write struct fields inside the region through Heap.Bytes.
package vapidgc
