package vapidgc

import "errors"

// ErrInvalidLayout is returned by AllocStruct when the supplied layout
// descriptor cannot be parsed.
var ErrInvalidLayout = errors.New("vapidgc: invalid layout descriptor")

// ErrOutOfMemory is returned by AllocStruct/AllocRaw when, even after a
// collection pass, no contiguous free region large enough for the
// request remains.
var ErrOutOfMemory = errors.New("vapidgc: out of memory")

// ErrHeapExhaustedDuringCollect indicates the collector could not
// compact live objects into the region they started in: the region's
// invariants are broken and the heap can no longer be trusted. Surfaced
// as a panic value, never as an ordinary error return, matching the
// fatal-abort behavior of an allocator whose own bookkeeping has gone
// inconsistent.
var ErrHeapExhaustedDuringCollect = errors.New("vapidgc: heap exhausted mid-collection")

// ErrInvariantViolation is the panic value used when an internal
// consistency check fails: a header with an unexpected tag, or an
// external layout descriptor that no longer parses. These indicate a bug in the collector itself, not a caller
// error, and are not meant to be recovered from in normal operation.
var ErrInvariantViolation = errors.New("vapidgc: internal invariant violation")
