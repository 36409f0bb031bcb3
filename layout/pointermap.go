package layout

import "fmt"

// slotCode is the 2-bit code stored in one inline pointer-map slot.
type slotCode uint64

const (
	slotEnd        slotCode = 0b00
	slotNonPointer4        = 0b01
	slotNonPointer8        = 0b10
	slotPointer            = 0b11
)

// MaxInlineSlots is how many two-bit slots fit in a header's 62-bit
// payload (31 slots * 2 bits = 62 bits).
const MaxInlineSlots = 31

// flushNonPointerRun appends enough 8-byte and (at most one) 4-byte
// non-pointer slots to cover n bytes of non-pointer data, and reports
// whether n was representable (a multiple of 4). A run flushed before a
// pointer field is always a multiple of 8; the trailing run can be any
// size when the descriptor has only 'c' fields (e.g. "c" gives n == 1).
func flushNonPointerRun(codes []slotCode, n uint64) ([]slotCode, bool) {
	for n >= 8 {
		codes = append(codes, slotNonPointer8)
		n -= 8
	}
	if n == 4 {
		codes = append(codes, slotNonPointer4)
		n = 0
	}
	return codes, n == 0
}

// BuildPointerMap parses a descriptor and packs its fields into an
// inline pointer map. Non-pointer fields (together with any alignment
// padding around them) are merged into runs and re-expressed as 4- and
// 8-byte non-pointer slots, so the map's total byte coverage always
// matches SizeFromString for the same descriptor; pointer fields each
// get their own slot.
//
// Slots are packed most-significant-slot-first: the first field in the
// descriptor occupies the highest-numbered slot actually used, and the
// last field occupies slot 0 (the pair of bits directly above the
// header's tag). Building left to right with payload = payload<<2 | code
// naturally pushes every previously-packed field two bits further from
// the tag as each new field is appended, producing exactly this order.
//
// overflow is true when the descriptor needs more than MaxInlineSlots
// slots to represent; in that case payload is meaningless and the
// caller should fall back to an external layout-descriptor header
// instead. A trailing non-pointer run that is not a multiple of 4 bytes
// (possible only for a descriptor made of 'c' fields alone, such as "c"
// or "3") fits no slot, and BuildPointerMap returns an error wrapping
// ErrInvalidLayout for it.
func BuildPointerMap(descriptor string) (payload uint64, overflow bool, err error) {
	tokens, err := parse(descriptor)
	if err != nil {
		return 0, false, err
	}

	var codes []slotCode
	var cursor, pending uint64
	for _, tk := range tokens {
		padded := alignUp(cursor, tk.alignment)
		pending += padded - cursor
		cursor = padded
		if tk.isPointer {
			codes, _ = flushNonPointerRun(codes, pending)
			pending = 0
			codes = append(codes, slotPointer)
			cursor += tk.size
			continue
		}
		pending += tk.size
		cursor += tk.size
	}
	total := alignUp(cursor, maxAlignOf(tokens))
	pending += total - cursor
	codes, ok := flushNonPointerRun(codes, pending)
	if !ok {
		return 0, false, fmt.Errorf("%w: %d-byte trailing non-pointer run is not a multiple of 4", ErrInvalidLayout, pending)
	}

	if len(codes) > MaxInlineSlots {
		return 0, true, nil
	}
	var packed uint64
	for _, c := range codes {
		packed = (packed << 2) | uint64(c)
	}
	return packed, false, nil
}

// decode splits a packed pointer-map payload back into its slot codes,
// in original field order (first field first). It reports false if the
// payload holds no slots (all bits zero).
func decode(payload uint64) ([]slotCode, bool) {
	for k := MaxInlineSlots - 1; k >= 0; k-- {
		code := slotCode((payload >> uint(2*k)) & 0b11)
		if code == slotEnd {
			continue
		}
		m := k + 1
		codes := make([]slotCode, m)
		for j := 0; j < m; j++ {
			slot := m - 1 - j
			codes[j] = slotCode((payload >> uint(2*slot)) & 0b11)
		}
		return codes, true
	}
	return nil, false
}

// SizeFromVector computes the total byte size described by a packed
// pointer-map payload by walking its slots in order and summing each
// slot's width.
func SizeFromVector(payload uint64) uint64 {
	codes, ok := decode(payload)
	if !ok {
		return 0
	}
	var size uint64
	for _, c := range codes {
		switch c {
		case slotNonPointer4:
			size += 4
		case slotNonPointer8, slotPointer:
			size += 8
		}
	}
	return size
}

// PointerOffsets returns the byte offsets, relative to the start of an
// allocation, of every pointer-typed slot in a packed pointer-map
// payload.
func PointerOffsets(payload uint64) []uint64 {
	codes, ok := decode(payload)
	if !ok {
		return nil
	}
	var offsets []uint64
	var offset uint64
	for _, c := range codes {
		switch c {
		case slotNonPointer4:
			offset += 4
		case slotNonPointer8:
			offset += 8
		case slotPointer:
			offsets = append(offsets, offset)
			offset += 8
		}
	}
	return offsets
}

// PointerOffsetsFromDescriptor computes pointer field offsets directly
// from a descriptor string, without going through a packed payload and
// its MaxInlineSlots ceiling. This is the path used for descriptors
// stored externally (too large to fit an inline pointer map), where the
// whole point of the external form is that it is not slot-limited.
func PointerOffsetsFromDescriptor(descriptor string) ([]uint64, error) {
	tokens, err := parse(descriptor)
	if err != nil {
		return nil, err
	}
	var offsets []uint64
	var cursor uint64
	for _, tk := range tokens {
		cursor = alignUp(cursor, tk.alignment)
		if tk.isPointer {
			offsets = append(offsets, cursor)
		}
		cursor += tk.size
	}
	return offsets, nil
}

// ContainsPointer reports whether a packed pointer-map payload has at
// least one pointer-typed slot.
func ContainsPointer(payload uint64) bool {
	codes, ok := decode(payload)
	if !ok {
		return false
	}
	for _, c := range codes {
		if c == slotPointer {
			return true
		}
	}
	return false
}
