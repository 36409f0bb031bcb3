// Package layout parses the layout-descriptor grammar used to describe
// the field shape of a struct allocation: a sequence of (repeat? token)
// pairs where each token names a field width (or, for '*', a pointer)
// and an optional decimal repeat count precedes it.
//
// Size and pointer layout are both derived from the same descriptor
// string in a single left-to-right pass.
package layout

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrInvalidLayout is returned when a descriptor string is malformed:
// an unrecognized token character or a zero repeat count. BuildPointerMap
// also returns it for a layout no inline pointer map can express (a
// trailing non-pointer run that is not a multiple of 4 bytes). An empty
// (or all-whitespace) descriptor is not malformed - it is the valid
// zero-field, zero-size layout.
var ErrInvalidLayout = errors.New("layout: invalid descriptor")

// ErrLayoutOverflow is returned when a descriptor's computed size
// overflows uint64. Needing more than 31 inline pointer-map slots is not
// an error: BuildPointerMap reports it through its overflow result.
var ErrLayoutOverflow = errors.New("layout: descriptor too large")

// token describes one parsed element of a descriptor: a field width (in
// bytes) and whether that field is a pointer.
type token struct {
	size      uint64
	alignment uint64
	isPointer bool
}

// fieldWidth reports the byte width and natural alignment of a token
// character, and whether it denotes a pointer field. ok is false for an
// unrecognized character.
func fieldWidth(c rune) (size uint64, alignment uint64, isPointer bool, ok bool) {
	switch c {
	case 'c':
		return 1, 1, false, true
	case 'i', 'f':
		return 4, 4, false, true
	case 'l', 'd', '*':
		return 8, 8, c == '*', true
	default:
		return 0, 0, false, false
	}
}

// parse walks a descriptor string left to right, expanding (repeat?
// token) groups into a flat token slice. A bare run of decimal digits
// immediately preceding a token character is that token's repeat count
// (default 1); a run of digits with no following token character is a
// "raw char count" and is expanded as that many 'c' tokens, matching the
// original grammar's bare-number shorthand for byte blobs.
func parse(descriptor string) ([]token, error) {
	var tokens []token
	runes := []rune(descriptor)
	i := 0
	for i < len(runes) {
		c := runes[i]
		if unicode.IsSpace(c) {
			i++
			continue
		}
		if unicode.IsDigit(c) {
			start := i
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			count := 0
			for _, d := range runes[start:i] {
				count = count*10 + int(d-'0')
			}
			if count == 0 {
				return nil, fmt.Errorf("%w: zero repeat count", ErrInvalidLayout)
			}
			if i >= len(runes) {
				// Bare number with nothing after it: that many raw chars.
				for n := 0; n < count; n++ {
					tokens = append(tokens, token{size: 1, alignment: 1, isPointer: false})
				}
				continue
			}
			size, align, isPtr, ok := fieldWidth(runes[i])
			if !ok {
				return nil, fmt.Errorf("%w: unrecognized token %q", ErrInvalidLayout, string(runes[i]))
			}
			for n := 0; n < count; n++ {
				tokens = append(tokens, token{size: size, alignment: align, isPointer: isPtr})
			}
			i++
			continue
		}
		size, align, isPtr, ok := fieldWidth(c)
		if !ok {
			return nil, fmt.Errorf("%w: unrecognized token %q", ErrInvalidLayout, string(c))
		}
		tokens = append(tokens, token{size: size, alignment: align, isPointer: isPtr})
		i++
	}
	// An empty (or all-whitespace) descriptor is a valid zero-field,
	// zero-size layout, not an error.
	return tokens, nil
}

// maxAlignOf returns the largest alignment among tokens (1 when there
// are none; at most 8, for 'l', 'd', and '*'); a struct's total size
// always rounds up to its largest field's alignment.
func maxAlignOf(tokens []token) uint64 {
	var m uint64 = 1
	for _, tk := range tokens {
		if tk.alignment > m {
			m = tk.alignment
		}
	}
	return m
}

func alignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// SizeFromString computes the total byte size a descriptor's fields
// occupy, padding each field to its natural alignment and rounding the
// final size up to the struct's largest field alignment.
func SizeFromString(descriptor string) (uint64, error) {
	tokens, err := parse(descriptor)
	if err != nil {
		return 0, err
	}
	var offset uint64
	for _, tk := range tokens {
		offset = alignUp(offset, tk.alignment)
		next := offset + tk.size
		if next < offset {
			return 0, fmt.Errorf("%w: size overflow", ErrLayoutOverflow)
		}
		offset = next
	}
	total := alignUp(offset, maxAlignOf(tokens))
	if total < offset {
		return 0, fmt.Errorf("%w: size overflow", ErrLayoutOverflow)
	}
	return total, nil
}
