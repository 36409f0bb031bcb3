package bitmap

import "testing"

func TestMarkClearIsSet(t *testing.T) {
	b := New(512)
	offsets := []uint64{0, 8, 64, 504}
	for _, o := range offsets {
		if b.IsSet(o) {
			t.Fatalf("offset %d should start clear", o)
		}
	}
	for _, o := range offsets {
		b.Mark(o)
		if !b.IsSet(o) {
			t.Fatalf("offset %d should be set after Mark", o)
		}
	}
	for _, o := range []uint64{16, 24, 72, 496} {
		if b.IsSet(o) {
			t.Fatalf("offset %d should remain clear", o)
		}
	}
	for _, o := range offsets {
		b.Clear(o)
		if b.IsSet(o) {
			t.Fatalf("offset %d should be clear after Clear", o)
		}
	}
}

func TestMarkRangeUnalignedBitmapBytes(t *testing.T) {
	// Region of 512 B => 64 units => 8 bitmap bytes. Mark a range that
	// starts and ends mid-byte in the underlying bitmap representation.
	b := New(512)
	// units 3..19 (offsets 24..159) span a partial leading byte (units
	// 3-7), one full byte (units 8-15) and a partial trailing byte
	// (units 16-19).
	b.MarkRange(24, 136) // units 3..19 inclusive (17 units)
	for u := uint64(3); u <= 19; u++ {
		if !b.IsSet(u * UnitSize) {
			t.Fatalf("unit %d should be set", u)
		}
	}
	if b.IsSet(2 * UnitSize) {
		t.Fatalf("unit 2 should remain clear")
	}
	if b.IsSet(20 * UnitSize) {
		t.Fatalf("unit 20 should remain clear")
	}

	b.ClearRange(24, 136)
	for u := uint64(3); u <= 19; u++ {
		if b.IsSet(u * UnitSize) {
			t.Fatalf("unit %d should be clear after ClearRange", u)
		}
	}
}

func TestMarkRangeZeroSize(t *testing.T) {
	b := New(512)
	b.MarkRange(0, 0)
	if b.CountSet() != 0 {
		t.Fatalf("zero-size MarkRange should not set anything")
	}
}

// A range that starts and ends inside a single bitmap byte, with its
// end landing exactly on that byte's top unit, must still mark every
// unit in the range (regression: the single-byte mask previously
// collapsed to zero whenever lastUnitExclusive%8 == 0).
func TestMarkRangeEndsOnByteBoundary(t *testing.T) {
	b := New(512)
	b.MarkRange(0, 64) // units 0-7, exactly fills bitmap byte 0
	for u := uint64(0); u < 8; u++ {
		if !b.IsSet(u * UnitSize) {
			t.Fatalf("unit %d should be set after MarkRange(0,64)", u)
		}
	}
	if got := b.CountSet(); got != 8 {
		t.Fatalf("CountSet() = %d, want 8", got)
	}

	b2 := New(512)
	b2.MarkRange(32, 32) // units 4-7, mid-byte start, ends on the byte boundary
	for u := uint64(4); u < 8; u++ {
		if !b2.IsSet(u * UnitSize) {
			t.Fatalf("unit %d should be set after MarkRange(32,32)", u)
		}
	}
	if b2.IsSet(3 * UnitSize) {
		t.Fatalf("unit 3 should remain clear")
	}
	if got := b2.CountSet(); got != 4 {
		t.Fatalf("CountSet() = %d, want 4", got)
	}
}

func TestCountSet(t *testing.T) {
	b := New(512)
	if b.CountSet() != 0 {
		t.Fatalf("new bitmap should have 0 set units")
	}
	b.MarkRange(0, 32) // 4 units
	if got := b.CountSet(); got != 4 {
		t.Fatalf("CountSet() = %d, want 4", got)
	}
}

func TestFirstFitForward(t *testing.T) {
	b := New(512)
	b.MarkRange(0, 64) // occupy first 8 units
	offset, ok := b.FirstFit(24, Forward)
	if !ok {
		t.Fatalf("expected a fit")
	}
	if offset != 64 {
		t.Fatalf("FirstFit forward = %d, want 64", offset)
	}
}

func TestFirstFitBackward(t *testing.T) {
	b := New(512)
	b.MarkRange(512-64, 64) // occupy last 8 units
	offset, ok := b.FirstFit(24, Backward)
	if !ok {
		t.Fatalf("expected a fit")
	}
	// Backward search should land immediately below the occupied tail.
	if offset != 512-64-24 {
		t.Fatalf("FirstFit backward = %d, want %d", offset, 512-64-24)
	}
}

func TestFirstFitNoRoom(t *testing.T) {
	b := New(64)
	b.MarkRange(0, 64)
	if _, ok := b.FirstFit(8, Forward); ok {
		t.Fatalf("expected no fit in a fully occupied bitmap")
	}
}

func TestFirstFitRoundsUpToUnit(t *testing.T) {
	b := New(64)
	offset, ok := b.FirstFit(1, Forward)
	if !ok || offset != 0 {
		t.Fatalf("FirstFit(1) = (%d,%v), want (0,true) after rounding to a unit", offset, ok)
	}
}
