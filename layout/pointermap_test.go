package layout

import "testing"

func TestBuildPointerMapRoundTrip(t *testing.T) {
	payload, overflow, err := BuildPointerMap("i*l")
	if err != nil {
		t.Fatalf("BuildPointerMap error: %v", err)
	}
	if overflow {
		t.Fatalf("did not expect overflow")
	}

	codes, ok := decode(payload)
	if !ok {
		t.Fatalf("expected decode to succeed")
	}
	want := []slotCode{slotNonPointer8, slotPointer, slotNonPointer8}
	if len(codes) != len(want) {
		t.Fatalf("decode() returned %d codes, want %d", len(codes), len(want))
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes[%d] = %v, want %v", i, codes[i], want[i])
		}
	}
}

func TestPointerOffsets(t *testing.T) {
	payload, _, err := BuildPointerMap("i*l*")
	if err != nil {
		t.Fatalf("BuildPointerMap error: %v", err)
	}
	offsets := PointerOffsets(payload)
	want := []uint64{8, 24}
	if len(offsets) != len(want) {
		t.Fatalf("PointerOffsets() = %v, want %v", offsets, want)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("offsets[%d] = %d, want %d", i, offsets[i], want[i])
		}
	}
}

func TestContainsPointer(t *testing.T) {
	withPtr, _, _ := BuildPointerMap("c*")
	if !ContainsPointer(withPtr) {
		t.Fatalf("expected ContainsPointer to be true")
	}
	noPtr, _, _ := BuildPointerMap("cil")
	if ContainsPointer(noPtr) {
		t.Fatalf("expected ContainsPointer to be false")
	}
}

func TestSizeFromVectorMatchesSizeFromString(t *testing.T) {
	descriptor := "c*li"
	wantSize, err := SizeFromString(descriptor)
	if err != nil {
		t.Fatalf("SizeFromString error: %v", err)
	}
	payload, overflow, err := BuildPointerMap(descriptor)
	if err != nil || overflow {
		t.Fatalf("BuildPointerMap(%q) error=%v overflow=%v", descriptor, err, overflow)
	}
	if got := SizeFromVector(payload); got != wantSize {
		t.Fatalf("SizeFromVector() = %d, want %d (from SizeFromString)", got, wantSize)
	}
}

func TestPointerOffsetsFromDescriptorMatchesInline(t *testing.T) {
	descriptor := "i*l*"
	inline, overflow, err := BuildPointerMap(descriptor)
	if err != nil || overflow {
		t.Fatalf("BuildPointerMap error=%v overflow=%v", err, overflow)
	}
	fromInline := PointerOffsets(inline)
	fromDescriptor, err := PointerOffsetsFromDescriptor(descriptor)
	if err != nil {
		t.Fatalf("PointerOffsetsFromDescriptor error: %v", err)
	}
	if len(fromInline) != len(fromDescriptor) {
		t.Fatalf("offset count mismatch: inline=%v descriptor=%v", fromInline, fromDescriptor)
	}
	for i := range fromInline {
		if fromInline[i] != fromDescriptor[i] {
			t.Fatalf("offset[%d]: inline=%d descriptor=%d", i, fromInline[i], fromDescriptor[i])
		}
	}
}

func TestPointerOffsetsFromDescriptorBeyondInlineLimit(t *testing.T) {
	descriptor := ""
	for i := 0; i < MaxInlineSlots+5; i++ {
		descriptor += "*"
	}
	offsets, err := PointerOffsetsFromDescriptor(descriptor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(offsets) != MaxInlineSlots+5 {
		t.Fatalf("got %d offsets, want %d", len(offsets), MaxInlineSlots+5)
	}
	for i, off := range offsets {
		if want := uint64(i * 8); off != want {
			t.Fatalf("offsets[%d] = %d, want %d", i, off, want)
		}
	}
}

func TestBuildPointerMapOverflow(t *testing.T) {
	descriptor := ""
	for i := 0; i < MaxInlineSlots+1; i++ {
		descriptor += "*"
	}
	_, overflow, err := BuildPointerMap(descriptor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !overflow {
		t.Fatalf("expected overflow with %d pointer fields", MaxInlineSlots+1)
	}
}

func TestBuildPointerMapExactFit(t *testing.T) {
	descriptor := ""
	for i := 0; i < MaxInlineSlots; i++ {
		descriptor += "*"
	}
	_, overflow, err := BuildPointerMap(descriptor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overflow {
		t.Fatalf("did not expect overflow with exactly %d pointer fields", MaxInlineSlots)
	}
}
