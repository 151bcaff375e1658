package zmachine

import (
	"bytes"
	"testing"
)

func TestIFFRoundTrip(t *testing.T) {
	chunks := []quetzalChunk{
		{id: "IFhd", data: []byte{1, 2, 3}},
		{id: "CMem", data: []byte{4, 5}}, // odd length, exercises the padding byte
	}

	encoded := writeIFF(chunks)
	if string(encoded[0:4]) != "FORM" || string(encoded[8:12]) != "IFZS" {
		t.Fatalf("expected a FORM/IFZS header, got %q / %q", encoded[0:4], encoded[8:12])
	}

	decoded, err := readIFF(encoded)
	if err != nil {
		t.Fatalf("readIFF: %v", err)
	}
	if len(decoded) != len(chunks) {
		t.Fatalf("expected %d chunks, got %d", len(chunks), len(decoded))
	}
	for i, c := range chunks {
		if decoded[i].id != c.id || !bytes.Equal(decoded[i].data, c.data) {
			t.Errorf("chunk %d: expected %+v, got %+v", i, c, decoded[i])
		}
	}
}

func TestReadIFFRejectsCorruptHeader(t *testing.T) {
	if _, err := readIFF([]byte("not a quetzal file")); err == nil {
		t.Error("expected an error for a corrupt header")
	}
}

func TestEncodeDecodeCMemRoundTrip(t *testing.T) {
	pristine := []uint8{1, 2, 3, 0, 0, 0, 0, 0, 9, 10}
	current := []uint8{1, 9, 3, 0, 0, 0, 0, 0, 9, 99}

	encoded := encodeCMem(pristine, current)
	decoded := decodeCMem(pristine, encoded)

	if !bytes.Equal(decoded, current) {
		t.Errorf("expected %v, got %v", current, decoded)
	}
}

func TestEncodeCMemCapsZeroRunAt256(t *testing.T) {
	pristine := make([]uint8, 300)
	current := make([]uint8, 300)

	encoded := encodeCMem(pristine, current)
	decoded := decodeCMem(pristine, encoded)

	if !bytes.Equal(decoded, current) {
		t.Error("expected a long all-zero region to round-trip through the capped run encoding")
	}
}

func TestEncodeDecodeStksRoundTrip(t *testing.T) {
	cs := &CallStack{
		frames: []CallStackFrame{
			{pc: 0x1000, locals: []uint16{1, 2, 3}, routineStack: []uint16{9}, routineType: function, numValuesPassed: 2, storeTarget: 5},
			{pc: 0x2000, locals: nil, routineStack: nil, routineType: procedure},
		},
	}

	encoded := encodeStks(cs)
	frames, err := decodeStks(encoded)
	if err != nil {
		t.Fatalf("decodeStks: %v", err)
	}
	if len(frames) != len(cs.frames) {
		t.Fatalf("expected %d frames, got %d", len(cs.frames), len(frames))
	}

	first := frames[0]
	if first.pc != 0x1000 || first.storeTarget != 5 || first.numValuesPassed != 2 {
		t.Errorf("unexpected first frame: %+v", first)
	}
	if len(first.locals) != 3 || first.locals[0] != 1 || first.locals[2] != 3 {
		t.Errorf("unexpected locals: %v", first.locals)
	}
	if len(first.routineStack) != 1 || first.routineStack[0] != 9 {
		t.Errorf("unexpected routine stack: %v", first.routineStack)
	}

	second := frames[1]
	if second.routineType != procedure {
		t.Errorf("expected second frame to be a procedure, got %v", second.routineType)
	}
}
