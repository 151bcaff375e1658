package zstring_test

import (
	"testing"

	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zstring"
)

func newTestCore(t *testing.T, version uint8) (*zcore.Core, *zstring.Alphabets) {
	t.Helper()

	bytes := make([]uint8, 256)
	bytes[0x00] = version
	bytes[0x0e] = 0x00
	bytes[0x0f] = 0xff // static memory base, covers all fixture writes

	core := zcore.LoadCore(bytes)
	alphabets := zstring.LoadAlphabets(&core)
	return &core, alphabets
}

func putHalfWords(core *zcore.Core, addr uint32, words ...uint16) {
	memory := core.Bytes()
	for i, w := range words {
		memory[addr+uint32(i*2)] = uint8(w >> 8)
		memory[addr+uint32(i*2+1)] = uint8(w)
	}
}

func TestDecodeSimpleWord(t *testing.T) {
	core, alphabets := newTestCore(t, 3)
	encoded := zstring.Encode([]rune("zork"), core, alphabets)
	copy(core.Bytes()[0x40:], encoded)

	text, bytesRead := zstring.Decode(0x40, core.MemoryLength(), core, alphabets, false)
	if text != "zork" {
		t.Errorf("expected %q, got %q", "zork", text)
	}
	if bytesRead != uint32(len(encoded)) {
		t.Errorf("expected bytesRead %d, got %d", len(encoded), bytesRead)
	}
}

// TestDecodeZsciiEscape hand-constructs the z-char stream [5, 6, 1, 30, 5, 5]:
// shift to A2, the 10-bit ZSCII escape trigger, then the hi/lo halves of
// code 62 ('>'), padded with two more pad-shift z-chars. The padding
// z-chars only ever act as shift operators here, so they produce no
// visible output even though they never settle on a real character.
func TestDecodeZsciiEscape(t *testing.T) {
	core, alphabets := newTestCore(t, 3)
	putHalfWords(core, 0x40, 0x14C1, 0xF8A5)

	text, bytesRead := zstring.Decode(0x40, core.MemoryLength(), core, alphabets, false)
	if text != ">" {
		t.Errorf("expected %q, got %q", ">", text)
	}
	if bytesRead != 4 {
		t.Errorf("expected bytesRead 4, got %d", bytesRead)
	}
}

// TestDecodeTemporaryShift checks that a version 3+ alphabet shift (z-char 4,
// "shift to A1") only affects the single following z-char, reverting back to
// A0 immediately afterwards - z-char stream [4, 6, 6, 5, 5, 5] should decode
// to "Aa" (A1[0], then A0[0]).
func TestDecodeTemporaryShift(t *testing.T) {
	core, alphabets := newTestCore(t, 3)
	putHalfWords(core, 0x40, 0x10C6, 0x94A5)

	text, _ := zstring.Decode(0x40, core.MemoryLength(), core, alphabets, false)
	if text != "Aa" {
		t.Errorf("expected %q, got %q", "Aa", text)
	}
}

func TestDecodeV1NewlineIsLiteral(t *testing.T) {
	core, alphabets := newTestCore(t, 1)
	// z-char stream [1, 5, 5]: z-char 1 is a literal newline in v1 rather
	// than an abbreviation reference.
	putHalfWords(core, 0x40, 0x84A5)

	text, _ := zstring.Decode(0x40, core.MemoryLength(), core, alphabets, false)
	if text != "\n" {
		t.Errorf("expected a literal newline, got %q", text)
	}
}

func TestDecodeAbbreviation(t *testing.T) {
	bytes := make([]uint8, 1024)
	bytes[0x00] = 3
	bytes[0x0e], bytes[0x0f] = 0x01, 0xff

	abbrTableBase := uint32(0x40)
	bytes[0x18] = uint8(abbrTableBase >> 8)
	bytes[0x19] = uint8(abbrTableBase)

	core := zcore.LoadCore(bytes)
	alphabets := zstring.LoadAlphabets(&core)

	abbrStringAddr := uint32(0x100)
	putHalfWords(&core, abbrTableBase, uint16(abbrStringAddr/2))

	theText := zstring.Encode([]rune("the"), &core, alphabets)
	copy(core.Bytes()[abbrStringAddr:], theText)

	// Main string z-char stream [1, 0, 5, 5, 5, 5]: abbreviation bank 1,
	// entry 0, followed by pad shifts.
	putHalfWords(&core, 0x200, 0x0405, 0x94A5)

	text, _ := zstring.Decode(0x200, core.MemoryLength(), &core, alphabets, false)
	if text != "the" {
		t.Errorf("expected %q, got %q", "the", text)
	}
}

func TestDecodeNestedAbbreviationPanics(t *testing.T) {
	core, alphabets := newTestCore(t, 3)
	putHalfWords(core, 0x40, 0x0405, 0x94A5)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected a panic when an abbreviation body references another abbreviation")
		}
	}()

	zstring.Decode(0x40, core.MemoryLength(), core, alphabets, true)
}

func TestEncodeTruncatesToVersionLength(t *testing.T) {
	core, alphabets := newTestCore(t, 3)

	encoded := zstring.Encode([]rune("inventory"), core, alphabets)
	if len(encoded) != 4 {
		t.Fatalf("expected a v3 dictionary word to encode to 4 bytes, got %d", len(encoded))
	}

	copy(core.Bytes()[0x40:], encoded)
	text, _ := zstring.Decode(0x40, core.MemoryLength(), core, alphabets, false)
	if text != "invent" {
		t.Errorf("expected truncation to 6 z-chars to read back as %q, got %q", "invent", text)
	}
}

func TestEncodeUnknownCharUsesZsciiEscape(t *testing.T) {
	core, alphabets := newTestCore(t, 3)

	encoded := zstring.Encode([]rune("@"), core, alphabets)
	copy(core.Bytes()[0x40:], encoded)

	text, _ := zstring.Decode(0x40, core.MemoryLength(), core, alphabets, false)
	if text != "@" {
		t.Errorf("expected the escaped character to round-trip as %q, got %q", "@", text)
	}
}

func TestFindAbbreviationEmptyWithoutTable(t *testing.T) {
	core, alphabets := newTestCore(t, 3)

	if got := zstring.FindAbbreviation(core, alphabets, 1, 0); got != "" {
		t.Errorf("expected no abbreviation table to yield an empty string, got %q", got)
	}
}
