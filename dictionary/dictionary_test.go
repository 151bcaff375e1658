package dictionary_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/davetcode/goz/dictionary"
	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zstring"
)

// buildDictionary hand-assembles a v3 dictionary table (3.6): no input
// codes, one data byte per entry, entries sorted in ascending encoded order
// as the format requires. The table holds no absolute addresses, so its
// bytes are the same whatever base it is later copied to.
func buildDictionary(base uint32, words []string, core *zcore.Core, alphabets *zstring.Alphabets) []uint8 {
	type entry struct {
		encoded []uint8
		data    uint8
	}
	entries := make([]entry, len(words))
	for i, w := range words {
		entries[i] = entry{encoded: zstring.Encode([]rune(w), core, alphabets), data: uint8(i + 1)}
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].encoded, entries[j].encoded) < 0
	})

	const entryLen = 4 + 1 // v3: 4-byte encoded word + 1 data byte
	buf := make([]uint8, 4+uint32(len(entries))*entryLen)
	buf[0] = 0 // no input codes
	buf[1] = entryLen
	buf[2] = 0
	buf[3] = uint8(len(entries))
	for i, e := range entries {
		off := 4 + i*entryLen
		copy(buf[off:off+4], e.encoded)
		buf[off+4] = e.data
	}
	return buf
}

func newV3Core() (*zcore.Core, *zstring.Alphabets) {
	bytes := make([]uint8, 64)
	bytes[0] = 3
	core := zcore.LoadCore(bytes)
	return &core, zstring.LoadAlphabets(&core)
}

func TestDictionaryFindLocatesWord(t *testing.T) {
	core, alphabets := newV3Core()
	words := []string{"take", "drop", "inventory", "go", "zork"}
	table := buildDictionary(0, words, core, alphabets)

	full := make([]uint8, 64+len(table))
	copy(full[:64], core.Bytes())
	copy(full[64:], table)
	core2 := zcore.LoadCore(full)

	dict := dictionary.ParseDictionary(64, &core2, alphabets)

	for _, w := range words {
		encoded := zstring.Encode([]rune(w), &core2, alphabets)
		if addr := dict.Find(encoded); addr == 0 {
			t.Errorf("expected to find %q in the dictionary", w)
		}
	}
}

func TestDictionaryFindReturnsZeroForMissingWord(t *testing.T) {
	core, alphabets := newV3Core()
	table := buildDictionary(0, []string{"take", "drop"}, core, alphabets)

	full := make([]uint8, 64+len(table))
	copy(full[:64], core.Bytes())
	copy(full[64:], table)
	core2 := zcore.LoadCore(full)

	dict := dictionary.ParseDictionary(64, &core2, alphabets)

	encoded := zstring.Encode([]rune("xyzzy"), &core2, alphabets)
	if addr := dict.Find(encoded); addr != 0 {
		t.Errorf("expected xyzzy to be absent, got address 0x%x", addr)
	}
}
