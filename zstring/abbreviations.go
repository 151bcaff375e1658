package zstring

import "github.com/davetcode/goz/zcore"

// FindAbbreviation resolves an abbreviation reference (z in 1..3, x in
// 0..31) to its decoded text. The abbreviation table holds 96 word
// addresses (32 per bank); abbreviation strings must not themselves
// reference abbreviations (3.3).
func FindAbbreviation(core *zcore.Core, alphabets *Alphabets, z uint8, x uint8) string {
	if core.AbbreviationTableBase == 0 {
		return ""
	}

	abbrIx := uint16(32*(z-1) + x)
	addr := uint32(core.AbbreviationTableBase) + 2*uint32(abbrIx)
	strAddr := 2 * uint32(core.ReadHalfWord(addr))

	str, _ := Decode(strAddr, core.MemoryLength(), core, alphabets, true)

	return str
}
