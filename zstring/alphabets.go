package zstring

import "github.com/davetcode/goz/zcore"

// Alphabets holds the three Z-character tables used by the text codec. A0
// and A1 cover z-chars 6-31 (26 entries); A2 covers z-chars 7-31 (25
// entries) since z-char 6 in alphabet 2 is always the 10-bit ZSCII escape
// trigger, never a printable character, even under a custom table.
//
// Versions 1-4 always use the built-in defaults; version 5+ story files may
// supply a custom table via the header's alternate character set pointer
// (3.5.4).
type Alphabets struct {
	A0 [26]uint8
	A1 [26]uint8
	A2 [25]uint8
}

func defaultAlphabets(version uint8) *Alphabets {
	a := &Alphabets{
		A0: a0_default,
		A1: a1_default,
	}

	if version == 1 {
		a.A2 = a2_v1
	} else {
		a.A2 = a2_v2_default
	}

	return a
}

// LoadAlphabets builds the alphabet tables for the loaded story file,
// substituting the custom table from the header when the story declares one
// (version 5+ only).
func LoadAlphabets(core *zcore.Core) *Alphabets {
	alphabets := defaultAlphabets(core.Version)

	if core.Version >= 5 && core.AlternativeCharSetBaseAddress != 0 {
		base := uint32(core.AlternativeCharSetBaseAddress)
		for i := 0; i < 26; i++ {
			alphabets.A0[i] = core.ReadByte(base + uint32(i))
			alphabets.A1[i] = core.ReadByte(base + 26 + uint32(i))
		}
		// Row 2's first entry (z-char 6) is reserved as the escape trigger
		// and is skipped here to keep A2 indexed by zchr-7.
		for i := 0; i < 25; i++ {
			alphabets.A2[i] = core.ReadByte(base + 52 + 1 + uint32(i))
		}
	}

	return alphabets
}
