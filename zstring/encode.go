package zstring

import (
	"strings"

	"github.com/davetcode/goz/zcore"
)

const padZchar = 5

// Encode converts a token (already whitespace-trimmed) into its dictionary
// encoding: case-folded to lower, truncated to the version's encoded length
// (6 z-chars for v3, 9 for v4+), packed three z-chars per 16-bit word with
// the terminator bit set on the final word, and padded with z-char 5.
// Characters with no direct alphabet representation are emitted via the
// 10-bit ZSCII escape (alphabet 2, z-char 6).
func Encode(runes []rune, core *zcore.Core, alphabets *Alphabets) []uint8 {
	maxZchars := 6
	if core.Version >= 4 {
		maxZchars = 9
	}

	lowered := []rune(strings.ToLower(string(runes)))

	var zchrs []uint8
	for _, r := range lowered {
		if len(zchrs) >= maxZchars {
			break
		}
		zchrs = append(zchrs, encodeRune(r, core, alphabets)...)
	}

	if len(zchrs) > maxZchars {
		zchrs = zchrs[:maxZchars]
	}
	for len(zchrs) < maxZchars {
		zchrs = append(zchrs, padZchar)
	}

	numWords := maxZchars / 3
	result := make([]uint8, numWords*2)
	for w := 0; w < numWords; w++ {
		halfWord := uint16(zchrs[w*3])<<10 | uint16(zchrs[w*3+1])<<5 | uint16(zchrs[w*3+2])
		if w == numWords-1 {
			halfWord |= 0x8000
		}
		result[w*2] = uint8(halfWord >> 8)
		result[w*2+1] = uint8(halfWord)
	}

	return result
}

// encodeRune maps a single character onto one or more z-characters: a direct
// alphabet-0/alphabet-2 hit, or (failing that) the 10-bit ZSCII escape
// sequence (shift to A2, escape z-char 6, then the two 5-bit halves of the
// 8-bit code).
func encodeRune(r rune, core *zcore.Core, alphabets *Alphabets) []uint8 {
	if r < 256 {
		if ix := indexOf(alphabets.A0[:], uint8(r)); ix >= 0 {
			return []uint8{uint8(ix) + 6}
		}
		if ix := indexOf(alphabets.A2[:], uint8(r)); ix >= 0 {
			return []uint8{padZchar, uint8(ix) + 7}
		}
	}

	code, ok := unicodeToZscii(r, core)
	if !ok {
		if r < 256 {
			code = uint8(r)
		} else {
			code = '?'
		}
	}
	return []uint8{padZchar, 6, code >> 5, code & 0b1_1111}
}

func indexOf(table []uint8, b uint8) int {
	for i, v := range table {
		if v == b {
			return i
		}
	}
	return -1
}

// EncodeText converts arbitrary text - an object's short name, a string pool
// entry, or an inline print/print_ret literal - into its full Z-character
// encoding. Unlike Encode, it preserves case (via alphabet-1 shifts rather
// than folding to lowercase) and never truncates; the caller supplies
// already print-ready text, so the only padding applied is to round the
// final z-char group up to a whole 16-bit word.
func EncodeText(runes []rune, core *zcore.Core, alphabets *Alphabets) []uint8 {
	baseAlphabet := 0 // v1-2 shift-lock state; always 0 (A0) for v3+

	var zchrs []uint8
	for _, r := range runes {
		zchrs = append(zchrs, encodeTextRune(r, core, alphabets, &baseAlphabet)...)
	}

	for len(zchrs)%3 != 0 {
		zchrs = append(zchrs, padZchar)
	}
	if len(zchrs) == 0 {
		zchrs = []uint8{padZchar, padZchar, padZchar}
	}

	numWords := len(zchrs) / 3
	result := make([]uint8, numWords*2)
	for w := 0; w < numWords; w++ {
		halfWord := uint16(zchrs[w*3])<<10 | uint16(zchrs[w*3+1])<<5 | uint16(zchrs[w*3+2])
		if w == numWords-1 {
			halfWord |= 0x8000
		}
		result[w*2] = uint8(halfWord >> 8)
		result[w*2+1] = uint8(halfWord)
	}

	return result
}

// encodeTextRune emits the z-chars for one rune, shifting alphabets as
// needed. baseAlphabet tracks the v1-2 shift-lock state across calls; it is
// unused (always 0) for v3+, where every shift in Decode is temporary.
func encodeTextRune(r rune, core *zcore.Core, alphabets *Alphabets, baseAlphabet *int) []uint8 {
	if r == '\n' {
		if core.Version == 1 {
			return []uint8{1}
		}
		return shiftTo(2, core, baseAlphabet, []uint8{7})
	}

	if r < 256 {
		if ix := indexOf(alphabets.A0[:], uint8(r)); ix >= 0 {
			return shiftTo(0, core, baseAlphabet, []uint8{uint8(ix) + 6})
		}
		if ix := indexOf(alphabets.A1[:], uint8(r)); ix >= 0 {
			return shiftTo(1, core, baseAlphabet, []uint8{uint8(ix) + 6})
		}
		if ix := indexOf(alphabets.A2[:], uint8(r)); ix >= 0 {
			return shiftTo(2, core, baseAlphabet, []uint8{uint8(ix) + 7})
		}
	}

	code, ok := unicodeToZscii(r, core)
	if !ok {
		if r < 256 {
			code = uint8(r)
		} else {
			code = '?'
		}
	}
	return shiftTo(2, core, baseAlphabet, []uint8{6, code >> 5, code & 0b1_1111})
}

// shiftTo prefixes the given trailing z-chars (already relative to target
// alphabet) with whatever shift is needed to reach it: a single temporary
// shift z-char for v3+, or a shift-lock-then-revert pair for v1-2.
func shiftTo(target int, core *zcore.Core, baseAlphabet *int, tail []uint8) []uint8 {
	if target == 0 {
		return tail
	}

	if core.Version >= 3 {
		shiftZchr := uint8(4)
		if target == 2 {
			shiftZchr = 5
		}
		return append([]uint8{shiftZchr}, tail...)
	}

	forward := uint8(4) // shifts baseAlphabet by +1 (mod 3)
	if (*baseAlphabet+2)%3 == target {
		forward = 5 // shifts baseAlphabet by +2 (mod 3)
	}
	*baseAlphabet = target

	revert := uint8(4)
	if (*baseAlphabet+2)%3 == 0 {
		revert = 5
	}
	*baseAlphabet = 0

	return append([]uint8{forward}, append(tail, revert)...)
}
