package zstring

import (
	"fmt"

	"github.com/davetcode/goz/zcore"
)

var a0_default = [26]uint8{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l', 'm', 'n', 'o', 'p', 'q', 'r', 's', 't', 'u', 'v', 'w', 'x', 'y', 'z'}
var a1_default = [26]uint8{'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'I', 'J', 'K', 'L', 'M', 'N', 'O', 'P', 'Q', 'R', 'S', 'T', 'U', 'V', 'W', 'X', 'Y', 'Z'}
var a2_v1 = [25]uint8{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '<', '-', ':', '(', ')'}
var a2_v2_default = [25]uint8{'\n', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9', '.', ',', '!', '?', '_', '#', '\'', '"', '/', '\\', '-', ':', '(', ')'}

type alphabet int

const (
	a0Alpha alphabet = 0
	a1Alpha alphabet = 1
	a2Alpha alphabet = 2
)

// Decode reads a Z-character string starting at addr and returns its decoded
// text along with the number of bytes consumed from the story file (the
// count always being a multiple of 2, ending at the word with the
// terminator bit set, or at maxAddr if the string runs off the edge of
// readable memory).
//
// inAbbreviation must be true only when this call is itself decoding the
// body of an abbreviation; abbreviations referring to further abbreviations
// are against the standard and are reported as an error rather than
// recursed into.
func Decode(addr uint32, maxAddr uint32, core *zcore.Core, alphabets *Alphabets, inAbbreviation bool) (string, uint32) {
	bytesRead := uint32(0)
	ptr := addr
	baseAlphabet := a0Alpha
	currentAlphabet := a0Alpha
	nextAlphabet := a0Alpha

	var zchrStream []uint8

	for {
		if ptr+1 >= maxAddr {
			break
		}

		halfWord := core.ReadHalfWord(ptr)
		bytesRead += 2
		ptr += 2
		isLastHalfWord := (halfWord >> 15) == 1

		zchrStream = append(zchrStream, uint8((halfWord>>10)&0b11111))
		zchrStream = append(zchrStream, uint8((halfWord>>5)&0b11111))
		zchrStream = append(zchrStream, uint8(halfWord&0b11111))

		if isLastHalfWord {
			break
		}
	}

	var chrStream []rune

	for i := 0; i < len(zchrStream); i++ {
		zchr := zchrStream[i]
		currentAlphabet = nextAlphabet
		nextAlphabet = baseAlphabet

		switch {
		case zchr == 0:
			chrStream = append(chrStream, ' ')

		case zchr >= 1 && zchr <= 3:
			// Abbreviations (v2+); in v1, 1 is a literal newline.
			if core.Version == 1 && zchr == 1 {
				chrStream = append(chrStream, '\n')
				continue
			}
			if inAbbreviation {
				panic(fmt.Sprintf("abbreviation string referenced another abbreviation at z-char offset %d - nesting is forbidden", i))
			}
			if i+1 >= len(zchrStream) {
				break
			}
			x := zchrStream[i+1]
			i++
			abbrText := FindAbbreviation(core, alphabets, zchr, x)
			chrStream = append(chrStream, []rune(abbrText)...)

		case zchr == 4:
			if core.Version >= 3 {
				nextAlphabet = (nextAlphabet + 1) % 3
			} else {
				baseAlphabet = (baseAlphabet + 1) % 3
				nextAlphabet = baseAlphabet
			}

		case zchr == 5:
			if core.Version >= 3 {
				nextAlphabet = (nextAlphabet + 2) % 3
			} else {
				baseAlphabet = (baseAlphabet + 2) % 3
				nextAlphabet = baseAlphabet
			}

		case currentAlphabet == a2Alpha && zchr == 6:
			// 10-bit ZSCII escape: next two z-chars form the 8-bit code,
			// high bits first (3.4).
			if i+2 >= len(zchrStream) {
				break
			}
			hi := zchrStream[i+1]
			lo := zchrStream[i+2]
			i += 2
			code := uint8(hi<<5 | lo)
			if r, ok := ZsciiToUnicode(code, core); ok {
				chrStream = append(chrStream, r)
			} else {
				chrStream = append(chrStream, rune(code))
			}

		default:
			chrStream = append(chrStream, rune(lookupAlphabetChar(currentAlphabet, zchr, alphabets)))
		}
	}

	return string(chrStream), bytesRead
}

func lookupAlphabetChar(a alphabet, zchr uint8, alphabets *Alphabets) uint8 {
	switch a {
	case a0Alpha:
		return alphabets.A0[zchr-6]
	case a1Alpha:
		return alphabets.A1[zchr-6]
	default:
		return alphabets.A2[zchr-7]
	}
}
