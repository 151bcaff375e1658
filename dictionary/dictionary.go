package dictionary

import (
	"bytes"
	"sort"

	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zstring"
)

type DictionaryHeader struct {
	n          uint8
	InputCodes []uint8
	length     uint8
	count      int16
}

type DictionaryEntry struct {
	address     uint16
	encodedWord []uint8
	decodedWord string
	data        []uint8
}

type Dictionary struct {
	Header  DictionaryHeader
	entries []DictionaryEntry
}

func ParseDictionary(baseAddress uint32, core *zcore.Core, alphabets *zstring.Alphabets) *Dictionary {
	memory := core.Bytes()
	numInputCodes := memory[baseAddress]

	header := DictionaryHeader{
		n:          numInputCodes,
		InputCodes: memory[baseAddress+1 : baseAddress+1+uint32(numInputCodes)],
		length:     memory[baseAddress+1+uint32(numInputCodes)],
		count:      int16(core.ReadHalfWord(baseAddress + 2 + uint32(numInputCodes))),
	}

	entryPtr := baseAddress + 4 + uint32(numInputCodes)
	entries := make([]DictionaryEntry, header.count)

	encodedWordLength := 4
	if core.Version > 3 {
		encodedWordLength = 6
	}

	for ix := 0; ix < int(header.count); ix++ {
		encodedWord := append([]uint8{}, memory[entryPtr:entryPtr+uint32(encodedWordLength)]...)
		decodedWord, _ := zstring.Decode(entryPtr, entryPtr+uint32(encodedWordLength), core, alphabets, false)
		entries[ix] = DictionaryEntry{
			address:     uint16(entryPtr),
			encodedWord: encodedWord,
			decodedWord: decodedWord,
			data:        memory[entryPtr+uint32(encodedWordLength) : entryPtr+uint32(header.length)],
		}

		entryPtr += uint32(header.length)
	}

	return &Dictionary{
		Header:  header,
		entries: entries,
	}
}

// Find binary-searches the sorted dictionary for a matching encoded word,
// returning its address or 0 if absent. Entries are guaranteed by the
// story file format to be in strictly ascending encoded order (3.6.1).
func (d *Dictionary) Find(zstr []uint8) uint16 {
	ix := sort.Search(len(d.entries), func(i int) bool {
		return bytes.Compare(d.entries[i].encodedWord, zstr) >= 0
	})

	if ix < len(d.entries) && bytes.Equal(d.entries[ix].encodedWord, zstr) {
		return d.entries[ix].address
	}

	return 0
}
