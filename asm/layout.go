// Package asm assembles an ir.Program into a Z-machine story file image: a
// layout pass places every region, codegen emits instructions and property
// tables against that layout, and a resolution pass rewrites every patch
// once all addresses are known (4.7-4.8).
package asm

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/davetcode/goz/ir"
	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zstring"
)

// ObjectID is an object's 1-based table index, the form every ObjectCycle
// error and object-number patch ultimately reports.
type ObjectID = uint16

const globalsTableSize = 480 // 240 words, 3.4

// Assembler holds everything layout and codegen need to share: the program
// being compiled, a scratch Core/Alphabets pair used purely to drive
// zstring encoding (no story file memory is read through it), the resolved
// symbol tables, and the two patch queues from patch.go.
type Assembler struct {
	program   *ir.Program
	core      *zcore.Core
	alphabets *zstring.Alphabets

	indexByID map[ir.SymbolID]int // object ID -> index into program.Objects

	objectNumber map[ir.SymbolID]uint16
	stringAddr   map[ir.SymbolID]uint32
	routineAddr  map[ir.SymbolID]uint32
	dictAddr     map[ir.SymbolID]uint32

	labelAddrs []map[string]uint32 // per routine index, label -> byte address

	claimed        map[uint32]string
	branchPatches  []branchPatch
	operandPatches []operandPatch

	regions regions
}

// New prepares an Assembler for program. The scratch Core exists only so
// zstring.Encode/EncodeText can see the target version and (for v5+) any
// alternative alphabet table; a freshly compiled program always uses the
// default tables, so the scratch header carries nothing but the version
// byte.
func New(program *ir.Program) *Assembler {
	buf := make([]uint8, 64)
	buf[0] = program.Version
	core := zcore.LoadCore(buf)

	a := &Assembler{
		program:      program,
		core:         &core,
		alphabets:    zstring.LoadAlphabets(&core),
		indexByID:    make(map[ir.SymbolID]int, len(program.Objects)),
		objectNumber: make(map[ir.SymbolID]uint16, len(program.Objects)),
		stringAddr:   make(map[ir.SymbolID]uint32, len(program.Strings)),
		routineAddr:  make(map[ir.SymbolID]uint32, len(program.Routines)),
		dictAddr:     make(map[ir.SymbolID]uint32, len(program.Dictionary)),
		claimed:      make(map[uint32]string),
	}

	for i, obj := range program.Objects {
		a.indexByID[obj.ID] = i
		a.objectNumber[obj.ID] = uint16(i + 1)
	}

	return a
}

func (a *Assembler) packedMultiplier() uint8 {
	switch {
	case a.program.Version <= 3:
		return 2
	case a.program.Version <= 5:
		return 4
	default:
		return 8
	}
}

func (a *Assembler) packedAddress(byteAddr uint32) uint32 {
	switch a.packedMultiplier() {
	case 2:
		return byteAddr >> 1
	case 4:
		return byteAddr >> 2
	default:
		return byteAddr >> 3
	}
}

func align(addr uint32, multiplier uint8) uint32 {
	m := uint32(multiplier)
	if addr%m == 0 {
		return addr
	}
	return addr + (m - addr%m)
}

// checkObjectCycles walks each object's parent chain looking for a repeat -
// an object can never be its own ancestor. A parent ref that names no
// object is reported as UnresolvedSymbol.
func (a *Assembler) checkObjectCycles() error {
	for _, obj := range a.program.Objects {
		seen := map[ir.SymbolID]bool{obj.ID: true}
		cur := obj.Parent
		for cur != "" {
			if seen[cur] {
				return &ObjectCycle{Object: a.objectNumber[obj.ID]}
			}
			seen[cur] = true
			idx, ok := a.indexByID[cur]
			if !ok {
				return &UnresolvedSymbol{Name: string(cur)} // dangling parent ref
			}
			cur = a.program.Objects[idx].Parent
		}
	}
	return nil
}

// Assemble runs the full pipeline and returns the finished story file image.
func (a *Assembler) Assemble() ([]byte, error) {
	if err := a.checkObjectCycles(); err != nil {
		return nil, err
	}

	buf, err := a.layout()
	if err != nil {
		return nil, err
	}

	if err := a.emitRoutines(buf); err != nil {
		return nil, err
	}

	if err := a.resolvePatches(buf); err != nil {
		return nil, err
	}

	if err := a.writeHeader(buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// layout places every non-routine region (header reserved, globals, object
// table, dictionary, string pool) and sizes the routine region, returning a
// buffer big enough for the whole file with everything but instructions and
// the header already written. Routine bodies are left zeroed; emitRoutines
// fills them in.
func (a *Assembler) layout() ([]byte, error) {
	p := a.program
	mult := a.packedMultiplier()

	globalsBase := uint32(0x40)
	objectTableBase := globalsBase + globalsTableSize

	defaultsWords := 31
	recordStride := uint32(9)
	if p.Version >= 4 {
		defaultsWords = 63
		recordStride = 14
	}

	recordBase := objectTableBase + uint32(defaultsWords)*2
	propTableBase := recordBase + uint32(len(p.Objects))*recordStride

	// Property tables are emitted back-to-back right after the object
	// records, each aligned to an even address per common practice (not a
	// hard Standard requirement, but every real compiler does it and it
	// keeps property data out of the way of packed-address alignment
	// further on).
	propTables := make([][]byte, len(p.Objects))
	propTableAddr := make([]uint32, len(p.Objects))
	propTablePatches := make([][]tablePatch, len(p.Objects))
	cursor := propTableBase
	for i, obj := range p.Objects {
		cursor = align(cursor, 2)
		propTableAddr[i] = cursor
		table, patches, err := a.buildPropertyTable(obj)
		if err != nil {
			return nil, err
		}
		propTables[i] = table
		propTablePatches[i] = patches
		cursor += uint32(len(table))
	}

	dictBase := align(cursor, 2)
	dictBytes, dictEntryAddr := a.buildDictionary(dictBase)

	stringPoolBase := align(dictBase+uint32(len(dictBytes)), mult)
	stringBytes, stringAddrs := a.buildStringPool(stringPoolBase)
	for id, addr := range stringAddrs {
		a.stringAddr[id] = addr
	}

	routinesBase := align(stringPoolBase+uint32(len(stringBytes)), mult)

	// Routine sizes are needed to place subsequent routines before any of
	// their instructions are emitted - sizeRoutine computes the same
	// per-instruction width codegen will use, without resolving any patch.
	routineAddr := make(map[ir.SymbolID]uint32, len(p.Routines))
	routineOffsets := make([]uint32, len(p.Routines))
	cursor = routinesBase
	for i, r := range p.Routines {
		cursor = align(cursor, mult)
		routineOffsets[i] = cursor
		routineAddr[r.ID] = cursor
		cursor += a.sizeRoutine(r)
	}
	a.routineAddr = routineAddr
	fileEnd := cursor

	buf := make([]byte, fileEnd)

	if p.Globals != nil {
		for num, val := range p.Globals {
			off := globalsBase + uint32(num)*2
			binary.BigEndian.PutUint16(buf[off:off+2], val)
		}
	}

	for i, table := range propTables {
		copy(buf[propTableAddr[i]:], table)
		// defaults + record fields (attrs/parent/sibling/child/propptr) are
		// written now; refs (parent/sibling/child symbols) resolve to
		// object numbers which are already known, so no patch is needed.
		a.writeObjectRecord(buf, recordBase+uint32(i)*recordStride, p.Objects[i], propTableAddr[i])

		for _, pt := range propTablePatches[i] {
			if err := a.registerOperandPatch(buf, operandPatch{
				addr:  propTableAddr[i] + pt.offset,
				width: 2,
				kind:  pt.kind,
				ref:   pt.ref,
			}); err != nil {
				return nil, err
			}
		}
	}

	copy(buf[dictBase:], dictBytes)
	for id, addr := range dictEntryAddr {
		a.dictAddr[id] = addr
	}

	copy(buf[stringPoolBase:], stringBytes)

	a.labelAddrs = make([]map[string]uint32, len(p.Routines))
	for i := range p.Routines {
		a.labelAddrs[i] = make(map[string]uint32)
	}

	a.regions.globalsBase = globalsBase
	a.regions.objectTableBase = objectTableBase
	a.regions.dictBase = dictBase
	a.regions.stringPoolBase = stringPoolBase
	a.regions.routinesBase = routinesBase
	a.regions.routineOffsets = routineOffsets

	return buf, nil
}

// writeObjectRecord writes one object's attribute bitmask, parent/sibling/
// child links (already resolvable to object numbers, no patch needed - an
// empty SymbolID is object 0, "no relation") and property table pointer.
func (a *Assembler) writeObjectRecord(buf []byte, base uint32, obj ir.Object, propAddr uint32) {
	var attrs uint64
	for _, n := range obj.Attributes {
		attrs |= uint64(1) << (63 - n)
	}

	if a.program.Version >= 4 {
		binary.BigEndian.PutUint64(buf[base:base+8], attrs)
		// PutUint64 wrote bytes 6-7 with the low 16 bits of attrs, which
		// belong to parent; overwrite parent/sibling/child/propptr below.
		binary.BigEndian.PutUint16(buf[base+6:base+8], a.objectNumber[obj.Parent])
		binary.BigEndian.PutUint16(buf[base+8:base+10], a.objectNumber[obj.Sibling])
		binary.BigEndian.PutUint16(buf[base+10:base+12], a.objectNumber[obj.Child])
		binary.BigEndian.PutUint16(buf[base+12:base+14], uint16(propAddr))
	} else {
		binary.BigEndian.PutUint32(buf[base:base+4], uint32(attrs>>32))
		buf[base+4] = uint8(a.objectNumber[obj.Parent])
		buf[base+5] = uint8(a.objectNumber[obj.Sibling])
		buf[base+6] = uint8(a.objectNumber[obj.Child])
		binary.BigEndian.PutUint16(buf[base+7:base+9], uint16(propAddr))
	}
}

// buildPropertyTable encodes one object's property table: a name-length
// byte, the encoded short name, property entries in descending ID order
// (12.4), and a terminating zero. Properties referencing a string or
// routine reserve two placeholder bytes and an operand patch, since those
// addresses aren't known until the string pool and routine region are laid
// out (which happens in the same pass but after this call, for strings
// that come later in program order).
type tablePatch struct {
	offset uint32
	kind   operandRefKind
	ref    ir.SymbolID
}

func (a *Assembler) buildPropertyTable(obj ir.Object) ([]byte, []tablePatch, error) {
	nameZchars := zstring.EncodeText([]rune(obj.Name), a.core, a.alphabets)
	nameWords := uint8(len(nameZchars) / 2)

	table := make([]byte, 0, 1+len(nameZchars)+8)
	table = append(table, nameWords)
	table = append(table, nameZchars...)

	var patches []tablePatch

	sorted := append([]ir.PropertyValue{}, obj.Properties...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Id > sorted[j].Id })

	for _, prop := range sorted {
		data := prop.Bytes
		var pendingKind operandRefKind
		var pendingRef ir.SymbolID
		pending := false
		if prop.StringRef != "" {
			data = []uint8{0, 0} // placeholder, patched once the string pool is laid out
			pendingKind, pendingRef, pending = refPackedString, prop.StringRef, true
		} else if prop.RoutineRef != "" {
			data = []uint8{0, 0}
			pendingKind, pendingRef, pending = refPackedRoutine, prop.RoutineRef, true
		}
		length := uint8(len(data))

		if a.program.Version <= 3 {
			if prop.Id < 1 || prop.Id > 31 || length < 1 || length > 8 {
				return nil, nil, fmt.Errorf("property %d on object %q: id/length out of v%d range", prop.Id, obj.Name, a.program.Version)
			}
			table = append(table, ((length-1)<<5)|prop.Id)
		} else {
			if prop.Id < 1 || prop.Id > 63 {
				return nil, nil, fmt.Errorf("property %d on object %q: id out of range", prop.Id, obj.Name)
			}
			switch {
			case length <= 2:
				sizeByte := prop.Id
				if length == 2 {
					sizeByte |= 0b100_0000
				}
				table = append(table, sizeByte)
			default:
				lenByte := length
				if lenByte == 64 {
					lenByte = 0
				}
				table = append(table, 0b1000_0000|prop.Id, 0b1000_0000|lenByte)
			}
		}

		if pending {
			patches = append(patches, tablePatch{offset: uint32(len(table)), kind: pendingKind, ref: pendingRef})
		}
		table = append(table, data...)
	}

	table = append(table, 0)
	return table, patches, nil
}

// buildDictionary encodes the dictionary header (input codes + entry
// length + count) and every word entry, already in ascending encoded order
// as 3.8 requires for the interpreter's binary search.
func (a *Assembler) buildDictionary(base uint32) ([]byte, map[ir.SymbolID]uint32) {
	p := a.program
	entryWordBytes := 4
	if p.Version >= 4 {
		entryWordBytes = 6
	}

	type encoded struct {
		id   ir.SymbolID
		word []byte
		data []uint8
	}

	entries := make([]encoded, len(p.Dictionary))
	for i, w := range p.Dictionary {
		entries[i] = encoded{
			id:   w.ID,
			word: zstring.Encode([]rune(w.Word), a.core, a.alphabets),
			data: w.Data,
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].word) < string(entries[j].word)
	})

	entryLen := uint8(entryWordBytes)
	for _, e := range entries {
		if uint8(entryWordBytes+len(e.data)) > entryLen {
			entryLen = uint8(entryWordBytes + len(e.data))
		}
	}

	out := []byte{uint8(len(p.InputCodes))}
	out = append(out, p.InputCodes...)
	out = append(out, entryLen)
	out = append(out, 0, 0)
	binary.BigEndian.PutUint16(out[len(out)-2:], uint16(len(entries)))

	addrs := make(map[ir.SymbolID]uint32, len(entries))
	for _, e := range entries {
		addrs[e.id] = base + uint32(len(out))
		out = append(out, e.word...)
		padded := make([]uint8, int(entryLen)-entryWordBytes)
		copy(padded, e.data)
		out = append(out, padded...)
	}

	return out, addrs
}

// buildStringPool encodes every string constant in program order, aligning
// each to the version's packed-address multiplier so that every string has
// a packed address (base itself is already aligned by layout).
func (a *Assembler) buildStringPool(base uint32) ([]byte, map[ir.SymbolID]uint32) {
	var out []byte
	addrs := make(map[ir.SymbolID]uint32, len(a.program.Strings))
	mult := uint32(a.packedMultiplier())
	cursor := base
	for _, s := range a.program.Strings {
		for (cursor-base)%mult != 0 {
			out = append(out, 0)
			cursor++
		}
		addrs[s.ID] = cursor
		enc := zstring.EncodeText([]rune(s.Text), a.core, a.alphabets)
		out = append(out, enc...)
		cursor += uint32(len(enc))
	}
	return out, addrs
}

type regions struct {
	globalsBase     uint32
	objectTableBase uint32
	dictBase        uint32
	stringPoolBase  uint32
	routinesBase    uint32
	routineOffsets  []uint32
}
