package asm_test

import (
	"testing"

	"github.com/davetcode/goz/asm"
	"github.com/davetcode/goz/dictionary"
	"github.com/davetcode/goz/ir"
	"github.com/davetcode/goz/zcore"
	"github.com/davetcode/goz/zobject"
	"github.com/davetcode/goz/zstring"
)

func sampleProgram() *ir.Program {
	return &ir.Program{
		Version:       3,
		ReleaseNumber: 1,
		SerialCode:    "260730",
		Globals:       map[uint8]uint16{0: 42},
		Objects: []ir.Object{
			{
				ID:   "obj_pebble",
				Name: "pebble",
				Properties: []ir.PropertyValue{
					{Id: 1, StringRef: "str_desc"},
				},
			},
		},
		Strings: []ir.StringConst{
			{ID: "str_desc", Text: "A shiny pebble"},
		},
		Dictionary: []ir.DictWord{
			{ID: "dw_take", Word: "take"},
		},
		Routines: []ir.Routine{
			{
				ID:        "main",
				Name:      "Main",
				NumLocals: 0,
				Instructions: []ir.Instruction{
					{Count: ir.OP0, Opcode: 3, TextLiteral: "hi"}, // print_ret
				},
			},
		},
		EntryRoutine: "main",
	}
}

// TestAssembleRoundTrip checks that a small but complete program assembles
// into a story file the existing decoder packages can read back correctly:
// the object's name and string-referencing property, the dictionary entry,
// and the entry point's first opcode byte.
func TestAssembleRoundTrip(t *testing.T) {
	story, err := asm.Assemble(sampleProgram())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	core := zcore.LoadCore(story)
	alphabets := zstring.LoadAlphabets(&core)

	if core.ReleaseNumber != 1 {
		t.Errorf("expected release number 1, got %d", core.ReleaseNumber)
	}

	obj := zobject.GetObject(1, &core, alphabets)
	if obj.Name != "pebble" {
		t.Errorf("expected object name %q, got %q", "pebble", obj.Name)
	}

	prop := obj.GetProperty(1, &core)
	if prop.Length != 2 {
		t.Fatalf("expected a 2-byte (packed address) property, got length %d", prop.Length)
	}
	packed := uint16(prop.Data[0])<<8 | uint16(prop.Data[1])
	strAddr := uint32(packed) * 2 // v3 packed multiplier
	text, _ := zstring.Decode(strAddr, core.MemoryLength(), &core, alphabets, false)
	if text != "A shiny pebble" {
		t.Errorf("expected property to point at %q, got %q", "A shiny pebble", text)
	}

	dict := dictionary.ParseDictionary(uint32(core.DictionaryBase), &core, alphabets)
	encodedTake := zstring.Encode([]rune("take"), &core, alphabets)
	if addr := dict.Find(encodedTake); addr == 0 {
		t.Error("expected \"take\" to be found in the dictionary")
	}

	firstOpcode := story[core.FirstInstruction]
	if firstOpcode != 0xB3 {
		t.Errorf("expected the entry point's first byte to be print_ret (0xB3), got 0x%x", firstOpcode)
	}
}

// TestAssembleUnresolvedEntryRoutine checks that a missing EntryRoutine
// reference is reported rather than panicking.
func TestAssembleUnresolvedEntryRoutine(t *testing.T) {
	p := sampleProgram()
	p.EntryRoutine = "does_not_exist"

	_, err := asm.Assemble(p)
	if err == nil {
		t.Fatal("expected an UnresolvedSymbol error")
	}
	if _, ok := err.(*asm.UnresolvedSymbol); !ok {
		t.Errorf("expected *asm.UnresolvedSymbol, got %T: %v", err, err)
	}
}

// TestAssembleDetectsObjectCycle checks the parent-chain cycle check fires
// before any layout work happens.
func TestAssembleDetectsObjectCycle(t *testing.T) {
	p := sampleProgram()
	p.Objects = []ir.Object{
		{ID: "a", Name: "A", Parent: "b"},
		{ID: "b", Name: "B", Parent: "a"},
	}

	_, err := asm.Assemble(p)
	if err == nil {
		t.Fatal("expected an ObjectCycle error")
	}
	if _, ok := err.(*asm.ObjectCycle); !ok {
		t.Errorf("expected *asm.ObjectCycle, got %T: %v", err, err)
	}
}

// TestAssembleBranchToLabel checks a branch instruction targeting a label
// defined later in the same routine assembles, with the branch-on-true
// polarity bit set in its 2-byte branch field.
func TestAssembleBranchToLabel(t *testing.T) {
	p := sampleProgram()
	p.Routines = []ir.Routine{
		{
			ID:        "main",
			NumLocals: 0,
			Instructions: []ir.Instruction{
				{
					Count:    ir.OP2,
					Opcode:   1, // je
					Operands: []ir.Operand{{Kind: ir.OperandConst, Const: 1}, {Kind: ir.OperandConst, Const: 1}},
					Branch:   &ir.Branch{OnTrue: true, Label: "skip"},
				},
				{Count: ir.OP0, Opcode: 3, TextLiteral: "unreached"},
				{Label: "skip", Count: ir.OP0, Opcode: 3, TextLiteral: "hi"},
			},
		},
	}

	story, err := asm.Assemble(p)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	core := zcore.LoadCore(story)
	// je a,b with two small constants is long form: opcode byte + 2 operand
	// bytes + 2-byte branch field = 5 bytes.
	branchFieldAddr := core.FirstInstruction + 3
	b1 := story[branchFieldAddr]
	if b1&0b1000_0000 == 0 {
		t.Error("expected the branch-on-true polarity bit to be set")
	}
}
