// Package ir is the flat, already-typechecked representation the assembler
// consumes (4.7). It has no notion of a source language - constants,
// routines, objects and dictionary words are already resolved to this
// shape by whatever front-end produced them.
package ir

// SymbolID names a routine, string, or object so that other parts of the
// program can refer to it before its final address is known.
type SymbolID string

// Form mirrors the four Z-machine instruction forms (4.1) in the exported
// vocabulary the assembler's codegen switches on.
type Form int

const (
	ShortForm Form = iota
	LongForm
	VarForm
	ExtForm
)

// OperandCount mirrors the interpreter's own opcode.go grouping, which the
// assembler must produce instructions compatible with.
type OperandCount int

const (
	OP0 OperandCount = iota
	OP1
	OP2
	VAR
	EXT
)

type OperandKind int

const (
	// OperandConst is an immediate value known at IR construction time - the
	// assembler still chooses small vs large constant encoding by magnitude.
	OperandConst OperandKind = iota
	// OperandVariable references a Z-machine variable: 0 is the stack top,
	// 1-15 are locals, 16-255 are globals.
	OperandVariable
	// OperandLabel references a branch target within the same routine.
	OperandLabel
	// OperandStringRef resolves to the packed address of a StringConst.
	OperandStringRef
	// OperandRoutineRef resolves to the packed address of a Routine, or 0
	// for the sentinel "null routine" (4.8).
	OperandRoutineRef
	// OperandObjectRef resolves to an object's 1-based table index.
	OperandObjectRef
	// OperandDictRef resolves to the unpacked byte address of a dictionary
	// entry.
	OperandDictRef
)

type Operand struct {
	Kind  OperandKind
	Const uint16   // valid when Kind == OperandConst
	Var   uint8    // valid when Kind == OperandVariable
	Label string   // valid when Kind == OperandLabel
	Ref   SymbolID // valid when Kind is one of the *Ref kinds
}

// Branch describes the branch-on-condition suffix some opcodes carry (4.1).
// Exactly one of Label, ReturnTrue, ReturnFalse applies.
type Branch struct {
	OnTrue      bool // branch taken when the opcode's test is true (vs false)
	Label       string
	ReturnTrue  bool // branch is "return true" rather than a jump
	ReturnFalse bool
}

// Instruction is the tagged-sum IR node described in 9 ("polymorphic IR
// instructions"): every field the encoding needs is here, unused ones left
// zero for a given opcode shape.
type Instruction struct {
	// Label, if non-empty, lets Branch.Label in this or another instruction
	// target this instruction's address.
	Label string

	Form     Form
	Count    OperandCount
	Opcode   uint8 // opcode number within its Form/Count, not the encoded byte
	Operands []Operand

	// Store is the variable number this opcode's result is written to, nil
	// if the opcode doesn't store.
	Store *uint8

	Branch *Branch

	// TextLiteral holds the inline Z-string operand of print/print_ret -
	// these opcodes encode their text directly in the instruction stream,
	// never through the string pool.
	TextLiteral string
}

type Routine struct {
	ID        SymbolID
	Name      string
	NumLocals uint8
	// LocalDefaults is only meaningful for v1-4, where each local has a
	// stored initial value (5.2.1 of the Z-Machine Standard); ignored for
	// v5+, where locals always start at 0.
	LocalDefaults []uint16
	Instructions  []Instruction
}

// PropertyValue is one entry of an object's property table. Exactly one of
// Bytes, StringRef, RoutineRef should be populated; Bytes covers the common
// case of scalar/packed numeric property data.
type PropertyValue struct {
	Id         uint8
	Bytes      []uint8
	StringRef  SymbolID
	RoutineRef SymbolID
}

type Object struct {
	ID   SymbolID
	Name string // object's short name, stored as the property table header
	// Attributes lists the attribute numbers (0-31, or 0-47 for v4+) set on
	// this object; all others default clear.
	Attributes []uint16
	Parent     SymbolID
	Sibling    SymbolID
	Child      SymbolID
	Properties []PropertyValue
}

type DictWord struct {
	ID   SymbolID
	Word string
	// Data is the bytes following the encoded word in each entry - parts of
	// speech, verb numbers, whatever the game's dictionary format uses.
	Data []uint8
}

type StringConst struct {
	ID   SymbolID
	Text string
}

// Program is the complete compiler input (4.7): constants, routines,
// objects, dictionary, and the entry point, with every value the layout
// planner needs to place each region and every reference the codegen pass
// needs to patch.
type Program struct {
	Version uint8

	// Globals maps a global variable number (0-239, i.e. Z-machine variable
	// numbers 16-255) to its initial value; omitted globals default to 0.
	Globals map[uint8]uint16

	Objects    []Object
	Routines   []Routine
	Strings    []StringConst
	Dictionary []DictWord
	// InputCodes lists dictionary "unusual characters" accepted for input
	// beyond the default set (3.8.2); usually empty.
	InputCodes []uint8

	EntryRoutine SymbolID

	ReleaseNumber uint16
	SerialCode    string // 6 ASCII characters, padded with '0'
}
