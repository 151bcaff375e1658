package asm

import "fmt"

// UnresolvedSymbol is returned when a patch's symbol never appears in the
// program being assembled.
type UnresolvedSymbol struct {
	Name string
}

func (e *UnresolvedSymbol) Error() string { return "unresolved symbol: " + e.Name }

// PatchCollision is the failure of the §4.8 invariant: a branch-offset
// patch and an operand-reference patch (or two of the same family) claim
// an overlapping byte. Kinds names what was already there and what tried
// to land on top of it.
type PatchCollision struct {
	Addr  uint32
	Kinds []string
}

func (e *PatchCollision) Error() string {
	return fmt.Sprintf("patch collision at 0x%x between %v", e.Addr, e.Kinds)
}

// BranchOutOfRange is returned when a resolved branch offset doesn't fit
// the field width reserved for it at emit time.
type BranchOutOfRange struct {
	Offset int32
	Width  uint8
}

func (e *BranchOutOfRange) Error() string {
	return fmt.Sprintf("branch offset %d does not fit a %d-byte field", e.Offset, e.Width)
}

// PackedAddressMisaligned is returned when a string or routine is about to
// be placed at an address that isn't a multiple of its version's packed
// address multiplier.
type PackedAddressMisaligned struct {
	Addr       uint32
	Multiplier uint8
}

func (e *PackedAddressMisaligned) Error() string {
	return fmt.Sprintf("address 0x%x is not aligned to the packed address multiplier %d", e.Addr, e.Multiplier)
}

// ObjectCycle is returned when an object's parent chain loops back to the
// object itself - the compiler refuses to emit a story file whose object
// tree the interpreter could loop forever walking. Only parent links are
// checked; sibling and child links are not searched for cycles.
type ObjectCycle struct {
	Object ObjectID
}

func (e *ObjectCycle) Error() string {
	return fmt.Sprintf("object %d participates in a parent-chain cycle", e.Object)
}
