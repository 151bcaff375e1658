package asm

import (
	"encoding/binary"

	"github.com/davetcode/goz/ir"
)

// The two patch universes of §4.8. They must never claim the same byte;
// claimed tracks every byte any patch has reserved, tagged with which
// family put it there, so a collision is caught at emit time rather than
// silently corrupting a resolved value later.
type patchFamily string

const (
	familyBranch  patchFamily = "branch-offset"
	familyOperand patchFamily = "operand-reference"
)

type branchPatch struct {
	addr       uint32
	width      uint8
	onTrue     bool
	routineIdx int
	label      string
}

type operandRefKind int

const (
	refPackedRoutine operandRefKind = iota
	refPackedString
	refObjectNumber
	refByteAddress // dictionary entries - unpacked absolute address
	refRelativeJump
)

type operandPatch struct {
	addr       uint32
	width      uint8
	kind       operandRefKind
	ref        ir.SymbolID
	routineIdx int    // only used by refRelativeJump, to find the target label
	label      string // only used by refRelativeJump
}

// claim reserves [addr, addr+width) for family, returning PatchCollision if
// any byte in the range is already owned by a patch (including this same
// family - two patches should never legitimately share a byte either).
func (a *Assembler) claim(addr uint32, width uint8, family patchFamily) error {
	var collided []string
	for b := addr; b < addr+uint32(width); b++ {
		if owner, ok := a.claimed[b]; ok {
			collided = append(collided, owner)
		}
	}
	if len(collided) > 0 {
		return &PatchCollision{Addr: addr, Kinds: append(collided, string(family))}
	}
	for b := addr; b < addr+uint32(width); b++ {
		a.claimed[b] = string(family)
	}
	return nil
}

func (a *Assembler) registerBranchPatch(buf []byte, p branchPatch) error {
	if err := a.claim(p.addr, p.width, familyBranch); err != nil {
		return err
	}
	a.branchPatches = append(a.branchPatches, p)
	return nil
}

func (a *Assembler) registerOperandPatch(buf []byte, p operandPatch) error {
	if err := a.claim(p.addr, p.width, familyOperand); err != nil {
		return err
	}
	a.operandPatches = append(a.operandPatches, p)
	return nil
}

// resolvePatches runs the resolution pass (§4.8 step 1-2): every patch's
// target must now be known, or assembly fails with UnresolvedSymbol.
func (a *Assembler) resolvePatches(buf []byte) error {
	for _, p := range a.branchPatches {
		targetAddr, ok := a.labelAddr(p.routineIdx, p.label)
		if !ok {
			return &UnresolvedSymbol{Name: p.label}
		}
		addrAfterField := p.addr + uint32(p.width)
		offset := int32(targetAddr) - int32(addrAfterField) + 2
		if err := writeBranch(buf, p.addr, p.width, p.onTrue, offset); err != nil {
			return err
		}
	}

	for _, p := range a.operandPatches {
		value, width, err := a.resolveOperandRef(p)
		if err != nil {
			return err
		}
		if width != p.width {
			// Shouldn't happen given the fixed-width discipline in codegen,
			// but a mismatch here would silently corrupt a neighbouring byte.
			return &BranchOutOfRange{Offset: int32(value), Width: p.width}
		}
		writeBytes(buf, p.addr, p.width, value)
	}

	return nil
}

func (a *Assembler) resolveOperandRef(p operandPatch) (value uint32, width uint8, err error) {
	switch p.kind {
	case refPackedRoutine:
		if p.ref == "" {
			return 0, p.width, nil // sentinel null routine, passed through unmodified
		}
		addr, ok := a.routineAddr[p.ref]
		if !ok {
			return 0, 0, &UnresolvedSymbol{Name: string(p.ref)}
		}
		mult := a.packedMultiplier()
		if addr%uint32(mult) != 0 {
			return 0, 0, &PackedAddressMisaligned{Addr: addr, Multiplier: mult}
		}
		return a.packedAddress(addr), p.width, nil

	case refPackedString:
		if p.ref == "" {
			return 0, p.width, nil
		}
		addr, ok := a.stringAddr[p.ref]
		if !ok {
			return 0, 0, &UnresolvedSymbol{Name: string(p.ref)}
		}
		mult := a.packedMultiplier()
		if addr%uint32(mult) != 0 {
			return 0, 0, &PackedAddressMisaligned{Addr: addr, Multiplier: mult}
		}
		return a.packedAddress(addr), p.width, nil

	case refObjectNumber:
		if p.ref == "" {
			return 0, p.width, nil
		}
		num, ok := a.objectNumber[p.ref]
		if !ok {
			return 0, 0, &UnresolvedSymbol{Name: string(p.ref)}
		}
		return uint32(num), p.width, nil

	case refByteAddress:
		addr, ok := a.dictAddr[p.ref]
		if !ok {
			return 0, 0, &UnresolvedSymbol{Name: string(p.ref)}
		}
		return addr, p.width, nil

	case refRelativeJump:
		targetAddr, ok := a.labelAddr(p.routineIdx, p.label)
		if !ok {
			return 0, 0, &UnresolvedSymbol{Name: p.label}
		}
		addrAfterField := p.addr + uint32(p.width)
		offset := int32(targetAddr) - int32(addrAfterField) + 2
		return uint32(uint16(int16(offset))), p.width, nil

	default:
		return 0, 0, &UnresolvedSymbol{Name: string(p.ref)}
	}
}

func (a *Assembler) labelAddr(routineIdx int, label string) (uint32, bool) {
	addr, ok := a.labelAddrs[routineIdx][label]
	return addr, ok
}

func writeBytes(buf []byte, addr uint32, width uint8, value uint32) {
	if width == 1 {
		buf[addr] = byte(value)
		return
	}
	binary.BigEndian.PutUint16(buf[addr:addr+2], uint16(value))
}

// writeBranch packs a branch offset into its reserved field (4.1, decoded in
// reverse by zmachine.handleBranch): bit 7 of the first byte is the
// true/false polarity, bit 6 (1-byte form only) marks the short form.
func writeBranch(buf []byte, addr uint32, width uint8, onTrue bool, offset int32) error {
	if width == 1 {
		if offset < 0 || offset > 63 {
			return &BranchOutOfRange{Offset: offset, Width: width}
		}
		b := uint8(offset) & 0b11_1111
		b |= 0b0100_0000
		if onTrue {
			b |= 0b1000_0000
		}
		buf[addr] = b
		return nil
	}

	if offset < -8192 || offset > 8191 {
		return &BranchOutOfRange{Offset: offset, Width: width}
	}
	masked := uint16(offset) & 0b0011_1111_1111_1111
	b1 := uint8((masked >> 8) & 0b11_1111)
	if onTrue {
		b1 |= 0b1000_0000
	}
	buf[addr] = b1
	buf[addr+1] = uint8(masked)
	return nil
}
