package asm

import (
	"encoding/binary"

	"github.com/davetcode/goz/ir"
	"github.com/davetcode/goz/zstring"
)

// operandWidth decides how many bytes an operand's value field occupies.
// This has to be a fixed, value-independent rule: for the *Ref kinds the
// final value isn't known until resolvePatches runs, so the width must be
// decidable from the operand's kind alone, before any address exists. We
// always reserve 2 bytes for a symbolic reference - slightly less compact
// than a real assembler that could prove a small object number or packed
// address fits in one byte, but it keeps the sizing pass a single
// structural pass rather than the iterative fixed-point one other
// assemblers use.
func operandWidth(op ir.Operand) uint8 {
	switch op.Kind {
	case ir.OperandConst:
		if op.Const > 255 {
			return 2
		}
		return 1
	case ir.OperandVariable:
		return 1
	default: // OperandLabel, OperandStringRef, OperandRoutineRef, OperandObjectRef, OperandDictRef
		return 2
	}
}

// operandTypeBits is the 2-bit operand-type tag opcode.go's
// parseVariableOperands reads back: 00 large constant, 01 small constant,
// 10 variable.
func operandTypeBits(op ir.Operand) uint8 {
	if op.Kind == ir.OperandVariable {
		return 0b10
	}
	if operandWidth(op) == 2 {
		return 0b00
	}
	return 0b01
}

// op2UsesVarEncoding decides, for a 2-operand instruction, whether it fits
// long form (both operands small-constant-or-variable, 1 byte each) or
// must fall back to the variable-encoded 2OP form (4.3.3) because an
// operand needs the 2-byte large-constant width, or the caller explicitly
// asked for variable form (some opcodes, e.g. call_2s/call_2n, only exist
// in the variable opcode numbering).
func op2UsesVarEncoding(instr ir.Instruction) bool {
	if instr.Form == ir.VarForm {
		return true
	}
	for _, op := range instr.Operands {
		if operandWidth(op) == 2 {
			return true
		}
	}
	return false
}

func (a *Assembler) encodeTextLiteral(text string) []byte {
	return zstring.EncodeText([]rune(text), a.core, a.alphabets)
}

// instructionLen computes the exact byte length an instruction will emit to
// - the sizing half of the two-pass discipline in 4.8. It must agree
// byte-for-byte with emitInstruction for every instruction shape.
func (a *Assembler) instructionLen(instr ir.Instruction) uint32 {
	var n uint32

	switch instr.Count {
	case ir.OP0:
		n = 1
	case ir.OP1:
		n = 1 + uint32(operandWidth(instr.Operands[0]))
	case ir.OP2:
		if op2UsesVarEncoding(instr) {
			n = 2
			for _, op := range instr.Operands {
				n += uint32(operandWidth(op))
			}
		} else {
			n = 3 // opcode byte + 2 one-byte operands
		}
	case ir.VAR:
		n = 2 // opcode byte + first operand-type byte
		if len(instr.Operands) > 4 {
			n++
		}
		for _, op := range instr.Operands {
			n += uint32(operandWidth(op))
		}
	case ir.EXT:
		n = 3 // 0xbe + opcode number byte + first operand-type byte
		if len(instr.Operands) > 4 {
			n++
		}
		for _, op := range instr.Operands {
			n += uint32(operandWidth(op))
		}
	}

	if instr.Store != nil {
		n++
	}

	if instr.Branch != nil {
		if instr.Branch.ReturnTrue || instr.Branch.ReturnFalse {
			n++
		} else {
			n += 2 // worst-case 2-byte branch field, resolved later
		}
	}

	if instr.TextLiteral != "" {
		n += uint32(len(a.encodeTextLiteral(instr.TextLiteral)))
	}

	return n
}

// sizeRoutine is instructionLen summed over a whole routine, plus its
// header (5.2.1): one byte for the local count, and for v1-4 two bytes per
// local holding that local's default value.
func (a *Assembler) sizeRoutine(r ir.Routine) uint32 {
	n := uint32(1)
	if a.program.Version < 5 {
		n += uint32(r.NumLocals) * 2
	}
	for _, instr := range r.Instructions {
		n += a.instructionLen(instr)
	}
	return n
}

// emitRoutines walks every routine twice: once to record each
// instruction's address (so intra-routine branch/jump labels resolve),
// once to actually encode bytes and register patches referencing those
// addresses.
func (a *Assembler) emitRoutines(buf []byte) error {
	p := a.program

	for i, r := range p.Routines {
		base := a.regions.routineOffsets[i]
		headerLen := uint32(1)
		if p.Version < 5 {
			headerLen += uint32(r.NumLocals) * 2
		}

		cursor := base + headerLen
		for _, instr := range r.Instructions {
			if instr.Label != "" {
				a.labelAddrs[i][instr.Label] = cursor
			}
			cursor += a.instructionLen(instr)
		}
	}

	for i, r := range p.Routines {
		base := a.regions.routineOffsets[i]
		buf[base] = r.NumLocals

		cursor := base + 1
		if p.Version < 5 {
			for _, d := range r.LocalDefaults {
				binary.BigEndian.PutUint16(buf[cursor:cursor+2], d)
				cursor += 2
			}
			cursor = base + 1 + uint32(r.NumLocals)*2
		}

		for _, instr := range r.Instructions {
			next, err := a.emitInstruction(buf, cursor, i, instr)
			if err != nil {
				return err
			}
			cursor = next
		}
	}

	return nil
}

// emitInstruction writes one instruction's encoded bytes at addr, registering
// a branch or operand patch wherever a value can't be known until
// resolvePatches runs. It must consume exactly instructionLen(instr) bytes.
func (a *Assembler) emitInstruction(buf []byte, addr uint32, routineIdx int, instr ir.Instruction) (uint32, error) {
	cursor := addr
	var err error

	switch instr.Count {
	case ir.OP0:
		buf[cursor] = 0b1011_0000 | (instr.Opcode & 0b1111)
		cursor++

	case ir.OP1:
		op := instr.Operands[0]
		buf[cursor] = (0b10 << 6) | (operandTypeBits(op) << 4) | (instr.Opcode & 0b1111)
		cursor++
		cursor, err = a.emitOperand(buf, cursor, routineIdx, op)
		if err != nil {
			return 0, err
		}

	case ir.OP2:
		if op2UsesVarEncoding(instr) {
			buf[cursor] = 0b1100_0000 | (instr.Opcode & 0b1_1111)
			cursor++
			cursor, err = a.emitVarOperands(buf, cursor, routineIdx, instr.Operands)
			if err != nil {
				return 0, err
			}
		} else {
			b := instr.Opcode & 0b1_1111
			if instr.Operands[0].Kind == ir.OperandVariable {
				b |= 0b0100_0000
			}
			if instr.Operands[1].Kind == ir.OperandVariable {
				b |= 0b0010_0000
			}
			buf[cursor] = b
			cursor++
			for _, op := range instr.Operands {
				cursor, err = a.emitOperand(buf, cursor, routineIdx, op)
				if err != nil {
					return 0, err
				}
			}
		}

	case ir.VAR:
		buf[cursor] = 0b1110_0000 | (instr.Opcode & 0b1_1111)
		cursor++
		cursor, err = a.emitVarOperands(buf, cursor, routineIdx, instr.Operands)
		if err != nil {
			return 0, err
		}

	case ir.EXT:
		buf[cursor] = 0xbe
		cursor++
		buf[cursor] = instr.Opcode
		cursor++
		cursor, err = a.emitVarOperands(buf, cursor, routineIdx, instr.Operands)
		if err != nil {
			return 0, err
		}
	}

	if instr.Store != nil {
		buf[cursor] = *instr.Store
		cursor++
	}

	if instr.Branch != nil {
		cursor, err = a.emitBranch(buf, cursor, routineIdx, instr.Branch)
		if err != nil {
			return 0, err
		}
	}

	if instr.TextLiteral != "" {
		enc := a.encodeTextLiteral(instr.TextLiteral)
		copy(buf[cursor:], enc)
		cursor += uint32(len(enc))
	}

	return cursor, nil
}

// emitVarOperands writes the operand-type byte(s) of a variable/extended
// form instruction (4.3.4), packing up to four operands per byte with a
// trailing "omitted" (11) marker, then the operand value fields in order.
func (a *Assembler) emitVarOperands(buf []byte, cursor uint32, routineIdx int, operands []ir.Operand) (uint32, error) {
	n := len(operands)

	typeByte1 := uint8(0xff)
	for i := 0; i < 4 && i < n; i++ {
		shift := uint(2 * (3 - i))
		typeByte1 &^= 0b11 << shift
		typeByte1 |= operandTypeBits(operands[i]) << shift
	}
	buf[cursor] = typeByte1
	cursor++

	if n > 4 {
		typeByte2 := uint8(0xff)
		for i := 4; i < 8 && i < n; i++ {
			shift := uint(2 * (7 - i))
			typeByte2 &^= 0b11 << shift
			typeByte2 |= operandTypeBits(operands[i]) << shift
		}
		buf[cursor] = typeByte2
		cursor++
	}

	var err error
	for _, op := range operands {
		cursor, err = a.emitOperand(buf, cursor, routineIdx, op)
		if err != nil {
			return 0, err
		}
	}
	return cursor, nil
}

// emitOperand writes one operand's value field if it's already known
// (constant or variable reference), or leaves it zeroed and registers the
// patch that will fill it in once the symbol it names has an address.
func (a *Assembler) emitOperand(buf []byte, cursor uint32, routineIdx int, op ir.Operand) (uint32, error) {
	width := operandWidth(op)

	switch op.Kind {
	case ir.OperandConst:
		if width == 1 {
			buf[cursor] = uint8(op.Const)
		} else {
			binary.BigEndian.PutUint16(buf[cursor:cursor+2], op.Const)
		}

	case ir.OperandVariable:
		buf[cursor] = op.Var

	case ir.OperandLabel:
		if err := a.registerOperandPatch(buf, operandPatch{
			addr: cursor, width: 2, kind: refRelativeJump, routineIdx: routineIdx, label: op.Label,
		}); err != nil {
			return 0, err
		}

	case ir.OperandStringRef:
		if err := a.registerOperandPatch(buf, operandPatch{addr: cursor, width: 2, kind: refPackedString, ref: op.Ref}); err != nil {
			return 0, err
		}

	case ir.OperandRoutineRef:
		if err := a.registerOperandPatch(buf, operandPatch{addr: cursor, width: 2, kind: refPackedRoutine, ref: op.Ref}); err != nil {
			return 0, err
		}

	case ir.OperandObjectRef:
		if err := a.registerOperandPatch(buf, operandPatch{addr: cursor, width: 2, kind: refObjectNumber, ref: op.Ref}); err != nil {
			return 0, err
		}

	case ir.OperandDictRef:
		if err := a.registerOperandPatch(buf, operandPatch{addr: cursor, width: 2, kind: refByteAddress, ref: op.Ref}); err != nil {
			return 0, err
		}
	}

	return cursor + uint32(width), nil
}

// emitBranch writes a branch suffix (4.7). The "return true"/"return
// false" special cases (offsets 1 and 0) are always known at emit time and
// need no patch; an ordinary label target always reserves the full 2-byte
// field, resolved later by resolvePatches.
func (a *Assembler) emitBranch(buf []byte, cursor uint32, routineIdx int, br *ir.Branch) (uint32, error) {
	if br.ReturnTrue || br.ReturnFalse {
		offset := int32(0)
		if br.ReturnTrue {
			offset = 1
		}
		if err := writeBranch(buf, cursor, 1, br.OnTrue, offset); err != nil {
			return 0, err
		}
		return cursor + 1, nil
	}

	if err := a.registerBranchPatch(buf, branchPatch{
		addr: cursor, width: 2, onTrue: br.OnTrue, routineIdx: routineIdx, label: br.Label,
	}); err != nil {
		return 0, err
	}
	return cursor + 2, nil
}

// writeHeader fills in the header fields that only become known once every
// region has an address (3.2-3.8): memory map boundaries, the entry point,
// serial code, file length and checksum. The checksum only ever covers
// byte 0x40 onward, so it is unaffected by whatever an interpreter does to
// bytes before that when it next loads this file.
func (a *Assembler) writeHeader(buf []byte) error {
	p := a.program
	mult := a.packedMultiplier()

	buf[0x00] = p.Version

	binary.BigEndian.PutUint16(buf[0x02:0x04], p.ReleaseNumber)
	binary.BigEndian.PutUint16(buf[0x04:0x06], uint16(a.regions.stringPoolBase)) // high memory: packed-addressable strings/routines

	entryAddr, ok := a.routineAddr[p.EntryRoutine]
	if !ok {
		return &UnresolvedSymbol{Name: string(p.EntryRoutine)}
	}
	// Execution starts as though a zero-local frame were already entered
	// (6.1.3 "no-argument call"); this only holds if the entry routine
	// really declares zero locals, which it must.
	binary.BigEndian.PutUint16(buf[0x06:0x08], uint16(entryAddr+1))

	binary.BigEndian.PutUint16(buf[0x08:0x0a], uint16(a.regions.dictBase))
	binary.BigEndian.PutUint16(buf[0x0a:0x0c], uint16(a.regions.objectTableBase))
	binary.BigEndian.PutUint16(buf[0x0c:0x0e], uint16(a.regions.globalsBase))
	binary.BigEndian.PutUint16(buf[0x0e:0x10], uint16(a.regions.dictBase)) // static memory starts at the dictionary

	serial := []byte(p.SerialCode)
	for len(serial) < 6 {
		serial = append(serial, '0')
	}
	copy(buf[0x12:0x18], serial[:6])

	binary.BigEndian.PutUint16(buf[0x1a:0x1c], uint16(uint32(len(buf))/uint32(mult)))

	var checksum uint16
	for _, b := range buf[0x40:] {
		checksum += uint16(b)
	}
	binary.BigEndian.PutUint16(buf[0x1c:0x1e], checksum)

	return nil
}
