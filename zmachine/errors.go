package zmachine

import "fmt"

// RuntimeError is the fatal, host-surfaced form of every decode/execution
// error in 4.1-4.4. The interpreter's Run loop recovers any panic raised
// during execution and reports it on the output channel as one of these,
// carrying enough context (PC, opcode byte, frame depth) to diagnose it
// without re-running under a debugger.
type RuntimeError struct {
	Cause      error
	PC         uint32
	OpcodeByte uint8
	FrameDepth int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at pc=0x%x opcode=0x%x (frame depth %d): %v", e.PC, e.OpcodeByte, e.FrameDepth, e.Cause)
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

type UnknownOpcode struct {
	Version uint8
	Form    OpcodeForm
	Number  uint8
}

func (e *UnknownOpcode) Error() string {
	return fmt.Sprintf("unknown opcode %d (form %d) for version %d", e.Number, e.Form, e.Version)
}

type InvalidOperandKind struct {
	Detail string
}

func (e *InvalidOperandKind) Error() string { return "invalid operand kind: " + e.Detail }

type DivisionByZero struct{}

func (e *DivisionByZero) Error() string { return "division by zero" }

type BadObjectNumber struct {
	Id uint16
}

func (e *BadObjectNumber) Error() string { return fmt.Sprintf("bad object number %d", e.Id) }

type MemoryAccessOutOfRange struct {
	Address uint32
}

func (e *MemoryAccessOutOfRange) Error() string {
	return fmt.Sprintf("memory access out of range at 0x%x", e.Address)
}

type UnsupportedVersion struct {
	Version uint8
}

func (e *UnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported z-machine version %d", e.Version)
}

// SaveFailed / RestoreFailed are recoverable - they are reported to the
// story file via the normal store/branch channel of the save/restore
// opcode, never as a RuntimeError (7, "I/O and save errors").
type SaveFailed struct {
	Reason string
}

func (e *SaveFailed) Error() string { return "save failed: " + e.Reason }

type RestoreFailed struct {
	Reason string // "mismatch" | "corrupt" | "truncated"
}

func (e *RestoreFailed) Error() string { return "restore failed: " + e.Reason }
