package zmachine

// Save / Restore describe a save or restore request surfaced to the host
// for disk I/O (4.5). Save carries the complete Quetzal image ready to
// write to disk; Restore carries no data - the host reads its own save
// file and answers with a RestoreResponse.
type Save struct {
	Data []byte
}

type Restore struct{}

// SaveRestoreResponse is the host's answer to a Save or Restore request,
// delivered on the machine's save/restore channel.
type SaveRestoreResponse interface {
	isSaveRestoreResponse()
}

type SaveResponse struct {
	Err error // nil on success
}

func (SaveResponse) isSaveRestoreResponse() {}

type RestoreResponse struct {
	Data []byte // Quetzal image read from disk by the host
	Err  error  // nil on success
}

func (RestoreResponse) isSaveRestoreResponse() {}

// SaveState is the in-memory snapshot used by save_undo/restore_undo, which
// never touch the host filesystem and so don't need the full Quetzal
// container format.
type SaveState struct {
	staticMemoryBase uint16
	dynamicMemory    []uint8
	callStack        CallStack
}

type InMemorySaveStateCache struct {
	saveStates []SaveState
}

func (z *ZMachine) captureState() SaveState {
	dynamicMemory := make([]uint8, z.Core.StaticMemoryBase)
	copy(dynamicMemory, z.Core.ReadSlice(0, uint32(z.Core.StaticMemoryBase)))

	return SaveState{
		staticMemoryBase: z.Core.StaticMemoryBase,
		dynamicMemory:    dynamicMemory,
		callStack:        z.callStack.copy(),
	}
}

func (z *ZMachine) applyState(state SaveState) bool {
	if state.staticMemoryBase != z.Core.StaticMemoryBase {
		return false
	}

	copy(z.Core.ReadSlice(0, uint32(z.Core.StaticMemoryBase)), state.dynamicMemory)
	z.callStack = state.callStack.copy()
	return true
}

// restart resets dynamic memory and the call stack to their post-load state
// (6.1.3). Flags 2 is left untouched across the reset since it records
// transcript/fixed-font toggles the player made, not story state.
func (z *ZMachine) restart() {
	flags2 := z.Core.ReadHalfWord(0x10)
	copy(z.Core.ReadSlice(0, uint32(z.Core.StaticMemoryBase)), z.pristineDynamicMemory)
	z.Core.WriteHalfWord(0x10, flags2)

	z.callStack = CallStack{}
	if z.Core.Version == 6 {
		packedAddress := z.packedAddress(uint32(z.Core.FirstInstruction), false)
		z.callStack.push(CallStackFrame{
			pc:     packedAddress + 1,
			locals: make([]uint16, z.Core.ReadByte(packedAddress)),
		})
	} else {
		z.callStack.push(CallStackFrame{
			pc:     uint32(z.Core.FirstInstruction),
			locals: make([]uint16, 0),
		})
	}

	z.UndoStates = InMemorySaveStateCache{}
}

func (z *ZMachine) saveUndo() {
	z.UndoStates.saveStates = append(z.UndoStates.saveStates, z.captureState())
}

func (z *ZMachine) restoreUndo() uint16 {
	if len(z.UndoStates.saveStates) == 0 {
		return 0
	}

	state := z.UndoStates.saveStates[len(z.UndoStates.saveStates)-1]
	z.UndoStates.saveStates = z.UndoStates.saveStates[:len(z.UndoStates.saveStates)-1]

	if !z.applyState(state) {
		return 0
	}
	return 2
}

// readSaveFilename reads a length-prefixed ASCII string (not a Z-string) per 7.6.
func (z *ZMachine) readSaveFilename(address uint32) string {
	if address == 0 {
		return ""
	}

	length := z.Core.ReadByte(address)
	if length == 0 {
		return ""
	}

	bytes := make([]byte, length)
	for i := range length {
		bytes[i] = z.Core.ReadByte(address + 1 + uint32(i))
	}
	return string(bytes)
}

// ExportSaveState builds a full Quetzal save image as if "save" had just
// been invoked at pc, for hosts that want to save outside of story-driven
// save opcodes (e.g. a UI "save game" menu item).
func (z *ZMachine) ExportSaveState(pc uint32) []byte {
	return z.saveQuetzal(pc)
}

// ImportSaveState validates and applies a Quetzal image against the
// currently loaded story file, returning the PC execution should resume
// from (the position of the original save opcode's store/branch byte).
func (z *ZMachine) ImportSaveState(data []byte) (uint32, error) {
	return z.restoreQuetzal(data)
}

// requestSave hands a Quetzal image to the host and waits for it to confirm
// the write succeeded.
func (z *ZMachine) requestSave(pc uint32) bool {
	z.outputChannel <- Save{Data: z.saveQuetzal(pc)}
	response := <-z.saveRestoreChannel
	saveResponse, ok := response.(SaveResponse)
	return ok && saveResponse.Err == nil
}

// requestRestore asks the host for a previously saved Quetzal image and
// applies it, returning the PC to resume from.
func (z *ZMachine) requestRestore() (uint32, bool) {
	z.outputChannel <- Restore{}
	response := <-z.saveRestoreChannel
	restoreResponse, ok := response.(RestoreResponse)
	if !ok || restoreResponse.Err != nil {
		return 0, false
	}

	pc, err := z.restoreQuetzal(restoreResponse.Data)
	if err != nil {
		return 0, false
	}
	return pc, true
}
