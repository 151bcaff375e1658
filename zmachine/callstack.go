package zmachine

// StackUnderflow is raised when the evaluation stack of the current frame is
// popped/peeked while empty, or when the call stack itself underflows.
type StackUnderflow struct {
	Detail string
}

func (e *StackUnderflow) Error() string { return "stack underflow: " + e.Detail }

type CallStackFrame struct {
	pc              uint32
	routineStack    []uint16
	locals          []uint16
	routineType     RoutineType // v3+ only
	numValuesPassed int         // v5+ only
	framePointer    uint32      // depth of the call stack at call time, for throw/catch
	storeTarget     uint8       // variable number result is stored to, valid for routineType == function
}

func (f *CallStackFrame) push(i uint16) {
	f.routineStack = append(f.routineStack, i)
}

func (f *CallStackFrame) pop() uint16 {
	if len(f.routineStack) == 0 {
		panic(&StackUnderflow{Detail: "pop from empty evaluation stack"})
	}
	i := f.routineStack[len(f.routineStack)-1]
	f.routineStack = f.routineStack[:len(f.routineStack)-1]
	return i
}

func (f *CallStackFrame) peek() uint16 {
	if len(f.routineStack) == 0 {
		panic(&StackUnderflow{Detail: "peek empty evaluation stack"})
	}
	return f.routineStack[len(f.routineStack)-1]
}

type CallStack struct {
	frames []CallStackFrame
}

func (s *CallStack) push(frame CallStackFrame) {
	s.frames = append(s.frames, frame)
}

func (s *CallStack) pop() CallStackFrame {
	if len(s.frames) == 0 {
		panic(&StackUnderflow{Detail: "pop from empty call stack"})
	}
	stackSize := len(s.frames)
	frame := s.frames[stackSize-1]
	s.frames = s.frames[:stackSize-1]

	return frame
}

func (s *CallStack) peek() *CallStackFrame {
	if len(s.frames) == 0 {
		panic(&StackUnderflow{Detail: "peek empty call stack"})
	}
	return &s.frames[len(s.frames)-1]
}

func (s *CallStack) depth() uint32 {
	return uint32(len(s.frames))
}

// unwindTo pops frames until the call stack is exactly depth frames deep,
// used by throw to unwind to a frame token captured by catch.
func (s *CallStack) unwindTo(depth uint32) {
	if depth > uint32(len(s.frames)) {
		panic(&ThrowUnknownFrame{Token: depth})
	}
	s.frames = s.frames[:depth]
}

// ThrowUnknownFrame is raised when throw's frame token no longer exists on
// the call stack (4.4, v5+).
type ThrowUnknownFrame struct {
	Token uint32
}

func (e *ThrowUnknownFrame) Error() string {
	return "throw: frame token is no longer live on the call stack"
}

// copy performs a deep copy of a call stack and all its frames, used by the
// undo/Quetzal snapshot machinery.
func (s *CallStack) copy() CallStack {
	callStack := CallStack{
		frames: make([]CallStackFrame, len(s.frames)),
	}

	for fx, frame := range s.frames {
		copiedFrame := CallStackFrame{
			pc:              frame.pc,
			routineType:     frame.routineType,
			numValuesPassed: frame.numValuesPassed,
			framePointer:    frame.framePointer,
			storeTarget:     frame.storeTarget,
			routineStack:    make([]uint16, len(frame.routineStack)),
			locals:          make([]uint16, len(frame.locals)),
		}

		copy(copiedFrame.routineStack, frame.routineStack)
		copy(copiedFrame.locals, frame.locals)

		callStack.frames[fx] = copiedFrame
	}

	return callStack
}
