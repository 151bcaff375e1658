package zmachine_test

import (
	"testing"

	"github.com/davetcode/goz/asm"
	"github.com/davetcode/goz/ir"
	"github.com/davetcode/goz/zmachine"
)

// greetingProgram assembles a minimal v3 story whose entry routine prints a
// literal and quits, used to drive the interpreter end to end through a
// handful of StepMachine calls.
func greetingProgram() *ir.Program {
	return &ir.Program{
		Version:       3,
		ReleaseNumber: 1,
		SerialCode:    "260730",
		Routines: []ir.Routine{
			{
				ID:        "main",
				NumLocals: 0,
				Instructions: []ir.Instruction{
					{Count: ir.OP0, Opcode: 2, TextLiteral: "Hello"}, // print
					{Count: ir.OP0, Opcode: 10},                     // quit
				},
			},
		},
		EntryRoutine: "main",
	}
}

func TestStepMachineRunsUntilQuit(t *testing.T) {
	story, err := asm.Assemble(greetingProgram())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	inputChannel := make(chan string, 1)
	outputChannel := make(chan interface{}, 100)
	saveRestoreChannel := make(chan zmachine.SaveRestoreResponse, 1)

	z := zmachine.LoadRom(story, inputChannel, outputChannel, saveRestoreChannel, false)

	for z.StepMachine() {
	}
	close(outputChannel)

	var printed string
	for msg := range outputChannel {
		if s, ok := msg.(string); ok {
			printed += s
		}
	}

	if printed != "Hello" {
		t.Errorf("expected printed output %q, got %q", "Hello", printed)
	}
}
