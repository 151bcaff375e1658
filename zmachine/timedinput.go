package zmachine

import "time"

// waitForLine blocks for a full line of input, honoring sread's optional
// timeout/routine operands (4.6) when TimedInputEnabled is set. It returns
// the line read and whether the pending read was abandoned because the
// interrupt routine returned a nonzero value.
//
// Per the Open Question decision for V3: timed input is silently ignored
// there even if the story file sets the header flag, unless the host opts
// in via TimedInputEnabled - V3 games that rely on it are rare and the
// single-threaded executor model makes the feature meaningless without a
// host that can actually deliver a tick.
func (z *ZMachine) waitForLine(opcode *Opcode) (string, bool) {
	if !z.TimedInputEnabled || len(opcode.operands) < 4 {
		z.outputChannel <- WaitForInput
		return <-z.inputChannel, false
	}

	timeTenths := opcode.operands[2].Value(z)
	routine := opcode.operands[3].Value(z)
	if timeTenths == 0 {
		z.outputChannel <- WaitForInput
		return <-z.inputChannel, false
	}

	z.outputChannel <- WaitForInput
	timeout := time.Duration(timeTenths) * 100 * time.Millisecond

	for {
		select {
		case line := <-z.inputChannel:
			return line, false
		case <-time.After(timeout):
			if z.runInterruptRoutine(routine) != 0 {
				return "", true
			}
		}
	}
}

// waitForChar is read_char's equivalent of waitForLine - a single character
// rather than a full line, with the same timeout/interrupt semantics.
func (z *ZMachine) waitForChar(opcode *Opcode, timeOperandIx, routineOperandIx int) (string, bool) {
	if !z.TimedInputEnabled || z.Core.Version < 4 || len(opcode.operands) <= routineOperandIx {
		z.outputChannel <- WaitForCharacter
		return <-z.inputChannel, false
	}

	timeTenths := opcode.operands[timeOperandIx].Value(z)
	routine := opcode.operands[routineOperandIx].Value(z)
	if timeTenths == 0 {
		z.outputChannel <- WaitForCharacter
		return <-z.inputChannel, false
	}

	z.outputChannel <- WaitForCharacter
	timeout := time.Duration(timeTenths) * 100 * time.Millisecond

	for {
		select {
		case chr := <-z.inputChannel:
			return chr, false
		case <-time.After(timeout):
			if z.runInterruptRoutine(routine) != 0 {
				return "", true
			}
		}
	}
}
