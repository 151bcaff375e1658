package asm

import "github.com/davetcode/goz/ir"

// Assemble compiles a complete ir.Program into a story file image: layout,
// codegen, and patch resolution (4.7-4.8), in one call.
func Assemble(program *ir.Program) ([]byte, error) {
	return New(program).Assemble()
}
