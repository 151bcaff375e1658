// Command zfc assembles a JSON-encoded compiler IR program (ir.Program)
// into a Z-machine story file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/davetcode/goz/asm"
	"github.com/davetcode/goz/ir"
)

func main() {
	inPath := flag.String("in", "", "Path to a JSON-encoded ir.Program")
	outPath := flag.String("out", "", "Path to write the assembled story file")
	flag.Parse()

	if *inPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: zfc -in program.json -out story.z5")
		os.Exit(1)
	}

	if err := run(*inPath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "zfc: %s\n", err)
		os.Exit(1)
	}
}

func run(inPath, outPath string) error {
	raw, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}

	var program ir.Program
	if err := json.Unmarshal(raw, &program); err != nil {
		return fmt.Errorf("parsing %s: %w", inPath, err)
	}

	story, err := asm.Assemble(&program)
	if err != nil {
		return fmt.Errorf("assembling %s: %w", inPath, err)
	}

	if err := os.WriteFile(outPath, story, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	fmt.Fprintf(os.Stdout, "wrote %s (%d bytes)\n", outPath, len(story))
	return nil
}
