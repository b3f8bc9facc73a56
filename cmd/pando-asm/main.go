// Command pando-asm assembles a tiny RV64IM source file into an ELF64
// executable a hart config can name as its Executable, the test-fixture
// counterpart of a real toolchain's as+ld for programs this repo's own
// suites need to run rather than ship as prebuilt binaries.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/pando/elfimage"
	"github.com/sarchlab/pando/riscv/asm"
)

func main() {
	out := flag.String("o", "a.out", "output ELF path")
	base := flag.Uint64("base", 0x10000, "load address of the assembled code (also the entry point)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: pando-asm [-o out] [-base addr] <source.s>")
		os.Exit(1)
	}

	src, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "pando-asm: %v\n", err)
		os.Exit(1)
	}

	code, err := asm.Assemble(string(src), *base)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pando-asm: %v\n", err)
		os.Exit(1)
	}

	if err := elfimage.SaveELF(*out, *base, code); err != nil {
		fmt.Fprintf(os.Stderr, "pando-asm: %v\n", err)
		os.Exit(1)
	}
}
