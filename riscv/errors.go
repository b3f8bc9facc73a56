package riscv

import "errors"

// Sentinel errors returned by Step, checked with errors.Is at the call
// site the way a simpler RISC interpreter's
// ErrHalted/ErrSIGSEGV/ErrNotPermitted are.
var (
	// ErrIllegalInstruction means the decoder produced isa.OpUnknown,
	// Step was asked to execute an opcode it has no case for, or a CSR
	// instruction named a CSR this machine does not implement.
	ErrIllegalInstruction = errors.New("riscv: illegal instruction")

	// ErrECall means the hart executed ECALL; the caller is expected to
	// dispatch to the syscall bridge and then resume at pc+4.
	ErrECall = errors.New("riscv: ecall")

	// ErrEBreak means the hart executed EBREAK.
	ErrEBreak = errors.New("riscv: ebreak")
)
