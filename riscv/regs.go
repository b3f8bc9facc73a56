package riscv

import "fmt"

// Regs is an RV64IM integer register file. x0 is hardwired to zero: Set
// silently discards writes to it and Get always returns 0, the same
// "zero register" contract the original hart model gives x(0) through a
// zero-handle wrapper.
type Regs struct {
	x  [32]uint64
	pc uint64
}

// Get returns the value of register i (0 <= i < 32).
func (r *Regs) Get(i uint32) uint64 {
	if i == 0 {
		return 0
	}
	return r.x[i]
}

// Set writes value to register i, ignoring writes to x0.
func (r *Regs) Set(i uint32, value uint64) {
	if i == 0 {
		return
	}
	r.x[i] = value
}

// Signed returns register i reinterpreted as a signed 64-bit value.
func (r *Regs) Signed(i uint32) int64 { return int64(r.Get(i)) }

// PC returns the program counter.
func (r *Regs) PC() uint64 { return r.pc }

// SetPC sets the program counter.
func (r *Regs) SetPC(pc uint64) { r.pc = pc }

// A returns argument register a(i) = x(10+i), the RISC-V calling
// convention's argument/return registers.
func (r *Regs) A(i uint32) uint64 { return r.Get(10 + i) }

// SetA sets argument register a(i).
func (r *Regs) SetA(i uint32, value uint64) { r.Set(10+i, value) }

// SP returns the stack pointer, x2.
func (r *Regs) SP() uint64 { return r.Get(2) }

func (r *Regs) String() string {
	return fmt.Sprintf("{pc:%#x x:%v}", r.pc, r.x)
}
