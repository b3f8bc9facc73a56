package riscv

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/sarchlab/pando/hoststate"
	"github.com/sarchlab/pando/riscv/isa"
)

// fakeMem is a flat byte-addressed memory implementing hostthread.MemAPI
// directly (no goroutine/channel handoff), so interpreter tests can call
// Step synchronously.
type fakeMem struct {
	mem    []byte
	exited bool
	code   int
}

func newFakeMem(size int) *fakeMem { return &fakeMem{mem: make([]byte, size)} }

func (f *fakeMem) Read(address uint64, numBytes int) []byte {
	out := make([]byte, numBytes)
	copy(out, f.mem[address:address+uint64(numBytes)])
	return out
}

func (f *fakeMem) Write(address uint64, value []byte) {
	copy(f.mem[address:], value)
}

func (f *fakeMem) Atomic(op hoststate.AtomicOp, address uint64, operand, casExpect []byte) []byte {
	old := f.Read(address, len(operand))
	switch op {
	case hoststate.AtomicAdd:
		a := binary.LittleEndian.Uint64(pad8(old))
		b := binary.LittleEndian.Uint64(pad8(operand))
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, a+b)
		f.Write(address, buf[:len(operand)])
	case hoststate.AtomicSwap:
		f.Write(address, operand)
	case hoststate.AtomicCAS:
		if string(old) == string(casExpect) {
			f.Write(address, operand)
		}
	}
	return old
}

func pad8(b []byte) []byte {
	out := make([]byte, 8)
	copy(out, b)
	return out
}

func (f *fakeMem) Nop(cycles int)       {}
func (f *fakeMem) Flush(address uint64) {}
func (f *fakeMem) Inv(address uint64)   {}
func (f *fakeMem) ToNative(address uint64, numBytes int) []byte {
	return f.Read(address, numBytes)
}
func (f *fakeMem) Exit(code int) { f.exited = true; f.code = code }

func TestStepADDI(t *testing.T) {
	regs := &Regs{}
	regs.Set(1, 5)

	inst := isa.Instruction{Op: isa.OpADDI, Rd: 2, Rs1: 1, Imm: 10}
	next, err := Step(regs, inst, newFakeMem(0), CSREnv{})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if next != 4 {
		t.Fatalf("next pc = %d, want 4", next)
	}
	if regs.Get(2) != 15 {
		t.Fatalf("x2 = %d, want 15", regs.Get(2))
	}
}

func TestStepX0AlwaysZero(t *testing.T) {
	regs := &Regs{}
	inst := isa.Instruction{Op: isa.OpADDI, Rd: 0, Rs1: 0, Imm: 123}
	Step(regs, inst, newFakeMem(0), CSREnv{})
	if regs.Get(0) != 0 {
		t.Fatalf("x0 = %d, want 0", regs.Get(0))
	}
}

func TestStepBranchTaken(t *testing.T) {
	regs := &Regs{}
	regs.Set(1, 7)
	regs.Set(2, 7)

	inst := isa.Instruction{Op: isa.OpBEQ, Rs1: 1, Rs2: 2, Imm: 16}
	next, _ := Step(regs, inst, newFakeMem(0), CSREnv{})
	if next != 16 {
		t.Fatalf("next = %d, want 16", next)
	}
}

func TestStepLoadStoreRoundTrip(t *testing.T) {
	regs := &Regs{}
	mem := newFakeMem(64)
	regs.Set(1, 0) // base address
	regs.Set(2, 0xdeadbeef)

	storeInst := isa.Instruction{Op: isa.OpSW, Rs1: 1, Rs2: 2, Imm: 8}
	Step(regs, storeInst, mem, CSREnv{})

	loadInst := isa.Instruction{Op: isa.OpLW, Rd: 3, Rs1: 1, Imm: 8}
	Step(regs, loadInst, mem, CSREnv{})

	// LW sign-extends the 32-bit word into the 64-bit register.
	if regs.Get(3) != 0xffffffffdeadbeef {
		t.Fatalf("loaded %#x, want 0xffffffffdeadbeef", regs.Get(3))
	}
}

func TestStepMULHUnsignedOverflow(t *testing.T) {
	regs := &Regs{}
	regs.Set(1, 1<<63)
	regs.Set(2, 2)

	inst := isa.Instruction{Op: isa.OpMULHU, Rd: 3, Rs1: 1, Rs2: 2}
	Step(regs, inst, newFakeMem(0), CSREnv{})
	if regs.Get(3) != 1 {
		t.Fatalf("MULHU high = %d, want 1", regs.Get(3))
	}
}

func TestStepDIVBySignedMinOverflow(t *testing.T) {
	regs := &Regs{}
	minInt64, negOne := int64(-1)<<63, int64(-1)
	regs.Set(1, uint64(minInt64))
	regs.Set(2, uint64(negOne))

	inst := isa.Instruction{Op: isa.OpDIV, Rd: 3, Rs1: 1, Rs2: 2}
	Step(regs, inst, newFakeMem(0), CSREnv{})
	if regs.Signed(3) != int64(-1)<<63 {
		t.Fatalf("DIV overflow result = %d, want MinInt64", regs.Signed(3))
	}
}

func TestStepDivideByZero(t *testing.T) {
	regs := &Regs{}
	regs.Set(1, 10)

	inst := isa.Instruction{Op: isa.OpDIVU, Rd: 2, Rs1: 1, Rs2: 3}
	Step(regs, inst, newFakeMem(0), CSREnv{})
	if regs.Get(2) != ^uint64(0) {
		t.Fatalf("DIVU by zero = %#x, want all-ones", regs.Get(2))
	}
}

func TestStepECallReturnsSentinel(t *testing.T) {
	regs := &Regs{}
	inst := isa.Instruction{Op: isa.OpECALL}
	_, err := Step(regs, inst, newFakeMem(0), CSREnv{})
	if !errors.Is(err, ErrECall) {
		t.Fatalf("err = %v, want ErrECall", err)
	}
}

func TestStepIllegalInstruction(t *testing.T) {
	regs := &Regs{}
	inst := isa.Instruction{Op: isa.OpUnknown}
	_, err := Step(regs, inst, newFakeMem(0), CSREnv{})
	if !errors.Is(err, ErrIllegalInstruction) {
		t.Fatalf("err = %v, want ErrIllegalInstruction", err)
	}
}

func TestStepAMOAddWReturnsOldValue(t *testing.T) {
	regs := &Regs{}
	mem := newFakeMem(64)
	regs.Set(1, 0) // address
	regs.Set(2, 5) // operand

	binary.LittleEndian.PutUint32(mem.mem[0:], 10)

	inst := isa.Instruction{Op: isa.OpAMOADDW, Rd: 3, Rs1: 1, Rs2: 2}
	Step(regs, inst, mem, CSREnv{})

	if regs.Get(3) != 10 {
		t.Fatalf("rd = %d, want 10 (pre-image)", regs.Get(3))
	}
	if got := binary.LittleEndian.Uint32(mem.mem[0:]); got != 15 {
		t.Fatalf("memory = %d, want 15", got)
	}
}

func TestStepAMOSwapDReturnsOldValue(t *testing.T) {
	regs := &Regs{}
	mem := newFakeMem(64)
	regs.Set(1, 0)
	regs.Set(2, 0xfeedface)

	binary.LittleEndian.PutUint64(mem.mem[0:], 0xdeadbeef)

	inst := isa.Instruction{Op: isa.OpAMOSWAPD, Rd: 3, Rs1: 1, Rs2: 2}
	Step(regs, inst, mem, CSREnv{})

	if regs.Get(3) != 0xdeadbeef {
		t.Fatalf("rd = %#x, want 0xdeadbeef", regs.Get(3))
	}
	if got := binary.LittleEndian.Uint64(mem.mem[0:]); got != 0xfeedface {
		t.Fatalf("memory = %#x, want 0xfeedface", got)
	}
}

func TestStepCSRRSReadsMachineIdentity(t *testing.T) {
	regs := &Regs{}
	env := CSREnv{HartID: 3, CoreID: 2, PodID: 1, PXNID: 0}

	inst := isa.Instruction{Op: isa.OpCSRRS, Rd: 5, Rs1: 0, Csr: csrMHARTID}
	Step(regs, inst, newFakeMem(0), env)
	if regs.Get(5) != 3 {
		t.Fatalf("mhartid = %d, want 3", regs.Get(5))
	}
}

func TestStepCSRRWISleepsTheHart(t *testing.T) {
	regs := &Regs{}
	var slept int
	mem := &sleepRecordingMem{fakeMem: newFakeMem(0)}

	inst := isa.Instruction{Op: isa.OpCSRRWI, Rd: 0, Rs1: 100, Csr: csrSleep}
	Step(regs, inst, mem, CSREnv{})
	slept = mem.cycles
	if slept != 100 {
		t.Fatalf("slept %d cycles, want 100", slept)
	}
}

func TestStepCSRUnknownIsIllegal(t *testing.T) {
	regs := &Regs{}
	inst := isa.Instruction{Op: isa.OpCSRRW, Rd: 1, Rs1: 0, Csr: 0x123}
	_, err := Step(regs, inst, newFakeMem(0), CSREnv{})
	if !errors.Is(err, ErrIllegalInstruction) {
		t.Fatalf("err = %v, want ErrIllegalInstruction", err)
	}
}

type sleepRecordingMem struct {
	*fakeMem
	cycles int
}

func (m *sleepRecordingMem) Nop(cycles int) { m.cycles = cycles }
