package riscv

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/sarchlab/pando/hoststate"
	"github.com/sarchlab/pando/hostthread"
	"github.com/sarchlab/pando/riscv/isa"
)

// Step executes one decoded instruction against regs, using api for any
// load/store/AMO it needs, and returns the address of the next
// instruction to fetch. It is a visitor over isa.Op, one case per
// instruction, matching the original interpreter's split between base
// integer semantics and M-extension semantics. env supplies the
// machine-identity CSR values for this hart.
func Step(regs *Regs, inst isa.Instruction, api hostthread.MemAPI, env CSREnv) (nextPC uint64, err error) {
	pc := regs.PC()
	next := pc + 4

	switch inst.Op {
	case isa.OpLUI:
		regs.Set(inst.Rd, uint64(inst.Imm))
	case isa.OpAUIPC:
		regs.Set(inst.Rd, pc+uint64(inst.Imm))

	case isa.OpJAL:
		regs.Set(inst.Rd, next)
		next = pc + uint64(inst.Imm)
	case isa.OpJALR:
		target := (regs.Get(inst.Rs1) + uint64(inst.Imm)) &^ 1
		regs.Set(inst.Rd, next)
		next = target

	case isa.OpBEQ:
		if regs.Get(inst.Rs1) == regs.Get(inst.Rs2) {
			next = pc + uint64(inst.Imm)
		}
	case isa.OpBNE:
		if regs.Get(inst.Rs1) != regs.Get(inst.Rs2) {
			next = pc + uint64(inst.Imm)
		}
	case isa.OpBLT:
		if regs.Signed(inst.Rs1) < regs.Signed(inst.Rs2) {
			next = pc + uint64(inst.Imm)
		}
	case isa.OpBGE:
		if regs.Signed(inst.Rs1) >= regs.Signed(inst.Rs2) {
			next = pc + uint64(inst.Imm)
		}
	case isa.OpBLTU:
		if regs.Get(inst.Rs1) < regs.Get(inst.Rs2) {
			next = pc + uint64(inst.Imm)
		}
	case isa.OpBGEU:
		if regs.Get(inst.Rs1) >= regs.Get(inst.Rs2) {
			next = pc + uint64(inst.Imm)
		}

	case isa.OpLB, isa.OpLH, isa.OpLW, isa.OpLD, isa.OpLBU, isa.OpLHU, isa.OpLWU:
		addr := regs.Get(inst.Rs1) + uint64(inst.Imm)
		n := loadWidth(inst.Op)
		data := api.Read(addr, n)
		regs.Set(inst.Rd, loadValue(inst.Op, data))

	case isa.OpSB:
		store(api, regs.Get(inst.Rs1)+uint64(inst.Imm), regs.Get(inst.Rs2), 1)
	case isa.OpSH:
		store(api, regs.Get(inst.Rs1)+uint64(inst.Imm), regs.Get(inst.Rs2), 2)
	case isa.OpSW:
		store(api, regs.Get(inst.Rs1)+uint64(inst.Imm), regs.Get(inst.Rs2), 4)
	case isa.OpSD:
		store(api, regs.Get(inst.Rs1)+uint64(inst.Imm), regs.Get(inst.Rs2), 8)

	case isa.OpADDI:
		regs.Set(inst.Rd, uint64(regs.Signed(inst.Rs1)+inst.Imm))
	case isa.OpSLTI:
		regs.Set(inst.Rd, boolU64(regs.Signed(inst.Rs1) < inst.Imm))
	case isa.OpSLTIU:
		regs.Set(inst.Rd, boolU64(regs.Get(inst.Rs1) < uint64(inst.Imm)))
	case isa.OpXORI:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)^uint64(inst.Imm))
	case isa.OpORI:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)|uint64(inst.Imm))
	case isa.OpANDI:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)&uint64(inst.Imm))
	case isa.OpSLLI:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)<<uint(inst.Imm&0x3f))
	case isa.OpSRLI:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)>>uint(inst.Imm&0x3f))
	case isa.OpSRAI:
		regs.Set(inst.Rd, uint64(regs.Signed(inst.Rs1)>>uint(inst.Imm&0x3f)))

	case isa.OpADD:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)+regs.Get(inst.Rs2))
	case isa.OpSUB:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)-regs.Get(inst.Rs2))
	case isa.OpSLL:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)<<(regs.Get(inst.Rs2)&0x3f))
	case isa.OpSLT:
		regs.Set(inst.Rd, boolU64(regs.Signed(inst.Rs1) < regs.Signed(inst.Rs2)))
	case isa.OpSLTU:
		regs.Set(inst.Rd, boolU64(regs.Get(inst.Rs1) < regs.Get(inst.Rs2)))
	case isa.OpXOR:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)^regs.Get(inst.Rs2))
	case isa.OpSRL:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)>>(regs.Get(inst.Rs2)&0x3f))
	case isa.OpSRA:
		regs.Set(inst.Rd, uint64(regs.Signed(inst.Rs1)>>(regs.Get(inst.Rs2)&0x3f)))
	case isa.OpOR:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)|regs.Get(inst.Rs2))
	case isa.OpAND:
		regs.Set(inst.Rd, regs.Get(inst.Rs1)&regs.Get(inst.Rs2))

	case isa.OpADDIW:
		regs.Set(inst.Rd, signExt32(int32(regs.Get(inst.Rs1))+int32(inst.Imm)))
	case isa.OpSLLIW:
		regs.Set(inst.Rd, signExt32(int32(uint32(regs.Get(inst.Rs1))<<uint(inst.Imm&0x1f))))
	case isa.OpSRLIW:
		regs.Set(inst.Rd, signExt32(int32(uint32(regs.Get(inst.Rs1))>>uint(inst.Imm&0x1f))))
	case isa.OpSRAIW:
		regs.Set(inst.Rd, signExt32(int32(regs.Get(inst.Rs1))>>uint(inst.Imm&0x1f)))

	case isa.OpADDW:
		regs.Set(inst.Rd, signExt32(int32(regs.Get(inst.Rs1))+int32(regs.Get(inst.Rs2))))
	case isa.OpSUBW:
		regs.Set(inst.Rd, signExt32(int32(regs.Get(inst.Rs1))-int32(regs.Get(inst.Rs2))))
	case isa.OpSLLW:
		regs.Set(inst.Rd, signExt32(int32(uint32(regs.Get(inst.Rs1))<<(regs.Get(inst.Rs2)&0x1f))))
	case isa.OpSRLW:
		regs.Set(inst.Rd, signExt32(int32(uint32(regs.Get(inst.Rs1))>>(regs.Get(inst.Rs2)&0x1f))))
	case isa.OpSRAW:
		regs.Set(inst.Rd, signExt32(int32(regs.Get(inst.Rs1))>>(regs.Get(inst.Rs2)&0x1f)))

	case isa.OpMUL, isa.OpMULH, isa.OpMULHSU, isa.OpMULHU,
		isa.OpDIV, isa.OpDIVU, isa.OpREM, isa.OpREMU:
		v, stepErr := stepM(regs, inst)
		if stepErr != nil {
			return 0, stepErr
		}
		regs.Set(inst.Rd, v)

	case isa.OpMULW, isa.OpDIVW, isa.OpDIVUW, isa.OpREMW, isa.OpREMUW:
		v, stepErr := stepMW(regs, inst)
		if stepErr != nil {
			return 0, stepErr
		}
		regs.Set(inst.Rd, v)

	case isa.OpFENCE:
		// No-op: memory ordering is enforced by the request protocol's
		// per-destination FIFO order, not by an explicit barrier here.

	case isa.OpAMOSWAPW, isa.OpAMOADDW:
		old := stepAMO(regs, api, inst, 4)
		regs.Set(inst.Rd, uint64(int64(int32(binary.LittleEndian.Uint32(old)))))
	case isa.OpAMOSWAPD, isa.OpAMOADDD:
		old := stepAMO(regs, api, inst, 8)
		regs.Set(inst.Rd, binary.LittleEndian.Uint64(old))

	case isa.OpCSRRW, isa.OpCSRRS, isa.OpCSRRC, isa.OpCSRRWI, isa.OpCSRRSI, isa.OpCSRRCI:
		if stepErr := stepCSR(regs, inst, env, api); stepErr != nil {
			return 0, stepErr
		}

	case isa.OpECALL:
		return 0, ErrECall
	case isa.OpEBREAK:
		return 0, ErrEBreak

	default:
		return 0, fmt.Errorf("%w: raw=%#08x pc=%#x", ErrIllegalInstruction, inst.Raw, pc)
	}

	return next, nil
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func signExt32(v int32) uint64 {
	return uint64(int64(v))
}

func loadWidth(op isa.Op) int {
	switch op {
	case isa.OpLB, isa.OpLBU:
		return 1
	case isa.OpLH, isa.OpLHU:
		return 2
	case isa.OpLW, isa.OpLWU:
		return 4
	case isa.OpLD:
		return 8
	default:
		return 8
	}
}

func loadValue(op isa.Op, data []byte) uint64 {
	switch op {
	case isa.OpLB:
		return uint64(int64(int8(data[0])))
	case isa.OpLBU:
		return uint64(data[0])
	case isa.OpLH:
		return uint64(int64(int16(binary.LittleEndian.Uint16(data))))
	case isa.OpLHU:
		return uint64(binary.LittleEndian.Uint16(data))
	case isa.OpLW:
		return uint64(int64(int32(binary.LittleEndian.Uint32(data))))
	case isa.OpLWU:
		return uint64(binary.LittleEndian.Uint32(data))
	case isa.OpLD:
		return binary.LittleEndian.Uint64(data)
	default:
		return 0
	}
}

func store(api hostthread.MemAPI, addr, value uint64, n int) {
	buf := make([]byte, n)
	switch n {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(buf, value)
	}
	api.Write(addr, buf)
}

// stepAMO performs one AMOSWAP/AMOADD against address rs1 with operand
// rs2, returning the pre-image the original memory word held, following
// visitAMO's rs1-is-address/rs2-is-operand/rd-gets-old-value layout. Only
// SWAP and ADD are implemented — the original never emits AMOAND/OR/XOR
// or LR/SC either.
func stepAMO(regs *Regs, api hostthread.MemAPI, inst isa.Instruction, width int) []byte {
	op := hoststate.AtomicSwap
	if inst.Op == isa.OpAMOADDW || inst.Op == isa.OpAMOADDD {
		op = hoststate.AtomicAdd
	}

	operand := make([]byte, width)
	rs2 := regs.Get(inst.Rs2)
	if width == 4 {
		binary.LittleEndian.PutUint32(operand, uint32(rs2))
	} else {
		binary.LittleEndian.PutUint64(operand, rs2)
	}

	addr := regs.Get(inst.Rs1)
	return api.Atomic(op, addr, operand, nil)
}

// stepCSR implements CSRRW/CSRRS/CSRRC and their *I immediate variants:
// read the CSR's old value into rd, then conditionally write under the
// mask the variant implies, following visitCSRRWUnderMask's
// read-then-masked-write shape. The only writable CSR is the sleep-CSR;
// every machine-identity CSR is read-only and silently ignores writes.
func stepCSR(regs *Regs, inst isa.Instruction, env CSREnv, api hostthread.MemAPI) error {
	old, ok := env.read(inst.Csr)
	if !ok {
		return fmt.Errorf("%w: unknown csr %#x", ErrIllegalInstruction, inst.Csr)
	}

	var src uint64
	switch inst.Op {
	case isa.OpCSRRWI, isa.OpCSRRSI, isa.OpCSRRCI:
		src = uint64(inst.Rs1)
	default:
		src = regs.Get(inst.Rs1)
	}

	var newVal uint64
	write := true
	switch inst.Op {
	case isa.OpCSRRW, isa.OpCSRRWI:
		newVal = src
	case isa.OpCSRRS, isa.OpCSRRSI:
		write = src != 0
		newVal = old | src
	case isa.OpCSRRC, isa.OpCSRRCI:
		write = src != 0
		newVal = old &^ src
	}

	if inst.Rd != 0 {
		regs.Set(inst.Rd, old)
	}

	if write && inst.Csr == csrSleep {
		api.Nop(int(newVal))
	}

	return nil
}

// stepM implements the 64-bit M-extension operations. MULH/MULHSU/MULHU
// need the high half of a 128-bit product, computed with bits.Mul64 in
// place of the original's 128-bit intermediate.
func stepM(regs *Regs, inst isa.Instruction) (uint64, error) {
	a, b := regs.Get(inst.Rs1), regs.Get(inst.Rs2)
	sa, sb := regs.Signed(inst.Rs1), regs.Signed(inst.Rs2)

	switch inst.Op {
	case isa.OpMUL:
		return a * b, nil
	case isa.OpMULHU:
		hi, _ := bits.Mul64(a, b)
		return hi, nil
	case isa.OpMULH:
		return mulhSigned(sa, sb), nil
	case isa.OpMULHSU:
		return mulhSignedUnsigned(sa, b), nil
	case isa.OpDIV:
		if sb == 0 {
			return ^uint64(0), nil
		}
		if sa == -1<<63 && sb == -1 {
			return uint64(sa), nil
		}
		return uint64(sa / sb), nil
	case isa.OpDIVU:
		if b == 0 {
			return ^uint64(0), nil
		}
		return a / b, nil
	case isa.OpREM:
		if sb == 0 {
			return uint64(sa), nil
		}
		if sa == -1<<63 && sb == -1 {
			return 0, nil
		}
		return uint64(sa % sb), nil
	case isa.OpREMU:
		if b == 0 {
			return a, nil
		}
		return a % b, nil
	}
	return 0, fmt.Errorf("%w: unreachable M op", ErrIllegalInstruction)
}

func stepMW(regs *Regs, inst isa.Instruction) (uint64, error) {
	a, b := int32(regs.Get(inst.Rs1)), int32(regs.Get(inst.Rs2))
	ua, ub := uint32(a), uint32(b)

	switch inst.Op {
	case isa.OpMULW:
		return signExt32(a * b), nil
	case isa.OpDIVW:
		if b == 0 {
			return ^uint64(0), nil
		}
		if a == -1<<31 && b == -1 {
			return signExt32(a), nil
		}
		return signExt32(a / b), nil
	case isa.OpDIVUW:
		if ub == 0 {
			return ^uint64(0), nil
		}
		return signExt32(int32(ua / ub)), nil
	case isa.OpREMW:
		if b == 0 {
			return signExt32(a), nil
		}
		if a == -1<<31 && b == -1 {
			return 0, nil
		}
		return signExt32(a % b), nil
	case isa.OpREMUW:
		if ub == 0 {
			return signExt32(a), nil
		}
		return signExt32(int32(ua % ub)), nil
	}
	return 0, fmt.Errorf("%w: unreachable MW op", ErrIllegalInstruction)
}

// mulhSigned computes the high 64 bits of the signed 128-bit product a*b
// using the unsigned widening multiply plus a sign correction, the same
// trick used in software 128-bit multiply routines when no native
// int128 type is available.
func mulhSigned(a, b int64) uint64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return hi
}

func mulhSignedUnsigned(a int64, b uint64) uint64 {
	hi, _ := bits.Mul64(uint64(a), b)
	if a < 0 {
		hi -= b
	}
	return hi
}
