// Package isa decodes RV64IM instruction words into a fixed Instruction
// value, following the table-driven (opcode, funct3, funct7) dispatch
// style of a 32-bit RISC instruction set decoder, generalized from a
// 3-format ISA to RV64IM's six instruction formats (R, I, S, B, U, J).
package isa

// Op names an RV64IM operation this decoder recognizes. Op values map
// 1:1 onto the cases of the interpreter's Step switch, not onto raw
// opcode/funct3/funct7 bit patterns.
type Op int

const (
	OpUnknown Op = iota

	OpLUI
	OpAUIPC
	OpJAL
	OpJALR

	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU

	OpLB
	OpLH
	OpLW
	OpLD
	OpLBU
	OpLHU
	OpLWU

	OpSB
	OpSH
	OpSW
	OpSD

	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI

	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND

	OpADDIW
	OpSLLIW
	OpSRLIW
	OpSRAIW

	OpADDW
	OpSUBW
	OpSLLW
	OpSRLW
	OpSRAW

	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU

	OpMULW
	OpDIVW
	OpDIVUW
	OpREMW
	OpREMUW

	OpECALL
	OpEBREAK
	OpFENCE

	OpAMOSWAPW
	OpAMOSWAPD
	OpAMOADDW
	OpAMOADDD

	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI
)

// Instruction is a fully decoded instruction: the operation plus whichever
// of its fields apply.
type Instruction struct {
	Op       Op
	Rd       uint32
	Rs1, Rs2 uint32
	Imm      int64 // sign-extended where the format calls for it

	// Csr is the CSR number for the CSRR* ops; Rs1 doubles as either a
	// source register (CSRRW/CSRRS/CSRRC) or a 5-bit zero-extended
	// immediate (CSRRWI/CSRRSI/CSRRCI) depending on Op.
	Csr uint32

	RawOpcode uint32
	Raw       uint32
}

const (
	opcodeLUI    = 0b0110111
	opcodeAUIPC  = 0b0010111
	opcodeJAL    = 0b1101111
	opcodeJALR   = 0b1100111
	opcodeBRANCH = 0b1100011
	opcodeLOAD   = 0b0000011
	opcodeSTORE  = 0b0100011
	opcodeOPIMM  = 0b0010011
	opcodeOP     = 0b0110011
	opcodeOPIMM32 = 0b0011011
	opcodeOP32   = 0b0111011
	opcodeFENCE  = 0b0001111
	opcodeSYSTEM = 0b1110011
	opcodeAMO    = 0b0101111
)

func bits(v uint32, hi, lo uint) uint32 {
	return (v >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func signExtend(v uint32, width uint) int64 {
	shift := 32 - width
	return int64(int32(v<<shift)) >> shift
}

// Decode decodes one 32-bit RV64IM instruction word.
func Decode(raw uint32) Instruction {
	opcode := bits(raw, 6, 0)
	funct3 := bits(raw, 14, 12)
	funct7 := bits(raw, 31, 25)
	rd := bits(raw, 11, 7)
	rs1 := bits(raw, 19, 15)
	rs2 := bits(raw, 24, 20)

	inst := Instruction{RawOpcode: opcode, Raw: raw, Rd: rd, Rs1: rs1, Rs2: rs2}

	switch opcode {
	case opcodeLUI:
		inst.Op = OpLUI
		inst.Imm = int64(int32(raw & 0xfffff000))
	case opcodeAUIPC:
		inst.Op = OpAUIPC
		inst.Imm = int64(int32(raw & 0xfffff000))
	case opcodeJAL:
		inst.Op = OpJAL
		imm := (bits(raw, 31, 31) << 20) | (bits(raw, 19, 12) << 12) |
			(bits(raw, 20, 20) << 11) | (bits(raw, 30, 21) << 1)
		inst.Imm = signExtend(imm, 21)
	case opcodeJALR:
		inst.Op = OpJALR
		inst.Imm = signExtend(bits(raw, 31, 20), 12)
	case opcodeBRANCH:
		imm := (bits(raw, 31, 31) << 12) | (bits(raw, 7, 7) << 11) |
			(bits(raw, 30, 25) << 5) | (bits(raw, 11, 8) << 1)
		inst.Imm = signExtend(imm, 13)
		switch funct3 {
		case 0b000:
			inst.Op = OpBEQ
		case 0b001:
			inst.Op = OpBNE
		case 0b100:
			inst.Op = OpBLT
		case 0b101:
			inst.Op = OpBGE
		case 0b110:
			inst.Op = OpBLTU
		case 0b111:
			inst.Op = OpBGEU
		}
	case opcodeLOAD:
		inst.Imm = signExtend(bits(raw, 31, 20), 12)
		switch funct3 {
		case 0b000:
			inst.Op = OpLB
		case 0b001:
			inst.Op = OpLH
		case 0b010:
			inst.Op = OpLW
		case 0b011:
			inst.Op = OpLD
		case 0b100:
			inst.Op = OpLBU
		case 0b101:
			inst.Op = OpLHU
		case 0b110:
			inst.Op = OpLWU
		}
	case opcodeSTORE:
		imm := (bits(raw, 31, 25) << 5) | bits(raw, 11, 7)
		inst.Imm = signExtend(imm, 12)
		switch funct3 {
		case 0b000:
			inst.Op = OpSB
		case 0b001:
			inst.Op = OpSH
		case 0b010:
			inst.Op = OpSW
		case 0b011:
			inst.Op = OpSD
		}
	case opcodeOPIMM:
		inst.Imm = signExtend(bits(raw, 31, 20), 12)
		switch funct3 {
		case 0b000:
			inst.Op = OpADDI
		case 0b010:
			inst.Op = OpSLTI
		case 0b011:
			inst.Op = OpSLTIU
		case 0b100:
			inst.Op = OpXORI
		case 0b110:
			inst.Op = OpORI
		case 0b111:
			inst.Op = OpANDI
		case 0b001:
			inst.Op = OpSLLI
			inst.Imm = int64(bits(raw, 25, 20))
		case 0b101:
			inst.Imm = int64(bits(raw, 24, 20))
			if funct7>>1 == 0b0100000>>1 {
				inst.Op = OpSRAI
			} else {
				inst.Op = OpSRLI
			}
		}
	case opcodeOP:
		switch {
		case funct7 == 0b0000001:
			switch funct3 {
			case 0b000:
				inst.Op = OpMUL
			case 0b001:
				inst.Op = OpMULH
			case 0b010:
				inst.Op = OpMULHSU
			case 0b011:
				inst.Op = OpMULHU
			case 0b100:
				inst.Op = OpDIV
			case 0b101:
				inst.Op = OpDIVU
			case 0b110:
				inst.Op = OpREM
			case 0b111:
				inst.Op = OpREMU
			}
		default:
			switch funct3 {
			case 0b000:
				if funct7 == 0b0100000 {
					inst.Op = OpSUB
				} else {
					inst.Op = OpADD
				}
			case 0b001:
				inst.Op = OpSLL
			case 0b010:
				inst.Op = OpSLT
			case 0b011:
				inst.Op = OpSLTU
			case 0b100:
				inst.Op = OpXOR
			case 0b101:
				if funct7 == 0b0100000 {
					inst.Op = OpSRA
				} else {
					inst.Op = OpSRL
				}
			case 0b110:
				inst.Op = OpOR
			case 0b111:
				inst.Op = OpAND
			}
		}
	case opcodeOPIMM32:
		inst.Imm = signExtend(bits(raw, 31, 20), 12)
		switch funct3 {
		case 0b000:
			inst.Op = OpADDIW
		case 0b001:
			inst.Op = OpSLLIW
			inst.Imm = int64(bits(raw, 24, 20))
		case 0b101:
			inst.Imm = int64(bits(raw, 24, 20))
			if funct7 == 0b0100000 {
				inst.Op = OpSRAIW
			} else {
				inst.Op = OpSRLIW
			}
		}
	case opcodeOP32:
		switch {
		case funct7 == 0b0000001:
			switch funct3 {
			case 0b000:
				inst.Op = OpMULW
			case 0b100:
				inst.Op = OpDIVW
			case 0b101:
				inst.Op = OpDIVUW
			case 0b110:
				inst.Op = OpREMW
			case 0b111:
				inst.Op = OpREMUW
			}
		default:
			switch funct3 {
			case 0b000:
				if funct7 == 0b0100000 {
					inst.Op = OpSUBW
				} else {
					inst.Op = OpADDW
				}
			case 0b001:
				inst.Op = OpSLLW
			case 0b101:
				if funct7 == 0b0100000 {
					inst.Op = OpSRAW
				} else {
					inst.Op = OpSRLW
				}
			}
		}
	case opcodeFENCE:
		inst.Op = OpFENCE
	case opcodeSYSTEM:
		switch funct3 {
		case 0b000:
			if bits(raw, 31, 20) == 1 {
				inst.Op = OpEBREAK
			} else {
				inst.Op = OpECALL
			}
		case 0b001:
			inst.Op = OpCSRRW
			inst.Csr = bits(raw, 31, 20)
		case 0b010:
			inst.Op = OpCSRRS
			inst.Csr = bits(raw, 31, 20)
		case 0b011:
			inst.Op = OpCSRRC
			inst.Csr = bits(raw, 31, 20)
		case 0b101:
			inst.Op = OpCSRRWI
			inst.Csr = bits(raw, 31, 20)
		case 0b110:
			inst.Op = OpCSRRSI
			inst.Csr = bits(raw, 31, 20)
		case 0b111:
			inst.Op = OpCSRRCI
			inst.Csr = bits(raw, 31, 20)
		}
	case opcodeAMO:
		funct5 := bits(raw, 31, 27)
		switch {
		case funct5 == 0b00001 && funct3 == 0b010:
			inst.Op = OpAMOSWAPW
		case funct5 == 0b00001 && funct3 == 0b011:
			inst.Op = OpAMOSWAPD
		case funct5 == 0b00000 && funct3 == 0b010:
			inst.Op = OpAMOADDW
		case funct5 == 0b00000 && funct3 == 0b011:
			inst.Op = OpAMOADDD
		}
	}

	return inst
}
