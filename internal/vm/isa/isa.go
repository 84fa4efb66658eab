// Package isa implements the RISC-V-inspired 32-bit bytecode instruction
// set spec_full.md §4.12.1 describes: fixed-width little-endian words,
// RV64-style field layout (R/I/S/B/U/J formats), 32 general-purpose
// registers, and a small opcode set dispatched through funct3/funct7.
// There is no real-world Go RISC-V assembler/disassembler anywhere in the
// retrieved corpus, so this codec is hand-written directly against the
// spec's bit layout; it mirrors how the reference's own isa module is a
// self-contained leaf with no external dependency either.
package isa

// Opcode is the 5-bit major opcode carried in bits [6:2] of every
// instruction word (bits [1:0] are always 0b11, as in RV64).
type Opcode uint32

const (
	OpLoad   Opcode = 0x00
	OpStore  Opcode = 0x08
	OpImm64  Opcode = 0x04
	OpOp64   Opcode = 0x0C
	OpLUI    Opcode = 0x0D
	OpAUIPC  Opcode = 0x05
	OpBranch Opcode = 0x18
	OpJAL    Opcode = 0x1B
	OpSystem Opcode = 0x1C
)

// Funct3 values for OP64/IMM64 arithmetic, loads, stores, and branches.
const (
	F3Add    = 0x0
	F3Sll    = 0x1
	F3Slt    = 0x2
	F3Sltu   = 0x3
	F3Xor    = 0x4
	F3Srl    = 0x5
	F3Or     = 0x6
	F3And    = 0x7
	F3Mul    = 0x0 // with Funct7MulDiv
	F3Div    = 0x4 // with Funct7MulDiv
	F3Rem    = 0x6 // with Funct7MulDiv

	F3LoadByte  = 0x0
	F3LoadHalf  = 0x1
	F3LoadWord  = 0x2
	F3LoadDWord = 0x3

	F3StoreByte  = 0x0
	F3StoreHalf  = 0x1
	F3StoreWord  = 0x2
	F3StoreDWord = 0x3

	F3BranchEq  = 0x0
	F3BranchNe  = 0x1
	F3BranchLt  = 0x4
	F3BranchGe  = 0x5
	F3BranchLtu = 0x6
	F3BranchGeu = 0x7
)

const (
	Funct7Base   = 0x00
	Funct7AltSub = 0x20
	Funct7MulDiv = 0x01
)

// Syscall numbers for the SYSTEM opcode (spec_full.md §4.12.1).
const (
	SyscallExit     = 10000
	SyscallHostCall = 20000
)

// ABI register names, x0..x31, per spec_full.md §4.12.1.
var ABINames = [32]string{
	"zero", "ra", "sp", "gp", "tp",
	"t0", "t1", "t2",
	"s0", "s1",
	"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
	"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
	"t3", "t4", "t5", "t6",
}

const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA7   = 17
)

// Instr is a decoded 32-bit instruction split into its raw fields; Encode
// re-packs whichever of these the instruction's format uses.
type Instr struct {
	Opcode Opcode
	Rd     uint32
	Funct3 uint32
	Rs1    uint32
	Rs2    uint32
	Funct7 uint32
	ImmI   int32 // I-type / LOAD / JALR-style 12-bit sign-extended immediate
	ImmS   int32 // S-type 12-bit sign-extended immediate
	ImmB   int32 // B-type 13-bit sign-extended immediate (bit 0 implicit 0)
	ImmU   int32 // U-type 20-bit immediate, pre-shifted into bits [31:12]
	ImmJ   int32 // J-type 21-bit sign-extended immediate (bit 0 implicit 0)
}

func bits(v uint32, hi, lo uint) uint32 {
	mask := uint32(1)<<(hi-lo+1) - 1
	return (v >> lo) & mask
}

func signExtend(v uint32, bitWidth uint) int32 {
	shift := 32 - bitWidth
	return int32(v<<shift) >> shift
}

// EncodeR packs an R-type register-register arithmetic instruction.
func EncodeR(op Opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return uint32(op)<<2 | 0x3 |
		(rd&0x1f)<<7 |
		(funct3&0x7)<<12 |
		(rs1&0x1f)<<15 |
		(rs2&0x1f)<<20 |
		(funct7&0x7f)<<25
}

// EncodeI packs an I-type register-immediate or load instruction.
func EncodeI(op Opcode, rd, funct3, rs1 uint32, imm12 int32) uint32 {
	return uint32(op)<<2 | 0x3 |
		(rd&0x1f)<<7 |
		(funct3&0x7)<<12 |
		(rs1&0x1f)<<15 |
		(uint32(imm12)&0xfff)<<20
}

// EncodeS packs an S-type store instruction.
func EncodeS(op Opcode, funct3, rs1, rs2 uint32, imm12 int32) uint32 {
	u := uint32(imm12) & 0xfff
	lo := u & 0x1f
	hi := (u >> 5) & 0x7f
	return uint32(op)<<2 | 0x3 |
		lo<<7 |
		(funct3&0x7)<<12 |
		(rs1&0x1f)<<15 |
		(rs2&0x1f)<<20 |
		hi<<25
}

// EncodeB packs a B-type conditional branch instruction; imm13 must be
// even (bit 0 is implicit).
func EncodeB(op Opcode, funct3, rs1, rs2 uint32, imm13 int32) uint32 {
	u := uint32(imm13) & 0x1fff
	bit11 := (u >> 11) & 0x1
	bit12 := (u >> 12) & 0x1
	bits4to1 := (u >> 1) & 0xf
	bits10to5 := (u >> 5) & 0x3f
	return uint32(op)<<2 | 0x3 |
		bit11<<7 |
		bits4to1<<8 |
		(funct3&0x7)<<12 |
		(rs1&0x1f)<<15 |
		(rs2&0x1f)<<20 |
		bits10to5<<25 |
		bit12<<31
}

// EncodeU packs a U-type upper-immediate instruction (LUI/AUIPC).
func EncodeU(op Opcode, rd uint32, imm20 int32) uint32 {
	return uint32(op)<<2 | 0x3 |
		(rd&0x1f)<<7 |
		(uint32(imm20) & 0xfffff000)
}

// EncodeJ packs a J-type unconditional jump instruction; imm21 must be
// even.
func EncodeJ(op Opcode, rd uint32, imm21 int32) uint32 {
	u := uint32(imm21) & 0x1fffff
	bit20 := (u >> 20) & 0x1
	bits10to1 := (u >> 1) & 0x3ff
	bit11 := (u >> 11) & 0x1
	bits19to12 := (u >> 12) & 0xff
	return uint32(op)<<2 | 0x3 |
		(rd&0x1f)<<7 |
		bits19to12<<12 |
		bit11<<20 |
		bits10to1<<21 |
		bit20<<31
}

// Decode splits word into every field its opcode's format might use;
// callers read only the fields relevant to the opcode they dispatched on.
func Decode(word uint32) Instr {
	op := Opcode(bits(word, 6, 2))
	rd := bits(word, 11, 7)
	funct3 := bits(word, 14, 12)
	rs1 := bits(word, 19, 15)
	rs2 := bits(word, 24, 20)
	funct7 := bits(word, 31, 25)

	immI := signExtend(bits(word, 31, 20), 12)

	sLo := bits(word, 11, 7)
	sHi := bits(word, 31, 25)
	immS := signExtend(sHi<<5|sLo, 12)

	bBit11 := bits(word, 7, 7)
	bBits4to1 := bits(word, 11, 8)
	bBits10to5 := bits(word, 30, 25)
	bBit12 := bits(word, 31, 31)
	immB := signExtend(bBit12<<12|bBit11<<11|bBits10to5<<5|bBits4to1<<1, 13)

	immU := int32(word & 0xfffff000)

	jBit20 := bits(word, 31, 31)
	jBits10to1 := bits(word, 30, 21)
	jBit11 := bits(word, 20, 20)
	jBits19to12 := bits(word, 19, 12)
	immJ := signExtend(jBit20<<20|jBits19to12<<12|jBit11<<11|jBits10to1<<1, 21)

	return Instr{
		Opcode: op, Rd: rd, Funct3: funct3, Rs1: rs1, Rs2: rs2, Funct7: funct7,
		ImmI: immI, ImmS: immS, ImmB: immB, ImmU: immU, ImmJ: immJ,
	}
}
