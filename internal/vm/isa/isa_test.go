package isa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRType(t *testing.T) {
	word := EncodeR(OpOp64, RegA0, F3Add, RegA1, RegA2, Funct7Base)
	d := Decode(word)
	assert.Equal(t, OpOp64, d.Opcode)
	assert.EqualValues(t, RegA0, d.Rd)
	assert.EqualValues(t, F3Add, d.Funct3)
	assert.EqualValues(t, RegA1, d.Rs1)
	assert.EqualValues(t, RegA2, d.Rs2)
	assert.EqualValues(t, Funct7Base, d.Funct7)
}

func TestEncodeDecodeIType(t *testing.T) {
	word := EncodeI(OpImm64, RegA0, F3Add, RegA1, -17)
	d := Decode(word)
	require.Equal(t, OpImm64, d.Opcode)
	assert.EqualValues(t, -17, d.ImmI)
}

func TestEncodeDecodeIType_MaxPositive(t *testing.T) {
	word := EncodeI(OpLoad, RegA0, F3LoadDWord, RegSP, 2047)
	d := Decode(word)
	assert.EqualValues(t, 2047, d.ImmI)
}

func TestEncodeDecodeSType(t *testing.T) {
	word := EncodeS(OpStore, F3StoreDWord, RegSP, RegA0, -8)
	d := Decode(word)
	require.Equal(t, OpStore, d.Opcode)
	assert.EqualValues(t, -8, d.ImmS)
}

func TestEncodeDecodeBType(t *testing.T) {
	for _, imm := range []int32{-4096, -2, 0, 2, 4094} {
		word := EncodeB(OpBranch, F3BranchEq, RegA0, RegA1, imm)
		d := Decode(word)
		assert.EqualValues(t, imm, d.ImmB, "roundtrip %d", imm)
	}
}

func TestEncodeDecodeUType(t *testing.T) {
	word := EncodeU(OpLUI, RegA0, int32(0xABCDE000))
	d := Decode(word)
	assert.EqualValues(t, int32(0xABCDE000), d.ImmU)
}

func TestEncodeDecodeJType(t *testing.T) {
	for _, imm := range []int32{-1048576, -2, 0, 2, 1048574} {
		word := EncodeJ(OpJAL, RegRA, imm)
		d := Decode(word)
		assert.EqualValues(t, imm, d.ImmJ, "roundtrip %d", imm)
	}
}

func TestLowTwoBitsAlwaysSet(t *testing.T) {
	word := EncodeR(OpOp64, 0, 0, 0, 0, 0)
	assert.EqualValues(t, 0x3, word&0x3)
}
