package compiler

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligibleRejectsFloatOps(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("withfloat", types.Double, ir.NewParam("x", types.Double), ir.NewParam("y", types.Double))
	entry := f.NewBlock("entry")
	add := entry.NewFAdd(f.Params[0], f.Params[1])
	entry.Term = ir.NewRet(add)

	assert.False(t, Eligible(f))
}

func TestCompileAddReturnsBytecode(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("add", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	sum := entry.NewAdd(f.Params[0], f.Params[1])
	entry.Term = ir.NewRet(sum)

	res, err := Compile(f)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Bytecode)
	assert.Equal(t, 0, len(res.Bytecode)%4)
}

func TestCompileBranchFunc(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("branch_func", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I32))
	entry := f.NewBlock("entry")
	thenBlk := f.NewBlock("then")
	elseBlk := f.NewBlock("else")

	cmp := entry.NewICmp(enum.IPredSGT, f.Params[0], f.Params[1])
	entry.Term = ir.NewCondBr(cmp, thenBlk, elseBlk)

	sum := thenBlk.NewAdd(f.Params[0], f.Params[1])
	thenBlk.Term = ir.NewRet(sum)

	diff := elseBlk.NewSub(f.Params[0], f.Params[1])
	elseBlk.Term = ir.NewRet(diff)

	res, err := Compile(f)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Bytecode)
}

func TestCompileGEPConstantArrayIndex(t *testing.T) {
	m := ir.NewModule()
	arrType := types.NewArray(4, types.I64)
	f := m.NewFunc("gepfunc", types.I64, ir.NewParam("idx", types.I64))
	entry := f.NewBlock("entry")
	a := entry.NewAlloca(arrType)
	gep := entry.NewGetElementPtr(arrType, a, constant.NewInt(types.I64, 0), constant.NewInt(types.I64, 2))
	load := entry.NewLoad(types.I64, gep)
	entry.Term = ir.NewRet(load)

	res, err := Compile(f)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Bytecode)
}

func TestCompileGEPVariableIndex(t *testing.T) {
	m := ir.NewModule()
	arrType := types.NewArray(8, types.I64)
	f := m.NewFunc("gepdyn", types.I64, ir.NewParam("idx", types.I64))
	entry := f.NewBlock("entry")
	a := entry.NewAlloca(arrType)
	gep := entry.NewGetElementPtr(arrType, a, constant.NewInt(types.I64, 0), f.Params[0])
	load := entry.NewLoad(types.I64, gep)
	entry.Term = ir.NewRet(load)

	res, err := Compile(f)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Bytecode)
}

func TestTypeSizeStructAndArray(t *testing.T) {
	structType := types.NewStruct(types.I64, types.I32)
	assert.EqualValues(t, 16, typeSize(structType))

	arrType := types.NewArray(4, types.I64)
	assert.EqualValues(t, 32, typeSize(arrType))
}

func TestLog2PowerOfTwo(t *testing.T) {
	assert.Equal(t, 3, log2PowerOfTwo(8))
	assert.Equal(t, 0, log2PowerOfTwo(1))
	assert.Equal(t, -1, log2PowerOfTwo(3))
}

func TestSpillExhaustionOnDeepExpression(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("deep", types.I64, ir.NewParam("x", types.I64))
	entry := f.NewBlock("entry")
	var cur value.Value = f.Params[0]
	for i := 0; i < 64; i++ {
		cur = entry.NewAdd(cur, constant.NewInt(types.I64, int64(i)))
	}
	entry.Term = ir.NewRet(cur)

	_, err := Compile(f)
	require.Error(t, err)
	_, ok := err.(*ErrSpillExhaustion)
	assert.True(t, ok, "expected spill exhaustion, got %v", err)
}
