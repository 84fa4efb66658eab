// Package compiler lowers an eligible LLVM IR function to the bytecode ISA
// in package isa, per spec_full.md §4.12.2. Grounded on the teacher's
// internal/ir/optimizations.go pass-over-instructions shape and irutil's
// PHI/cross-block demotion helpers, which this compiler reuses as its
// legalization step exactly as the spec requires ("no register crosses
// block boundaries" after legalize).
package compiler

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"polaris/internal/irutil"
	"polaris/internal/vm/isa"
)

// Result is the bytecode compiler's output, spec_full.md §4.12.2:
// "(bytecode, host_function_names, global_ref_names)".
type Result struct {
	Bytecode        []byte
	HostFuncNames   []string
	GlobalRefNames  []string
	AllocaFrameSize int
}

// tempPool is the register-allocator's temporary pool (spec_full.md
// §4.12.2 step 7): t0-t6 (7) followed by s0-s11 (12), 19 registers handed
// out in this order and never freed within one compilation. Argument
// registers are not part of the pool.
var tempPool = []uint32{5, 6, 7, 28, 29, 30, 31, 8, 9, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27}

// ErrIneligible reports that fn fails an eligibility precondition
// (spec_full.md §4.12.2's "Input: an eligible function").
type ErrIneligible struct{ Reason string }

func (e *ErrIneligible) Error() string { return "vm: ineligible function: " + e.Reason }

// ErrEncodingLimit reports an immediate or parameter count overflow
// (spec_full.md §7's "Encoding limit" row).
type ErrEncodingLimit struct{ Reason string }

func (e *ErrEncodingLimit) Error() string { return "vm: encoding limit: " + e.Reason }

// ErrSpillExhaustion reports register-allocator exhaustion (spec_full.md
// §7's "Register spill exhaustion" row).
type ErrSpillExhaustion struct{ Reason string }

func (e *ErrSpillExhaustion) Error() string { return "vm: spill exhaustion: " + e.Reason }

// Eligible reports whether fn satisfies spec_full.md §4.12.2's
// precondition: has a body, integer/void return, integer/pointer
// parameters, no floats, no invokes, no call with > 6 arguments.
func Eligible(fn *ir.Func) bool {
	if len(fn.Blocks) == 0 {
		return false
	}
	if !isIntOrVoid(fn.Sig.RetType) {
		return false
	}
	for _, p := range fn.Params {
		if !isIntOrPtr(p.Typ) {
			return false
		}
	}
	for _, blk := range fn.Blocks {
		if _, ok := blk.Term.(*ir.TermInvoke); ok {
			return false
		}
		for _, inst := range blk.Insts {
			if isFloatInst(inst) {
				return false
			}
			if call, ok := inst.(*ir.InstCall); ok && len(call.Args) > 6 {
				return false
			}
		}
	}
	return true
}

func isIntOrVoid(t types.Type) bool {
	if t.Equal(types.Void) {
		return true
	}
	_, ok := t.(*types.IntType)
	return ok
}

func isIntOrPtr(t types.Type) bool {
	switch t.(type) {
	case *types.IntType, *types.PointerType:
		return true
	}
	return false
}

func isFloatInst(inst ir.Instruction) bool {
	switch inst.(type) {
	case *ir.InstFAdd, *ir.InstFSub, *ir.InstFMul, *ir.InstFDiv, *ir.InstFCmp:
		return true
	}
	return false
}

// Compile lowers fn to bytecode. Unlike the obfuscation passes, the
// bytecode compiler itself is not randomized — register allocation and
// instruction selection are deterministic functions of the input IR.
func Compile(fn *ir.Func) (*Result, error) {
	if !Eligible(fn) {
		return nil, &ErrIneligible{Reason: fmt.Sprintf("function %s fails virtualization eligibility", fn.GlobalName)}
	}

	irutil.DemotePHIs(fn)
	irutil.DemoteCrossBlockValues(fn)

	c := &compilation{
		fn:          fn,
		blockOffset: make(map[*ir.Block]int),
		valueReg:    make(map[value.Value]uint32),
		globalRefs:  make(map[string]int),
	}

	if err := c.assignParamRegs(); err != nil {
		return nil, err
	}

	for _, blk := range fn.Blocks {
		c.blockOffset[blk] = len(c.words) * 4
		if err := c.compileBlock(blk); err != nil {
			return nil, err
		}
	}

	if err := c.fixupBranches(); err != nil {
		return nil, err
	}

	raw := make([]byte, len(c.words)*4)
	for i, w := range c.words {
		raw[i*4+0] = byte(w)
		raw[i*4+1] = byte(w >> 8)
		raw[i*4+2] = byte(w >> 16)
		raw[i*4+3] = byte(w >> 24)
	}

	return &Result{
		Bytecode:        raw,
		HostFuncNames:   c.hostFuncNames,
		GlobalRefNames:  c.globalRefNames,
		AllocaFrameSize: c.frameSize,
	}, nil
}

type fixup struct {
	wordIdx int
	target  *ir.Block
	kind    string // "branch" or "jal"
	blk     *ir.Block
	inst    isa.Instr
}

type compilation struct {
	fn           *ir.Func
	words        []uint32
	blockOffset  map[*ir.Block]int
	valueReg     map[value.Value]uint32
	nextTemp     int
	frameSize    int
	allocaOffset map[*ir.InstAlloca]int
	hostFuncNames []string
	hostIndex    map[string]int
	globalRefs   map[string]int
	globalRefNames []string
	fixups       []fixup
}

func (c *compilation) emit(w uint32) int {
	c.words = append(c.words, w)
	return len(c.words) - 1
}

func (c *compilation) assignParamRegs() error {
	if len(c.fn.Params) > 6 {
		return &ErrEncodingLimit{Reason: "more than 6 parameters for virtualization"}
	}
	for i, p := range c.fn.Params {
		c.valueReg[p] = uint32(isa.RegA0 + i)
	}
	return nil
}

func (c *compilation) regFor(v value.Value) (uint32, error) {
	if r, ok := c.valueReg[v]; ok {
		return r, nil
	}
	if _, ok := v.(constant.Constant); ok {
		return c.loadConstant(v)
	}
	if c.nextTemp >= len(tempPool) {
		return 0, &ErrSpillExhaustion{Reason: "temporary register pool exhausted"}
	}
	r := tempPool[c.nextTemp]
	c.nextTemp++
	c.valueReg[v] = r
	return r, nil
}

func (c *compilation) loadConstant(v value.Value) (uint32, error) {
	ci, ok := v.(*constant.Int)
	if !ok {
		return 0, &ErrEncodingLimit{Reason: "non-integer constant operand"}
	}
	if c.nextTemp >= len(tempPool) {
		return 0, &ErrSpillExhaustion{Reason: "temporary register pool exhausted materializing constant"}
	}
	r := tempPool[c.nextTemp]
	c.nextTemp++

	val := ci.X.Int64()
	if val >= -2048 && val <= 2047 {
		c.emit(isa.EncodeI(isa.OpImm64, r, isa.F3Add, isa.RegZero, int32(val)))
	} else {
		hi := int32(val >> 12)
		lo := int32(val & 0xfff)
		c.emit(isa.EncodeU(isa.OpLUI, r, hi<<12))
		c.emit(isa.EncodeI(isa.OpImm64, r, isa.F3Add, r, lo))
	}
	c.valueReg[v] = r
	return r, nil
}

// compileBlock linearizes one block's instructions and terminator per
// spec_full.md §4.12.2 step 5.
func (c *compilation) compileBlock(blk *ir.Block) error {
	for _, inst := range blk.Insts {
		if err := c.compileInst(inst); err != nil {
			return err
		}
	}
	return c.compileTerm(blk)
}

func (c *compilation) compileInst(inst ir.Instruction) error {
	switch i := inst.(type) {
	case *ir.InstAlloca:
		return c.compileAlloca(i)
	case *ir.InstAdd:
		return c.compileBinOp(i, i.X, i.Y, isa.F3Add, isa.Funct7Base)
	case *ir.InstSub:
		return c.compileBinOp(i, i.X, i.Y, isa.F3Add, isa.Funct7AltSub)
	case *ir.InstMul:
		return c.compileBinOp(i, i.X, i.Y, isa.F3Mul, isa.Funct7MulDiv)
	case *ir.InstAnd:
		return c.compileBinOp(i, i.X, i.Y, isa.F3And, isa.Funct7Base)
	case *ir.InstOr:
		return c.compileBinOp(i, i.X, i.Y, isa.F3Or, isa.Funct7Base)
	case *ir.InstXor:
		return c.compileBinOp(i, i.X, i.Y, isa.F3Xor, isa.Funct7Base)
	case *ir.InstICmp:
		return c.compileICmp(i)
	case *ir.InstLoad:
		return c.compileLoad(i)
	case *ir.InstStore:
		return c.compileStore(i)
	case *ir.InstCall:
		return c.compileCall(i)
	case *ir.InstGetElementPtr:
		return c.compileGEP(i)
	default:
		return nil
	}
}

// compileGEP lowers address computation per spec_full.md §4.12.2 step 5:
// "fold constant single and multi-index forms into an ADDI; for variable
// indices emit a shift (power-of-two stride) plus add." Element sizes are
// byte counts computed structurally over types.Type, matching compileAlloca's
// flat 8-byte-slot model for any leaf it cannot size further.
func (c *compilation) compileGEP(g *ir.InstGetElementPtr) error {
	base, err := c.regFor(g.Src)
	if err != nil {
		return err
	}

	cur := base
	elemType := g.ElemType
	for idx, index := range g.Indices {
		var stride int64
		if idx == 0 {
			stride = typeSize(elemType)
		} else {
			stride, elemType = stepInto(elemType, index)
		}

		if ci, ok := index.(*constant.Int); ok {
			off := ci.X.Int64() * stride
			if off == 0 {
				continue
			}
			if off < -2048 || off > 2047 {
				return &ErrEncodingLimit{Reason: "GEP constant offset exceeds 12-bit immediate"}
			}
			next := c.freshTemp()
			if next == 0 {
				return &ErrSpillExhaustion{Reason: "temporary register pool exhausted lowering GEP"}
			}
			c.emit(isa.EncodeI(isa.OpImm64, next, isa.F3Add, cur, int32(off)))
			cur = next
			continue
		}

		ri, err := c.regFor(index)
		if err != nil {
			return err
		}
		shift := log2PowerOfTwo(stride)
		scaled := ri
		if shift > 0 {
			scaled = c.freshTemp()
			if scaled == 0 {
				return &ErrSpillExhaustion{Reason: "temporary register pool exhausted lowering GEP"}
			}
			c.emit(isa.EncodeI(isa.OpImm64, scaled, isa.F3Sll, ri, int32(shift)))
		} else if stride != 1 {
			return &ErrEncodingLimit{Reason: "GEP stride is not a power of two"}
		}
		next := c.freshTemp()
		if next == 0 {
			return &ErrSpillExhaustion{Reason: "temporary register pool exhausted lowering GEP"}
		}
		c.emit(isa.EncodeR(isa.OpOp64, next, isa.F3Add, cur, scaled, isa.Funct7Base))
		cur = next
	}

	c.valueReg[g] = cur
	return nil
}

// freshTemp allocates the next free temporary, returning 0 (never a valid
// allocated temp, since x0 is wired zero) on exhaustion.
func (c *compilation) freshTemp() uint32 {
	if c.nextTemp >= len(tempPool) {
		return 0
	}
	r := tempPool[c.nextTemp]
	c.nextTemp++
	return r
}

// stepInto resolves the element type one GEP index level deeper, returning
// the byte stride for that level's index and the type reached.
func stepInto(t types.Type, index value.Value) (int64, types.Type) {
	switch tt := t.(type) {
	case *types.ArrayType:
		return typeSize(tt.ElemType), tt.ElemType
	case *types.StructType:
		ci, ok := index.(*constant.Int)
		if !ok {
			return typeSize(t), t
		}
		fieldIdx := int(ci.X.Int64())
		if fieldIdx < 0 || fieldIdx >= len(tt.Fields) {
			return typeSize(t), t
		}
		return typeSize(tt.Fields[fieldIdx]), tt.Fields[fieldIdx]
	case *types.PointerType:
		return typeSize(tt.ElemType), tt.ElemType
	default:
		return typeSize(t), t
	}
}

// typeSize returns a flat byte size for t. Every pointer and every scalar
// narrower than 64 bits still occupies one 8-byte VM stack/register slot,
// matching compileAlloca's fixed 8-byte-per-value frame model; only arrays
// and structs are sized structurally so multi-element GEP strides are
// meaningful.
func typeSize(t types.Type) int64 {
	switch tt := t.(type) {
	case *types.ArrayType:
		return tt.Len * typeSize(tt.ElemType)
	case *types.StructType:
		var total int64
		for _, f := range tt.Fields {
			total += typeSize(f)
		}
		return total
	default:
		return 8
	}
}

// log2PowerOfTwo returns log2(n) for a positive power of two, or -1 if n is
// not a power of two.
func log2PowerOfTwo(n int64) int {
	if n <= 0 || n&(n-1) != 0 {
		return -1
	}
	shift := 0
	for n > 1 {
		n >>= 1
		shift++
	}
	return shift
}

func (c *compilation) compileAlloca(a *ir.InstAlloca) error {
	size := 8
	c.frameSize += size
	off := -c.frameSize
	if c.allocaOffset == nil {
		c.allocaOffset = make(map[*ir.InstAlloca]int)
	}
	c.allocaOffset[a] = off

	r, err := c.regFor(a)
	if err != nil {
		return err
	}
	c.emit(isa.EncodeI(isa.OpImm64, r, isa.F3Add, isa.RegSP, int32(off)))
	return nil
}

func (c *compilation) compileBinOp(result value.Value, x, y value.Value, funct3, funct7 uint32) error {
	rx, err := c.regFor(x)
	if err != nil {
		return err
	}
	ry, err := c.regFor(y)
	if err != nil {
		return err
	}
	rd, err := c.regFor(result)
	if err != nil {
		return err
	}
	c.emit(isa.EncodeR(isa.OpOp64, rd, funct3, rx, ry, funct7))
	return nil
}

func (c *compilation) compileICmp(i *ir.InstICmp) error {
	rx, err := c.regFor(i.X)
	if err != nil {
		return err
	}
	ry, err := c.regFor(i.Y)
	if err != nil {
		return err
	}
	rd, err := c.regFor(i)
	if err != nil {
		return err
	}
	switch i.Pred {
	case enum.IPredSLT:
		c.emit(isa.EncodeR(isa.OpOp64, rd, isa.F3Slt, rx, ry, isa.Funct7Base))
	case enum.IPredULT:
		c.emit(isa.EncodeR(isa.OpOp64, rd, isa.F3Sltu, rx, ry, isa.Funct7Base))
	default:
		// EQ/NE/SGT/SGE/SLE/UGT/UGE/ULE: branch-over-ADDI materialization
		// (spec_full.md §4.12.2 step 5). The branch tests the negation of
		// i.Pred so that taking it skips the rd=1 materialization, leaving
		// rd=0; some negations only have a direct funct3 with the operands
		// swapped (e.g. NOT(a>b) is b>=a, not expressible as "a ? b" without
		// swapping), so branchCondForNegated reports both.
		negF3, swap := branchCondForNegated(i.Pred)
		brRs1, brRs2 := rx, ry
		if swap {
			brRs1, brRs2 = ry, rx
		}
		c.emit(isa.EncodeI(isa.OpImm64, rd, isa.F3Add, isa.RegZero, 0))
		skip := c.emit(isa.EncodeB(isa.OpBranch, negF3, brRs1, brRs2, 0))
		c.emit(isa.EncodeI(isa.OpImm64, rd, isa.F3Add, isa.RegZero, 1))
		c.patchBranchHere(skip)
	}
	return nil
}

// branchCondForNegated returns the branch funct3 testing NOT p(a, b), and
// whether the operands must be passed swapped (rs1, rs2) = (b, a) to express
// it: every branch funct3 only tests "rs1 op rs2" for op in {==, !=, <
// signed, < unsigned}, so a negation that lands on ">" or ">=" needs the
// equivalent "<" or "<=" with operands reversed instead.
func branchCondForNegated(p enum.IPred) (funct3 uint32, swap bool) {
	switch p {
	case enum.IPredEQ:
		return isa.F3BranchNe, false
	case enum.IPredNE:
		return isa.F3BranchEq, false
	case enum.IPredSGE:
		return isa.F3BranchLt, false
	case enum.IPredUGE:
		return isa.F3BranchLtu, false
	case enum.IPredSGT:
		// NOT(a>b) == b>=a.
		return isa.F3BranchGe, true
	case enum.IPredUGT:
		// NOT(a>b unsigned) == b>=a unsigned.
		return isa.F3BranchGeu, true
	case enum.IPredSLE:
		// NOT(a<=b) == b<a.
		return isa.F3BranchLt, true
	case enum.IPredULE:
		// NOT(a<=b unsigned) == b<a unsigned.
		return isa.F3BranchLtu, true
	default:
		return isa.F3BranchLtu, false
	}
}

// patchBranchHere fixes up a branch emitted with a placeholder zero
// offset to target the current end of the instruction stream (used for
// the icmp branch-over-ADDI idiom, which never crosses a source block).
func (c *compilation) patchBranchHere(wordIdx int) {
	target := len(c.words) * 4
	from := wordIdx * 4
	offset := int32(target - from)
	old := isa.Decode(c.words[wordIdx])
	c.words[wordIdx] = isa.EncodeB(isa.OpBranch, old.Funct3, old.Rs1, old.Rs2, offset)
}

func (c *compilation) compileLoad(l *ir.InstLoad) error {
	rs, err := c.regFor(l.Src)
	if err != nil {
		return err
	}
	rd, err := c.regFor(l)
	if err != nil {
		return err
	}
	f3 := widthFunct3Load(l.Typ)
	c.emit(isa.EncodeI(isa.OpLoad, rd, f3, rs, 0))
	return nil
}

func (c *compilation) compileStore(s *ir.InstStore) error {
	rs, err := c.regFor(s.Src)
	if err != nil {
		return err
	}
	rd, err := c.regFor(s.Dst)
	if err != nil {
		return err
	}
	f3 := widthFunct3Store(s.Src.Type())
	c.emit(isa.EncodeS(isa.OpStore, f3, rd, rs, 0))
	return nil
}

func widthFunct3Load(t types.Type) uint32 {
	if it, ok := t.(*types.IntType); ok {
		switch {
		case it.BitSize <= 8:
			return isa.F3LoadByte
		case it.BitSize <= 16:
			return isa.F3LoadHalf
		case it.BitSize <= 32:
			return isa.F3LoadWord
		}
	}
	return isa.F3LoadDWord
}

func widthFunct3Store(t types.Type) uint32 {
	if it, ok := t.(*types.IntType); ok {
		switch {
		case it.BitSize <= 8:
			return isa.F3StoreByte
		case it.BitSize <= 16:
			return isa.F3StoreHalf
		case it.BitSize <= 32:
			return isa.F3StoreWord
		}
	}
	return isa.F3StoreDWord
}

// compileCall only supports calls to host functions (spec_full.md
// §4.12.2 step 5: "only calls to host functions supported"): marshal
// args into a1..a6, the callee's host-table index into a0, set a7 to
// HOST_CALL, ECALL (modeled here as a SYSTEM instruction).
func (c *compilation) compileCall(call *ir.InstCall) error {
	callee, ok := call.Callee.(*ir.Func)
	if !ok {
		return &ErrEncodingLimit{Reason: "indirect call not supported by virtualization"}
	}
	if len(call.Args) > 6 {
		return &ErrEncodingLimit{Reason: "call exceeds 6 arguments"}
	}

	idx := c.hostIndexFor(callee.GlobalName)

	for i, arg := range call.Args {
		r, err := c.regFor(arg)
		if err != nil {
			return err
		}
		c.emit(isa.EncodeI(isa.OpImm64, uint32(isa.RegA0+1+i), isa.F3Add, r, 0))
	}
	c.emit(isa.EncodeI(isa.OpImm64, isa.RegA0, isa.F3Add, isa.RegZero, int32(idx)))
	// The syscall number does not fit a 12-bit immediate: LUI the rounded
	// upper part, then ADDI the signed remainder.
	c.emit(isa.EncodeU(isa.OpLUI, isa.RegA7, (isa.SyscallHostCall+0x800)&^0xfff))
	c.emit(isa.EncodeI(isa.OpImm64, isa.RegA7, isa.F3Add, isa.RegA7, isa.SyscallHostCall-((isa.SyscallHostCall+0x800)&^0xfff)))
	c.emit(isa.EncodeI(isa.OpSystem, 0, 0, 0, 0))

	if !call.Typ.Equal(types.Void) {
		rd, err := c.regFor(call)
		if err != nil {
			return err
		}
		c.emit(isa.EncodeI(isa.OpImm64, rd, isa.F3Add, isa.RegA0, 0))
	}
	return nil
}

func (c *compilation) hostIndexFor(name string) int {
	if c.hostIndex == nil {
		c.hostIndex = make(map[string]int)
	}
	if idx, ok := c.hostIndex[name]; ok {
		return idx
	}
	idx := len(c.hostFuncNames)
	c.hostFuncNames = append(c.hostFuncNames, name)
	c.hostIndex[name] = idx
	return idx
}

// compileTerm lowers a block's terminator per spec_full.md §4.12.2 step 5.
func (c *compilation) compileTerm(blk *ir.Block) error {
	switch t := blk.Term.(type) {
	case *ir.TermRet:
		if t.X != nil {
			r, err := c.regFor(t.X)
			if err != nil {
				return err
			}
			c.emit(isa.EncodeI(isa.OpImm64, isa.RegA0, isa.F3Add, r, 0))
		}
		// LUI + ADDI, as in compileCall: EXIT does not fit a 12-bit immediate.
		c.emit(isa.EncodeU(isa.OpLUI, isa.RegA7, (isa.SyscallExit+0x800)&^0xfff))
		c.emit(isa.EncodeI(isa.OpImm64, isa.RegA7, isa.F3Add, isa.RegA7, isa.SyscallExit-((isa.SyscallExit+0x800)&^0xfff)))
		c.emit(isa.EncodeI(isa.OpSystem, 0, 0, 0, 0))
		return nil
	case *ir.TermBr:
		idx := c.emit(isa.EncodeJ(isa.OpJAL, isa.RegZero, 0))
		c.fixups = append(c.fixups, fixup{wordIdx: idx, target: t.Target, kind: "jal"})
		return nil
	case *ir.TermCondBr:
		rc, err := c.regFor(t.Cond)
		if err != nil {
			return err
		}
		idx := c.emit(isa.EncodeB(isa.OpBranch, isa.F3BranchNe, rc, isa.RegZero, 0))
		c.fixups = append(c.fixups, fixup{wordIdx: idx, target: t.TargetTrue, kind: "branch"})
		idx2 := c.emit(isa.EncodeJ(isa.OpJAL, isa.RegZero, 0))
		c.fixups = append(c.fixups, fixup{wordIdx: idx2, target: t.TargetFalse, kind: "jal"})
		return nil
	case *ir.TermSwitch:
		return c.compileSwitch(t)
	case *ir.TermUnreachable:
		c.emit(isa.EncodeU(isa.OpLUI, isa.RegA7, (isa.SyscallExit+0x800)&^0xfff))
		c.emit(isa.EncodeI(isa.OpImm64, isa.RegA7, isa.F3Add, isa.RegA7, isa.SyscallExit-((isa.SyscallExit+0x800)&^0xfff)))
		c.emit(isa.EncodeI(isa.OpSystem, 0, 0, 0, 0))
		return nil
	default:
		return &ErrIneligible{Reason: "unsupported terminator for virtualization"}
	}
}

// compileSwitch lowers to BEQ-per-case falling through to an unconditional
// jump to the default, per spec_full.md §4.12.2 step 5.
func (c *compilation) compileSwitch(sw *ir.TermSwitch) error {
	rx, err := c.regFor(sw.X)
	if err != nil {
		return err
	}
	for _, cs := range sw.Cases {
		rcase, err := c.loadConstant(cs.X)
		if err != nil {
			return err
		}
		idx := c.emit(isa.EncodeB(isa.OpBranch, isa.F3BranchEq, rx, rcase, 0))
		c.fixups = append(c.fixups, fixup{wordIdx: idx, target: cs.Target, kind: "branch"})
	}
	idx := c.emit(isa.EncodeJ(isa.OpJAL, isa.RegZero, 0))
	c.fixups = append(c.fixups, fixup{wordIdx: idx, target: sw.TargetDefault, kind: "jal"})
	return nil
}

// fixupBranches re-encodes every recorded branch/jump with its real
// byte-offset delta, per spec_full.md §4.12.2 step 8.
func (c *compilation) fixupBranches() error {
	for _, fx := range c.fixups {
		targetOff, ok := c.blockOffset[fx.target]
		if !ok {
			return &ErrEncodingLimit{Reason: "branch fixup targets unknown block"}
		}
		fromOff := fx.wordIdx * 4
		delta := int32(targetOff - fromOff)
		old := isa.Decode(c.words[fx.wordIdx])
		switch fx.kind {
		case "branch":
			if delta < -4096 || delta > 4094 {
				return &ErrEncodingLimit{Reason: "branch offset exceeds 13-bit range"}
			}
			c.words[fx.wordIdx] = isa.EncodeB(isa.OpBranch, old.Funct3, old.Rs1, old.Rs2, delta)
		case "jal":
			if delta < -1048576 || delta > 1048574 {
				return &ErrEncodingLimit{Reason: "jump offset exceeds 21-bit range"}
			}
			c.words[fx.wordIdx] = isa.EncodeJ(isa.OpJAL, old.Rd, delta)
		}
	}
	return nil
}
