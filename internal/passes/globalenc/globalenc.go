// Package globalenc implements global/string encryption, spec_full.md
// §4.5: eligible module-local constant globals are byte-XOR encrypted in
// place, and every use site gets a stack-resident decrypted copy built by
// the shared irutil.DecryptHelper routine. Grounded on the teacher's
// internal/ir/optimizations.go module-pass shape plus the decryption
// helper's construction in irutil/decrypt.go.
package globalenc

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"strings"

	"polaris/internal/irutil"
	"polaris/internal/passframework"
)

const Name = "GlobalStringEncryption"

const keyLen = 4

func init() {
	passframework.Register(Info(), func() passframework.AnyPass { return New() })
}

func Info() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         Name,
		Description:  "[Polaris] XOR-encrypts eligible constant globals and decrypts a stack copy at every use site",
		IsModulePass: true,
	}
}

type Pass struct{}

func New() *Pass { return &Pass{} }

func (p *Pass) Info() passframework.PassInfo { return Info() }

func eligible(g *ir.Global) bool {
	if g.Linkage != enum.LinkageInternal && g.Linkage != enum.LinkagePrivate && g.Linkage != enum.LinkageLinkOnceODR {
		return false
	}
	if g.Init == nil {
		return false
	}
	name := g.GlobalName
	if strings.HasPrefix(name, "llvm.") || strings.HasPrefix(name, "__") {
		return false
	}
	switch g.ContentType.(type) {
	case *types.IntType:
		return true
	case *types.ArrayType:
		at := g.ContentType.(*types.ArrayType)
		_, ok := at.ElemType.(*types.IntType)
		return ok
	}
	return false
}

func (p *Pass) RunOnModule(m *ir.Module, ctx *passframework.Context, _ passframework.Selection) (bool, error) {
	type encTarget struct {
		global  *ir.Global
		key     [keyLen]byte
		byteLen int
	}
	targets := make(map[*ir.Global]*encTarget)

	for _, g := range m.Globals {
		if !eligible(g) {
			continue
		}
		raw := constBytes(g.Init)
		if raw == nil {
			continue
		}
		var key [keyLen]byte
		for i := range key {
			key[i] = byte(ctx.Rand.Uint32())
		}
		encrypted := make([]byte, len(raw))
		for i, b := range raw {
			encrypted[i] = b ^ key[i%keyLen]
		}
		g.Init = bytesToConstant(g.ContentType, encrypted)
		if g.Linkage == enum.LinkageLinkOnceODR {
			g.Linkage = enum.LinkageInternal
		}
		targets[g] = &encTarget{global: g, key: key, byteLen: len(raw)}
	}

	if len(targets) == 0 {
		return false, nil
	}

	helper := irutil.DecryptHelper(m)

	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		used := map[*ir.Global]bool{}
		for _, blk := range f.Blocks {
			for _, inst := range blk.Insts {
				for _, op := range operandGlobals(inst) {
					if _, ok := targets[op]; ok {
						used[op] = true
					}
				}
			}
		}
		if len(used) == 0 {
			continue
		}
		entry := f.Blocks[0]
		for g := range used {
			t := targets[g]
			copyPtr := materializeDecryptedCopy(f, entry, g, t.key, t.byteLen, helper)
			replaceGlobalUses(f, g, copyPtr)
		}
	}

	return true, nil
}

func constBytes(c constant.Constant) []byte {
	switch v := c.(type) {
	case *constant.Int:
		it := v.Typ
		nbytes := (it.BitSize + 7) / 8
		out := make([]byte, nbytes)
		val := v.X.Uint64()
		for i := 0; i < nbytes && i < 8; i++ {
			out[i] = byte(val >> (8 * uint(i)))
		}
		return out
	case *constant.CharArray:
		return append([]byte(nil), v.X...)
	case *constant.Array:
		var out []byte
		for _, elem := range v.Elems {
			eb := constBytes(elem.(constant.Constant))
			if eb == nil {
				return nil
			}
			out = append(out, eb...)
		}
		return out
	default:
		return nil
	}
}

func bytesToConstant(t types.Type, data []byte) constant.Constant {
	if at, ok := t.(*types.ArrayType); ok {
		if it, ok := at.ElemType.(*types.IntType); ok && it.BitSize == 8 {
			return constant.NewCharArrayFromString(string(data))
		}
	}
	if it, ok := t.(*types.IntType); ok {
		var v uint64
		for i := 0; i < len(data) && i < 8; i++ {
			v |= uint64(data[i]) << (8 * uint(i))
		}
		return constant.NewInt(it, int64(v))
	}
	return constant.NewCharArrayFromString(string(data))
}

func operandGlobals(inst ir.Instruction) []*ir.Global {
	var out []*ir.Global
	check := func(v value.Value) {
		if g, ok := v.(*ir.Global); ok {
			out = append(out, g)
		}
	}
	switch i := inst.(type) {
	case *ir.InstLoad:
		check(i.Src)
	case *ir.InstStore:
		check(i.Src)
		check(i.Dst)
	case *ir.InstGetElementPtr:
		check(i.Src)
	case *ir.InstCall:
		for _, a := range i.Args {
			check(a)
		}
	}
	return out
}

func replaceGlobalUses(f *ir.Func, g *ir.Global, copyPtr value.Value) {
	irutil.ReplaceAllUsesInFunc(f, g, copyPtr)
}

// materializeDecryptedCopy allocates a stack copy of g's type at the top
// of entry, byte-copies the encrypted contents in, stores the key, and
// calls the shared decrypt helper, per spec_full.md §4.5's local-copy
// variant.
func materializeDecryptedCopy(f *ir.Func, entry *ir.Block, g *ir.Global, key [keyLen]byte, byteLen int, helper *ir.Func) value.Value {
	i8 := types.I8
	i64 := types.I64

	slot := ir.NewAlloca(g.ContentType)
	keySlot := ir.NewAlloca(types.NewArray(uint64(keyLen), i8))

	var prelude []ir.Instruction
	prelude = append(prelude, slot, keySlot)

	store := ir.NewStore(g.Init, slot)
	prelude = append(prelude, store)

	zero := constant.NewInt(types.I32, 0)
	for i := 0; i < keyLen; i++ {
		idx := constant.NewInt(types.I32, int64(i))
		gep := ir.NewGetElementPtr(keySlot.ElemType, keySlot, zero, idx)
		prelude = append(prelude, gep)
		st := ir.NewStore(constant.NewInt(i8, int64(key[i])), gep)
		prelude = append(prelude, st)
	}

	dataPtr := ir.NewBitCast(slot, types.NewPointer(i8))
	prelude = append(prelude, dataPtr)
	keyPtr := ir.NewBitCast(keySlot, types.NewPointer(i8))
	prelude = append(prelude, keyPtr)

	call := ir.NewCall(helper, dataPtr, keyPtr, constant.NewInt(i64, int64(byteLen)), constant.NewInt(i64, keyLen))
	prelude = append(prelude, call)

	entry.Insts = append(prelude, entry.Insts...)
	return slot
}
