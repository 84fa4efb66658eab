package irutil

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
)

const decryptHelperName = "__polaris_decrypt"

// DecryptHelper returns the shared byte-XOR decrypt routine global/string
// encryption's local-copy variant calls at every use site
// (spec_full.md §4.5): `decrypt(data_ptr, key_ptr, len_bytes, key_len)`
// looping `data[i] ^= key[i mod key_len]`. The function is created once per
// module and reused by every call site, mirroring how the reference
// implementation builds one helper and calls it from every function that
// touches an encrypted global.
func DecryptHelper(m *ir.Module) *ir.Func {
	for _, f := range m.Funcs {
		if f.GlobalIdent.GlobalName == decryptHelperName {
			return f
		}
	}

	i8 := types.I8
	i64 := types.I64
	i8ptr := types.NewPointer(i8)

	dataPtr := ir.NewParam("data_ptr", i8ptr)
	keyPtr := ir.NewParam("key_ptr", i8ptr)
	length := ir.NewParam("len_bytes", i64)
	keyLen := ir.NewParam("key_len", i64)

	f := m.NewFunc(decryptHelperName, types.Void, dataPtr, keyPtr, length, keyLen)
	f.Linkage = enum.LinkagePrivate

	entry := f.NewBlock("entry")
	idxSlot := entry.NewAlloca(i64)
	idxSlot.SetName("i")
	entry.NewStore(constant.NewInt(i64, 0), idxSlot)

	header := f.NewBlock("loop.header")
	entry.NewBr(header)

	idx := header.NewLoad(i64, idxSlot)
	cond := header.NewICmp(enum.IPredULT, idx, length)

	body := f.NewBlock("loop.body")
	exit := f.NewBlock("loop.exit")
	header.NewCondBr(cond, body, exit)

	dataElem := body.NewGetElementPtr(i8, dataPtr, idx)
	dataByte := body.NewLoad(i8, dataElem)

	keyIdx := body.NewURem(idx, keyLen)
	keyElem := body.NewGetElementPtr(i8, keyPtr, keyIdx)
	keyByte := body.NewLoad(i8, keyElem)

	xored := body.NewXor(dataByte, keyByte)
	body.NewStore(xored, dataElem)

	nextIdx := body.NewAdd(idx, constant.NewInt(i64, 1))
	body.NewStore(nextIdx, idxSlot)
	body.NewBr(header)

	exit.NewRet(nil)

	return f
}
