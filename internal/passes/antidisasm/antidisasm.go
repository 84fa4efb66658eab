// Package antidisasm implements anti-disassembly byte injection,
// spec_full.md §4.11: a crafted 15-byte x86 sequence disguised as inline
// assembly, injected into basic blocks of x86-targeted modules to
// desynchronize linear-sweep disassemblers. Grounded on the teacher's
// internal/ir/optimizations.go per-block instruction-list rewrite shape.
package antidisasm

import (
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"

	"polaris/internal/passframework"
)

const Name = "AntiDisassembly"

const defaultDensity = 0.3

func init() {
	passframework.Register(Info(), func() passframework.AnyPass { return New() })
}

func Info() passframework.PassInfo {
	return passframework.PassInfo{
		Name:         Name,
		Description:  "[Polaris] injects desynchronizing x86 byte sequences into basic blocks",
		IsModulePass: true,
	}
}

type Pass struct {
	Density float64
}

func New() *Pass { return &Pass{Density: defaultDensity} }

func (p *Pass) Info() passframework.PassInfo { return Info() }

func isX86Triple(triple string) bool {
	lower := strings.ToLower(triple)
	for _, marker := range []string{"x86_64", "x86-64", "i386", "i686", "x86"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (p *Pass) RunOnModule(m *ir.Module, ctx *passframework.Context, selected passframework.Selection) (bool, error) {
	if !isX86Triple(m.TargetTriple) {
		return false, nil
	}

	changed := false
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 || !selected.Includes(f.GlobalName) {
			continue
		}
		for _, blk := range f.Blocks {
			if injectBlock(blk, p.Density, ctx) {
				changed = true
			}
		}
	}
	return changed, nil
}

// junkSequence builds the 15-byte sequence spec_full.md §4.11 specifies:
// 0x48 0xB8 (MOV RAX, imm64 prefix), three random bytes, 0xEB 0x08 (a short
// jump that skips the remaining junk bytes), and 8 trailing filler bytes
// never reached as code.
func junkSequence(ctx *passframework.Context) []byte {
	seq := make([]byte, 15)
	seq[0], seq[1] = 0x48, 0xB8
	for i := 2; i < 5; i++ {
		seq[i] = byte(ctx.Rand.Uint32())
	}
	seq[5], seq[6] = 0xEB, 0x08
	for i := 7; i < 15; i++ {
		seq[i] = byte(ctx.Rand.Uint32())
	}
	return seq
}

func asmString(seq []byte) string {
	var b strings.Builder
	for _, by := range seq {
		b.WriteString(".byte ")
		b.WriteByte('0')
		b.WriteByte('x')
		const hex = "0123456789abcdef"
		b.WriteByte(hex[by>>4])
		b.WriteByte(hex[by&0xf])
		b.WriteByte('\n')
	}
	return b.String()
}

// injectBlock always injects one junk sequence before the first non-PHI
// instruction, and before every other non-terminator instruction with
// probability density (spec_full.md §4.11).
func injectBlock(blk *ir.Block, density float64, ctx *passframework.Context) bool {
	if len(blk.Insts) == 0 {
		return false
	}

	firstNonPHI := -1
	for i, inst := range blk.Insts {
		if _, ok := inst.(*ir.InstPhi); !ok {
			firstNonPHI = i
			break
		}
	}
	if firstNonPHI < 0 {
		return false
	}

	type injection struct {
		pos int
		ia  *ir.InstCall
	}
	var sites []injection
	sites = append(sites, injection{pos: firstNonPHI, ia: newInlineAsmCall(ctx)})

	for i := firstNonPHI + 1; i < len(blk.Insts); i++ {
		if ctx.Rand.Intn(1000) < int(density*1000) {
			sites = append(sites, injection{pos: i, ia: newInlineAsmCall(ctx)})
		}
	}

	// insert from the back so earlier indices stay valid.
	for i := len(sites) - 1; i >= 0; i-- {
		s := sites[i]
		head := append([]ir.Instruction(nil), blk.Insts[:s.pos]...)
		head = append(head, s.ia)
		blk.Insts = append(head, blk.Insts[s.pos:]...)
	}
	return true
}

// newInlineAsmCall builds a void-typed call to an inline-asm constant whose
// body is the junk byte sequence, encoded as raw .byte directives so the
// assembler emits exactly those bytes with no instruction-boundary
// reinterpretation by the Go IR layer itself. llir/llvm models inline
// assembly as a constant.InlineAsm used as an *ir.InstCall's callee, not as
// its own instruction kind.
func newInlineAsmCall(ctx *passframework.Context) *ir.InstCall {
	seq := junkSequence(ctx)
	sig := types.NewFunc(types.Void)
	asm := constant.NewInlineAsm(sig, asmString(seq), "")
	return ir.NewCall(asm)
}
