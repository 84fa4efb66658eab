// Package irutil collects the small IR-manipulation helpers every pass
// needs: dominance, PHI/value demotion to stack slots, and building an XOR
// decrypt loop. These mirror utils/ir_helpers.py in the reference
// implementation, rebuilt against github.com/llir/llvm instead of the
// Python llvmlite wrapper the reference uses.
package irutil

import (
	"github.com/llir/llvm/ir"
)

// Dominance holds the dominator relation for one function's blocks, computed
// with the standard iterative fixed-point algorithm (Cooper/Harvey/Kennedy),
// the same algorithm the flattening pass and the local verifier both need.
type Dominance struct {
	order   []*ir.Block
	idom    map[*ir.Block]*ir.Block
	domSets map[*ir.Block]map[*ir.Block]bool
}

// ComputeDominance computes the dominator tree for f, assuming f.Blocks[0]
// is the entry block and successors are derived from each block's
// terminator.
func ComputeDominance(f *ir.Func) *Dominance {
	blocks := f.Blocks
	if len(blocks) == 0 {
		return &Dominance{}
	}

	preds := predecessors(blocks)
	order := reversePostOrder(blocks[0], blocks)

	index := make(map[*ir.Block]int, len(order))
	for i, b := range order {
		index[b] = i
	}

	idom := make(map[*ir.Block]*ir.Block, len(order))
	idom[order[0]] = order[0]

	changed := true
	for changed {
		changed = false
		for _, b := range order[1:] {
			var newIdom *ir.Block
			for _, p := range preds[b] {
				if idom[p] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
					continue
				}
				newIdom = intersect(newIdom, p, idom, index)
			}
			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	d := &Dominance{order: order, idom: idom, domSets: make(map[*ir.Block]map[*ir.Block]bool)}
	for _, b := range order {
		d.domSets[b] = d.dominatorsOf(b)
	}
	return d
}

func (d *Dominance) dominatorsOf(b *ir.Block) map[*ir.Block]bool {
	set := map[*ir.Block]bool{b: true}
	cur := b
	for d.idom[cur] != cur {
		cur = d.idom[cur]
		set[cur] = true
	}
	return set
}

// Dominates reports whether a dominates b (a block always dominates itself).
func (d *Dominance) Dominates(a, b *ir.Block) bool {
	set, ok := d.domSets[b]
	if !ok {
		return false
	}
	return set[a]
}

// DominatedBy returns every block that b dominates (excluding b itself),
// which is exactly the set the encrypted flattening pass needs for
// KEY_MAP construction (spec_full.md §4.2 step 3-4).
func (d *Dominance) DominatedBy(b *ir.Block) []*ir.Block {
	var out []*ir.Block
	for _, other := range d.order {
		if other == b {
			continue
		}
		if d.Dominates(b, other) {
			out = append(out, other)
		}
	}
	return out
}

func intersect(a, b *ir.Block, idom map[*ir.Block]*ir.Block, index map[*ir.Block]int) *ir.Block {
	for a != b {
		for index[a] > index[b] {
			a = idom[a]
		}
		for index[b] > index[a] {
			b = idom[b]
		}
	}
	return a
}

func predecessors(blocks []*ir.Block) map[*ir.Block][]*ir.Block {
	preds := make(map[*ir.Block][]*ir.Block, len(blocks))
	for _, b := range blocks {
		for _, s := range Successors(b) {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

func reversePostOrder(entry *ir.Block, all []*ir.Block) []*ir.Block {
	visited := make(map[*ir.Block]bool, len(all))
	var post []*ir.Block

	var visit func(b *ir.Block)
	visit = func(b *ir.Block) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range Successors(b) {
			visit(s)
		}
		post = append(post, b)
	}
	visit(entry)
	reachable := len(post)

	// blocks unreachable from entry still need a position for map lookups;
	// append them in declared order after the reachable set.
	for _, b := range all {
		visit(b)
	}

	rpo := make([]*ir.Block, 0, len(post))
	for i := reachable - 1; i >= 0; i-- {
		rpo = append(rpo, post[i])
	}
	return append(rpo, post[reachable:]...)
}

// Successors returns the blocks a block's terminator can transfer control
// to, unified across every terminator kind the pass framework recognizes.
func Successors(b *ir.Block) []*ir.Block {
	switch term := b.Term.(type) {
	case *ir.TermBr:
		return []*ir.Block{term.Target}
	case *ir.TermCondBr:
		return []*ir.Block{term.TargetTrue, term.TargetFalse}
	case *ir.TermSwitch:
		out := []*ir.Block{term.TargetDefault}
		for _, c := range term.Cases {
			out = append(out, c.Target)
		}
		return out
	case *ir.TermIndirectBr:
		return append([]*ir.Block(nil), term.ValidTargets...)
	default:
		return nil
	}
}
