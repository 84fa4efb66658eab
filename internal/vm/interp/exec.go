// Go-native execution of package compiler's bytecode output. interp.Build
// only ever synthesizes __vm_interpret as LLVM IR text to embed into the
// target module; that text has no Go-callable execution path of its own.
// Machine is a second, independent implementation of the same fetch-decode-
// execute loop (spec_full.md §4.12.1/§4.12.3), written directly against the
// isa package's encoding so the concrete seeded scenarios spec_full.md §8
// lists can actually run as Go tests rather than stay unverified prose.
package interp

import (
	"encoding/binary"
	"fmt"

	"polaris/internal/vm/isa"
)

// memSize is the flat byte-addressable space backing the alloca frame
// (spec_full.md §4.12.2's fixed 8-byte-per-value slots below sp); register
// values that address memory are plain indices into this slice, not real
// process pointers, since Machine never runs alongside a real heap.
const memSize = 8192

// HostFunc is a Go stand-in for a host (native) function a virtualized
// function calls through HOST_CALL; it receives up to 6 marshaled
// arguments and returns the single i64 result a0 carries back.
type HostFunc func(args [6]int64) int64

// Machine executes one bytecode program to completion. It is not reused
// across runs with different starting register state; call NewMachine fresh
// per execution, matching how replaceBody wires one __vm_interpret call per
// virtualized function invocation.
type Machine struct {
	regs     [32]int64
	mem      []byte
	pc       int64
	bytecode []byte
	hosts    []HostFunc
}

// NewMachine builds a Machine ready to run bytecode. hosts is indexed the
// same way compiler.Result.HostFuncNames is: HOST_CALL's a0 index selects
// hosts[index].
func NewMachine(bytecode []byte, hosts []HostFunc) *Machine {
	return &Machine{
		bytecode: bytecode,
		mem:      make([]byte, memSize),
		hosts:    hosts,
	}
}

// Run executes from the first instruction with args bound to a0..a5 (per
// spec_full.md §4.12.2's parameter-register convention), returning the
// value the function's EXIT syscall stores into a0.
func (m *Machine) Run(args ...int64) (int64, error) {
	m.regs[isa.RegSP] = memSize - 8
	for i, a := range args {
		if i >= 6 {
			break
		}
		m.regs[isa.RegA0+i] = a
	}
	m.pc = 0

	for {
		if m.pc < 0 || m.pc+4 > int64(len(m.bytecode)) {
			return 0, fmt.Errorf("interp: pc %d out of bytecode bounds", m.pc)
		}
		word := binary.LittleEndian.Uint32(m.bytecode[m.pc:])
		in := isa.Decode(word)

		next := m.pc + 4
		halted, ret, err := m.step(in, &next)
		if err != nil {
			return 0, err
		}
		if halted {
			return ret, nil
		}
		m.pc = next
	}
}

func (m *Machine) reg(i uint32) int64 {
	if i == isa.RegZero {
		return 0
	}
	return m.regs[i]
}

func (m *Machine) setReg(i uint32, v int64) {
	if i == isa.RegZero {
		return
	}
	m.regs[i] = v
}

func (m *Machine) step(in isa.Instr, next *int64) (halted bool, ret int64, err error) {
	switch in.Opcode {
	case isa.OpImm64:
		// IMM64's top bits are the sign-extended immediate, not a real
		// funct7 (that field only exists in R-type/OP64 words) — the
		// compiler never emits a sub/mul/div/rem-immediate form, so always
		// resolve against Funct7Base rather than decode noise that happens
		// to alias Funct7AltSub/Funct7MulDiv for some immediate values.
		m.setReg(in.Rd, aluOp(in.Funct3, isa.Funct7Base, m.reg(in.Rs1), int64(in.ImmI)))
	case isa.OpOp64:
		m.setReg(in.Rd, aluOp(in.Funct3, in.Funct7, m.reg(in.Rs1), m.reg(in.Rs2)))
	case isa.OpLUI:
		m.setReg(in.Rd, int64(in.ImmU))
	case isa.OpAUIPC:
		m.setReg(in.Rd, m.pc+int64(in.ImmU))
	case isa.OpLoad:
		v, e := m.loadMem(m.reg(in.Rs1)+int64(in.ImmI), in.Funct3)
		if e != nil {
			return false, 0, e
		}
		m.setReg(in.Rd, v)
	case isa.OpStore:
		if e := m.storeMem(m.reg(in.Rs1)+int64(in.ImmS), in.Funct3, m.reg(in.Rs2)); e != nil {
			return false, 0, e
		}
	case isa.OpBranch:
		if branchTaken(in.Funct3, m.reg(in.Rs1), m.reg(in.Rs2)) {
			*next = m.pc + int64(in.ImmB)
		}
	case isa.OpJAL:
		m.setReg(in.Rd, m.pc+4)
		*next = m.pc + int64(in.ImmJ)
	case isa.OpSystem:
		return m.system()
	default:
		return false, 0, fmt.Errorf("interp: unrecognized opcode %#x at pc %d", in.Opcode, m.pc)
	}
	return false, 0, nil
}

// system handles the SYSTEM opcode's two syscalls (spec_full.md §4.12.1):
// EXIT halts and returns a0; HOST_CALL dispatches through the host table
// indexed by a0 with args a1..a6, writing the result back into a0.
func (m *Machine) system() (halted bool, ret int64, err error) {
	switch m.regs[isa.RegA7] {
	case isa.SyscallExit:
		return true, m.regs[isa.RegA0], nil
	case isa.SyscallHostCall:
		idx := int(m.regs[isa.RegA0])
		if idx < 0 || idx >= len(m.hosts) || m.hosts[idx] == nil {
			return false, 0, fmt.Errorf("interp: host call index %d has no registered handler", idx)
		}
		var args [6]int64
		for i := range args {
			args[i] = m.regs[isa.RegA0+1+i]
		}
		m.regs[isa.RegA0] = m.hosts[idx](args)
		return false, 0, nil
	default:
		return false, 0, fmt.Errorf("interp: unrecognized syscall %d", m.regs[isa.RegA7])
	}
}

// aluOp evaluates one OP64/IMM64 instruction; funct3 selects the operation
// and funct7 disambiguates add/sub and the mul/div/rem group that shares
// funct3 encodings with add/xor/or (isa.Funct7MulDiv), per isa.go's table.
func aluOp(funct3, funct7 uint32, a, b int64) int64 {
	switch funct3 {
	case isa.F3Add: // also F3Mul under Funct7MulDiv
		switch funct7 {
		case isa.Funct7AltSub:
			return a - b
		case isa.Funct7MulDiv:
			return a * b
		default:
			return a + b
		}
	case isa.F3Sll:
		return a << uint(b&0x3f)
	case isa.F3Slt:
		if a < b {
			return 1
		}
		return 0
	case isa.F3Sltu:
		if uint64(a) < uint64(b) {
			return 1
		}
		return 0
	case isa.F3Xor: // also F3Div under Funct7MulDiv
		if funct7 == isa.Funct7MulDiv {
			if b == 0 {
				return 0
			}
			return a / b
		}
		return a ^ b
	case isa.F3Srl:
		return int64(uint64(a) >> uint(b&0x3f))
	case isa.F3Or: // also F3Rem under Funct7MulDiv
		if funct7 == isa.Funct7MulDiv {
			if b == 0 {
				return 0
			}
			return a % b
		}
		return a | b
	case isa.F3And:
		return a & b
	default:
		return 0
	}
}

func branchTaken(funct3 uint32, a, b int64) bool {
	switch funct3 {
	case isa.F3BranchEq:
		return a == b
	case isa.F3BranchNe:
		return a != b
	case isa.F3BranchLt:
		return a < b
	case isa.F3BranchGe:
		return a >= b
	case isa.F3BranchLtu:
		return uint64(a) < uint64(b)
	case isa.F3BranchGeu:
		return uint64(a) >= uint64(b)
	default:
		return false
	}
}

func (m *Machine) loadMem(addr int64, funct3 uint32) (int64, error) {
	if addr < 0 || addr+8 > int64(len(m.mem)) {
		return 0, fmt.Errorf("interp: load out of bounds at address %d", addr)
	}
	switch funct3 {
	case isa.F3LoadByte:
		return int64(int8(m.mem[addr])), nil
	case isa.F3LoadHalf:
		return int64(int16(binary.LittleEndian.Uint16(m.mem[addr:]))), nil
	case isa.F3LoadWord:
		return int64(int32(binary.LittleEndian.Uint32(m.mem[addr:]))), nil
	default:
		return int64(binary.LittleEndian.Uint64(m.mem[addr:])), nil
	}
}

func (m *Machine) storeMem(addr int64, funct3 uint32, v int64) error {
	if addr < 0 || addr+8 > int64(len(m.mem)) {
		return fmt.Errorf("interp: store out of bounds at address %d", addr)
	}
	switch funct3 {
	case isa.F3StoreByte:
		m.mem[addr] = byte(v)
	case isa.F3StoreHalf:
		binary.LittleEndian.PutUint16(m.mem[addr:], uint16(v))
	case isa.F3StoreWord:
		binary.LittleEndian.PutUint32(m.mem[addr:], uint32(v))
	default:
		binary.LittleEndian.PutUint64(m.mem[addr:], uint64(v))
	}
	return nil
}
