// Package rv32 implements an RV32IMA hart with machine mode CSRs.
//
// Memory accesses inside the RAM window go straight to the backing slice.
// Everything else is handed to a Bus. A trap stops execution with the
// program counter left on the trapping instruction; it is up to the host to
// handle it and move on.
package rv32

import (
	"encoding/binary"

	"github.com/ruvm32/ruvm32/src/machine"
)

// Registers by ABI name.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
)

var RegNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// Machine mode CSR numbers.
const (
	CSRMstatus   = 0x300
	CSRMisa      = 0x301
	CSRMie       = 0x304
	CSRMtvec     = 0x305
	CSRMscratch  = 0x340
	CSRMepc      = 0x341
	CSRMcause    = 0x342
	CSRMtval     = 0x343
	CSRMip       = 0x344
	CSRMcycle    = 0xb00
	CSRMcycleh   = 0xb80
	CSRCycle     = 0xc00
	CSRCycleh    = 0xc80
	CSRMvendorid = 0xf11
	CSRMhartid   = 0xf14
)

const (
	misa      = 0x40401101 // RV32, A, I, M, X
	mvendorid = 0xff0ff0ff

	privMachine = 3
)

// Bus serves accesses outside RAM. Size is 1, 2 or 4 bytes. Returning false
// raises an access fault.
type Bus interface {
	Load(addr uint32, size uint32) (uint32, bool)
	Store(addr uint32, size uint32, val uint32) bool
}

// CPU is a single hart.
type CPU struct {
	Regs [32]uint32
	PC   uint32

	mstatus  uint32
	mscratch uint32
	mtvec    uint32
	mie      uint32
	mip      uint32
	mepc     uint32
	mtval    uint32
	mcause   uint32
	cycle    uint64

	privilege   uint8
	waiting     bool
	stopping    bool
	reserved    bool
	reservation uint32

	ram  []byte
	base uint32
	bus  Bus
}

// New returns a hart over ram, which is mapped at base. bus may be nil.
func New(ram []byte, base uint32, bus Bus) *CPU {
	c := &CPU{ram: ram, base: base, bus: bus}
	c.Reset()
	return c
}

// Reset puts the hart in machine mode at the start of RAM, with the stack
// pointer at the top of RAM and a0 holding the hart id.
func (c *CPU) Reset() {
	*c = CPU{ram: c.ram, base: c.base, bus: c.bus}
	c.PC = c.base
	c.Regs[RegSP] = machine.StackTop(c.base, uint32(len(c.ram)))
	c.privilege = privMachine
}

// Cycles returns the number of instructions attempted since reset.
func (c *CPU) Cycles() uint64 {
	return c.cycle
}

// Waiting reports whether the hart is stopped on WFI.
func (c *CPU) Waiting() bool {
	return c.waiting
}

// Wake resumes a hart stopped on WFI.
func (c *CPU) Wake() {
	c.waiting = false
}

// Stop makes the running Step return after the current instruction. Bus
// devices call it when a store ends the run.
func (c *CPU) Stop() {
	c.stopping = true
}

// TrapValue returns the faulting address or instruction of the last trap.
func (c *CPU) TrapValue() uint32 {
	return c.mtval
}

// CSR reads a CSR the way the csrr instruction does.
func (c *CPU) CSR(n uint32) (uint32, bool) {
	return c.readCSR(n)
}

// Step runs up to count instructions. It returns the number of instructions
// retired and the trap that stopped it, if any. It also stops early, with no
// trap, when the hart executes WFI or a device calls Stop.
func (c *CPU) Step(count int) (int, Trap) {
	for i := 0; i < count; i++ {
		if c.waiting {
			return i, TrapNone
		}
		t := c.exec()
		c.cycle++
		if t != TrapNone {
			return i, t
		}
		if c.stopping {
			c.stopping = false
			return i + 1, TrapNone
		}
	}
	return count, TrapNone
}

func signExtend(v uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(v<<shift) >> shift)
}

func (c *CPU) exec() Trap {
	pc := c.PC
	if pc&3 != 0 {
		c.mtval = pc
		return TrapMisalignedFetch
	}
	off := pc - c.base
	if uint64(off)+4 > uint64(len(c.ram)) {
		c.mtval = pc
		return TrapFetchFault
	}
	ir := binary.LittleEndian.Uint32(c.ram[off:])

	rd := (ir >> 7) & 0x1f
	funct3 := (ir >> 12) & 7
	rs1 := c.Regs[(ir>>15)&0x1f]
	rs2 := c.Regs[(ir>>20)&0x1f]
	next := pc + 4
	var rval uint32

	switch ir & 0x7f {
	case 0x37: // LUI
		rval = ir & 0xfffff000

	case 0x17: // AUIPC
		rval = pc + ir&0xfffff000

	case 0x6f: // JAL
		imm := (ir&0x80000000)>>11 | (ir&0x7fe00000)>>20 | (ir&0x00100000)>>9 | ir&0x000ff000
		rval = pc + 4
		next = pc + signExtend(imm, 21)

	case 0x67: // JALR
		rval = pc + 4
		next = (rs1 + signExtend(ir>>20, 12)) &^ 1

	case 0x63: // Branch
		imm := (ir&0xf00)>>7 | (ir&0x7e000000)>>20 | (ir&0x80)<<4 | (ir>>31)<<12
		var taken bool
		switch funct3 {
		case 0:
			taken = rs1 == rs2
		case 1:
			taken = rs1 != rs2
		case 4:
			taken = int32(rs1) < int32(rs2)
		case 5:
			taken = int32(rs1) >= int32(rs2)
		case 6:
			taken = rs1 < rs2
		case 7:
			taken = rs1 >= rs2
		default:
			return c.illegal(ir)
		}
		if taken {
			next = pc + signExtend(imm, 13)
		}
		rd = 0

	case 0x03: // Load
		addr := rs1 + signExtend(ir>>20, 12)
		var size uint32
		switch funct3 {
		case 0, 4:
			size = 1
		case 1, 5:
			size = 2
		case 2:
			size = 4
		default:
			return c.illegal(ir)
		}
		v, ok := c.load(addr, size)
		if !ok {
			c.mtval = addr
			return TrapLoadFault
		}
		switch funct3 {
		case 0:
			v = signExtend(v, 8)
		case 1:
			v = signExtend(v, 16)
		}
		rval = v

	case 0x23: // Store
		imm := (ir>>7)&0x1f | (ir&0xfe000000)>>20
		addr := rs1 + signExtend(imm, 12)
		var size uint32
		switch funct3 {
		case 0:
			size = 1
		case 1:
			size = 2
		case 2:
			size = 4
		default:
			return c.illegal(ir)
		}
		if !c.store(addr, size, rs2) {
			c.mtval = addr
			return TrapStoreFault
		}
		rd = 0

	case 0x13, 0x33: // Op-immediate, Op
		isReg := ir&0x20 != 0
		op2 := signExtend(ir>>20, 12)
		if isReg {
			op2 = rs2
		}
		if isReg && ir&0x02000000 != 0 {
			rval = mulDiv(funct3, rs1, rs2)
			break
		}
		switch funct3 {
		case 0:
			if isReg && ir&0x40000000 != 0 {
				rval = rs1 - op2
			} else {
				rval = rs1 + op2
			}
		case 1:
			rval = rs1 << (op2 & 0x1f)
		case 2:
			rval = boolWord(int32(rs1) < int32(op2))
		case 3:
			rval = boolWord(rs1 < op2)
		case 4:
			rval = rs1 ^ op2
		case 5:
			if ir&0x40000000 != 0 {
				rval = uint32(int32(rs1) >> (op2 & 0x1f))
			} else {
				rval = rs1 >> (op2 & 0x1f)
			}
		case 6:
			rval = rs1 | op2
		case 7:
			rval = rs1 & op2
		}

	case 0x0f: // FENCE, FENCE.I
		rd = 0

	case 0x73: // SYSTEM
		csrno := ir >> 20
		if funct3&3 != 0 {
			old, ok := c.readCSR(csrno)
			if !ok {
				return c.illegal(ir)
			}
			src := rs1
			if funct3&4 != 0 {
				src = (ir >> 15) & 0x1f
			}
			switch funct3 & 3 {
			case 1:
				c.writeCSR(csrno, src)
			case 2:
				c.writeCSR(csrno, old|src)
			case 3:
				c.writeCSR(csrno, old&^src)
			}
			rval = old
			break
		}
		if funct3 != 0 {
			return c.illegal(ir)
		}
		rd = 0
		switch csrno {
		case 0x000: // ECALL
			if c.privilege == privMachine {
				return TrapEcallM
			}
			return TrapEcallU
		case 0x001: // EBREAK
			c.mtval = pc
			return TrapBreakpoint
		case 0x302: // MRET
			status := c.mstatus
			c.mstatus = (status&0x80)>>4 | uint32(c.privilege)<<11 | 0x80
			c.privilege = uint8((status >> 11) & 3)
			next = c.mepc
		case 0x105: // WFI
			c.mstatus |= 8
			c.waiting = true
		default:
			return c.illegal(ir)
		}

	case 0x2f: // Atomics
		if funct3 != 2 {
			return c.illegal(ir)
		}
		v, trap := c.atomic(ir, rs1, rs2)
		if trap != TrapNone {
			return trap
		}
		rval = v

	default:
		return c.illegal(ir)
	}

	if rd != 0 {
		c.Regs[rd] = rval
	}
	c.PC = next
	return TrapNone
}

func (c *CPU) illegal(ir uint32) Trap {
	c.mtval = ir
	return TrapIllegalInstruction
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// mulDiv implements the M extension. Division by zero and signed overflow
// give the results the ISA defines instead of trapping.
func mulDiv(funct3, rs1, rs2 uint32) uint32 {
	switch funct3 {
	case 0: // MUL
		return rs1 * rs2
	case 1: // MULH
		return uint32(uint64(int64(int32(rs1))*int64(int32(rs2))) >> 32)
	case 2: // MULHSU
		return uint32(uint64(int64(int32(rs1))*int64(rs2)) >> 32)
	case 3: // MULHU
		return uint32(uint64(rs1) * uint64(rs2) >> 32)
	case 4: // DIV
		switch {
		case rs2 == 0:
			return 0xffffffff
		case rs1 == 0x80000000 && rs2 == 0xffffffff:
			return rs1
		}
		return uint32(int32(rs1) / int32(rs2))
	case 5: // DIVU
		if rs2 == 0 {
			return 0xffffffff
		}
		return rs1 / rs2
	case 6: // REM
		switch {
		case rs2 == 0:
			return rs1
		case rs1 == 0x80000000 && rs2 == 0xffffffff:
			return 0
		}
		return uint32(int32(rs1) % int32(rs2))
	default: // REMU
		if rs2 == 0 {
			return rs1
		}
		return rs1 % rs2
	}
}

func (c *CPU) atomic(ir, addr, rs2 uint32) (uint32, Trap) {
	funct5 := ir >> 27
	switch funct5 {
	case 0x02: // LR.W
		v, ok := c.load(addr, 4)
		if !ok {
			c.mtval = addr
			return 0, TrapLoadFault
		}
		c.reserved = true
		c.reservation = addr
		return v, TrapNone
	case 0x03: // SC.W
		held := c.reserved && c.reservation == addr
		c.reserved = false
		if !held {
			return 1, TrapNone
		}
		if !c.store(addr, 4, rs2) {
			c.mtval = addr
			return 0, TrapStoreFault
		}
		return 0, TrapNone
	}

	old, ok := c.load(addr, 4)
	if !ok {
		c.mtval = addr
		return 0, TrapStoreFault
	}
	var v uint32
	switch funct5 {
	case 0x00: // AMOADD.W
		v = old + rs2
	case 0x01: // AMOSWAP.W
		v = rs2
	case 0x04: // AMOXOR.W
		v = old ^ rs2
	case 0x08: // AMOOR.W
		v = old | rs2
	case 0x0c: // AMOAND.W
		v = old & rs2
	case 0x10: // AMOMIN.W
		v = old
		if int32(rs2) < int32(old) {
			v = rs2
		}
	case 0x14: // AMOMAX.W
		v = old
		if int32(rs2) > int32(old) {
			v = rs2
		}
	case 0x18: // AMOMINU.W
		v = min(old, rs2)
	case 0x1c: // AMOMAXU.W
		v = max(old, rs2)
	default:
		return 0, c.illegal(ir)
	}
	if !c.store(addr, 4, v) {
		c.mtval = addr
		return 0, TrapStoreFault
	}
	return old, TrapNone
}

func (c *CPU) load(addr, size uint32) (uint32, bool) {
	off := addr - c.base
	if uint64(off)+uint64(size) <= uint64(len(c.ram)) {
		switch size {
		case 1:
			return uint32(c.ram[off]), true
		case 2:
			return uint32(binary.LittleEndian.Uint16(c.ram[off:])), true
		default:
			return binary.LittleEndian.Uint32(c.ram[off:]), true
		}
	}
	if c.bus != nil {
		return c.bus.Load(addr, size)
	}
	return 0, false
}

func (c *CPU) store(addr, size, val uint32) bool {
	off := addr - c.base
	if uint64(off)+uint64(size) <= uint64(len(c.ram)) {
		switch size {
		case 1:
			c.ram[off] = byte(val)
		case 2:
			binary.LittleEndian.PutUint16(c.ram[off:], uint16(val))
		default:
			binary.LittleEndian.PutUint32(c.ram[off:], val)
		}
		if c.reserved && c.reservation>>2 == addr>>2 {
			c.reserved = false
		}
		return true
	}
	if c.bus != nil {
		return c.bus.Store(addr, size, val)
	}
	return false
}

func (c *CPU) readCSR(n uint32) (uint32, bool) {
	switch n {
	case CSRMstatus:
		return c.mstatus, true
	case CSRMisa:
		return misa, true
	case CSRMie:
		return c.mie, true
	case CSRMtvec:
		return c.mtvec, true
	case CSRMscratch:
		return c.mscratch, true
	case CSRMepc:
		return c.mepc, true
	case CSRMcause:
		return c.mcause, true
	case CSRMtval:
		return c.mtval, true
	case CSRMip:
		return c.mip, true
	case CSRMcycle, CSRCycle:
		return uint32(c.cycle), true
	case CSRMcycleh, CSRCycleh:
		return uint32(c.cycle >> 32), true
	case CSRMvendorid:
		return mvendorid, true
	case CSRMhartid:
		return 0, true
	}
	return 0, false
}

// writeCSR ignores writes to read-only CSRs.
func (c *CPU) writeCSR(n, v uint32) {
	switch n {
	case CSRMstatus:
		c.mstatus = v
	case CSRMie:
		c.mie = v
	case CSRMtvec:
		c.mtvec = v
	case CSRMscratch:
		c.mscratch = v
	case CSRMepc:
		c.mepc = v
	case CSRMcause:
		c.mcause = v
	case CSRMtval:
		c.mtval = v
	case CSRMip:
		c.mip = v
	}
}
