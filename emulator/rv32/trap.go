package rv32

import "strconv"

// Trap is the outcome of a stopped instruction: the RISC-V exception cause
// plus one, so that the zero value means no trap.
type Trap uint32

const (
	TrapNone               Trap = 0
	TrapMisalignedFetch    Trap = 0 + 1
	TrapFetchFault         Trap = 1 + 1
	TrapIllegalInstruction Trap = 2 + 1
	TrapBreakpoint         Trap = 3 + 1
	TrapMisalignedLoad     Trap = 4 + 1
	TrapLoadFault          Trap = 5 + 1
	TrapMisalignedStore    Trap = 6 + 1
	TrapStoreFault         Trap = 7 + 1
	TrapEcallU             Trap = 8 + 1
	TrapEcallM             Trap = 11 + 1
)

// Cause returns the mcause value of t.
func (t Trap) Cause() uint32 {
	return uint32(t) - 1
}

// IsEcall reports whether t is an environment call from any privilege level.
func (t Trap) IsEcall() bool {
	return t == TrapEcallU || t == TrapEcallM
}

func (t Trap) String() string {
	switch t {
	case TrapNone:
		return "none"
	case TrapMisalignedFetch:
		return "instruction address misaligned"
	case TrapFetchFault:
		return "instruction access fault"
	case TrapIllegalInstruction:
		return "illegal instruction"
	case TrapBreakpoint:
		return "breakpoint"
	case TrapMisalignedLoad:
		return "load address misaligned"
	case TrapLoadFault:
		return "load access fault"
	case TrapMisalignedStore:
		return "store/AMO address misaligned"
	case TrapStoreFault:
		return "store/AMO access fault"
	case TrapEcallU:
		return "environment call from U-mode"
	case TrapEcallM:
		return "environment call from M-mode"
	default:
		return "cause " + strconv.FormatUint(uint64(t.Cause()), 10)
	}
}
