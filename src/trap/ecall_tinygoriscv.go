//go:build tinygo.riscv

package trap

import "device/riscv"

// ecall raises system calls with the RISC-V ecall instruction. Register
// setup and the trap are one asm statement so nothing can be scheduled
// between them.
type ecall struct{}

func (ecall) Syscall(n Number, args ...uint32) {
	req := NewRequest(n, args...)
	riscv.AsmFull(`
		mv a0, {a0}
		mv a1, {a1}
		mv a2, {a2}
		mv a3, {a3}
		mv a4, {a4}
		mv a5, {a5}
		mv a7, {id}
		ecall
	`, map[string]interface{}{
		"id": uint32(req.Number),
		"a0": req.Args[0],
		"a1": req.Args[1],
		"a2": req.Args[2],
		"a3": req.Args[3],
		"a4": req.Args[4],
		"a5": req.Args[5],
	})
}

// Default returns the trampoline for this target. On hardware the handler is
// whatever mtvec points at, so h is ignored.
func Default(h Handler) Trap {
	return ecall{}
}
