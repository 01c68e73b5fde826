// Package machine describes the emulated RV32 target: its memory map and
// the memory-mapped devices the host provides.
package machine

import "errors"

var (
	ErrRAMSize     = errors.New("machine: RAM size must be a non-zero multiple of 4")
	ErrRAMTooLarge = errors.New("machine: RAM does not fit in the address space")
)

// Memory map. RAM holds the loaded image at its base address; everything
// outside RAM is routed to the device bus.
const (
	RAMBase        = 0x80000000
	DefaultRAMSize = 64 * 1024
	MaxRAMSize     = 16 * 1024 * 1024

	// NS16550 compatible UART. Only the transmit holding register and the
	// line status register are implemented.
	UART0           = 0x10000000
	UART0LineStatus = UART0 + 5

	// Line status: transmitter empty and holding register empty.
	UARTLineIdle = 0x60

	// SiFive test finisher. Writing FinisherPass ends the run, writing
	// code<<16 | FinisherFail ends it with an exit code.
	TestFinisher = 0x100000
	FinisherPass = 0x5555
	FinisherFail = 0x3333

	MMIOStart = 0x10000000
	MMIOEnd   = 0x12000000
)

// InMMIO reports whether addr falls in the peripheral window.
func InMMIO(addr uint32) bool {
	return addr >= MMIOStart && addr < MMIOEnd
}

// CheckRAM validates a RAM layout.
func CheckRAM(base, size uint32) error {
	if size == 0 || size%4 != 0 {
		return ErrRAMSize
	}
	if size > MaxRAMSize || uint64(base)+uint64(size) > 1<<32 {
		return ErrRAMTooLarge
	}
	return nil
}

// StackTop returns the initial stack pointer for a RAM layout: the top of
// RAM, 16-byte aligned, with 16 bytes reserved.
func StackTop(base, size uint32) uint32 {
	return ((base + size) &^ 0xf) - 16
}
