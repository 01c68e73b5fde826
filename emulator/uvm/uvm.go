// Package uvm runs a target image on an RV32IMA hart and serves its
// environment calls from the host.
//
// The guest passes the syscall number in a7 and up to six arguments in
// a0-a5. Every call is handed to a trap.Handler; the program counter then
// moves past the ecall. The halt syscall, or a write to the test finisher,
// ends the run.
package uvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/ruvm32/ruvm32/emulator/rv32"
	"github.com/ruvm32/ruvm32/src/machine"
	"github.com/ruvm32/ruvm32/src/mem"
	"github.com/ruvm32/ruvm32/src/trap"
)

var (
	ErrImageTooLarge = errors.New("uvm: image does not fit in RAM")
	ErrStepLimit     = errors.New("uvm: step limit reached")
	ErrWaiting       = errors.New("uvm: hart waits for an interrupt that cannot arrive")
	ErrBadAddress    = errors.New("uvm: address outside RAM")
)

// DefaultBatch is the number of instructions run between context checks.
const DefaultBatch = 4096

// Fault is returned when the guest raises an exception other than an
// environment call.
type Fault struct {
	Trap  rv32.Trap
	PC    uint32
	Value uint32 // mtval
	Steps uint64
	Regs  [32]uint32
}

func (f *Fault) Error() string {
	return fmt.Sprintf("uvm: %s at pc=%08x, mtval=%08x", f.Trap, f.PC, f.Value)
}

// ExitError is returned when the guest ends the run. Code is zero for the
// halt syscall and for a passing test finisher write.
type ExitError struct {
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("uvm: exit code %d", e.Code)
}

// Config describes the machine. Zero fields take their defaults.
type Config struct {
	RAMBase  uint32
	RAMSize  uint32
	MaxSteps uint64 // zero means no limit
	Batch    int
}

// VM is a single hart with RAM, a UART and a test finisher.
type VM struct {
	cpu     *rv32.CPU
	ram     []byte
	cfg     Config
	handler trap.Handler
	uart    io.Writer
	exit    *ExitError
	steps   uint64

	// Trace, when set, receives the address of every executed instruction.
	Trace io.Writer

	Logger zerolog.Logger
}

// New returns a VM with empty RAM. UART output goes to uart, which may be
// nil.
func New(cfg Config, h trap.Handler, uart io.Writer, logger zerolog.Logger) (*VM, error) {
	if cfg.RAMBase == 0 {
		cfg.RAMBase = machine.RAMBase
	}
	if cfg.RAMSize == 0 {
		cfg.RAMSize = machine.DefaultRAMSize
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	if err := machine.CheckRAM(cfg.RAMBase, cfg.RAMSize); err != nil {
		return nil, err
	}
	if uart == nil {
		uart = io.Discard
	}
	vm := &VM{
		ram:     make([]byte, cfg.RAMSize),
		cfg:     cfg,
		handler: h,
		uart:    uart,
		Logger:  logger,
	}
	vm.cpu = rv32.New(vm.ram, cfg.RAMBase, devices{vm})
	return vm, nil
}

// Load clears RAM, copies image to the start of it and resets the hart.
func (vm *VM) Load(image []byte) error {
	if len(image) > len(vm.ram) {
		return fmt.Errorf("%w: %d bytes, RAM is %d bytes", ErrImageTooLarge, len(image), len(vm.ram))
	}
	mem.Zero(unsafe.Pointer(&vm.ram[0]), uintptr(len(vm.ram)))
	if len(image) > 0 {
		mem.Copy(unsafe.Pointer(&vm.ram[0]), unsafe.Pointer(&image[0]), uintptr(len(image)))
	}
	vm.Reset()
	vm.Logger.Debug().Int("bytes", len(image)).Msg("image loaded")
	return nil
}

// Reset restarts the hart without touching RAM.
func (vm *VM) Reset() {
	vm.cpu.Reset()
	vm.exit = nil
	vm.steps = 0
}

// CPU returns the hart.
func (vm *VM) CPU() *rv32.CPU {
	return vm.cpu
}

// Steps returns the number of instructions executed since the last reset.
func (vm *VM) Steps() uint64 {
	return vm.steps
}

// ReadMemory returns a copy of n bytes of RAM at addr.
func (vm *VM) ReadMemory(addr, n uint32) ([]byte, error) {
	off := uint64(addr) - uint64(vm.cfg.RAMBase)
	if addr < vm.cfg.RAMBase || off+uint64(n) > uint64(len(vm.ram)) {
		return nil, fmt.Errorf("%w: %#08x+%d", ErrBadAddress, addr, n)
	}
	return append([]byte(nil), vm.ram[off:off+uint64(n)]...), nil
}

// Run executes the loaded image until the guest halts, faults, hits the
// step limit, or ctx is done. A halt or passing finisher returns nil.
func (vm *VM) Run(ctx context.Context) error {
	vm.Logger.Info().
		Str("base", fmt.Sprintf("%#08x", vm.cfg.RAMBase)).
		Uint32("ram", vm.cfg.RAMSize).
		Msg("run")
	err := vm.run(ctx)
	var exit *ExitError
	if errors.As(err, &exit) && exit.Code == 0 {
		vm.Logger.Info().Uint64("steps", vm.steps).Msg("halted")
		return nil
	}
	return err
}

func (vm *VM) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := vm.cfg.Batch
		if vm.cfg.MaxSteps > 0 {
			if vm.steps >= vm.cfg.MaxSteps {
				return fmt.Errorf("%w after %d instructions", ErrStepLimit, vm.steps)
			}
			if left := vm.cfg.MaxSteps - vm.steps; left < uint64(n) {
				n = int(left)
			}
		}
		if err := vm.Step(n); err != nil {
			return err
		}
	}
}

// Step executes up to n instructions, serving environment calls as they
// come.
func (vm *VM) Step(n int) error {
	for n > 0 {
		if vm.exit != nil {
			return vm.exit
		}
		batch := n
		if vm.Trace != nil {
			batch = 1
			if _, err := fmt.Fprintf(vm.Trace, "%08x\n", vm.cpu.PC); err != nil {
				return fmt.Errorf("uvm: trace: %w", err)
			}
		}

		done, t := vm.cpu.Step(batch)
		vm.steps += uint64(done)
		n -= done
		if vm.exit != nil {
			return vm.exit
		}
		switch {
		case t.IsEcall():
			vm.steps++
			n--
			if err := vm.ecall(); err != nil {
				return err
			}
		case t != rv32.TrapNone:
			return &Fault{Trap: t, PC: vm.cpu.PC, Value: vm.cpu.TrapValue(), Steps: vm.steps, Regs: vm.cpu.Regs}
		case vm.cpu.Waiting():
			return ErrWaiting
		}
	}
	return nil
}

func (vm *VM) ecall() error {
	r := &vm.cpu.Regs
	req := trap.NewRequest(trap.Number(r[rv32.RegA7]),
		r[rv32.RegA0], r[rv32.RegA1], r[rv32.RegA2], r[rv32.RegA3], r[rv32.RegA4], r[rv32.RegA5])
	pc := vm.cpu.PC
	vm.cpu.PC += 4

	err := vm.handler.HandleSyscall(req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, trap.ErrHalt):
		vm.exit = &ExitError{}
		return vm.exit
	default:
		return fmt.Errorf("uvm: ecall at pc=%08x: %w", pc, err)
	}
}

// finish handles a test finisher write.
func (vm *VM) finish(val uint32) {
	switch val & 0xffff {
	case machine.FinisherPass:
		vm.exit = &ExitError{}
	case machine.FinisherFail:
		vm.exit = &ExitError{Code: val >> 16}
	default:
		vm.Logger.Warn().Uint32("value", val).Msg("unknown test finisher command")
		return
	}
	vm.cpu.Stop()
}

// devices is the bus behind everything outside RAM.
type devices struct {
	vm *VM
}

func (d devices) Load(addr, size uint32) (uint32, bool) {
	switch {
	case addr == machine.UART0LineStatus:
		return machine.UARTLineIdle, true
	case addr == machine.TestFinisher, machine.InMMIO(addr):
		return 0, true
	}
	return 0, false
}

func (d devices) Store(addr, size, val uint32) bool {
	switch {
	case addr == machine.UART0:
		if _, err := d.vm.uart.Write([]byte{byte(val)}); err != nil {
			d.vm.Logger.Warn().Err(err).Msg("uart write")
		}
		return true
	case addr == machine.TestFinisher:
		d.vm.finish(val)
		return true
	case machine.InMMIO(addr):
		return true
	}
	return false
}
