// Package trap is the bridge between unprivileged task code and the
// privileged system-call handler.
//
// A task raises a system call through the Trap interface. How the identifier
// and arguments reach the handler depends on the target: on RISC-V the
// identifier goes in a7, arguments in a0 and up, followed by an ecall
// instruction. Hosted builds deliver the same Request to a Go Handler.
package trap

import (
	"errors"
	"fmt"
)

// Number is a system call identifier, as placed in a7.
type Number uint32

// System calls understood by the host.
const (
	Tick1             Number = 64
	Tick2             Number = 65
	ExternalInterrupt Number = 66
	TimerSetup        Number = 67
	Halt              Number = 0x1000000
)

func (n Number) String() string {
	switch n {
	case Tick1:
		return "tick1"
	case Tick2:
		return "tick2"
	case ExternalInterrupt:
		return "external-interrupt"
	case TimerSetup:
		return "timer-setup"
	case Halt:
		return "halt"
	}
	return fmt.Sprintf("syscall(%#x)", uint32(n))
}

// MaxArgs is the number of argument registers (a0 to a5) a system call can
// carry.
const MaxArgs = 6

var (
	ErrHalt           = errors.New("trap: halt requested")
	ErrUnknownSyscall = errors.New("trap: unknown syscall")
)

// Request is a single system call in flight. It only exists between the
// moment the trampoline fills it and the moment the handler has consumed it.
type Request struct {
	Number Number
	Args   [MaxArgs]uint32
	NArgs  int
}

// NewRequest packs n and args the way the calling convention does. It panics
// when more than MaxArgs arguments are given: there is no register for them.
func NewRequest(n Number, args ...uint32) Request {
	if len(args) > MaxArgs {
		panic("trap: too many syscall arguments")
	}
	req := Request{Number: n, NArgs: len(args)}
	copy(req.Args[:], args)
	return req
}

// Arg returns argument i, or zero if it was not passed.
func (r Request) Arg(i int) uint32 {
	if i < 0 || i >= r.NArgs {
		return 0
	}
	return r.Args[i]
}

// Trap raises system calls. Syscall places n and args in the positions the
// target convention requires and transfers to the privileged handler. It
// returns once the handler is done; no result is read back.
type Trap interface {
	Syscall(n Number, args ...uint32)
}

// Handler is the privileged side of a system call.
type Handler interface {
	HandleSyscall(req Request) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req Request) error

func (f HandlerFunc) HandleSyscall(req Request) error {
	return f(req)
}
