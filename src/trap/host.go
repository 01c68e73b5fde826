//go:build !tinygo.riscv

package trap

import "sync"

// Host is the trampoline used when tasks run as goroutines on a host. The
// request is built and handed to the handler while holding a lock, so no
// other system call can slip in between filling the request and the
// transfer.
type Host struct {
	mu      sync.Mutex
	handler Handler

	// Fault, if set, receives any error the handler returns. The task that
	// raised the call never sees it.
	Fault func(req Request, err error)
}

// NewHost returns a trampoline delivering to h.
func NewHost(h Handler) *Host {
	return &Host{handler: h}
}

func (t *Host) Syscall(n Number, args ...uint32) {
	t.mu.Lock()
	req := NewRequest(n, args...)
	err := t.handler.HandleSyscall(req)
	t.mu.Unlock()
	if err != nil && t.Fault != nil {
		t.Fault(req, err)
	}
}

// Default returns the trampoline for this target: a Host delivering to h.
func Default(h Handler) Trap {
	return NewHost(h)
}
