package harness

import (
	"fmt"

	"github.com/ruvm32/ruvm32/src/task"
)

// Register creates every declared task in the kernel, highest priority
// first. It stops at the first task that fails validation or that the
// kernel refuses, and returns the handles created so far.
func (h *Harness) Register() ([]task.Handle, error) {
	decls := h.Declarations()
	if len(decls) > task.MaxPriorities {
		return nil, fmt.Errorf("harness: %d tasks but only %d priority levels", len(decls), task.MaxPriorities)
	}
	handles := make([]task.Handle, 0, len(decls))
	for i, d := range decls {
		d.Priority = Priority(i)
		if err := d.Validate(); err != nil {
			return handles, fmt.Errorf("harness: %w", err)
		}
		th := h.kernel.CreateStatic(d.Entry, d.Name, d.Stack, d.Param, d.Priority, d.TCB)
		if th == nil {
			return handles, fmt.Errorf("%w %q", ErrRefused, d.Name)
		}
		h.log.Info().Str("task", d.Name).Uint8("priority", uint8(d.Priority)).Int("stack", d.StackSize()).Msg("registered")
		handles = append(handles, th)
	}
	return handles, nil
}

// Main registers every task and hands the processor to the scheduler. It
// never returns.
func (h *Harness) Main() {
	if _, err := h.Register(); err != nil {
		panic(err)
	}
	h.kernel.StartScheduler()

	for {
		// Not reached: StartScheduler does not return.
	}
}
