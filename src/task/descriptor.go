package task

import (
	"fmt"
	"unsafe"
)

// Descriptor gathers everything needed to create one task. The stack and
// control block must have static storage: they are handed over to the
// kernel and never given back.
type Descriptor struct {
	Entry    Entry
	Name     string
	Stack    []StackWord
	Priority Priority
	Param    unsafe.Pointer
	TCB      *ControlBlock
}

// StackSize returns the stack length in words.
func (d Descriptor) StackSize() int {
	return len(d.Stack)
}

// Validate checks the descriptor before it is submitted to a kernel.
func (d Descriptor) Validate() error {
	switch {
	case d.Entry == nil:
		return fmt.Errorf("%q: %w", d.Name, ErrNoEntry)
	case d.Stack == nil:
		return fmt.Errorf("%q: %w", d.Name, ErrNoStack)
	case len(d.Stack) < MinimalStackSize:
		return fmt.Errorf("%q: %w (%d < %d words)", d.Name, ErrStackTooSmall, len(d.Stack), MinimalStackSize)
	case d.TCB == nil:
		return fmt.Errorf("%q: %w", d.Name, ErrNoControlBlock)
	case d.Priority >= MaxPriorities:
		return fmt.Errorf("%q: %w (%d >= %d)", d.Name, ErrPriority, d.Priority, MaxPriorities)
	case d.TCB.Registered():
		return fmt.Errorf("%q: %w", d.Name, ErrRegistered)
	}
	return nil
}
