// Package task describes statically allocated tasks: their stacks, their
// control blocks, and the descriptor that binds the two to an entry routine
// before it is handed to the kernel.
//
// Nothing here allocates stacks or control blocks. They are declared as
// package-level variables by the application and live for the whole run.
package task

import (
	"errors"
	"fmt"
	"unsafe"
)

// Entry is a task routine. It receives the opaque parameter given at
// registration and must never return.
type Entry func(param unsafe.Pointer)

// Priority of a task. Larger values are more urgent.
type Priority uint8

// MaxPriorities is the number of priority levels. Valid priorities are
// 0 to MaxPriorities-1.
const MaxPriorities = 5

// MaxNameLen is the size of the name field in a control block, terminator
// included, so names keep at most MaxNameLen-1 bytes.
const MaxNameLen = 16

var (
	ErrNoEntry        = errors.New("task: nil entry routine")
	ErrNoStack        = errors.New("task: nil stack buffer")
	ErrStackTooSmall  = errors.New("task: stack smaller than minimal stack size")
	ErrNoControlBlock = errors.New("task: nil control block")
	ErrPriority       = errors.New("task: priority out of range")
	ErrRegistered     = errors.New("task: control block already registered")
)

// State is the run state of a task as the kernel sees it.
type State uint8

const (
	StateUnregistered State = iota
	StateReady
	StateRunning
	StateDelayed
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDelayed:
		return "delayed"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// ControlBlock is the kernel's record of one task. The application only
// provides the storage; after registration the kernel owns every field.
type ControlBlock struct {
	// Next links the block into one kernel list at a time (ready queue or
	// delay list).
	Next *ControlBlock

	State State

	// WakeTick is the tick at which a delayed task becomes ready again.
	WakeTick uint64

	// Context is the saved execution context.
	Context Context

	name     [MaxNameLen]byte
	nameLen  uint8
	priority Priority
	entry    Entry
	param    unsafe.Pointer
	stack    []StackWord
}

// Handle identifies a registered task. It is the address of its control
// block.
type Handle = *ControlBlock

// Init binds d into its control block. Only kernels call this, from their
// task creation routine.
func (cb *ControlBlock) Init(d Descriptor) {
	cb.nameLen = uint8(copy(cb.name[:MaxNameLen-1], d.Name))
	cb.priority = d.Priority
	cb.entry = d.Entry
	cb.param = d.Param
	cb.stack = d.Stack
	cb.Next = nil
	cb.WakeTick = 0
	cb.Context.init()
	cb.State = StateReady
}

// Name returns the task name as stored, which may be truncated.
func (cb *ControlBlock) Name() string {
	return string(cb.name[:cb.nameLen])
}

func (cb *ControlBlock) Priority() Priority {
	return cb.priority
}

func (cb *ControlBlock) Entry() Entry {
	return cb.entry
}

func (cb *ControlBlock) Param() unsafe.Pointer {
	return cb.param
}

// Stack returns the stack buffer bound to this task.
func (cb *ControlBlock) Stack() []StackWord {
	return cb.stack
}

// Registered reports whether a kernel has taken ownership of the block.
func (cb *ControlBlock) Registered() bool {
	return cb.State != StateUnregistered
}

// Context is what a hosted kernel saves for a task that is not running: a
// one-slot semaphore the task's goroutine parks on.
// It is legal to resume a task before it pauses; the next Pause then
// returns immediately.
type Context struct {
	sem chan struct{}
}

func (c *Context) init() {
	c.sem = make(chan struct{}, 1)
}

// Resume lets the paused task continue.
func (c *Context) Resume() {
	c.sem <- struct{}{}
}

// Pause blocks until Resume is called, or until abort is closed. It reports
// whether the task was resumed.
func (c *Context) Pause(abort <-chan struct{}) bool {
	select {
	case <-c.sem:
		return true
	case <-abort:
		return false
	}
}
