// Package kernel defines the scheduler interface the application consumes,
// the hooks the application exposes back to the kernel, and Sim, a
// fixed-priority kernel that runs tasks as goroutines on a host.
package kernel

import (
	"time"
	"unsafe"

	"github.com/ruvm32/ruvm32/src/task"
)

// Scheduler is the task API of the kernel.
type Scheduler interface {
	// CreateStatic creates a task in caller-provided storage and returns its
	// handle, or nil if the kernel refused it.
	CreateStatic(fn task.Entry, name string, stack []task.StackWord, param unsafe.Pointer, priority task.Priority, tcb *task.ControlBlock) task.Handle

	// StartScheduler hands the processor to the highest priority task. It
	// does not return.
	StartScheduler()

	// Yield gives up the rest of the current slot. Another task may run
	// before it returns.
	Yield()
}

// ExtensionHooks are implemented by the application and called by the
// kernel.
type ExtensionHooks interface {
	// SetupTimerInterrupt is called once before the first task runs, to
	// program the tick source.
	SetupTimerInterrupt()

	// StackOverflow is called when a task's stack has run past its bound.
	StackOverflow(h task.Handle, name string)
}

// HookInstaller is implemented by kernels whose hooks are bound at run
// time instead of link time.
type HookInstaller interface {
	SetHooks(h ExtensionHooks)
}

// TickSource is implemented by kernels whose tick can be programmed.
type TickSource interface {
	ConfigureTick(period time.Duration)
}

// Suspender is implemented by kernels that can take a task off the CPU for
// good.
type Suspender interface {
	Suspend(h task.Handle)
}

// Delayer is implemented by kernels that can block a task for a number of
// ticks.
type Delayer interface {
	Delay(ticks uint64)
}
