// Package harness is the demonstration application: a fixed set of
// statically allocated tasks that each raise a system call and yield, the
// two hooks the kernel calls back into, and the entry point that registers
// everything and starts the scheduler.
package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruvm32/ruvm32/src/kernel"
	"github.com/ruvm32/ruvm32/src/task"
	"github.com/ruvm32/ruvm32/src/trap"
)

// TimerMode selects what the timer setup hook does.
type TimerMode uint8

const (
	// TimerPeriodic programs the kernel tick at Options.TickPeriod.
	TimerPeriodic TimerMode = iota
	// TimerTrap raises the timer setup system call and lets the host decide.
	TimerTrap
	// TimerNone leaves the tick unconfigured.
	TimerNone
)

func (m TimerMode) String() string {
	switch m {
	case TimerPeriodic:
		return "periodic"
	case TimerTrap:
		return "trap"
	case TimerNone:
		return "none"
	}
	return fmt.Sprintf("TimerMode(%d)", uint8(m))
}

// ParseTimerMode parses the String form of a TimerMode.
func ParseTimerMode(s string) (TimerMode, error) {
	for _, m := range []TimerMode{TimerPeriodic, TimerTrap, TimerNone} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("harness: unknown timer mode %q", s)
}

// OverflowMode selects what the stack overflow hook does.
type OverflowMode uint8

const (
	// OverflowNotify logs the overflow and returns.
	OverflowNotify OverflowMode = iota
	// OverflowHalt logs, raises Halt and takes the task off the CPU for good.
	OverflowHalt
)

func (m OverflowMode) String() string {
	switch m {
	case OverflowNotify:
		return "notify"
	case OverflowHalt:
		return "halt"
	}
	return fmt.Sprintf("OverflowMode(%d)", uint8(m))
}

// ParseOverflowMode parses the String form of an OverflowMode.
func ParseOverflowMode(s string) (OverflowMode, error) {
	for _, m := range []OverflowMode{OverflowNotify, OverflowHalt} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("harness: unknown overflow mode %q", s)
}

// DefaultTickPeriod is a 1 kHz tick.
const DefaultTickPeriod = time.Millisecond

type Options struct {
	Timer      TimerMode
	TickPeriod time.Duration
	Overflow   OverflowMode
	Logger     zerolog.Logger
}

// ErrRefused is returned when the kernel does not accept a task.
var ErrRefused = errors.New("harness: kernel refused task")

// Harness binds the tasks to a kernel and a trap.
type Harness struct {
	kernel kernel.Scheduler
	trap   trap.Trap
	opts   Options
	mem    *storage
	log    zerolog.Logger
}

// New returns the harness for k. Task storage is the program's static
// storage, so only one harness per program can register. If k takes its
// hooks at run time they are installed here.
func New(k kernel.Scheduler, t trap.Trap, opts Options) *Harness {
	return newHarness(k, t, opts, &static)
}

func newHarness(k kernel.Scheduler, t trap.Trap, opts Options, mem *storage) *Harness {
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = DefaultTickPeriod
	}
	h := &Harness{
		kernel: k,
		trap:   t,
		opts:   opts,
		mem:    mem,
		log:    opts.Logger.With().Str("component", "harness").Logger(),
	}
	if hi, ok := k.(kernel.HookInstaller); ok {
		hi.SetHooks(h)
	}
	return h
}

var _ kernel.ExtensionHooks = (*Harness)(nil)

// Declarations returns the descriptors of every task, in declaration
// order, without priorities.
func (h *Harness) Declarations() []task.Descriptor {
	return h.mem.declarations(h)
}

// Priority returns the priority given to the i-th declared task: the first
// gets the highest level and each later one is one level lower.
func Priority(i int) task.Priority {
	return task.Priority(task.MaxPriorities - 1 - i)
}
