package harness

import (
	"github.com/ruvm32/ruvm32/src/kernel"
	"github.com/ruvm32/ruvm32/src/task"
	"github.com/ruvm32/ruvm32/src/trap"
)

// SetupTimerInterrupt is called by the kernel before the first task runs.
// It has no way to report failure; a kernel without a programmable tick
// just runs without one.
func (h *Harness) SetupTimerInterrupt() {
	switch h.opts.Timer {
	case TimerPeriodic:
		ts, ok := h.kernel.(kernel.TickSource)
		if !ok {
			h.log.Warn().Msg("kernel has no programmable tick")
			return
		}
		ts.ConfigureTick(h.opts.TickPeriod)
		h.log.Debug().Dur("period", h.opts.TickPeriod).Msg("tick configured")
	case TimerTrap:
		h.trap.Syscall(trap.TimerSetup)
	case TimerNone:
	}
}

// StackOverflow is called by the kernel when a task has run past the bottom
// of its stack. In OverflowHalt mode the machine is halted and the task
// never runs again; the hook only returns so the kernel can unwind.
func (h *Harness) StackOverflow(t task.Handle, name string) {
	h.log.Error().Str("task", name).Msg("stack overflow")
	if h.opts.Overflow != OverflowHalt {
		return
	}
	h.trap.Syscall(trap.Halt)
	if s, ok := h.kernel.(kernel.Suspender); ok && t != nil {
		s.Suspend(t)
	}
}
