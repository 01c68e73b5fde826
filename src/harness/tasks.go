package harness

import (
	"unsafe"

	"github.com/ruvm32/ruvm32/src/task"
	"github.com/ruvm32/ruvm32/src/trap"
)

// storage holds the stacks and control blocks of every declared task.
type storage struct {
	exampleTCB   task.ControlBlock
	exampleStack task.Stack

	example2TCB   task.ControlBlock
	example2Stack task.Stack
}

var static storage

func (m *storage) declarations(h *Harness) []task.Descriptor {
	return []task.Descriptor{
		{
			Entry: h.exampleTask,
			Name:  "example",
			Stack: m.exampleStack.Slice(),
			TCB:   &m.exampleTCB,
		},
		{
			Entry: h.exampleTask2,
			Name:  "example2",
			Stack: m.example2Stack.Slice(),
			TCB:   &m.example2TCB,
		},
	}
}

func (h *Harness) exampleTask(unsafe.Pointer) {
	for {
		h.trap.Syscall(trap.Tick1)
		h.kernel.Yield()
	}
}

func (h *Harness) exampleTask2(unsafe.Pointer) {
	for {
		h.trap.Syscall(trap.Tick2)
		h.kernel.Yield()
	}
}
