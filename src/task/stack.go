package task

import (
	"unsafe"

	"github.com/ruvm32/ruvm32/src/mem"
)

// StackWord is one slot of a task stack on a 32-bit target.
type StackWord uint32

// MinimalStackSize is the smallest stack, in words, a task may be created
// with.
const MinimalStackSize = 128

// Stack is a statically sized stack buffer. Declare one per task as a
// package-level variable.
type Stack [MinimalStackSize]StackWord

// Slice returns the buffer as the slice a Descriptor takes.
func (s *Stack) Slice() []StackWord {
	return s[:]
}

// FillByte is written over a fresh stack so that unused words can be told
// apart from used ones.
const FillByte = 0xa5

// FillWord is FillByte repeated over a whole StackWord.
const FillWord StackWord = 0xa5a5a5a5

// CanaryWords is how many words at the low end of a stack must still hold
// FillWord. Stacks grow down, so these are the last to be touched.
const CanaryWords = 4

// Fill paints the whole stack with FillWord.
func Fill(stack []StackWord) {
	if len(stack) == 0 {
		return
	}
	mem.Set(unsafe.Pointer(&stack[0]), FillByte, uintptr(len(stack))*unsafe.Sizeof(stack[0]))
}

// Overflowed reports whether any of the canary words at the bottom of the
// stack has been overwritten.
func Overflowed(stack []StackWord) bool {
	n := CanaryWords
	if n > len(stack) {
		n = len(stack)
	}
	for _, w := range stack[:n] {
		if w != FillWord {
			return true
		}
	}
	return false
}

// HighWaterMark returns the number of words at the low end of the stack
// that have never been written: the least free space the task has had.
func HighWaterMark(stack []StackWord) int {
	n := 0
	for n < len(stack) && stack[n] == FillWord {
		n++
	}
	return n
}

// FrameWords is the size of the initial context frame a kernel places at
// the top of a new stack: x1 to x31 plus mepc.
const FrameWords = 32

// InitFrame writes the initial context frame at the top of the stack, the
// way a port layer does before the first switch into a task. The argument
// register a0 carries the low word of param; everything else starts at
// zero. It returns the index of the new stack pointer.
func InitFrame(stack []StackWord, param unsafe.Pointer) int {
	sp := len(stack) - FrameWords
	if sp < 0 {
		sp = 0
	}
	frame := stack[sp:]
	mem.Zero(unsafe.Pointer(&frame[0]), uintptr(len(frame))*unsafe.Sizeof(frame[0]))
	// x10 (a0) sits at index 9 since x0 is not saved.
	if len(frame) > 9 {
		frame[9] = StackWord(uintptr(param))
	}
	return sp
}
