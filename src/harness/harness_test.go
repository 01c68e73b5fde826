package harness

import (
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvm32/ruvm32/src/kernel"
	"github.com/ruvm32/ruvm32/src/task"
	"github.com/ruvm32/ruvm32/src/trap"
)

// mockKernel records what the harness asks of it. Yield ends the calling
// goroutine once maxYields is reached, standing in for a task that is never
// scheduled again.
type mockKernel struct {
	events    []string
	created   []task.Descriptor
	refuse    string
	maxYields int
	ticks     []time.Duration
	suspended []task.Handle
	started   bool
}

func (m *mockKernel) CreateStatic(fn task.Entry, name string, stack []task.StackWord, param unsafe.Pointer, priority task.Priority, tcb *task.ControlBlock) task.Handle {
	if name == m.refuse {
		return nil
	}
	m.created = append(m.created, task.Descriptor{Entry: fn, Name: name, Stack: stack, Param: param, Priority: priority, TCB: tcb})
	return tcb
}

func (m *mockKernel) StartScheduler() {
	m.started = true
	runtime.Goexit()
}

func (m *mockKernel) Yield() {
	m.events = append(m.events, "yield")
	if m.maxYields > 0 && len(m.events) >= 2*m.maxYields {
		runtime.Goexit()
	}
}

func (m *mockKernel) ConfigureTick(period time.Duration) {
	m.ticks = append(m.ticks, period)
}

func (m *mockKernel) Suspend(h task.Handle) {
	m.suspended = append(m.suspended, h)
}

// recordingTrap stands in for the trap instruction.
type recordingTrap struct {
	k     *mockKernel
	calls []trap.Number
}

func (r *recordingTrap) Syscall(n trap.Number, args ...uint32) {
	r.calls = append(r.calls, n)
	if r.k != nil {
		r.k.events = append(r.k.events, n.String())
	}
}

func TestRegisterPriorities(t *testing.T) {
	k := kernel.NewSim(zerolog.Nop())
	h := newHarness(k, &recordingTrap{}, Options{}, &storage{})

	handles, err := h.Register()
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, handles, k.Tasks())

	assert.Equal(t, "example", handles[0].Name())
	assert.Equal(t, task.Priority(task.MaxPriorities-1), handles[0].Priority())
	assert.Equal(t, "example2", handles[1].Name())
	assert.Equal(t, task.Priority(task.MaxPriorities-2), handles[1].Priority())
	for i, th := range handles {
		assert.Len(t, th.Stack(), task.MinimalStackSize)
		assert.Nil(t, th.Param())
		if i > 0 {
			assert.Less(t, th.Priority(), handles[i-1].Priority(), "strictly decreasing")
		}
	}
}

func TestRegisterOnce(t *testing.T) {
	mem := &storage{}
	k := kernel.NewSim(zerolog.Nop())
	_, err := newHarness(k, &recordingTrap{}, Options{}, mem).Register()
	require.NoError(t, err)

	_, err = newHarness(kernel.NewSim(zerolog.Nop()), &recordingTrap{}, Options{}, mem).Register()
	assert.ErrorIs(t, err, task.ErrRegistered)
}

func TestRegisterRefused(t *testing.T) {
	k := &mockKernel{refuse: "example2"}
	handles, err := newHarness(k, &recordingTrap{}, Options{}, &storage{}).Register()
	assert.ErrorIs(t, err, ErrRefused)
	assert.Len(t, handles, 1)
}

func TestMainStartsAfterRegistration(t *testing.T) {
	k := &mockKernel{}
	h := newHarness(k, &recordingTrap{}, Options{}, &storage{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Main()
	}()
	<-done
	assert.True(t, k.started)
	assert.Len(t, k.created, 2)
}

func TestMainPanicsOnRefusal(t *testing.T) {
	k := &mockKernel{refuse: "example"}
	h := newHarness(k, &recordingTrap{}, Options{}, &storage{})
	assert.Panics(t, h.Main)
	assert.False(t, k.started)
}

func TestTaskBodies(t *testing.T) {
	for _, tc := range []struct {
		name string
		want trap.Number
		body func(h *Harness) task.Entry
	}{
		{"example", trap.Tick1, func(h *Harness) task.Entry { return h.exampleTask }},
		{"example2", trap.Tick2, func(h *Harness) task.Entry { return h.exampleTask2 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := &mockKernel{maxYields: 5}
			tr := &recordingTrap{k: k}
			h := newHarness(k, tr, Options{}, &storage{})

			returned := false
			done := make(chan struct{})
			go func() {
				defer close(done)
				tc.body(h)(nil)
				returned = true
			}()
			<-done

			assert.False(t, returned, "task body returned")
			var want []string
			for i := 0; i < 5; i++ {
				want = append(want, tc.want.String(), "yield")
			}
			assert.Equal(t, want, k.events)
		})
	}
}

func TestSetupTimerInterrupt(t *testing.T) {
	t.Run("periodic", func(t *testing.T) {
		k := &mockKernel{}
		tr := &recordingTrap{}
		newHarness(k, tr, Options{TickPeriod: 10 * time.Millisecond}, &storage{}).SetupTimerInterrupt()
		assert.Equal(t, []time.Duration{10 * time.Millisecond}, k.ticks)
		assert.Empty(t, tr.calls)
	})
	t.Run("default period", func(t *testing.T) {
		k := &mockKernel{}
		newHarness(k, &recordingTrap{}, Options{}, &storage{}).SetupTimerInterrupt()
		assert.Equal(t, []time.Duration{DefaultTickPeriod}, k.ticks)
	})
	t.Run("trap", func(t *testing.T) {
		k := &mockKernel{}
		tr := &recordingTrap{}
		newHarness(k, tr, Options{Timer: TimerTrap}, &storage{}).SetupTimerInterrupt()
		assert.Equal(t, []trap.Number{trap.TimerSetup}, tr.calls)
		assert.Empty(t, k.ticks)
	})
	t.Run("none", func(t *testing.T) {
		k := &mockKernel{}
		tr := &recordingTrap{}
		newHarness(k, tr, Options{Timer: TimerNone}, &storage{}).SetupTimerInterrupt()
		assert.Empty(t, tr.calls)
		assert.Empty(t, k.ticks)
	})
}

func TestStackOverflowNotify(t *testing.T) {
	k := &mockKernel{}
	tr := &recordingTrap{}
	h := newHarness(k, tr, Options{}, &storage{})

	var tcb task.ControlBlock
	var stack task.Stack
	before := stack
	h.StackOverflow(&tcb, "victim")
	h.StackOverflow(&tcb, "")

	assert.Equal(t, task.ControlBlock{}, tcb)
	assert.Equal(t, before, stack)
	assert.Empty(t, tr.calls)
	assert.Empty(t, k.suspended)
}

func TestStackOverflowHalt(t *testing.T) {
	k := &mockKernel{}
	tr := &recordingTrap{}
	h := newHarness(k, tr, Options{Overflow: OverflowHalt}, &storage{})

	var tcb task.ControlBlock
	h.StackOverflow(&tcb, "victim")
	assert.Equal(t, []trap.Number{trap.Halt}, tr.calls)
	assert.Equal(t, []task.Handle{&tcb}, k.suspended)
}

func TestParseModes(t *testing.T) {
	for _, m := range []TimerMode{TimerPeriodic, TimerTrap, TimerNone} {
		got, err := ParseTimerMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseTimerMode("sometimes")
	assert.Error(t, err)

	for _, m := range []OverflowMode{OverflowNotify, OverflowHalt} {
		got, err := ParseOverflowMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err = ParseOverflowMode("explode")
	assert.Error(t, err)
}
