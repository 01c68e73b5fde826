package kernel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvm32/ruvm32/src/task"
)

type recordingHooks struct {
	mu         sync.Mutex
	timer      int
	overflows  []string
	onOverflow func(h task.Handle)
}

func (r *recordingHooks) SetupTimerInterrupt() {
	r.mu.Lock()
	r.timer++
	r.mu.Unlock()
}

func (r *recordingHooks) StackOverflow(h task.Handle, name string) {
	r.mu.Lock()
	r.overflows = append(r.overflows, name)
	fn := r.onOverflow
	r.mu.Unlock()
	if fn != nil {
		fn(h)
	}
}

func (r *recordingHooks) timerCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer
}

func (r *recordingHooks) overflowed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.overflows...)
}

// slot is static-looking storage for one test task.
type slot struct {
	stack task.Stack
	tcb   task.ControlBlock
}

func start(t *testing.T, s *Sim) {
	t.Helper()
	go s.StartScheduler()
	t.Cleanup(func() {
		s.Stop()
		select {
		case <-s.Done():
		case <-time.After(5 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
}

func create(t *testing.T, s *Sim, sl *slot, name string, prio task.Priority, fn task.Entry) task.Handle {
	t.Helper()
	h := s.CreateStatic(fn, name, sl.stack.Slice(), nil, prio, &sl.tcb)
	require.NotNil(t, h, "create %s", name)
	return h
}

func TestCreateStaticRefusals(t *testing.T) {
	s := NewSim(zerolog.Nop())
	var a, b slot
	var short [task.MinimalStackSize / 2]task.StackWord
	fn := func(unsafe.Pointer) {}

	assert.Nil(t, s.CreateStatic(nil, "x", a.stack.Slice(), nil, 1, &a.tcb))
	assert.Nil(t, s.CreateStatic(fn, "x", nil, nil, 1, &a.tcb))
	assert.Nil(t, s.CreateStatic(fn, "x", a.stack.Slice(), nil, 1, nil))
	assert.Nil(t, s.CreateStatic(fn, "x", short[:], nil, 1, &a.tcb))

	h := s.CreateStatic(fn, "a", a.stack.Slice(), nil, 200, &a.tcb)
	require.NotNil(t, h)
	assert.Equal(t, task.Priority(task.MaxPriorities-1), h.Priority(), "priority clamped")
	assert.Nil(t, s.CreateStatic(fn, "again", a.stack.Slice(), nil, 1, &a.tcb), "control block reused")

	// The stack is painted and carries an initial frame.
	assert.False(t, task.Overflowed(h.Stack()))
	assert.Equal(t, task.MinimalStackSize-task.FrameWords, s.HighWaterMark(h))

	hb := s.CreateStatic(fn, "b", b.stack.Slice(), nil, 0, &b.tcb)
	require.NotNil(t, hb)
	assert.Equal(t, []task.Handle{h, hb}, s.Tasks())
	got, ok := s.Lookup("b")
	assert.True(t, ok)
	assert.Same(t, hb, got)
	_, ok = s.Lookup("nope")
	assert.False(t, ok)
}

func TestHigherPriorityStarvesLower(t *testing.T) {
	s := NewSim(zerolog.Nop())
	var hi, lo slot
	var hiRuns, loRuns atomic.Int64

	hh := create(t, s, &hi, "hi", 3, func(unsafe.Pointer) {
		for {
			if hiRuns.Add(1) == 200 {
				s.Stop()
			}
			s.Yield()
		}
	})
	hl := create(t, s, &lo, "lo", 2, func(unsafe.Pointer) {
		for {
			loRuns.Add(1)
			s.Yield()
		}
	})
	start(t, s)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	assert.GreaterOrEqual(t, hiRuns.Load(), int64(200))
	assert.Zero(t, loRuns.Load())
	assert.Zero(t, s.RunCount(hl))
	assert.GreaterOrEqual(t, s.RunCount(hh), uint64(200))
}

func TestEqualPriorityRoundRobin(t *testing.T) {
	s := NewSim(zerolog.Nop())
	var a, b slot
	var order []string
	body := func(name string) task.Entry {
		return func(unsafe.Pointer) {
			for {
				order = append(order, name)
				if len(order) == 6 {
					s.Stop()
				}
				s.Yield()
			}
		}
	}
	create(t, s, &a, "a", 1, body("a"))
	create(t, s, &b, "b", 1, body("b"))
	start(t, s)

	<-s.Done()
	assert.Equal(t, []string{"a", "b", "a", "b", "a", "b"}, order)
}

func TestDelayLetsLowerPriorityRun(t *testing.T) {
	s := NewSim(zerolog.Nop())
	var hi, lo slot
	var hiRuns, loRuns atomic.Int64

	create(t, s, &hi, "hi", 4, func(unsafe.Pointer) {
		for {
			hiRuns.Add(1)
			s.Delay(1)
		}
	})
	create(t, s, &lo, "lo", 1, func(unsafe.Pointer) {
		for {
			loRuns.Add(1)
			s.Yield()
		}
	})
	start(t, s)

	require.Eventually(t, func() bool { return loRuns.Load() > 10 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, int64(1), hiRuns.Load(), "delayed task must not run before its tick")

	s.Tick()
	require.Eventually(t, func() bool { return hiRuns.Load() == 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), s.TickCount())
}

func TestTimerHookAndStackOverflow(t *testing.T) {
	s := NewSim(zerolog.Nop())
	hooks := &recordingHooks{}
	s.SetHooks(hooks)

	var a slot
	var iterations atomic.Int64
	h := create(t, s, &a, "smasher", 2, func(unsafe.Pointer) {
		for {
			if iterations.Add(1) == 3 {
				// Write past the end of the stack.
				a.stack[0] = 0
			}
			s.Yield()
		}
	})
	hooks.onOverflow = func(got task.Handle) {
		assert.Same(t, h, got)
		s.Suspend(got)
	}
	start(t, s)

	require.Eventually(t, func() bool { return len(hooks.overflowed()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 1, hooks.timerCalls())
	assert.Equal(t, []string{"smasher"}, hooks.overflowed())

	// Suspended from the hook: it never runs again.
	runs := s.RunCount(h)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, runs, s.RunCount(h))
	assert.Equal(t, task.StateHalted, s.State(h))
}

func TestSuspendSelf(t *testing.T) {
	s := NewSim(zerolog.Nop())
	var a, b slot
	var after, bRuns atomic.Int64
	var ha task.Handle
	ha = create(t, s, &a, "quitter", 3, func(unsafe.Pointer) {
		s.Suspend(ha)
		after.Add(1)
	})
	create(t, s, &b, "loops", 1, func(unsafe.Pointer) {
		for {
			bRuns.Add(1)
			s.Yield()
		}
	})
	start(t, s)

	require.Eventually(t, func() bool { return bRuns.Load() > 5 }, 5*time.Second, time.Millisecond)
	assert.Zero(t, after.Load(), "Suspend of the running task does not return")
	assert.Equal(t, task.StateHalted, s.State(ha))
	assert.Equal(t, uint64(1), s.RunCount(ha))
}

func TestCreateAfterStartAndDoubleStart(t *testing.T) {
	s := NewSim(zerolog.Nop())
	hooks := &recordingHooks{}
	s.SetHooks(hooks)

	var a, late slot
	created := make(chan task.Handle, 1)
	create(t, s, &a, "a", 1, func(unsafe.Pointer) {
		created <- s.CreateStatic(func(unsafe.Pointer) {}, "late", late.stack.Slice(), nil, 1, &late.tcb)
		for {
			s.Yield()
		}
	})
	start(t, s)

	assert.Nil(t, <-created)
	require.Eventually(t, func() bool { return hooks.timerCalls() == 1 }, 5*time.Second, time.Millisecond)
	assert.Panics(t, func() { s.StartScheduler() })
}

func TestReturningTaskIsHalted(t *testing.T) {
	s := NewSim(zerolog.Nop())
	var a, b slot
	var bRuns atomic.Int64
	ha := create(t, s, &a, "returns", 3, func(unsafe.Pointer) {})
	create(t, s, &b, "loops", 1, func(unsafe.Pointer) {
		for {
			bRuns.Add(1)
			s.Yield()
		}
	})
	start(t, s)

	require.Eventually(t, func() bool { return bRuns.Load() > 5 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, task.StateHalted, s.State(ha))
	assert.Equal(t, uint64(1), s.RunCount(ha))
}

func TestConfigureTick(t *testing.T) {
	s := NewSim(zerolog.Nop())
	var a slot
	create(t, s, &a, "idle", 0, func(unsafe.Pointer) {
		for {
			s.Delay(1)
		}
	})
	s.SetHooks(tickHooks{s})
	start(t, s)

	require.Eventually(t, func() bool { return s.TickCount() >= 3 }, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.RunCount(&a.tcb) >= 3 }, 5*time.Second, time.Millisecond)
}

type tickHooks struct{ s *Sim }

func (h tickHooks) SetupTimerInterrupt()              { h.s.ConfigureTick(time.Millisecond) }
func (h tickHooks) StackOverflow(task.Handle, string) {}

func TestParamIsPassed(t *testing.T) {
	s := NewSim(zerolog.Nop())
	var a slot
	value := 7
	got := make(chan unsafe.Pointer, 1)
	h := s.CreateStatic(func(p unsafe.Pointer) {
		got <- p
		for {
			s.Yield()
		}
	}, "param", a.stack.Slice(), unsafe.Pointer(&value), 1, &a.tcb)
	require.NotNil(t, h)
	start(t, s)
	assert.Equal(t, unsafe.Pointer(&value), <-got)
}
