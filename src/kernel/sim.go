package kernel

import (
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/ruvm32/ruvm32/src/task"
)

// Sim is a fixed-priority preemptive kernel for hosted runs. Each task runs
// on its own goroutine but only one of them holds the CPU at any time: the
// scheduler resumes one task and waits until it yields, delays, or is
// stopped.
//
// Tasks are only switched at kernel calls (Yield, Delay). A tick that makes
// a higher priority task ready takes effect at the running task's next
// kernel call.
type Sim struct {
	mu      sync.Mutex
	ready   [task.MaxPriorities]task.Queue
	delayed *task.ControlBlock // sorted by WakeTick
	tasks   []*task.ControlBlock
	runs    map[*task.ControlBlock]uint64
	current *task.ControlBlock
	started bool
	ticks   uint64
	hooks   ExtensionHooks

	switched chan struct{}
	tick     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
	ticker   *time.Ticker

	Logger zerolog.Logger
}

// NewSim returns a kernel with no tasks.
func NewSim(logger zerolog.Logger) *Sim {
	return &Sim{
		runs:     make(map[*task.ControlBlock]uint64),
		switched: make(chan struct{}),
		tick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		Logger:   logger,
	}
}

// SetHooks implements HookInstaller.
func (s *Sim) SetHooks(h ExtensionHooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

// CreateStatic implements Scheduler. It refuses tasks once the scheduler has
// started, tasks without storage, stacks below the minimal size, and control
// blocks that are already in use. Priorities above the top level are clamped
// to it.
func (s *Sim) CreateStatic(fn task.Entry, name string, stack []task.StackWord, param unsafe.Pointer, priority task.Priority, tcb *task.ControlBlock) task.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.Logger.With().Str("task", name).Logger()
	switch {
	case s.started:
		log.Warn().Msg("task created after scheduler start")
		return nil
	case fn == nil || stack == nil || tcb == nil:
		log.Warn().Msg("task storage missing")
		return nil
	case len(stack) < task.MinimalStackSize:
		log.Warn().Int("words", len(stack)).Msg("stack too small")
		return nil
	case tcb.Registered():
		log.Warn().Msg("control block reused")
		return nil
	}
	if priority >= task.MaxPriorities {
		priority = task.MaxPriorities - 1
	}

	tcb.Init(task.Descriptor{
		Entry:    fn,
		Name:     name,
		Stack:    stack,
		Priority: priority,
		Param:    param,
		TCB:      tcb,
	})
	task.Fill(stack)
	task.InitFrame(stack, param)

	s.tasks = append(s.tasks, tcb)
	s.ready[priority].Push(tcb)
	log.Debug().Uint8("priority", uint8(priority)).Int("stack", len(stack)).Msg("task created")
	return tcb
}

// StartScheduler implements Scheduler. It calls the timer hook, then runs
// tasks until Stop is called. It never returns: once stopped, the calling
// goroutine exits.
func (s *Sim) StartScheduler() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		panic("kernel: scheduler already started")
	}
	s.started = true
	hooks := s.hooks
	tasks := append([]*task.ControlBlock(nil), s.tasks...)
	s.mu.Unlock()

	if hooks != nil {
		hooks.SetupTimerInterrupt()
	}
	s.Logger.Info().Int("tasks", len(tasks)).Msg("scheduler started")

	for _, t := range tasks {
		s.wg.Add(1)
		go s.run(t)
	}
	s.schedule()

	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.mu.Unlock()
	s.wg.Wait()
	close(s.done)
	s.Logger.Info().Msg("scheduler stopped")
	runtime.Goexit()
}

// schedule is the scheduler loop. It returns once Stop has been called.
func (s *Sim) schedule() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.mu.Lock()
		s.wakeDelayedLocked()
		next := s.pickLocked()
		if next == nil {
			s.mu.Unlock()
			// Nothing is ready: idle until a tick wakes a delayed task.
			select {
			case <-s.tick:
				continue
			case <-s.stop:
				return
			}
		}
		next.State = task.StateRunning
		s.current = next
		s.runs[next]++
		s.mu.Unlock()

		next.Context.Resume()
		select {
		case <-s.switched:
		case <-s.stop:
			return
		}

		s.mu.Lock()
		s.current = nil
		hooks := s.hooks
		halted := next.State == task.StateHalted
		s.mu.Unlock()
		if hooks != nil && !halted && task.Overflowed(next.Stack()) {
			s.Logger.Error().Str("task", next.Name()).Msg("stack overflow")
			hooks.StackOverflow(next, next.Name())
		}
	}
}

// pickLocked pops the first task of the highest non-empty ready queue.
func (s *Sim) pickLocked() *task.ControlBlock {
	for p := task.MaxPriorities - 1; p >= 0; p-- {
		if t := s.ready[p].Pop(); t != nil {
			return t
		}
	}
	return nil
}

// wakeDelayedLocked moves every delayed task whose wake tick has passed back
// to its ready queue.
func (s *Sim) wakeDelayedLocked() {
	for s.delayed != nil && s.delayed.WakeTick <= s.ticks {
		t := s.delayed
		s.delayed = t.Next
		t.Next = nil
		t.State = task.StateReady
		s.ready[t.Priority()].Push(t)
	}
}

// run is the goroutine body of task t.
func (s *Sim) run(t *task.ControlBlock) {
	defer s.wg.Done()
	if !t.Context.Pause(s.stop) {
		return
	}
	t.Entry()(t.Param())

	// Task routines must not return. Take the task off the CPU for good.
	s.Logger.Error().Str("task", t.Name()).Msg("task returned from its entry routine")
	s.mu.Lock()
	t.State = task.StateHalted
	s.mu.Unlock()
	select {
	case s.switched <- struct{}{}:
	case <-s.stop:
	}
}

// Yield implements Scheduler. The current task goes to the back of its
// ready queue, so it runs again straight away unless another task of equal
// or higher priority is ready.
func (s *Sim) Yield() {
	s.mu.Lock()
	t := s.current
	if t == nil {
		s.mu.Unlock()
		return
	}
	t.State = task.StateReady
	s.ready[t.Priority()].Push(t)
	s.mu.Unlock()
	s.switchOut(t)
}

// Delay implements Delayer. The current task is not scheduled again until
// ticks ticks have passed. A zero delay is a yield.
func (s *Sim) Delay(ticks uint64) {
	if ticks == 0 {
		s.Yield()
		return
	}
	s.mu.Lock()
	t := s.current
	if t == nil {
		s.mu.Unlock()
		return
	}
	t.State = task.StateDelayed
	t.WakeTick = s.ticks + ticks

	// Insert in wake order, after tasks waking at the same tick.
	q := &s.delayed
	for *q != nil && (*q).WakeTick <= t.WakeTick {
		q = &(*q).Next
	}
	t.Next = *q
	*q = t
	s.mu.Unlock()
	s.switchOut(t)
}

// Suspend implements Suspender. A suspended task never runs again. When a
// task suspends itself, Suspend does not return.
//
// Only the running task itself or the scheduler goroutine (kernel hooks such
// as StackOverflow) may call Suspend. The running task is recognised by the
// handle alone, so a call from any other goroutine while h runs would park
// the caller instead of h.
func (s *Sim) Suspend(h task.Handle) {
	s.mu.Lock()
	s.ready[h.Priority()].Remove(h)
	s.removeDelayedLocked(h)
	h.State = task.StateHalted
	self := h == s.current
	s.mu.Unlock()
	if self {
		s.switchOut(h)
	}
}

func (s *Sim) removeDelayedLocked(h task.Handle) {
	for q := &s.delayed; *q != nil; q = &(*q).Next {
		if *q == h {
			*q = h.Next
			h.Next = nil
			return
		}
	}
}

// switchOut returns the CPU to the scheduler and parks t until it is picked
// again. When the kernel is stopped the task goroutine exits here.
func (s *Sim) switchOut(t *task.ControlBlock) {
	select {
	case s.switched <- struct{}{}:
	case <-s.stop:
		runtime.Goexit()
	}
	if !t.Context.Pause(s.stop) {
		runtime.Goexit()
	}
}

// ConfigureTick implements TickSource. Each period advances the tick count
// by one. A zero period stops the tick.
func (s *Sim) ConfigureTick(period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if period <= 0 {
		return
	}
	select {
	case <-s.stop:
		return
	default:
	}
	s.ticker = time.NewTicker(period)
	c := s.ticker.C
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-c:
				s.Tick()
			case <-s.stop:
				return
			}
		}
	}()
	s.Logger.Debug().Dur("period", period).Msg("tick configured")
}

// Tick advances the tick count by one, as the tick interrupt does.
func (s *Sim) Tick() {
	s.mu.Lock()
	s.ticks++
	s.mu.Unlock()
	select {
	case s.tick <- struct{}{}:
	default:
	}
}

// TickCount returns the number of ticks since start.
func (s *Sim) TickCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Stop ends scheduling. Parked tasks and the goroutine that called
// StartScheduler exit; Done is closed once they have.
func (s *Sim) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Done is closed after the scheduler has stopped.
func (s *Sim) Done() <-chan struct{} {
	return s.done
}

// Tasks returns the registered tasks in creation order.
func (s *Sim) Tasks() []task.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.Handle(nil), s.tasks...)
}

// Lookup returns the task with the given name.
func (s *Sim) Lookup(name string) (task.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// RunCount returns how many times h has been given the CPU.
func (s *Sim) RunCount(h task.Handle) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[h]
}

// HighWaterMark returns the smallest amount of free stack, in words, h has
// had so far.
func (s *Sim) HighWaterMark(h task.Handle) int {
	return task.HighWaterMark(h.Stack())
}

// State returns the run state of h.
func (s *Sim) State(h task.Handle) task.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.State
}
