package trap

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Table dispatches system calls by number. It is the host's privileged
// handler: the emulator and the hosted scheduler both send every ecall here.
type Table struct {
	mu      sync.RWMutex
	entries map[Number]entry
	counts  map[Number]uint64

	Logger zerolog.Logger
}

type entry struct {
	name string
	fn   HandlerFunc
}

// NewTable returns a table with the host's standard calls registered: the
// two task ticks and the external interrupt are logged, the timer setup
// placeholder is accepted, and Halt stops the machine.
func NewTable(logger zerolog.Logger) *Table {
	t := &Table{
		entries: make(map[Number]entry),
		counts:  make(map[Number]uint64),
		Logger:  logger,
	}
	t.Register(Tick1, "TICK1", t.logCall)
	t.Register(Tick2, "TICK2", t.logCall)
	t.Register(ExternalInterrupt, "external interrupt", t.logCall)
	t.Register(TimerSetup, "timer setup", t.logCall)
	t.Register(Halt, "halt", func(Request) error { return ErrHalt })
	return t
}

// Register installs fn for n, replacing any earlier handler.
func (t *Table) Register(n Number, name string, fn HandlerFunc) {
	t.mu.Lock()
	t.entries[n] = entry{name: name, fn: fn}
	t.mu.Unlock()
}

// HandleSyscall implements Handler.
func (t *Table) HandleSyscall(req Request) error {
	t.mu.Lock()
	e, ok := t.entries[req.Number]
	if ok {
		t.counts[req.Number]++
	}
	t.mu.Unlock()
	if !ok {
		t.Logger.Warn().Uint32("a7", uint32(req.Number)).Msg("unknown syscall")
		return fmt.Errorf("%w %#x", ErrUnknownSyscall, uint32(req.Number))
	}
	return e.fn(req)
}

// Count returns how many times n has been dispatched.
func (t *Table) Count(n Number) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[n]
}

// Name returns the registered name of n.
func (t *Table) Name(n Number) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[n]
	return e.name, ok
}

func (t *Table) logCall(req Request) error {
	name, _ := t.Name(req.Number)
	t.Logger.Info().Uint32("a7", uint32(req.Number)).Msg(name)
	return nil
}
