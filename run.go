package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/ruvm32/ruvm32/builder"
	"github.com/ruvm32/ruvm32/config"
	"github.com/ruvm32/ruvm32/emulator/uvm"
	"github.com/ruvm32/ruvm32/src/harness"
	"github.com/ruvm32/ruvm32/src/kernel"
	"github.com/ruvm32/ruvm32/src/trap"
)

// runHarness runs the demo tasks on the hosted kernel until the context is
// done, the duration passes, or a task halts the machine. It does what
// Harness.Main does, with the registration error returned.
func runHarness(ctx context.Context, cfg config.Config, d time.Duration, logger zerolog.Logger) error {
	table := trap.NewTable(logger.With().Str("component", "trap").Logger())
	k := kernel.NewSim(logger.With().Str("component", "kernel").Logger())
	tr := trap.Default(table)
	if host, ok := tr.(*trap.Host); ok {
		host.Fault = func(req trap.Request, err error) {
			if !errors.Is(err, trap.ErrHalt) {
				logger.Error().Err(err).Stringer("syscall", req.Number).Msg("syscall failed")
			}
			k.Stop()
		}
	}
	h := harness.New(k, tr, harness.Options{
		Timer:      cfg.Timer,
		TickPeriod: cfg.TickPeriod,
		Overflow:   cfg.Overflow,
		Logger:     logger,
	})

	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	// Task storage is static, so registration can fail on a second run in
	// the same process. Report that instead of panicking in Main.
	if _, err := h.Register(); err != nil {
		return err
	}
	go k.StartScheduler()
	select {
	case <-ctx.Done():
		k.Stop()
	case <-k.Done():
	}
	<-k.Done()

	for _, t := range k.Tasks() {
		logger.Info().
			Str("task", t.Name()).
			Uint64("runs", k.RunCount(t)).
			Int("free", k.HighWaterMark(t)).
			Stringer("state", k.State(t)).
			Msg("task")
	}
	logger.Info().
		Uint64("tick1", table.Count(trap.Tick1)).
		Uint64("tick2", table.Count(trap.Tick2)).
		Uint64("ticks", k.TickCount()).
		Msg("harness stopped")
	return nil
}

// runImage loads an image and runs it on the emulator, or hands it to the
// monitor.
func runImage(ctx context.Context, path string, cfg config.Config, interactive bool, logger zerolog.Logger) error {
	img, err := builder.Load(path, cfg.RAMBase, cfg.MemorySize)
	if err != nil {
		return err
	}
	logger.Info().
		Str("image", path).
		Stringer("format", img.Format).
		Stringer("size", img.Size()).
		Str("crc16", fmt.Sprintf("%04x", img.Checksum())).
		Msg("image loaded")

	uart, err := openUART(cfg)
	if err != nil {
		return err
	}
	defer uart.Close()

	table := trap.NewTable(logger.With().Str("component", "trap").Logger())
	vm, err := uvm.New(uvm.Config{
		RAMBase:  cfg.RAMBase,
		RAMSize:  cfg.MemorySize,
		MaxSteps: cfg.MaxSteps,
	}, table, uart, logger.With().Str("component", "uvm").Logger())
	if err != nil {
		return err
	}
	if err := vm.Load(img.Data); err != nil {
		return err
	}

	if cfg.TraceFile != "" {
		trace, err := openTrace(cfg.TraceFile)
		if err != nil {
			return err
		}
		defer trace.Close()
		vm.Trace = trace
	}

	if interactive {
		return runMonitor(ctx, vm)
	}
	err = vm.Run(ctx)
	logger.Info().
		Uint64("steps", vm.Steps()).
		Uint64("tick1", table.Count(trap.Tick1)).
		Uint64("tick2", table.Count(trap.Tick2)).
		Msg("run stopped")
	return err
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// openUART returns where guest UART output goes: a serial port when one is
// configured, otherwise the configured stream.
func openUART(cfg config.Config) (io.WriteCloser, error) {
	if cfg.Serial.Port != "" {
		port, err := serial.Open(cfg.Serial.Port, &serial.Mode{BaudRate: cfg.Serial.Baud})
		if err != nil {
			return nil, fmt.Errorf("uart: %s: %w", cfg.Serial.Port, err)
		}
		return port, nil
	}
	switch cfg.UART {
	case config.UARTStderr:
		return nopCloser{os.Stderr}, nil
	case config.UARTNone:
		return nopCloser{io.Discard}, nil
	default:
		return nopCloser{os.Stdout}, nil
	}
}

// traceFile is a buffered trace output held under a file lock, so two runs
// cannot interleave their traces.
type traceFile struct {
	*bufio.Writer
	f    *os.File
	lock *flock.Flock
}

func openTrace(path string) (*traceFile, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("trace: %s is in use by another run", path)
	}
	f, err := os.Create(path)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &traceFile{Writer: bufio.NewWriter(f), f: f, lock: lock}, nil
}

func (t *traceFile) Close() error {
	err := t.Flush()
	if cerr := t.f.Close(); err == nil {
		err = cerr
	}
	if uerr := t.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func printInfo(w io.Writer, path string, cfg config.Config) error {
	img, err := builder.Load(path, cfg.RAMBase, cfg.MemorySize)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "image:   %s\n", path)
	fmt.Fprintf(w, "format:  %s\n", img.Format)
	fmt.Fprintf(w, "size:    %s\n", img.Size())
	fmt.Fprintf(w, "load:    %08x-%08x\n", img.Base, img.End())
	fmt.Fprintf(w, "crc16:   %04x\n", img.Checksum())
	fmt.Fprintf(w, "ram:     %s at %08x\n", cfg.Size(), cfg.RAMBase)
	return nil
}

// objcopy converts an image to the format implied by the output name.
func objcopy(in, out string, cfg config.Config) error {
	img, err := builder.Load(in, cfg.RAMBase, cfg.MemorySize)
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if builder.FormatOf(out) == builder.FormatHex {
		err = img.WriteHex(f)
	} else {
		err = img.WriteBinary(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
