package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/mattn/go-tty"

	"github.com/ruvm32/ruvm32/emulator/rv32"
	"github.com/ruvm32/ruvm32/emulator/uvm"
)

const monitorHelp = `commands:
  step [n]          execute n instructions (default 1)
  regs              print the registers
  mem <addr> [len]  dump memory (default 64 bytes)
  continue          run until the guest stops
  quit              leave the monitor
`

// runMonitor drives the VM from the controlling terminal.
func runMonitor(ctx context.Context, vm *uvm.VM) error {
	t, err := tty.Open()
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	defer t.Close()
	return monitor(ctx, vm, t.Output(), t.ReadString)
}

func monitor(ctx context.Context, vm *uvm.VM, out io.Writer, readLine func() (string, error)) error {
	fmt.Fprintf(out, "stopped at pc=%08x, type help for commands\n", vm.CPU().PC)
	for {
		fmt.Fprint(out, "(ruvm32) ")
		line, err := readLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		done, err := monitorCommand(ctx, vm, out, args)
		if done || err != nil {
			return err
		}
	}
}

// monitorCommand runs one command. It reports whether the session is over.
func monitorCommand(ctx context.Context, vm *uvm.VM, out io.Writer, args []string) (bool, error) {
	switch args[0] {
	case "s", "step":
		n := 1
		if len(args) > 1 {
			v, err := strconv.Atoi(args[1])
			if err != nil || v <= 0 {
				fmt.Fprintln(out, "error: step count must be a positive number")
				return false, nil
			}
			n = v
		}
		if err := vm.Step(n); err != nil {
			return true, exitStatus(err)
		}
		fmt.Fprintf(out, "pc=%08x\n", vm.CPU().PC)
	case "r", "regs":
		printRegs(out, vm.CPU())
	case "m", "mem", "x":
		if len(args) < 2 {
			fmt.Fprintln(out, "error: mem needs an address")
			return false, nil
		}
		addr, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			fmt.Fprintln(out, "error: bad address:", args[1])
			return false, nil
		}
		n := uint64(64)
		if len(args) > 2 {
			if n, err = strconv.ParseUint(args[2], 0, 32); err != nil {
				fmt.Fprintln(out, "error: bad length:", args[2])
				return false, nil
			}
		}
		b, err := vm.ReadMemory(uint32(addr), uint32(n))
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false, nil
		}
		fmt.Fprint(out, hex.Dump(b))
	case "c", "continue":
		return true, vm.Run(ctx)
	case "q", "quit", "exit":
		return true, nil
	case "h", "help":
		fmt.Fprint(out, monitorHelp)
	default:
		fmt.Fprintf(out, "unknown command %q\n", strings.Join(args, " "))
	}
	return false, nil
}

func printRegs(out io.Writer, cpu *rv32.CPU) {
	fmt.Fprintf(out, "pc   %08x\n", cpu.PC)
	for i := 0; i < len(cpu.Regs); i += 4 {
		for j := i; j < i+4; j++ {
			fmt.Fprintf(out, "%-4s %08x  ", rv32.RegNames[j], cpu.Regs[j])
		}
		fmt.Fprintln(out)
	}
}

// exitStatus treats a clean guest exit as success.
func exitStatus(err error) error {
	var exit *uvm.ExitError
	if errors.As(err, &exit) && exit.Code == 0 {
		return nil
	}
	return err
}
