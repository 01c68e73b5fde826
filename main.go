package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"

	"github.com/ruvm32/ruvm32/config"
	"github.com/ruvm32/ruvm32/diagnostics"
	"github.com/ruvm32/ruvm32/emulator/uvm"
)

var commandHelp = []struct {
	name, help string
}{
	{"harness", "run the two-task demo on the hosted kernel"},
	{"run", "run an RV32 image on the emulator"},
	{"info", "print information about an image"},
	{"objcopy", "convert an image between raw binary and Intel HEX"},
	{"help", "print this help text"},
}

func usage(command string) {
	switch command {
	default:
		fmt.Fprintln(os.Stderr, "ruvm32 runs the two-task kernel demo natively or on an RV32IMA emulator.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "usage:")
		fmt.Fprintln(os.Stderr, "  ruvm32 <command> [arguments]")
		fmt.Fprintln(os.Stderr, "\ncommands:")
		for _, c := range commandHelp {
			fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.help)
		}
		fmt.Fprintln(os.Stderr, "\nfor details, see: ruvm32 help <command>")
	case "harness":
		fmt.Fprintln(os.Stderr, "usage: ruvm32 harness [flags]")
	case "run":
		fmt.Fprintln(os.Stderr, "usage: ruvm32 run [flags] <image.bin|image.hex>")
	case "info":
		fmt.Fprintln(os.Stderr, "usage: ruvm32 info [flags] <image>")
	case "objcopy":
		fmt.Fprintln(os.Stderr, "usage: ruvm32 objcopy -o <output> <image>")
	}
	if command != "" && command != "help" {
		fmt.Fprintln(os.Stderr, "\nflags:")
		flag.PrintDefaults()
	}
}

// handleError prints the error as diagnostics and exits. A guest that asked
// for a non-zero exit code gets it.
func handleError(err error) {
	if err == nil {
		return
	}
	wd, getwdErr := os.Getwd()
	if getwdErr != nil {
		wd = ""
	}
	diagnostics.CreateDiagnostics(err).WriteTo(os.Stderr, wd)
	var exit *uvm.ExitError
	if errors.As(err, &exit) && exit.Code != 0 {
		os.Exit(int(exit.Code))
	}
	os.Exit(1)
}

func newLogger(level zerolog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: colorable.NewColorableStderr(), TimeFormat: "15:04:05.000"}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// loadConfig reads the config file, if any, and applies the flags on top.
// Empty flag values are left alone.
func loadConfig(path string, overrides [][2]string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}
	for _, o := range overrides {
		if o[1] == "" {
			continue
		}
		if err := cfg.Set(o[0], o[1]); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "No command-line arguments supplied.")
		usage("")
		os.Exit(1)
	}
	command := os.Args[1]

	configFile := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log", "", "log level: trace, debug, info, warn, error")
	memorySize := flag.String("memory", "", "RAM size, e.g. 64KB")
	maxSteps := flag.String("max-steps", "", "stop the emulator after this many instructions")
	timerMode := flag.String("timer", "", "timer hook: periodic, trap or none")
	overflowMode := flag.String("overflow", "", "stack overflow policy: notify or halt")
	tickPeriod := flag.String("tick", "", "kernel tick period")
	uart := flag.String("uart", "", "UART output: stdout, stderr or none")
	serialPort := flag.String("serial", "", "forward UART output to this serial port")
	baud := flag.Int("baud", 0, "serial port baud rate")
	traceFile := flag.String("trace", "", "write every executed pc to this file")
	interactive := flag.Bool("interactive", false, "start the monitor instead of running")
	duration := flag.Duration("duration", 0, "stop the harness after this long")
	outpath := flag.String("o", "", "output filename")

	if command == "help" || command == "-h" || command == "--help" {
		if len(os.Args) > 2 {
			usage(os.Args[2])
		} else {
			usage("")
		}
		return
	}
	flag.CommandLine.Parse(os.Args[2:])

	baudValue := ""
	if *baud != 0 {
		baudValue = strconv.Itoa(*baud)
	}
	cfg, err := loadConfig(*configFile, [][2]string{
		{"log_level", *logLevel},
		{"memory_size", *memorySize},
		{"max_steps", *maxSteps},
		{"timer_mode", *timerMode},
		{"overflow_mode", *overflowMode},
		{"tick_period", *tickPeriod},
		{"uart", *uart},
		{"serial.port", *serialPort},
		{"serial.baud", baudValue},
		{"trace_file", *traceFile},
	})
	handleError(err)
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch command {
	case "harness":
		err = runHarness(ctx, cfg, *duration, logger)
	case "run", "info", "objcopy":
		if flag.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "expected exactly one image file")
			usage(command)
			os.Exit(1)
		}
		path := flag.Arg(0)
		switch command {
		case "run":
			start := time.Now()
			err = runImage(ctx, path, cfg, *interactive, logger)
			logger.Debug().Dur("elapsed", time.Since(start)).Msg("run finished")
		case "info":
			err = printInfo(os.Stdout, path, cfg)
		case "objcopy":
			if *outpath == "" {
				fmt.Fprintln(os.Stderr, "no output filename provided (use -o)")
				os.Exit(1)
			}
			err = objcopy(path, *outpath, cfg)
		}
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", command)
		usage("")
		os.Exit(1)
	}
	stop()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	handleError(err)
}
