// Package config holds the settings of a run: the machine layout, the
// harness policies and where the guest's output goes.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"github.com/ruvm32/ruvm32/src/harness"
	"github.com/ruvm32/ruvm32/src/machine"
)

var (
	ErrUnknownKey = errors.New("config: unknown key")
	ErrBadValue   = errors.New("config: invalid value")
)

// Error reports a setting that could not be applied.
type Error struct {
	Key   string
	Value string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UART destinations.
const (
	UARTStdout = "stdout"
	UARTStderr = "stderr"
	UARTNone   = "none"
)

const DefaultBaud = 115200

type Serial struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type Config struct {
	RAMBase    uint32
	MemorySize uint32
	MaxSteps   uint64 // zero means no limit
	LogLevel   zerolog.Level
	TickPeriod time.Duration
	Timer      harness.TimerMode
	Overflow   harness.OverflowMode
	UART       string
	Serial     Serial
	TraceFile  string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		RAMBase:    machine.RAMBase,
		MemorySize: machine.DefaultRAMSize,
		LogLevel:   zerolog.InfoLevel,
		TickPeriod: harness.DefaultTickPeriod,
		Timer:      harness.TimerPeriodic,
		Overflow:   harness.OverflowNotify,
		UART:       UARTStdout,
		Serial:     Serial{Baud: DefaultBaud},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// value accepts any YAML scalar, so that unquoted numbers such as a hex
// RAM base read the same as strings.
type value string

func (v *value) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw != nil {
		*v = value(fmt.Sprint(raw))
	}
	return nil
}

type file struct {
	RAMBase      value  `yaml:"ram_base"`
	MemorySize   value  `yaml:"memory_size"`
	MaxSteps     value  `yaml:"max_steps"`
	LogLevel     value  `yaml:"log_level"`
	TickPeriod   value  `yaml:"tick_period"`
	TimerMode    value  `yaml:"timer_mode"`
	OverflowMode value  `yaml:"overflow_mode"`
	UART         value  `yaml:"uart"`
	Serial       Serial `yaml:"serial"`
	TraceFile    value  `yaml:"trace_file"`
}

// Parse reads YAML settings on top of the defaults. Unknown keys are an
// error.
func Parse(data []byte) (Config, error) {
	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c := Default()
	settings := []struct {
		key string
		val value
	}{
		{"ram_base", f.RAMBase},
		{"memory_size", f.MemorySize},
		{"max_steps", f.MaxSteps},
		{"log_level", f.LogLevel},
		{"tick_period", f.TickPeriod},
		{"timer_mode", f.TimerMode},
		{"overflow_mode", f.OverflowMode},
		{"uart", f.UART},
		{"serial.port", value(f.Serial.Port)},
		{"trace_file", f.TraceFile},
	}
	for _, s := range settings {
		if s.val == "" {
			continue
		}
		if err := c.Set(s.key, string(s.val)); err != nil {
			return Config{}, err
		}
	}
	if f.Serial.Baud != 0 {
		if err := c.Set("serial.baud", strconv.Itoa(f.Serial.Baud)); err != nil {
			return Config{}, err
		}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Set applies one setting by its file key. Command line flags go through
// here too.
func (c *Config) Set(key, val string) error {
	err := c.set(key, val)
	if err != nil {
		return &Error{Key: key, Value: val, Err: err}
	}
	return nil
}

func (c *Config) set(key, val string) error {
	switch key {
	case "ram_base":
		n, err := strconv.ParseUint(val, 0, 32)
		if err != nil || n == 0 {
			return ErrBadValue
		}
		c.RAMBase = uint32(n)
	case "memory_size":
		n, err := ParseSize(val)
		if err != nil {
			return err
		}
		c.MemorySize = n
	case "max_steps":
		n, err := strconv.ParseUint(val, 0, 64)
		if err != nil {
			return ErrBadValue
		}
		c.MaxSteps = n
	case "log_level":
		l, err := zerolog.ParseLevel(val)
		if err != nil {
			return ErrBadValue
		}
		c.LogLevel = l
	case "tick_period":
		d, err := time.ParseDuration(val)
		if err != nil || d < 0 {
			return ErrBadValue
		}
		c.TickPeriod = d
	case "timer_mode":
		m, err := harness.ParseTimerMode(val)
		if err != nil {
			return err
		}
		c.Timer = m
	case "overflow_mode":
		m, err := harness.ParseOverflowMode(val)
		if err != nil {
			return err
		}
		c.Overflow = m
	case "uart":
		switch val {
		case UARTStdout, UARTStderr, UARTNone:
			c.UART = val
		default:
			return ErrBadValue
		}
	case "serial.port":
		c.Serial.Port = val
	case "serial.baud":
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return ErrBadValue
		}
		c.Serial.Baud = n
	case "trace_file":
		c.TraceFile = val
	default:
		return ErrUnknownKey
	}
	return nil
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	if c.RAMBase == 0 {
		return &Error{Key: "ram_base", Value: "0", Err: ErrBadValue}
	}
	if err := machine.CheckRAM(c.RAMBase, c.MemorySize); err != nil {
		return &Error{Key: "memory_size", Value: c.Size().String(), Err: err}
	}
	return nil
}

// Size returns the RAM size.
func (c *Config) Size() bytesize.ByteSize {
	return bytesize.New(float64(c.MemorySize))
}

// ParseSize reads a byte count, either as a plain number or with a unit
// such as "64KB".
func ParseSize(s string) (uint32, error) {
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return uint32(n), nil
	}
	b, err := bytesize.Parse(s)
	if err != nil {
		return 0, ErrBadValue
	}
	if b < 0 || float64(b) > math.MaxUint32 {
		return 0, machine.ErrRAMTooLarge
	}
	return uint32(b), nil
}
