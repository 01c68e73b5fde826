//go:build tinygo.riscv

// Demo image for the RV32 target: the two example tasks on the reference
// kernel, raising real ecalls that the emulator serves.
package main

import (
	"github.com/rs/zerolog"

	"github.com/ruvm32/ruvm32/src/harness"
	"github.com/ruvm32/ruvm32/src/kernel"
	"github.com/ruvm32/ruvm32/src/trap"
)

func main() {
	k := kernel.NewSim(zerolog.Nop())
	harness.New(k, trap.Default(nil), harness.Options{Timer: harness.TimerTrap}).Main()
}
