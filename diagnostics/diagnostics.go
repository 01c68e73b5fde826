// Package diagnostics turns run errors into messages and prints them in a
// consistent way.
package diagnostics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/ruvm32/ruvm32/config"
	"github.com/ruvm32/ruvm32/emulator/rv32"
	"github.com/ruvm32/ruvm32/emulator/uvm"
)

// A single diagnostic.
type Diagnostic struct {
	Path string // file the error is about, if any

	// Guest program counter, if the error happened while running.
	PC    uint32
	HasPC bool

	Msg string
}

// Diagnostics of a whole run. A run can fail for more than one reason when
// errors are joined.
type Diagnostics []Diagnostic

// CreateDiagnostics reads the underlying errors in the error object and
// creates a set of diagnostics that's sorted and can be readily printed.
func CreateDiagnostics(err error) Diagnostics {
	if err == nil {
		return nil
	}
	var diags Diagnostics
	for _, err := range flatten(err) {
		diags = append(diags, createDiagnostic(err))
	}

	// File errors first, by path; then guest errors by pc.
	sort.SliceStable(diags, func(i, j int) bool {
		di, dj := diags[i], diags[j]
		if (di.Path == "") != (dj.Path == "") {
			return di.Path != ""
		}
		if di.Path != dj.Path {
			return di.Path < dj.Path
		}
		if di.HasPC != dj.HasPC {
			return !di.HasPC
		}
		return di.PC < dj.PC
	})
	return diags
}

// flatten splits errors created by errors.Join.
func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var errs []error
		for _, err := range joined.Unwrap() {
			errs = append(errs, flatten(err)...)
		}
		return errs
	}
	return []error{err}
}

func createDiagnostic(err error) Diagnostic {
	var (
		fault   *uvm.Fault
		exit    *uvm.ExitError
		cfgErr  *config.Error
		pathErr *fs.PathError
	)
	switch {
	case errors.As(err, &fault):
		w := &bytes.Buffer{}
		fmt.Fprintf(w, "%s (mcause=%d, mtval=%08x) after %d instructions\n",
			fault.Trap, fault.Trap.Cause(), fault.Value, fault.Steps)
		fmt.Fprintln(w, "\nregisters:")
		for i := 0; i < len(fault.Regs); i += 4 {
			for j := i; j < i+4; j++ {
				fmt.Fprintf(w, "  %-4s %08x", rv32.RegNames[j], fault.Regs[j])
			}
			fmt.Fprintln(w)
		}
		return Diagnostic{PC: fault.PC, HasPC: true, Msg: w.String()}
	case errors.As(err, &exit):
		return Diagnostic{Msg: fmt.Sprintf("guest exited with code %d", exit.Code)}
	case errors.As(err, &cfgErr):
		return Diagnostic{Msg: cfgErr.Error()}
	case errors.As(err, &pathErr):
		return Diagnostic{Path: pathErr.Path, Msg: err.Error()}
	default:
		return Diagnostic{Msg: err.Error()}
	}
}

// Write all diagnostics to the given writer with 'wd' as the relative
// working directory.
func (diags Diagnostics) WriteTo(w io.Writer, wd string) {
	for _, diag := range diags {
		diag.WriteTo(w, wd)
	}
}

// Write this diagnostic to the given writer with 'wd' as the relative working
// directory.
func (diag Diagnostic) WriteTo(w io.Writer, wd string) {
	prefix := ""
	if diag.Path != "" {
		prefix = RelativePath(diag.Path, wd) + ": "
	}
	if diag.HasPC {
		prefix += fmt.Sprintf("pc=%08x: ", diag.PC)
	}
	fmt.Fprint(w, prefix, diag.Msg)
	if n := len(diag.Msg); n == 0 || diag.Msg[n-1] != '\n' {
		fmt.Fprintln(w)
	}
}

// RelativePath makes path relative to wd if possible, for easier reading.
// Errors are ignored, falling back to the path as given.
func RelativePath(path, wd string) string {
	if wd == "" || !filepath.IsAbs(path) {
		return path
	}
	if rel, err := filepath.Rel(wd, path); err == nil {
		return rel
	}
	return path
}
