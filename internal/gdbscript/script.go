// Package gdbscript builds the debugger session that instruments every line
// of a submitted program.
//
// A Script is an ordered list of directives. It is only turned into gdb
// command syntax by Render, so the shape of a session can be inspected and
// tested without comparing strings.
package gdbscript

import "fmt"

// Op identifies what a directive asks the debugger to do.
type Op int

const (
	OpFile Op = iota
	OpSet
	OpHelpers
	OpBreak
	OpRun
	OpInfoLocals
	OpDerefPointers
	OpContinue
	OpQuit
)

func (o Op) String() string {
	switch o {
	case OpFile:
		return "file"
	case OpSet:
		return "set"
	case OpHelpers:
		return "helpers"
	case OpBreak:
		return "break"
	case OpRun:
		return "run"
	case OpInfoLocals:
		return "info-locals"
	case OpDerefPointers:
		return "deref-pointers"
	case OpContinue:
		return "continue"
	case OpQuit:
		return "quit"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Directive is one step of the debugger session.
type Directive struct {
	Op   Op
	Arg  string // target path for OpFile, setting for OpSet
	Line int    // source line for OpBreak
}

// Script is the full instrumentation session for one executable.
type Script struct {
	Binary     string
	Lines      int
	Directives []Directive
}

// Settings keep the transcript one-record-per-line and the session
// non-interactive. Pending breakpoints stop `break L+1` from aborting a
// batch run when the last line holds no code.
var Settings = []string{
	"pagination off",
	"width 0",
	"confirm off",
	"print pretty off",
	"breakpoint pending on",
	"disable-randomization off",
}

// Generate instruments every line of a source file with lines lines for the
// executable at binary. One extra breakpoint covers the end-of-file boundary,
// and the session continues at most 2*lines times so that loops cannot keep
// it alive forever. Rounds left over after the program exits do nothing, so
// a short run still ends the session cleanly.
func Generate(binary string, lines int) Script {
	if lines < 0 {
		lines = 0
	}
	rounds := 2 * lines
	directives := make([]Directive, 0, 3+len(Settings)+(lines+1)+3*rounds+1)
	directives = append(directives, Directive{Op: OpFile, Arg: binary})
	for _, setting := range Settings {
		directives = append(directives, Directive{Op: OpSet, Arg: setting})
	}
	directives = append(directives, Directive{Op: OpHelpers})
	for line := 1; line <= lines+1; line++ {
		directives = append(directives, Directive{Op: OpBreak, Line: line})
	}
	directives = append(directives, Directive{Op: OpRun})
	for i := 0; i < rounds; i++ {
		directives = append(directives,
			Directive{Op: OpInfoLocals},
			Directive{Op: OpDerefPointers},
			Directive{Op: OpContinue},
		)
	}
	directives = append(directives, Directive{Op: OpQuit})
	return Script{Binary: binary, Lines: lines, Directives: directives}
}

// Count returns how many directives use op.
func (s Script) Count(op Op) int {
	n := 0
	for _, d := range s.Directives {
		if d.Op == op {
			n++
		}
	}
	return n
}

// Breakpoints returns the number of line breakpoints in the session.
func (s Script) Breakpoints() int {
	return s.Count(OpBreak)
}

// Rounds returns how many times the session resumes the target.
func (s Script) Rounds() int {
	return s.Count(OpContinue)
}
