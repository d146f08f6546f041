package gdbscript

import (
	"fmt"
	"strings"
)

// helpersBlock defines the per-round commands. Every one of them is a no-op
// once the inferior has exited and swallows gdb errors, because any error in
// a batch command file aborts gdb with a nonzero status.
//
// Only locals whose value is a bare address are dereferenced; a value
// followed by <symbol> is a function or label address.
const helpersBlock = `python
import re

_ctrace_pointer = re.compile(r'\s*(\w+)\s*=\s*(0x[0-9a-fA-F]+)\b(?!\s*<)')

def ctrace_alive():
    try:
        return gdb.selected_inferior().pid != 0
    except gdb.error:
        return False

def ctrace_locals():
    if not ctrace_alive():
        return
    try:
        gdb.execute('info locals')
    except gdb.error:
        pass

def ctrace_deref():
    if not ctrace_alive():
        return
    try:
        out = gdb.execute('info locals', to_string=True)
    except gdb.error:
        return
    for line in out.splitlines():
        m = _ctrace_pointer.match(line)
        if m:
            try:
                gdb.execute('print *' + m.group(1))
            except gdb.error:
                pass

def ctrace_continue():
    if not ctrace_alive():
        return
    try:
        gdb.execute('continue')
    except gdb.error:
        pass
end`

// Render compiles the directives into a gdb command file.
func (s Script) Render() string {
	var b strings.Builder
	for _, d := range s.Directives {
		b.WriteString(d.command())
		b.WriteByte('\n')
	}
	return b.String()
}

func (d Directive) command() string {
	switch d.Op {
	case OpFile:
		return "file " + d.Arg
	case OpSet:
		return "set " + d.Arg
	case OpHelpers:
		return helpersBlock
	case OpBreak:
		return fmt.Sprintf("break %d", d.Line)
	case OpRun:
		return "run"
	case OpInfoLocals:
		return "python ctrace_locals()"
	case OpDerefPointers:
		return "python ctrace_deref()"
	case OpContinue:
		return "python ctrace_continue()"
	case OpQuit:
		return "quit"
	default:
		return "# " + d.Op.String()
	}
}
