package gdbscript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateBreakpointsAndRounds(t *testing.T) {
	tests := []struct {
		name  string
		lines int
	}{
		{"empty", 0},
		{"single line", 1},
		{"small program", 12},
		{"large program", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Generate("/app/main", tt.lines)
			assert.Equal(t, tt.lines+1, s.Breakpoints())
			assert.Equal(t, 2*tt.lines, s.Rounds())
			assert.Equal(t, 2*tt.lines, s.Count(OpInfoLocals))
			assert.Equal(t, 2*tt.lines, s.Count(OpDerefPointers))
			assert.Equal(t, 1, s.Count(OpRun))
			assert.Equal(t, 1, s.Count(OpQuit))
		})
	}
}

func TestGenerateNegativeLinesClamp(t *testing.T) {
	s := Generate("/app/main", -3)
	assert.Equal(t, 0, s.Lines)
	assert.Equal(t, 1, s.Breakpoints())
	assert.Equal(t, 0, s.Rounds())
}

func TestGenerateOrder(t *testing.T) {
	s := Generate("/app/main", 2)
	require.NotEmpty(t, s.Directives)

	assert.Equal(t, Directive{Op: OpFile, Arg: "/app/main"}, s.Directives[0])
	assert.Equal(t, OpQuit, s.Directives[len(s.Directives)-1].Op)

	var breaks []int
	runAt, helpersAt := -1, -1
	for i, d := range s.Directives {
		switch d.Op {
		case OpHelpers:
			require.Equal(t, -1, helpersAt, "helpers defined twice")
			require.Empty(t, breaks, "helpers after a breakpoint")
			helpersAt = i
		case OpBreak:
			require.Equal(t, -1, runAt, "breakpoint after run")
			breaks = append(breaks, d.Line)
		case OpRun:
			runAt = i
		case OpInfoLocals, OpDerefPointers, OpContinue:
			require.NotEqual(t, -1, runAt, "%s before run", d.Op)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, breaks)
	assert.NotEqual(t, -1, helpersAt)

	rounds := s.Directives[runAt+1 : len(s.Directives)-1]
	require.Len(t, rounds, 12)
	for i := 0; i < len(rounds); i += 3 {
		assert.Equal(t, OpInfoLocals, rounds[i].Op)
		assert.Equal(t, OpDerefPointers, rounds[i+1].Op)
		assert.Equal(t, OpContinue, rounds[i+2].Op)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	assert.Equal(t, Generate("/app/main", 7), Generate("/app/main", 7))
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "deref-pointers", OpDerefPointers.String())
	assert.Equal(t, "op(99)", Op(99).String())
}
