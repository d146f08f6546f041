package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// CompileError carries the compiler diagnostics of a failed build.
type CompileError struct {
	Diagnostics string
}

func (e *CompileError) Error() string {
	return "compilation failed: " + e.Diagnostics
}

// Reason classifies a RuntimeIsolationError.
type Reason string

const (
	ReasonExit     Reason = "exit"
	ReasonOOM      Reason = "oom"
	ReasonTimeout  Reason = "timeout"
	ReasonCanceled Reason = "canceled"
	ReasonRuntime  Reason = "runtime"
	// ReasonDebuggerMissing means the image has no gdb to run.
	ReasonDebuggerMissing Reason = "debugger_missing"
)

// RuntimeIsolationError reports a run that did not finish cleanly. Transcript
// holds whatever the debugger printed before the failure.
type RuntimeIsolationError struct {
	Reason     Reason
	ExitCode   int
	Message    string
	Transcript string
}

func (e *RuntimeIsolationError) Error() string {
	var msg string
	switch e.Reason {
	case ReasonOOM:
		msg = "program exceeded the memory limit"
	case ReasonTimeout:
		msg = "execution timed out"
	case ReasonCanceled:
		msg = "execution canceled"
	case ReasonExit:
		msg = fmt.Sprintf("sandbox exited with status %d", e.ExitCode)
	case ReasonDebuggerMissing:
		msg = `debugger missing: gdb is not installed in the sandbox image, build one with "ctrace image build"`
	default:
		msg = "sandbox failed"
	}
	if m := strings.TrimSpace(e.Message); m != "" {
		msg += ": " + m
	}
	return msg
}

// UnavailableError means the container engine could not be reached.
type UnavailableError struct {
	Message string
}

func (e UnavailableError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return "container runtime unavailable"
	}
	return "container runtime unavailable: " + msg
}

func IsUnavailable(err error) bool {
	var unavailable UnavailableError
	return errors.As(err, &unavailable)
}
