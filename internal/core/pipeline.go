package core

import (
	"errors"
	"fmt"
	"strings"

	"ctrace/internal/sandbox"
)

// Stage names one step of a job. Stages run strictly in order.
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageBuild   Stage = "build"
	StageRun     Stage = "run"
	StageParse   Stage = "parse"
)

// StageError tells which stage stopped a job.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

const transcriptTailLines = 20

// Describe renders a job failure for the user. Only sandbox errors are shown
// in full; anything else could leak host details.
func Describe(err error) string {
	var compileErr *sandbox.CompileError
	if errors.As(err, &compileErr) {
		return compileErr.Diagnostics
	}
	var isoErr *sandbox.RuntimeIsolationError
	if errors.As(err, &isoErr) {
		msg := isoErr.Error()
		if tail := lastLines(isoErr.Transcript, transcriptTailLines); tail != "" {
			msg += "\n" + tail
		}
		return msg
	}
	var unavailable sandbox.UnavailableError
	if errors.As(err, &unavailable) {
		if m := strings.TrimSpace(unavailable.Message); m != "" {
			return "sandbox unavailable: " + m
		}
		return "sandbox unavailable"
	}
	if errors.Is(err, ErrEmptySubmission) {
		return ErrEmptySubmission.Error()
	}
	return "internal error"
}

func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\r\n \t")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
