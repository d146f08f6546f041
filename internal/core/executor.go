package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"ctrace/internal/gdbscript"
	"ctrace/internal/sandbox"
	"ctrace/internal/trace"
)

const defaultCleanupTimeout = 30 * time.Second

// Outcome is what a finished run produced. Transcript is kept even when the
// run failed so the partial output can be archived.
type Outcome struct {
	Trace      trace.Trace
	Transcript string
}

// Executor runs one submission through build, run, parse and reduce.
type Executor struct {
	runtime        sandbox.Runtime
	policy         sandbox.Policy
	logger         *slog.Logger
	cleanupTimeout time.Duration
}

func NewExecutor(rt sandbox.Runtime, policy sandbox.Policy, logger *slog.Logger, cleanupTimeout time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cleanupTimeout <= 0 {
		cleanupTimeout = defaultCleanupTimeout
	}
	return &Executor{runtime: rt, policy: policy, logger: logger, cleanupTimeout: cleanupTimeout}
}

// Execute runs the pipeline for sub. The sandbox is torn down on every path,
// with its own deadline so an expired job context still gets cleaned up.
func (e *Executor) Execute(ctx context.Context, sub Submission) (Outcome, error) {
	if strings.TrimSpace(sub.Code) == "" {
		return Outcome{}, ErrEmptySubmission
	}
	logger := e.logger.With("job_id", sub.ID)

	script := gdbscript.Generate(sandbox.BinaryPath, sub.LineCount())
	env, err := sandbox.NewEnvironment(sub.ID, sub.Code, script, e.policy)
	if err != nil {
		return Outcome{}, &StageError{Stage: StagePrepare, Err: err}
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cleanupTimeout)
		defer cancel()
		if err := env.Close(cleanupCtx, e.runtime); err != nil {
			logger.Warn("sandbox cleanup failed", "err", err)
		}
	}()

	start := time.Now()
	if err := env.Build(ctx, e.runtime); err != nil {
		return Outcome{}, &StageError{Stage: StageBuild, Err: err}
	}
	logger.Debug("build finished", "lines", script.Lines, "duration", time.Since(start))

	start = time.Now()
	transcript, err := env.Run(ctx, e.runtime)
	if err != nil {
		var out Outcome
		var isoErr *sandbox.RuntimeIsolationError
		if errors.As(err, &isoErr) {
			out.Transcript = isoErr.Transcript
		}
		return out, &StageError{Stage: StageRun, Err: err}
	}
	logger.Debug("run finished", "bytes", len(transcript), "duration", time.Since(start))

	tr, err := trace.Extract(strings.NewReader(transcript))
	if err != nil {
		return Outcome{Transcript: transcript}, &StageError{Stage: StageParse, Err: err}
	}
	logger.Debug("trace extracted", "steps", len(tr))
	return Outcome{Trace: tr, Transcript: transcript}, nil
}
