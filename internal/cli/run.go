package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"ctrace/internal/core"
	"ctrace/internal/sandbox"
)

var newRuntime = sandbox.NewRuntime

type runOptions struct {
	timeout    time.Duration
	transcript string
}

// NewRunCommand traces a program on the local container engine, without a
// server.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <file.c>",
		Short: "Trace a C file on the local container engine",
		Long: `Build and trace a C file in a local sandbox and print the trace.

Use "-" to read the source from stdin. The sandbox settings come from the
config file and CTRACE_* environment variables.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "job timeout (default: jobs.timeout from config)")
	cmd.Flags().StringVar(&opts.transcript, "transcript", "", "write the raw debugger transcript to this file")

	return cmd
}

func runRun(cmd *cobra.Command, rootOpts *RootOptions, opts *runOptions, path string) error {
	f := rootOpts.formatter(cmd)

	code, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "cannot read source", err.Error())
	}
	sub, err := core.NewSubmission(code)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, err.Error(), nil)
	}
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err.Error())
	}

	logger := rootOpts.Logger()
	rt, err := newRuntime(cfg.Sandbox.Runtime, cfg.Sandbox.DockerBinary, logger)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeUnavailable, "cannot create sandbox runtime", err.Error())
	}
	if c, ok := rt.(io.Closer); ok {
		defer c.Close()
	}

	timeout := opts.timeout
	if timeout <= 0 {
		timeout = cfg.Jobs.Timeout
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	f.VerboseLog("tracing %s (%d lines) as job %s", path, sub.LineCount(), sub.ID)
	exec := core.NewExecutor(rt, cfg.Sandbox.Policy(), logger, cfg.Sandbox.CleanupTimeout)
	out, runErr := exec.Execute(ctx, sub)

	if opts.transcript != "" && out.Transcript != "" {
		if err := os.WriteFile(opts.transcript, []byte(out.Transcript), 0o644); err != nil {
			logger.Warn("write transcript failed", "path", opts.transcript, "err", err)
		}
	}
	if runErr != nil {
		return failJob(f, runErr)
	}
	return f.Success(out.Trace)
}

// failJob maps a pipeline error to an error code and exit status.
func failJob(f *OutputFormatter, err error) error {
	msg := core.Describe(err)
	var compileErr *sandbox.CompileError
	var isoErr *sandbox.RuntimeIsolationError
	switch {
	case errors.As(err, &compileErr):
		return f.Fail(ExitFailure, ErrCodeCompile, "compilation failed", msg)
	case errors.As(err, &isoErr) && isoErr.Reason == sandbox.ReasonDebuggerMissing:
		return f.Fail(ExitCommandError, ErrCodeUnavailable, "debugger missing", isoErr.Error())
	case errors.As(err, &isoErr):
		return f.Fail(ExitFailure, ErrCodeRuntime, "execution failed", msg)
	case sandbox.IsUnavailable(err):
		return f.Fail(ExitCommandError, ErrCodeUnavailable, msg, nil)
	default:
		return f.Fail(ExitFailure, ErrCodeJob, "trace failed", err.Error())
	}
}
