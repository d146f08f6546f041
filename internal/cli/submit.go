package cli

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type submitOptions struct {
	server   string
	wait     bool
	interval time.Duration
	timeout  time.Duration
}

func defaultServerURL() string {
	if s := os.Getenv("CTRACE_SERVER"); s != "" {
		return s
	}
	return defaultServer
}

func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &submitOptions{}

	cmd := &cobra.Command{
		Use:   "submit <file.c>",
		Short: "Submit a C file to a ctrace server",
		Long: `Submit a C file to a ctrace server and print the task id.

With --wait the command polls until the task finishes and prints the trace.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", defaultServerURL(), "server base URL")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "wait for the task to finish")
	cmd.Flags().DurationVar(&opts.interval, "interval", 500*time.Millisecond, "poll interval with --wait")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "give up waiting after this long")

	return cmd
}

func runSubmit(cmd *cobra.Command, rootOpts *RootOptions, opts *submitOptions, path string) error {
	f := rootOpts.formatter(cmd)
	code, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "cannot read source", err.Error())
	}

	client := NewClient(opts.server)
	id, err := client.Submit(cmd.Context(), code)
	if err != nil {
		return failRequest(f, "submit failed", err)
	}
	f.VerboseLog("submitted task %s", id)
	if !opts.wait {
		if f.Format == "json" {
			return f.Success(map[string]string{"task_id": id})
		}
		return f.Success(id)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	res, err := client.Wait(ctx, id, opts.interval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return f.Fail(ExitFailure, ErrCodeJob, "task "+id+" still pending", nil)
		}
		return failRequest(f, "poll failed", err)
	}
	return reportTask(f, res)
}

func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:           "poll <task-id>",
		Short:         "Show the status and result of a task",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			res, err := NewClient(server).Result(cmd.Context(), args[0])
			if err != nil {
				return failRequest(f, "poll failed", err)
			}
			return reportTask(f, res)
		},
	}

	cmd.Flags().StringVar(&server, "server", defaultServerURL(), "server base URL")

	return cmd
}

func reportTask(f *OutputFormatter, res TaskResult) error {
	switch {
	case res.Status == "failure":
		msg := ""
		if res.Error != nil {
			msg = *res.Error
		}
		return f.Fail(ExitFailure, ErrCodeJob, "task "+res.TaskID+" failed", msg)
	case f.Format == "json":
		return f.Success(res)
	case res.Pending():
		return f.Success("task " + res.TaskID + " is pending")
	default:
		return f.Success(res.Result)
	}
}

func failRequest(f *OutputFormatter, message string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return f.Fail(ExitCommandError, ErrCodeServer, message, apiErr.Message)
	}
	return f.Fail(ExitCommandError, ErrCodeServer, message, err.Error())
}
