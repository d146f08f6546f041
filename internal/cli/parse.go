package cli

import (
	"github.com/spf13/cobra"

	"ctrace/internal/trace"
)

// NewParseCommand reduces a saved debugger transcript offline.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "parse <transcript>",
		Short: "Extract a trace from a saved gdb transcript",
		Long: `Parse a gdb transcript, such as one written by "ctrace run --transcript"
or archived by the server, and print the reduced trace. Use "-" for stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			transcript, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInput, "cannot read transcript", err.Error())
			}
			steps := trace.ParseString(transcript)
			f.VerboseLog("%d breakpoint hits", len(steps))
			if raw {
				return f.Success(steps)
			}
			return f.Success(trace.Reduce(steps))
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print every breakpoint hit without deduplication")

	return cmd
}
