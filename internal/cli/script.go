package cli

import (
	"github.com/spf13/cobra"

	"ctrace/internal/core"
	"ctrace/internal/gdbscript"
	"ctrace/internal/sandbox"
)

// ScriptResult is the JSON form of a generated debugger script.
type ScriptResult struct {
	Binary      string `json:"binary"`
	Lines       int    `json:"lines"`
	Breakpoints int    `json:"breakpoints"`
	Rounds      int    `json:"rounds"`
	Script      string `json:"script"`
}

func NewScriptCommand(rootOpts *RootOptions) *cobra.Command {
	var binary string

	cmd := &cobra.Command{
		Use:   "script <file.c>",
		Short: "Print the gdb script generated for a C file",
		Args:  cobra.ExactArgs(1),

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			code, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeInput, "cannot read source", err.Error())
			}
			script := gdbscript.Generate(binary, core.LineCount(code))
			if f.Format == "json" {
				return f.Success(ScriptResult{
					Binary:      script.Binary,
					Lines:       script.Lines,
					Breakpoints: script.Breakpoints(),
					Rounds:      script.Rounds(),
					Script:      script.Render(),
				})
			}
			_, err = cmd.OutOrStdout().Write([]byte(script.Render()))
			return err
		},
	}

	cmd.Flags().StringVar(&binary, "binary", sandbox.BinaryPath, "executable path inside the sandbox")

	return cmd
}
