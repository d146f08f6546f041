package cli

import (
	"io"

	"github.com/spf13/cobra"

	"ctrace/internal/sandbox"
)

func NewImageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage the sandbox base image",
	}
	cmd.AddCommand(newImageBuildCommand(rootOpts))
	return cmd
}

func newImageBuildCommand(rootOpts *RootOptions) *cobra.Command {
	var tag, from string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the base image jobs compile and debug in",
		Long: `Build the image every job starts FROM: a compiler image with gdb installed.

Job builds run without network access, so gdb has to be in the base image
beforehand. The tag defaults to sandbox.base_image from the config.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err.Error())
			}
			if tag == "" {
				tag = cfg.Sandbox.BaseImage
			}

			logger := rootOpts.Logger()
			rt, err := newRuntime(cfg.Sandbox.Runtime, cfg.Sandbox.DockerBinary, logger)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeUnavailable, "cannot create sandbox runtime", err.Error())
			}
			if c, ok := rt.(io.Closer); ok {
				defer c.Close()
			}

			f.VerboseLog("building %s from %s", tag, from)
			output, err := sandbox.BuildBaseImage(cmd.Context(), rt, tag, from)
			if err != nil {
				if sandbox.IsUnavailable(err) {
					return f.Fail(ExitCommandError, ErrCodeUnavailable, err.Error(), nil)
				}
				f.VerboseLog("%s", output)
				return f.Fail(ExitFailure, ErrCodeRuntime, "base image build failed", err.Error())
			}
			if f.Format == "json" {
				return f.Success(map[string]string{"image": tag})
			}
			return f.Success("built " + tag)
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "image tag (default: sandbox.base_image from config)")
	cmd.Flags().StringVar(&from, "from", sandbox.DefaultCompilerImage, "compiler image to add gdb to")

	return cmd
}
