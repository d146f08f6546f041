package cli

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ctrace/internal/security"
)

func NewKeysCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the ledger signing key",
	}
	cmd.AddCommand(newKeysGenerateCommand(rootOpts))
	return cmd
}

func newKeysGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:           "generate",
		Short:         "Generate an ed25519 key pair for signing ledger blocks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if dir == "" {
				cfg, err := rootOpts.loadConfig()
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err.Error())
				}
				dir = cfg.Ledger.KeysDir
			}
			if _, err := os.Stat(filepath.Join(dir, security.PrivateKeyFile)); err == nil && !force {
				return f.Fail(ExitCommandError, ErrCodeInput, "key pair already exists in "+dir, "use --force to replace it")
			}

			kp, err := security.GenerateKeyPair()
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeInput, "key generation failed", err.Error())
			}
			if err := kp.Save(dir); err != nil {
				return f.Fail(ExitCommandError, ErrCodeInput, "cannot write keys", err.Error())
			}
			pub := hex.EncodeToString(kp.Public)
			if f.Format == "json" {
				return f.Success(map[string]string{"dir": dir, "public_key": pub})
			}
			return f.Success(fmt.Sprintf("wrote %s and %s to %s\npublic key: %s",
				security.PublicKeyFile, security.PrivateKeyFile, dir, pub))
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "key directory (default: ledger.keys_dir from config)")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key pair")

	return cmd
}
