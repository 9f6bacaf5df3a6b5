package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmmu/printflow/internal/auth"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Client token utilities",
	}

	cmd.AddCommand(newTokenNewCommand())
	return cmd
}

func newTokenNewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Generate a client token and the hash to store in the config",
		Long: `New prints a fresh client token and its sha256 hash. Give the token to the
connecting client (the print manager); add the hash to auth.client_token_hashes
in the config. The plain token is never stored server-side.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, hash, err := auth.NewClientToken()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "token: %s\n", token)
			fmt.Fprintf(out, "hash:  %s\n", hash)
			return nil
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Hash an operator password for auth.operator_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.NewPasswordHasher().HashPassword(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
