// Package cli provides the printflow command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command. version is stamped at build time.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "printflow",
		Short: "Multi-material orchestration for resin printers",
		Long: `printflow drives automated material changes on a networked resin printer:
it watches print progress over the printer's TCP protocol and, at the layers
a recipe names, pauses the print, swaps the vat contents with calibrated
pumps, and resumes.

The daemon is "printflow serve". The other commands are operator utilities
and never touch hardware.`,
		Version: version,
		// Errors are printed once by main, not twice by cobra.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(version),
		newRecipeCommand(),
		newTokenCommand(),
		newHashPasswordCommand(),
	)

	return root
}
