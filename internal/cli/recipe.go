package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmmu/printflow/internal/config"
	"github.com/openmmu/printflow/internal/materials"
	"github.com/openmmu/printflow/internal/recipe"
)

func newRecipeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Recipe utilities",
	}

	cmd.AddCommand(newRecipeValidateCommand())
	return cmd
}

func newRecipeValidateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate <recipe>",
		Short: "Parse a recipe text against the material catalog",
		Long: `Validate checks a recipe like "A,50:B,120" without loading it: layers must
be strictly increasing and every material must exist in the configured
catalog. Exits non-zero with the parse error when invalid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			catalog, err := materials.LoadCatalog(cfg.Materials.CatalogPath)
			if err != nil {
				return err
			}

			r, err := recipe.Parse(args[0], catalog)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Valid: %d material changes\n", r.Len())
			for _, e := range r.Entries() {
				mat, _ := catalog.Get(e.Material)
				fmt.Fprintf(out, "  layer %d -> %s (%s)\n", e.Layer, e.Material, mat.Pump)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the config file")
	return cmd
}
