package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
)

func NewRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from the catalog and images",
		Long: `Embed every catalog row whose image can be found and replace the persisted
index. Rows with missing or unreadable images are counted and skipped.`,
		Args: cobra.NoArgs,
		RunE: runRebuild,
	}
	cmd.Flags().String("catalog", "", "Catalog file (overrides catalog.path)")
	cmd.Flags().String("images", "", "Images directory (overrides catalog.images_dir)")
	return cmd
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	if v, _ := cmd.Flags().GetString("catalog"); v != "" {
		e.cfg.Catalog.Path = v
	}
	if v, _ := cmd.Flags().GetString("images"); v != "" {
		e.cfg.Catalog.ImagesDir = v
	}

	components, err := initializeComponents(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}
	defer components.Close()

	report, stats, err := components.Matcher.Rebuild(cmd.Context())
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	return cli.WriteRebuild(cmd.OutOrStdout(), report, stats, e.format)
}
