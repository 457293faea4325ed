package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
)

func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			components, err := initializeComponents(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("initialize components: %w", err)
			}
			defer components.Close()
			return cli.WriteStats(cmd.OutOrStdout(), components.Matcher.Stats(), e.format)
		},
	}
}
