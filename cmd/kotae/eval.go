package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/matcher"
)

func NewEvalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval",
		Short: "Measure top-1 accuracy on rotated and scaled copies of the catalog",
		Long: `Query every indexed question with rotated and rescaled copies of its own
image and report how often it is returned as the first match.`,
		Args: cobra.NoArgs,
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

			report, err := components.Matcher.Evaluate(cmd.Context())
			if errors.Is(err, matcher.ErrIndexEmpty) {
				return errors.New("index is empty; run `kotae rebuild` first")
			}
			if err != nil {
				return fmt.Errorf("eval: %w", err)
			}
			return cli.WriteEval(cmd.OutOrStdout(), report, e.format)
		},
	}
}
