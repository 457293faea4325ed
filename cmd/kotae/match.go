package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/matcher"
)

func NewMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <image>",
		Short: "Find the closest catalog questions for an image",
		Long: `Match a question image against the index and print the answers of the
closest questions with their similarity, calibrated confidence and the
top1-top2 margin.

Examples:
  kotae match photo.jpg
  kotae match --top-k 3 screenshot.png
  kotae match -o json photo.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: runMatch,
	}
	cmd.Flags().IntP("top-k", "k", 0, "Number of matches (default from config)")
	return cmd
}

func runMatch(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	topK, _ := cmd.Flags().GetInt("top-k")
	if topK < 0 {
		return fmt.Errorf("--top-k must be positive")
	}

	components, err := initializeComponents(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}
	defer components.Close()

	resp, err := components.Matcher.FindMatches(cmd.Context(), args[0], topK)
	switch {
	case errors.Is(err, matcher.ErrIndexEmpty):
		return errors.New("index is empty; run `kotae rebuild` first")
	case errors.Is(err, matcher.ErrExtraction):
		return fmt.Errorf("could not read image %s: %w", args[0], err)
	case err != nil:
		return fmt.Errorf("match: %w", err)
	}
	return cli.WriteMatches(cmd.OutOrStdout(), resp, e.format)
}
