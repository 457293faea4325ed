package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// NewRootCmd builds the kotae command tree.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kotae",
		Short: "Find the answer to a question image",
		Long: `kotae matches a photo or screenshot of a question against a labeled catalog
of question images and returns the stored answers of the closest questions.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	addPersistentFlags(rootCmd)
	rootCmd.AddCommand(
		NewServerCmd(),
		NewMatchCmd(),
		NewRebuildCmd(),
		NewStatsCmd(),
		NewEvalCmd(),
		NewInitCmd(),
		NewVersionCmd(version),
	)
	return rootCmd
}

func addPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", defaultConfigPath, "Config file path")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("output", "o", "text", "Output format (text|json)")
}
