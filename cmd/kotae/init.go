package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kotae/internal/config"
)

const sampleCatalog = "filename,answer\nq001.jpg,A\nq002.jpg,C\n"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a config, a sample catalog and the images directory",
		Long: `Set up a working directory: config.yaml with paths relative to it, a sample
questions.csv (columns filename,answer) and an empty question-images directory.
Existing files are left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInit,
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing config and catalog")
	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")
	out := cmd.OutOrStdout()

	cfg := config.Default()
	cfg.Catalog.Path = "./questions.csv"
	cfg.Catalog.ImagesDir = "./question-images"
	cfg.Storage.IndexPath = "./data/image_index.idx"
	cfg.Storage.MetadataPath = "./data/image_metadata.db"
	cfg.Embedding.ModelsDir = "./models"
	cfg.Embedding.ModelPath = "./models/" + cfg.Embedding.ModelName + "-" + cfg.Embedding.Pretrained + ".onnx"

	imagesDir := filepath.Join(dir, "question-images")
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}
	fmt.Fprintf(out, "images directory: %s\n", imagesDir)

	configPath := filepath.Join(dir, "config.yaml")
	if wrote, err := writeUnlessExists(configPath, force, func() error { return config.Save(configPath, cfg) }); err != nil {
		return err
	} else if wrote {
		fmt.Fprintf(out, "wrote config:     %s\n", configPath)
	} else {
		fmt.Fprintf(out, "kept config:      %s\n", configPath)
	}

	catalogPath := filepath.Join(dir, "questions.csv")
	write := func() error { return os.WriteFile(catalogPath, []byte(sampleCatalog), 0644) }
	if wrote, err := writeUnlessExists(catalogPath, force, write); err != nil {
		return err
	} else if wrote {
		fmt.Fprintf(out, "wrote catalog:    %s\n", catalogPath)
	} else {
		fmt.Fprintf(out, "kept catalog:     %s\n", catalogPath)
	}

	fmt.Fprintln(out, "\nAdd question images, list them in questions.csv, then run `kotae rebuild`.")
	return nil
}

func writeUnlessExists(path string, force bool, write func() error) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	if err := write(); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
