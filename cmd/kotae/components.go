package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/index"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/matcher"
	"github.com/hyperjump/kotae/internal/orb"
	"github.com/hyperjump/kotae/internal/roi"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence so "kotae server" run from a project
// directory uses that project's config. A missing default config falls back to
// built-in defaults. Returns the config and the path actually used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// env is what every command needs after flag parsing.
type env struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	format     cli.OutputFormat
	debug      bool
}

func newEnv(cmd *cobra.Command) (*env, error) {
	configPath, _ := cmd.Flags().GetString("config")
	debugFlag, _ := cmd.Flags().GetBool("debug")
	output, _ := cmd.Flags().GetString("output")

	format, err := cli.ParseOutputFormat(output)
	if err != nil {
		return nil, err
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	if resolved == "" {
		logger.Debug("No config file found, using defaults")
	} else {
		logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	}
	return &env{cfg: cfg, configPath: resolved, logger: logger, format: format, debug: debug}, nil
}

// Components holds initialized services.
type Components struct {
	Encoder embedding.Encoder
	Matcher *matcher.Service
}

// Close releases the live index and the encoder.
func (c *Components) Close() {
	if c.Matcher != nil {
		_ = c.Matcher.Close()
	}
	if c.Encoder != nil {
		_ = c.Encoder.Close()
	}
}

func newEncoder(cfg *config.EmbeddingConfig, logger *zap.Logger) embedding.Encoder {
	enc, err := embedding.NewONNXEncoder(cfg, logger)
	if err != nil {
		logger.Warn("ONNX encoder unavailable, falling back to thumbnail embeddings",
			zap.String("model", cfg.ResolvedModelPath()), zap.Error(err))
		return embedding.NewThumbnailEncoder(cfg.Dimensions)
	}
	return enc
}

// vectorFactory returns a factory for the configured index type. If that type
// cannot be created (FAISS not compiled in, Postgres unreachable) it falls back
// to the in-memory index.
func vectorFactory(cfg *config.VectorConfig, dims int, logger *zap.Logger) (index.VectorFactory, error) {
	vcfg := *cfg
	trial, err := vector.NewVectorIndex(&vcfg, dims)
	if err != nil {
		if vcfg.IndexType == string(vector.IndexTypeMemory) || vcfg.IndexType == "" {
			return nil, fmt.Errorf("create vector index: %w", err)
		}
		logger.Warn("failed to create vector index, falling back to memory",
			zap.String("requested_type", vcfg.IndexType), zap.Error(err))
		vcfg.IndexType = string(vector.IndexTypeMemory)
	} else {
		_ = trial.Close()
	}
	logger.Debug("vector index selected",
		zap.String("type", vcfg.IndexType),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))
	return func() (vector.VectorIndex, error) {
		return vector.NewVectorIndex(&vcfg, dims)
	}, nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	encoder := newEncoder(&cfg.Embedding, logger)
	dims := encoder.Dimensions()
	logger.Info("encoder ready",
		zap.Int("dimensions", dims),
		zap.String("device", string(encoder.Device())))

	newVectors, err := vectorFactory(&cfg.Vector, dims, logger)
	if err != nil {
		_ = encoder.Close()
		return nil, err
	}

	detector := roi.NewDetector(&cfg.ROI, roi.WithLogger(logger))
	extractor := embedding.NewExtractor(encoder, detector, &cfg.ROI,
		embedding.WithLogger(logger),
		embedding.WithCache(cfg.Embedding.CacheSize))

	ix, err := index.New(&cfg.Storage, newVectors, index.WithLogger(logger))
	if err != nil {
		_ = encoder.Close()
		return nil, err
	}
	if err := ix.Load(ctx); err != nil {
		_ = ix.Close()
		_ = encoder.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}

	builder := indexer.NewBuilder(extractor, &cfg.Storage, newVectors, indexer.WithLogger(logger))
	scorer := orb.NewScorer(&cfg.Rerank, detector, orb.WithLogger(logger))
	svc := matcher.NewService(ix, extractor, scorer, builder, cfg, matcher.WithLogger(logger))

	return &Components{Encoder: encoder, Matcher: svc}, nil
}
