// Package config provides configuration loading and structs for the kotae server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	ROI       ROIConfig       `yaml:"roi"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// StorageConfig holds paths of the persisted vector index and metadata database.
type StorageConfig struct {
	IndexPath    string `yaml:"index_path"`
	MetadataPath string `yaml:"metadata_path"`
}

// CatalogConfig points at the labeled question catalog and its image directory.
type CatalogConfig struct {
	Path      string `yaml:"path"`
	ImagesDir string `yaml:"images_dir"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	// IndexType is one of memory, faiss, annoy, pgvector.
	IndexType     string `yaml:"index_type"`
	AnnoyTrees    int    `yaml:"annoy_trees"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table"`
}

// EmbeddingConfig holds ONNX vision encoder settings.
type EmbeddingConfig struct {
	ModelName      string `yaml:"model_name"`
	Pretrained     string `yaml:"pretrained"`
	ModelsDir      string `yaml:"models_dir"`
	ModelPath      string `yaml:"model_path"`
	CheckpointPath string `yaml:"checkpoint_path"`
	RuntimeLibrary string `yaml:"runtime_library"`
	Dimensions     int    `yaml:"dimensions"`
	ImageSize      int    `yaml:"image_size"`
	InputName      string `yaml:"input_name"`
	OutputName     string `yaml:"output_name"`
	CacheSize      int    `yaml:"cache_size"`
	// Device is auto, cpu or cuda.
	Device string `yaml:"device"`
}

// ResolvedModelPath returns the fine-tuned checkpoint when it exists on disk,
// otherwise the base model path.
func (e *EmbeddingConfig) ResolvedModelPath() string {
	if e.CheckpointPath != "" {
		if _, err := os.Stat(e.CheckpointPath); err == nil {
			return e.CheckpointPath
		}
	}
	return e.ModelPath
}

// ROIConfig holds region-of-interest detection and fusion settings.
type ROIConfig struct {
	Enabled      *bool    `yaml:"enabled"`
	SearchRatio  float64  `yaml:"search_ratio"`
	MinAreaFrac  *float64 `yaml:"min_area_frac"`
	Pad          *int     `yaml:"pad"`
	FocusRegion  string   `yaml:"focus_region"`
	RegionWeight *float64 `yaml:"region_weight"`
}

// DetectEnabled reports whether contour-based detection runs; defaults to true when unset.
func (r *ROIConfig) DetectEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Alpha returns the region fusion weight; defaults to 0.7 when unset.
func (r *ROIConfig) Alpha() float64 {
	if r.RegionWeight == nil {
		return defaultRegionWeight
	}
	return *r.RegionWeight
}

// MinArea returns the smallest accepted region as a fraction of the search
// window; defaults to 0.001 when unset. 0 accepts any non-empty region.
func (r *ROIConfig) MinArea() float64 {
	if r.MinAreaFrac == nil {
		return defaultMinAreaFrac
	}
	return *r.MinAreaFrac
}

// Padding returns the pixels added around a detected region; defaults to 8
// when unset.
func (r *ROIConfig) Padding() int {
	if r.Pad == nil {
		return defaultROIPad
	}
	return *r.Pad
}

// Focus returns the parsed fallback crop anchor and ratio.
func (r *ROIConfig) Focus() (string, float64) {
	return ParseFocusRegion(r.FocusRegion)
}

// RerankConfig holds ORB re-ranking settings.
type RerankConfig struct {
	Enabled     *bool    `yaml:"enabled"`
	Weight      *float64 `yaml:"weight"`
	ORBFeatures int      `yaml:"orb_features"`
	ORBRatio    float64  `yaml:"orb_ratio"`
	// Shortlist is how many embedding candidates are re-ranked; 0 means top_k.
	Shortlist int `yaml:"shortlist"`
}

// EnabledOrDefault reports whether re-ranking runs; defaults to true when unset.
func (r *RerankConfig) EnabledOrDefault() bool {
	return r.Enabled == nil || *r.Enabled
}

// WeightOrDefault returns the ORB blend weight; defaults to 0.4 when unset.
func (r *RerankConfig) WeightOrDefault() float64 {
	if r.Weight == nil {
		return defaultRerankWeight
	}
	return *r.Weight
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	TopK             int     `yaml:"top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	ScoreTemperature float64 `yaml:"score_temperature"`
	MinSimilarity    float64 `yaml:"min_similarity"`
}

// WatchConfig holds catalog watch settings.
type WatchConfig struct {
	Enabled        bool `yaml:"enabled"`
	DebounceMillis int  `yaml:"debounce_ms"`
}

// Load reads and parses the config file at path, applies a sibling .env file and
// CAB_* environment overrides, applies defaults and clamps, then expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	Normalize(&cfg)

	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.MetadataPath = expandPath(cfg.Storage.MetadataPath, configDir)
	cfg.Catalog.Path = expandPath(cfg.Catalog.Path, configDir)
	cfg.Catalog.ImagesDir = expandPath(cfg.Catalog.ImagesDir, configDir)
	cfg.Embedding.ModelsDir = expandPath(cfg.Embedding.ModelsDir, configDir)
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = filepath.Join(cfg.Embedding.ModelsDir,
			cfg.Embedding.ModelName+"-"+cfg.Embedding.Pretrained+".onnx")
	}
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Embedding.CheckpointPath != "" {
		cfg.Embedding.CheckpointPath = expandPath(cfg.Embedding.CheckpointPath, configDir)
	}

	return &cfg, nil
}

// Default returns a config with every default applied and no file or environment input.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	Normalize(&cfg)
	cfg.Embedding.ModelPath = filepath.Join(cfg.Embedding.ModelsDir,
		cfg.Embedding.ModelName+"-"+cfg.Embedding.Pretrained+".onnx")
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
