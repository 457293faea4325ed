package config

import (
	"strconv"
	"strings"

	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	defaultRegionWeight = 0.7
	defaultRerankWeight = 0.4
	defaultMinAreaFrac  = 0.001
	defaultROIPad       = 8
	defaultFocusAnchor  = "top_left"
	defaultFocusRatio   = 0.6
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 20 << 20
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/kotae/data/image_index.idx"
	}
	if cfg.Storage.MetadataPath == "" {
		cfg.Storage.MetadataPath = "/usr/local/var/kotae/data/image_metadata.db"
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "/usr/local/var/kotae/questions.csv"
	}
	if cfg.Catalog.ImagesDir == "" {
		cfg.Catalog.ImagesDir = "/usr/local/var/kotae/question-images"
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Vector.AnnoyTrees == 0 {
		cfg.Vector.AnnoyTrees = 16
	}
	if cfg.Vector.PostgresTable == "" {
		cfg.Vector.PostgresTable = "kotae_embeddings"
	}
	if cfg.Embedding.ModelName == "" {
		cfg.Embedding.ModelName = "ViT-B-32"
	}
	if cfg.Embedding.Pretrained == "" {
		cfg.Embedding.Pretrained = "openai"
	}
	if cfg.Embedding.ModelsDir == "" {
		cfg.Embedding.ModelsDir = "/usr/local/var/kotae/models"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.ImageSize == 0 {
		cfg.Embedding.ImageSize = 224
	}
	if cfg.Embedding.InputName == "" {
		cfg.Embedding.InputName = "pixel_values"
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "image_embeds"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Embedding.Device == "" {
		cfg.Embedding.Device = "auto"
	}
	if cfg.ROI.Enabled == nil {
		t := true
		cfg.ROI.Enabled = &t
	}
	if cfg.ROI.SearchRatio == 0 {
		cfg.ROI.SearchRatio = 0.7
	}
	if cfg.ROI.MinAreaFrac == nil {
		f := defaultMinAreaFrac
		cfg.ROI.MinAreaFrac = &f
	}
	if cfg.ROI.Pad == nil {
		p := defaultROIPad
		cfg.ROI.Pad = &p
	}
	if cfg.ROI.FocusRegion == "" {
		cfg.ROI.FocusRegion = "top_left:0.6"
	}
	if cfg.ROI.RegionWeight == nil {
		w := defaultRegionWeight
		cfg.ROI.RegionWeight = &w
	}
	if cfg.Rerank.Enabled == nil {
		t := true
		cfg.Rerank.Enabled = &t
	}
	if cfg.Rerank.Weight == nil {
		w := defaultRerankWeight
		cfg.Rerank.Weight = &w
	}
	if cfg.Rerank.ORBFeatures == 0 {
		cfg.Rerank.ORBFeatures = 500
	}
	if cfg.Rerank.ORBRatio == 0 {
		cfg.Rerank.ORBRatio = 0.75
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.ScoreTemperature == 0 {
		cfg.Search.ScoreTemperature = 0.1
	}
	if cfg.Watch.DebounceMillis == 0 {
		cfg.Watch.DebounceMillis = 2000
	}
}

// Normalize clamps every ranged parameter into its valid interval.
// Call after ApplyDefaults and ApplyEnv.
func Normalize(cfg *Config) {
	cfg.ROI.SearchRatio = utils.Clamp(cfg.ROI.SearchRatio, 0.4, 0.95)
	if cfg.ROI.MinAreaFrac != nil {
		f := utils.Clamp(*cfg.ROI.MinAreaFrac, 0, 1)
		cfg.ROI.MinAreaFrac = &f
	}
	if cfg.ROI.Pad != nil && *cfg.ROI.Pad < 0 {
		p := 0
		cfg.ROI.Pad = &p
	}
	anchor, ratio := ParseFocusRegion(cfg.ROI.FocusRegion)
	cfg.ROI.FocusRegion = FormatFocusRegion(anchor, ratio)
	if cfg.ROI.RegionWeight != nil {
		w := utils.Clamp(*cfg.ROI.RegionWeight, 0, 1)
		cfg.ROI.RegionWeight = &w
	}
	if cfg.Rerank.Weight != nil {
		w := utils.Clamp(*cfg.Rerank.Weight, 0, 1)
		cfg.Rerank.Weight = &w
	}
	if cfg.Rerank.ORBFeatures < 10 {
		cfg.Rerank.ORBFeatures = 10
	}
	if cfg.Rerank.ORBRatio <= 0 || cfg.Rerank.ORBRatio > 1 {
		cfg.Rerank.ORBRatio = 0.75
	}
	if cfg.Rerank.Shortlist < 0 {
		cfg.Rerank.Shortlist = 0
	}
	if cfg.Search.MaxTopK < 1 {
		cfg.Search.MaxTopK = 1
	}
	cfg.Search.TopK = utils.ClampInt(cfg.Search.TopK, 1, cfg.Search.MaxTopK)
	cfg.Search.ScoreTemperature = utils.Clamp(cfg.Search.ScoreTemperature, 0.001, 5.0)
	cfg.Search.MinSimilarity = utils.Clamp(cfg.Search.MinSimilarity, -1, 1)
	cfg.Vector.IndexType = strings.ToLower(strings.TrimSpace(cfg.Vector.IndexType))
	cfg.Embedding.Device = strings.ToLower(strings.TrimSpace(cfg.Embedding.Device))
}

// ParseFocusRegion parses a fallback crop spec such as "top_left:0.6" or "center:0.5".
// Unknown anchors become top_left; an unparsable ratio yields the default top_left:0.6.
// The ratio is clamped to [0.2, 0.95].
func ParseFocusRegion(spec string) (string, float64) {
	if strings.TrimSpace(spec) == "" {
		return defaultFocusAnchor, defaultFocusRatio
	}
	parts := strings.Split(spec, ":")
	anchor := strings.TrimSpace(parts[0])
	if anchor == "" {
		anchor = defaultFocusAnchor
	}
	ratio := defaultFocusRatio
	if len(parts) > 1 {
		r, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return defaultFocusAnchor, defaultFocusRatio
		}
		ratio = r
	}
	ratio = utils.Clamp(ratio, 0.2, 0.95)
	if anchor != "top_left" && anchor != "center" {
		anchor = defaultFocusAnchor
	}
	return anchor, ratio
}

// FormatFocusRegion renders anchor and ratio in the form ParseFocusRegion accepts.
func FormatFocusRegion(anchor string, ratio float64) string {
	return anchor + ":" + strconv.FormatFloat(ratio, 'g', -1, 64)
}
