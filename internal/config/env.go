package config

import (
	"os"
	"strconv"
)

// ApplyEnv overrides cfg with CAB_* environment variables. Unset or unparsable
// variables leave the current value in place. Load calls this once; components
// never read the environment themselves.
func ApplyEnv(cfg *Config) {
	cfg.Embedding.ModelName = getEnv("CAB_MODEL_NAME", cfg.Embedding.ModelName)
	cfg.Embedding.Pretrained = getEnv("CAB_PRETRAINED", cfg.Embedding.Pretrained)
	cfg.Embedding.CheckpointPath = getEnv("CAB_CHECKPOINT_PATH", cfg.Embedding.CheckpointPath)
	cfg.Embedding.Device = getEnv("CAB_DEVICE", cfg.Embedding.Device)

	cfg.ROI.SearchRatio = getEnvFloat("CAB_ROI_SEARCH_RATIO", cfg.ROI.SearchRatio)
	if v, ok := lookupFloat("CAB_ROI_MIN_AREA_FRAC"); ok {
		cfg.ROI.MinAreaFrac = &v
	}
	if v, ok := lookupInt("CAB_ROI_PAD"); ok {
		cfg.ROI.Pad = &v
	}
	cfg.ROI.FocusRegion = getEnv("CAB_FOCUS_REGION", cfg.ROI.FocusRegion)
	if v, ok := lookupFloat("CAB_REGION_WEIGHT"); ok {
		cfg.ROI.RegionWeight = &v
	}
	if v, ok := lookupBool("CAB_ROI_DETECT"); ok {
		cfg.ROI.Enabled = &v
	}

	if v, ok := lookupBool("CAB_RERANK"); ok {
		cfg.Rerank.Enabled = &v
	}
	if v, ok := lookupFloat("CAB_ORB_WEIGHT"); ok {
		cfg.Rerank.Weight = &v
	}
	cfg.Rerank.ORBFeatures = getEnvInt("CAB_ORB_NFEATURES", cfg.Rerank.ORBFeatures)
	cfg.Rerank.ORBRatio = getEnvFloat("CAB_ORB_RATIO", cfg.Rerank.ORBRatio)

	cfg.Search.ScoreTemperature = getEnvFloat("CAB_SCORE_TEMP", cfg.Search.ScoreTemperature)
	cfg.Vector.PostgresDSN = getEnv("CAB_PG_DSN", cfg.Vector.PostgresDSN)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v, ok := lookupInt(key); ok {
		return v
	}
	return defaultVal
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v, ok := lookupFloat(key); ok {
		return v
	}
	return defaultVal
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// lookupBool treats "0", "false" and "False" as false and any other non-empty value as true.
func lookupBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	switch v {
	case "0", "false", "False", "FALSE":
		return false, true
	}
	return true, true
}
