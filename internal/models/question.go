// Package models defines core data structures for question records, matches, and index stats.
package models

import "time"

// QuestionRecord is one indexed question image with its answer.
// ID is the join key between the vector index and the metadata store.
type QuestionRecord struct {
	ID        int64     `json:"id" db:"id"`
	Filename  string    `json:"filename" db:"filename"`
	Answer    string    `json:"answer" db:"answer"`
	ImageFile string    `json:"image_file" db:"image_file"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IndexStats describes the persisted index for health and UX display.
type IndexStats struct {
	TotalImages        int    `json:"total_images"`
	IndexSize          int    `json:"index_size"`
	FeatureDimension   int    `json:"feature_dimension"`
	IndexFileExists    bool   `json:"index_file_exists"`
	MetadataFileExists bool   `json:"metadata_file_exists"`
	IndexType          string `json:"index_type,omitempty"`
	DiskUsageBytes     int64  `json:"disk_usage_bytes,omitempty"`
	Generation         string `json:"generation,omitempty"`
}

// RebuildReport tallies one index rebuild. SuccessCount and TotalCount are the
// primary result; missing, failed and dropped rows are reported separately.
type RebuildReport struct {
	ID           string `json:"id"`
	SuccessCount int    `json:"success_count"`
	TotalCount   int    `json:"total_count"`
	MissingCount int    `json:"missing_count"`
	FailedCount  int    `json:"failed_count"`
	DroppedCount int    `json:"dropped_count"`
	DurationMs   int64  `json:"duration_ms"`
}

// EvalReport is the result of querying augmented variants of every indexed
// question against the index.
type EvalReport struct {
	Questions  int     `json:"questions"`
	Queries    int     `json:"queries"`
	Top1Hits   int     `json:"top1_hits"`
	Top1Acc    float64 `json:"top1_accuracy"`
	Skipped    int     `json:"skipped"`
	DurationMs int64   `json:"duration_ms"`
}
