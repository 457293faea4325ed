// Package cli renders match results, index stats and rebuild reports for the
// kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable, coloured text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// maxAnswerLen bounds answers in text output; JSON output is never truncated.
const maxAnswerLen = 80

var (
	heading = color.New(color.Bold)
	good    = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	muted   = color.New(color.Faint)
	value   = color.New(color.FgCyan)
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteMatches writes a match response to w.
func WriteMatches(w io.Writer, resp *models.MatchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	if len(resp.Matches) == 0 {
		warn.Fprintln(w, "No similar questions found.")
		return nil
	}
	mode := "embedding only"
	if resp.Reranked {
		mode = "re-ranked with ORB"
	}
	heading.Fprintf(w, "\nFound %d match(es) in %dms (%s)\n\n", len(resp.Matches), resp.QueryTime, mode)
	for _, m := range resp.Matches {
		writeMatch(w, m)
	}
	fmt.Fprintf(w, "margin (top1-top2): %s\n", marginColor(resp).Sprintf("%.4f", resp.Margin))
	return nil
}

func writeMatch(w io.Writer, m *models.MatchResult) {
	fmt.Fprintf(w, "#%d  %s\n", m.Rank, heading.Sprint(m.Filename))
	fmt.Fprintf(w, "    answer:      %s\n", good.Sprint(utils.Truncate(m.Answer, maxAnswerLen)))
	fmt.Fprintf(w, "    similarity:  %s\n", value.Sprintf("%.4f", m.Similarity))
	if m.LocalScore != nil {
		fmt.Fprintf(w, "    local:       %s\n", value.Sprintf("%.4f", *m.LocalScore))
		fmt.Fprintf(w, "    score:       %s\n", value.Sprintf("%.4f", m.Score))
	}
	fmt.Fprintf(w, "    confidence:  %s\n\n", value.Sprintf("%.1f%%", m.Confidence*100))
}

// marginColor flags ambiguous results where the first two matches are close.
func marginColor(resp *models.MatchResponse) *color.Color {
	if len(resp.Matches) < 2 {
		return muted
	}
	if resp.Margin < 0.02 {
		return warn
	}
	return good
}

// WriteStats writes index statistics to w.
func WriteStats(w io.Writer, stats *models.IndexStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	writeStatsText(w, stats)
	return nil
}

func writeStatsText(w io.Writer, stats *models.IndexStats) {
	fmt.Fprintf(w, "total_images:         %d\n", stats.TotalImages)
	fmt.Fprintf(w, "index_size:           %d\n", stats.IndexSize)
	fmt.Fprintf(w, "feature_dimension:    %d\n", stats.FeatureDimension)
	fmt.Fprintf(w, "index_file_exists:    %s\n", yesNo(stats.IndexFileExists))
	fmt.Fprintf(w, "metadata_file_exists: %s\n", yesNo(stats.MetadataFileExists))
	if stats.IndexType != "" {
		fmt.Fprintf(w, "index_type:           %s\n", stats.IndexType)
	}
	if stats.DiskUsageBytes > 0 {
		fmt.Fprintf(w, "disk_usage_bytes:     %d\n", stats.DiskUsageBytes)
	}
	if stats.Generation != "" {
		fmt.Fprintf(w, "generation:           %s\n", stats.Generation)
	}
	if stats.TotalImages == 0 {
		warn.Fprintln(w, "\nIndex is empty. Run `kotae rebuild` to build it.")
	}
}

func yesNo(b bool) string {
	if b {
		return good.Sprint("yes")
	}
	return warn.Sprint("no")
}

type rebuildOutput struct {
	*models.RebuildReport
	Stats *models.IndexStats `json:"stats,omitempty"`
}

// WriteRebuild writes a rebuild report and the resulting index stats to w.
func WriteRebuild(w io.Writer, report *models.RebuildReport, stats *models.IndexStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, rebuildOutput{RebuildReport: report, Stats: stats})
	}
	c := good
	if report.SuccessCount < report.TotalCount {
		c = warn
	}
	c.Fprintf(w, "Indexed %d/%d question image(s) in %dms\n", report.SuccessCount, report.TotalCount, report.DurationMs)
	if report.MissingCount > 0 {
		fmt.Fprintf(w, "  missing images:     %d\n", report.MissingCount)
	}
	if report.FailedCount > 0 {
		fmt.Fprintf(w, "  failed extractions: %d\n", report.FailedCount)
	}
	if report.DroppedCount > 0 {
		fmt.Fprintf(w, "  dropped rows:       %d\n", report.DroppedCount)
	}
	if stats != nil {
		fmt.Fprintln(w)
		writeStatsText(w, stats)
	}
	return nil
}

// WriteEval writes an evaluation report to w.
func WriteEval(w io.Writer, report *models.EvalReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	heading.Fprintf(w, "Evaluated %d question(s) with %d augmented queries in %dms\n",
		report.Questions, report.Queries, report.DurationMs)
	fmt.Fprintf(w, "top-1 accuracy: %s (%d/%d)\n",
		value.Sprintf("%.2f%%", report.Top1Acc*100), report.Top1Hits, report.Queries)
	if report.Skipped > 0 {
		warn.Fprintf(w, "skipped: %d (image unreadable)\n", report.Skipped)
	}
	return nil
}
