// Package catalog reads the labeled question catalog (filename, answer) and
// resolves its filenames against the image directory.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrCatalogNotFound is returned when the catalog file does not exist.
	ErrCatalogNotFound = errors.New("catalog file not found")
	// ErrNoFilenameColumn is returned when the header has no filename column.
	ErrNoFilenameColumn = errors.New("catalog must contain a filename column")
)

// Row is one usable catalog entry.
type Row struct {
	Line     int    // 1-based line (or spreadsheet row) in the catalog
	Filename string // normalized
	Answer   string
}

// Catalog is the parsed catalog. Rows whose filename normalizes to "" are
// counted in Dropped and never appear in Rows.
type Catalog struct {
	Rows      []Row
	Dropped   int
	HasAnswer bool
}

// Load parses a .csv, .tsv or .xlsx catalog. The header row must contain a
// "filename" column (case-insensitive); "answer" is optional and defaults to "".
func Load(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("stat catalog: %w", err)
	}

	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		records, err = readExcel(path)
	case ".tsv":
		records, err = readDelimited(path, '\t')
	default:
		records, err = readDelimited(path, ',')
	}
	if err != nil {
		return nil, err
	}
	return parse(records)
}

func readDelimited(path string, comma rune) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func readExcel(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func parse(records [][]string) (*Catalog, error) {
	if len(records) == 0 {
		return nil, ErrNoFilenameColumn
	}
	filenameCol, answerCol := -1, -1
	for i, h := range records[0] {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case h == "filename" && filenameCol < 0:
			filenameCol = i
		case h == "answer" && answerCol < 0:
			answerCol = i
		}
	}
	if filenameCol < 0 {
		return nil, ErrNoFilenameColumn
	}

	cat := &Catalog{HasAnswer: answerCol >= 0}
	for i, rec := range records[1:] {
		name := NormalizeFilename(cell(rec, filenameCol))
		if name == "" {
			cat.Dropped++
			continue
		}
		cat.Rows = append(cat.Rows, Row{
			Line:     i + 2,
			Filename: name,
			Answer:   strings.TrimSpace(cell(rec, answerCol)),
		})
	}
	return cat, nil
}

func cell(rec []string, col int) string {
	if col < 0 || col >= len(rec) {
		return ""
	}
	return rec[col]
}
