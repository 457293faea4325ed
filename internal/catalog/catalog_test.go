package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestNormalizeFilename(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  foo.jpg，", "foo.jpg"},
		{"foo.jpg", "foo.jpg"},
		{"   ,", ""},
		{"", ""},
		{`"q1.png"`, "q1.png"},
		{"「q3.jpg」。", "q3.jpg"},
		{`C:\scans\q4.jpg;`, "q4.jpg"},
		{"images/sub/q5.jpeg.", "q5.jpeg"},
		{"ｑ６．ｐｎｇ", "q6.png"},
		{"/", ""},
		{".", ""},
		{"q7.jpg '.", "q7.jpg"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := NormalizeFilename(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, NormalizeFilename(got), "normalization must be idempotent")
		})
	}
}

func TestLoad_CSV(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "questions.csv",
		"\ufeffFilename,Answer\nq1.jpg,42\n\"  q2.JPG，\",B\n\"   ,\",C\nq3.png\n")

	cat, err := Load(p)
	require.NoError(t, err)
	assert.True(t, cat.HasAnswer)
	assert.Equal(t, 1, cat.Dropped)
	require.Len(t, cat.Rows, 3)
	assert.Equal(t, Row{Line: 2, Filename: "q1.jpg", Answer: "42"}, cat.Rows[0])
	assert.Equal(t, "q2.JPG", cat.Rows[1].Filename)
	assert.Equal(t, "q3.png", cat.Rows[2].Filename)
	assert.Equal(t, "", cat.Rows[2].Answer)
}

func TestLoad_NoAnswerColumn(t *testing.T) {
	p := writeFile(t, t.TempDir(), "q.csv", "filename\na.jpg\n")
	cat, err := Load(p)
	require.NoError(t, err)
	assert.False(t, cat.HasAnswer)
	require.Len(t, cat.Rows, 1)
	assert.Equal(t, "", cat.Rows[0].Answer)
}

func TestLoad_TSV(t *testing.T) {
	p := writeFile(t, t.TempDir(), "q.tsv", "answer\tfilename\nX\ta.jpg\n")
	cat, err := Load(p)
	require.NoError(t, err)
	require.Len(t, cat.Rows, 1)
	assert.Equal(t, "a.jpg", cat.Rows[0].Filename)
	assert.Equal(t, "X", cat.Rows[0].Answer)
}

func TestLoad_XLSX(t *testing.T) {
	p := filepath.Join(t.TempDir(), "q.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "filename"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "answer"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "q1.jpg"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 42))
	require.NoError(t, f.SaveAs(p))
	require.NoError(t, f.Close())

	cat, err := Load(p)
	require.NoError(t, err)
	require.Len(t, cat.Rows, 1)
	assert.Equal(t, "q1.jpg", cat.Rows[0].Filename)
	assert.Equal(t, "42", cat.Rows[0].Answer)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.csv"))
	assert.True(t, errors.Is(err, ErrCatalogNotFound))

	p := writeFile(t, dir, "bad.csv", "name,answer\na.jpg,1\n")
	_, err = Load(p)
	assert.True(t, errors.Is(err, ErrNoFilenameColumn))

	empty := writeFile(t, dir, "empty.csv", "")
	_, err = Load(empty)
	assert.True(t, errors.Is(err, ErrNoFilenameColumn))
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"q1.jpg", "q2.jpg", "q3.png", "q3.JPG", "q4.webp"} {
		writeFile(t, dir, name, "x")
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "q5.jpg"), 0755))

	r, err := NewResolver(dir)
	require.NoError(t, err)

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"q1.jpg", "q1.jpg", true},
		{"q2.JPG", "q2.jpg", true},
		{"q3.jpg", "q3.JPG", true},
		{"q4.png", "q4.webp", true},
		{"q5.jpg", "", false},
		{"nope.jpg", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := r.Resolve(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	assert.Equal(t, filepath.Join(dir, "q1.jpg"), r.Path("q1.jpg"))
}

func TestResolver_MissingDir(t *testing.T) {
	_, err := NewResolver(filepath.Join(t.TempDir(), "none"))
	assert.Error(t, err)
}
