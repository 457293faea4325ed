package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver maps catalog filenames onto files that exist in one directory.
type Resolver struct {
	dir   string
	names map[string]bool
	lower map[string][]string
	stems map[string][]string
}

// NewResolver lists dir once. Lookups do not touch the filesystem again.
func NewResolver(dir string) (*Resolver, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read images dir: %w", err)
	}
	r := &Resolver{
		dir:   dir,
		names: make(map[string]bool),
		lower: make(map[string][]string),
		stems: make(map[string][]string),
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		r.names[name] = true
		l := strings.ToLower(name)
		r.lower[l] = append(r.lower[l], name)
		stem := strings.TrimSuffix(l, filepath.Ext(l))
		r.stems[stem] = append(r.stems[stem], name)
	}
	return r, nil
}

// Resolve returns the on-disk name for filename: exact match first, then a
// case-insensitive match, then the same stem with any extension (preferring
// the catalog's extension, compared case-insensitively).
func (r *Resolver) Resolve(filename string) (string, bool) {
	if filename == "" {
		return "", false
	}
	if r.names[filename] {
		return filename, true
	}
	l := strings.ToLower(filename)
	if c := r.lower[l]; len(c) > 0 {
		return c[0], true
	}
	ext := filepath.Ext(l)
	candidates := r.stems[strings.TrimSuffix(l, ext)]
	if len(candidates) == 0 {
		return "", false
	}
	for _, c := range candidates {
		if strings.ToLower(filepath.Ext(c)) == ext {
			return c, true
		}
	}
	return candidates[0], true
}

// Path joins a resolved name with the directory.
func (r *Resolver) Path(name string) string {
	return filepath.Join(r.dir, name)
}
