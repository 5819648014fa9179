// Package artifact publishes pipeline outputs as JSON files. Every write
// goes to a temp file first and is renamed into place, so readers never see
// a partial artifact.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/selector"
)

// ErrCorrupt is returned when an artifact exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt artifact")

// Well-known artifact names relative to the output directory.
const (
	DatesFile    = "daily/dates.json"
	CoverageFile = "coverage.json"
)

// CorpusFile is the published corpus of a source.
func CorpusFile(source catalog.SourceKind) string {
	return fmt.Sprintf("corpus.%s.json", source)
}

// HotlistFile is the published form of a named hotlist.
func HotlistFile(name string) string {
	return name + "_hotlist.json"
}

// DailyFile is the published selection of day.
func DailyFile(day string) string {
	return filepath.Join("daily", day+".json")
}

// Dir is an output directory.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Path returns the absolute location of name.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// Write publishes v as name.
func (d *Dir) Write(name string, v any) error {
	return WriteJSON(d.Path(name), v)
}

// Read decodes name into v.
func (d *Dir) Read(name string, v any) error {
	return ReadJSON(d.Path(name), v)
}

// Dates reads the published day index. A missing or corrupt index is empty.
func (d *Dir) Dates() []string {
	var dates []string
	if err := d.Read(DatesFile, &dates); err != nil {
		return nil
	}
	return dates
}

// PushDate adds day to the published day index.
func (d *Dir) PushDate(day string) ([]string, error) {
	dates := selector.PushDate(d.Dates(), day)
	if err := d.Write(DatesFile, dates); err != nil {
		return nil, err
	}
	return dates, nil
}

// WriteJSON atomically replaces path with the indented JSON form of v.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}

	success = true
	return nil
}

// ReadJSON decodes path into v. A missing file yields an error matching
// fs.ErrNotExist; undecodable content yields ErrCorrupt.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// Missing reports whether err means the artifact does not exist.
func Missing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
