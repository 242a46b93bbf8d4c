package ingest

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record is one raw metric or insight row as delivered by a data provider.
type Record struct {
	Source     string            `json:"source,omitempty"`
	Type       string            `json:"type,omitempty"`
	Metric     string            `json:"metric,omitempty"`
	Content    string            `json:"content,omitempty"`
	Value      *float64          `json:"value,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Series     []float64         `json:"series,omitempty"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`

	// Location of the record, for skip reports.
	File  string `json:"-"`
	Index int    `json:"-"`
}

// SourceFile is the on-disk shape of a record file.
type SourceFile struct {
	Source  string   `json:"source"`
	Records []Record `json:"records"`
}

// FindRecordFiles walks dataDir and returns all .json record files in
// lexical order, skipping hidden directories.
func FindRecordFiles(dataDir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != dataDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if filepath.Ext(path) == ".json" && !strings.HasPrefix(d.Name(), ".") {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// LoadFile reads one record file. Records without their own source inherit
// the file's source, or the file's base name when that is empty too.
func LoadFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var sf SourceFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	source := sf.Source
	if source == "" {
		source = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	for i := range sf.Records {
		r := &sf.Records[i]
		if r.Source == "" {
			r.Source = source
		}
		r.File = path
		r.Index = i
	}
	return sf.Records, nil
}

// LoadDir loads every record file under dataDir. A file that cannot be
// read or parsed fails the whole load.
func LoadDir(dataDir string) ([]Record, error) {
	files, err := FindRecordFiles(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dataDir, err)
	}

	var records []Record
	for _, f := range files {
		recs, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}
