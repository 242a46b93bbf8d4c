package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/ritzau/insight-graph/pkg/model"
)

// snapshotMagic starts every snapshot file.
var snapshotMagic = []byte("IGSNAP1\n")

// FileStore keeps the snapshot as snappy-compressed JSON in one file.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path. The file is created on
// the first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes g to a temporary file and renames it over the snapshot, so
// readers never see a partial file.
func (s *FileStore) Save(ctx context.Context, g *model.Graph) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	buf := append(append([]byte{}, snapshotMagic...), snappy.Encode(nil, data)...)

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Load reads the snapshot.
func (s *FileStore) Load(ctx context.Context) (*model.Graph, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if !bytes.HasPrefix(raw, snapshotMagic) {
		return nil, fmt.Errorf("%s is not a snapshot file", s.path)
	}

	data, err := snappy.Decode(nil, raw[len(snapshotMagic):])
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	g := model.NewGraph()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return g, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}
