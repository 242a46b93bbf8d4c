// Package watcher triggers graph rebuilds when record files or the audience
// table change on disk.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ritzau/insight-graph/pkg/logging"
)

// ChangeType represents the type of file change detected
type ChangeType int

const (
	ChangeTypeRecords ChangeType = iota
	ChangeTypeAudiences
)

func (t ChangeType) String() string {
	switch t {
	case ChangeTypeRecords:
		return "records"
	case ChangeTypeAudiences:
		return "audiences"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

// ChangeEvent represents a batch of file system changes
type ChangeEvent struct {
	Type      ChangeType
	Paths     []string
	Timestamp time.Time
}

// batchWindow groups raw fsnotify events before they are handed on.
const batchWindow = 100 * time.Millisecond

// FileWatcher watches the data directory and the audience file.
type FileWatcher struct {
	watcher      *fsnotify.Watcher
	dataDir      string
	audienceFile string // cleaned absolute path, or empty
	events       chan ChangeEvent
	stopOnce     sync.Once
}

// NewFileWatcher creates a watcher for dataDir. audienceFile may be empty.
func NewFileWatcher(dataDir, audienceFile string) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	fw := &FileWatcher{
		watcher: watcher,
		dataDir: dataDir,
		events:  make(chan ChangeEvent, 100),
	}
	if audienceFile != "" {
		abs, err := filepath.Abs(audienceFile)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to resolve audience file: %w", err)
		}
		fw.audienceFile = abs
	}
	return fw, nil
}

// Start adds the watches and begins processing events. The events channel
// is closed when ctx is done.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.watchDataDir(); err != nil {
		fw.Stop()
		return err
	}

	if fw.audienceFile != "" {
		// Editors replace files on save, so the parent directory is watched.
		dir := filepath.Dir(fw.audienceFile)
		if err := fw.watcher.Add(dir); err != nil {
			logging.Warn("failed to watch audience file", "path", fw.audienceFile, "error", err)
		}
	}

	logging.Info("started watching data", "path", fw.dataDir)

	go fw.processEvents(ctx)
	return nil
}

// watchDataDir watches dataDir and every non-hidden subdirectory.
func (fw *FileWatcher) watchDataDir() error {
	count := 0
	err := filepath.WalkDir(fw.dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == fw.dataDir {
				return err
			}
			return nil // Skip directories we can't access
		}
		if !d.IsDir() {
			return nil
		}
		if path != fw.dataDir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			logging.Warn("failed to watch directory", "path", path, "error", err)
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk data directory: %w", err)
	}

	logging.Debug("monitoring data directories", "count", count)
	return nil
}

// classify reports whether a path is relevant and what it affects.
func (fw *FileWatcher) classify(path string) (ChangeType, bool) {
	if fw.audienceFile != "" {
		if abs, err := filepath.Abs(path); err == nil && abs == fw.audienceFile {
			return ChangeTypeAudiences, true
		}
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
		return 0, false
	}
	if rel, err := filepath.Rel(fw.dataDir, path); err != nil || strings.HasPrefix(rel, "..") {
		return 0, false
	}
	return ChangeTypeRecords, true
}

// processEvents batches file system events by type
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer close(fw.events)
	defer fw.Stop()

	batches := make(map[ChangeType][]string)

	flushTimer := time.NewTimer(batchWindow)
	flushTimer.Stop()

	flush := func() {
		for _, t := range []ChangeType{ChangeTypeAudiences, ChangeTypeRecords} {
			if len(batches[t]) == 0 {
				continue
			}
			select {
			case fw.events <- ChangeEvent{Type: t, Paths: batches[t], Timestamp: time.Now()}:
			case <-ctx.Done():
				return
			}
		}
		batches = make(map[ChangeType][]string)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			// New subdirectories need their own watch.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !strings.HasPrefix(info.Name(), ".") {
					if err := fw.watcher.Add(event.Name); err != nil {
						logging.Warn("failed to watch directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}

			t, ok := fw.classify(event.Name)
			if !ok {
				continue
			}
			logging.Trace("file changed", "path", event.Name, "op", event.Op.String())
			batches[t] = append(batches[t], event.Name)
			flushTimer.Reset(batchWindow)

		case <-flushTimer.C:
			flush()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("watcher error", "error", err)
		}
	}
}

// Events returns the channel of change events
func (fw *FileWatcher) Events() <-chan ChangeEvent {
	return fw.events
}

// Stop closes the underlying watcher. Cancelling the Start context is the
// usual way to stop.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() { err = fw.watcher.Close() })
	return err
}
