package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ritzau/insight-graph/pkg/logging"
	"github.com/ritzau/insight-graph/pkg/pipeline"
)

const (
	QuietPeriod = 500 * time.Millisecond
	MaxWait     = 5 * time.Second

	maxNamedFiles = 3
)

// Reason describes a change event as a rebuild reason, e.g.
// "records changed: revenue.json, team.json".
func Reason(event ChangeEvent) string {
	names := make([]string, 0, maxNamedFiles)
	for i, p := range event.Paths {
		if i == maxNamedFiles {
			names = append(names, fmt.Sprintf("+%d more", len(event.Paths)-maxNamedFiles))
			break
		}
		names = append(names, filepath.Base(p))
	}
	if len(names) == 0 {
		return event.Type.String() + " changed"
	}
	return fmt.Sprintf("%s changed: %s", event.Type, strings.Join(names, ", "))
}

// Rebuilder is satisfied by *pipeline.Runner.
type Rebuilder interface {
	Run(ctx context.Context, reason string) (*pipeline.Result, error)
}

// Watch rebuilds through r whenever files under dataDir or the audience
// file change, until ctx is done. Failed rebuilds are logged by the runner
// and the previous graph keeps serving.
func Watch(ctx context.Context, dataDir, audienceFile string, r Rebuilder) error {
	fw, err := NewFileWatcher(dataDir, audienceFile)
	if err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}

	debouncer := NewDebouncer(fw.Events(), QuietPeriod, MaxWait)
	debouncer.Start(ctx)

	for event := range debouncer.Output() {
		// Drain whatever else the same flush produced into one rebuild.
		reasons := []string{Reason(event)}
	drain:
		for {
			select {
			case more, ok := <-debouncer.Output():
				if !ok {
					break drain
				}
				reasons = append(reasons, Reason(more))
			default:
				break drain
			}
		}

		if ctx.Err() != nil {
			break
		}
		if _, err := r.Run(ctx, strings.Join(reasons, "; ")); err != nil {
			logging.Debug("rebuild after change failed", "error", err)
		}
	}
	return ctx.Err()
}
