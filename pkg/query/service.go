// Package query is the read side of the engine: every operation runs
// against the currently published, immutable graph snapshot.
package query

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ritzau/insight-graph/pkg/audience"
	"github.com/ritzau/insight-graph/pkg/clusters"
	"github.com/ritzau/insight-graph/pkg/graph"
	"github.com/ritzau/insight-graph/pkg/logging"
	"github.com/ritzau/insight-graph/pkg/model"
)

// ErrNotReady is returned by every query before the first snapshot is
// published.
var ErrNotReady = errors.New("no graph has been published yet")

// Activity topic and event types.
const (
	TopicActivity = "activity"

	EventSearch       = "search_activity"
	EventFilter       = "filter_activity"
	EventAudience     = "audience_activity"
	EventNodeSelected = "node_selected"
)

// Snapshot is one published graph together with the audience table its
// scores were computed with.
type Snapshot struct {
	Store   *graph.Store
	Table   *audience.Table
	Version int
	BuiltAt time.Time
	Skipped int
}

// Notifier receives best-effort activity notifications.
// pubsub.Publisher satisfies it.
type Notifier interface {
	Publish(topic, eventType string, data any) error
}

// Recorder receives query metrics. metrics.Registry satisfies it.
type Recorder interface {
	RecordQuery(operation, status string, duration time.Duration)
	DroppedNotification()
}

// Service answers queries. It is safe for concurrent use; Publish swaps
// the snapshot atomically and in-flight queries finish on the snapshot
// they started with.
type Service struct {
	current  atomic.Pointer[Snapshot]
	version  atomic.Int64
	clusters clusters.Options
	notifier Notifier
	recorder Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sends activity notifications to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithRecorder records query metrics to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClusterOptions overrides the clustering parameters.
func WithClusterOptions(o clusters.Options) Option {
	return func(s *Service) { s.clusters = o }
}

// NewService creates a service with nothing published.
func NewService(opts ...Option) *Service {
	s := &Service{clusters: clusters.DefaultOptions()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish makes snap the current snapshot and returns its version.
func (s *Service) Publish(snap *Snapshot) int {
	snap.Version = int(s.version.Add(1))
	if snap.BuiltAt.IsZero() {
		snap.BuiltAt = time.Now()
	}
	if snap.Table == nil {
		snap.Table = audience.Default()
	}
	s.current.Store(snap)
	return snap.Version
}

// Current returns the published snapshot, or nil.
func (s *Service) Current() *Snapshot {
	return s.current.Load()
}

// Ready reports whether a snapshot has been published.
func (s *Service) Ready() bool {
	return s.current.Load() != nil
}

func (s *Service) snapshot() (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, ErrNotReady
	}
	return snap, nil
}

// observe records the outcome of one operation.
func (s *Service) observe(op string, start time.Time, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordQuery(op, status(err), time.Since(start))
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	}
	if kind := model.KindOf(err); kind != model.KindNone {
		return string(kind)
	}
	return "error"
}

// notify never fails the calling query.
func (s *Service) notify(ctx context.Context, eventType string, data any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(TopicActivity, eventType, data); err != nil {
		logging.DebugContext(ctx, "activity notification dropped", "type", eventType, "error", err)
		if s.recorder != nil {
			s.recorder.DroppedNotification()
		}
	}
}

func checkLimit(op string, limit, maxLimit int) error {
	if limit < 1 || limit > maxLimit {
		return model.Validationf(op, "limit must be between 1 and %d, got %d", maxLimit, limit)
	}
	return nil
}
