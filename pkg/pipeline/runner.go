// Package pipeline rebuilds the insight graph from the data directory and
// publishes it to the query service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ritzau/insight-graph/pkg/audience"
	"github.com/ritzau/insight-graph/pkg/build"
	"github.com/ritzau/insight-graph/pkg/edges"
	"github.com/ritzau/insight-graph/pkg/ingest"
	"github.com/ritzau/insight-graph/pkg/logging"
	"github.com/ritzau/insight-graph/pkg/model"
	"github.com/ritzau/insight-graph/pkg/pubsub"
	"github.com/ritzau/insight-graph/pkg/query"
	"github.com/ritzau/insight-graph/pkg/store"
)

const totalSteps = 4

// Options configures where a Runner reads from and how it builds.
type Options struct {
	DataDir      string
	AudienceFile string // empty: built-in table
	Edges        edges.Options
}

// Recorder receives rebuild metrics. metrics.Registry satisfies it.
type Recorder interface {
	RecordRebuild(status string, duration time.Duration, skipped, nodes, edges int)
}

// Result describes a successful rebuild.
type Result struct {
	Version int
	Nodes   int
	Edges   int
	Report  *ingest.Report
}

// Runner orchestrates rebuilds. Runs are serialized.
type Runner struct {
	opts     Options
	service  *query.Service
	status   pubsub.Sink
	store    store.Store
	recorder Recorder
	mu       sync.Mutex // Prevent concurrent rebuilds
}

// Option configures a Runner.
type Option func(*Runner)

// WithStatus publishes progress and results to sink.
func WithStatus(sink pubsub.Sink) Option {
	return func(r *Runner) { r.status = sink }
}

// WithStore persists every published graph to s.
func WithStore(s store.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithRecorder records rebuild metrics.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// NewRunner creates a runner publishing to service.
func NewRunner(opts Options, service *query.Service, options ...Option) *Runner {
	r := &Runner{opts: opts, service: service}
	for _, o := range options {
		o(r)
	}
	return r
}

// Run rebuilds the graph. On any error the previously published graph
// stays in place.
func (r *Runner) Run(ctx context.Context, reason string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	logging.Info("rebuild started", "reason", reason)

	res, err := r.run(ctx, reason, start)
	duration := time.Since(start)
	if err != nil {
		logging.Error("rebuild failed", "reason", reason, "error", err, "durationMs", duration.Milliseconds())
		r.publishStatus("failed", err.Error(), totalSteps)
		r.publish(pubsub.EventFailed, map[string]string{"reason": reason, "error": err.Error(), "kind": string(model.KindOf(err))})
		r.record(statusOf(err), duration, 0, 0, 0)
		return nil, err
	}

	r.record("ok", duration, res.Report.Len(), res.Nodes, res.Edges)
	r.publish(pubsub.EventRebuilt, pubsub.GraphRebuilt{
		Version:    res.Version,
		Reason:     reason,
		Nodes:      res.Nodes,
		Edges:      res.Edges,
		Skipped:    res.Report.Len(),
		DurationMs: duration.Milliseconds(),
	})
	logging.Info("rebuild complete",
		"reason", reason,
		"version", res.Version,
		"nodes", res.Nodes,
		"edges", res.Edges,
		"skipped", res.Report.Len(),
		"durationMs", duration.Milliseconds(),
	)
	return res, nil
}

func (r *Runner) run(ctx context.Context, reason string, start time.Time) (*Result, error) {
	// Phase 1: load
	r.publishStatus("loading", "Loading records...", 1)
	table, err := r.table()
	if err != nil {
		return nil, err
	}
	records, err := ingest.LoadDir(r.opts.DataDir)
	if err != nil {
		return nil, err
	}
	logging.Debug("records loaded", "records", len(records), "dataDir", r.opts.DataDir)

	// Phase 2: build nodes, scores, edges and the store
	r.publishStatus("building", "Building graph...", 2)
	built, err := build.FromRecords(ctx, records, table, r.opts.Edges)
	if err != nil {
		return nil, err
	}
	for _, s := range built.Report.Skipped {
		logging.Warn("record skipped", "file", s.File, "index", s.Index, "error", s.Err)
	}

	// Phase 3: publish
	r.publishStatus("publishing", "Publishing graph...", 3)
	version := r.service.Publish(&query.Snapshot{
		Store:   built.Store,
		Table:   table,
		BuiltAt: start,
		Skipped: built.Report.Len(),
	})

	// Phase 4: persist. The new graph is already live; a failed save only
	// costs the warm start.
	if r.store != nil {
		r.publishStatus("persisting", "Saving snapshot...", 4)
		if err := r.store.Save(ctx, built.Store.All()); err != nil {
			logging.Warn("failed to save snapshot", "error", err)
		}
	}
	r.publishStatus("ready", fmt.Sprintf("Graph ready (%s)", reason), totalSteps)

	return &Result{
		Version: version,
		Nodes:   built.Store.NodeCount(),
		Edges:   built.Store.EdgeCount(),
		Report:  built.Report,
	}, nil
}

// WarmStart publishes the stored snapshot, if there is one. It reports
// whether a graph was published.
func (r *Runner) WarmStart(ctx context.Context) (bool, error) {
	if r.store == nil {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	g, err := r.store.Load(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	table, err := r.table()
	if err != nil {
		return false, err
	}
	st, err := build.FromGraph(g, table, r.opts.Edges.MinWeight)
	if err != nil {
		return false, err
	}

	version := r.service.Publish(&query.Snapshot{Store: st, Table: table})
	logging.Info("published stored snapshot", "version", version, "nodes", st.NodeCount(), "edges", st.EdgeCount())
	r.publishStatus("ready", "Serving stored snapshot", totalSteps)
	return true, nil
}

func (r *Runner) table() (*audience.Table, error) {
	if r.opts.AudienceFile == "" {
		return audience.Default(), nil
	}
	return audience.LoadFile(r.opts.AudienceFile)
}

func (r *Runner) publishStatus(state, message string, step int) {
	r.publish(pubsub.EventStatus, pubsub.GraphStatus{State: state, Message: message, Step: step, Total: totalSteps})
}

func (r *Runner) publish(eventType string, data any) {
	if r.status == nil {
		return
	}
	if err := r.status.Publish(pubsub.TopicGraphStatus, eventType, data); err != nil {
		logging.Debug("status notification dropped", "type", eventType, "error", err)
	}
}

func (r *Runner) record(status string, d time.Duration, skipped, nodes, edges int) {
	if r.recorder != nil {
		r.recorder.RecordRebuild(status, d, skipped, nodes, edges)
	}
}

func statusOf(err error) string {
	if kind := model.KindOf(err); kind != model.KindNone {
		return string(kind)
	}
	return "error"
}
