package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/insight-graph/pkg/edges"
	"github.com/ritzau/insight-graph/pkg/model"
	"github.com/ritzau/insight-graph/pkg/pubsub"
	"github.com/ritzau/insight-graph/pkg/query"
	"github.com/ritzau/insight-graph/pkg/store"
)

var exampleDir = filepath.Join("..", "..", "example", "data")

type sinkEvent struct {
	eventType string
	data      any
}

type captureSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (c *captureSink) Publish(topic, eventType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sinkEvent{eventType, data})
	return nil
}

func (c *captureSink) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.eventType)
	}
	return out
}

type captureRecorder struct {
	statuses []string
}

func (c *captureRecorder) RecordRebuild(status string, _ time.Duration, _, _, _ int) {
	c.statuses = append(c.statuses, status)
}

func writeRecords(t *testing.T, dir, name string, records []map[string]any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"source": name, "records": records})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644))
}

func TestRunPublishes(t *testing.T) {
	svc := query.NewService()
	sink := &captureSink{}
	rec := &captureRecorder{}
	r := NewRunner(Options{DataDir: exampleDir, Edges: edges.DefaultOptions()}, svc, WithStatus(sink), WithRecorder(rec))

	res, err := r.Run(context.Background(), "initial build")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 14, res.Nodes)
	assert.Equal(t, 1, res.Report.Len())

	snap := svc.Current()
	require.NotNil(t, snap)
	assert.Equal(t, 14, snap.Store.NodeCount())
	assert.Equal(t, 1, snap.Skipped)

	types := sink.types()
	require.NotEmpty(t, types)
	assert.Equal(t, pubsub.EventRebuilt, types[len(types)-1])
	assert.Contains(t, types, pubsub.EventStatus)
	assert.Equal(t, []string{"ok"}, rec.statuses)
}

func TestFailedRunKeepsPreviousGraph(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, "revenue", []map[string]any{
		{"metric": "mrr", "value": 412000, "content": "MRR grew to $412,000", "confidence": 0.95, "tags": []string{"revenue"}},
		{"content": "Revenue growth outpaces the market", "confidence": 0.7, "tags": []string{"revenue", "growth"}},
	})

	svc := query.NewService()
	sink := &captureSink{}
	rec := &captureRecorder{}
	r := NewRunner(Options{DataDir: dir, Edges: edges.DefaultOptions()}, svc, WithStatus(sink), WithRecorder(rec))

	_, err := r.Run(context.Background(), "initial build")
	require.NoError(t, err)
	require.Equal(t, 2, svc.Current().Store.NodeCount())

	// A corrupt file fails the whole load.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	_, err = r.Run(context.Background(), "broken.json changed")
	require.Error(t, err)

	assert.Equal(t, 1, svc.Current().Version, "failed rebuild must not publish")
	assert.Equal(t, 2, svc.Current().Store.NodeCount())
	assert.Contains(t, sink.types(), pubsub.EventFailed)
	assert.Equal(t, []string{"ok", "error"}, rec.statuses)

	// Fixing the data recovers.
	require.NoError(t, os.Remove(filepath.Join(dir, "broken.json")))
	writeRecords(t, dir, "team", []map[string]any{
		{"metric": "sprint_velocity", "value": 54, "content": "Sprint velocity rose to 54 points"},
	})
	res, err := r.Run(context.Background(), "team.json changed")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)
	assert.Equal(t, 3, res.Nodes)
}

func TestRunBadAudienceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audiences.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audiences: [unclosed"), 0o644))

	svc := query.NewService()
	r := NewRunner(Options{DataDir: exampleDir, AudienceFile: path, Edges: edges.DefaultOptions()}, svc)
	_, err := r.Run(context.Background(), "audiences changed")
	require.Error(t, err)
	assert.False(t, svc.Ready())
}

func TestRunBadEdgeOptions(t *testing.T) {
	svc := query.NewService()
	opts := edges.DefaultOptions()
	opts.SemanticWeight = 0.9
	r := NewRunner(Options{DataDir: exampleDir, Edges: opts}, svc)

	_, err := r.Run(context.Background(), "initial build")
	assert.True(t, errors.Is(err, model.ErrValidation), "error = %v", err)
	assert.False(t, svc.Ready())
}

func TestWarmStart(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFileStore(filepath.Join(t.TempDir(), "graph.snap"))
	opts := Options{DataDir: exampleDir, Edges: edges.DefaultOptions()}

	// Nothing stored yet.
	cold := NewRunner(opts, query.NewService(), WithStore(fs))
	ok, err := cold.WarmStart(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = cold.Run(ctx, "initial build")
	require.NoError(t, err)

	svc := query.NewService()
	warm := NewRunner(opts, svc, WithStore(fs))
	ok, err = warm.WarmStart(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.True(t, svc.Ready())
	assert.Equal(t, 14, svc.Current().Store.NodeCount())
	assert.Equal(t, cold.service.Current().Store.EdgeCount(), svc.Current().Store.EdgeCount())

	// Scores are recomputed from the audience table.
	for n := range svc.Current().Store.Nodes() {
		assert.NotNil(t, n.AudienceScores)
	}
}

func TestWarmStartAppliesCurrentMinimum(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFileStore(filepath.Join(t.TempDir(), "graph.snap"))

	cold := NewRunner(Options{DataDir: exampleDir, Edges: edges.DefaultOptions()}, query.NewService(), WithStore(fs))
	_, err := cold.Run(ctx, "initial build")
	require.NoError(t, err)

	raised := edges.DefaultOptions()
	raised.MinWeight = 0.5
	svc := query.NewService()
	warm := NewRunner(Options{DataDir: exampleDir, Edges: raised}, svc, WithStore(fs))
	ok, err := warm.WarmStart(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	for e := range svc.Current().Store.Edges() {
		assert.GreaterOrEqual(t, e.Weight, raised.MinWeight)
	}
	assert.LessOrEqual(t, svc.Current().Store.EdgeCount(), cold.service.Current().Store.EdgeCount())
}

func TestWarmStartRejectsInconsistentSnapshot(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFileStore(filepath.Join(t.TempDir(), "graph.snap"))

	g := model.NewGraph()
	g.AddNode(&model.Node{ID: "a", Type: model.NodeMetric, Source: "s", Content: "a", Confidence: 0.9})
	g.AddEdge(&model.Edge{SourceID: "a", TargetID: "ghost", Weight: 0.5, RelationshipType: model.RelRelevance})
	require.NoError(t, fs.Save(ctx, g))

	svc := query.NewService()
	r := NewRunner(Options{DataDir: exampleDir, Edges: edges.DefaultOptions()}, svc, WithStore(fs))
	ok, err := r.WarmStart(ctx)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, model.ErrDataIntegrity), "error = %v", err)
	assert.False(t, svc.Ready())
}

func TestWarmStartWithoutStore(t *testing.T) {
	r := NewRunner(Options{DataDir: exampleDir}, query.NewService())
	ok, err := r.WarmStart(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
}
