package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ritzau/insight-graph/pkg/model"
)

func sampleGraph() *model.Graph {
	v := 412000.0
	corr := 0.93
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	g := model.NewGraph()
	g.AddNode(&model.Node{
		ID: "mrr", Type: model.NodeMetric, Source: "revenue_metrics",
		Content: "Monthly Recurring Revenue grew 18.2% QoQ to $412,000", Value: &v, Confidence: 0.95,
		Tags: []string{"mrr", "revenue"}, Metric: "mrr", Series: []float64{300000, 350000, 412000},
		Timestamp: &ts, Metadata: map[string]string{"currency": "USD"},
	})
	g.AddNode(&model.Node{
		ID: "churn", Type: model.NodeMetric, Source: "revenue_metrics",
		Content: "Customer churn fell to 2.1% monthly", Confidence: 0.9, Tags: []string{},
	})
	g.AddEdge(&model.Edge{
		SourceID: "churn", TargetID: "mrr", Weight: 0.71, RelationshipType: model.RelCorrelation,
		SemanticSimilarity: 0.3, Correlation: &corr, SharedTags: []string{"revenue"},
	})
	return g
}

func checkGraph(t *testing.T, got *model.Graph) {
	t.Helper()
	if len(got.Nodes) != 2 || len(got.Edges) != 1 {
		t.Fatalf("loaded %d nodes, %d edges; want 2, 1", len(got.Nodes), len(got.Edges))
	}
	var mrr *model.Node
	for _, n := range got.Nodes {
		if n.ID == "mrr" {
			mrr = n
		}
	}
	if mrr == nil || mrr.Value == nil || *mrr.Value != 412000 {
		t.Fatalf("mrr node not restored: %+v", mrr)
	}
	if len(mrr.Series) != 3 || mrr.Metadata["currency"] != "USD" || mrr.Timestamp == nil {
		t.Errorf("mrr details lost: %+v", mrr)
	}
	e := got.Edges[0]
	if e.Correlation == nil || *e.Correlation != 0.93 || e.RelationshipType != model.RelCorrelation {
		t.Errorf("edge not restored: %+v", e)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "nested", "graph.snap"))

	if _, err := s.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load() before save = %v, want ErrNoSnapshot", err)
	}

	if err := s.Save(ctx, sampleGraph()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checkGraph(t, got)

	// A second save replaces the first.
	if err := s.Save(ctx, model.NewGraph()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Nodes) != 0 {
		t.Errorf("expected empty graph after second save, got %d nodes", len(got.Nodes))
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestFileStoreRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.snap")
	if err := os.WriteFile(path, []byte(`{"nodes":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Error("expected error for a file without snapshot header")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Kind: KindNone})
	if err != nil || s != nil {
		t.Errorf("Open(none) = %v, %v; want nil, nil", s, err)
	}

	s, err = Open(ctx, Config{Kind: KindFile, Path: filepath.Join(t.TempDir(), "g.snap")})
	if err != nil {
		t.Fatalf("Open(file) error = %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("Open(file) = %T", s)
	}

	for _, cfg := range []Config{
		{Kind: KindFile},
		{Kind: KindPostgres},
		{Kind: "redis"},
	} {
		if _, err := Open(ctx, cfg); err == nil {
			t.Errorf("Open(%+v) = nil error", cfg)
		}
	}
}
