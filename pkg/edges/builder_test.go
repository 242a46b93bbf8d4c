package edges

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ritzau/insight-graph/pkg/ingest"
	"github.com/ritzau/insight-graph/pkg/model"
)

func node(id string, typ model.NodeType, content string, tags []string, series ...float64) *model.Node {
	return &model.Node{ID: id, Type: typ, Source: "test", Content: content, Confidence: 1, Tags: tags, Series: series}
}

func TestBlend(t *testing.T) {
	opts := DefaultOptions()

	tests := []struct {
		name   string
		sem    float64
		semOK  bool
		corr   float64
		corrOK bool
		want   float64
		wantOK bool
	}{
		{"both signals", 0.5, true, 1.0, true, 0.7, true},
		{"semantic only", 0.5, true, 0, false, 0.5, true},
		{"correlation only", 0, false, 0.9, true, 0.9, true},
		{"no signal", 0, false, 0, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := opts.Blend(tt.sem, tt.semOK, tt.corr, tt.corrOK)
			if ok != tt.wantOK {
				t.Fatalf("Blend() ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Blend() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPairRelationshipTypes(t *testing.T) {
	opts := DefaultOptions()

	metric := node("b", model.NodeMetric, "revenue growth quarterly", []string{"revenue"})
	insight := node("a", model.NodeInsight, "revenue growth outpaces market", []string{"revenue"})

	e, ok := Pair(metric, insight, opts)
	if !ok {
		t.Fatal("expected an edge between related metric and insight")
	}
	if e.RelationshipType != model.RelMetricToInsight {
		t.Errorf("RelationshipType = %q, want %q", e.RelationshipType, model.RelMetricToInsight)
	}
	if e.SourceID != "b" || e.TargetID != "a" {
		t.Errorf("metric_to_insight edge should point metric -> insight, got %s -> %s", e.SourceID, e.TargetID)
	}
	if len(e.SharedTags) != 1 || e.SharedTags[0] != "revenue" {
		t.Errorf("SharedTags = %v, want [revenue]", e.SharedTags)
	}

	m1 := node("z", model.NodeMetric, "sprint velocity", nil, 1, 2, 3, 4)
	m2 := node("y", model.NodeMetric, "monthly revenue", nil, 10, 20, 30, 40)
	e, ok = Pair(m1, m2, opts)
	if !ok {
		t.Fatal("expected a correlation edge between perfectly correlated series")
	}
	if e.RelationshipType != model.RelCorrelation {
		t.Errorf("RelationshipType = %q, want %q", e.RelationshipType, model.RelCorrelation)
	}
	if e.SourceID != "y" || e.TargetID != "z" {
		t.Errorf("same-type edge should point lower id -> higher id, got %s -> %s", e.SourceID, e.TargetID)
	}

	i1 := node("p", model.NodeInsight, "support tickets doubled", nil)
	i2 := node("q", model.NodeInsight, "support satisfaction improved", nil)
	e, ok = Pair(i1, i2, opts)
	if !ok {
		t.Fatal("expected a relevance edge between insights sharing terms")
	}
	if e.RelationshipType != model.RelRelevance {
		t.Errorf("RelationshipType = %q, want %q", e.RelationshipType, model.RelRelevance)
	}
}

func TestPairBelowMinimumDropped(t *testing.T) {
	opts := DefaultOptions()
	a := node("a", model.NodeInsight, "team velocity", nil)
	b := node("b", model.NodeInsight, "brand sentiment", nil)
	if _, ok := Pair(a, b, opts); ok {
		t.Error("unrelated nodes must not produce an edge")
	}
}

func TestBuildExampleInvariants(t *testing.T) {
	records, err := ingest.LoadDir(filepath.Join("..", "..", "example", "data"))
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	nodes, _ := ingest.Build(records)

	low, err := Build(context.Background(), nodes, DefaultOptions())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(low) == 0 {
		t.Fatal("expected edges in example data")
	}

	seen := make(map[[2]string]bool)
	for _, e := range low {
		if e.SourceID == e.TargetID {
			t.Errorf("self loop on %s", e.SourceID)
		}
		if e.Weight < DefaultMinWeight || e.Weight > 1 {
			t.Errorf("edge %s -> %s weight %v outside [%v,1]", e.SourceID, e.TargetID, e.Weight, DefaultMinWeight)
		}
		pair := [2]string{min(e.SourceID, e.TargetID), max(e.SourceID, e.TargetID)}
		if seen[pair] {
			t.Errorf("duplicate edge for pair %v", pair)
		}
		seen[pair] = true
	}

	opts := DefaultOptions()
	opts.MinWeight = 0.5
	high, err := Build(context.Background(), nodes, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(high) > len(low) {
		t.Errorf("raising the minimum weight grew the edge set: %d > %d", len(high), len(low))
	}

	// Sharding must not change the result.
	opts = DefaultOptions()
	opts.Workers = 1
	serial, err := Build(context.Background(), nodes, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(serial) != len(low) {
		t.Fatalf("serial build produced %d edges, parallel %d", len(serial), len(low))
	}
	for i := range serial {
		if serial[i].Key() != low[i].Key() || serial[i].Weight != low[i].Weight {
			t.Errorf("edge %d differs between serial and parallel builds", i)
		}
	}
}

func TestBuildCancelled(t *testing.T) {
	nodes := []*model.Node{
		node("a", model.NodeInsight, "revenue", nil),
		node("b", model.NodeInsight, "revenue", nil),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Build(ctx, nodes, DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Errorf("Build() with cancelled context error = %v, want context.Canceled", err)
	}
}

func TestBuildRejectsBadOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.SemanticWeight = 0.9
	if _, err := Build(context.Background(), nil, opts); !errors.Is(err, model.ErrValidation) {
		t.Errorf("Build() with unbalanced blend error = %v, want validation error", err)
	}
}
