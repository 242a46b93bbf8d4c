package analytics

import (
	"math"
	"testing"

	"github.com/ritzau/insight-graph/pkg/model"
)

func hubGraph() *model.Graph {
	nodes := []*model.Node{
		{ID: "brand", Type: model.NodeMetric, Source: "social_listening", Content: "Brand sentiment: 72.3% across 247 mentions", Confidence: 0.87, Tags: []string{"brand", "sentiment"}},
		{ID: "mention", Type: model.NodeInsight, Source: "social_listening", Content: "Positive brand mentions", Confidence: 0.75, Tags: []string{"brand"}},
		{ID: "support", Type: model.NodeMetric, Source: "customer_feedback", Content: "Support satisfaction", Confidence: 0.89},
		{ID: "nps", Type: model.NodeMetric, Source: "customer_feedback", Content: "NPS", Confidence: 0.5},
		{ID: "lonely", Type: model.NodeInsight, Source: "market_intelligence", Content: "Unrelated", Confidence: 0.65},
	}
	edges := []*model.Edge{
		{SourceID: "brand", TargetID: "mention", Weight: 0.9, RelationshipType: model.RelMetricToInsight},
		{SourceID: "brand", TargetID: "support", Weight: 0.6, RelationshipType: model.RelRelevance},
		{SourceID: "brand", TargetID: "nps", Weight: 0.4, RelationshipType: model.RelCorrelation},
		{SourceID: "nps", TargetID: "support", Weight: 0.5, RelationshipType: model.RelCorrelation},
	}
	return &model.Graph{Nodes: nodes, Edges: edges}
}

func TestCentrality(t *testing.T) {
	scores := Centrality(hubGraph())

	if scores[0].ID != "brand" {
		t.Fatalf("most central node = %s, want brand", scores[0].ID)
	}
	if scores[0].Score != 1.0 {
		t.Errorf("most connected node centrality = %v, want 1.0", scores[0].Score)
	}
	if scores[0].Content != "Brand sentiment: 72.3% across 247 mentions" {
		t.Errorf("unexpected content %q", scores[0].Content)
	}

	// brand: 1.9, support: 1.1, nps: 0.9, mention: 0.9, lonely: 0
	want := map[string]float64{"brand": 1, "support": 1.1 / 1.9, "nps": 0.9 / 1.9, "mention": 0.9 / 1.9, "lonely": 0}
	for _, s := range scores {
		if math.Abs(s.Score-want[s.ID]) > 1e-9 {
			t.Errorf("centrality of %s = %v, want %v", s.ID, s.Score, want[s.ID])
		}
		if s.Score < 0 || s.Score > 1 {
			t.Errorf("centrality of %s = %v outside [0,1]", s.ID, s.Score)
		}
	}
	// nps and mention tie; id breaks it.
	if scores[2].ID != "mention" || scores[3].ID != "nps" {
		t.Errorf("tie order = %s, %s; want mention, nps", scores[2].ID, scores[3].ID)
	}
}

func TestCentralityWithoutEdges(t *testing.T) {
	g := &model.Graph{Nodes: []*model.Node{{ID: "a"}, {ID: "b"}}}
	for _, s := range Centrality(g) {
		if s.Score != 0 {
			t.Errorf("centrality of %s = %v, want 0", s.ID, s.Score)
		}
	}
}

func TestDensity(t *testing.T) {
	tests := []struct {
		nodes, edges int
		want, pair   float64
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{14, 46, 46.0 / 182, 46.0 / 91},
		{3, 6, 1, 1},
	}
	for _, tt := range tests {
		if got := Density(tt.nodes, tt.edges); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Density(%d, %d) = %v, want %v", tt.nodes, tt.edges, got, tt.want)
		}
		if got := PairDensity(tt.nodes, tt.edges); math.Abs(got-tt.pair) > 1e-9 {
			t.Errorf("PairDensity(%d, %d) = %v, want %v", tt.nodes, tt.edges, got, tt.pair)
		}
	}

	if got := PairDensity(14, 46); math.Abs(got-0.505) > 0.001 {
		t.Errorf("14 nodes with 46 edges should give pair density about 0.505, got %v", got)
	}
}

func TestCompute(t *testing.T) {
	s := Compute(hubGraph())

	if s.NodeCount != 5 || s.EdgeCount != 4 {
		t.Errorf("counts = %d nodes, %d edges; want 5, 4", s.NodeCount, s.EdgeCount)
	}
	if s.TypeCounts[model.NodeMetric] != 3 || s.TypeCounts[model.NodeInsight] != 2 {
		t.Errorf("TypeCounts = %v", s.TypeCounts)
	}
	if s.SourceCounts["customer_feedback"] != 2 {
		t.Errorf("SourceCounts = %v", s.SourceCounts)
	}
	if s.RelationshipCounts["correlation"] != 2 {
		t.Errorf("RelationshipCounts = %v", s.RelationshipCounts)
	}
	if s.ConfidenceBands != (ConfidenceBands{High: 2, Medium: 2, Low: 1}) {
		t.Errorf("ConfidenceBands = %+v", s.ConfidenceBands)
	}
	if len(s.StrongEdges) != 1 || s.StrongEdges[0].TargetID != "mention" {
		t.Errorf("StrongEdges = %v, want only brand -> mention", s.StrongEdges)
	}
	if len(s.TagCounts) == 0 || s.TagCounts[0] != (TagCount{Tag: "brand", Count: 2}) {
		t.Errorf("TagCounts = %v", s.TagCounts)
	}
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(model.NewGraph())
	if s.NodeCount != 0 || s.Density != 0 || len(s.Centrality) != 0 {
		t.Errorf("empty graph stats = %+v", s)
	}
}
