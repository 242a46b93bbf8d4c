package query

import (
	"context"
	"sort"
	"time"

	"github.com/ritzau/insight-graph/pkg/analytics"
	"github.com/ritzau/insight-graph/pkg/clusters"
	"github.com/ritzau/insight-graph/pkg/filter"
	"github.com/ritzau/insight-graph/pkg/graph"
	"github.com/ritzau/insight-graph/pkg/model"
)

const (
	MaxFilteredLimit = 1000
	MaxAudienceLimit = 500
	MaxDepth         = 5

	keyNodeScore = 0.6
	maxKeyNodes  = 5
)

// FilteredGraph is a filtered, possibly truncated subgraph.
type FilteredGraph struct {
	*model.Graph
	// MatchedNodes counts the nodes that passed the filter before
	// truncation.
	MatchedNodes int               `json:"matched_nodes"`
	TotalNodes   int               `json:"total_nodes"`
	TotalEdges   int               `json:"total_edges"`
	Predicates   filter.Predicates `json:"predicates"`
}

// KeyNode is a node strongly relevant to an audience.
type KeyNode struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Type      model.NodeType `json:"type"`
	Relevance float64        `json:"relevance"`
}

// Insights summarizes an audience subgraph.
type Insights struct {
	KeyNodes        []KeyNode                 `json:"key_nodes"`
	DataSources     map[string]int            `json:"data_sources"`
	TopTags         []analytics.TagCount      `json:"top_tags"`
	ConfidenceBands analytics.ConfidenceBands `json:"confidence_bands"`
}

// AudienceGraph is the subgraph relevant to one audience with its
// clusters.
type AudienceGraph struct {
	*model.Graph
	Audience   string          `json:"audience"`
	Label      string          `json:"label"`
	TotalNodes int             `json:"total_nodes"`
	TotalEdges int             `json:"total_edges"`
	Clusters   []model.Cluster `json:"clusters"`
	Insights   Insights        `json:"insights"`
}

// FilteredGraph applies p and keeps at most limit nodes, the most central
// ones within the filtered subgraph. Edges between kept nodes survive.
func (s *Service) FilteredGraph(ctx context.Context, p filter.Predicates, limit int) (res *FilteredGraph, err error) {
	start := time.Now()
	defer func() { s.observe("filtered_graph", start, err) }()

	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if err := s.checkPredicates(snap, p); err != nil {
		return nil, err
	}
	if err := checkLimit("filtered graph", limit, MaxFilteredLimit); err != nil {
		return nil, err
	}

	sub := filter.Apply(snap.Store.All(), p, snap.Store.MinWeight())
	res = &FilteredGraph{
		MatchedNodes: len(sub.Nodes),
		Predicates:   p,
	}
	res.Graph = truncate(sub, limit)
	res.TotalNodes = len(res.Nodes)
	res.TotalEdges = len(res.Edges)

	s.notify(ctx, EventFilter, map[string]any{"predicates": p, "nodes": res.TotalNodes, "edges": res.TotalEdges})
	return res, nil
}

// AudienceGraph returns the nodes relevant to audience, at most limit of
// them by centrality, clustered. Every returned node belongs to exactly
// one cluster.
func (s *Service) AudienceGraph(ctx context.Context, name string, limit int) (res *AudienceGraph, err error) {
	start := time.Now()
	defer func() { s.observe("audience_graph", start, err) }()

	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	profile, ok := snap.Table.Lookup(name)
	if !ok {
		return nil, model.Validationf("audience graph", "unknown audience %q (want one of %v)", name, snap.Table.Names())
	}
	if err := checkLimit("audience graph", limit, MaxAudienceLimit); err != nil {
		return nil, err
	}

	minWeight := snap.Store.MinWeight()
	sub := filter.Apply(snap.Store.All(), filter.Predicates{Audience: name}, minWeight)
	sub = truncate(graph.Induced(sub, s.clusters.Relevant(sub, name)), limit)

	res = &AudienceGraph{
		Graph:      sub,
		Audience:   name,
		Label:      profile.Label,
		TotalNodes: len(sub.Nodes),
		TotalEdges: len(sub.Edges),
		Clusters:   clusters.Build(sub, profile, minWeight, s.clusters),
		Insights:   audienceInsights(sub, name),
	}
	if res.Clusters == nil {
		res.Clusters = []model.Cluster{}
	}

	s.notify(ctx, EventAudience, map[string]any{"audience": name, "nodes": res.TotalNodes, "clusters": len(res.Clusters)})
	return res, nil
}

// Neighbors lists the nodes within depth hops of id over edges of at
// least minWeight, closest first, ties by id.
func (s *Service) Neighbors(ctx context.Context, id string, depth int, minWeight float64) (reach []graph.Reach, err error) {
	start := time.Now()
	defer func() { s.observe("neighbors", start, err) }()

	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	if depth < 1 || depth > MaxDepth {
		return nil, model.Validationf("neighbors", "depth must be between 1 and %d, got %d", MaxDepth, depth)
	}
	if !(minWeight >= 0 && minWeight <= 1) {
		return nil, model.Validationf("neighbors", "min_weight must be within [0,1], got %v", minWeight)
	}

	seq, err := snap.Store.Neighbors(id, depth, minWeight)
	if err != nil {
		return nil, err
	}
	reach = []graph.Reach{}
	for r := range seq {
		reach = append(reach, r)
	}
	sort.Slice(reach, func(i, j int) bool {
		if reach[i].Hops != reach[j].Hops {
			return reach[i].Hops < reach[j].Hops
		}
		return reach[i].Node.ID < reach[j].Node.ID
	})
	return reach, nil
}

// SubgraphSpec selects the subgraph analytics run on. A nil Predicates
// selects the whole graph.
type SubgraphSpec struct {
	Predicates *filter.Predicates `json:"predicates,omitempty"`
}

// Analytics computes statistics over the subgraph selected by spec.
func (s *Service) Analytics(ctx context.Context, spec SubgraphSpec) (stats *analytics.Stats, err error) {
	start := time.Now()
	defer func() { s.observe("analytics", start, err) }()

	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	sub := snap.Store.All()
	if spec.Predicates != nil {
		if err := s.checkPredicates(snap, *spec.Predicates); err != nil {
			return nil, err
		}
		sub = filter.Apply(sub, *spec.Predicates, snap.Store.MinWeight())
	}
	return analytics.Compute(sub), nil
}

func (s *Service) checkPredicates(snap *Snapshot, p filter.Predicates) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Audience != "" {
		if _, ok := snap.Table.Lookup(p.Audience); !ok {
			return model.Validationf("filter", "unknown audience %q", p.Audience)
		}
	}
	return nil
}

// truncate keeps the limit most central nodes of sub, ties by id.
func truncate(sub *model.Graph, limit int) *model.Graph {
	if len(sub.Nodes) <= limit {
		return sub
	}
	keep := make(map[string]bool, limit)
	for _, sc := range analytics.Centrality(sub)[:limit] {
		keep[sc.ID] = true
	}
	return graph.Induced(sub, keep)
}

func audienceInsights(sub *model.Graph, name string) Insights {
	stats := analytics.Compute(sub)
	in := Insights{
		KeyNodes:        []KeyNode{},
		DataSources:     stats.SourceCounts,
		TopTags:         stats.TagCounts,
		ConfidenceBands: stats.ConfidenceBands,
	}

	for _, n := range sub.Nodes {
		if score := n.Score(name); score > keyNodeScore {
			in.KeyNodes = append(in.KeyNodes, KeyNode{ID: n.ID, Content: n.Content, Type: n.Type, Relevance: score})
		}
	}
	sort.SliceStable(in.KeyNodes, func(i, j int) bool {
		return in.KeyNodes[i].Relevance > in.KeyNodes[j].Relevance
	})
	if len(in.KeyNodes) > maxKeyNodes {
		in.KeyNodes = in.KeyNodes[:maxKeyNodes]
	}
	return in
}
