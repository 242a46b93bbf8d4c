package analytics

import (
	"math"
	"sort"

	"github.com/ritzau/insight-graph/pkg/model"
)

const (
	// StrongWeight is the weight at which an edge counts as strong.
	StrongWeight = 0.7
	// HighConfidence and MediumConfidence bound the confidence bands.
	HighConfidence   = 0.8
	MediumConfidence = 0.6

	maxTags        = 15
	maxStrongEdges = 20
)

// Score is a node's normalized centrality.
type Score struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// ConfidenceBands counts nodes by confidence.
type ConfidenceBands struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// TagCount is a tag and the number of nodes carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Stats describes a subgraph.
type Stats struct {
	NodeCount          int                    `json:"node_count"`
	EdgeCount          int                    `json:"edge_count"`
	Density            float64                `json:"density"`
	PairDensity        float64                `json:"pair_density"`
	Centrality         []Score                `json:"centrality"`
	TypeCounts         map[model.NodeType]int `json:"type_counts"`
	SourceCounts       map[string]int         `json:"source_counts"`
	RelationshipCounts map[string]int         `json:"relationship_counts"`
	TagCounts          []TagCount             `json:"tag_counts"`
	ConfidenceBands    ConfidenceBands        `json:"confidence_bands"`
	StrongEdges        []*model.Edge          `json:"strong_edges"`
}

// Compute derives statistics from sub. It has no hidden state: the same
// subgraph always yields the same result.
func Compute(sub *model.Graph) *Stats {
	n, m := len(sub.Nodes), len(sub.Edges)
	s := &Stats{
		NodeCount:          n,
		EdgeCount:          m,
		Density:            Density(n, m),
		PairDensity:        PairDensity(n, m),
		Centrality:         Centrality(sub),
		TypeCounts:         make(map[model.NodeType]int),
		SourceCounts:       make(map[string]int),
		RelationshipCounts: make(map[string]int),
	}

	tags := make(map[string]int)
	for _, node := range sub.Nodes {
		s.TypeCounts[node.Type]++
		s.SourceCounts[node.Source]++
		for _, t := range node.Tags {
			tags[t]++
		}
		switch {
		case node.Confidence >= HighConfidence:
			s.ConfidenceBands.High++
		case node.Confidence >= MediumConfidence:
			s.ConfidenceBands.Medium++
		default:
			s.ConfidenceBands.Low++
		}
	}
	s.TagCounts = topTags(tags, maxTags)

	for _, e := range sub.Edges {
		s.RelationshipCounts[string(e.RelationshipType)]++
		if e.Weight >= StrongWeight {
			s.StrongEdges = append(s.StrongEdges, e)
		}
	}
	sort.SliceStable(s.StrongEdges, func(i, j int) bool {
		return s.StrongEdges[i].Weight > s.StrongEdges[j].Weight
	})
	if len(s.StrongEdges) > maxStrongEdges {
		s.StrongEdges = s.StrongEdges[:maxStrongEdges]
	}
	return s
}

// Density is |E| / (n(n-1)), the share of possible directed edges.
func Density(nodes, edges int) float64 {
	if nodes < 2 {
		return 0
	}
	return float64(edges) / float64(nodes*(nodes-1))
}

// PairDensity is the share of node pairs joined by an edge, 2|E| / (n(n-1))
// capped at 1.
func PairDensity(nodes, edges int) float64 {
	return math.Min(1, 2*Density(nodes, edges))
}

// Centrality returns every node's summed incident edge weight normalized
// by the subgraph maximum, highest first, ties by id. When no node has an
// incident edge all scores are 0.
func Centrality(sub *model.Graph) []Score {
	sums := make(map[string]float64, len(sub.Nodes))
	for _, e := range sub.Edges {
		sums[e.SourceID] += e.Weight
		sums[e.TargetID] += e.Weight
	}

	maxSum := 0.0
	for _, n := range sub.Nodes {
		maxSum = math.Max(maxSum, sums[n.ID])
	}

	scores := make([]Score, len(sub.Nodes))
	for i, n := range sub.Nodes {
		scores[i] = Score{ID: n.ID, Content: n.Content}
		if maxSum > 0 {
			scores[i].Score = sums[n.ID] / maxSum
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ID < scores[j].ID
	})
	return scores
}

func topTags(counts map[string]int, limit int) []TagCount {
	out := make([]TagCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, TagCount{Tag: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
