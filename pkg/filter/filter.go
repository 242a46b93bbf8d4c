package filter

import (
	"slices"

	"github.com/ritzau/insight-graph/pkg/graph"
	"github.com/ritzau/insight-graph/pkg/model"
	"github.com/ritzau/insight-graph/pkg/validation"
)

// Predicates constrain a subgraph. Every field is optional; an empty set
// or nil threshold places no constraint on that dimension.
type Predicates struct {
	NodeTypes     []model.NodeType `json:"node_types,omitempty" validate:"omitempty,dive,oneof=metric insight"`
	Sources       []string         `json:"sources,omitempty" validate:"omitempty,dive,required"`
	Tags          []string         `json:"tags,omitempty" validate:"omitempty,dive,required"`
	MinConfidence *float64         `json:"min_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	MinWeight     *float64         `json:"min_weight,omitempty" validate:"omitempty,gte=0,lte=1"`
	Audience      string           `json:"audience,omitempty"`
}

// Validate checks value ranges. Whether Audience names a configured
// audience is up to the caller, which owns the audience table.
func (p Predicates) Validate() error {
	return validation.Struct("filter", p)
}

// EdgeCutoff returns the effective minimum edge weight: the requested
// minimum, but never below the build-time cutoff.
func (p Predicates) EdgeCutoff(buildMin float64) float64 {
	if p.MinWeight != nil && *p.MinWeight > buildMin {
		return *p.MinWeight
	}
	return buildMin
}

// Match reports whether n satisfies every node-level predicate.
func (p Predicates) Match(n *model.Node) bool {
	if len(p.NodeTypes) > 0 && !slices.Contains(p.NodeTypes, n.Type) {
		return false
	}
	if len(p.Sources) > 0 && !slices.Contains(p.Sources, n.Source) {
		return false
	}
	if len(p.Tags) > 0 && !slices.ContainsFunc(p.Tags, n.HasTag) {
		return false
	}
	if p.MinConfidence != nil && n.Confidence < *p.MinConfidence {
		return false
	}
	if p.Audience != "" && !(n.Score(p.Audience) > 0) {
		return false
	}
	return true
}

// Apply returns the subgraph of src induced by p: the matching nodes and
// the edges between them with weight at or above the effective cutoff.
// Nodes come back in id order and edges in (source, target) order.
func Apply(src *model.Graph, p Predicates, buildMin float64) *model.Graph {
	keep := make(map[string]bool)
	for _, n := range src.Nodes {
		if p.Match(n) {
			keep[n.ID] = true
		}
	}

	sub := graph.Induced(src, keep)
	cutoff := p.EdgeCutoff(buildMin)
	sub.Edges = slices.DeleteFunc(sub.Edges, func(e *model.Edge) bool {
		return e.Weight < cutoff
	})
	return sub
}

// Narrower reports whether p is at least as restrictive as q on every
// dimension, so that Apply(g, p) is contained in Apply(g, q).
func (p Predicates) Narrower(q Predicates) bool {
	return subset(p.NodeTypes, q.NodeTypes) &&
		subset(p.Sources, q.Sources) &&
		subset(p.Tags, q.Tags) &&
		atLeast(p.MinConfidence, q.MinConfidence) &&
		atLeast(p.MinWeight, q.MinWeight) &&
		(q.Audience == "" || p.Audience == q.Audience)
}

// subset treats an empty set as "everything".
func subset[T comparable](narrow, wide []T) bool {
	if len(wide) == 0 {
		return true
	}
	if len(narrow) == 0 {
		return false
	}
	for _, v := range narrow {
		if !slices.Contains(wide, v) {
			return false
		}
	}
	return true
}

func atLeast(narrow, wide *float64) bool {
	if wide == nil {
		return true
	}
	return narrow != nil && *narrow >= *wide
}
