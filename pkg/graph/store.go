package graph

import (
	"fmt"
	"iter"
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/ritzau/insight-graph/pkg/model"
)

// Store is an immutable in-memory insight graph. Node and edge order is
// deterministic: nodes by id, edges by (source, target).
type Store struct {
	graph *simple.WeightedUndirectedGraph
	nodes []*model.Node    // index is the gonum node id
	ids   map[string]int64 // node id -> gonum node id
	edges []*model.Edge
	pairs map[[2]string]*model.Edge

	minWeight float64
}

// Option configures a Store.
type Option func(*Store)

// WithMinWeight records the build-time edge cutoff the edges were
// produced with. Filters can raise it but never lower it.
func WithMinWeight(w float64) Option {
	return func(s *Store) { s.minWeight = w }
}

// Reach is a node found by a neighbor walk.
type Reach struct {
	Node   *model.Node `json:"node"`
	Hops   int         `json:"hops"`
	Weight float64     `json:"weight"` // weight of the edge the node was reached through
}

// New validates nodes and edges and builds the adjacency structure.
// Any inconsistency is a data integrity error.
func New(nodes []*model.Node, edges []*model.Edge, opts ...Option) (*Store, error) {
	const op = "build graph"

	s := &Store{
		graph: simple.NewWeightedUndirectedGraph(0, math.Inf(1)),
		nodes: append([]*model.Node(nil), nodes...),
		ids:   make(map[string]int64, len(nodes)),
		edges: append([]*model.Edge(nil), edges...),
		pairs: make(map[[2]string]*model.Edge, len(edges)),
	}
	for _, opt := range opts {
		opt(s)
	}

	model.SortNodes(s.nodes)
	for i, n := range s.nodes {
		if err := checkNode(n); err != nil {
			return nil, model.Integrityf(op, "%v", err)
		}
		if _, dup := s.ids[n.ID]; dup {
			return nil, model.Integrityf(op, "duplicate node id %s", n.ID)
		}
		s.ids[n.ID] = int64(i)
		s.graph.AddNode(simple.Node(i))
	}

	model.SortEdges(s.edges)
	for _, e := range s.edges {
		from, ok := s.ids[e.SourceID]
		if !ok {
			return nil, model.Integrityf(op, "edge source %s is not a node", e.SourceID)
		}
		to, ok := s.ids[e.TargetID]
		if !ok {
			return nil, model.Integrityf(op, "edge target %s is not a node", e.TargetID)
		}
		if from == to {
			return nil, model.Integrityf(op, "self loop on %s", e.SourceID)
		}
		if !(e.Weight >= 0 && e.Weight <= 1) {
			return nil, model.Integrityf(op, "edge %s -> %s weight %v outside [0,1]", e.SourceID, e.TargetID, e.Weight)
		}
		if _, dup := s.pairs[e.Key()]; dup {
			return nil, model.Integrityf(op, "duplicate edge %s -> %s", e.SourceID, e.TargetID)
		}
		s.pairs[e.Key()] = e

		// Reachability ignores direction; an opposite edge keeps the stronger weight.
		w := e.Weight
		if prev, ok := s.graph.Weight(from, to); ok && prev > w {
			w = prev
		}
		s.graph.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(from), T: simple.Node(to), W: w})
	}

	return s, nil
}

func checkNode(n *model.Node) error {
	if n.ID == "" {
		return fmt.Errorf("node without id")
	}
	if !n.Type.Valid() {
		return fmt.Errorf("node %s has unknown type %q", n.ID, n.Type)
	}
	if !(n.Confidence >= 0 && n.Confidence <= 1) {
		return fmt.Errorf("node %s confidence %v outside [0,1]", n.ID, n.Confidence)
	}
	for audience, score := range n.AudienceScores {
		if !(score >= 0 && score <= 1) {
			return fmt.Errorf("node %s score for %s %v outside [0,1]", n.ID, audience, score)
		}
	}
	return nil
}

// Get returns the node with the given id.
func (s *Store) Get(id string) (*model.Node, error) {
	i, ok := s.ids[id]
	if !ok {
		return nil, model.NotFoundf("get node", "unknown node id %q", id)
	}
	return s.nodes[i], nil
}

// Has reports whether id is a node of the store.
func (s *Store) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Edge returns the edge from source to target, if any.
func (s *Store) Edge(source, target string) (*model.Edge, bool) {
	e, ok := s.pairs[[2]string{source, target}]
	return e, ok
}

// Neighbors returns a lazy breadth-first walk of the nodes reachable from
// id within depth hops over edges with weight >= minWeight, ignoring edge
// direction. Each node is produced once, at its closest hop distance; the
// start node is not produced. Nodes at the same distance come in no
// particular order.
func (s *Store) Neighbors(id string, depth int, minWeight float64) (iter.Seq[Reach], error) {
	start, ok := s.ids[id]
	if !ok {
		return nil, model.NotFoundf("neighbors", "unknown node id %q", id)
	}

	return func(yield func(Reach) bool) {
		if depth < 1 {
			return
		}

		var last float64
		reached := make(map[int64]float64)
		bf := traverse.BreadthFirst{
			Traverse: func(e graph.Edge) bool {
				last = e.(graph.WeightedEdge).Weight()
				return last >= minWeight
			},
			// Called right after Traverse accepted the edge leading here.
			Visit: func(n graph.Node) {
				reached[n.ID()] = last
			},
		}

		bf.Walk(s.graph, s.graph.Node(start), func(n graph.Node, d int) bool {
			if d == 0 {
				return false
			}
			if d > depth {
				return true
			}
			return !yield(Reach{Node: s.nodes[n.ID()], Hops: d, Weight: reached[n.ID()]})
		})
	}, nil
}

// All returns the whole graph. The returned slices are fresh; nodes and
// edges are shared and must not be modified.
func (s *Store) All() *model.Graph {
	return &model.Graph{
		Nodes: append([]*model.Node(nil), s.nodes...),
		Edges: append([]*model.Edge(nil), s.edges...),
	}
}

// Nodes iterates over all nodes in id order.
func (s *Store) Nodes() iter.Seq[*model.Node] {
	return func(yield func(*model.Node) bool) {
		for _, n := range s.nodes {
			if !yield(n) {
				return
			}
		}
	}
}

// Edges iterates over all edges in (source, target) order.
func (s *Store) Edges() iter.Seq[*model.Edge] {
	return func(yield func(*model.Edge) bool) {
		for _, e := range s.edges {
			if !yield(e) {
				return
			}
		}
	}
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	return len(s.edges)
}

// MinWeight returns the build-time edge cutoff.
func (s *Store) MinWeight() float64 {
	return s.minWeight
}
