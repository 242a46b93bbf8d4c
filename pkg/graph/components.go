package graph

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/ritzau/insight-graph/pkg/model"
)

// Components groups the nodes of sub into connected components, treating
// edges as undirected and ignoring edges with weight below minWeight or
// with an endpoint outside sub. Members are sorted by id and components
// by their first member.
func Components(sub *model.Graph, minWeight float64) [][]*model.Node {
	nodes := append([]*model.Node(nil), sub.Nodes...)
	model.SortNodes(nodes)

	ids := make(map[string]int64, len(nodes))
	g := simple.NewUndirectedGraph()
	for i, n := range nodes {
		ids[n.ID] = int64(i)
		g.AddNode(simple.Node(i))
	}
	for _, e := range sub.Edges {
		if e.Weight < minWeight {
			continue
		}
		from, ok := ids[e.SourceID]
		if !ok {
			continue
		}
		to, ok := ids[e.TargetID]
		if !ok || from == to {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
	}

	var comps [][]*model.Node
	for _, cc := range topo.ConnectedComponents(g) {
		members := make([]*model.Node, len(cc))
		for i, n := range cc {
			members[i] = nodes[n.ID()]
		}
		model.SortNodes(members)
		comps = append(comps, members)
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i][0].ID < comps[j][0].ID })
	return comps
}

// Induced returns the subgraph on the given node ids: those nodes, in id
// order, plus the edges of g whose endpoints are both kept.
func Induced(g *model.Graph, keep map[string]bool) *model.Graph {
	sub := model.NewGraph()
	for _, n := range g.Nodes {
		if keep[n.ID] {
			sub.AddNode(n)
		}
	}
	for _, e := range g.Edges {
		if keep[e.SourceID] && keep[e.TargetID] {
			sub.AddEdge(e)
		}
	}
	model.SortNodes(sub.Nodes)
	model.SortEdges(sub.Edges)
	return sub
}
