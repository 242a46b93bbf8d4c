// Package build runs the off-line construction of an insight graph:
// records -> nodes -> audience scores -> edges -> validated store.
package build

import (
	"context"
	"fmt"

	"github.com/ritzau/insight-graph/pkg/audience"
	"github.com/ritzau/insight-graph/pkg/edges"
	"github.com/ritzau/insight-graph/pkg/graph"
	"github.com/ritzau/insight-graph/pkg/ingest"
	"github.com/ritzau/insight-graph/pkg/model"
)

// Result is a freshly built, not yet published graph.
type Result struct {
	Store  *graph.Store
	Report *ingest.Report
}

// FromRecords builds a graph from raw records. Skipped records are listed
// in the report; an inconsistent graph fails the build.
func FromRecords(ctx context.Context, records []ingest.Record, table *audience.Table, opts edges.Options) (*Result, error) {
	nodes, report := ingest.Build(records)
	nodes = table.Classify(nodes)

	es, err := edges.Build(ctx, nodes, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build edges: %w", err)
	}

	store, err := graph.New(nodes, es, graph.WithMinWeight(opts.MinWeight))
	if err != nil {
		return nil, err
	}
	return &Result{Store: store, Report: report}, nil
}

// FromDir loads every record file under dataDir and builds a graph.
func FromDir(ctx context.Context, dataDir string, table *audience.Table, opts edges.Options) (*Result, error) {
	records, err := ingest.LoadDir(dataDir)
	if err != nil {
		return nil, err
	}
	return FromRecords(ctx, records, table, opts)
}

// FromGraph rebuilds a store from a serialized graph, as read from an
// export or a snapshot. Audience scores are recomputed with table so a
// changed audience configuration takes effect without a full rebuild.
// Edges below minWeight are dropped, so a raised minimum applies to
// graphs built under a lower one.
func FromGraph(g *model.Graph, table *audience.Table, minWeight float64) (*graph.Store, error) {
	kept := make([]*model.Edge, 0, len(g.Edges))
	for _, e := range g.Edges {
		if e.Weight >= minWeight {
			kept = append(kept, e)
		}
	}
	return graph.New(table.Classify(g.Nodes), kept, graph.WithMinWeight(minWeight))
}
