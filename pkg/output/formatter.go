// Package output prints console reports.
package output

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ritzau/insight-graph/pkg/ingest"
	"github.com/ritzau/insight-graph/pkg/model"
	"github.com/ritzau/insight-graph/pkg/pubsub"
	"github.com/ritzau/insight-graph/pkg/query"
)

const topCentral = 5

// PrintSummary prints a coloured report of the published graph: sizes,
// densities, the most central nodes, the clusters per audience and the
// skipped records. report may be nil.
func PrintSummary(ctx context.Context, w io.Writer, svc *query.Service, report *ingest.Report) error {
	// Color definitions
	bold := color.New(color.Bold)
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	ov, err := svc.Overview(ctx)
	if err != nil {
		return err
	}
	stats, err := svc.Analytics(ctx, query.SubgraphSpec{})
	if err != nil {
		return err
	}

	// Header
	bold.Fprintln(w, "Insight Graph - Summary")
	bold.Fprintln(w, "=======================")
	fmt.Fprintf(w, "Version: %d (built %s)\n", ov.Version, ov.BuiltAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Nodes: %d  Edges: %d  (min weight %.2f)\n", ov.NodeCount, ov.EdgeCount, ov.MinWeight)
	fmt.Fprintf(w, "Density: %.3f  Pair density: %.3f\n", ov.Density, ov.PairDensity)
	for _, c := range ov.NodeTypes {
		fmt.Fprintf(w, "  %-8s %d\n", c.Name, c.Count)
	}
	fmt.Fprintln(w)

	// Most central nodes
	if len(stats.Centrality) > 0 {
		bold.Fprintln(w, "MOST CONNECTED:")
		for i, s := range stats.Centrality {
			if i == topCentral {
				break
			}
			cyan.Fprintf(w, "  %.2f ", s.Score)
			fmt.Fprintf(w, "%s\n", truncate(s.Content, 70))
		}
		fmt.Fprintln(w)
	}

	// Clusters per audience
	bold.Fprintln(w, "AUDIENCES:")
	for _, name := range ov.Audiences {
		ag, err := svc.AudienceGraph(ctx, name, query.MaxAudienceLimit)
		if err != nil {
			return fmt.Errorf("audience %s: %w", name, err)
		}
		fmt.Fprintf(w, "  %s (%s): %d nodes, %d clusters\n", ag.Label, name, ag.TotalNodes, len(ag.Clusters))
		for _, c := range ag.Clusters {
			priority := yellow
			switch c.Priority {
			case model.PriorityHigh:
				priority = red
			case model.PriorityLow:
				priority = green
			}
			priority.Fprintf(w, "    [%s] ", c.Priority)
			fmt.Fprintf(w, "%s (%d members)\n", c.Name, len(c.MemberIDs))
		}
	}
	fmt.Fprintln(w)

	// Skipped records
	if report == nil || report.Len() == 0 {
		green.Fprintln(w, "✓ All records were ingested")
		return nil
	}
	yellow.Fprintf(w, "SKIPPED RECORDS: %d\n", report.Len())
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "  %s #%d: %v\n", s.File, s.Index, s.Err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// PrintEvent prints one followed activity event on a single line.
func PrintEvent(w io.Writer, e pubsub.Event) {
	cyan := color.New(color.FgCyan)
	bold := color.New(color.Bold)

	cyan.Fprintf(w, "%-12s ", e.Topic)
	bold.Fprintf(w, "%-16s ", e.Type)
	fmt.Fprintf(w, "#%d %s\n", e.Version, e.Data)
}
