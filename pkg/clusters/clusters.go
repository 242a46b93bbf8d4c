package clusters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ritzau/insight-graph/pkg/audience"
	"github.com/ritzau/insight-graph/pkg/graph"
	"github.com/ritzau/insight-graph/pkg/model"
)

// Options tunes cluster formation.
type Options struct {
	// Threshold is the audience score a node must exceed to be clustered.
	Threshold float64
	// HighCutoff is the confidence x score a node must exceed to make its
	// cluster high priority.
	HighCutoff float64
	// MaxSummaries bounds KeyMetrics and ActionableInsights.
	MaxSummaries int
}

// DefaultOptions returns the standard clustering parameters.
func DefaultOptions() Options {
	return Options{Threshold: 0.1, HighCutoff: 0.5, MaxSummaries: 3}
}

// Relevant returns the nodes of sub whose score for audience exceeds the
// clustering threshold.
func (o Options) Relevant(sub *model.Graph, name string) map[string]bool {
	keep := make(map[string]bool)
	for _, n := range sub.Nodes {
		if n.Score(name) > o.Threshold {
			keep[n.ID] = true
		}
	}
	return keep
}

// Build groups the audience-relevant nodes of sub into clusters: one per
// connected component over edges with weight >= minWeight. Every relevant
// node ends up in exactly one cluster. Clusters are ordered by priority,
// then size (largest first), then first member id.
func Build(sub *model.Graph, p audience.Profile, minWeight float64, opts Options) []model.Cluster {
	relevant := graph.Induced(sub, opts.Relevant(sub, p.Name))

	var out []model.Cluster
	for _, members := range graph.Components(relevant, minWeight) {
		out = append(out, newCluster(members, p, opts))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if len(a.MemberIDs) != len(b.MemberIDs) {
			return len(a.MemberIDs) > len(b.MemberIDs)
		}
		return a.MemberIDs[0] < b.MemberIDs[0]
	})
	for i := range out {
		out[i].ID = fmt.Sprintf("%s-%d", p.Name, i+1)
	}
	return out
}

func newCluster(members []*model.Node, p audience.Profile, opts Options) model.Cluster {
	ids := make([]string, len(members))
	for i, n := range members {
		ids[i] = n.ID
	}

	tags := commonTags(members)
	c := model.Cluster{
		Name:               clusterName(p, tags),
		Audience:           p.Name,
		Priority:           priority(members, p.Name, opts.HighCutoff),
		MemberIDs:          ids,
		KeyMetrics:         topContents(members, model.NodeMetric, opts.MaxSummaries),
		ActionableInsights: topContents(members, model.NodeInsight, opts.MaxSummaries),
	}
	if len(tags) > 0 {
		c.Description = fmt.Sprintf("Insights for %s focusing on %s", p.Name, strings.Join(tags[:min(2, len(tags))], ", "))
	} else {
		c.Description = fmt.Sprintf("Insights for %s", p.Name)
	}
	return c
}

func priority(members []*model.Node, name string, cutoff float64) model.Priority {
	for _, n := range members {
		if n.Confidence*n.Score(name) > cutoff {
			return model.PriorityHigh
		}
	}
	if len(members) >= 2 {
		return model.PriorityMedium
	}
	return model.PriorityLow
}

// topContents returns up to limit contents of the given node type, highest
// confidence first, ties by id.
func topContents(members []*model.Node, typ model.NodeType, limit int) []string {
	var picked []*model.Node
	for _, n := range members {
		if n.Type == typ {
			picked = append(picked, n)
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Confidence != picked[j].Confidence {
			return picked[i].Confidence > picked[j].Confidence
		}
		return picked[i].ID < picked[j].ID
	})

	out := make([]string, 0, min(limit, len(picked)))
	for _, n := range picked[:min(limit, len(picked))] {
		out = append(out, n.Content)
	}
	return out
}

// commonTags returns member tags by frequency, ties alphabetical.
func commonTags(members []*model.Node) []string {
	counts := make(map[string]int)
	for _, n := range members {
		for _, t := range n.Tags {
			counts[t]++
		}
	}
	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})
	return tags
}

func clusterName(p audience.Profile, tags []string) string {
	label := p.Label
	if label == "" {
		label = p.Name
	}
	if len(tags) == 0 {
		return label + " Overview"
	}
	return label + " " + audience.Title(tags[0]) + " Analysis"
}
