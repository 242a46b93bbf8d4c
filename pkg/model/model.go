package model

import "time"

// NodeType distinguishes raw metric observations from derived insights.
type NodeType string

const (
	NodeMetric  NodeType = "metric"
	NodeInsight NodeType = "insight"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return t == NodeMetric || t == NodeInsight
}

// RelationshipType classifies an edge.
type RelationshipType string

const (
	RelRelevance       RelationshipType = "relevance"
	RelCorrelation     RelationshipType = "correlation"
	RelMetricToInsight RelationshipType = "metric_to_insight"
	RelOther           RelationshipType = "other"
)

// ParseRelationshipType maps unknown names onto RelOther.
func ParseRelationshipType(s string) RelationshipType {
	switch r := RelationshipType(s); r {
	case RelRelevance, RelCorrelation, RelMetricToInsight:
		return r
	default:
		return RelOther
	}
}

// Priority ranks insight clusters.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities, high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Node is one metric observation or one derived insight.
// Nodes are never mutated once a graph has been published.
type Node struct {
	ID         string   `json:"id"`
	Type       NodeType `json:"type"`
	Source     string   `json:"source"`
	Content    string   `json:"content"`
	Value      *float64 `json:"value"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`

	// AudienceScores is filled by the audience classifier.
	AudienceScores map[string]float64 `json:"audience_scores,omitempty"`

	Metric    string            `json:"metric,omitempty"`
	Series    []float64         `json:"series,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Score returns the node's relevance to audience, 0 when unscored.
func (n *Node) Score(audience string) float64 {
	return n.AudienceScores[audience]
}

// HasTag reports whether the node carries tag.
func (n *Node) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a copy whose maps and slices are not shared with n.
func (n *Node) Clone() *Node {
	c := *n
	if n.Value != nil {
		v := *n.Value
		c.Value = &v
	}
	c.Tags = append([]string(nil), n.Tags...)
	c.Series = append([]float64(nil), n.Series...)
	if n.AudienceScores != nil {
		c.AudienceScores = make(map[string]float64, len(n.AudienceScores))
		for k, v := range n.AudienceScores {
			c.AudienceScores[k] = v
		}
	}
	if n.Metadata != nil {
		c.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Edge is a directed, weighted relationship between two nodes.
type Edge struct {
	SourceID         string           `json:"source_id"`
	TargetID         string           `json:"target_id"`
	Weight           float64          `json:"weight"`
	RelationshipType RelationshipType `json:"relationship_type"`

	SemanticSimilarity float64  `json:"semantic_similarity,omitempty"`
	Correlation        *float64 `json:"correlation,omitempty"`
	SharedTags         []string `json:"shared_tags,omitempty"`
}

// Key identifies the edge by its ordered endpoint pair.
func (e *Edge) Key() [2]string {
	return [2]string{e.SourceID, e.TargetID}
}

// Other returns the endpoint opposite id.
func (e *Edge) Other(id string) string {
	if e.SourceID == id {
		return e.TargetID
	}
	return e.SourceID
}

// Cluster is an audience-scoped group of connected, relevant nodes.
type Cluster struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Audience           string   `json:"audience"`
	Priority           Priority `json:"priority"`
	Description        string   `json:"description"`
	MemberIDs          []string `json:"member_ids"`
	KeyMetrics         []string `json:"key_metrics"`
	ActionableInsights []string `json:"actionable_insights"`
}
