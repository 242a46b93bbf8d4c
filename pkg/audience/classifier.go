package audience

import (
	"math"
	"slices"
	"strings"

	"github.com/ritzau/insight-graph/pkg/model"
	"github.com/ritzau/insight-graph/pkg/similarity"
)

// General is the primary audience of nodes no audience cares about.
const General = "general"

// PrimaryThreshold is the lowest score that makes an audience primary.
const PrimaryThreshold = 0.1

// minPrefixLen is the shortest keyword that also matches as a word prefix
// ("feature" matches "features", "api" does not match "apiary").
const minPrefixLen = 4

// Score returns the relevance of n to audience p in [0,1]: the fraction of
// the profile's keywords found in the node's content and tags, scaled by
// the profile gain. A metric whose name is on the profile's allow-list
// counts as one extra match.
func Score(p Profile, n *model.Node) float64 {
	if len(p.Keywords) == 0 {
		return 0
	}

	words := nodeWords(n)
	matches := 0
	for _, k := range p.Keywords {
		if containsPhrase(words, similarity.Words(k)) {
			matches++
		}
	}
	if n.Type == model.NodeMetric && n.Metric != "" && slices.Contains(p.Metrics, n.Metric) {
		matches++
	}

	gain := p.Gain
	if gain == 0 {
		gain = 1
	}
	return math.Min(1, gain*float64(matches)/float64(len(p.Keywords)))
}

// Scores scores n against every audience of the table.
func (t *Table) Scores(n *model.Node) map[string]float64 {
	scores := make(map[string]float64, len(t.Audiences))
	for _, p := range t.Audiences {
		scores[p.Name] = Score(p, n)
	}
	return scores
}

// Classify returns copies of nodes with AudienceScores filled in for
// every configured audience. The input nodes are not modified.
func (t *Table) Classify(nodes []*model.Node) []*model.Node {
	out := make([]*model.Node, len(nodes))
	for i, n := range nodes {
		c := n.Clone()
		c.AudienceScores = t.Scores(n)
		out[i] = c
	}
	return out
}

// Primary returns the audience with the highest score of at least
// PrimaryThreshold, ties going to the earlier audience in the table, or
// General when no audience qualifies.
func (t *Table) Primary(scores map[string]float64) string {
	best, bestScore := General, PrimaryThreshold
	for _, p := range t.Audiences {
		if s := scores[p.Name]; s > bestScore || (s == bestScore && best == General) {
			best, bestScore = p.Name, s
		}
	}
	return best
}

func nodeWords(n *model.Node) []string {
	words := similarity.Words(n.Content)
	for _, tag := range n.Tags {
		words = append(words, similarity.Words(tag)...)
	}
	return words
}

// containsPhrase reports whether phrase occurs as contiguous words. The
// last phrase word may match as a prefix when it is long enough.
func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
	last := len(phrase) - 1
	for i := 0; i+len(phrase) <= len(words); i++ {
		ok := true
		for j, p := range phrase {
			w := words[i+j]
			if w == p || (j == last && len(p) >= minPrefixLen && strings.HasPrefix(w, p)) {
				continue
			}
			ok = false
			break
		}
		if ok {
			return true
		}
	}
	return false
}
