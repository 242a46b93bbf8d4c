package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ritzau/insight-graph/pkg/model"
)

const (
	MaxSearchLimit = 500

	matchWeight      = 0.75
	confidenceWeight = 0.25
)

// SearchResult is one ranked node.
type SearchResult struct {
	Node  *model.Node `json:"node"`
	Match float64     `json:"match"`
	Score float64     `json:"score"`
}

// Search ranks the nodes matching text by 0.75 x match strength plus
// 0.25 x confidence, best first, ties by id. Nodes that do not match at
// all are not returned.
func (s *Service) Search(ctx context.Context, text string, limit int) (results []SearchResult, err error) {
	start := time.Now()
	defer func() { s.observe("search", start, err) }()

	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return nil, model.Validationf("search", "query must not be empty")
	}
	if err := checkLimit("search", limit, MaxSearchLimit); err != nil {
		return nil, err
	}

	terms := strings.Fields(q)
	for n := range snap.Store.Nodes() {
		m := matchStrength(n, q, terms)
		if m == 0 {
			continue
		}
		results = append(results, SearchResult{
			Node:  n,
			Match: m,
			Score: matchWeight*m + confidenceWeight*n.Confidence,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.ID < results[j].Node.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []SearchResult{}
	}

	s.notify(ctx, EventSearch, map[string]any{"query": text, "results": len(results)})
	return results, nil
}

// matchStrength is the share of terms found in the node's content, source
// or tags, or 1 when the whole query occurs in the content.
func matchStrength(n *model.Node, q string, terms []string) float64 {
	content := strings.ToLower(n.Content)
	if strings.Contains(content, q) {
		return 1
	}

	hay := content + " " + strings.ToLower(n.Source) + " " + strings.Join(n.Tags, " ")
	found := 0
	for _, t := range terms {
		if strings.Contains(hay, t) {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}
