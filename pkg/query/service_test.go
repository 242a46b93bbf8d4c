package query

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ritzau/insight-graph/pkg/audience"
	"github.com/ritzau/insight-graph/pkg/build"
	"github.com/ritzau/insight-graph/pkg/edges"
	"github.com/ritzau/insight-graph/pkg/export"
	"github.com/ritzau/insight-graph/pkg/filter"
	"github.com/ritzau/insight-graph/pkg/model"
)

const brandContent = "Brand sentiment: 72.3% across 247 mentions"

type recordedEvent struct {
	topic, eventType string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (f *fakeNotifier) Publish(topic, eventType string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, recordedEvent{topic, eventType})
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	statuses map[string][]string
	dropped  int
}

func (f *fakeRecorder) RecordQuery(operation, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = make(map[string][]string)
	}
	f.statuses[operation] = append(f.statuses[operation], status)
}

func (f *fakeRecorder) DroppedNotification() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropped++
}

func f64(v float64) *float64 { return &v }

func newExampleService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	res, err := build.FromDir(context.Background(), filepath.Join("..", "..", "example", "data"), audience.Default(), edges.DefaultOptions())
	require.NoError(t, err)

	s := NewService(opts...)
	s.Publish(&Snapshot{Store: res.Store, Table: audience.Default(), Skipped: res.Report.Len()})
	return s
}

func TestNotReady(t *testing.T) {
	s := NewService()
	ctx := context.Background()

	assert.False(t, s.Ready())

	_, err := s.Search(ctx, "revenue", 10)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.FilteredGraph(ctx, filter.Predicates{}, 10)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.AudienceGraph(ctx, "investors", 10)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.Neighbors(ctx, "x", 1, 0.3)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = s.Analytics(ctx, SubgraphSpec{})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, s.Export(ctx, &bytes.Buffer{}, "json"), ErrNotReady)
}

func TestPublishSwapsSnapshot(t *testing.T) {
	s := newExampleService(t)
	first := s.Current()
	require.Equal(t, 1, first.Version)

	empty, err := build.FromRecords(context.Background(), nil, audience.Default(), edges.DefaultOptions())
	require.NoError(t, err)
	v := s.Publish(&Snapshot{Store: empty.Store})

	assert.Equal(t, 2, v)
	assert.Equal(t, 14, first.Store.NodeCount(), "old snapshot must stay intact")
	ov, err := s.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ov.NodeCount)
	assert.Equal(t, 2, ov.Version)
}

func TestSearch(t *testing.T) {
	rec := &fakeRecorder{}
	note := &fakeNotifier{}
	s := newExampleService(t, WithRecorder(rec), WithNotifier(note))
	ctx := context.Background()

	results, err := s.Search(ctx, "Brand Sentiment", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 1.0, results[0].Match)

	var found bool
	for _, r := range results {
		if r.Node.Content == brandContent {
			found = true
			assert.Equal(t, 1.0, r.Match)
		}
	}
	assert.True(t, found, "brand sentiment node not found")

	assert.Equal(t, []string{"ok"}, rec.statuses["search"])
	assert.Equal(t, []recordedEvent{{TopicActivity, EventSearch}}, note.events)
}

func TestSearchValidation(t *testing.T) {
	rec := &fakeRecorder{}
	s := newExampleService(t, WithRecorder(rec))
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		limit int
	}{
		{"empty", "", 10},
		{"blank", "  \t", 10},
		{"zero limit", "revenue", 0},
		{"huge limit", "revenue", MaxSearchLimit + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(ctx, tt.query, tt.limit)
			assert.True(t, errors.Is(err, model.ErrValidation), "error = %v", err)
		})
	}
	assert.Contains(t, rec.statuses["search"], "validation")
}

func TestSearchNoMatch(t *testing.T) {
	s := newExampleService(t)
	results, err := s.Search(context.Background(), "xylophone", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)
}

func TestSearchOrdering(t *testing.T) {
	s := newExampleService(t)
	words := []string{"revenue", "growth", "customer", "brand", "dashboard", "api", "churn", "team", "sprint", "support", "adoption", "users"}

	properties := gopter.NewProperties(nil)
	properties.Property("results are sorted by score and every result matches", prop.ForAll(
		func(terms []string, limit int) bool {
			if len(terms) == 0 {
				return true
			}
			q := ""
			for _, w := range terms {
				q += w + " "
			}
			results, err := s.Search(context.Background(), q, limit)
			if err != nil || len(results) > limit {
				return false
			}
			for i, r := range results {
				if r.Match <= 0 {
					return false
				}
				if i > 0 && results[i-1].Score < r.Score {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(3, gen.OneConstOf(words[0], words[1], words[2], words[3], words[4], words[5],
			words[6], words[7], words[8], words[9], words[10], words[11])),
		gen.IntRange(1, 20),
	))
	properties.TestingRun(t)
}

func TestFilteredGraphScenario(t *testing.T) {
	s := newExampleService(t)
	p := filter.Predicates{
		NodeTypes:     []model.NodeType{model.NodeMetric},
		MinConfidence: f64(0.8),
		MinWeight:     f64(0.5),
	}

	res, err := s.FilteredGraph(context.Background(), p, 100)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, n := range res.Nodes {
		ids[n.ID] = true
		assert.Equal(t, model.NodeMetric, n.Type)
		assert.GreaterOrEqual(t, n.Confidence, 0.8)
	}
	for _, e := range res.Edges {
		assert.GreaterOrEqual(t, e.Weight, 0.5)
		assert.True(t, ids[e.SourceID] && ids[e.TargetID], "edge %s -> %s leaves the subgraph", e.SourceID, e.TargetID)
	}
	assert.Equal(t, len(res.Nodes), res.TotalNodes)
	assert.Equal(t, res.MatchedNodes, res.TotalNodes)
}

func TestFilteredGraphTruncation(t *testing.T) {
	s := newExampleService(t)
	ctx := context.Background()

	full, err := s.FilteredGraph(ctx, filter.Predicates{}, 100)
	require.NoError(t, err)
	require.Equal(t, 14, full.TotalNodes)

	stats, err := s.Analytics(ctx, SubgraphSpec{})
	require.NoError(t, err)

	res, err := s.FilteredGraph(ctx, filter.Predicates{}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalNodes)
	assert.Equal(t, 14, res.MatchedNodes)

	want := make([]string, 0, 4)
	for _, sc := range stats.Centrality[:4] {
		want = append(want, sc.ID)
	}
	assert.ElementsMatch(t, want, res.Graph.NodeIDs())
	for _, e := range res.Edges {
		assert.Contains(t, want, e.SourceID)
		assert.Contains(t, want, e.TargetID)
	}
}

func TestFilteredGraphValidation(t *testing.T) {
	s := newExampleService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		p     filter.Predicates
		limit int
	}{
		{"limit", filter.Predicates{}, 0},
		{"limit too large", filter.Predicates{}, MaxFilteredLimit + 1},
		{"confidence", filter.Predicates{MinConfidence: f64(1.5)}, 10},
		{"weight", filter.Predicates{MinWeight: f64(-0.1)}, 10},
		{"type", filter.Predicates{NodeTypes: []model.NodeType{"opinion"}}, 10},
		{"audience", filter.Predicates{Audience: "marketing"}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.FilteredGraph(ctx, tt.p, tt.limit)
			assert.True(t, errors.Is(err, model.ErrValidation), "error = %v", err)
		})
	}
}

func TestAudienceGraph(t *testing.T) {
	s := newExampleService(t)
	ctx := context.Background()

	_, err := s.AudienceGraph(ctx, "marketing", 10)
	assert.True(t, errors.Is(err, model.ErrValidation))

	res, err := s.AudienceGraph(ctx, "investors", 100)
	require.NoError(t, err)
	assert.Equal(t, "Financial", res.Label)
	require.NotEmpty(t, res.Nodes)
	require.NotEmpty(t, res.Clusters)
	for _, c := range res.Clusters {
		assert.Equal(t, "investors", c.Audience)
	}
	assert.LessOrEqual(t, len(res.Insights.KeyNodes), maxKeyNodes)
	bands := res.Insights.ConfidenceBands
	assert.Equal(t, len(res.Nodes), bands.High+bands.Medium+bands.Low)
}

func TestAudienceContainmentAndCoverage(t *testing.T) {
	s := newExampleService(t)
	names := audience.Default().Names()

	properties := gopter.NewProperties(nil)
	properties.Property("audience nodes are relevant and clustered exactly once", prop.ForAll(
		func(idx, limit int) bool {
			name := names[idx]
			res, err := s.AudienceGraph(context.Background(), name, limit)
			if err != nil || len(res.Nodes) > limit {
				return false
			}

			seen := make(map[string]int)
			for _, c := range res.Clusters {
				for _, id := range c.MemberIDs {
					seen[id]++
				}
			}
			for _, n := range res.Nodes {
				if !(n.Score(name) > 0) || seen[n.ID] != 1 {
					return false
				}
			}
			return len(seen) == len(res.Nodes)
		},
		gen.IntRange(0, len(names)-1),
		gen.IntRange(1, 20),
	))
	properties.TestingRun(t)
}

func TestNeighbors(t *testing.T) {
	s := newExampleService(t)
	ctx := context.Background()

	_, err := s.Neighbors(ctx, "missing", 1, 0.3)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	var brand string
	for _, n := range s.Current().Store.All().Nodes {
		if n.Content == brandContent {
			brand = n.ID
		}
	}
	require.NotEmpty(t, brand)

	for _, depth := range []int{0, MaxDepth + 1} {
		_, err := s.Neighbors(ctx, brand, depth, 0.3)
		assert.True(t, errors.Is(err, model.ErrValidation), "depth %d", depth)
	}
	_, err = s.Neighbors(ctx, brand, 1, 1.2)
	assert.True(t, errors.Is(err, model.ErrValidation))

	reach, err := s.Neighbors(ctx, brand, 3, 0.3)
	require.NoError(t, err)
	for i, r := range reach {
		assert.NotEqual(t, brand, r.Node.ID)
		assert.GreaterOrEqual(t, r.Weight, 0.3)
		if i > 0 {
			prev := reach[i-1]
			assert.True(t, prev.Hops < r.Hops || (prev.Hops == r.Hops && prev.Node.ID < r.Node.ID))
		}
	}

	one, err := s.Neighbors(ctx, brand, 1, 0.3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(one), len(reach))
}

// The scenario fixture holds 9 metrics and 5 insights: ten share one of
// three words (pairwise similarity 1/3), two share two words (0.82) and
// two share nothing.
func TestFourteenNodeScenario(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join("..", "..", "example", "scenario")

	tests := []struct {
		minWeight float64
		edges     int
	}{
		{0.3, 46},
		{0.5, 1},
	}
	for _, tt := range tests {
		opts := edges.DefaultOptions()
		opts.MinWeight = tt.minWeight
		res, err := build.FromDir(ctx, dir, audience.Default(), opts)
		require.NoError(t, err)
		require.Zero(t, res.Report.Len())

		s := NewService()
		s.Publish(&Snapshot{Store: res.Store, Table: audience.Default()})
		stats, err := s.Analytics(ctx, SubgraphSpec{})
		require.NoError(t, err)

		assert.Equal(t, 14, stats.NodeCount)
		assert.Equal(t, 9, stats.TypeCounts[model.NodeMetric])
		assert.Equal(t, 5, stats.TypeCounts[model.NodeInsight])
		assert.Equal(t, tt.edges, stats.EdgeCount, "edges at min weight %v", tt.minWeight)
		assert.LessOrEqual(t, stats.EdgeCount, 46)
		assert.InDelta(t, 2*float64(tt.edges)/(14*13), stats.PairDensity, 1e-9)
		assert.InDelta(t, float64(tt.edges)/(14*13), stats.Density, 1e-9)
		for e := range res.Store.Edges() {
			assert.GreaterOrEqual(t, e.Weight, tt.minWeight)
		}
		if tt.minWeight == 0.3 {
			assert.InDelta(t, 0.505, stats.PairDensity, 0.001)
		}
	}
}

func TestAnalytics(t *testing.T) {
	s := newExampleService(t)
	ctx := context.Background()

	all, err := s.Analytics(ctx, SubgraphSpec{})
	require.NoError(t, err)
	assert.Equal(t, 14, all.NodeCount)
	assert.Equal(t, 9, all.TypeCounts[model.NodeMetric])
	assert.Equal(t, 1.0, all.Centrality[0].Score)

	metrics, err := s.Analytics(ctx, SubgraphSpec{Predicates: &filter.Predicates{NodeTypes: []model.NodeType{model.NodeMetric}}})
	require.NoError(t, err)
	assert.Equal(t, 9, metrics.NodeCount)
	assert.LessOrEqual(t, metrics.EdgeCount, all.EdgeCount)

	_, err = s.Analytics(ctx, SubgraphSpec{Predicates: &filter.Predicates{MinConfidence: f64(2)}})
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestExportRoundTrip(t *testing.T) {
	s := newExampleService(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, s.Export(ctx, &buf, "json"))

	g, err := export.Read(&buf, export.JSON)
	require.NoError(t, err)
	store, err := build.FromGraph(g, audience.Default(), s.Current().Store.MinWeight())
	require.NoError(t, err)

	orig := s.Current().Store.All()
	assert.Equal(t, orig.NodeIDs(), store.All().NodeIDs())
	assert.Equal(t, len(orig.Edges), store.EdgeCount())

	err = s.Export(ctx, &buf, "dot")
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestCatalog(t *testing.T) {
	s := newExampleService(t)
	ctx := context.Background()

	types, err := s.NodeTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Count{{"metric", 9}, {"insight", 5}}, types)

	sources, err := s.Sources(ctx)
	require.NoError(t, err)
	total := 0
	for _, c := range sources {
		total += c.Count
	}
	assert.Equal(t, 14, total)

	auds, err := s.Audiences(ctx)
	require.NoError(t, err)
	assert.Len(t, auds, 4)

	ov, err := s.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ov.Skipped)
	assert.Equal(t, 0.3, ov.MinWeight)
}

func TestSelectNode(t *testing.T) {
	note := &fakeNotifier{}
	s := newExampleService(t, WithNotifier(note))
	ctx := context.Background()

	id := s.Current().Store.All().Nodes[0].ID
	n, err := s.SelectNode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, n.ID)
	assert.Equal(t, []recordedEvent{{TopicActivity, EventNodeSelected}}, note.events)

	_, err = s.SelectNode(ctx, "missing")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Len(t, note.events, 1)
}

func TestNotificationFailureIsNotFatal(t *testing.T) {
	rec := &fakeRecorder{}
	s := newExampleService(t, WithNotifier(&fakeNotifier{err: errors.New("closed")}), WithRecorder(rec))

	_, err := s.Search(context.Background(), "revenue", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.dropped)
}

func TestConcurrentQueries(t *testing.T) {
	s := newExampleService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Search(ctx, "revenue growth", 10)
			assert.NoError(t, err)
			_, err = s.AudienceGraph(ctx, "customers", 50)
			assert.NoError(t, err)
		}()
	}
	res, err := build.FromDir(ctx, filepath.Join("..", "..", "example", "data"), audience.Default(), edges.DefaultOptions())
	require.NoError(t, err)
	s.Publish(&Snapshot{Store: res.Store})
	wg.Wait()
}
