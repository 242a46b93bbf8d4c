package edges

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ritzau/insight-graph/pkg/model"
	"github.com/ritzau/insight-graph/pkg/similarity"
)

// DefaultMinWeight is the build-time edge cutoff.
const DefaultMinWeight = 0.3

// Options controls how pair signals are blended into an edge weight.
type Options struct {
	MinWeight         float64
	SemanticWeight    float64
	CorrelationWeight float64
	Workers           int
}

// DefaultOptions returns the standard blend: 0.6 semantic, 0.4 correlation.
func DefaultOptions() Options {
	return Options{
		MinWeight:         DefaultMinWeight,
		SemanticWeight:    0.6,
		CorrelationWeight: 0.4,
	}
}

// Validate checks that the blend is a convex combination and the cutoff
// is a valid weight.
func (o Options) Validate() error {
	if o.MinWeight < 0 || o.MinWeight > 1 {
		return fmt.Errorf("min weight %v outside [0,1]", o.MinWeight)
	}
	if o.SemanticWeight < 0 || o.CorrelationWeight < 0 {
		return fmt.Errorf("blend weights must be non-negative")
	}
	if math.Abs(o.SemanticWeight+o.CorrelationWeight-1) > 1e-9 {
		return fmt.Errorf("blend weights must sum to 1, got %v", o.SemanticWeight+o.CorrelationWeight)
	}
	return nil
}

// Blend combines the two signals. When only one signal is present the
// weight is that signal alone; with neither present there is no edge.
func (o Options) Blend(sem float64, semOK bool, corr float64, corrOK bool) (float64, bool) {
	switch {
	case semOK && corrOK:
		return o.SemanticWeight*sem + o.CorrelationWeight*corr, true
	case semOK:
		return sem, true
	case corrOK:
		return corr, true
	default:
		return 0, false
	}
}

// Build evaluates every unordered node pair once and returns the edges at
// or above the minimum weight, sorted by (source, target). Rows of the
// pair matrix are spread over opts.Workers goroutines.
func Build(ctx context.Context, nodes []*model.Node, opts Options) ([]*model.Edge, error) {
	if err := opts.Validate(); err != nil {
		return nil, model.Validationf("build edges", "%v", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(nodes) {
		workers = max(len(nodes), 1)
	}

	vectors := make([]similarity.Vector, len(nodes))
	for i, n := range nodes {
		vectors[i] = similarity.TermVector(n)
	}

	shards := make([][]*model.Edge, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			var local []*model.Edge
			// Interleaved rows keep shards balanced: row i has n-i-1 pairs.
			for i := w; i < len(nodes); i += workers {
				if err := ctx.Err(); err != nil {
					return err
				}
				for j := i + 1; j < len(nodes); j++ {
					if e, ok := pair(nodes[i], nodes[j], vectors[i], vectors[j], opts); ok {
						local = append(local, e)
					}
				}
			}
			shards[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var edges []*model.Edge
	for _, s := range shards {
		edges = append(edges, s...)
	}
	model.SortEdges(edges)
	return edges, nil
}

// Pair evaluates a single node pair with freshly built term vectors.
func Pair(a, b *model.Node, opts Options) (*model.Edge, bool) {
	return pair(a, b, similarity.TermVector(a), similarity.TermVector(b), opts)
}

func pair(a, b *model.Node, va, vb similarity.Vector, opts Options) (*model.Edge, bool) {
	if a.ID == b.ID {
		return nil, false
	}

	sem, semOK := similarity.Cosine(va, vb)
	corr, corrOK := 0.0, false
	if a.Type == model.NodeMetric && b.Type == model.NodeMetric {
		corr, corrOK = similarity.Correlation(a.Series, b.Series)
	}

	weight, ok := opts.Blend(sem, semOK, corr, corrOK)
	if !ok || weight < opts.MinWeight {
		return nil, false
	}

	e := &model.Edge{
		Weight:             math.Min(1, math.Max(0, weight)),
		SemanticSimilarity: sem,
		SharedTags:         sharedTags(a.Tags, b.Tags),
	}
	if corrOK {
		c := corr
		e.Correlation = &c
	}

	switch {
	case a.Type != b.Type:
		metric, insight := a, b
		if a.Type == model.NodeInsight {
			metric, insight = b, a
		}
		e.SourceID, e.TargetID = metric.ID, insight.ID
		e.RelationshipType = model.RelMetricToInsight
	default:
		e.SourceID, e.TargetID = a.ID, b.ID
		if b.ID < a.ID {
			e.SourceID, e.TargetID = b.ID, a.ID
		}
		e.RelationshipType = model.RelRelevance
		if corrOK && (!semOK || corr >= sem) {
			e.RelationshipType = model.RelCorrelation
		}
	}
	return e, true
}

// sharedTags intersects two sorted tag lists.
func sharedTags(a, b []string) []string {
	var out []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}
