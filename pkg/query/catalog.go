package query

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/ritzau/insight-graph/pkg/analytics"
	"github.com/ritzau/insight-graph/pkg/audience"
	"github.com/ritzau/insight-graph/pkg/export"
	"github.com/ritzau/insight-graph/pkg/model"
)

// Count is a name and the number of nodes carrying it.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Overview describes the published snapshot.
type Overview struct {
	Version     int       `json:"version"`
	BuiltAt     time.Time `json:"built_at"`
	NodeCount   int       `json:"node_count"`
	EdgeCount   int       `json:"edge_count"`
	Density     float64   `json:"density"`
	PairDensity float64   `json:"pair_density"`
	MinWeight   float64   `json:"min_weight"`
	Skipped     int       `json:"skipped_records"`
	Sources     []Count   `json:"sources"`
	NodeTypes   []Count   `json:"node_types"`
	Audiences   []string  `json:"audiences"`
}

// Node returns one node.
func (s *Service) Node(ctx context.Context, id string) (n *model.Node, err error) {
	start := time.Now()
	defer func() { s.observe("node", start, err) }()

	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Store.Get(id)
}

// SelectNode returns one node and announces that a client selected it.
func (s *Service) SelectNode(ctx context.Context, id string) (*model.Node, error) {
	n, err := s.Node(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventNodeSelected, map[string]any{"id": n.ID, "content": n.Content})
	return n, nil
}

// Sources counts nodes per source, most frequent first.
func (s *Service) Sources(ctx context.Context) ([]Count, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return countBy(snap, func(n *model.Node) string { return n.Source }), nil
}

// NodeTypes counts nodes per type.
func (s *Service) NodeTypes(ctx context.Context) ([]Count, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return countBy(snap, func(n *model.Node) string { return string(n.Type) }), nil
}

// Audiences returns the audience profiles of the published snapshot.
func (s *Service) Audiences(ctx context.Context) ([]audience.Profile, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Table.Audiences, nil
}

// Overview summarizes the published snapshot.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	st := snap.Store
	return &Overview{
		Version:     snap.Version,
		BuiltAt:     snap.BuiltAt,
		NodeCount:   st.NodeCount(),
		EdgeCount:   st.EdgeCount(),
		Density:     analytics.Density(st.NodeCount(), st.EdgeCount()),
		PairDensity: analytics.PairDensity(st.NodeCount(), st.EdgeCount()),
		MinWeight:   st.MinWeight(),
		Skipped:     snap.Skipped,
		Sources:     countBy(snap, func(n *model.Node) string { return n.Source }),
		NodeTypes:   countBy(snap, func(n *model.Node) string { return string(n.Type) }),
		Audiences:   snap.Table.Names(),
	}, nil
}

// Export writes the whole published graph to w. The format is checked
// before anything is written.
func (s *Service) Export(ctx context.Context, w io.Writer, format string) (err error) {
	start := time.Now()
	defer func() { s.observe("export", start, err) }()

	snap, err := s.snapshot()
	if err != nil {
		return err
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	return export.Write(w, snap.Store.All(), f)
}

func countBy(snap *Snapshot, key func(*model.Node) string) []Count {
	counts := make(map[string]int)
	for n := range snap.Store.Nodes() {
		counts[key(n)]++
	}
	out := make([]Count, 0, len(counts))
	for name, c := range counts {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
