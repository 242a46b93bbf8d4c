package ingest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ritzau/insight-graph/pkg/model"
)

// nodeNamespace seeds name-based node ids.
var nodeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ritzau/insight-graph/node"))

// NodeID derives the stable id for a source/content pair.
func NodeID(source, content string) string {
	return uuid.NewSHA1(nodeNamespace, []byte(source+"\x1f"+content)).String()
}

// Skipped describes a record that could not become a node.
type Skipped struct {
	File  string
	Index int
	Err   error
}

// Report lists the records skipped while building nodes.
type Report struct {
	Skipped []Skipped
}

// Len returns the number of skipped records.
func (r *Report) Len() int {
	return len(r.Skipped)
}

// Err joins every skip reason, or returns nil when nothing was skipped.
func (r *Report) Err() error {
	if len(r.Skipped) == 0 {
		return nil
	}
	errs := make([]error, len(r.Skipped))
	for i, s := range r.Skipped {
		errs[i] = fmt.Errorf("%s[%d]: %w", s.File, s.Index, s.Err)
	}
	return errors.Join(errs...)
}

// Build turns raw records into nodes. Records that cannot be normalized
// are skipped and listed in the report; the rest of the batch continues.
// Nodes come back in input order.
func Build(records []Record) ([]*model.Node, *Report) {
	report := &Report{}
	nodes := make([]*model.Node, 0, len(records))
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		node, err := buildNode(rec)
		if err == nil && seen[node.ID] {
			err = model.PartialInputf("build node", "duplicate record for source %q content %q", node.Source, node.Content)
		}
		if err != nil {
			report.Skipped = append(report.Skipped, Skipped{File: rec.File, Index: rec.Index, Err: err})
			continue
		}
		seen[node.ID] = true
		nodes = append(nodes, node)
	}
	return nodes, report
}

func buildNode(rec Record) (*model.Node, error) {
	const op = "build node"

	content := strings.TrimSpace(rec.Content)
	if content == "" && rec.Value == nil {
		return nil, model.PartialInputf(op, "record has neither content nor value")
	}
	if rec.Value != nil && (math.IsNaN(*rec.Value) || math.IsInf(*rec.Value, 0)) {
		return nil, model.PartialInputf(op, "value is not finite")
	}

	nodeType := model.NodeType(strings.ToLower(strings.TrimSpace(rec.Type)))
	if nodeType == "" {
		nodeType = model.NodeInsight
		if rec.Value != nil {
			nodeType = model.NodeMetric
		}
	}
	if !nodeType.Valid() {
		return nil, model.PartialInputf(op, "unknown record type %q", rec.Type)
	}

	if content == "" {
		content = synthesizeContent(rec)
	}

	confidence := 1.0
	switch {
	case rec.Confidence != nil:
		confidence = *rec.Confidence
		if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
			return nil, model.PartialInputf(op, "confidence %v outside [0,1]", confidence)
		}
	case nodeType == model.NodeInsight:
		return nil, model.PartialInputf(op, "insight without confidence")
	}

	node := &model.Node{
		ID:         NodeID(rec.Source, content),
		Type:       nodeType,
		Source:     rec.Source,
		Content:    content,
		Confidence: confidence,
		Tags:       NormalizeTags(rec.Tags),
		Metric:     rec.Metric,
		Timestamp:  rec.Timestamp,
		Metadata:   rec.Metadata,
	}
	if rec.Value != nil {
		v := *rec.Value
		node.Value = &v
	}
	if len(rec.Series) > 0 {
		node.Series = append([]float64(nil), rec.Series...)
	}
	return node, nil
}

func synthesizeContent(rec Record) string {
	v := strconv.FormatFloat(*rec.Value, 'f', -1, 64)
	if rec.Metric != "" {
		return rec.Metric + ": " + v
	}
	return rec.Source + " metric: " + v
}

// NormalizeTags lowercases, trims, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
