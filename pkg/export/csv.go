package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ritzau/insight-graph/pkg/model"
)

// The CSV form is a single table; the record column says whether a row is
// a node or an edge. Tags are a JSON array so any tag text survives.
var csvHeader = []string{
	"record", "id", "type", "source", "content", "value", "confidence", "tags", "metric",
	"source_id", "target_id", "weight", "relationship_type",
}

const (
	colRecord = iota
	colID
	colType
	colSource
	colContent
	colValue
	colConfidence
	colTags
	colMetric
	colSourceID
	colTargetID
	colWeight
	colRelType
	numCols
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(w io.Writer, g *model.Graph) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, n := range g.Nodes {
		row := make([]string, numCols)
		row[colRecord] = "node"
		row[colID] = n.ID
		row[colType] = string(n.Type)
		row[colSource] = n.Source
		row[colContent] = n.Content
		if n.Value != nil {
			row[colValue] = formatFloat(*n.Value)
		}
		row[colConfidence] = formatFloat(n.Confidence)
		tags, err := encodeTags(n.Tags)
		if err != nil {
			return err
		}
		row[colTags] = tags
		row[colMetric] = n.Metric
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	for _, e := range g.Edges {
		row := make([]string, numCols)
		row[colRecord] = "edge"
		row[colSourceID] = e.SourceID
		row[colTargetID] = e.TargetID
		row[colWeight] = formatFloat(e.Weight)
		row[colRelType] = string(e.RelationshipType)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func readCSV(r io.Reader) (*model.Graph, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numCols

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(csvHeader, ",") {
		return nil, model.Validationf("import", "unexpected csv header %v", header)
	}

	g := model.NewGraph()
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}

		switch row[colRecord] {
		case "node":
			n, err := nodeFromRow(row)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			g.AddNode(n)
		case "edge":
			weight, err := strconv.ParseFloat(row[colWeight], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad weight: %w", line, err)
			}
			g.AddEdge(&model.Edge{
				SourceID:         row[colSourceID],
				TargetID:         row[colTargetID],
				Weight:           weight,
				RelationshipType: model.ParseRelationshipType(row[colRelType]),
			})
		default:
			return nil, fmt.Errorf("line %d: unknown record kind %q", line, row[colRecord])
		}
	}
	return g, nil
}

func nodeFromRow(row []string) (*model.Node, error) {
	conf, err := strconv.ParseFloat(row[colConfidence], 64)
	if err != nil {
		return nil, fmt.Errorf("bad confidence: %w", err)
	}
	n := &model.Node{
		ID:         row[colID],
		Type:       model.NodeType(row[colType]),
		Source:     row[colSource],
		Content:    row[colContent],
		Confidence: conf,
		Tags:       []string{},
		Metric:     row[colMetric],
	}
	if row[colValue] != "" {
		v, err := strconv.ParseFloat(row[colValue], 64)
		if err != nil {
			return nil, fmt.Errorf("bad value: %w", err)
		}
		n.Value = &v
	}
	tags, err := decodeTags(row[colTags])
	if err != nil {
		return nil, err
	}
	n.Tags = tags
	return n, nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(cell string) ([]string, error) {
	tags := []string{}
	if cell == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(cell), &tags); err != nil {
		return nil, model.Validationf("import", "bad tags %q: %v", cell, err)
	}
	return tags, nil
}
