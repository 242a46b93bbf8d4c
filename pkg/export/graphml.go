package export

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/ritzau/insight-graph/pkg/model"
)

const graphmlNS = "http://graphml.graphdrawing.org/xmlns"

type gmlDocument struct {
	XMLName xml.Name `xml:"graphml"`
	XMLNS   string   `xml:"xmlns,attr,omitempty"`
	Keys    []gmlKey `xml:"key"`
	Graph   gmlGraph `xml:"graph"`
}

type gmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type gmlGraph struct {
	ID          string    `xml:"id,attr"`
	EdgeDefault string    `xml:"edgedefault,attr"`
	Nodes       []gmlNode `xml:"node"`
	Edges       []gmlEdge `xml:"edge"`
}

type gmlNode struct {
	ID   string    `xml:"id,attr"`
	Data []gmlData `xml:"data"`
}

type gmlEdge struct {
	ID     string    `xml:"id,attr"`
	Source string    `xml:"source,attr"`
	Target string    `xml:"target,attr"`
	Data   []gmlData `xml:"data"`
}

type gmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

var gmlKeys = []gmlKey{
	{ID: "type", For: "node", Name: "type", Type: "string"},
	{ID: "source", For: "node", Name: "source", Type: "string"},
	{ID: "content", For: "node", Name: "content", Type: "string"},
	{ID: "value", For: "node", Name: "value", Type: "double"},
	{ID: "confidence", For: "node", Name: "confidence", Type: "double"},
	{ID: "tags", For: "node", Name: "tags", Type: "string"},
	{ID: "metric", For: "node", Name: "metric", Type: "string"},
	{ID: "weight", For: "edge", Name: "weight", Type: "double"},
	{ID: "relationship_type", For: "edge", Name: "relationship_type", Type: "string"},
}

func writeGraphML(w io.Writer, g *model.Graph) error {
	doc := gmlDocument{
		XMLNS: graphmlNS,
		Keys:  gmlKeys,
		Graph: gmlGraph{ID: "insights", EdgeDefault: "directed"},
	}

	for _, n := range g.Nodes {
		tags, err := encodeTags(n.Tags)
		if err != nil {
			return err
		}
		node := gmlNode{ID: n.ID, Data: []gmlData{
			{Key: "type", Value: string(n.Type)},
			{Key: "source", Value: n.Source},
			{Key: "content", Value: n.Content},
			{Key: "confidence", Value: formatFloat(n.Confidence)},
			{Key: "tags", Value: tags},
		}}
		if n.Value != nil {
			node.Data = append(node.Data, gmlData{Key: "value", Value: formatFloat(*n.Value)})
		}
		if n.Metric != "" {
			node.Data = append(node.Data, gmlData{Key: "metric", Value: n.Metric})
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, node)
	}

	for i, e := range g.Edges {
		doc.Graph.Edges = append(doc.Graph.Edges, gmlEdge{
			ID:     "e" + strconv.Itoa(i),
			Source: e.SourceID,
			Target: e.TargetID,
			Data: []gmlData{
				{Key: "weight", Value: formatFloat(e.Weight)},
				{Key: "relationship_type", Value: string(e.RelationshipType)},
			},
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode graphml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func readGraphML(r io.Reader) (*model.Graph, error) {
	var doc gmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode graphml: %w", err)
	}

	// Data elements refer to keys by id; map them back to attribute names.
	names := make(map[string]string, len(doc.Keys))
	for _, k := range doc.Keys {
		names[k.ID] = k.Name
	}
	attrs := func(data []gmlData) map[string]string {
		m := make(map[string]string, len(data))
		for _, d := range data {
			name := names[d.Key]
			if name == "" {
				name = d.Key
			}
			m[name] = d.Value
		}
		return m
	}

	g := model.NewGraph()
	for _, gn := range doc.Graph.Nodes {
		a := attrs(gn.Data)
		row := make([]string, numCols)
		row[colID] = gn.ID
		row[colType] = a["type"]
		row[colSource] = a["source"]
		row[colContent] = a["content"]
		row[colValue] = a["value"]
		row[colConfidence] = a["confidence"]
		row[colTags] = a["tags"]
		row[colMetric] = a["metric"]
		n, err := nodeFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", gn.ID, err)
		}
		g.AddNode(n)
	}

	for _, ge := range doc.Graph.Edges {
		a := attrs(ge.Data)
		weight, err := strconv.ParseFloat(a["weight"], 64)
		if err != nil {
			return nil, fmt.Errorf("edge %s: bad weight: %w", ge.ID, err)
		}
		g.AddEdge(&model.Edge{
			SourceID:         ge.Source,
			TargetID:         ge.Target,
			Weight:           weight,
			RelationshipType: model.ParseRelationshipType(a["relationship_type"]),
		})
	}
	return g, nil
}
