package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ritzau/insight-graph/pkg/model"
)

// Format is a serialization format for whole graphs.
type Format string

const (
	JSON    Format = "json"
	CSV     Format = "csv"
	GraphML Format = "graphml"
)

// Formats lists the supported formats.
var Formats = []Format{JSON, CSV, GraphML}

// ParseFormat maps a format name onto a Format. Unknown names are
// validation errors.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case JSON, CSV, GraphML:
		return f, nil
	default:
		return "", model.Validationf("export", "unsupported format %q (want json, csv or graphml)", name)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case GraphML:
		return "application/graphml+xml"
	default:
		return "application/json"
	}
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Write serializes g to w in format f.
func Write(w io.Writer, g *model.Graph, f Format) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	case CSV:
		return writeCSV(w, g)
	case GraphML:
		return writeGraphML(w, g)
	default:
		return model.Validationf("export", "unsupported format %q", f)
	}
}

// Read parses a graph previously produced by Write. The result is not
// validated; build a graph store from it to check consistency.
func Read(r io.Reader, f Format) (*model.Graph, error) {
	switch f {
	case JSON:
		g := model.NewGraph()
		if err := json.NewDecoder(r).Decode(g); err != nil {
			return nil, fmt.Errorf("failed to decode json graph: %w", err)
		}
		for _, e := range g.Edges {
			e.RelationshipType = model.ParseRelationshipType(string(e.RelationshipType))
		}
		return g, nil
	case CSV:
		return readCSV(r)
	case GraphML:
		return readGraphML(r)
	default:
		return nil, model.Validationf("import", "unsupported format %q", f)
	}
}
