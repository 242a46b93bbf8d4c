package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ritzau/insight-graph/pkg/export"
	"github.com/ritzau/insight-graph/pkg/filter"
	"github.com/ritzau/insight-graph/pkg/logging"
	"github.com/ritzau/insight-graph/pkg/model"
	"github.com/ritzau/insight-graph/pkg/query"
	"github.com/ritzau/insight-graph/pkg/validation"
)

const maxBodyBytes = 1 << 20

// Request defaults.
const (
	DefaultSearchLimit   = 50
	DefaultFilteredLimit = 100
	DefaultAudienceLimit = 100
	DefaultDepth         = 1
	DefaultMinWeight     = 0.3
)

type searchRequest struct {
	Query string `json:"query" validate:"required"`
	Limit int    `json:"limit" validate:"min=1,max=500"`
}

type filteredRequest struct {
	filter.Predicates
	Limit int `json:"limit" validate:"min=1,max=1000"`
}

type neighborsRequest struct {
	NodeID    string  `json:"node_id" validate:"required"`
	Depth     int     `json:"depth" validate:"min=1,max=5"`
	MinWeight float64 `json:"min_weight" validate:"gte=0,lte=1"`
}

type selectionRequest struct {
	NodeID string `json:"node_id" validate:"required"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version int    `json:"version"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "loading"}
	if snap := s.service.Current(); snap != nil {
		resp = healthResponse{Status: "ok", Ready: true, Version: snap.Version}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.service.Overview(r.Context())
	respond(w, r, ov, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req := searchRequest{Limit: DefaultSearchLimit}
	if !decode(w, r, "search", &req) {
		return
	}
	results, err := s.service.Search(r.Context(), req.Query, req.Limit)
	respond(w, r, results, err)
}

func (s *Server) handleFilteredGraph(w http.ResponseWriter, r *http.Request) {
	req := filteredRequest{Limit: DefaultFilteredLimit}
	if !decode(w, r, "filtered graph", &req) {
		return
	}
	g, err := s.service.FilteredGraph(r.Context(), req.Predicates, req.Limit)
	respond(w, r, g, err)
}

func (s *Server) handleAudienceGraph(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", DefaultAudienceLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.service.AudienceGraph(r.Context(), mux.Vars(r)["audience"], limit)
	respond(w, r, g, err)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	req := neighborsRequest{Depth: DefaultDepth, MinWeight: DefaultMinWeight}
	if !decode(w, r, "neighbors", &req) {
		return
	}
	reach, err := s.service.Neighbors(r.Context(), req.NodeID, req.Depth, req.MinWeight)
	respond(w, r, reach, err)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.Node(r.Context(), mux.Vars(r)["id"])
	respond(w, r, n, err)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	var spec query.SubgraphSpec
	if r.Method == http.MethodPost && !decode(w, r, "analytics", &spec) {
		return
	}
	stats, err := s.service.Analytics(r.Context(), spec)
	respond(w, r, stats, err)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.JSON)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Buffer so a failure can still produce an error status.
	var buf bytes.Buffer
	if err := s.service.Export(r.Context(), &buf, name); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=insight-graph.%s", format.Extension()))
	if _, err := buf.WriteTo(w); err != nil {
		logging.DebugContext(r.Context(), "export write failed", "error", err)
	}
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.service.Sources(r.Context())
	respond(w, r, sources, err)
}

func (s *Server) handleNodeTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.service.NodeTypes(r.Context())
	respond(w, r, types, err)
}

func (s *Server) handleAudiences(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.service.Audiences(r.Context())
	respond(w, r, profiles, err)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !decode(w, r, "select node", &req) {
		return
	}
	n, err := s.service.SelectNode(r.Context(), req.NodeID)
	respond(w, r, n, err)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.rebuilder == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "rebuilds are not enabled", Kind: "unavailable"})
		return
	}
	// A client hanging up must not abort the rebuild.
	res, err := s.rebuilder.Run(context.WithoutCancel(r.Context()), "requested over HTTP")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": res.Version,
		"nodes":   res.Nodes,
		"edges":   res.Edges,
		"skipped": res.Report.Len(),
	})
}

// decode reads a JSON body into v, which carries its defaults, and
// validates it. It writes the error response and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, model.Validationf(op, "invalid request body: %v", err))
		return false
	}
	if err := validation.Struct(op, v); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.Validationf("parse query", "%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// statusOf maps errors onto HTTP status codes and error kinds.
func statusOf(err error) (int, string) {
	if errors.Is(err, query.ErrNotReady) {
		return http.StatusServiceUnavailable, "not_ready"
	}
	switch kind := model.KindOf(err); kind {
	case model.KindValidation:
		return http.StatusBadRequest, string(kind)
	case model.KindNotFound:
		return http.StatusNotFound, string(kind)
	case model.KindDataIntegrity:
		return http.StatusConflict, string(kind)
	case model.KindPartialInput:
		return http.StatusUnprocessableEntity, string(kind)
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusOf(err)
	if status == http.StatusInternalServerError {
		logging.ErrorContext(r.Context(), "request error", "path", r.URL.Path, "error", err)
	} else {
		logging.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("failed to encode response", "error", err)
	}
}
