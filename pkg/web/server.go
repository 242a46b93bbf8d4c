// Package web binds the query service to HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ritzau/insight-graph/pkg/logging"
	"github.com/ritzau/insight-graph/pkg/metrics"
	"github.com/ritzau/insight-graph/pkg/pipeline"
	"github.com/ritzau/insight-graph/pkg/pubsub"
	"github.com/ritzau/insight-graph/pkg/query"
)

// Rebuilder runs a graph rebuild. *pipeline.Runner satisfies it.
type Rebuilder interface {
	Run(ctx context.Context, reason string) (*pipeline.Result, error)
}

// Server represents the web server
type Server struct {
	router    *mux.Router
	service   *query.Service
	publisher pubsub.Publisher
	metrics   *metrics.Registry
	rebuilder Rebuilder
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes reg at /metrics.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// WithRebuilder enables POST /api/rebuild.
func WithRebuilder(r Rebuilder) Option {
	return func(s *Server) { s.rebuilder = r }
}

// NewServer creates a new web server over service. publisher backs the
// SSE subscription endpoints.
func NewServer(service *query.Service, publisher pubsub.Publisher, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		service:   service,
		publisher: publisher,
	}
	for _, o := range opts {
		o(s)
	}
	s.setupRoutes()
	return s
}

// subscribable topics
var topics = map[string]bool{
	pubsub.TopicGraphStatus: true,
	pubsub.TopicActivity:    true,
}

func (s *Server) setupRoutes() {
	s.router.Use(logging.RequestIDMiddleware)

	// SSE subscription endpoint
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/overview", s.handleOverview).Methods("GET")
	api.HandleFunc("/search", s.handleSearch).Methods("POST")
	api.HandleFunc("/graph/filtered", s.handleFilteredGraph).Methods("POST")
	api.HandleFunc("/graph/audience/{audience}", s.handleAudienceGraph).Methods("GET")
	api.HandleFunc("/node/neighbors", s.handleNeighbors).Methods("POST")
	api.HandleFunc("/node/{id}", s.handleNode).Methods("GET")
	api.HandleFunc("/analytics", s.handleAnalytics).Methods("GET", "POST")
	api.HandleFunc("/export/graph", s.handleExport).Methods("GET")
	api.HandleFunc("/sources", s.handleSources).Methods("GET")
	api.HandleFunc("/node-types", s.handleNodeTypes).Methods("GET")
	api.HandleFunc("/audiences", s.handleAudiences).Methods("GET")
	api.HandleFunc("/activity/selection", s.handleSelection).Methods("POST")
	api.HandleFunc("/rebuild", s.handleRebuild).Methods("POST")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such endpoint: " + r.URL.Path, Kind: "not_found"})
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	if !topics[topic] {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("unknown topic %q", topic), Kind: "not_found"})
		return
	}

	// Create subscription
	sub, err := s.publisher.Subscribe(r.Context(), topic)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

	// Send initial comment to establish connection (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	flush(w)

	// Stream events until the client leaves or the publisher closes
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, event); err != nil {
				logging.DebugContext(r.Context(), "SSE client gone", "topic", topic, "error", err)
				return
			}
			flush(w)
		}
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	logging.Info("web server stopped")
	return nil
}
