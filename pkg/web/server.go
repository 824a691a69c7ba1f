package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/geojson"

	"github.com/ritzau/pugmark/pkg/footprint"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/metrics"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/nodeio"
	"github.com/ritzau/pugmark/pkg/pubsub"
	"github.com/ritzau/pugmark/pkg/session"
)

// maxBodyBytes caps request bodies, node imports included.
const maxBodyBytes = 16 << 20

// Server exposes a session over HTTP
type Server struct {
	router    *mux.Router
	session   *session.Session
	publisher pubsub.Publisher
	metrics   *metrics.Collector
	generator footprint.Generator
	model     footprint.Model
}

// Option configures a Server
type Option func(*Server)

// WithMetrics counts requests and serves /metrics from c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithFootprints enables /api/footprints backed by gen.
func WithFootprints(gen footprint.Generator, m footprint.Model) Option {
	return func(s *Server) {
		s.generator = gen
		s.model = m
	}
}

// NewServer creates a new web server
func NewServer(sess *session.Session, pub pubsub.Publisher, opts ...Option) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		session:   sess,
		publisher: pub,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

// PublishStatus publishes a status event
func (s *Server) PublishStatus(state, message string) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Publish(pubsub.TopicStatus, state, pubsub.Status{State: state, Message: message})
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	// SSE subscription endpoint
	s.router.HandleFunc("/api/subscribe/{topic}", s.handleSubscribe).Methods("GET")

	// Node routes - more specific routes must come first
	s.router.HandleFunc("/api/nodes/import", s.handleImport).Methods("POST")
	s.router.HandleFunc("/api/nodes/export", s.handleExport).Methods("GET")
	s.router.HandleFunc("/api/nodes", s.handleNodes).Methods("GET")
	s.router.HandleFunc("/api/nodes", s.handleAddNode).Methods("POST")
	s.router.HandleFunc("/api/nodes/{id}", s.handleNode).Methods("GET")
	s.router.HandleFunc("/api/nodes/{id}", s.handleUpdateNode).Methods("PATCH")
	s.router.HandleFunc("/api/nodes/{id}", s.handleRemoveNode).Methods("DELETE")

	s.router.HandleFunc("/api/radius", s.handleRadius).Methods("GET")
	s.router.HandleFunc("/api/radius", s.handleSetRadius).Methods("PUT")

	// Derived data
	s.router.HandleFunc("/api/influence", s.handleInfluence).Methods("GET")
	s.router.HandleFunc("/api/parcels", s.handleParcels).Methods("GET")
	s.router.HandleFunc("/api/clusters", s.handleClusters).Methods("GET")
	s.router.HandleFunc("/api/analysis", s.handleAnalysis).Methods("GET")
	s.router.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/api/footprints", s.handleFootprints).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"parcels": s.session.ParcelCount(),
		"nodes":   len(s.session.Nodes()),
	})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	topic := mux.Vars(r)["topic"]
	switch topic {
	case pubsub.TopicStatus, pubsub.TopicNodes, pubsub.TopicAnalysis:
	default:
		http.Error(w, fmt.Sprintf("unknown topic %q", topic), http.StatusNotFound)
		return
	}
	if s.publisher == nil {
		http.Error(w, "subscriptions are not available", http.StatusServiceUnavailable)
		return
	}
	pubsub.Stream(w, r, s.publisher, topic)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Nodes())
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.session.Node(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// position is the body of a node creation request
type position struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	var req position
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Longitude == nil || req.Latitude == nil {
		writeError(w, r, fmt.Errorf("%w: longitude and latitude are required", session.ErrInvalidValue))
		return
	}

	node, err := s.session.AddNode(r.Context(), *req.Longitude, *req.Latitude)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// nodePatch is the body of a node update request
type nodePatch struct {
	position
	Density *float64 `json:"density"`
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req nodePatch
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	update := session.NodeUpdate{Longitude: req.Longitude, Latitude: req.Latitude, Density: req.Density}
	if err := s.session.UpdateNode(r.Context(), id, update); err != nil {
		writeError(w, r, err)
		return
	}

	node, err := s.session.Node(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RemoveNode(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := s.session.Import(r.Context(), r.Body); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Nodes())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="nodes.json"`)
	if err := s.session.Export(w); err != nil {
		logging.ErrorContext(r.Context(), "node export failed", "error", err)
	}
}

type radiusBody struct {
	Radius float64 `json:"radius"`
}

func (s *Server) handleRadius(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, radiusBody{Radius: s.session.Radius()})
}

func (s *Server) handleSetRadius(w http.ResponseWriter, r *http.Request) {
	var req radiusBody
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.session.SetRadius(r.Context(), req.Radius); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, radiusBody{Radius: s.session.Radius()})
}

func (s *Server) handleInfluence(w http.ResponseWriter, r *http.Request) {
	influence := s.session.Analysis().Influence
	if influence == nil {
		influence = geojson.NewFeatureCollection()
	}
	writeJSON(w, http.StatusOK, influence)
}

func (s *Server) handleParcels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Analysis().Parcels())
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Analysis().Clusters())
}

// analysisResponse is the summary served by /api/analysis
type analysisResponse struct {
	Summary  pubsub.AnalysisSummary `json:"summary"`
	Warnings []model.Warning        `json:"warnings"`
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	a := s.session.Analysis()
	warnings := a.Warnings
	if warnings == nil {
		warnings = []model.Warning{}
	}
	writeJSON(w, http.StatusOK, analysisResponse{Summary: session.Summarize(a), Warnings: warnings})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Stats())
}

// footprintResponse carries the generated footprints and the clusters that
// got none.
type footprintResponse struct {
	Footprints *geojson.FeatureCollection `json:"footprints"`
	Warnings   []model.Warning            `json:"warnings"`
}

func (s *Server) handleFootprints(w http.ResponseWriter, r *http.Request) {
	if s.generator == nil {
		http.Error(w, "footprint generation is not configured", http.StatusNotImplemented)
		return
	}

	fps, warnings, err := footprint.Collect(r.Context(), s.generator, s.model, s.session.Analysis().Clusters())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if warnings == nil {
		warnings = []model.Warning{}
	}
	writeJSON(w, http.StatusOK, footprintResponse{Footprints: fps, Warnings: warnings})
}

// Start serves on the given port until ctx is done, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", "http://localhost"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logging.Info("shutting down web server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

var errBadRequest = errors.New("malformed request body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNodeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidValue),
		errors.Is(err, nodeio.ErrInvalidFormat),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// Client went away
		status = 499
	}
	if status == http.StatusInternalServerError {
		logging.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), status)
}
