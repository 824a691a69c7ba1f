// Package session holds the mutable application state: the node set placed
// by the planner and the latest analysis of that set against the parcels.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"github.com/ritzau/pugmark/pkg/filter"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/nodeio"
	"github.com/ritzau/pugmark/pkg/pipeline"
	"github.com/ritzau/pugmark/pkg/pubsub"
	"github.com/ritzau/pugmark/pkg/stats"
)

// DefaultRadius is the influence radius in meters given to new nodes.
const DefaultRadius = 1600.0

var (
	// ErrNodeNotFound is returned when a mutation names an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidValue is returned for non-finite coordinates, negative
	// densities and non-positive radii.
	ErrInvalidValue = errors.New("invalid value")
)

// Event types published on pubsub.TopicNodes
const (
	EventNodeAdded    = "node_added"
	EventNodeMoved    = "node_moved"
	EventNodeUpdated  = "node_updated"
	EventNodeRemoved  = "node_removed"
	EventRadiusChange = "radius_changed"
	EventImported     = "imported"
	EventRecomputed   = "recomputed"
	EventParcels      = "parcels_loaded"
)

// CountRecorder receives the session sizes after every recomputation.
type CountRecorder interface {
	SetSessionCounts(nodes, clusters int)
}

// Option configures a Session
type Option func(*Session)

// WithPublisher publishes node and analysis events to pub.
func WithPublisher(pub pubsub.Publisher) Option {
	return func(s *Session) { s.publisher = pub }
}

// WithParams sets the pipeline parameters.
func WithParams(p pipeline.Params) Option {
	return func(s *Session) { s.params = p }
}

// WithRadius sets the radius given to new nodes.
func WithRadius(r float64) Option {
	return func(s *Session) { s.radius = r }
}

// WithIDGenerator replaces the uuid generator for new node ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Session) { s.newID = gen }
}

// WithCountRecorder reports session sizes, typically to metrics.
func WithCountRecorder(rec CountRecorder) Option {
	return func(s *Session) { s.counts = rec }
}

// Session serializes mutations of the node set and recomputes the analysis
// after each one. Readers get snapshots and never observe a partial update.
type Session struct {
	mu       sync.RWMutex
	index    *filter.Index
	parcels  int
	nodes    []model.Node
	analysis *pipeline.Analysis
	radius   float64
	params   pipeline.Params

	publisher pubsub.Publisher
	counts    CountRecorder
	newID     func() string
}

// New creates a session over a parcel collection and runs the initial
// analysis of an empty node set.
func New(ctx context.Context, parcels *geojson.FeatureCollection, opts ...Option) (*Session, error) {
	s := &Session{
		radius: DefaultRadius,
		params: pipeline.DefaultParams(),
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if !(s.radius > 0) || math.IsInf(s.radius, 0) {
		return nil, fmt.Errorf("%w: radius %g", ErrInvalidValue, s.radius)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setParcels(parcels)
	if err := s.commit(ctx, []model.Node{}, EventRecomputed); err != nil {
		return nil, err
	}
	return s, nil
}

// Nodes returns a copy of the current node list.
func (s *Session) Nodes() []model.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneNodes(s.nodes)
}

// Node returns a copy of one node.
func (s *Session) Node(id string) (model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.find(id)
	if i < 0 {
		return model.Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return model.CloneNodes(s.nodes[i : i+1])[0], nil
}

// Analysis returns the latest analysis. It must be treated as read-only.
func (s *Session) Analysis() *pipeline.Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analysis
}

// Stats computes the statistics of the current node set.
func (s *Session) Stats() stats.Summary {
	return stats.Summarize(s.Nodes())
}

// Radius returns the radius given to new nodes.
func (s *Session) Radius() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.radius
}

// Params returns the pipeline parameters.
func (s *Session) Params() pipeline.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// ParcelCount returns the number of usable parcels.
func (s *Session) ParcelCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parcels
}

// AddNode places a new node with the default density and the session radius.
func (s *Session) AddNode(ctx context.Context, lon, lat float64) (model.Node, error) {
	if err := checkCoords(lon, lat); err != nil {
		return model.Node{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := model.Node{
		ID:        s.newID(),
		Longitude: lon,
		Latitude:  lat,
		Density:   model.Density(model.DefaultDensity),
		Radius:    s.radius,
	}
	next := append(model.CloneNodes(s.nodes), n)
	if err := s.commit(ctx, next, EventNodeAdded); err != nil {
		return model.Node{}, err
	}
	return n, nil
}

// MoveNode changes the position of a node.
func (s *Session) MoveNode(ctx context.Context, id string, lon, lat float64) error {
	return s.UpdateNode(ctx, id, NodeUpdate{Longitude: &lon, Latitude: &lat})
}

// SetDensity changes the weight of a node.
func (s *Session) SetDensity(ctx context.Context, id string, density float64) error {
	return s.UpdateNode(ctx, id, NodeUpdate{Density: &density})
}

// NodeUpdate names the node fields to change. Nil fields are kept; the
// position fields must be given together.
type NodeUpdate struct {
	Longitude *float64
	Latitude  *float64
	Density   *float64
}

// UpdateNode validates every field of u and then applies them in a single
// commit, so a rejected update changes nothing.
func (s *Session) UpdateNode(ctx context.Context, id string, u NodeUpdate) error {
	moving := u.Longitude != nil || u.Latitude != nil
	switch {
	case moving && (u.Longitude == nil || u.Latitude == nil):
		return fmt.Errorf("%w: longitude and latitude must be given together", ErrInvalidValue)
	case !moving && u.Density == nil:
		return fmt.Errorf("%w: nothing to update", ErrInvalidValue)
	}
	if moving {
		if err := checkCoords(*u.Longitude, *u.Latitude); err != nil {
			return err
		}
	}
	if d := u.Density; d != nil && (math.IsNaN(*d) || math.IsInf(*d, 0) || *d < 0) {
		return fmt.Errorf("%w: density %g", ErrInvalidValue, *d)
	}

	event := EventNodeUpdated
	if moving && u.Density == nil {
		event = EventNodeMoved
	}
	return s.update(ctx, id, event, func(n *model.Node) {
		if moving {
			n.Longitude, n.Latitude = *u.Longitude, *u.Latitude
		}
		if u.Density != nil {
			n.Density = model.Density(*u.Density)
		}
	})
}

// RemoveNode deletes a node.
func (s *Session) RemoveNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	next := make([]model.Node, 0, len(s.nodes)-1)
	next = append(next, model.CloneNodes(s.nodes[:i])...)
	next = append(next, model.CloneNodes(s.nodes[i+1:])...)
	return s.commit(ctx, next, EventNodeRemoved)
}

// SetRadius applies r to every node and to nodes added later.
func (s *Session) SetRadius(ctx context.Context, r float64) error {
	if !(r > 0) || math.IsInf(r, 0) {
		return fmt.Errorf("%w: radius %g", ErrInvalidValue, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := model.CloneNodes(s.nodes)
	for i := range next {
		next[i].Radius = r
	}
	if err := s.commit(ctx, next, EventRadiusChange); err != nil {
		return err
	}
	s.radius = r
	return nil
}

// Import replaces the node set with the list read from r. On any error the
// current nodes are kept.
func (s *Session) Import(ctx context.Context, r io.Reader) error {
	nodes, err := nodeio.Import(r)
	if err != nil {
		return err
	}
	return s.ReplaceNodes(ctx, nodes)
}

// ReplaceNodes swaps in a complete node list.
func (s *Session) ReplaceNodes(ctx context.Context, nodes []model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, model.CloneNodes(nodes), EventImported)
}

// Export writes the current nodes as a JSON array.
func (s *Session) Export(w io.Writer) error {
	return nodeio.Export(w, s.Nodes())
}

// SetParcels swaps the parcel collection and recomputes the analysis.
func (s *Session) SetParcels(ctx context.Context, parcels *geojson.FeatureCollection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevIndex, prevCount := s.index, s.parcels
	s.setParcels(parcels)
	if err := s.commit(ctx, s.nodes, EventParcels); err != nil {
		s.index, s.parcels = prevIndex, prevCount
		return err
	}
	return nil
}

func (s *Session) setParcels(parcels *geojson.FeatureCollection) {
	s.index = filter.NewIndex(parcels)
	s.parcels = s.index.Len()
}

func (s *Session) update(ctx context.Context, id, event string, mutate func(*model.Node)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	next := model.CloneNodes(s.nodes)
	mutate(&next[i])
	return s.commit(ctx, next, event)
}

// commit analyses next and makes it current. The caller holds the write
// lock. On error the session state is unchanged.
func (s *Session) commit(ctx context.Context, next []model.Node, event string) error {
	log := logging.New("session")

	analysis, err := pipeline.Analyze(ctx, next, s.index, s.params)
	if err != nil {
		return fmt.Errorf("recomputing analysis: %w", err)
	}
	s.nodes = next
	s.analysis = analysis

	if s.counts != nil {
		s.counts.SetSessionCounts(len(next), analysis.ClusterCount())
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(pubsub.TopicNodes, event, next); err != nil {
			log.Warn("failed to publish nodes", "error", err)
		}
		if err := s.publisher.Publish(pubsub.TopicAnalysis, EventRecomputed, Summarize(analysis)); err != nil {
			log.Warn("failed to publish analysis", "error", err)
		}
	}

	log.Info("analysis updated", "event", event, "nodes", len(next),
		"clusters", analysis.ClusterCount(), "durationMs", analysis.Elapsed.Milliseconds())
	return nil
}

// Summarize condenses an analysis into its event payload.
func Summarize(a *pipeline.Analysis) pubsub.AnalysisSummary {
	return pubsub.AnalysisSummary{
		Nodes:        a.Stats.Nodes,
		Boundaries:   len(a.Boundaries),
		Parcels:      len(a.Parcels().Features),
		Clusters:     a.ClusterCount(),
		Warnings:     len(a.Warnings),
		TotalDensity: a.Stats.TotalDensity,
		Dispersion:   a.Stats.Dispersion,
		DurationMs:   a.Elapsed.Milliseconds(),
	}
}

func (s *Session) find(id string) int {
	for i, n := range s.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func checkCoords(lon, lat float64) error {
	for _, v := range []float64{lon, lat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: coordinate %g", ErrInvalidValue, v)
		}
	}
	return nil
}
