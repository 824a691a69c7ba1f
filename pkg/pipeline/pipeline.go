// Package pipeline runs the clustering stages for a node configuration.
//
// For every influence boundary the stages are: filter the parcels by
// centroid, link the centroids to their nearest neighbours, find the islands
// of linked parcels and merge each island into one shape. Boundaries are
// independent and run in parallel; the parcel index is shared read-only.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/ritzau/pugmark/pkg/buffer"
	"github.com/ritzau/pugmark/pkg/filter"
	"github.com/ritzau/pugmark/pkg/graph"
	"github.com/ritzau/pugmark/pkg/islands"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/merge"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/stats"
	"golang.org/x/sync/errgroup"
)

// Stage names reported to an Observer
const (
	StageBuffer    = "buffer"
	StageFilter    = "filter"
	StageGraph     = "graph"
	StageIslands   = "islands"
	StageMerge     = "merge"
	StageBoundary  = "boundary"
	StageAnalysis  = "analysis"
	StageStatistic = "stats"
)

// Observer receives timing and size information for each completed stage.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveStage(stage string, elapsed time.Duration, items int)
	ObserveWarnings(stage string, count int)
}

// Params configures one analysis. They are passed explicitly so analyses
// with different settings can run side by side.
type Params struct {
	Steps           int     `json:"steps"`
	MinNeighbors    int     `json:"minNeighbors"`
	MaxRadius       float64 `json:"maxRadius"`
	SplitBoundaries bool    `json:"splitBoundaries"`
	Workers         int     `json:"workers"`

	Observer Observer `json:"-"` // optional
}

// DefaultParams returns the standard settings.
func DefaultParams() Params {
	opts := graph.DefaultOptions()
	return Params{
		Steps:        buffer.DefaultSteps,
		MinNeighbors: opts.MinNeighbors,
		MaxRadius:    opts.MaxRadius,
		Workers:      4,
	}
}

// GraphOptions returns the neighbour query settings of p.
func (p Params) GraphOptions() graph.Options {
	return graph.Options{MinNeighbors: p.MinNeighbors, MaxRadius: p.MaxRadius}
}

// Validate checks that p describes a usable analysis.
func (p Params) Validate() error {
	if p.MinNeighbors < 1 {
		return fmt.Errorf("min neighbors must be at least 1, got %d", p.MinNeighbors)
	}
	if !(p.MaxRadius > 0) {
		return fmt.Errorf("max radius must be positive, got %g", p.MaxRadius)
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", p.Workers)
	}
	return nil
}

// Result is the outcome of the stages for one boundary.
type Result struct {
	Boundary   orb.Geometry               `json:"-"`
	Parcels    *geojson.FeatureCollection `json:"parcels"`
	Centroids  []model.Centroid           `json:"centroids"`
	Adjacency  model.Adjacency            `json:"-"`
	Islands    []model.Island             `json:"islands"`
	Singletons []model.Island             `json:"singletons"`
	Merged     *geojson.FeatureCollection `json:"merged"`
	Warnings   []model.Warning            `json:"warnings,omitempty"`
}

// Run executes filter, graph, islands and merge for a single boundary.
func Run(ctx context.Context, index *filter.Index, boundary orb.Geometry, params Params) (*Result, error) {
	if index == nil {
		index = filter.NewIndex(nil)
	}
	obs := params.Observer
	res := &Result{Boundary: boundary}

	start := time.Now()
	res.Parcels, res.Warnings = index.Within(boundary)
	var w []model.Warning
	res.Centroids, w = filter.Centroids(res.Parcels)
	res.Warnings = append(res.Warnings, w...)
	observe(obs, StageFilter, start, len(res.Centroids), w)

	start = time.Now()
	cg, err := graph.BuildContext(ctx, res.Centroids, params.GraphOptions())
	if err != nil {
		return nil, fmt.Errorf("building centroid graph: %w", err)
	}
	res.Adjacency = cg.Adjacency()
	observe(obs, StageGraph, start, cg.EdgeCount(), nil)

	start = time.Now()
	found := islands.Find(res.Adjacency)
	res.Islands, res.Singletons = islands.Partition(found)
	observe(obs, StageIslands, start, len(found), nil)

	start = time.Now()
	res.Merged, w, err = merge.Islands(ctx, res.Islands, res.Parcels)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, w...)
	observe(obs, StageMerge, start, len(res.Merged.Features), w)

	return res, nil
}

// Analysis is the full outcome for a node configuration.
type Analysis struct {
	Influence  *geojson.FeatureCollection `json:"influence"`
	Boundaries []*Result                  `json:"boundaries"`
	Stats      stats.Summary              `json:"stats"`
	Warnings   []model.Warning            `json:"warnings,omitempty"`
	Elapsed    time.Duration              `json:"elapsedNs"`
}

// Analyze buffers the nodes into influence boundaries and runs every
// boundary in parallel, bounded by params.Workers.
func Analyze(ctx context.Context, nodes []model.Node, index *filter.Index, params Params) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logging.New("pipeline")
	began := time.Now()
	obs := params.Observer

	start := time.Now()
	influence, warnings := buffer.Influence(nodes, params.Steps)
	observe(obs, StageBuffer, start, len(influence.Features), warnings)

	boundaries := influence
	if params.SplitBoundaries {
		boundaries = buffer.Parts(influence)
	}

	results := make([]*Result, len(boundaries.Features))
	g, gctx := errgroup.WithContext(ctx)
	if params.Workers > 0 {
		g.SetLimit(params.Workers)
	}
	for i, f := range boundaries.Features {
		g.Go(func() error {
			start := time.Now()
			res, err := Run(gctx, index, f.Geometry, params)
			if err != nil {
				return fmt.Errorf("boundary %d: %w", i, err)
			}
			results[i] = res
			observe(obs, StageBoundary, start, len(res.Parcels.Features), nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	start = time.Now()
	summary := stats.Summarize(nodes)
	observe(obs, StageStatistic, start, summary.Nodes, nil)

	a := &Analysis{
		Influence:  influence,
		Boundaries: results,
		Stats:      summary,
		Warnings:   warnings,
	}

	// Index warnings are repeated by every boundary
	seen := make(map[model.Warning]bool)
	for _, w := range warnings {
		seen[w] = true
	}
	for _, r := range results {
		for _, w := range r.Warnings {
			if !seen[w] {
				seen[w] = true
				a.Warnings = append(a.Warnings, w)
			}
		}
	}

	a.Elapsed = time.Since(began)
	observe(obs, StageAnalysis, began, len(results), a.Warnings)

	for _, w := range a.Warnings {
		log.Warn("analysis warning", "stage", w.Stage, "subject", w.Subject, "message", w.Message)
	}
	log.Debug("analysis complete", "nodes", len(nodes), "boundaries", len(results),
		"clusters", a.ClusterCount(), "durationMs", a.Elapsed.Milliseconds())
	return a, nil
}

// Parcels returns the filtered parcels of every boundary in one collection.
func (a *Analysis) Parcels() *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for _, r := range a.Boundaries {
		out.Features = append(out.Features, r.Parcels.Features...)
	}
	return out
}

// Clusters returns the merged island shapes of every boundary in one
// collection. Each feature is tagged with the index of its boundary.
func (a *Analysis) Clusters() *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	for i, r := range a.Boundaries {
		for _, f := range r.Merged.Features {
			c := geojson.NewFeature(f.Geometry)
			for k, v := range f.Properties {
				c.Properties[k] = v
			}
			c.Properties["boundary"] = i
			out.Append(c)
		}
	}
	return out
}

// ClusterCount is the number of merged islands across all boundaries.
func (a *Analysis) ClusterCount() int {
	n := 0
	for _, r := range a.Boundaries {
		n += len(r.Merged.Features)
	}
	return n
}

func observe(obs Observer, stage string, start time.Time, items int, warnings []model.Warning) {
	if obs == nil {
		return
	}
	obs.ObserveStage(stage, time.Since(start), items)
	if len(warnings) > 0 {
		obs.ObserveWarnings(stage, len(warnings))
	}
}
