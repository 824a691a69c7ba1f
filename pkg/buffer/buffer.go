// Package buffer turns weighted nodes into their zones of influence.
package buffer

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/overlay"
)

// DefaultSteps is the number of edge segments used to approximate a circle.
const DefaultSteps = 64

// ErrNoRadius is reported for nodes whose radius does not produce a circle.
var ErrNoRadius = errors.New("radius must be positive")

// Circle approximates a geodesic circle of node.Radius meters around the node
// with steps edge segments. The ring is closed. A non-positive radius yields
// no circle.
func Circle(node model.Node, steps int) (orb.Polygon, bool) {
	if !(node.Radius > 0) || math.IsInf(node.Radius, 0) {
		return nil, false
	}
	if steps < 3 {
		steps = DefaultSteps
	}

	center := node.Point()
	ring := make(orb.Ring, 0, steps+1)
	for i := 0; i < steps; i++ {
		bearing := float64(i) * -360 / float64(steps)
		ring = append(ring, model.Destination(center, bearing, node.Radius))
	}
	ring = append(ring, ring[0])

	return orb.Polygon{ring}, true
}

// Influence builds the influence geometry of a node set. Zero nodes give an
// empty collection, a single node its own circle, and two or more nodes one
// feature holding the union of all circles.
func Influence(nodes []model.Node, steps int) (*geojson.FeatureCollection, []model.Warning) {
	fc := geojson.NewFeatureCollection()
	if len(nodes) == 0 {
		return fc, nil
	}

	var warnings []model.Warning
	circles := make([]orb.Geometry, 0, len(nodes))
	owners := make([]string, 0, len(nodes))
	for _, n := range nodes {
		c, ok := Circle(n, steps)
		if !ok {
			warnings = append(warnings, model.NewWarning("buffer", n.ID,
				fmt.Errorf("%w, got %g", ErrNoRadius, n.Radius)))
			continue
		}
		circles = append(circles, c)
		owners = append(owners, n.ID)
	}

	switch len(circles) {
	case 0:
		return fc, warnings
	case 1:
		f := geojson.NewFeature(circles[0])
		f.Properties["nodes"] = owners
		fc.Append(f)
		return fc, warnings
	}

	merged, skipped, err := overlay.UnionValid(circles...)
	for _, s := range skipped {
		warnings = append(warnings, model.NewWarning("buffer", owners[s.Index], s.Err))
	}
	if err != nil {
		warnings = append(warnings, model.NewWarning("buffer", "union", err))
		return fc, warnings
	}

	logging.Debug("influence geometry built", "nodes", len(nodes), "circles", len(circles), "parts", len(merged))

	if len(merged) == 0 {
		return fc, warnings
	}

	var g orb.Geometry = merged
	if len(merged) == 1 {
		g = merged[0]
	}
	f := geojson.NewFeature(g)
	f.Properties["nodes"] = owners
	fc.Append(f)
	return fc, warnings
}

// Parts splits an influence collection into one feature per polygon part.
func Parts(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for _, f := range fc.Features {
		for _, p := range overlay.Polygons(f.Geometry) {
			part := geojson.NewFeature(p)
			for k, v := range f.Properties {
				part.Properties[k] = v
			}
			out.Append(part)
		}
	}
	return out
}
