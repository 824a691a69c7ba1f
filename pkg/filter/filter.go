// Package filter selects the parcels whose centroid lies inside a boundary.
package filter

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
	"github.com/ritzau/pugmark/pkg/model"
)

// ErrBadGeometry marks parcels that cannot produce a centroid.
var ErrBadGeometry = errors.New("parcel geometry is not a non-empty polygon")

// Centroid returns the area-weighted geometric centroid of a parcel polygon.
func Centroid(g orb.Geometry) (orb.Point, error) {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) < 3 {
			return orb.Point{}, ErrBadGeometry
		}
	case orb.MultiPolygon:
		if len(v) == 0 {
			return orb.Point{}, ErrBadGeometry
		}
	default:
		return orb.Point{}, ErrBadGeometry
	}

	c, _ := planar.CentroidArea(g)
	if !finite(c) {
		return orb.Point{}, fmt.Errorf("%w: centroid is not finite", ErrBadGeometry)
	}
	return c, nil
}

// Contains reports whether p lies in the polygonal boundary. Points on the
// boundary follow orb's ring convention.
func Contains(boundary orb.Geometry, p orb.Point) bool {
	switch b := boundary.(type) {
	case orb.Polygon:
		return planar.PolygonContains(b, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(b, p)
	case orb.Collection:
		for _, g := range b {
			if Contains(g, p) {
				return true
			}
		}
	}
	return false
}

// Parcels returns the parcels of fc whose centroid lies inside boundary.
// Parcels without a usable polygon are skipped with a warning.
func Parcels(fc *geojson.FeatureCollection, boundary orb.Geometry) (*geojson.FeatureCollection, []model.Warning) {
	return NewIndex(fc).Within(boundary)
}

// entry is a parcel centroid stored in the quadtree.
type entry struct {
	pos     int
	feature *geojson.Feature
	center  orb.Point
}

func (e *entry) Point() orb.Point { return e.center }

// Index prepares a read-only parcel collection for repeated filtering.
type Index struct {
	tree     *quadtree.Quadtree
	entries  []*entry
	warnings []model.Warning
}

// NewIndex computes every parcel centroid once and indexes them.
func NewIndex(fc *geojson.FeatureCollection) *Index {
	ix := &Index{}
	if fc == nil || len(fc.Features) == 0 {
		return ix
	}

	for i, f := range fc.Features {
		c, err := Centroid(f.Geometry)
		if err != nil {
			id, _ := model.FeatureID(f)
			ix.warnings = append(ix.warnings, model.NewWarning("filter", subject(id, i), err))
			continue
		}
		ix.entries = append(ix.entries, &entry{pos: i, feature: f, center: c})
	}

	if len(ix.entries) == 0 {
		return ix
	}

	pts := make(orb.MultiPoint, len(ix.entries))
	for i, e := range ix.entries {
		pts[i] = e.center
	}
	ix.tree = quadtree.New(pts.Bound())
	for _, e := range ix.entries {
		// The bound is built from these points, Add cannot fail
		_ = ix.tree.Add(e)
	}

	return ix
}

// Len returns the number of usable parcels.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Warnings returns the diagnostics for parcels that were left out.
func (ix *Index) Warnings() []model.Warning {
	return append([]model.Warning(nil), ix.warnings...)
}

// Within returns, in input order, the parcels whose centroid lies in boundary.
func (ix *Index) Within(boundary orb.Geometry) (*geojson.FeatureCollection, []model.Warning) {
	out := geojson.NewFeatureCollection()
	warnings := ix.Warnings()
	if ix.tree == nil || empty(boundary) {
		return out, warnings
	}

	candidates := ix.tree.InBound(nil, boundary.Bound())
	hits := make([]*entry, 0, len(candidates))
	for _, c := range candidates {
		e := c.(*entry)
		if Contains(boundary, e.center) {
			hits = append(hits, e)
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	for _, e := range hits {
		out.Append(e.feature)
	}
	return out, warnings
}

// Centroids returns one centroid per parcel of fc that carries an id.
func Centroids(fc *geojson.FeatureCollection) ([]model.Centroid, []model.Warning) {
	if fc == nil {
		return nil, nil
	}

	var warnings []model.Warning
	centroids := make([]model.Centroid, 0, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := model.FeatureID(f)
		if !ok {
			warnings = append(warnings, model.Warning{
				Stage: "centroid", Subject: subject("", i), Message: "parcel has no id",
			})
			continue
		}
		c, err := Centroid(f.Geometry)
		if err != nil {
			warnings = append(warnings, model.NewWarning("centroid", string(id), err))
			continue
		}
		centroids = append(centroids, model.Centroid{ID: id, Coords: c})
	}
	return centroids, warnings
}

func empty(g orb.Geometry) bool {
	switch b := g.(type) {
	case nil:
		return true
	case orb.Polygon:
		return len(b) == 0 || len(b[0]) == 0
	case orb.MultiPolygon:
		for _, p := range b {
			if len(p) > 0 && len(p[0]) > 0 {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, p := range b {
			if !empty(p) {
				return false
			}
		}
		return true
	}
	// Non-areal boundaries contain nothing
	return true
}

func subject(id model.ParcelID, pos int) string {
	if id != "" {
		return string(id)
	}
	return fmt.Sprintf("#%d", pos)
}

func finite(p orb.Point) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
