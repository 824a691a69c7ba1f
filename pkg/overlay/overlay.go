// Package overlay bridges orb geometries to the simplefeatures overlay engine
// for polygon union.
package overlay

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/peterstace/simplefeatures/geom"
)

// ErrNotPolygonal is returned for geometries that are neither polygons nor
// multi-polygons.
var ErrNotPolygonal = errors.New("geometry is not polygonal")

// ErrEmpty is returned for empty polygonal geometries.
var ErrEmpty = errors.New("geometry is empty")

// toGeom converts and validates an orb polygon or multi-polygon.
func toGeom(g orb.Geometry) (geom.Geometry, error) {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) == 0 {
			return geom.Geometry{}, ErrEmpty
		}
	case orb.MultiPolygon:
		if len(v) == 0 {
			return geom.Geometry{}, ErrEmpty
		}
	case nil:
		return geom.Geometry{}, ErrEmpty
	default:
		return geom.Geometry{}, fmt.Errorf("%w: %s", ErrNotPolygonal, g.GeoJSONType())
	}

	data, err := wkb.Marshal(g)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("encoding wkb: %w", err)
	}
	out, err := geom.UnmarshalWKB(data)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("invalid polygon: %w", err)
	}
	return out, nil
}

// fromGeom converts an overlay result back into an orb multi-polygon,
// discarding any non-areal parts.
func fromGeom(g geom.Geometry) (orb.MultiPolygon, error) {
	if g.IsEmpty() {
		return nil, nil
	}
	decoded, err := wkb.Unmarshal(g.AsBinary())
	if err != nil {
		return nil, fmt.Errorf("decoding wkb: %w", err)
	}
	return Polygons(decoded), nil
}

// Polygons flattens the areal parts of g into a multi-polygon. Points and
// lines are dropped.
func Polygons(g orb.Geometry) orb.MultiPolygon {
	switch v := g.(type) {
	case orb.Polygon:
		if len(v) == 0 {
			return nil
		}
		return orb.MultiPolygon{v}
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(v))
		for _, p := range v {
			if len(p) > 0 {
				out = append(out, p)
			}
		}
		return out
	case orb.Collection:
		var out orb.MultiPolygon
		for _, part := range v {
			out = append(out, Polygons(part)...)
		}
		return out
	}
	return nil
}

// Validate reports whether g can take part in a union.
func Validate(g orb.Geometry) error {
	_, err := toGeom(g)
	return err
}

// Union merges all geometries into one multi-polygon. Any invalid member
// fails the whole union; use UnionValid to skip bad members instead.
func Union(geoms ...orb.Geometry) (orb.MultiPolygon, error) {
	var acc geom.Geometry
	for i, g := range geoms {
		sg, err := toGeom(g)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		if i == 0 {
			acc = sg
			continue
		}
		acc, err = geom.Union(acc, sg)
		if err != nil {
			return nil, fmt.Errorf("union with member %d: %w", i, err)
		}
	}
	return fromGeom(acc)
}

// Skipped describes a member left out of UnionValid.
type Skipped struct {
	Index int
	Err   error
}

// UnionValid merges the valid members and reports the ones it had to skip.
// A failure while combining a valid member also skips that member.
func UnionValid(geoms ...orb.Geometry) (orb.MultiPolygon, []Skipped, error) {
	var (
		acc     geom.Geometry
		started bool
		skipped []Skipped
	)

	for i, g := range geoms {
		sg, err := toGeom(g)
		if err != nil {
			skipped = append(skipped, Skipped{Index: i, Err: err})
			continue
		}
		if !started {
			acc, started = sg, true
			continue
		}
		next, err := geom.Union(acc, sg)
		if err != nil {
			skipped = append(skipped, Skipped{Index: i, Err: err})
			continue
		}
		acc = next
	}

	if !started {
		return nil, skipped, nil
	}
	mp, err := fromGeom(acc)
	return mp, skipped, err
}

// Area returns the planar area of the valid polygonal geometry g in
// coordinate units squared.
func Area(g orb.Geometry) float64 {
	sg, err := toGeom(g)
	if err != nil {
		return 0
	}
	return sg.Area()
}
