// Package footprint is the boundary to the building footprint generator.
//
// The generator itself is an external trained model. This package renders
// each merged cluster into a grayscale scene, hands the scene to a Generator
// and collects the polygons it returns into a display layer.
package footprint

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/model"
)

// DefaultSize is the edge length in pixels of the scenes given to a model.
const DefaultSize = 256

// ErrEmptyScene is returned when there is nothing to rasterize.
var ErrEmptyScene = errors.New("nothing to rasterize")

// Model references a trained model, typically the path of its definition.
type Model string

// Scene is a square grayscale raster of some geometry. Covered pixels are
// white. Bound is the geographic extent the image spans.
type Scene struct {
	Image *image.Gray
	Bound orb.Bound
}

// Generator produces a footprint polygon for a scene. It returns false when
// the model has no answer for the scene.
type Generator interface {
	Generate(ctx context.Context, scene *Scene, m Model) (orb.Polygon, bool, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, scene *Scene, m Model) (orb.Polygon, bool, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, scene *Scene, m Model) (orb.Polygon, bool, error) {
	return f(ctx, scene, m)
}

// Rasterize renders the polygonal parts of geoms into a size x size scene.
// A pixel is lit when its center lies inside any polygon.
func Rasterize(geoms []orb.Geometry, size int) (*Scene, error) {
	if size <= 0 {
		size = DefaultSize
	}

	var (
		bound orb.Bound
		found bool
	)
	for _, g := range geoms {
		if g == nil || !areal(g) {
			continue
		}
		if !found {
			bound, found = g.Bound(), true
			continue
		}
		bound = bound.Union(g.Bound())
	}
	if !found || bound.IsZero() {
		return nil, ErrEmptyScene
	}

	scene := &Scene{Image: image.NewGray(image.Rect(0, 0, size, size)), Bound: bound}
	for py := 0; py < size; py++ {
		for px := 0; px < size; px++ {
			p := scene.ToGeo(float64(px)+0.5, float64(py)+0.5)
			for _, g := range geoms {
				if covers(g, p) {
					scene.Image.SetGray(px, py, color.Gray{Y: 255})
					break
				}
			}
		}
	}
	return scene, nil
}

// ToGeo maps pixel coordinates to geographic coordinates. Row 0 is north.
func (s *Scene) ToGeo(px, py float64) orb.Point {
	size := s.Image.Bounds().Size()
	w, h := s.Bound.Max[0]-s.Bound.Min[0], s.Bound.Max[1]-s.Bound.Min[1]
	return orb.Point{
		s.Bound.Min[0] + px/float64(size.X)*w,
		s.Bound.Max[1] - py/float64(size.Y)*h,
	}
}

// Coverage is the share of lit pixels.
func (s *Scene) Coverage() float64 {
	lit := 0
	for _, v := range s.Image.Pix {
		if v > 127 {
			lit++
		}
	}
	return float64(lit) / float64(len(s.Image.Pix))
}

// MaskBounds is a Generator that answers with the bounding rectangle of the
// lit pixels. It stands in for a trained model in tests and demos.
var MaskBounds = GeneratorFunc(func(ctx context.Context, s *Scene, _ Model) (orb.Polygon, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r := s.Image.Bounds()
	minX, minY, maxX, maxY := r.Max.X, r.Max.Y, -1, -1
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if s.Image.GrayAt(x, y).Y <= 127 {
				continue
			}
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)
		}
	}
	if maxX < 0 {
		return nil, false, nil
	}

	nw := s.ToGeo(float64(minX), float64(minY))
	se := s.ToGeo(float64(maxX+1), float64(maxY+1))
	return orb.Bound{Min: orb.Point{nw[0], se[1]}, Max: orb.Point{se[0], nw[1]}}.ToPolygon(), true, nil
})

// Collect runs gen once per cluster feature and returns the footprints it
// produced. Clusters the generator fails on or has no answer for are
// reported as warnings.
func Collect(ctx context.Context, gen Generator, m Model, clusters *geojson.FeatureCollection) (*geojson.FeatureCollection, []model.Warning, error) {
	log := logging.New("footprint")
	out := geojson.NewFeatureCollection()
	if clusters == nil {
		return out, nil, nil
	}

	var warnings []model.Warning
	for i, f := range clusters.Features {
		if err := ctx.Err(); err != nil {
			return nil, warnings, err
		}
		subject := strconv.Itoa(i)

		scene, err := Rasterize([]orb.Geometry{f.Geometry}, DefaultSize)
		if err != nil {
			warnings = append(warnings, model.NewWarning("footprint", subject, err))
			continue
		}

		poly, ok, err := gen.Generate(ctx, scene, m)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return nil, warnings, err
		case err != nil:
			log.Warn("footprint generation failed", "cluster", i, "error", err)
			warnings = append(warnings, model.NewWarning("footprint", subject, fmt.Errorf("generator: %w", err)))
			continue
		case !ok || len(poly) == 0:
			warnings = append(warnings, model.Warning{Stage: "footprint", Subject: subject, Message: "no footprint generated"})
			continue
		}

		fp := geojson.NewFeature(poly)
		fp.Properties["cluster"] = i
		if island, ok := f.Properties["island"]; ok {
			fp.Properties["island"] = island
		}
		out.Append(fp)
	}

	log.Debug("collected footprints", "clusters", len(clusters.Features), "footprints", len(out.Features))
	return out, warnings, nil
}

func areal(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return true
	case orb.Collection:
		for _, part := range v {
			if areal(part) {
				return true
			}
		}
	}
	return false
}

func covers(g orb.Geometry, p orb.Point) bool {
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, p)
	case orb.Collection:
		for _, part := range v {
			if covers(part, p) {
				return true
			}
		}
	}
	return false
}
