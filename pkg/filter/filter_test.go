package filter

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/ritzau/pugmark/pkg/model"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

func parcel(id string, g orb.Geometry) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties["id"] = id
	return f
}

func ids(fc *geojson.FeatureCollection) []string {
	var out []string
	for _, f := range fc.Features {
		id, _ := model.FeatureID(f)
		out = append(out, string(id))
	}
	return out
}

func grid() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(parcel("a", square(0, 0, 1)))     // centroid (0.5, 0.5)
	fc.Append(parcel("b", square(2, 0, 1)))     // centroid (2.5, 0.5)
	fc.Append(parcel("c", square(0, 2, 1)))     // centroid (0.5, 2.5)
	fc.Append(parcel("d", square(5, 5, 1)))     // centroid (5.5, 5.5)
	fc.Append(parcel("e", square(1.5, 1.5, 1))) // centroid (2, 2)
	return fc
}

func TestCentroid(t *testing.T) {
	c, err := Centroid(square(2, 4, 2))
	if err != nil {
		t.Fatalf("Centroid() error = %v", err)
	}
	if !near(c, orb.Point{3, 5}) {
		t.Errorf("Centroid() = %v, want [3 5]", c)
	}

	if _, err := Centroid(orb.Point{1, 1}); err == nil {
		t.Error("Centroid(point) should fail")
	}
	if _, err := Centroid(orb.Polygon{}); err == nil {
		t.Error("Centroid(empty polygon) should fail")
	}
}

func TestParcels(t *testing.T) {
	boundary := square(0, 0, 3)
	got, warnings := Parcels(grid(), boundary)
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}

	want := []string{"a", "b", "c", "e"}
	if g := ids(got); !equal(g, want) {
		t.Errorf("Parcels() = %v, want %v", g, want)
	}
}

func TestParcelsCentroidDecides(t *testing.T) {
	// The parcel overlaps the boundary but its centroid is outside
	fc := geojson.NewFeatureCollection()
	fc.Append(parcel("straddle", square(0.8, 0, 1)))

	got, _ := Parcels(fc, square(0, 0, 1))
	if len(got.Features) != 0 {
		t.Errorf("expected straddling parcel to be dropped, got %v", ids(got))
	}
}

func TestParcelsEmptyInputs(t *testing.T) {
	got, _ := Parcels(geojson.NewFeatureCollection(), square(0, 0, 1))
	if len(got.Features) != 0 {
		t.Errorf("empty parcels: got %d features", len(got.Features))
	}

	got, _ = Parcels(grid(), orb.Polygon{})
	if len(got.Features) != 0 {
		t.Errorf("empty boundary: got %d features", len(got.Features))
	}

	got, _ = Parcels(nil, square(0, 0, 1))
	if got == nil || len(got.Features) != 0 {
		t.Errorf("nil parcels: got %v", got)
	}
}

func TestParcelsMultiPolygonMatchesPerPartUnion(t *testing.T) {
	p1 := square(0, 0, 1.2)
	p2 := square(4.9, 4.9, 1)
	merged := orb.MultiPolygon{p1, p2}

	all, _ := Parcels(grid(), merged)
	first, _ := Parcels(grid(), p1)
	second, _ := Parcels(grid(), p2)

	seen := map[string]bool{}
	for _, id := range append(ids(first), ids(second)...) {
		seen[id] = true
	}
	got := ids(all)
	if len(got) != len(seen) {
		t.Fatalf("merged boundary selected %v, per part selected %v", got, seen)
	}
	for _, id := range got {
		if !seen[id] {
			t.Errorf("merged boundary selected %q which no part selected", id)
		}
	}
	if !equal(got, []string{"a", "d"}) {
		t.Errorf("Parcels(multipolygon) = %v, want [a d]", got)
	}
}

func TestParcelsSkipsMalformed(t *testing.T) {
	fc := grid()
	fc.Append(parcel("line", orb.LineString{{0, 0}, {1, 1}}))
	bad := geojson.NewFeature(orb.Polygon{orb.Ring{{0, 0}}})
	fc.Append(bad)

	got, warnings := Parcels(fc, square(0, 0, 3))
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
	if warnings[0].Subject != "line" {
		t.Errorf("warning subject = %q, want line", warnings[0].Subject)
	}
	if warnings[1].Subject != "#6" {
		t.Errorf("warning subject = %q, want #6", warnings[1].Subject)
	}
	if len(got.Features) != 4 {
		t.Errorf("expected 4 parcels, got %v", ids(got))
	}
}

func TestIndexReuse(t *testing.T) {
	ix := NewIndex(grid())
	if ix.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", ix.Len())
	}

	first, _ := ix.Within(square(0, 0, 1))
	second, _ := ix.Within(square(5, 5, 1))
	if !equal(ids(first), []string{"a"}) || !equal(ids(second), []string{"d"}) {
		t.Errorf("Within() = %v, %v", ids(first), ids(second))
	}
}

func TestCentroids(t *testing.T) {
	fc := grid()
	fc.Append(geojson.NewFeature(square(9, 9, 1)))

	got, warnings := Centroids(fc)
	if len(got) != 5 {
		t.Fatalf("expected 5 centroids, got %d", len(got))
	}
	if len(warnings) != 1 {
		t.Errorf("expected one warning for the unnamed parcel, got %v", warnings)
	}
	if got[3].ID != "d" || !near(got[3].Coords, orb.Point{5.5, 5.5}) {
		t.Errorf("centroid[3] = %+v", got[3])
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func near(a, b orb.Point) bool {
	return math.Abs(a[0]-b[0]) < 1e-9 && math.Abs(a[1]-b[1]) < 1e-9
}
