package merge

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/ritzau/pugmark/pkg/model"
)

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

func parcels(geoms map[string]orb.Geometry) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, id := range []string{"a", "b", "c", "d", "e", "bad", "f"} {
		if g, ok := geoms[id]; ok {
			f := geojson.NewFeature(g)
			f.Properties["id"] = id
			fc.Append(f)
		}
	}
	return fc
}

func TestIslandsSharedEdge(t *testing.T) {
	fc := parcels(map[string]orb.Geometry{
		"a": square(0, 0, 1),
		"b": square(1, 0, 1),
	})

	got, warnings, err := Islands(context.Background(), []model.Island{{"a", "b"}}, fc)
	if err != nil {
		t.Fatalf("Islands() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if len(got.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got.Features))
	}

	mp, ok := got.Features[0].Geometry.(orb.MultiPolygon)
	if !ok {
		t.Fatalf("geometry is %T, want orb.MultiPolygon", got.Features[0].Geometry)
	}
	if len(mp) != 1 {
		t.Errorf("edge-sharing parcels produced %d parts, want 1", len(mp))
	}
	if a := planar.Area(mp); math.Abs(a-2) > 1e-9 {
		t.Errorf("area = %v, want 2", a)
	}

	props := got.Features[0].Properties
	if props["count"] != 2 || props["island"] != 0 {
		t.Errorf("properties = %v", props)
	}
}

func TestIslandsDisjointMembersStayMultiPart(t *testing.T) {
	fc := parcels(map[string]orb.Geometry{
		"a": square(0, 0, 1),
		"b": square(1.5, 0, 1),
	})

	got, _, err := Islands(context.Background(), []model.Island{{"a", "b"}}, fc)
	if err != nil {
		t.Fatalf("Islands() error = %v", err)
	}
	mp := got.Features[0].Geometry.(orb.MultiPolygon)
	if len(mp) != 2 {
		t.Errorf("expected 2 parts, got %d", len(mp))
	}
}

func TestIslandsSkipsSingletonsAndMissingIDs(t *testing.T) {
	fc := parcels(map[string]orb.Geometry{
		"a": square(0, 0, 1),
		"b": square(1, 0, 1),
		"c": square(5, 5, 1),
	})

	islands := []model.Island{{"a", "b", "ghost"}, {"c"}}
	got, warnings, err := Islands(context.Background(), islands, fc)
	if err != nil {
		t.Fatalf("Islands() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("missing ids should not warn, got %v", warnings)
	}
	if len(got.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(got.Features))
	}
	members := got.Features[0].Properties["parcels"].([]string)
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Errorf("parcels = %v, want [a b]", members)
	}
}

func TestIslandsIsolatesFailures(t *testing.T) {
	bowtie := orb.Polygon{orb.Ring{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}}
	fc := parcels(map[string]orb.Geometry{
		"a":   square(10, 10, 1),
		"bad": bowtie,
		"c":   square(0, 5, 1),
		"d":   square(1, 5, 1),
	})

	islands := []model.Island{{"a", "bad"}, {"c", "d"}}
	got, warnings, err := Islands(context.Background(), islands, fc)
	if err != nil {
		t.Fatalf("Islands() error = %v", err)
	}
	if len(warnings) != 1 || warnings[0].Subject != "0" {
		t.Errorf("expected one warning for island 0, got %v", warnings)
	}
	if len(got.Features) != 1 || got.Features[0].Properties["island"] != 1 {
		t.Errorf("expected island 1 to merge, got %d features", len(got.Features))
	}
}

func TestIslandsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fc := parcels(map[string]orb.Geometry{"a": square(0, 0, 1), "b": square(1, 0, 1)})
	_, _, err := Islands(ctx, []model.Island{{"a", "b"}}, fc)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Islands() error = %v, want context.Canceled", err)
	}
}

func TestIslandsEmpty(t *testing.T) {
	got, warnings, err := Islands(context.Background(), nil, nil)
	if err != nil || len(warnings) != 0 || len(got.Features) != 0 {
		t.Errorf("Islands(nil) = %v, %v, %v", got, warnings, err)
	}
}
