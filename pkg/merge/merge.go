// Package merge dissolves each island of parcels into one combined shape.
package merge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/overlay"
)

// Islands unions the parcels of every island with at least two members into a
// single MultiPolygon feature. Islands that fail to merge are reported as
// warnings and left out. Member ids with no parcel in parcels are dropped.
// The returned error is non-nil only when ctx is done.
func Islands(ctx context.Context, islands []model.Island, parcels *geojson.FeatureCollection) (*geojson.FeatureCollection, []model.Warning, error) {
	log := logging.New("merge")
	out := geojson.NewFeatureCollection()
	if len(islands) == 0 {
		return out, nil, nil
	}

	byID := lookup(parcels)

	var warnings []model.Warning
	for i, island := range islands {
		if err := ctx.Err(); err != nil {
			return nil, warnings, fmt.Errorf("merging island %d: %w", i, err)
		}
		if len(island) < 2 {
			continue
		}

		geoms := make([]orb.Geometry, 0, len(island))
		members := make([]string, 0, len(island))
		for _, id := range island {
			f, ok := byID[id]
			if !ok {
				log.Debug("island member has no parcel geometry", "island", i, "parcel", id)
				continue
			}
			geoms = append(geoms, f.Geometry)
			members = append(members, string(id))
		}
		if len(geoms) == 0 {
			log.Debug("island has no parcel geometry", "island", i)
			continue
		}

		merged, err := overlay.Union(geoms...)
		if err != nil {
			w := model.NewWarning("merge", strconv.Itoa(i), err)
			log.Warn("skipping island", "island", i, "parcels", len(geoms), "error", err)
			warnings = append(warnings, w)
			continue
		}
		if len(merged) == 0 {
			warnings = append(warnings, model.Warning{
				Stage: "merge", Subject: strconv.Itoa(i), Message: "union is empty",
			})
			continue
		}

		f := geojson.NewFeature(merged)
		f.Properties["island"] = i
		f.Properties["parcels"] = members
		f.Properties["count"] = len(members)
		out.Append(f)
	}

	log.Debug("merged islands", "islands", len(islands), "features", len(out.Features), "warnings", len(warnings))
	return out, warnings, nil
}

// lookup indexes parcels by id. The first feature with a given id wins.
func lookup(fc *geojson.FeatureCollection) map[model.ParcelID]*geojson.Feature {
	if fc == nil {
		return nil
	}
	byID := make(map[model.ParcelID]*geojson.Feature, len(fc.Features))
	for _, f := range fc.Features {
		id, ok := model.FeatureID(f)
		if !ok {
			continue
		}
		if _, dup := byID[id]; !dup {
			byID[id] = f
		}
	}
	return byID
}
