package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ParcelID is the normalized, stable identifier of a parcel feature.
type ParcelID string

// Centroid is the graph representative of a parcel: the geometric center of
// the parcel's own polygon.
type Centroid struct {
	ID     ParcelID  `json:"id"`
	Coords orb.Point `json:"coords"`
}

// Island is a maximal set of parcels connected through the centroid adjacency.
type Island []ParcelID

// FeatureID extracts the parcel id of a feature. The "id" property wins over
// the top-level GeoJSON id.
func FeatureID(f *geojson.Feature) (ParcelID, bool) {
	if f == nil {
		return "", false
	}
	if v, ok := f.Properties["id"]; ok {
		if id, ok := normalizeID(v); ok {
			return id, true
		}
	}
	return normalizeID(f.ID)
}

func normalizeID(v interface{}) (ParcelID, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		if id == "" {
			return "", false
		}
		return ParcelID(id), true
	case float64:
		if math.IsNaN(id) || math.IsInf(id, 0) {
			return "", false
		}
		if id == math.Trunc(id) && math.Abs(id) < 1<<53 {
			return ParcelID(strconv.FormatInt(int64(id), 10)), true
		}
		return ParcelID(strconv.FormatFloat(id, 'g', -1, 64)), true
	case float32:
		return normalizeID(float64(id))
	case int:
		return ParcelID(strconv.Itoa(id)), true
	case int64:
		return ParcelID(strconv.FormatInt(id, 10)), true
	case int32:
		return ParcelID(strconv.FormatInt(int64(id), 10)), true
	case uint32:
		return ParcelID(strconv.FormatUint(uint64(id), 10)), true
	case uint64:
		return ParcelID(strconv.FormatUint(id, 10)), true
	case json.Number:
		if f, err := id.Float64(); err == nil {
			return normalizeID(f)
		}
		return ParcelID(id.String()), true
	default:
		return ParcelID(fmt.Sprint(id)), true
	}
}
