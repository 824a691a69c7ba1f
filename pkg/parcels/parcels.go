// Package parcels loads the parcel fabric, plain or zstd-compressed GeoJSON.
package parcels

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb/geojson"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/model"
)

// CompressedExt is the file suffix of zstd parcel snapshots.
const CompressedExt = ".zst"

// Load reads a parcel FeatureCollection from path. Files ending in .zst are
// decompressed first.
func Load(path string) (*geojson.FeatureCollection, []model.Warning, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open parcels: %w", err)
	}
	defer file.Close()

	var r io.Reader = bufio.NewReaderSize(file, 1024*1024)
	if strings.HasSuffix(path, CompressedExt) {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	fc, warnings, err := Decode(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	logging.Info("loaded parcels", "path", path, "parcels", len(fc.Features), "dropped", len(warnings))
	return fc, warnings, nil
}

// Decode parses a FeatureCollection and drops every feature that has no id or
// repeats an id seen earlier.
func Decode(r io.Reader) (*geojson.FeatureCollection, []model.Warning, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read parcels: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse parcels: %w", err)
	}

	clean, warnings := Validate(fc)
	return clean, warnings, nil
}

// Validate returns a collection holding only the features with a unique id.
// The input collection is not modified.
func Validate(fc *geojson.FeatureCollection) (*geojson.FeatureCollection, []model.Warning) {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out, nil
	}

	var warnings []model.Warning
	seen := make(map[model.ParcelID]int, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := model.FeatureID(f)
		if !ok {
			warnings = append(warnings, model.Warning{
				Stage: "parcels", Subject: "#" + strconv.Itoa(i), Message: "feature has no id",
			})
			continue
		}
		if first, dup := seen[id]; dup {
			warnings = append(warnings, model.Warning{
				Stage:   "parcels",
				Subject: string(id),
				Message: fmt.Sprintf("duplicate id, first seen at feature %d", first),
			})
			continue
		}
		seen[id] = i
		out.Append(f)
	}

	for _, w := range warnings {
		logging.Warn("dropping parcel", "subject", w.Subject, "reason", w.Message)
	}
	return out, warnings
}

// SaveCompressed writes fc as a zstd-compressed GeoJSON snapshot.
func SaveCompressed(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode parcels: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return file.Close()
}
