// Package geodata holds the canonical in-memory representation of an
// ingested geospatial file: a flat sequence of features with attribute
// maps and one geometry each, plus the coordinate reference system the
// coordinates are expressed in. After normalization the CRS is always
// WGS84, so the rendering and export layers never have to transform
// anything themselves.
package geodata

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CanonicalCRS is the reference system every dataset is coerced into
// before it leaves the ingestion pipeline (web-mapping lon/lat).
const CanonicalCRS = "EPSG:4326"

// Feature is one geometry plus its associated scalar attributes.
type Feature struct {
	Properties map[string]any
	Geometry   orb.Geometry
}

// Bounds is a geographic bounding box in lat/lon degrees.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// Dataset is the canonical output of the ingestion pipeline. Columns
// carries a stable attribute ordering (format drivers decide it once at
// load time) so tabular views render the same way on every request.
// The struct is treated as immutable once the pipeline returns it.
type Dataset struct {
	Columns  []string
	Features []Feature
	CRS      string
}

// Bound returns the union of all feature geometry bounds. ok is false
// when the dataset has no usable geometry to derive a box from.
func (d *Dataset) Bound() (orb.Bound, bool) {
	var union orb.Bound
	have := false
	for _, f := range d.Features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		if !have {
			union = b
			have = true
			continue
		}
		union = union.Union(b)
	}
	return union, have
}

// Bounds converts the union bound into the lat/lon box handed to the
// map shell.
func (d *Dataset) Bounds() (Bounds, bool) {
	b, ok := d.Bound()
	if !ok {
		return Bounds{}, false
	}
	return Bounds{
		MinLat: b.Min.Y(),
		MinLon: b.Min.X(),
		MaxLat: b.Max.Y(),
		MaxLon: b.Max.X(),
	}, true
}

// Center returns the mean of the per-feature bound centers, the point
// the map shell centers on. ok is false for an empty or degenerate
// geometry set; the caller then falls back to its configured default
// instead of guessing.
func (d *Dataset) Center() (lat, lon float64, ok bool) {
	n := 0
	for _, f := range d.Features {
		if f.Geometry == nil {
			continue
		}
		c := f.Geometry.Bound().Center()
		lon += c.X()
		lat += c.Y()
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return lat / float64(n), lon / float64(n), true
}

// Preview returns the attribute rows of the first n features in column
// order, the way the sidebar table shows them. Geometry is summarised
// by its type name rather than dumped as coordinates.
func (d *Dataset) Preview(n int) []map[string]any {
	if n > len(d.Features) {
		n = len(d.Features)
	}
	rows := make([]map[string]any, 0, n)
	for _, f := range d.Features[:n] {
		row := make(map[string]any, len(d.Columns)+1)
		for _, col := range d.Columns {
			row[col] = f.Properties[col]
		}
		if f.Geometry != nil {
			row["geometry"] = string(f.Geometry.GeoJSONType())
		}
		rows = append(rows, row)
	}
	return rows
}

// GeoJSON serializes the dataset as a single FeatureCollection
// document: every attribute becomes a property, the geometry becomes
// the GeoJSON geometry member, coordinates stay in WGS84 lon/lat order.
func (d *Dataset) GeoJSON() ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range d.Features {
		gf := geojson.NewFeature(f.Geometry)
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	return data, nil
}

// GeoJSONRaw is a convenience wrapper for handlers that embed the
// export verbatim inside a larger JSON response.
func (d *Dataset) GeoJSONRaw() (json.RawMessage, error) {
	data, err := d.GeoJSON()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
