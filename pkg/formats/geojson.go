package formats

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/orb/geojson"

	"geoportal/pkg/geodata"
)

// GeoJSON reads .geojson documents. RFC 7946 fixes the reference
// system to WGS84, but the legacy top-level "crs" member still shows up
// in exports from older tooling, so we honour it when present.
type GeoJSON struct{}

func (GeoJSON) Name() string { return "GeoJSON" }

// legacyCRS mirrors the pre-RFC "crs" member:
// {"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::32748"}}.
type legacyCRS struct {
	CRS *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

func (GeoJSON) Read(path string) (*geodata.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}

	features, err := decodeFeatures(data)
	if err != nil {
		return nil, err
	}

	crs := geodata.CanonicalCRS
	var legacy legacyCRS
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.CRS != nil && legacy.CRS.Properties.Name != "" {
		crs = legacy.CRS.Properties.Name
	}

	order := newColumnOrder()
	ds := &geodata.Dataset{CRS: crs}
	for _, f := range features {
		props := make(map[string]any, len(f.Properties))
		// Map iteration is random; sort the keys a feature introduces
		// so the column ordering is reproducible across runs.
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			order.add(k)
			props[k] = f.Properties[k]
		}
		ds.Features = append(ds.Features, geodata.Feature{
			Properties: props,
			Geometry:   f.Geometry,
		})
	}
	ds.Columns = order.columns()
	return ds, nil
}

// decodeFeatures accepts the three document shapes GeoJSON allows:
// a FeatureCollection, a bare Feature, or a bare geometry.
func decodeFeatures(data []byte) ([]*geojson.Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("parse feature collection: %w", err)
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("parse feature: %w", err)
		}
		return []*geojson.Feature{f}, nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("parse geometry: %w", err)
		}
		f := geojson.NewFeature(g.Geometry())
		return []*geojson.Feature{f}, nil
	}
}
