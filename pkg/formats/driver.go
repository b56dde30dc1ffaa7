// Package formats contains one reader per supported geospatial format.
// Every driver turns a file on disk into the canonical geodata.Dataset;
// structural validation and CRS normalization stay with the caller so
// all formats share identical failure semantics.
package formats

import "geoportal/pkg/geodata"

// Driver loads one format. Name matches the driver identifier the
// underlying conventions use (e.g. "ESRI Shapefile").
type Driver interface {
	Name() string
	Read(path string) (*geodata.Dataset, error)
}

// ForExtension picks a driver by lower-cased file extension. The
// shapefile driver is deliberately absent here: shapefiles arrive only
// inside archives and the Resolver forces that driver explicitly.
func ForExtension(ext string) (Driver, bool) {
	switch ext {
	case ".geojson":
		return GeoJSON{}, true
	case ".kml":
		return KML{}, true
	case ".gpkg":
		return GeoPackage{}, true
	}
	return nil, false
}

// Shapefile returns the driver for extracted .shp bundles.
func Shapefile() Driver { return ESRIShapefile{} }

// columnOrder accumulates attribute names in a deterministic order:
// first-seen wins, so the first feature fixes the leading columns.
type columnOrder struct {
	seen map[string]struct{}
	cols []string
}

func newColumnOrder() *columnOrder {
	return &columnOrder{seen: make(map[string]struct{})}
}

func (c *columnOrder) add(name string) {
	if _, ok := c.seen[name]; ok {
		return
	}
	c.seen[name] = struct{}{}
	c.cols = append(c.cols, name)
}

func (c *columnOrder) columns() []string { return c.cols }
