package ingest

import (
	"geoportal/pkg/formats"
	"geoportal/pkg/geodata"
	"geoportal/pkg/reproject"
)

// normalize loads the resolved file with the appropriate format driver,
// validates its structure and coerces the coordinates into WGS84.
func (p *Pipeline) normalize(id string, r resolved) (*geodata.Dataset, error) {
	lookup := p.driverFor
	if lookup == nil {
		lookup = defaultDriverFor
	}
	drv, ok := lookup(r.ext, r.forceShapefile)
	if !ok {
		return nil, newError(UnsupportedFormat, nil, "no driver for %q", r.ext)
	}
	logT(id, "Load", "driver %s reading %s", drv.Name(), r.path)

	ds, err := drv.Read(r.path)
	if err != nil {
		return nil, newError(DatasetUnreadable, err, "%s driver failed", drv.Name())
	}
	logT(id, "Load", "parsed %d feature(s), %d column(s), declared CRS %q",
		len(ds.Features), len(ds.Columns), ds.CRS)

	if len(ds.Features) == 0 {
		return nil, newError(MissingGeometry, nil, "file loaded but contains no features")
	}
	for i := range ds.Features {
		if ds.Features[i].Geometry == nil {
			return nil, newError(MissingGeometry, nil, "feature %d has no geometry", i)
		}
	}

	if err := reproject.Normalize(ds); err != nil {
		return nil, newError(ReprojectionFailure, err, "cannot transform dataset into %s", geodata.CanonicalCRS)
	}
	logT(id, "CRS", "dataset normalized to %s", ds.CRS)
	return ds, nil
}

// defaultDriverFor wires the real format drivers; the indirection
// exists so tests can substitute failing drivers.
func defaultDriverFor(ext string, forceShapefile bool) (formats.Driver, bool) {
	if forceShapefile {
		return formats.Shapefile(), true
	}
	return formats.ForExtension(ext)
}
