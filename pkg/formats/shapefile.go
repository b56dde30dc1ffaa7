package formats

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"geoportal/pkg/geodata"
)

// ESRIShapefile reads an extracted .shp plus its .dbf attribute table
// and .prj sidecar. The driver is only ever selected explicitly by the
// archive resolver — extensions inside an extracted directory are not
// trusted for auto-detection.
type ESRIShapefile struct{}

func (ESRIShapefile) Name() string { return "ESRI Shapefile" }

func (ESRIShapefile) Read(path string) (*geodata.Dataset, error) {
	// A shapefile is a bundle: fail up front when the attribute table
	// is missing rather than half-loading geometry-only features.
	dbfPath := sidecar(path, ".dbf")
	if dbfPath == "" {
		return nil, fmt.Errorf("shapefile bundle incomplete: no .dbf next to %s", path)
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	ds := &geodata.Dataset{}
	for _, f := range fields {
		ds.Columns = append(ds.Columns, f.String())
	}

	for r.Next() {
		row, shape := r.Shape()
		geom, err := shapeGeometry(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row, err)
		}
		props := make(map[string]any, len(fields))
		for i, f := range fields {
			props[f.String()] = dbfValue(f, r.ReadAttribute(row, i))
		}
		ds.Features = append(ds.Features, geodata.Feature{
			Properties: props,
			Geometry:   geom,
		})
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("read shapefile: %w", err)
	}

	if prj := sidecar(path, ".prj"); prj != "" {
		wkt, err := os.ReadFile(prj)
		if err == nil {
			ds.CRS = strings.TrimSpace(string(wkt))
		}
	}
	return ds, nil
}

// sidecar locates a companion file next to the .shp, tolerating the
// upper-case extensions some producers write. Empty when absent.
func sidecar(shpPath, ext string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(shpPath, ".shp"), ".SHP")
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// shapeGeometry converts a go-shp record into the orb model. Z and M
// variants collapse onto the 2D shapes; null shapes become a nil
// geometry so validation can reject them uniformly.
func shapeGeometry(s shp.Shape) (orb.Geometry, error) {
	switch t := s.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{t.X, t.Y}, nil
	case *shp.PointM:
		return orb.Point{t.X, t.Y}, nil
	case *shp.PointZ:
		return orb.Point{t.X, t.Y}, nil
	case *shp.MultiPoint:
		return multiPoint(t.Points), nil
	case *shp.MultiPointM:
		return multiPoint(t.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(t.Points), nil
	case *shp.PolyLine:
		return polyLine(t.Parts, t.Points), nil
	case *shp.PolyLineM:
		return polyLine(t.Parts, t.Points), nil
	case *shp.PolyLineZ:
		return polyLine(t.Parts, t.Points), nil
	case *shp.Polygon:
		return polygon(t.Parts, t.Points), nil
	case *shp.PolygonM:
		return polygon(t.Parts, t.Points), nil
	case *shp.PolygonZ:
		return polygon(t.Parts, t.Points), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

func multiPoint(points []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

// splitParts slices the flat point array by part offsets, the way the
// shapefile spec stores multi-part geometries.
func splitParts(parts []int32, points []shp.Point) [][]orb.Point {
	if len(parts) == 0 {
		parts = []int32{0}
	}
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) > end || int(start) < 0 || end > len(points) {
			continue
		}
		seg := make([]orb.Point, 0, end-int(start))
		for _, p := range points[start:end] {
			seg = append(seg, orb.Point{p.X, p.Y})
		}
		out = append(out, seg)
	}
	return out
}

func polyLine(parts []int32, points []shp.Point) orb.Geometry {
	segs := splitParts(parts, points)
	if len(segs) == 1 {
		return orb.LineString(segs[0])
	}
	mls := make(orb.MultiLineString, len(segs))
	for i, seg := range segs {
		mls[i] = orb.LineString(seg)
	}
	return mls
}

// polygon keeps every part as a ring of a single polygon. Ring
// orientation (and therefore hole semantics) is passed through as-is;
// geometry repair is out of scope.
func polygon(parts []int32, points []shp.Point) orb.Geometry {
	segs := splitParts(parts, points)
	poly := make(orb.Polygon, len(segs))
	for i, seg := range segs {
		poly[i] = orb.Ring(seg)
	}
	return poly
}

// dbfValue converts the dBase string representation into a typed
// scalar: N/F fields become numbers, L fields become booleans,
// everything else stays a string. dBase pads values to the field
// width with NULs or spaces, so both are stripped first.
func dbfValue(f shp.Field, raw string) any {
	v := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	switch f.Fieldtype {
	case 'N':
		if v == "" {
			return nil
		}
		if f.Precision == 0 {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i
			}
		}
		if fl, err := strconv.ParseFloat(v, 64); err == nil {
			return fl
		}
		return v
	case 'F':
		if fl, err := strconv.ParseFloat(v, 64); err == nil {
			return fl
		}
		return v
	case 'L':
		switch strings.ToUpper(v) {
		case "T", "Y", "TRUE":
			return true
		case "F", "N", "FALSE":
			return false
		}
		return nil
	default:
		return v
	}
}
