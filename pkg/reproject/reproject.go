// Package reproject coerces a loaded dataset into the canonical
// EPSG:4326 reference system. It understands the CRS declarations the
// format drivers hand over (EPSG codes, OGC URNs, ESRI/OGC WKT from
// .prj sidecars) and applies a mathematical transform only when the
// source system differs from WGS84.
package reproject

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"

	"geoportal/pkg/geodata"
)

// ErrUnknownCRS signals a declared reference system the transform
// table cannot resolve. The pipeline maps it to ReprojectionFailure.
var ErrUnknownCRS = errors.New("unknown coordinate reference system")

const canonicalCode = 4326

// Normalize rewrites ds in place so that its CRS is EPSG:4326.
//
// Policy for unlabeled data: when no reference system is declared we
// ASSIGN WGS84 without touching a single coordinate. This assumes the
// raw values are already lon/lat — the documented behavior inherited
// from the system this portal replaces, not a guess made per upload.
func Normalize(ds *geodata.Dataset) error {
	if ds.CRS == "" {
		ds.CRS = geodata.CanonicalCRS
		return nil
	}

	code, err := ResolveCode(ds.CRS)
	if err != nil {
		return err
	}
	if code == canonicalCode {
		ds.CRS = geodata.CanonicalCRS
		return nil
	}

	epsg := wgs84.EPSG()
	from := epsg.Code(code)
	if from == nil {
		return fmt.Errorf("EPSG:%d: %w", code, ErrUnknownCRS)
	}
	transform := wgs84.Transform(from, epsg.Code(canonicalCode))

	project := func(p orb.Point) orb.Point {
		lon, lat, _ := transform(p.X(), p.Y(), 0)
		return orb.Point{lon, lat}
	}
	for i := range ds.Features {
		if ds.Features[i].Geometry == nil {
			continue
		}
		ds.Features[i].Geometry = apply(ds.Features[i].Geometry, project)
	}
	ds.CRS = geodata.CanonicalCRS
	return nil
}

// apply maps fn over every coordinate of g, preserving structure.
func apply(g orb.Geometry, fn func(orb.Point) orb.Point) orb.Geometry {
	switch t := g.(type) {
	case orb.Point:
		return fn(t)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(t))
		for i, p := range t {
			out[i] = fn(p)
		}
		return out
	case orb.LineString:
		out := make(orb.LineString, len(t))
		for i, p := range t {
			out[i] = fn(p)
		}
		return out
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(t))
		for i, ls := range t {
			out[i] = apply(ls, fn).(orb.LineString)
		}
		return out
	case orb.Ring:
		out := make(orb.Ring, len(t))
		for i, p := range t {
			out[i] = fn(p)
		}
		return out
	case orb.Polygon:
		out := make(orb.Polygon, len(t))
		for i, r := range t {
			out[i] = apply(r, fn).(orb.Ring)
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(t))
		for i, p := range t {
			out[i] = apply(p, fn).(orb.Polygon)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(t))
		for i, c := range t {
			out[i] = apply(c, fn)
		}
		return out
	case orb.Bound:
		return apply(t.ToPolygon(), fn)
	}
	return g
}

var (
	epsgRef   = regexp.MustCompile(`(?i)\bEPSG\b["':, ]*(\d+)`)
	utmZoneRe = regexp.MustCompile(`(?i)UTM[_ ]Zone[_ ](\d{1,2})[_ ]?([NS])`)
)

// ResolveCode maps a CRS declaration to an EPSG code. Accepted forms:
// "EPSG:4326", bare digits, OGC URNs like "urn:ogc:def:crs:EPSG::4326",
// "OGC:CRS84", and WKT definitions. WKT resolution prefers an explicit
// AUTHORITY clause (the outermost one, which comes last in the text)
// and falls back to recognising WGS84 and WGS84/UTM well-known names.
func ResolveCode(crs string) (int, error) {
	s := strings.TrimSpace(crs)
	if s == "" {
		return 0, fmt.Errorf("empty declaration: %w", ErrUnknownCRS)
	}

	if code, err := strconv.Atoi(s); err == nil {
		return code, nil
	}
	upper := strings.ToUpper(s)
	if upper == "OGC:CRS84" || upper == "CRS84" ||
		upper == "URN:OGC:DEF:CRS:OGC:1.3:CRS84" {
		return canonicalCode, nil
	}

	// WKT or URN: the last EPSG reference belongs to the outermost
	// node (PROJCS authority comes after the nested GEOGCS one).
	if matches := epsgRef.FindAllStringSubmatch(s, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		if code, err := strconv.Atoi(last[1]); err == nil {
			return code, nil
		}
	}

	// ESRI WKT frequently omits AUTHORITY; recognise the two families
	// the portal actually meets in the wild.
	if m := utmZoneRe.FindStringSubmatch(s); m != nil && strings.Contains(upper, "WGS") {
		zone, _ := strconv.Atoi(m[1])
		if zone >= 1 && zone <= 60 {
			if strings.EqualFold(m[2], "N") {
				return 32600 + zone, nil
			}
			return 32700 + zone, nil
		}
	}
	if strings.Contains(upper, "GCS_WGS_1984") ||
		(strings.HasPrefix(upper, "GEOGCS") && strings.Contains(upper, "WGS")) {
		return canonicalCode, nil
	}

	return 0, fmt.Errorf("%q: %w", truncate(s, 80), ErrUnknownCRS)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
