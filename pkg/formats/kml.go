package formats

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"geoportal/pkg/geodata"
)

// KML reads .kml documents with a SAX-style streaming decoder, one
// Placemark at a time, so memory stays proportional to a single
// feature rather than the whole file. OGC KML fixes coordinates to
// WGS84 lon/lat, so the dataset is born canonical.
type KML struct{}

func (KML) Name() string { return "KML" }

// placemarkState collects everything seen between <Placemark> tags.
type placemarkState struct {
	name   string
	desc   string
	keys   []string // ExtendedData names, in document order
	values map[string]string
	geoms  []orb.Geometry
	rings  []orb.Ring // rings of the polygon currently being built
}

func (KML) Read(path string) (*geodata.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read kml: %w", err)
	}
	defer f.Close()

	dec := xml.NewDecoder(f)

	var (
		pm          *placemarkState
		inPoint     bool
		inLine      bool
		inRing      bool
		dataName    string // current <Data name="..."> block
		order       = newColumnOrder()
		ds          = &geodata.Dataset{CRS: geodata.CanonicalCRS}
		sawDocument bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("XML decode: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "kml", "Document", "Folder":
				sawDocument = true
			case "Placemark":
				pm = &placemarkState{values: make(map[string]string)}
			case "name":
				if pm != nil {
					_ = dec.DecodeElement(&pm.name, &el)
				}
			case "description":
				if pm != nil {
					_ = dec.DecodeElement(&pm.desc, &el)
				}
			case "Data":
				if pm != nil {
					for _, a := range el.Attr {
						if a.Name.Local == "name" {
							dataName = a.Value
						}
					}
				}
			case "value":
				if pm != nil && dataName != "" {
					var v string
					_ = dec.DecodeElement(&v, &el)
					pm.set(dataName, v)
					dataName = ""
				}
			case "SimpleData":
				if pm != nil {
					key := ""
					for _, a := range el.Attr {
						if a.Name.Local == "name" {
							key = a.Value
						}
					}
					var v string
					_ = dec.DecodeElement(&v, &el)
					if key != "" {
						pm.set(key, v)
					}
				}
			case "Point":
				inPoint = pm != nil
			case "LineString":
				inLine = pm != nil
			case "Polygon":
				if pm != nil {
					pm.rings = nil
				}
			case "LinearRing":
				inRing = pm != nil
			case "coordinates":
				if pm == nil {
					continue
				}
				var raw string
				_ = dec.DecodeElement(&raw, &el)
				pts := parseCoordinates(raw)
				switch {
				case inRing:
					pm.rings = append(pm.rings, orb.Ring(pts))
				case inLine:
					pm.geoms = append(pm.geoms, orb.LineString(pts))
				case inPoint:
					if len(pts) > 0 {
						pm.geoms = append(pm.geoms, pts[0])
					}
				default:
					// Coordinates outside a known geometry element:
					// treat a single pair as a point, more as a line.
					if len(pts) == 1 {
						pm.geoms = append(pm.geoms, pts[0])
					} else if len(pts) > 1 {
						pm.geoms = append(pm.geoms, orb.LineString(pts))
					}
				}
			}

		case xml.EndElement:
			switch el.Name.Local {
			case "Point":
				inPoint = false
			case "LineString":
				inLine = false
			case "LinearRing":
				inRing = false
			case "Polygon":
				if pm != nil && len(pm.rings) > 0 {
					pm.geoms = append(pm.geoms, orb.Polygon(pm.rings))
					pm.rings = nil
				}
			case "Placemark":
				if pm == nil {
					continue
				}
				feature := geodata.Feature{
					Properties: make(map[string]any),
					Geometry:   pm.geometry(),
				}
				if pm.name != "" {
					order.add("Name")
					feature.Properties["Name"] = strings.TrimSpace(pm.name)
				}
				if pm.desc != "" {
					order.add("Description")
					feature.Properties["Description"] = strings.TrimSpace(pm.desc)
				}
				for _, k := range pm.keys {
					order.add(k)
					feature.Properties[k] = typedValue(pm.values[k])
				}
				ds.Features = append(ds.Features, feature)
				pm = nil
			}
		}
	}

	if !sawDocument && len(ds.Features) == 0 {
		return nil, fmt.Errorf("no KML content found")
	}
	ds.Columns = order.columns()
	return ds, nil
}

func (p *placemarkState) set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = strings.TrimSpace(value)
}

// geometry folds collected geometries into one value: nil for none,
// the geometry itself for one, a collection for MultiGeometry.
func (p *placemarkState) geometry() orb.Geometry {
	switch len(p.geoms) {
	case 0:
		return nil
	case 1:
		return p.geoms[0]
	default:
		return orb.Collection(p.geoms)
	}
}

// parseCoordinates splits the KML "lon,lat[,alt]" tuples separated by
// arbitrary whitespace. Altitude is dropped; the portal is 2D.
func parseCoordinates(raw string) []orb.Point {
	var pts []orb.Point
	for _, tuple := range strings.Fields(raw) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errLon != nil || errLat != nil {
			continue
		}
		pts = append(pts, orb.Point{lon, lat})
	}
	return pts
}

// typedValue promotes numeric-looking attribute strings so summaries
// and exports carry numbers, matching what the other drivers produce.
func typedValue(s string) any {
	if s == "" {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
