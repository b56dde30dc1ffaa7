package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"geoportal/pkg/formats"
	"geoportal/pkg/geodata"
)

const utm48sWKT = `PROJCS["WGS 84 / UTM zone 48S",GEOGCS["WGS 84",AUTHORITY["EPSG","4326"]],AUTHORITY["EPSG","32748"]]`

// shapefileBundle authors a one-field point shapefile with the go-shp
// writer and returns the bundle files as in-memory bytes, ready to be
// zipped into upload fixtures.
func shapefileBundle(t *testing.T, prjWKT string, pts []shp.Point) map[string][]byte {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.shp")
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		t.Fatalf("create shapefile: %v", err)
	}
	if err := w.SetFields([]shp.Field{shp.StringField("NAME", 20)}); err != nil {
		t.Fatalf("set fields: %v", err)
	}
	for i := range pts {
		w.Write(&pts[i])
		if err := w.WriteAttribute(i, 0, fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("write attribute: %v", err)
		}
	}
	w.Close()
	fixDBFName(t, path)

	files := make(map[string][]byte)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		b, err := os.ReadFile(filepath.Join(dir, "data"+ext))
		if err != nil {
			t.Fatalf("read bundle part: %v", err)
		}
		files["data"+ext] = b
	}
	if prjWKT != "" {
		files["data.prj"] = []byte(prjWKT)
	}
	return files
}

// fixDBFName renames the attribute table the go-shp writer leaves
// next to shpPath: v0.1.1 appends "dbf" to the extension-stripped base
// without a dot, so "data.shp" gets a "datadbf" sidecar.
func fixDBFName(t *testing.T, shpPath string) {
	t.Helper()
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	want := base + ".dbf"
	if _, err := os.Stat(want); err == nil {
		return
	}
	if err := os.Rename(base+"dbf", want); err != nil {
		t.Fatalf("rename dbf sidecar: %v", err)
	}
}

// zipBytes packs entries (name → content) into an in-memory ZIP.
func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, content := range entries {
		f, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := f.Write(content); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func prefixed(prefix string, files map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for name, content := range files {
		out[prefix+name] = content
	}
	return out
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", kind)
	}
	got, ok := KindOf(err)
	if !ok || got != kind {
		t.Fatalf("error kind = %v (%v), want %v", got, err, kind)
	}
}

// TestIngestGeoJSONRoundTrip: a dataset already in WGS84 comes back
// with identical coordinates and the canonical CRS.
func TestIngestGeoJSONRoundTrip(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"monas"},"geometry":{"type":"Point","coordinates":[106.8272,-6.1754]}}
	]}`

	ds, err := New().Ingest(context.Background(), Upload{Filename: "monas.geojson", Data: []byte(doc)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ds.CRS != geodata.CanonicalCRS {
		t.Errorf("CRS = %q, want %q", ds.CRS, geodata.CanonicalCRS)
	}
	p := ds.Features[0].Geometry.(orb.Point)
	if p != (orb.Point{106.8272, -6.1754}) {
		t.Errorf("coordinates changed: %v", p)
	}
}

// TestIngestUTMArchive: a zipped shapefile declared in UTM zone 48S is
// reprojected. Easting 500000 / northing 10000000 is the zone's
// central-meridian equator point, i.e. exactly lon 105 / lat 0.
func TestIngestUTMArchive(t *testing.T) {
	bundle := shapefileBundle(t, utm48sWKT, []shp.Point{{X: 500000, Y: 10000000}})
	data := zipBytes(t, bundle)

	ds, err := New().Ingest(context.Background(), Upload{Filename: "utm.zip", Data: data})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	p := ds.Features[0].Geometry.(orb.Point)
	if math.Abs(p.X()-105) > 1e-6 || math.Abs(p.Y()) > 1e-6 {
		t.Errorf("reprojected point = %v, want (105, 0)", p)
	}
	if ds.CRS != geodata.CanonicalCRS {
		t.Errorf("CRS = %q, want %q", ds.CRS, geodata.CanonicalCRS)
	}
}

// TestIngestUnlabeledArchive: a bundle without .prj gets WGS84 assigned
// and the raw coordinates pass through untouched.
func TestIngestUnlabeledArchive(t *testing.T) {
	bundle := shapefileBundle(t, "", []shp.Point{{X: 106.8456, Y: -6.2088}})
	data := zipBytes(t, bundle)

	ds, err := New().Ingest(context.Background(), Upload{Filename: "plain.zip", Data: data})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	p := ds.Features[0].Geometry.(orb.Point)
	if p != (orb.Point{106.8456, -6.2088}) {
		t.Errorf("coordinates mutated for unlabeled data: %v", p)
	}
	if ds.CRS != geodata.CanonicalCRS {
		t.Errorf("CRS = %q, want assigned %q", ds.CRS, geodata.CanonicalCRS)
	}
}

// TestArchiveSelectionDeterministic: two bundles under a/ and b/; the
// lexicographic tie-break must pick a/ on every run.
func TestArchiveSelectionDeterministic(t *testing.T) {
	bundleA := shapefileBundle(t, "", []shp.Point{{X: 10, Y: 10}})
	bundleB := shapefileBundle(t, "", []shp.Point{{X: 20, Y: 20}})
	entries := prefixed("a/", bundleA)
	for name, content := range prefixed("b/", bundleB) {
		entries[name] = content
	}
	data := zipBytes(t, entries)

	for run := 0; run < 5; run++ {
		ds, err := New().Ingest(context.Background(), Upload{Filename: "two.zip", Data: data})
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		p := ds.Features[0].Geometry.(orb.Point)
		if p != (orb.Point{10, 10}) {
			t.Fatalf("run %d selected the wrong bundle: %v", run, p)
		}
	}
}

// TestInvalidInputs walks the §7 table rows that do not need special
// setups.
func TestInvalidInputs(t *testing.T) {
	tests := []struct {
		name   string
		upload Upload
		kind   Kind
	}{
		{
			name:   "unrecognized extension",
			upload: Upload{Filename: "notes.txt", Data: []byte("hello")},
			kind:   UnsupportedFormat,
		},
		{
			name:   "corrupt archive",
			upload: Upload{Filename: "broken.zip", Data: []byte("PK\x03\x04 this is no zip")},
			kind:   ArchiveUnreadable,
		},
		{
			name:   "archive without shp",
			upload: Upload{Filename: "empty.zip", Data: nil}, // filled below
			kind:   NoGeometryFileFound,
		},
		{
			name:   "zero features",
			upload: Upload{Filename: "empty.geojson", Data: []byte(`{"type":"FeatureCollection","features":[]}`)},
			kind:   MissingGeometry,
		},
		{
			name: "null geometry feature",
			upload: Upload{Filename: "nullgeom.geojson", Data: []byte(
				`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"a":1},"geometry":null}]}`)},
			kind: MissingGeometry,
		},
		{
			name:   "malformed geojson",
			upload: Upload{Filename: "trunc.geojson", Data: []byte(`{"type":"FeatureCollection","features":[`)},
			kind:   DatasetUnreadable,
		},
	}
	tests[2].upload.Data = zipBytes(t, map[string][]byte{"readme.txt": []byte("no geometry here")})

	p := New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Ingest(context.Background(), tc.upload)
			wantKind(t, err, tc.kind)
		})
	}
}

// TestReprojectionFailure: a declared but unresolvable .prj must fail
// rather than pass coordinates through untransformed.
func TestReprojectionFailure(t *testing.T) {
	bundle := shapefileBundle(t, `LOCAL_CS["plant grid"]`, []shp.Point{{X: 1, Y: 2}})
	data := zipBytes(t, bundle)

	_, err := New().Ingest(context.Background(), Upload{Filename: "local.zip", Data: data})
	wantKind(t, err, ReprojectionFailure)
}

// panicDriver simulates a crash mid-normalize.
type panicDriver struct{}

func (panicDriver) Name() string { return "panic" }
func (panicDriver) Read(string) (*geodata.Dataset, error) {
	panic("driver exploded")
}

// TestPanicRecovered: a fault inside a driver becomes a structured
// Internal error at the pipeline boundary, never an escaped panic.
func TestPanicRecovered(t *testing.T) {
	p := &Pipeline{driverFor: func(string, bool) (formats.Driver, bool) {
		return panicDriver{}, true
	}}
	_, err := p.Ingest(context.Background(), Upload{Filename: "boom.geojson", Data: []byte("{}")})
	wantKind(t, err, Internal)
}

// TestCleanupInvariant: for every outcome — success, each error kind
// and a simulated crash — no scratch file or directory survives the
// call. UnsupportedFormat additionally allocates nothing at all.
func TestCleanupInvariant(t *testing.T) {
	okBundle := zipBytes(t, shapefileBundle(t, "", []shp.Point{{X: 1, Y: 2}}))
	noShp := zipBytes(t, map[string][]byte{"readme.txt": []byte("x")})

	scratchRoot := t.TempDir()
	t.Setenv("TMPDIR", scratchRoot)

	assertClean := func(t *testing.T, label string) {
		t.Helper()
		entries, err := os.ReadDir(scratchRoot)
		if err != nil {
			t.Fatalf("%s: read scratch root: %v", label, err)
		}
		if len(entries) != 0 {
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			t.Fatalf("%s: scratch storage leaked: %v", label, names)
		}
	}

	cases := []struct {
		name     string
		pipeline *Pipeline
		upload   Upload
	}{
		{"success", New(), Upload{Filename: "ok.zip", Data: okBundle}},
		{"unsupported format", New(), Upload{Filename: "x.txt", Data: []byte("x")}},
		{"archive unreadable", New(), Upload{Filename: "bad.zip", Data: []byte("not a zip")}},
		{"no geometry file", New(), Upload{Filename: "none.zip", Data: noShp}},
		{"dataset unreadable", New(), Upload{Filename: "bad.geojson", Data: []byte("{{{")}},
		{"missing geometry", New(), Upload{Filename: "empty.geojson", Data: []byte(`{"type":"FeatureCollection","features":[]}`)}},
		{"mid-normalize crash", &Pipeline{driverFor: func(string, bool) (formats.Driver, bool) {
			return panicDriver{}, true
		}}, Upload{Filename: "boom.geojson", Data: []byte("{}")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _ = tc.pipeline.Ingest(context.Background(), tc.upload)
			assertClean(t, tc.name)
		})
	}
}

// TestContextAbandoned: a caller-expired context aborts before any
// parsing but still leaves no scratch behind.
func TestContextAbandoned(t *testing.T) {
	scratchRoot := t.TempDir()
	t.Setenv("TMPDIR", scratchRoot)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Ingest(ctx, Upload{Filename: "x.geojson", Data: []byte("{}")})
	wantKind(t, err, Internal)

	entries, _ := os.ReadDir(scratchRoot)
	if len(entries) != 0 {
		t.Fatalf("scratch leaked after abandoned call: %d entries", len(entries))
	}
}
