package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"geoportal/pkg/basemap"
	"geoportal/pkg/ingest"
)

// pageFS is a minimal stand-in for the embedded shell so page tests
// do not depend on the real markup.
var pageFS = fstest.MapFS{
	"public_html/map.html": &fstest.MapFile{
		Data: []byte(`<html><body data-lat="{{.DefaultLat}}" data-layer="{{.DefaultLayer}}">{{len .Basemaps}} basemaps</body></html>`),
	},
}

func newTestHandler() *Handler {
	return NewHandler(ingest.New(), pageFS, nil)
}

// multipartUpload builds a POST /upload body with one file field.
func multipartUpload(t *testing.T, filename string, payload []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// TestUploadGeoJSON walks a small feature collection through the full
// HTTP surface and checks the summary the browser would render.
func TestUploadGeoJSON(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	payload := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Point","coordinates":[106.8,-6.2]}},
		{"type":"Feature","properties":{"name":"b"},"geometry":{"type":"Point","coordinates":[107.0,-6.4]}}
	]}`)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, multipartUpload(t, "places.geojson", payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}

	var resp uploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("status = %q, want success", resp.Status)
	}
	if resp.FeatureCount != 2 {
		t.Errorf("featureCount = %d, want 2", resp.FeatureCount)
	}
	if resp.CRS != "EPSG:4326" {
		t.Errorf("crs = %q, want EPSG:4326", resp.CRS)
	}
	if len(resp.Preview) != 2 {
		t.Errorf("preview rows = %d, want 2", len(resp.Preview))
	}
	if resp.Bounds == nil {
		t.Fatal("bounds missing")
	}
	if resp.CenterLat > -6.2 || resp.CenterLat < -6.4 {
		t.Errorf("centerLat = %v, want within data extent", resp.CenterLat)
	}
	if len(resp.GeoJSON) == 0 {
		t.Error("geojson export missing")
	}
}

// TestUploadErrorStatuses checks the error-kind to HTTP-status map
// through real pipeline failures.
func TestUploadErrorStatuses(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	cases := []struct {
		name     string
		filename string
		payload  []byte
		want     int
	}{
		{"unsupported extension", "notes.txt", []byte("hello"), http.StatusBadRequest},
		{"malformed geojson", "bad.geojson", []byte("{nope"), http.StatusBadRequest},
		{"empty collection", "empty.geojson", []byte(`{"type":"FeatureCollection","features":[]}`), http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, multipartUpload(t, tc.filename, tc.payload))
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %q)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

// TestUploadRequiresPost rejects anything but POST on /upload.
func TestUploadRequiresPost(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

// TestMapPage renders the shell with the configured defaults.
func TestMapPage(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "-6.2088") {
		t.Errorf("page missing default latitude: %q", body)
	}
	if !strings.Contains(body, basemap.Default().Name) {
		t.Errorf("page missing default layer: %q", body)
	}
}

// TestMapPageNotFound keeps the catch-all route from answering for
// arbitrary paths.
func TestMapPageNotFound(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nothing-here", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// TestBasemapsEndpoint serves the full provider table as JSON.
func TestBasemapsEndpoint(t *testing.T) {
	h := newTestHandler()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/basemaps", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var providers []basemap.Provider
	if err := json.Unmarshal(rec.Body.Bytes(), &providers); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if len(providers) != len(basemap.Providers()) {
		t.Errorf("providers = %d, want %d", len(providers), len(basemap.Providers()))
	}
	for _, p := range providers {
		if p.Tiles == "" || p.Attribution == "" {
			t.Errorf("provider %q missing tiles or attribution", p.Name)
		}
	}
}
