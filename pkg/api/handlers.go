// Package api wires the ingestion pipeline to the web shell: the map
// page, the upload endpoint and the basemap table. Handlers stay small
// and declarative; everything with real logic lives behind them.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"syscall"

	"geoportal/pkg/basemap"
	"geoportal/pkg/geodata"
	"geoportal/pkg/ingest"
)

// maxUploadBytes caps the multipart memory budget; larger uploads
// spill to disk per net/http rules.
const maxUploadBytes = 100 << 20

// Handler bundles the pipeline and the page defaults so HTTP routes
// only translate requests into pipeline calls and results into JSON.
type Handler struct {
	Pipeline     *ingest.Pipeline
	Limiter      *UploadLimiter
	Content      fs.FS
	Version      string
	DefaultLat   float64
	DefaultLon   float64
	DefaultZoom  int
	DefaultLayer string
	Logf         func(string, ...any)
}

// NewHandler constructs a Handler with the stock view defaults. Logf
// is optional; pass nil to silence the handler.
func NewHandler(p *ingest.Pipeline, content fs.FS, logf func(string, ...any)) *Handler {
	return &Handler{
		Pipeline:     p,
		Content:      content,
		DefaultLat:   -6.2088, // Jakarta
		DefaultLon:   106.8456,
		DefaultZoom:  10,
		DefaultLayer: basemap.Default().Name,
		Logf:         logf,
	}
}

// Register attaches the routes to the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleMapPage)
	mux.HandleFunc("/upload", h.handleUpload)
	mux.HandleFunc("/basemaps", h.handleBasemaps)
}

func (h *Handler) logf(format string, v ...any) {
	if h.Logf != nil {
		h.Logf(format, v...)
	}
}

// uploadResponse is everything the browser needs after one ingestion:
// the summary for the sidebar, the view parameters, and the canonical
// GeoJSON export it both renders and offers for download. Nothing is
// kept server-side, so there is no second round trip.
type uploadResponse struct {
	Status       string           `json:"status"`
	FeatureCount int              `json:"featureCount"`
	Columns      []string         `json:"columns"`
	CRS          string           `json:"crs"`
	Preview      []map[string]any `json:"preview"`
	Bounds       *geodata.Bounds  `json:"bounds,omitempty"`
	CenterLat    float64          `json:"centerLat"`
	CenterLon    float64          `json:"centerLon"`
	Zoom         int              `json:"zoom"`
	Layer        basemap.Provider `json:"layer"`
	GeoJSON      json.RawMessage  `json:"geojson"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.Limiter != nil {
		permit, err := h.Limiter.Acquire(r.Context(), clientIP(r))
		if err != nil {
			http.Error(w, "upload queue abandoned", http.StatusTooManyRequests)
			return
		}
		defer permit.Release()
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "multipart parse error", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "no file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	ds, err := h.Pipeline.Ingest(r.Context(), ingest.Upload{
		Filename: header.Filename,
		Data:     data,
	})
	if err != nil {
		kind, _ := ingest.KindOf(err)
		http.Error(w, err.Error(), statusFor(kind))
		return
	}

	resp := uploadResponse{
		Status:       "success",
		FeatureCount: len(ds.Features),
		Columns:      ds.Columns,
		CRS:          ds.CRS,
		Preview:      ds.Preview(5),
		Zoom:         h.DefaultZoom,
		Layer:        basemap.Lookup(r.FormValue("basemap")),
	}
	if b, ok := ds.Bounds(); ok {
		resp.Bounds = &b
	}
	// Degenerate geometry sets fall back to the stock center rather
	// than NaN coordinates.
	resp.CenterLat, resp.CenterLon = h.DefaultLat, h.DefaultLon
	if lat, lon, ok := ds.Center(); ok {
		resp.CenterLat, resp.CenterLon = lat, lon
	}
	resp.GeoJSON, err = ds.GeoJSONRaw()
	if err != nil {
		h.logf("geojson export: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		if isClientDisconnect(err) {
			h.logf("client disconnected while writing upload response")
		} else {
			h.logf("upload response write error: %v", err)
		}
	}
}

// statusFor maps the error taxonomy onto HTTP statuses: malformed
// inputs are 400, structurally unusable datasets are 422, recovered
// faults are 500.
func statusFor(kind ingest.Kind) int {
	switch kind {
	case ingest.UnsupportedFormat, ingest.ArchiveUnreadable, ingest.DatasetUnreadable:
		return http.StatusBadRequest
	case ingest.NoGeometryFileFound, ingest.MissingGeometry, ingest.ReprojectionFailure:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleMapPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	tmpl, err := template.New("map.html").Funcs(template.FuncMap{
		"toJSON": func(v any) (template.JS, error) {
			b, err := json.Marshal(v)
			return template.JS(b), err
		},
	}).ParseFS(h.Content, "public_html/map.html")
	if err != nil {
		h.logf("template parse: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := struct {
		Version      string
		DefaultLat   float64
		DefaultLon   float64
		DefaultZoom  int
		DefaultLayer string
		Basemaps     []basemap.Provider
	}{
		Version:      h.Version,
		DefaultLat:   h.DefaultLat,
		DefaultLon:   h.DefaultLon,
		DefaultZoom:  h.DefaultZoom,
		DefaultLayer: h.DefaultLayer,
		Basemaps:     basemap.Providers(),
	}

	// Render into a buffer first so a template error never produces a
	// half-written page with a 200 status.
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		h.logf("template execute: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		if isClientDisconnect(err) {
			h.logf("client disconnected while writing page")
		} else {
			h.logf("page write error: %v", err)
		}
	}
}

func (h *Handler) handleBasemaps(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(basemap.Providers()); err != nil {
		h.logf("basemaps write error: %v", err)
	}
}

// clientIP strips the port off RemoteAddr; the limiter keys on the
// host part only.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isClientDisconnect reports network errors meaning the browser went
// away mid-response. Normal churn, not worth an error-level line.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
