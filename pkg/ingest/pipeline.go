// Package ingest is the core of the geoportal: it takes one uploaded
// byte blob, spools it to scratch storage, resolves the actual geometry
// payload (direct file or shapefile bundle inside a ZIP), loads it with
// a format driver and hands back a canonical WGS84 dataset. Every
// failure is converted into a structured *Error at this boundary and
// all scratch storage is released on every exit path.
package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"geoportal/pkg/formats"
	"geoportal/pkg/geodata"
	"geoportal/pkg/logger"
	"geoportal/pkg/scratch"
)

// Upload is the raw input: bytes plus the declared filename. Only the
// extension of the filename is consulted.
type Upload struct {
	Filename string
	Data     []byte
}

// Pipeline runs ingestions. The zero value works; independent calls
// share no mutable state, so one Pipeline may serve concurrent uploads
// without locking.
type Pipeline struct {
	// driverFor substitutes format drivers in tests. nil means the
	// real drivers.
	driverFor func(ext string, forceShapefile bool) (formats.Driver, bool)
}

// New returns a Pipeline using the real format drivers.
func New() *Pipeline { return &Pipeline{} }

// Ingest runs the full chain: scratch → resolve → normalize. The
// returned dataset is always in EPSG:4326. On failure the error is a
// *Error carrying one of the taxonomy kinds; panics inside drivers are
// recovered here and reported as Internal, never propagated.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (ds *geodata.Dataset, err error) {
	ext := strings.ToLower(filepath.Ext(up.Filename))
	if !recognizedExts[ext] {
		// Rejected before any scratch storage is allocated.
		return nil, newError(UnsupportedFormat, nil, "unsupported file type %q", ext)
	}

	id := newIngestID()
	logger.Begin(id)
	defer func() {
		if err != nil {
			logger.FlushError(id, err)
		} else {
			logger.Success(id, up.Filename)
		}
	}()

	sc, scErr := scratch.Acquire(ext)
	if scErr != nil {
		err = newError(Internal, scErr, "allocate scratch storage")
		return nil, err
	}
	defer sc.Release()

	// Recover unexpected faults so a broken driver surfaces as a
	// structured result while the deferred Release above still runs.
	defer func() {
		if r := recover(); r != nil {
			ds = nil
			err = newError(Internal, fmt.Errorf("%v", r), "ingestion fault while processing %q", up.Filename)
		}
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		err = newError(Internal, ctxErr, "ingestion abandoned")
		return nil, err
	}

	res, rErr := p.resolve(id, up, ext, sc)
	if rErr != nil {
		err = rErr
		return nil, err
	}

	ds, err = p.normalize(id, res)
	return ds, err
}

// logT formats "[id][component] …" and hands it to the buffered logger,
// which decides whether to hold or print it.
func logT(id, component, format string, v ...any) {
	logger.Append(id, fmt.Sprintf("[%-6s][%s] %s", id, component, fmt.Sprintf(format, v...)))
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newIngestID produces a short random id for correlating the log lines
// of one upload. Collisions only interleave log buffers, so math/rand
// is plenty.
func newIngestID() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return string(b)
}
