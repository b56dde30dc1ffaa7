package ingest

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"geoportal/pkg/scratch"
)

// recognizedExts is the full set of upload extensions the portal
// accepts. ".zip" is the archive case wrapping a shapefile bundle;
// the rest are direct single-file formats.
var recognizedExts = map[string]bool{
	".geojson": true,
	".kml":     true,
	".gpkg":    true,
	".zip":     true,
}

// resolved names the file the normalizer should load. The archive case
// forces the shapefile driver: once extracted into an arbitrary
// directory layout, the extension alone is not trusted for detection.
type resolved struct {
	path           string
	ext            string
	forceShapefile bool
}

// resolve writes the upload into scratch storage and, for archives,
// extracts the bundle and locates the authoritative .shp inside it.
func (p *Pipeline) resolve(id string, up Upload, ext string, sc *scratch.Handle) (resolved, error) {
	if err := os.WriteFile(sc.File(), up.Data, 0o600); err != nil {
		return resolved{}, newError(Internal, err, "write upload to scratch")
	}
	logT(id, "Resolve", "spooled %d bytes to %s", len(up.Data), sc.File())

	if ext != ".zip" {
		return resolved{path: sc.File(), ext: ext}, nil
	}

	// The directory is registered with the handle before extraction
	// starts, so a failure below still gets cleaned up.
	dir, err := sc.Dir()
	if err != nil {
		return resolved{}, newError(Internal, err, "allocate extraction dir")
	}
	if err := extractZip(sc.File(), dir); err != nil {
		return resolved{}, newError(ArchiveUnreadable, err, "archive %q cannot be extracted", up.Filename)
	}

	candidates, err := findShapefiles(dir)
	if err != nil {
		return resolved{}, newError(Internal, err, "scan extracted archive")
	}
	if len(candidates) == 0 {
		return resolved{}, newError(NoGeometryFileFound, nil,
			"archive %q contains no .shp file", up.Filename)
	}

	// Tie-break: lexicographic order over the full relative paths, so
	// the same archive always yields the same choice on every platform.
	sort.Strings(candidates)
	logT(id, "Resolve", "%d shapefile candidate(s), selected %q",
		len(candidates), strings.TrimPrefix(candidates[0], dir+string(os.PathSeparator)))

	return resolved{path: candidates[0], ext: ".shp", forceShapefile: true}, nil
}

// extractZip unpacks the archive into dir, refusing entries that would
// escape it (zip-slip).
func extractZip(archivePath, dir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	root := filepath.Clean(dir)
	for _, zf := range zr.File {
		target := filepath.Join(root, filepath.Clean("/"+zf.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes extraction dir", zf.Name)
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %q: %w", zf.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir for %q: %w", zf.Name, err)
		}
		if err := extractFile(zf, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(zf *zip.File, target string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open entry %q: %w", zf.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %q: %w", zf.Name, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("extract %q: %w", zf.Name, err)
	}
	return nil
}

// findShapefiles collects every .shp path under dir (case-insensitive
// extension match, any nesting depth).
func findShapefiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".shp") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
