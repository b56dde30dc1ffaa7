package formats

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	// Pure-Go SQLite driver; a .gpkg file is an SQLite database.
	_ "modernc.org/sqlite"

	"geoportal/pkg/geodata"
)

// GeoPackage reads the first feature table of a .gpkg file. The GPKG
// spec stores geometry as a small binary header (magic, flags, srs_id,
// optional envelope) followed by standard WKB, and declares the
// reference system in gpkg_spatial_ref_sys.
type GeoPackage struct{}

func (GeoPackage) Name() string { return "GPKG" }

func (GeoPackage) Read(path string) (*geodata.Dataset, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open gpkg: %w", err)
	}
	defer db.Close()

	var table, geomCol string
	var srsID int
	err = db.QueryRow(`
		SELECT c.table_name, g.column_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
		LIMIT 1`).Scan(&table, &geomCol, &srsID)
	if err != nil {
		return nil, fmt.Errorf("gpkg feature table lookup: %w", err)
	}

	crs, err := lookupSRS(db, srsID)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("gpkg select %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("gpkg columns: %w", err)
	}

	ds := &geodata.Dataset{CRS: crs}
	for _, c := range cols {
		if c != geomCol {
			ds.Columns = append(ds.Columns, c)
		}
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("gpkg scan: %w", err)
		}
		feature := geodata.Feature{Properties: make(map[string]any, len(cols)-1)}
		for i, c := range cols {
			if c == geomCol {
				blob, _ := values[i].([]byte)
				if len(blob) > 0 {
					geom, err := decodeGPB(blob)
					if err != nil {
						return nil, fmt.Errorf("gpkg geometry: %w", err)
					}
					feature.Geometry = geom
				}
				continue
			}
			feature.Properties[c] = scanValue(values[i])
		}
		ds.Features = append(ds.Features, feature)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gpkg rows: %w", err)
	}
	return ds, nil
}

// lookupSRS translates a srs_id into a CRS declaration. EPSG-organised
// entries become "EPSG:<code>"; the GPKG "undefined" systems (0, -1)
// come back empty so the normalizer applies its assignment policy;
// anything else falls back to the stored WKT definition.
func lookupSRS(db *sql.DB, srsID int) (string, error) {
	if srsID == 0 || srsID == -1 {
		return "", nil
	}
	var organization, definition string
	var orgCode int
	err := db.QueryRow(`
		SELECT organization, organization_coordsys_id, definition
		FROM gpkg_spatial_ref_sys
		WHERE srs_id = ?`, srsID).Scan(&organization, &orgCode, &definition)
	if err == sql.ErrNoRows {
		return fmt.Sprintf("EPSG:%d", srsID), nil
	}
	if err != nil {
		return "", fmt.Errorf("gpkg srs lookup: %w", err)
	}
	if strings.EqualFold(organization, "EPSG") {
		return fmt.Sprintf("EPSG:%d", orgCode), nil
	}
	return strings.TrimSpace(definition), nil
}

// decodeGPB strips the GeoPackage binary header and decodes the WKB
// payload that follows it.
func decodeGPB(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, fmt.Errorf("not a GeoPackage geometry blob")
	}
	flags := blob[3]
	if flags&(1<<5) != 0 {
		// Extension (non-standard) encodings are not supported.
		return nil, fmt.Errorf("extended GeoPackage geometry encoding")
	}
	if flags&(1<<4) != 0 {
		// Empty-geometry flag.
		return nil, nil
	}
	envelope := (flags >> 1) & 0x7
	var envLen int
	switch envelope {
	case 0:
		envLen = 0
	case 1:
		envLen = 32
	case 2, 3:
		envLen = 48
	case 4:
		envLen = 64
	default:
		return nil, fmt.Errorf("invalid envelope indicator %d", envelope)
	}
	headerLen := 8 + envLen
	if len(blob) < headerLen {
		return nil, fmt.Errorf("truncated GeoPackage geometry header")
	}
	return wkb.Unmarshal(blob[headerLen:])
}

// quoteIdent quotes an SQLite identifier; table names come from
// gpkg_contents, not the user, but quoting keeps odd names working.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// scanValue unwraps driver byte slices into strings so JSON encoding
// renders text columns as text instead of base64.
func scanValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
