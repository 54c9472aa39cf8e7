// Package mbtiles reads raster tiles from an MBTiles container, a SQLite
// database with a tiles(zoom_level, tile_column, tile_row, tile_data) table.
// Tile rows are stored in the TMS convention, counting northward from the
// bottom of the world.
package mbtiles

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-spatial/geom/slippy"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrOpen               = errors.New("error opening database file")
	ErrInvalidTableFormat = errors.New("invalid table format")
	ErrEmptyTileSet       = errors.New("empty tile set")
	ErrInvalidZoomLevels  = errors.New("invalid zoom levels")
	ErrClosed             = errors.New("mbtiles source is closed")
)

// ColumnType is the type a declared column type is read as.
type ColumnType string

const (
	Integer ColumnType = "INTEGER"
	Real    ColumnType = "REAL"
	Blob    ColumnType = "BLOB"
	Boolean ColumnType = "BOOLEAN"
	Text    ColumnType = "TEXT"
)

// columnTypeOf maps a declared column type onto a ColumnType. Only the plain
// spellings are recognised, anything else (including an untyped column) reads as Text.
func columnTypeOf(ctype string) ColumnType {
	t := strings.ToLower(strings.TrimSpace(ctype))
	switch {
	case t == "integer", t == "int":
		return Integer
	case t == "double", t == "float", t == "real", strings.HasPrefix(t, "numeric"):
		return Real
	case t == "blob":
		return Blob
	case t == "boolean", t == "bool":
		return Boolean
	default:
		return Text
	}
}

// Column describes a column of the tiles table by name and type.
type Column struct {
	Name string
	Type ColumnType
}

// TilesSchema is the required leading column layout of the tiles table.
var TilesSchema = []Column{
	{Name: "zoom_level", Type: Integer},
	{Name: "tile_column", Type: Integer},
	{Name: "tile_row", Type: Integer},
	{Name: "tile_data", Type: Blob},
}

// ZoomRange is an inclusive range of zoom levels.
type ZoomRange struct {
	Min int
	Max int
}

func (r ZoomRange) IsValid() bool {
	return r.Min >= 0 && r.Min <= r.Max
}

// Extrema holds the minimum and maximum tile column and (storage) row at a zoom level.
type Extrema struct {
	MinColumn int
	MinRow    int
	MaxColumn int
	MaxRow    int
}

// Source is a read-only handle on an MBTiles file. The connection can be
// closed and reopened without losing the path.
type Source struct {
	path string

	mu     sync.RWMutex
	handle *sql.DB
}

// Open opens the MBTiles file at path and checks that it can be queried.
func Open(path string) (*Source, error) {
	source := &Source{path: path}
	if err := source.Open(); err != nil {
		return nil, err
	}
	return source, nil
}

// Path returns the file the source reads from.
func (source *Source) Path() string {
	return source.path
}

// Open (re)opens the database connection. Opening an open source is a no-op.
func (source *Source) Open() error {
	source.mu.Lock()
	defer source.mu.Unlock()
	if source.handle != nil {
		return nil
	}
	handle, err := openMBTiles(source.path)
	if err != nil {
		return err
	}
	source.handle = handle
	return nil
}

// Close closes the database connection. Closing a closed source is a no-op.
func (source *Source) Close() error {
	source.mu.Lock()
	defer source.mu.Unlock()
	if source.handle == nil {
		return nil
	}
	err := source.handle.Close()
	source.handle = nil
	return err
}

// IsOpen reports whether the connection is open.
func (source *Source) IsOpen() bool {
	source.mu.RLock()
	defer source.mu.RUnlock()
	return source.handle != nil
}

func (source *Source) db() (*sql.DB, func(), error) {
	source.mu.RLock()
	if source.handle == nil {
		source.mu.RUnlock()
		return nil, nil, ErrClosed
	}
	return source.handle, source.mu.RUnlock, nil
}

// readOnlyURI returns the sqlite URI opening file read-only. The path is
// escaped so characters like '#', '?' and '%' stay part of the file name.
func readOnlyURI(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String(), nil
}

func openMBTiles(file string) (*sql.DB, error) {
	uri, err := readOnlyURI(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", file, ErrOpen, err)
	}
	handle, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", file, ErrOpen, err)
	}
	if err = handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("%s: %w: %v", file, ErrOpen, err)
	}
	return handle, nil
}

// Columns collects the column information of the tiles table
func (source *Source) Columns() ([]Column, error) {
	db, done, err := source.db()
	if err != nil {
		return nil, err
	}
	defer done()

	rows, err := db.Query(`PRAGMA table_info('tiles');`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue *string
			pk        int
		)
		if err = rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, Column{Name: name, Type: columnTypeOf(ctype)})
	}
	return columns, rows.Err()
}

// ValidateSchema compares the leading columns of the tiles table with TilesSchema.
func (source *Source) ValidateSchema() error {
	columns, err := source.Columns()
	if err != nil {
		return err
	}
	return validateColumns(columns)
}

func validateColumns(columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: no tiles table", ErrInvalidTableFormat)
	}
	if len(columns) < len(TilesSchema) {
		return fmt.Errorf("%w: expected at least %d columns, got %d",
			ErrInvalidTableFormat, len(TilesSchema), len(columns))
	}
	for i, expected := range TilesSchema {
		got := columns[i]
		if got.Name != expected.Name {
			return fmt.Errorf("%w: column %d is %q, expected %q",
				ErrInvalidTableFormat, i, got.Name, expected.Name)
		}
		if got.Type != expected.Type {
			return fmt.Errorf("%w: column %q has type %s, expected %s",
				ErrInvalidTableFormat, got.Name, got.Type, expected.Type)
		}
	}
	return nil
}

// ZoomRange returns the lowest and highest zoom level present in the tiles table.
func (source *Source) ZoomRange() (ZoomRange, error) {
	db, done, err := source.db()
	if err != nil {
		return ZoomRange{}, err
	}
	defer done()

	var lo, hi sql.NullInt64
	err = db.QueryRow(`SELECT min(zoom_level), max(zoom_level) FROM tiles;`).Scan(&lo, &hi)
	if err != nil {
		return ZoomRange{}, err
	}
	if !lo.Valid || !hi.Valid {
		return ZoomRange{}, ErrEmptyTileSet
	}
	zooms := ZoomRange{Min: int(lo.Int64), Max: int(hi.Int64)}
	if !zooms.IsValid() {
		return zooms, fmt.Errorf("%w: [%d, %d]", ErrInvalidZoomLevels, zooms.Min, zooms.Max)
	}
	return zooms, nil
}

// TileExtrema returns the extreme tile columns and rows stored at the given zoom level.
func (source *Source) TileExtrema(zoom int) (Extrema, error) {
	db, done, err := source.db()
	if err != nil {
		return Extrema{}, err
	}
	defer done()

	var minCol, minRow, maxCol, maxRow sql.NullInt64
	err = db.QueryRow(`SELECT min(tile_column), min(tile_row), max(tile_column), max(tile_row) `+
		`FROM tiles WHERE zoom_level = ?;`, zoom).Scan(&minCol, &minRow, &maxCol, &maxRow)
	if err != nil {
		return Extrema{}, err
	}
	if !minCol.Valid || !minRow.Valid || !maxCol.Valid || !maxRow.Valid {
		return Extrema{}, fmt.Errorf("%w: no tiles at zoom level %d", ErrEmptyTileSet, zoom)
	}
	return Extrema{
		MinColumn: int(minCol.Int64),
		MinRow:    int(minRow.Int64),
		MaxColumn: int(maxCol.Int64),
		MaxRow:    int(maxRow.Int64),
	}, nil
}

// TileData returns the blob of the given tile. The row of the tile is a
// storage (TMS) row. An absent tile yields nil data and no error.
func (source *Source) TileData(tile slippy.Tile) ([]byte, error) {
	db, done, err := source.db()
	if err != nil {
		return nil, err
	}
	defer done()

	var data []byte
	err = db.QueryRow(`SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?;`,
		tile.Z, tile.X, tile.Y).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

// SampleTile returns the blob of an arbitrary tile at the given zoom level.
func (source *Source) SampleTile(zoom int) ([]byte, error) {
	db, done, err := source.db()
	if err != nil {
		return nil, err
	}
	defer done()

	var data []byte
	err = db.QueryRow(`SELECT tile_data FROM tiles WHERE zoom_level = ? LIMIT 1;`, zoom).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

// Metadata returns the name/value pairs of the metadata table in stored order.
// A missing metadata table yields an empty map.
func (source *Source) Metadata() (*orderedmap.OrderedMap[string, string], error) {
	db, done, err := source.db()
	if err != nil {
		return nil, err
	}
	defer done()

	metadata := orderedmap.New[string, string]()
	var count int
	err = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE name = 'metadata';`).Scan(&count)
	if err != nil || count == 0 {
		return metadata, err
	}

	rows, err := db.Query(`SELECT name, value FROM metadata;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var value sql.NullString
		if err = rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		metadata.Set(name, value.String)
	}
	return metadata, rows.Err()
}
