// Package mbtilestest builds small MBTiles files for tests.
package mbtilestest

import (
	"bytes"
	"database/sql"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/stretchr/testify/require"
)

const (
	TilesSchema    = `CREATE TABLE tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);`
	MetadataSchema = `CREATE TABLE metadata (name text, value text);`
)

// Tile is a stored tile. Row is a storage (TMS) row.
type Tile struct {
	Zoom   int
	Column int
	Row    int
	Data   []byte
}

// Fixture describes the contents of an MBTiles file.
// An empty Schema defaults to TilesSchema.
type Fixture struct {
	Schema   string
	Tiles    []Tile
	Metadata [][2]string
}

// Write creates the MBTiles file at path.
func Write(path string, f Fixture) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	schema := f.Schema
	if schema == "" {
		schema = TilesSchema
	}
	if _, err = db.Exec(schema); err != nil {
		return err
	}
	if len(f.Metadata) > 0 {
		if _, err = db.Exec(MetadataSchema); err != nil {
			return err
		}
		for _, kv := range f.Metadata {
			if _, err = db.Exec(`INSERT INTO metadata (name, value) VALUES (?, ?);`, kv[0], kv[1]); err != nil {
				return err
			}
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO tiles VALUES (?, ?, ?, ?);`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, tile := range f.Tiles {
		if _, err = stmt.Exec(tile.Zoom, tile.Column, tile.Row, tile.Data); err != nil {
			stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("could not insert tile %d/%d/%d: %w", tile.Zoom, tile.Column, tile.Row, err)
		}
	}
	stmt.Close()
	return tx.Commit()
}

// New writes the fixture to a file in a temporary directory and returns its path.
func New(t testing.TB, f Fixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbtiles")
	require.NoError(t, Write(path, f))
	return path
}

// PNG encodes a square image of the given size filled with c.
func PNG(size int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Pyramid returns every tile of the given zoom levels as uniformly coloured PNGs.
func Pyramid(size int, zooms ...int) []Tile {
	var tiles []Tile
	for _, z := range zooms {
		n := 1 << z
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				c := color.RGBA{R: uint8(z * 40), G: uint8(x * 16), B: uint8(y * 16), A: 255}
				tiles = append(tiles, Tile{Zoom: z, Column: x, Row: y, Data: PNG(size, c)})
			}
		}
	}
	return tiles
}
