package tilemap

import (
	"image"
	"math"

	"github.com/go-spatial/geom"

	"github.com/pdok/mbtilesmap/mathhelp"
	"github.com/pdok/mbtilesmap/mercator"
)

// gridEpsilon keeps rounding noise in the bounds from selecting a neighbouring tile
const gridEpsilon = 1e-6

type Flags uint

const (
	NoFlags Flags = 0
	// Block asks Draw to wait for all tiles. Tiles are always fetched
	// synchronously, so it is accepted for API compatibility only.
	Block Flags = 1
)

// Painter composites decoded tiles. Position is the top-left corner of the
// tile in display coordinates and ratio the pixel density of the image: an
// image of w pixels wide covers w/ratio display units.
type Painter interface {
	DrawImage(position geom.Point, img image.Image, ratio float64)
}

// Placement is a tile of the display grid and its position on the display.
type Placement struct {
	Tile     mercator.TileIndex
	Position geom.Point
}

// Tiles enumerates the tiles covering rect at the current zoom level.
// Only the part of rect inside the bounds of the map is covered, so a rect
// outside the bounds yields no tiles.
func (m *Map) Tiles(rect geom.Extent) []Placement {
	if !m.valid {
		return nil
	}
	b := m.Bounds()
	clip := geom.Extent{
		math.Max(rect[0], b[0]), math.Max(rect[1], b[1]),
		math.Min(rect[2], b[2]), math.Min(rect[3], b[3]),
	}
	if clip[2] <= clip[0] || clip[3] <= clip[1] {
		return nil
	}

	scale := mercator.ZoomToScale(m.zoom)
	cr := m.CoordinatesRatio()
	ts := m.TileSize()
	half := float64(mathhelp.Pow2(uint(m.zoom))) / 2.0

	tile := mercator.MercatorToTile(geom.Point{
		(clip[0] + gridEpsilon) * scale * cr,
		-(clip[1] + gridEpsilon) * scale * cr,
	}, m.zoom)
	// top-left corner of the first tile, aligned on the tile grid
	tl := geom.Point{(float64(tile.X) - half) * ts, (float64(tile.Y) - half) * ts}
	origin := geom.Point{math.Max(tl.X(), b[0]), math.Max(tl.Y(), b[1])}

	width := math.Min(clip[2]-tl.X(), b[2]-b[0])
	height := math.Min(clip[3]-tl.Y(), b[3]-b[1])
	columns := int(math.Ceil(width/ts - gridEpsilon))
	rows := int(math.Ceil(height/ts - gridEpsilon))

	placements := make([]Placement, 0, max(columns, 0)*max(rows, 0))
	for i := 0; i < columns; i++ {
		for j := 0; j < rows; j++ {
			t := mercator.TileIndex{Zoom: m.zoom, X: tile.X + i, Y: tile.Y + j}
			if !t.Valid() {
				continue
			}
			placements = append(placements, Placement{
				Tile:     t,
				Position: geom.Point{origin.X() + float64(i)*ts, origin.Y() + float64(j)*ts},
			})
		}
	}
	return placements
}

// Draw paints the tiles covering rect. Tiles that are missing from the
// source or cannot be decoded are skipped.
func (m *Map) Draw(painter Painter, rect geom.Extent, _ Flags) {
	ratio := m.ImageRatio()
	for _, placement := range m.Tiles(rect) {
		img := m.tileImage(placement.Tile)
		if img == nil {
			continue
		}
		painter.DrawImage(placement.Position, img, ratio)
	}
}

// tileImage returns the decoded tile from the cache, or from the source on a miss.
func (m *Map) tileImage(t mercator.TileIndex) image.Image {
	key := TileKey{Source: m.path, Zoom: t.Zoom, X: t.X, Y: t.Y}
	if img, ok := m.cache.Get(key); ok {
		return img
	}
	data, err := m.source.TileData(*t.Storage())
	if err != nil || len(data) == 0 {
		return nil
	}
	img, err := m.decode(data)
	if err != nil || img == nil {
		return nil
	}
	m.cache.Add(key, img)
	return img
}
