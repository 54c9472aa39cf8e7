// Package mercator converts between geographic coordinates, the spherical
// (web) mercator plane and the tile grid of a slippy map pyramid.
//
// Planar coordinates are expressed in mercator degrees: both axes span
// [-180, 180] for the whole world. The y axis points north, tile rows of the
// display grid count southward from the top of the world.
package mercator

import (
	"math"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"

	"github.com/pdok/mbtilesmap/mathhelp"
)

const (
	// TileSize is the reference size of a tile in pixels
	TileSize = 256
	// MaxLatitude is the largest latitude representable in the projection
	MaxLatitude = 85.0511
	// WGS84Radius is the equatorial radius in meters
	WGS84Radius = 6378137.0
)

func deg2rad(d float64) float64 { return d * math.Pi / 180.0 }
func rad2deg(r float64) float64 { return r * 180.0 / math.Pi }

// Coordinates is a geographic position in degrees.
type Coordinates struct {
	Lon float64
	Lat float64
}

func (c Coordinates) IsValid() bool {
	return c.Lon >= -180 && c.Lon <= 180 && c.Lat >= -90 && c.Lat <= 90
}

// GeoRect is a geographic rectangle given by its top-left and bottom-right corners.
// The zero value is not valid.
type GeoRect struct {
	TopLeft     Coordinates
	BottomRight Coordinates
}

func (r GeoRect) IsValid() bool {
	return r.TopLeft.IsValid() && r.BottomRight.IsValid() &&
		r.TopLeft.Lon < r.BottomRight.Lon && r.TopLeft.Lat > r.BottomRight.Lat
}

// Center returns the middle of r on the mercator plane.
func (r GeoRect) Center() Coordinates {
	tl := LL2M(r.TopLeft)
	br := LL2M(r.BottomRight)
	return M2LL(geom.Point{(tl.X() + br.X()) / 2.0, (tl.Y() + br.Y()) / 2.0})
}

// LL2M projects geographic coordinates onto the mercator plane.
func LL2M(c Coordinates) geom.Point {
	return geom.Point{c.Lon, rad2deg(math.Log(math.Tan(math.Pi/4.0 + deg2rad(c.Lat)/2.0)))}
}

// M2LL is the inverse of LL2M.
func M2LL(p geom.Point) Coordinates {
	return Coordinates{Lon: p.X(), Lat: rad2deg(2.0*math.Atan(math.Exp(deg2rad(p.Y()))) - math.Pi/2.0)}
}

// ZoomToScale returns the size of a pixel in mercator degrees at the given zoom level.
func ZoomToScale(zoom int) float64 {
	return 360.0 / (TileSize * math.Pow(2, float64(zoom)))
}

// ScaleToZoom is the continuous inverse of ZoomToScale. Rounding is left to the caller.
func ScaleToZoom(scale float64) float64 {
	return math.Log2(360.0 / (scale * TileSize))
}

// IndexToMercator returns the western (or southern, for storage rows) edge of
// the tile with the given index at the given zoom level.
func IndexToMercator(index, zoom int) float64 {
	return -180.0 + 360.0*float64(index)/float64(mathhelp.Pow2(uint(zoom)))
}

// ClampIndex limits a tile index to the grid of the given zoom level.
func ClampIndex(index, zoom int) int {
	return mathhelp.Clamp(index, 0, int(mathhelp.Pow2(uint(zoom)))-1)
}

// StorageRow converts a display row (counting southward) into a storage row
// (counting northward). The conversion is its own inverse.
func StorageRow(row, zoom int) int {
	return int(mathhelp.Pow2(uint(zoom))) - row - 1
}

// DisplayRow converts a storage row into a display row.
func DisplayRow(row, zoom int) int {
	return StorageRow(row, zoom)
}

// TileIndex identifies a tile in the display grid. X and Y may lie outside
// the grid while enumerating a viewport.
type TileIndex struct {
	Zoom int
	X    int
	Y    int
}

// Valid reports whether the index lies inside the grid of its zoom level.
func (t TileIndex) Valid() bool {
	n := int(mathhelp.Pow2(uint(t.Zoom)))
	return t.Zoom >= 0 && t.X >= 0 && t.X < n && t.Y >= 0 && t.Y < n
}

// Storage returns the tile in the storage (bottom-left origin) convention.
func (t TileIndex) Storage() *slippy.Tile {
	return slippy.NewTile(uint(t.Zoom), uint(t.X), uint(StorageRow(t.Y, t.Zoom)))
}

// MercatorToTile returns the display grid index of the tile containing p.
func MercatorToTile(p geom.Point, zoom int) TileIndex {
	n := float64(mathhelp.Pow2(uint(zoom)))
	return TileIndex{
		Zoom: zoom,
		X:    int(math.Floor((p.X() + 180.0) / 360.0 * n)),
		Y:    int(math.Floor((1.0 - p.Y()/180.0) / 2.0 * n)),
	}
}

// GroundResolution returns the size in meters of a pixel of the given scale
// at mercator ordinate y.
func GroundResolution(scale, y float64) float64 {
	return WGS84Radius * 2.0 * math.Pi * scale / 360.0 *
		math.Cos(2.0*math.Atan(math.Exp(deg2rad(y)))-math.Pi/2.0)
}

// ToMeters converts mercator degrees into EPSG:3857 meters.
func ToMeters(p geom.Point) geom.Point {
	f := WGS84Radius * math.Pi / 180.0
	return geom.Point{p.X() * f, p.Y() * f}
}
