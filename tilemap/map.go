// Package tilemap displays the raster tiles of an MBTiles container as a
// zoomable map. A Map translates between geographic coordinates and display
// coordinates at its current zoom level and composites the tiles covering a
// viewport onto a Painter.
//
// Display coordinates are logical pixels with the origin at the intersection
// of the equator and the prime meridian, x growing eastward and y growing
// southward.
package tilemap

import (
	"bytes"
	"image"
	"math"
	"path/filepath"

	"github.com/go-spatial/geom"

	"github.com/pdok/mbtilesmap/mathhelp"
	"github.com/pdok/mbtilesmap/mbtiles"
	"github.com/pdok/mbtilesmap/mercator"
)

// zoomEpsilon absorbs floating point noise when a fractional zoom level is floored
const zoomEpsilon = 1e-9

type Option func(*Map)

// WithCache replaces the process wide tile cache.
func WithCache(cache Cache) Option {
	return func(m *Map) {
		m.cache = cache
	}
}

// WithDecoder replaces the image decoder used for tile blobs.
func WithDecoder(decode Decoder) Option {
	return func(m *Map) {
		m.decode = decode
	}
}

// WithDevicePixelRatio sets the pixel density of the display.
func WithDevicePixelRatio(ratio float64) Option {
	return func(m *Map) {
		m.SetDevicePixelRatio(ratio)
	}
}

// Map is a raster map backed by an MBTiles file. A Map that could not be
// constructed is invalid: it reports why through Err and ErrorString, and
// all of its operations return zero values.
//
// A Map is not safe for concurrent use.
type Map struct {
	path   string
	source *mbtiles.Source

	zooms  mbtiles.ZoomRange
	zoom   int
	bounds mercator.GeoRect

	deviceRatio float64
	tileRatio   float64

	cache  Cache
	decode Decoder

	valid bool
	err   error
}

// New opens the MBTiles file at path, validates it and derives the zoom range
// and geographic bounds of the map. The source is closed again afterwards;
// call Load before drawing. New never returns nil.
func New(path string, opts ...Option) *Map {
	m := &Map{
		path:        path,
		deviceRatio: 1.0,
		tileRatio:   1.0,
		cache:       sharedCache,
		decode:      DecodeImage,
	}
	for _, opt := range opts {
		opt(m)
	}

	source, err := mbtiles.Open(path)
	if err != nil {
		m.err = err
		return m
	}
	m.source = source
	defer source.Close()

	if err = source.ValidateSchema(); err != nil {
		m.err = err
		return m
	}
	zooms, err := source.ZoomRange()
	if err != nil {
		m.err = err
		return m
	}
	m.zooms = zooms
	m.zoom = zooms.Max

	extrema, err := source.TileExtrema(m.zooms.Min)
	if err != nil {
		m.err = err
		return m
	}
	m.bounds = geoBounds(extrema, m.zooms.Min)

	if ratio, ok := detectTileRatio(source, m.zooms.Max); ok {
		m.tileRatio = ratio
	}

	m.valid = true
	return m
}

// geoBounds converts the tile extrema at a zoom level into geographic bounds.
// Storage rows count northward, so the minimum row is the southern edge.
func geoBounds(e mbtiles.Extrema, zoom int) mercator.GeoRect {
	minX := mercator.IndexToMercator(mercator.ClampIndex(e.MinColumn, zoom), zoom)
	minY := mercator.IndexToMercator(mercator.ClampIndex(e.MinRow, zoom), zoom)
	maxX := mercator.IndexToMercator(mercator.ClampIndex(e.MaxColumn, zoom)+1, zoom)
	maxY := mercator.IndexToMercator(mercator.ClampIndex(e.MaxRow, zoom)+1, zoom)

	tl := mercator.M2LL(geom.Point{minX, maxY})
	br := mercator.M2LL(geom.Point{maxX, minY})
	// the poles of zoom levels 0 and 1 are numerically unstable
	tl.Lat = math.Min(tl.Lat, mercator.MaxLatitude)
	br.Lat = math.Max(br.Lat, -mercator.MaxLatitude)
	return mercator.GeoRect{TopLeft: tl, BottomRight: br}
}

// detectTileRatio derives the tile ratio from the pixel width of a stored tile.
func detectTileRatio(source *mbtiles.Source, zoom int) (float64, bool) {
	data, err := source.SampleTile(zoom)
	if err != nil || len(data) == 0 {
		return 0, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 {
		return 0, false
	}
	return float64(cfg.Width) / mercator.TileSize, true
}

func (m *Map) Valid() bool {
	return m.valid
}

// Err returns the reason the map is invalid, or nil.
func (m *Map) Err() error {
	return m.err
}

// ErrorString returns the reason the map is invalid, or an empty string.
func (m *Map) ErrorString() string {
	if m.err == nil {
		return ""
	}
	return m.err.Error()
}

// Name returns the file name of the map.
func (m *Map) Name() string {
	return filepath.Base(m.path)
}

// Path returns the path of the MBTiles file, which also identifies the map's tiles in the cache.
func (m *Map) Path() string {
	return m.path
}

// Source returns the tile source of the map, nil if it could not be opened.
func (m *Map) Source() *mbtiles.Source {
	return m.source
}

// Load opens the tile source. Loading a loaded map is a no-op.
func (m *Map) Load() error {
	if m.source == nil {
		return m.err
	}
	return m.source.Open()
}

// Unload closes the tile source. Unloading an unloaded map is a no-op.
func (m *Map) Unload() error {
	if m.source == nil {
		return nil
	}
	return m.source.Close()
}

func (m *Map) ZoomRange() mbtiles.ZoomRange {
	return m.zooms
}

func (m *Map) Zoom() int {
	return m.zoom
}

// SetZoom sets the current zoom level, limited to the zoom range.
func (m *Map) SetZoom(zoom int) int {
	m.zoom = m.LimitZoom(zoom)
	return m.zoom
}

// GeoBounds returns the geographic extent of the tiles at the lowest zoom level.
func (m *Map) GeoBounds() mercator.GeoRect {
	return m.bounds
}

// Bounds returns the geographic bounds in display coordinates at the current zoom level.
// An invalid map has empty bounds.
func (m *Map) Bounds() geom.Extent {
	if !m.valid {
		return geom.Extent{}
	}
	tl := m.LL2XY(m.bounds.TopLeft)
	br := m.LL2XY(m.bounds.BottomRight)
	return geom.Extent{tl.X(), tl.Y(), br.X(), br.Y()}
}

// LimitZoom clamps zoom into the zoom range of the map.
func (m *Map) LimitZoom(zoom int) int {
	return mathhelp.Clamp(zoom, m.zooms.Min, m.zooms.Max)
}

// ZoomFit sets and returns the highest zoom level at which rect fits in a
// viewport of the given size. An invalid rect or an empty viewport selects
// the highest zoom level of the map.
func (m *Map) ZoomFit(size image.Point, rect mercator.GeoRect) int {
	if !rect.IsValid() || size.X <= 0 || size.Y <= 0 {
		m.zoom = m.zooms.Max
		return m.zoom
	}

	tl := mercator.LL2M(rect.TopLeft)
	br := mercator.LL2M(rect.BottomRight)
	scX := (br.X() - tl.X()) / float64(size.X)
	scY := (br.Y() - tl.Y()) / float64(size.Y)
	// mercator y grows northward, so the height of the rectangle is negative
	scale := math.Max(scX, -scY) / m.CoordinatesRatio()
	m.zoom = m.LimitZoom(int(math.Floor(mercator.ScaleToZoom(scale) + zoomEpsilon)))
	return m.zoom
}

func (m *Map) ZoomIn() int {
	m.zoom = min(m.zoom+1, m.zooms.Max)
	return m.zoom
}

func (m *Map) ZoomOut() int {
	m.zoom = max(m.zoom-1, m.zooms.Min)
	return m.zoom
}

// Resolution returns the size of a pixel in meters at the vertical center of rect.
func (m *Map) Resolution(rect geom.Extent) float64 {
	scale := mercator.ZoomToScale(m.zoom)
	centerY := (rect[1] + rect[3]) / 2.0
	return mercator.GroundResolution(scale, -centerY*scale)
}

// SetDevicePixelRatio sets the pixel density of the display. Non-positive ratios are ignored.
func (m *Map) SetDevicePixelRatio(ratio float64) {
	if ratio > 0 {
		m.deviceRatio = ratio
	}
}

func (m *Map) DevicePixelRatio() float64 {
	return m.deviceRatio
}

// TileRatio is the pixel size of the stored tiles relative to the reference tile size.
func (m *Map) TileRatio() float64 {
	return m.tileRatio
}

// CoordinatesRatio scales mercator coordinates to display coordinates on
// high density displays.
func (m *Map) CoordinatesRatio() float64 {
	if m.deviceRatio > 1.0 {
		return m.deviceRatio / m.tileRatio
	}
	return 1.0
}

// ImageRatio is the pixel density decoded tiles are drawn with.
func (m *Map) ImageRatio() float64 {
	if m.deviceRatio > 1.0 {
		return m.deviceRatio
	}
	return m.tileRatio
}

// TileSize returns the size of a tile in display coordinates.
func (m *Map) TileSize() float64 {
	return mercator.TileSize / m.CoordinatesRatio()
}

// LL2XY converts geographic coordinates to display coordinates at the current zoom level.
func (m *Map) LL2XY(c mercator.Coordinates) geom.Point {
	scale := mercator.ZoomToScale(m.zoom)
	p := mercator.LL2M(c)
	cr := m.CoordinatesRatio()
	return geom.Point{p.X() / scale / cr, p.Y() / -scale / cr}
}

// XY2LL converts display coordinates at the current zoom level to geographic coordinates.
func (m *Map) XY2LL(p geom.Point) mercator.Coordinates {
	scale := mercator.ZoomToScale(m.zoom)
	cr := m.CoordinatesRatio()
	return mercator.M2LL(geom.Point{p.X() * scale * cr, -p.Y() * scale * cr})
}
