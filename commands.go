package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/muesli/reflow/truncate"

	"github.com/pdok/mbtilesmap/geomhelp"
	"github.com/pdok/mbtilesmap/mapslicehelp"
	"github.com/pdok/mbtilesmap/mercator"
	"github.com/pdok/mbtilesmap/tilemap"
	"github.com/pdok/mbtilesmap/tms20"
)

// maxValueLen truncates long metadata values and WKT in the info output
const maxValueLen = 100

var errNotWebMercator = errors.New("tile matrix set is not in EPSG:3857")

func openMap(p string, ratio float64) (*tilemap.Map, error) {
	if _, err := os.Stat(p); err != nil {
		return nil, fmt.Errorf("error opening source MBTiles: %w", err)
	}
	m := tilemap.New(p, tilemap.WithDevicePixelRatio(ratio))
	if !m.Valid() {
		return nil, m.Err()
	}
	return m, nil
}

// loadTileMatrixSet reads the tile matrix set at p, or the embedded WebMercatorQuad when p is empty.
func loadTileMatrixSet(p string) (tms20.TileMatrixSet, error) {
	if p == "" {
		return tms20.LoadEmbeddedTileMatrixSet(tms20.WebMercatorQuad)
	}
	tms, err := tms20.LoadJSONTileMatrixSet(p)
	if err != nil {
		return tms, fmt.Errorf("error reading tile matrix set %s: %w", p, err)
	}
	if tms.CRS.AuthorityName() != "EPSG" || tms.CRS.AuthorityCode() != "3857" {
		return tms, fmt.Errorf("%w: %s", errNotWebMercator, tms.CRS.URI)
	}
	return tms, nil
}

// tileMatrixSet describes the pyramid of m, numbering rows like the MBTiles storage does.
func tileMatrixSet(m *tilemap.Map, tmsPath string) (tms20.TileMatrixSet, error) {
	tms, err := loadTileMatrixSet(tmsPath)
	if err != nil {
		return tms, err
	}
	zooms := m.ZoomRange()
	tms, err = tms.Subset(zooms.Min, zooms.Max)
	if err != nil {
		return tms, err
	}
	bounds := m.GeoBounds()
	tl := mercator.ToMeters(mercator.LL2M(bounds.TopLeft))
	br := mercator.ToMeters(mercator.LL2M(bounds.BottomRight))
	return tms.WithCornerOfOrigin(tms20.BottomLeft).
		WithBoundingBox(tms20.TwoDPoint{tl.X(), br.Y()}, tms20.TwoDPoint{br.X(), tl.Y()}), nil
}

func info(w io.Writer, p string, ratio float64, tmsPath string) error {
	m, err := openMap(p, ratio)
	if err != nil {
		return err
	}
	if err = m.Load(); err != nil {
		return err
	}
	defer m.Unload()

	stat, err := os.Stat(p)
	if err != nil {
		return err
	}
	metadata, err := m.Source().Metadata()
	if err != nil {
		return err
	}
	tms, err := tileMatrixSet(m, tmsPath)
	if err != nil {
		return err
	}
	var grid slippy.Grid = &tms

	zooms := m.ZoomRange()
	bounds := m.GeoBounds()
	center := bounds.Center()
	m.SetZoom(zooms.Max)
	c := m.LL2XY(center)

	fmt.Fprintf(w, "name:        %s\n", m.Name())
	fmt.Fprintf(w, "size:        %s\n", humanize.Bytes(uint64(stat.Size())))
	fmt.Fprintf(w, "zoom levels: %d - %d\n", zooms.Min, zooms.Max)
	fmt.Fprintf(w, "tile ratio:  %g\n", m.TileRatio())
	fmt.Fprintf(w, "bounds:      %s\n", geomhelp.WktMustEncode(geomhelp.GeoRectPolygon(bounds), maxValueLen))
	fmt.Fprintf(w, "crs:         EPSG:%d\n", grid.SRID())
	fmt.Fprintf(w, "extent:      %s\n", geomhelp.WktMustEncode(geomhelp.MercatorPolygon(bounds), maxValueLen))
	fmt.Fprintf(w, "resolution:  %.2f m/px at zoom %d\n", m.Resolution(geom.Extent{c.X(), c.Y(), c.X(), c.Y()}), zooms.Max)
	if size, ok := grid.Size(uint(zooms.Max)); ok {
		fmt.Fprintf(w, "matrix size: %dx%d tiles at zoom %d\n", size.X, size.Y, zooms.Max)
	}

	centerTile, ok := grid.FromNative(uint(zooms.Max), mercator.ToMeters(mercator.LL2M(center)))
	if ok {
		corner, _ := grid.ToNative(centerTile)
		data, err := m.Source().TileData(*centerTile)
		if err != nil {
			return err
		}
		status := "missing"
		if data != nil {
			status = humanize.Bytes(uint64(len(data)))
		}
		fmt.Fprintf(w, "center tile: %d/%d/%d (%s) top left %.2f, %.2f\n",
			centerTile.Z, centerTile.X, centerTile.Y, status, corner.X(), corner.Y())
	}

	if metadata.Len() > 0 {
		fmt.Fprintln(w, "metadata:")
		width := mapslicehelp.LongestKey(metadata)
		for _, key := range mapslicehelp.OrderedMapKeys(metadata) {
			value, _ := metadata.Get(key)
			fmt.Fprintf(w, "  %-*s  %s\n", width, key, truncate.StringWithTail(value, maxValueLen, "..."))
		}
	}
	return nil
}

func describe(w io.Writer, p string, ratio float64, tmsPath string) error {
	m, err := openMap(p, ratio)
	if err != nil {
		return err
	}
	tms, err := tileMatrixSet(m, tmsPath)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(&tms, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

type renderOptions struct {
	ratio     float64
	center    *mercator.Coordinates
	zoom      int
	width     int
	height    int
	output    string
	overwrite bool
}

type renderResult struct {
	output     string
	zoom       int
	tiles      int
	resolution float64
	size       uint64
}

// countingPainter counts the tiles drawn onto the wrapped painter.
type countingPainter struct {
	tilemap.Painter
	count int
}

func (p *countingPainter) DrawImage(position geom.Point, img image.Image, ratio float64) {
	p.count++
	p.Painter.DrawImage(position, img, ratio)
}

func render(p string, opts renderOptions) (renderResult, error) {
	var result renderResult
	if opts.width <= 0 || opts.height <= 0 {
		return result, fmt.Errorf("invalid viewport size %dx%d", opts.width, opts.height)
	}
	m, err := openMap(p, opts.ratio)
	if err != nil {
		return result, err
	}
	if err = m.Load(); err != nil {
		return result, err
	}
	defer m.Unload()

	if opts.zoom < 0 {
		m.ZoomFit(image.Point{X: opts.width, Y: opts.height}, m.GeoBounds())
	} else {
		m.SetZoom(opts.zoom)
	}
	center := m.GeoBounds().Center()
	if opts.center != nil {
		if !opts.center.IsValid() {
			return result, fmt.Errorf("invalid center %v", *opts.center)
		}
		center = *opts.center
	}
	c := m.LL2XY(center)
	w, h := float64(opts.width)/2.0, float64(opts.height)/2.0
	rect := geom.Extent{c.X() - w, c.Y() - h, c.X() + w, c.Y() + h}

	canvas := tilemap.NewCanvas(rect, m.DevicePixelRatio())
	painter := &countingPainter{Painter: canvas}
	m.Draw(painter, rect, tilemap.Block)

	result.output = opts.output
	if result.output == "" {
		result.output = fmt.Sprintf(injectSuffixIntoPath(p, ".png"), m.Zoom())
	}
	if opts.overwrite {
		if err = removeIfExists(result.output); err != nil {
			return result, err
		}
	}
	f, err := os.OpenFile(result.output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return result, err
	}
	if err = writePNG(f, canvas.Image); err != nil {
		return result, fmt.Errorf("error writing %s: %w", result.output, err)
	}
	stat, err := os.Stat(result.output)
	if err != nil {
		return result, err
	}

	result.zoom = m.Zoom()
	result.tiles = painter.count
	result.resolution = m.Resolution(rect)
	result.size = uint64(stat.Size())
	return result, nil
}

// writePNG encodes img into w and closes it. A failing close is reported, the PNG may be incomplete.
func writePNG(w io.WriteCloser, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
