// Package geomhelp renders extents of the map as WKT for diagnostics.
package geomhelp

import (
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"

	"github.com/pdok/mbtilesmap/mercator"
)

// ExtentPolygon returns the closed ring around e, counter-clockwise from the min corner.
func ExtentPolygon(e geom.Extent) geom.Polygon {
	return geom.Polygon{{
		{e[0], e[1]},
		{e[2], e[1]},
		{e[2], e[3]},
		{e[0], e[3]},
	}}
}

// GeoRectPolygon returns the lon/lat ring around r. An invalid rect yields an empty polygon.
func GeoRectPolygon(r mercator.GeoRect) geom.Polygon {
	if !r.IsValid() {
		return geom.Polygon{}
	}
	return ExtentPolygon(geom.Extent{
		r.TopLeft.Lon, r.BottomRight.Lat,
		r.BottomRight.Lon, r.TopLeft.Lat,
	})
}

// MercatorPolygon returns the ring around r in EPSG:3857 metres.
func MercatorPolygon(r mercator.GeoRect) geom.Polygon {
	if !r.IsValid() {
		return geom.Polygon{}
	}
	tl := mercator.ToMeters(mercator.LL2M(r.TopLeft))
	br := mercator.ToMeters(mercator.LL2M(r.BottomRight))
	return ExtentPolygon(geom.Extent{tl.X(), br.Y(), br.X(), tl.Y()})
}

// WktMustEncode encodes g, cut off after maxLen characters. A maxLen of 0 disables truncation.
func WktMustEncode(g geom.Geometry, maxLen uint) string {
	if p, ok := g.(geom.Polygon); ok && len(p) == 0 {
		return "POLYGON EMPTY"
	}
	if maxLen == 0 {
		return wkt.MustEncode(g)
	}
	return truncate.StringWithTail(wkt.MustEncode(g), maxLen, "...")
}
