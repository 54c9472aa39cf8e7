package mercator

import (
	"fmt"
	"math"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLL2M_M2LL(t *testing.T) {
	tests := []Coordinates{
		{Lon: 0, Lat: 0},
		{Lon: 5.12, Lat: 52.09},
		{Lon: -180, Lat: MaxLatitude},
		{Lon: 180, Lat: -MaxLatitude},
		{Lon: -73.98, Lat: 40.75},
		{Lon: 151.2, Lat: -33.87},
	}
	for _, c := range tests {
		t.Run(fmt.Sprintf("%v,%v", c.Lon, c.Lat), func(t *testing.T) {
			got := M2LL(LL2M(c))
			assert.InDelta(t, c.Lon, got.Lon, 1e-9)
			assert.InDelta(t, c.Lat, got.Lat, 1e-9)
		})
	}
}

func TestLL2M(t *testing.T) {
	assert.Equal(t, geom.Point{0, 0}, LL2M(Coordinates{}))
	// the top of the world maps onto 180 mercator degrees
	top := LL2M(Coordinates{Lon: 180, Lat: 85.0511287798})
	assert.InDelta(t, 180.0, top.X(), 1e-9)
	assert.InDelta(t, 180.0, top.Y(), 1e-6)
}

func TestZoomToScale(t *testing.T) {
	assert.Equal(t, 360.0/256.0, ZoomToScale(0))
	assert.Equal(t, 360.0/(256.0*1024.0), ZoomToScale(10))
	for z := 0; z <= 24; z++ {
		assert.InDelta(t, float64(z), ScaleToZoom(ZoomToScale(z)), 1e-9)
	}
	// halving the scale adds one zoom level
	assert.InDelta(t, 3.5, ScaleToZoom(ZoomToScale(3)/math.Sqrt2), 1e-9)
}

func TestIndexToMercator(t *testing.T) {
	tests := []struct {
		index, zoom int
		want        float64
	}{
		{index: 0, zoom: 0, want: -180},
		{index: 1, zoom: 0, want: 180},
		{index: 1, zoom: 1, want: 0},
		{index: 3, zoom: 2, want: 90},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IndexToMercator(tt.index, tt.zoom))
	}
}

func TestClampIndex(t *testing.T) {
	assert.Equal(t, 0, ClampIndex(-5, 3))
	assert.Equal(t, 7, ClampIndex(100, 3))
	assert.Equal(t, 4, ClampIndex(4, 3))
	assert.Equal(t, 0, ClampIndex(1, 0))
}

func TestStorageRow(t *testing.T) {
	for zoom := 0; zoom < 8; zoom++ {
		n := 1 << zoom
		for r := 0; r < n; r++ {
			require.Equal(t, r, StorageRow(DisplayRow(StorageRow(r, zoom), zoom), zoom))
			require.Equal(t, n-r-1, StorageRow(r, zoom))
		}
	}
}

func TestTileIndex(t *testing.T) {
	assert.True(t, TileIndex{Zoom: 2, X: 3, Y: 0}.Valid())
	assert.False(t, TileIndex{Zoom: 2, X: 4, Y: 0}.Valid())
	assert.False(t, TileIndex{Zoom: 2, X: -1, Y: 0}.Valid())
	assert.False(t, TileIndex{Zoom: 0, X: 0, Y: 1}.Valid())
	assert.Equal(t, &slippy.Tile{Z: 2, X: 1, Y: 3}, TileIndex{Zoom: 2, X: 1, Y: 0}.Storage())
}

func TestMercatorToTile(t *testing.T) {
	tests := []struct {
		name string
		p    geom.Point
		zoom int
		want TileIndex
	}{
		{name: "origin z0", p: geom.Point{0, 0}, zoom: 0, want: TileIndex{0, 0, 0}},
		{name: "origin z1", p: geom.Point{0, 0}, zoom: 1, want: TileIndex{1, 1, 1}},
		{name: "north west z1", p: geom.Point{-179, 179}, zoom: 1, want: TileIndex{1, 0, 0}},
		{name: "south east z2", p: geom.Point{179, -179}, zoom: 2, want: TileIndex{2, 3, 3}},
		{name: "west of world", p: geom.Point{-200, 0}, zoom: 1, want: TileIndex{1, -1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MercatorToTile(tt.p, tt.zoom))
		})
	}
}

func TestGroundResolution(t *testing.T) {
	equator := GroundResolution(ZoomToScale(0), 0)
	assert.InDelta(t, 2*math.Pi*WGS84Radius/256, equator, 1e-6)

	y := LL2M(Coordinates{Lat: 60}).Y()
	assert.InDelta(t, equator/2, GroundResolution(ZoomToScale(0), y), 1e-6)
	assert.InDelta(t, equator/2, GroundResolution(ZoomToScale(0), -y), 1e-6)
}

func TestGeoRect_IsValid(t *testing.T) {
	assert.False(t, GeoRect{}.IsValid())
	assert.True(t, GeoRect{Coordinates{-10, 10}, Coordinates{10, -10}}.IsValid())
	assert.False(t, GeoRect{Coordinates{10, 10}, Coordinates{-10, -10}}.IsValid())
	assert.False(t, GeoRect{Coordinates{-10, 95}, Coordinates{10, -10}}.IsValid())
}

func TestToMeters(t *testing.T) {
	corner := ToMeters(geom.Point{180, -180})
	assert.InDelta(t, 20037508.3427892, corner.X(), 1e-6)
	assert.InDelta(t, -20037508.3427892, corner.Y(), 1e-6)

	// Amersfoort
	p := ToMeters(LL2M(Coordinates{Lon: 5.387, Lat: 52.155}))
	assert.InDelta(t, 599678.1, p.X(), 0.1)
	assert.InDelta(t, 6828200.1, p.Y(), 0.1)
}

func TestGeoRect_Center(t *testing.T) {
	world := GeoRect{Coordinates{-180, MaxLatitude}, Coordinates{180, -MaxLatitude}}
	c := world.Center()
	assert.InDelta(t, 0.0, c.Lon, 1e-9)
	assert.InDelta(t, 0.0, c.Lat, 1e-9)

	// the middle on the plane lies north of the geographic middle
	north := GeoRect{Coordinates{0, 60}, Coordinates{10, 40}}.Center()
	assert.InDelta(t, 5.0, north.Lon, 1e-9)
	assert.Greater(t, north.Lat, 50.0)
	assert.Less(t, north.Lat, 60.0)
}
