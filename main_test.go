package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/mbtilesmap/mbtiles"
	"github.com/pdok/mbtilesmap/mbtiles/mbtilestest"
	"github.com/pdok/mbtilesmap/mercator"
)

var (
	red    = color.RGBA{R: 255, A: 255}
	green  = color.RGBA{G: 255, A: 255}
	blue   = color.RGBA{B: 255, A: 255}
	yellow = color.RGBA{R: 255, G: 255, A: 255}
)

// world writes a two level pyramid with a distinct colour per zoom 1 quadrant.
func world(t *testing.T) string {
	t.Helper()
	return mbtilestest.New(t, mbtilestest.Fixture{
		Tiles: []mbtilestest.Tile{
			{Zoom: 0, Column: 0, Row: 0, Data: mbtilestest.PNG(256, color.White)},
			{Zoom: 1, Column: 0, Row: 1, Data: mbtilestest.PNG(256, red)},
			{Zoom: 1, Column: 1, Row: 1, Data: mbtilestest.PNG(256, green)},
			{Zoom: 1, Column: 0, Row: 0, Data: mbtilestest.PNG(256, blue)},
			{Zoom: 1, Column: 1, Row: 0, Data: mbtilestest.PNG(256, yellow)},
		},
		Metadata: [][2]string{
			{"name", "quadrants"},
			{"format", "png"},
			{"description", strings.Repeat("very long ", 30)},
		},
	})
}

func TestInfo(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, info(&out, world(t), 1.0, ""))

	got := out.String()
	assert.Contains(t, got, "name:        test.mbtiles\n")
	assert.Contains(t, got, "zoom levels: 0 - 1\n")
	assert.Contains(t, got, "tile ratio:  1\n")
	assert.Contains(t, got, "bounds:      POLYGON")
	assert.Contains(t, got, "crs:         EPSG:3857\n")
	assert.Contains(t, got, "extent:      POLYGON")
	assert.Contains(t, got, "-20037508.34")
	assert.Contains(t, got, "matrix size: 2x2 tiles at zoom 1\n")
	assert.Contains(t, got, "center tile: 1/")
	assert.Contains(t, got, "top left ")
	assert.Contains(t, got, "metadata:\n")
	// keys are aligned on the longest one
	assert.Contains(t, got, "  name         quadrants\n")
	assert.Contains(t, got, "  description  very long")
	assert.Contains(t, got, "...\n")
}

func TestInfo_invalid(t *testing.T) {
	var out bytes.Buffer
	err := info(&out, filepath.Join(t.TempDir(), "missing.mbtiles"), 1.0, "")
	require.Error(t, err)

	empty := mbtilestest.New(t, mbtilestest.Fixture{})
	err = info(&out, empty, 1.0, "")
	require.ErrorIs(t, err, mbtiles.ErrEmptyTileSet)
	assert.Empty(t, out.String())
}

func TestDescribe(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, describe(&out, world(t), 1.0, ""))

	var tms struct {
		ID           string `json:"id"`
		CRS          string `json:"crs"`
		BoundingBox  struct {
			LowerLeft  [2]float64 `json:"lowerLeft"`
			UpperRight [2]float64 `json:"upperRight"`
		} `json:"boundingBox"`
		TileMatrices []struct {
			ID             string `json:"id"`
			CornerOfOrigin string `json:"cornerOfOrigin"`
			MatrixWidth    uint   `json:"matrixWidth"`
		} `json:"tileMatrices"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &tms))
	assert.Equal(t, "WebMercatorQuad", tms.ID)
	assert.Equal(t, "http://www.opengis.net/def/crs/EPSG/0/3857", tms.CRS)
	require.Len(t, tms.TileMatrices, 2)
	assert.Equal(t, "0", tms.TileMatrices[0].ID)
	assert.Equal(t, uint(2), tms.TileMatrices[1].MatrixWidth)
	assert.Equal(t, "bottomLeft", tms.TileMatrices[1].CornerOfOrigin)
	assert.InDelta(t, -20037508.34, tms.BoundingBox.LowerLeft[0], 0.01)
	assert.InDelta(t, 20037508.34, tms.BoundingBox.UpperRight[0], 0.01)
	// latitudes are clamped just short of the top of the world
	assert.Less(t, tms.BoundingBox.UpperRight[1], 20037508.34)
	assert.InDelta(t, 20037508.34, tms.BoundingBox.UpperRight[1], 100)
}

func TestInfo_tileMatrixSet(t *testing.T) {
	p := world(t)
	var embedded bytes.Buffer
	require.NoError(t, info(&embedded, p, 1.0, ""))

	// the exported pyramid describes the map just like the embedded set does
	var exported bytes.Buffer
	require.NoError(t, describe(&exported, p, 1.0, ""))
	tmsPath := filepath.Join(t.TempDir(), "world.json")
	require.NoError(t, os.WriteFile(tmsPath, exported.Bytes(), 0o600))

	var out bytes.Buffer
	require.NoError(t, info(&out, p, 1.0, tmsPath))
	assert.Equal(t, embedded.String(), out.String())

	out.Reset()
	require.NoError(t, describe(&out, p, 1.0, tmsPath))
	assert.JSONEq(t, exported.String(), out.String())
}

func TestInfo_tileMatrixSetInvalid(t *testing.T) {
	p := world(t)
	dir := t.TempDir()

	var out bytes.Buffer
	err := info(&out, p, 1.0, filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	crs84 := filepath.Join(dir, "crs84.json")
	require.NoError(t, os.WriteFile(crs84, []byte(`{
		"crs": "http://www.opengis.net/def/crs/OGC/1.3/CRS84",
		"tileMatrices": [{"id": "0", "scaleDenominator": 1, "cellSize": 1, "pointOfOrigin": [-180, 90],
			"tileWidth": 256, "tileHeight": 256, "matrixWidth": 2, "matrixHeight": 1}]
	}`), 0o600))
	err = info(&out, p, 1.0, crs84)
	require.ErrorIs(t, err, errNotWebMercator)
	err = describe(&out, p, 1.0, crs84)
	require.ErrorIs(t, err, errNotWebMercator)
	assert.Empty(t, out.String())
}

func TestRender(t *testing.T) {
	p := world(t)
	output := filepath.Join(t.TempDir(), "world.png")

	result, err := render(p, renderOptions{ratio: 1.0, zoom: -1, width: 512, height: 512, output: output})
	require.NoError(t, err)
	assert.Equal(t, 1, result.zoom)
	assert.Equal(t, 4, result.tiles)
	assert.Equal(t, output, result.output)
	assert.Greater(t, result.size, uint64(0))
	assert.InDelta(t, 78271.5, result.resolution, 0.1)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 512, img.Bounds().Dx())
	assert.Equal(t, 512, img.Bounds().Dy())
	assert.Equal(t, red, color.RGBAModel.Convert(img.At(128, 128)))
	assert.Equal(t, green, color.RGBAModel.Convert(img.At(384, 128)))
	assert.Equal(t, blue, color.RGBAModel.Convert(img.At(128, 384)))
	assert.Equal(t, yellow, color.RGBAModel.Convert(img.At(384, 384)))

	// the target is not overwritten by default
	_, err = render(p, renderOptions{ratio: 1.0, zoom: -1, width: 512, height: 512, output: output})
	require.Error(t, err)
	_, err = render(p, renderOptions{ratio: 1.0, zoom: -1, width: 512, height: 512, output: output, overwrite: true})
	require.NoError(t, err)
}

func TestRender_centerAndZoom(t *testing.T) {
	p := world(t)
	output := filepath.Join(t.TempDir(), "ne.png")

	// a viewport inside the north eastern quadrant at zoom 1
	center := &mercator.Coordinates{Lon: 90, Lat: 45}
	result, err := render(p, renderOptions{ratio: 2.0, center: center, zoom: 1, width: 64, height: 32, output: output})
	require.NoError(t, err)
	assert.Equal(t, 1, result.zoom)
	assert.Equal(t, 1, result.tiles)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	// twice the pixels on a high density display
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
	assert.Equal(t, green, color.RGBAModel.Convert(img.At(64, 32)))
}

func TestRender_defaultOutput(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "quadrants.mbtiles")
	require.NoError(t, os.Rename(world(t), p))

	result, err := render(p, renderOptions{ratio: 1.0, zoom: 0, width: 100, height: 100})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "quadrants_0.png"), result.output)
	assert.FileExists(t, result.output)
}

func TestRender_invalid(t *testing.T) {
	p := world(t)
	_, err := render(p, renderOptions{ratio: 1.0, zoom: -1, width: 0, height: 100})
	require.Error(t, err)
	_, err = render(p, renderOptions{ratio: 1.0, center: &mercator.Coordinates{Lon: 200}, width: 10, height: 10})
	require.Error(t, err)
}

func Test_injectSuffixIntoPath(t *testing.T) {
	tests := []struct {
		p    string
		ext  string
		want string
	}{
		{p: "world.mbtiles", ext: ".png", want: "world_%v.png"},
		{p: "/data/maps/nl.mbtiles", ext: ".png", want: "/data/maps/nl_%v.png"},
		{p: "noext", ext: ".png", want: "noext_%v.png"},
	}
	for _, tt := range tests {
		t.Run(tt.p, func(t *testing.T) {
			assert.Equal(t, tt.want, injectSuffixIntoPath(tt.p, tt.ext))
		})
	}
}

func Test_removeIfExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "target.png")
	require.NoError(t, removeIfExists(p))
	require.NoError(t, os.WriteFile(p, []byte("png"), 0o600))
	require.NoError(t, removeIfExists(p))
	assert.NoFileExists(t, p)
}

type closeFailer struct {
	bytes.Buffer
	closed bool
}

func (w *closeFailer) Close() error {
	w.closed = true
	return errors.New("disk full")
}

func Test_writePNG(t *testing.T) {
	var w closeFailer
	err := writePNG(&w, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.EqualError(t, err, "disk full")
	assert.True(t, w.closed)
	assert.Greater(t, w.Len(), 0)
}
