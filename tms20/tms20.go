// Package tms20 describes tile pyramids with the OGC Tile Matrix Set standard (v2.0) and
// implements it as a slippy.Grid.
// See https://www.ogc.org/standard/tms/
package tms20

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/slippy"
	"github.com/perimeterx/marshmallow"
)

// WebMercatorQuad is the identifier of the tile matrix set MBTiles pyramids are laid out in.
const WebMercatorQuad = "WebMercatorQuad"

var ErrNoTileMatrices = errors.New("no tile matrices in zoom range")

var _ slippy.Grid = (*TileMatrixSet)(nil)

var (
	//go:embed tilematrixsets/*.json
	embeddedTileMatrixSetsJSONFS embed.FS
	embeddedTileMatrixSetsCache  = make(map[string]TileMatrixSet)
	embeddedTileMatrixSetsMu     sync.Mutex
)

// LoadJSONTileMatrixSet reads a tile matrix set from a JSON file.
func LoadJSONTileMatrixSet(path string) (TileMatrixSet, error) {
	var tms TileMatrixSet
	tmsJSON, err := os.ReadFile(path)
	if err != nil {
		return tms, err
	}
	err = json.Unmarshal(tmsJSON, &tms)
	return tms, err
}

// LoadEmbeddedTileMatrixSet returns one of the tile matrix sets shipped with this package.
func LoadEmbeddedTileMatrixSet(id string) (TileMatrixSet, error) {
	embeddedTileMatrixSetsMu.Lock()
	defer embeddedTileMatrixSetsMu.Unlock()

	if cached, ok := embeddedTileMatrixSetsCache[id]; ok {
		return cached, nil
	}
	var tms TileMatrixSet
	tmsJSON, err := embeddedTileMatrixSetsJSONFS.ReadFile("tilematrixsets/" + id + ".json")
	if err != nil {
		return tms, err
	}
	if err = json.Unmarshal(tmsJSON, &tms); err != nil {
		return tms, err
	}
	embeddedTileMatrixSetsCache[id] = tms
	return tms, nil
}

// TileMatrixSet is a definition of a tile matrix set following the Tile Matrix Set standard.
type TileMatrixSet struct {
	// Tile matrix set identifier
	ID string `json:"id,omitempty"`
	// Title of this tile matrix set, normally used for display to a human
	Title string `json:"title,omitempty"`
	// Brief narrative description of this tile matrix set, normally available for display to a human
	Description string `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Reference to an official source for this TileMatrixSet
	URI         string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes []string `validate:"omitnil,min=1" json:"orderedAxes"`
	CRS         CRS      `validate:"required" json:"-"`
	// Reference to a well-known scale set
	WellKnownScaleSet string `validate:"omitempty,uri" json:"wellKnownScaleSet,omitempty"`
	// Minimum bounding rectangle surrounding the tile matrix set, in the supported CRS
	BoundingBox *TwoDBoundingBox `json:"boundingBox,omitempty"`
	// Tile matrices by zoom level
	TileMatrices map[int]TileMatrix `validate:"required,min=1" json:"-"`
}

func (tms *TileMatrixSet) MarshalJSON() ([]byte, error) {
	zooms := make([]int, 0, len(tms.TileMatrices))
	for zoom := range tms.TileMatrices {
		zooms = append(zooms, zoom)
	}
	sort.Ints(zooms)
	tileMatrices := make([]TileMatrix, 0, len(zooms))
	for _, zoom := range zooms {
		tileMatrices = append(tileMatrices, tms.TileMatrices[zoom])
	}

	type plain TileMatrixSet
	return json.Marshal(struct {
		*plain
		CRS          CRS          `json:"crs"`
		TileMatrices []TileMatrix `json:"tileMatrices"`
	}{
		plain:        (*plain)(tms),
		CRS:          tms.CRS,
		TileMatrices: tileMatrices,
	})
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	err := defaults.Set(tms)
	if err != nil {
		return err
	}

	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCrs, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	tms.CRS, err = unmarshalCRS(rawCrs)
	if err != nil {
		return err
	}

	rawTileMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	tms.TileMatrices, err = unmarshalTileMatrices(rawTileMatrices)
	if err != nil {
		return err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tms)
}

func unmarshalTileMatrices(rawTileMatrices interface{}) (map[int]TileMatrix, error) {
	rawTileMatricesList, ok := rawTileMatrices.([]interface{})
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	tileMatrices := make(map[int]TileMatrix, len(rawTileMatricesList))
	for _, rawTileMatrix := range rawTileMatricesList {
		var tileMatrix TileMatrix
		if err := tileMatrix.UnmarshalJSONFromMap(rawTileMatrix); err != nil {
			return nil, err
		}
		zoom, err := strconv.ParseInt(tileMatrix.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		tileMatrices[int(zoom)] = tileMatrix
	}
	return tileMatrices, nil
}

// SRID returns the EPSG code of the CRS. It panics for CRSs without a numeric code.
func (tms *TileMatrixSet) SRID() uint {
	code, err := strconv.ParseUint(tms.CRS.AuthorityCode(), 10, 64)
	if err != nil {
		panic(fmt.Errorf(`could not parse uri authority code "%w"`, err))
	}
	return uint(code)
}

// Subset returns the tile matrix set restricted to the zoom levels in [minZoom, maxZoom].
func (tms TileMatrixSet) Subset(minZoom, maxZoom int) (TileMatrixSet, error) {
	tileMatrices := make(map[int]TileMatrix)
	for zoom, tm := range tms.TileMatrices {
		if zoom >= minZoom && zoom <= maxZoom {
			tileMatrices[zoom] = tm
		}
	}
	if len(tileMatrices) == 0 {
		return TileMatrixSet{}, fmt.Errorf("%w [%d, %d] of %s", ErrNoTileMatrices, minZoom, maxZoom, tms.ID)
	}
	tms.TileMatrices = tileMatrices
	return tms, nil
}

// WithCornerOfOrigin returns the tile matrix set numbering rows from the given corner.
// Points of origin are moved along, so every tile keeps covering the same area.
func (tms TileMatrixSet) WithCornerOfOrigin(corner CornerOfOrigin) TileMatrixSet {
	tileMatrices := make(map[int]TileMatrix, len(tms.TileMatrices))
	for zoom, tm := range tms.TileMatrices {
		if tm.CornerOfOrigin != corner {
			height := float64(tm.MatrixHeight) * float64(tm.TileHeight) * tm.CellSize
			if corner == BottomLeft {
				tm.PointOfOrigin[1] -= height
			} else {
				tm.PointOfOrigin[1] += height
			}
			tm.CornerOfOrigin = corner
		}
		tileMatrices[zoom] = tm
	}
	tms.TileMatrices = tileMatrices
	return tms
}

// WithBoundingBox returns the tile matrix set with a bounding box in its own CRS.
func (tms TileMatrixSet) WithBoundingBox(lowerLeft, upperRight TwoDPoint) TileMatrixSet {
	tms.BoundingBox = &TwoDBoundingBox{LowerLeft: lowerLeft, UpperRight: upperRight}
	return tms
}

func (tms *TileMatrixSet) Size(zoom uint) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}
	return slippy.NewTile(zoom, tm.MatrixWidth, tm.MatrixHeight), true
}

func (tms *TileMatrixSet) FromNative(zoom uint, pt geom.Point) (*slippy.Tile, bool) {
	tm, ok := tms.TileMatrices[int(zoom)]
	if !ok {
		return nil, false
	}

	tileSizeX := float64(tm.TileWidth) * tm.CellSize
	x := math.Floor((pt.X() - tm.PointOfOrigin[0]) / tileSizeX)
	if x < 0 || x >= float64(tm.MatrixWidth) {
		return nil, false
	}

	tileSizeY := float64(tm.TileHeight) * tm.CellSize
	var y float64
	switch tm.CornerOfOrigin {
	case BottomLeft:
		y = math.Floor((pt.Y() - tm.PointOfOrigin[1]) / tileSizeY)
	default:
		y = math.Floor((tm.PointOfOrigin[1] - pt.Y()) / tileSizeY)
	}
	if y < 0 || y >= float64(tm.MatrixHeight) {
		return nil, false
	}

	return slippy.NewTile(zoom, uint(x), uint(y)), true
}

// ToNative returns the top-left corner of tile.
// Tiles one past the last column or row are accepted to reach the far edges of the matrix.
func (tms *TileMatrixSet) ToNative(tile *slippy.Tile) (geom.Point, bool) {
	topLeftPt := geom.Point{}
	tm, ok := tms.TileMatrices[int(tile.Z)]
	if !ok {
		return topLeftPt, false
	}
	if tile.X > tm.MatrixWidth || tile.Y > tm.MatrixHeight {
		return topLeftPt, false
	}

	tileSizeX := float64(tm.TileWidth) * tm.CellSize
	topLeftPt[0] = tm.PointOfOrigin[0] + float64(tile.X)*tileSizeX

	tileSizeY := float64(tm.TileHeight) * tm.CellSize
	switch tm.CornerOfOrigin {
	case BottomLeft:
		topLeftPt[1] = tm.PointOfOrigin[1] + float64(tile.Y+1)*tileSizeY
	default:
		topLeftPt[1] = tm.PointOfOrigin[1] - float64(tile.Y)*tileSizeY
	}
	return topLeftPt, true
}

var (
	crsURIRegexURL = regexp.MustCompile("https?://.+/def/crs/(?P<authority>[^/]+)/[^/]+/(?P<code>[^/]+)$")
	crsURIRegexURN = regexp.MustCompile("^urn:ogc:def:crs:(?P<authority>[^:]+)::(?P<code>[^:]+)$")
)

// CRS is a coordinate reference system given by reference.
type CRS struct {
	URI         string `validate:"required,uri"`
	Description string

	authorityName string
	authorityCode string
	// marshal as just the uri
	asString bool
}

// NewCRS parses an OGC CRS uri, either as URL or as URN.
func NewCRS(uri string) (CRS, error) {
	crs := CRS{URI: uri, asString: true}
	uriParts := crsURIRegexURL.FindStringSubmatch(uri)
	if uriParts == nil {
		uriParts = crsURIRegexURN.FindStringSubmatch(uri)
	}
	if uriParts == nil {
		return crs, fmt.Errorf(`could not parse crs uri "%v"`, uri)
	}
	crs.authorityName = uriParts[1]
	crs.authorityCode = uriParts[2]
	return crs, nil
}

func (crs CRS) AuthorityName() string {
	return crs.authorityName
}

func (crs CRS) AuthorityCode() string {
	return crs.authorityCode
}

func (crs CRS) MarshalJSON() ([]byte, error) {
	if crs.asString {
		return json.Marshal(crs.URI)
	}
	return json.Marshal(struct {
		Description string `json:"description,omitempty"`
		URI         string `json:"uri"`
	}{
		Description: crs.Description,
		URI:         crs.URI,
	})
}

// unmarshalCRS accepts a bare uri or an object with a uri and an optional description.
// CRSs given as WKT or ISO 19115 reference system are not supported.
func unmarshalCRS(rawCrs interface{}) (CRS, error) {
	if uri, ok := rawCrs.(string); ok {
		return validateCRS(NewCRS(uri))
	}
	rawCrsMap, ok := rawCrs.(map[string]interface{})
	if !ok {
		return CRS{}, fmt.Errorf(`wrong type key "crs": %T`, rawCrs)
	}
	rawURI, ok := rawCrsMap["uri"]
	if !ok {
		return CRS{}, fmt.Errorf(`uri property not found`)
	}
	uri, ok := rawURI.(string)
	if !ok {
		return CRS{}, fmt.Errorf(`uri property is not a string but a %T`, rawURI)
	}
	crs, err := NewCRS(uri)
	if err != nil {
		return crs, err
	}
	crs.asString = false
	if rawDescription, ok := rawCrsMap["description"]; ok {
		crs.Description, ok = rawDescription.(string)
		if !ok {
			return crs, fmt.Errorf(`description property is not a string but a %T`, rawDescription)
		}
	}
	return validateCRS(crs, nil)
}

func validateCRS(crs CRS, err error) (CRS, error) {
	if err != nil {
		return crs, err
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	return crs, validate.Struct(crs)
}

// TwoDBoundingBox is the minimum bounding rectangle surrounding a 2D resource.
// Without a CRS of its own, it is in the CRS of the tile matrix set.
type TwoDBoundingBox struct {
	LowerLeft   TwoDPoint `validate:"required" json:"lowerLeft"`
	UpperRight  TwoDPoint `validate:"required" json:"upperRight"`
	CRS         *CRS      `json:"-"`
	OrderedAxes []string  `validate:"omitempty,len=2" json:"orderedAxes,omitempty"`
}

func (bb *TwoDBoundingBox) MarshalJSON() ([]byte, error) {
	type plain TwoDBoundingBox
	return json.Marshal(struct {
		*plain
		CRS *CRS `json:"crs,omitempty"`
	}{
		plain: (*plain)(bb),
		CRS:   bb.CRS,
	})
}

func (bb *TwoDBoundingBox) UnmarshalJSON(data []byte) error {
	return unmarshalJSONUsingFromMap(bb, data)
}

func (bb *TwoDBoundingBox) UnmarshalJSONFromMap(data interface{}) error {
	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`data is not a map but a %T`, data)
	}
	specials, err := marshmallow.UnmarshalFromJSONMap(dataMap, bb, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	if rawCrs, ok := specials["crs"]; ok {
		crs, err := unmarshalCRS(rawCrs)
		if err != nil {
			return err
		}
		bb.CRS = &crs
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(bb)
}

// TwoDPoint is a 2D point in the CRS indicated elsewhere
type TwoDPoint [2]float64

// TileMatrix is a single zoom level of a TileMatrixSet.
type TileMatrix struct {
	// Identifier selecting one of the scales defined in the TileMatrixSet
	ID          string   `validate:"required" json:"id"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	// Scale denominator of this tile matrix
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	// Cell size of this tile matrix
	CellSize float64 `validate:"required,gt=0" json:"cellSize"`
	// The corner used as the origin for numbering tile rows and columns.
	// This corner is also a corner of the (0, 0) tile.
	CornerOfOrigin CornerOfOrigin `default:"topLeft" validate:"oneof=topLeft bottomLeft" json:"cornerOfOrigin"`
	// Position in CRS coordinates of the corner of origin
	PointOfOrigin TwoDPoint `validate:"required" json:"pointOfOrigin"`
	// Size of each tile in pixels
	TileWidth  uint `validate:"required,min=1" json:"tileWidth"`
	TileHeight uint `validate:"required,min=1" json:"tileHeight"`
	// Size of the matrix in tiles
	MatrixWidth  uint `validate:"required,min=1" json:"matrixWidth"`
	MatrixHeight uint `validate:"required,min=1" json:"matrixHeight"`
}

func (tm *TileMatrix) UnmarshalJSON(data []byte) error {
	return unmarshalJSONUsingFromMap(tm, data)
}

func (tm *TileMatrix) UnmarshalJSONFromMap(data interface{}) error {
	err := defaults.Set(tm)
	if err != nil {
		return err
	}

	dataMap, ok := data.(map[string]interface{})
	if !ok {
		return fmt.Errorf(`data is not a map but a %T`, data)
	}
	specials, err := marshmallow.UnmarshalFromJSONMap(dataMap, tm, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}
	if _, ok := specials["variableMatrixWidths"]; ok {
		return fmt.Errorf("tile matrix %s: variable matrix widths are not supported", tm.ID)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(tm)
}

// FlipRow converts a row index between the topLeft and bottomLeft conventions.
func (tm TileMatrix) FlipRow(row uint) uint {
	return tm.MatrixHeight - row - 1
}

type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

func (c *CornerOfOrigin) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return c.UnmarshalJSONFromMap(s)
}

func (c *CornerOfOrigin) UnmarshalJSONFromMap(data interface{}) error {
	dataString, ok := data.(string)
	if !ok {
		return fmt.Errorf(`CornerOfOrigin data is not a string but a %T`, data)
	}
	switch CornerOfOrigin(dataString) {
	case "", TopLeft:
		*c = TopLeft
	case BottomLeft:
		*c = BottomLeft
	default:
		return fmt.Errorf(`unknown CornerOfOrigin: %v`, data)
	}
	return nil
}

func unmarshalJSONUsingFromMap(target marshmallow.UnmarshalerFromJSONMap, data []byte) error {
	var dataMap map[string]interface{}
	err := json.Unmarshal(data, &dataMap)
	if err != nil {
		return err
	}
	return target.UnmarshalJSONFromMap(dataMap)
}
