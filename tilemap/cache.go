package tilemap

import (
	"bytes"
	"image"
	_ "image/jpeg" // jpeg tiles
	_ "image/png"  // png tiles

	lru "github.com/hashicorp/golang-lru/v2"
	_ "golang.org/x/image/webp" // webp tiles
)

// DefaultCacheSize is the number of decoded tiles kept by the shared cache
const DefaultCacheSize = 1024

// TileKey identifies a decoded tile across all maps of the process.
type TileKey struct {
	Source string
	Zoom   int
	X      int
	Y      int
}

// Cache holds decoded tiles. Eviction is up to the implementation, a Map
// only looks up and adds tiles. *lru.Cache[TileKey, image.Image] is a Cache.
type Cache interface {
	Get(key TileKey) (image.Image, bool)
	Add(key TileKey, img image.Image) bool
}

// NewCache returns an LRU cache holding at most size decoded tiles.
func NewCache(size int) (*lru.Cache[TileKey, image.Image], error) {
	return lru.New[TileKey, image.Image](size)
}

func mustNewCache(size int) *lru.Cache[TileKey, image.Image] {
	cache, err := NewCache(size)
	if err != nil {
		panic(err)
	}
	return cache
}

// sharedCache is used by every Map that is not given a cache of its own
var sharedCache Cache = mustNewCache(DefaultCacheSize)

// Decoder turns a tile blob into an image.
type Decoder func(data []byte) (image.Image, error)

// DecodeImage decodes PNG, JPEG and WebP tiles.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
