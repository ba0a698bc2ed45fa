// Package tilecache implements the process-wide tile cache: a bounded
// tileId → (Image, tileMapId) map shared by every open file's TileMap.
package tilecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"editengine/internal/qimage"
)

type entry struct {
	image     qimage.Image
	tileMapID int64
}

// Cache is bounded by tile count, not by byte size.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[int64, entry]
}

// New creates a Cache holding at most maxTiles tiles.
func New(maxTiles int) *Cache {
	if maxTiles < 1 {
		maxTiles = 1
	}
	c := &Cache{}
	c.lru, _ = lru.New[int64, entry](maxTiles)
	return c
}

// Put stores image under tileId, tagged with tileMapID so a later Get from
// a stale map generation can detect the mismatch.
func (c *Cache) Put(tileID, tileMapID int64, img qimage.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(tileID, entry{image: img, tileMapID: tileMapID})
}

// Get returns the image stored under tileID if its stored tileMapID matches.
// A mismatch returns absent but leaves the entry in place: it may still be
// valid for whichever TileMap generation it actually belongs to, and a
// lookup under the right generation elsewhere would still find it.
func (c *Cache) Get(tileID, tileMapID int64) (qimage.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(tileID)
	if !ok || e.tileMapID != tileMapID {
		return qimage.Image{}, false
	}
	return e.image, true
}

// Resize changes the tile-count bound.
func (c *Cache) Resize(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Resize(n)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len reports the number of tiles currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
