// Package imagecache implements the per-level, per-file bounded image
// cache: a command-index → rendered-image map with a protected subset that
// is exempt from eviction, backed by hashicorp/golang-lru/v2 for the
// unprotected working set.
package imagecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"editengine/internal/qimage"
)

// Cache is a bounded map from stack index to rendered Image for a single
// (file, level) pair. Entries in the protected set are never evicted;
// everything else is evicted least-recently-used to respect maxSize.
type Cache struct {
	mu        sync.Mutex
	maxSize   int
	protected map[int]qimage.Image
	lru       *lru.Cache[int, qimage.Image]
}

// New creates a Cache bounded to maxSize total entries. maxSize must be at
// least 1; callers that pass 0 get a cache of size 1 so the protected set
// always has somewhere to live.
func New(maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		maxSize:   maxSize,
		protected: make(map[int]qimage.Image),
	}
	c.lru, _ = lru.New[int, qimage.Image](maxSize)
	return c
}

// Insert stores image at index. If index is currently protected, the image
// replaces the protected entry directly and never competes for LRU space.
func (c *Cache) Insert(index int, img qimage.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.protected[index]; ok {
		c.protected[index] = img
		return
	}
	c.lru.Add(index, img)
}

// Get returns the image at index, if present. A hit in the unprotected LRU
// counts as an access for recency purposes; a hit in the protected set does
// not affect eviction order since protected entries are never evicted.
func (c *Cache) Get(index int) (qimage.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if img, ok := c.protected[index]; ok {
		return img, true
	}
	return c.lru.Get(index)
}

// Protect atomically replaces the protected set with the indices of
// indexSet that currently hold an image. Entries leaving protection fall
// back into the LRU working set; entries entering protection are pulled
// out of the LRU so they can never be evicted. An index in indexSet with
// no cached image is not recorded, so an image inserted under it later
// goes into the LRU unprotected until Protect is called again.
func (c *Cache) Protect(indexSet map[int]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newProtected := make(map[int]qimage.Image, len(indexSet))

	for idx := range indexSet {
		if img, ok := c.protected[idx]; ok {
			newProtected[idx] = img
			continue
		}
		if img, ok := c.lru.Peek(idx); ok {
			newProtected[idx] = img
			c.lru.Remove(idx)
		}
	}

	// Anything still in the old protected set but not in indexSet rejoins
	// the unprotected working set.
	for idx, img := range c.protected {
		if _, stillProtected := newProtected[idx]; !stillProtected {
			c.lru.Add(idx, img)
		}
	}

	c.protected = newProtected
	c.resizeLocked()
}

// SetMaxSize changes the total entry bound; the unprotected working set
// gets whatever the protected set leaves of it. The
// protected set is never bounded by maxSize: protecting more entries than
// maxSize is allowed (the protection guarantee from spec property 4 holds
// unconditionally), it simply shrinks the LRU's share to zero.
func (c *Cache) SetMaxSize(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = n
	c.resizeLocked()
}

func (c *Cache) resizeLocked() {
	budget := c.maxSize - len(c.protected)
	if budget < 0 {
		budget = 0
	}
	if budget == 0 {
		// lru.Cache requires size >= 1; resize to 1 and immediately purge so
		// no unprotected entry lingers beyond the protected set's footprint.
		c.lru.Resize(1)
		c.lru.Purge()
		return
	}
	c.lru.Resize(budget)
}

// Protected reports whether index is currently in the protected set.
func (c *Cache) Protected(index int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.protected[index]
	return ok
}

// Len returns the total number of entries currently cached (protected plus
// unprotected).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.protected) + c.lru.Len()
}
