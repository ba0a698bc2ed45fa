package editengine

import (
	"image"

	"editengine/internal/displaylevel"
	"editengine/internal/qimage"
)

// Config holds every knob spec.md section 6 says must be set before the
// first File is opened. New copies it into the Engine, and the Engine
// has no setters for it: changing a Config value after New has no
// effect on that Engine.
type Config struct {
	Levels []displaylevel.Level

	ThumbnailExtension string
	ThumbnailBasePath  string

	EditHistoryPath string
	CrashDumpPath   string
	TemporaryFilePath string

	ImageSizeLimit           image.Point
	ImagePixelsLimit         int
	NonTiledImagePixelsLimit int

	DefaultTileSize image.Point // zero disables tiling
	TileCacheSize   int         // in tiles
	SaveBufferSize  int         // in pixels

	BackgroundRenderingColor   qimage.Color
	VectorGraphicsRenderingSize image.Point
}

// DefaultConfig returns the configuration spec.md section 6 lists as
// defaults: two preview levels, a 100-tile cache, and a 64 KiB * 16
// save buffer. Per spec.md section 4.6, the last configured level is
// always the full image (or tile) level and carries no size bound.
func DefaultConfig() Config {
	return Config{
		Levels: []displaylevel.Level{
			{Size: image.Point{X: 128, Y: 128}, MaxCacheEntries: 4},
			{MaxCacheEntries: 2}, // full level: unbounded Size
		},
		ThumbnailExtension: "png",
		TileCacheSize:      100,
		SaveBufferSize:     65536 * 16,
	}
}

// AddLevel appends a level defaulted to twice the size of the previous
// one, per spec.md section 4.6. It edits this Config value only, so it
// must be called before the Config is passed to New.
func (c *Config) AddLevel(minimumSize image.Point, flavor string) displaylevel.Level {
	var prevSize image.Point
	if n := len(c.Levels); n > 0 {
		prevSize = c.Levels[n-1].Size
	}
	lvl := displaylevel.Level{
		Size:                displaylevel.DefaultSizeFrom(prevSize),
		MinimumSize:         minimumSize,
		ThumbnailFlavorName: flavor,
	}
	c.Levels = append(c.Levels, lvl)
	return lvl
}

// FullLevel is the index of the unbounded full-image / tile level: the
// last configured level, which spec.md says carries no size bound.
func (c Config) FullLevel() int {
	return len(c.Levels) - 1
}
