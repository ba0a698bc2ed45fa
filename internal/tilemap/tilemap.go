// Package tilemap implements the fixed tile grid over a full-image size
// (TileMap) and the save-buffer plan derived from it (SaveMap), driving the
// tile-by-tile filter and tile-by-tile encode pipeline for images too large
// to hold whole.
package tilemap

import (
	"image"
	"sync/atomic"
)

var nextGeneration int64
var nextMapKey int64

// NextGeneration returns a fresh, process-wide monotonic generation id.
// Every TileMap instance gets one, whether or not its grid key changes.
func NextGeneration() int64 {
	return atomic.AddInt64(&nextGeneration, 1)
}

func newMapKey() int64 {
	return atomic.AddInt64(&nextMapKey, 1)
}

// SpatialFilter is the subset of qfilter.Filter the tilemap package needs,
// kept narrow to avoid an import cycle with internal/qfilter.
type SpatialFilter interface {
	IsSpatiallyLocal() bool
}

// TileMap is the grid that partitions one full image into tiles for a
// given stack state. Tile identity (MapKey-derived) stays stable across
// commands whose filter is spatially local and whose full size is
// unchanged, so the scheduler can address "the same tile" across history;
// Generation is unique per TileMap instance and is what TileCache uses to
// detect a stale tile.
type TileMap struct {
	FullSize   image.Point
	TileSize   image.Point
	Cols, Rows int
	MapKey     int64
	Generation int64
	// Local reports whether this map was derived incrementally from a
	// spatially-local filter (true) or had to be rebuilt from scratch
	// because the filter was not spatially local, or this is the first
	// map for a load command (false).
	Local bool
}

// New creates the initial TileMap for a load command.
func New(fullSize, tileSize image.Point) *TileMap {
	tm := &TileMap{
		FullSize:   fullSize,
		TileSize:   tileSize,
		MapKey:     newMapKey(),
		Generation: NextGeneration(),
	}
	tm.computeGrid()
	return tm
}

// Derive builds the TileMap for the command that applies filter on top of
// prev, producing an image of newFullSize. When filter is spatially local
// and the geometry is unchanged, the grid key is carried over so tile
// identities line up cell-for-cell with prev; otherwise a fresh grid key is
// minted and the whole map is considered invalidated.
func Derive(prev *TileMap, filter SpatialFilter, newFullSize image.Point) *TileMap {
	tm := &TileMap{
		FullSize:   newFullSize,
		TileSize:   prev.TileSize,
		Generation: NextGeneration(),
	}
	if filter.IsSpatiallyLocal() && newFullSize == prev.FullSize {
		tm.MapKey = prev.MapKey
		tm.Local = true
	} else {
		tm.MapKey = newMapKey()
		tm.Local = false
	}
	tm.computeGrid()
	return tm
}

func (tm *TileMap) computeGrid() {
	if tm.TileSize.X <= 0 || tm.TileSize.Y <= 0 || tm.FullSize == (image.Point{}) {
		tm.Cols, tm.Rows = 0, 0
		return
	}
	tm.Cols = ceilDiv(tm.FullSize.X, tm.TileSize.X)
	tm.Rows = ceilDiv(tm.FullSize.Y, tm.TileSize.Y)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// TileID returns the stable tile identifier for grid cell (col, row).
func (tm *TileMap) TileID(col, row int) int64 {
	return tm.MapKey*1_000_000 + int64(row*tm.Cols+col)
}

// TileRect returns the pixel rectangle covered by grid cell (col, row),
// clipped to FullSize.
func (tm *TileMap) TileRect(col, row int) image.Rectangle {
	x0 := col * tm.TileSize.X
	y0 := row * tm.TileSize.Y
	x1 := min(x0+tm.TileSize.X, tm.FullSize.X)
	y1 := min(y0+tm.TileSize.Y, tm.FullSize.Y)
	return image.Rect(x0, y0, x1, y1)
}

// Cell identifies one grid position.
type Cell struct {
	Col, Row int
}

// Cells returns every grid cell in row-major order.
func (tm *TileMap) Cells() []Cell {
	cells := make([]Cell, 0, tm.Cols*tm.Rows)
	for r := 0; r < tm.Rows; r++ {
		for c := 0; c < tm.Cols; c++ {
			cells = append(cells, Cell{Col: c, Row: r})
		}
	}
	return cells
}

// CellAt returns the grid cell covering pixel pt.
func (tm *TileMap) CellAt(pt image.Point) Cell {
	if tm.TileSize.X <= 0 || tm.TileSize.Y <= 0 {
		return Cell{}
	}
	return Cell{Col: pt.X / tm.TileSize.X, Row: pt.Y / tm.TileSize.Y}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
