package tilemap

import (
	"image"

	"github.com/valyala/bytebufferpool"
)

// BufferState tracks one save buffer's progress through the encode
// pipeline.
type BufferState int

const (
	// BufferNeedsInput is waiting on one or more source tiles to be
	// rendered before it can be encoded.
	BufferNeedsInput BufferState = iota
	// BufferReady has every required tile available and can be encoded.
	BufferReady
	// BufferFlushed has been encoded and written out; its pooled backing
	// buffer has been returned to the pool.
	BufferFlushed
)

// Buffer is one unit of the tiled save pipeline: a contiguous run of rows
// of the output image, plus the set of source tiles whose rendering it
// depends on.
type Buffer struct {
	Index         int
	Rows          image.Rectangle // row band of the full image this buffer covers
	RequiredTiles []int64
	State         BufferState

	pending map[int64]struct{}
	data    *bytebufferpool.ByteBuffer
}

// Pending reports how many required tiles are still missing.
func (b *Buffer) Pending() int {
	return len(b.pending)
}

// MarkTileReady records that tileID has been rendered, advancing the
// buffer to BufferReady once nothing is left pending.
func (b *Buffer) MarkTileReady(tileID int64) {
	delete(b.pending, tileID)
	if len(b.pending) == 0 && b.State == BufferNeedsInput {
		b.State = BufferReady
	}
}

// Data lazily checks out a pooled byte buffer for this save buffer's
// raw pixel bytes.
func (b *Buffer) Data() *bytebufferpool.ByteBuffer {
	if b.data == nil {
		b.data = bytebufferpool.Get()
	}
	return b.data
}

// Flush releases the buffer's pooled backing storage and marks it
// flushed. Safe to call at most once per buffer.
func (b *Buffer) Flush() {
	if b.data != nil {
		bytebufferpool.Put(b.data)
		b.data = nil
	}
	b.State = BufferFlushed
}

// SaveMap is the plan for one save operation: the full image split into a
// sequence of Buffers, each sized to roughly bufferSizePixels pixels, each
// naming the TileMap tiles that must be rendered before it can be
// encoded. Buffers are consumed strictly in index order so the pipeline
// never needs more than Config.SaveBufferSize worth of pixels resident at
// once, matching the bounded-memory save guarantee.
type SaveMap struct {
	FullSize image.Point
	Buffers  []*Buffer
}

// NewSaveMap partitions fullSize into buffers of exactly bufferSizePixels
// flattened (row-major) pixels each, the last one short if the area does
// not divide evenly, then works out which tiles of tm each buffer needs.
// The buffer count is always ceil(W*H / bufferSizePixels), independent of
// how tiles happen to align with row boundaries.
func NewSaveMap(fullSize image.Point, bufferSizePixels int, tm *TileMap) *SaveMap {
	if bufferSizePixels < 1 {
		bufferSizePixels = 1
	}
	total := fullSize.X * fullSize.Y
	width := fullSize.X
	if width < 1 {
		width = 1
	}

	numBuffers := ceilDiv(total, bufferSizePixels)
	sm := &SaveMap{FullSize: fullSize, Buffers: make([]*Buffer, 0, numBuffers)}

	for i := 0; i < numBuffers; i++ {
		startPixel := i * bufferSizePixels
		endPixel := min(startPixel+bufferSizePixels, total)

		rowStart := startPixel / width
		// end row is exclusive; the last pixel covered is endPixel-1.
		rowEnd := (endPixel - 1) / width
		if rowEnd < rowStart {
			rowEnd = rowStart
		}
		rows := image.Rect(0, rowStart, fullSize.X, rowEnd+1)

		buf := &Buffer{Index: i, Rows: rows, pending: make(map[int64]struct{})}
		if tm != nil {
			for _, cell := range tm.Cells() {
				if tileRowsIntersect(tm.TileRect(cell.Col, cell.Row), rows) {
					id := tm.TileID(cell.Col, cell.Row)
					buf.RequiredTiles = append(buf.RequiredTiles, id)
					buf.pending[id] = struct{}{}
				}
			}
		}
		if len(buf.pending) == 0 {
			buf.State = BufferReady
		}
		sm.Buffers = append(sm.Buffers, buf)
	}
	return sm
}

func tileRowsIntersect(tileRect, rowBand image.Rectangle) bool {
	return tileRect.Min.Y < rowBand.Max.Y && tileRect.Max.Y > rowBand.Min.Y
}

// NextReady returns the lowest-index buffer that is ready to encode and
// has not yet been flushed, or nil if none is ready. It only ever looks
// at the lowest-index unflushed buffer: if that one is not ready, it
// returns nil even when a later buffer is, so buffers are flushed in
// index order.
func (sm *SaveMap) NextReady() *Buffer {
	for _, b := range sm.Buffers {
		if b.State == BufferFlushed {
			continue
		}
		if b.State == BufferReady {
			return b
		}
		return nil // the lowest unflushed buffer isn't ready yet; stop.
	}
	return nil
}

// Done reports whether every buffer has been flushed.
func (sm *SaveMap) Done() bool {
	for _, b := range sm.Buffers {
		if b.State != BufferFlushed {
			return false
		}
	}
	return true
}

// MarkTileReady notifies every buffer that depends on tileID.
func (sm *SaveMap) MarkTileReady(tileID int64) {
	for _, b := range sm.Buffers {
		b.MarkTileReady(tileID)
	}
}
