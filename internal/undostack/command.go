// Package undostack implements the per-file edit history: an ordered
// sequence of FilterCommand plus the undo/redo/session/save-lifecycle
// operations that mutate the current position in it.
package undostack

import (
	"image"

	"github.com/google/uuid"

	"editengine/internal/qfilter"
	"editengine/internal/tilemap"
)

// FilterCommand is one entry in a file's edit history: a bound filter
// plus the metadata the stack assigns when it is placed.
type FilterCommand struct {
	UniqueID      string
	Index         int
	SessionID     int // 0 means "not part of a recorded session"
	Filter        qfilter.Filter
	FullImageSize image.Point
	TileMap       *tilemap.TileMap
}

func newCommand(index, sessionID int, filter qfilter.Filter, fullSize image.Point, tm *tilemap.TileMap) *FilterCommand {
	return &FilterCommand{
		UniqueID:      uuid.NewString(),
		Index:         index,
		SessionID:     sessionID,
		Filter:        filter,
		FullImageSize: fullSize,
		TileMap:       tm,
	}
}

// SaveContext is the in-flight state of one save: a command held outside
// the undo stack proper (so undo/redo never touches it) and, for a tiled
// save, the buffer plan derived from the current command's TileMap.
type SaveContext struct {
	Command *FilterCommand
	SaveMap *tilemap.SaveMap
}
