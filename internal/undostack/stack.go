package undostack

import (
	"errors"
	"image"

	"editengine/internal/qfilter"
	"editengine/internal/tilemap"
)

// ErrSizeRejected is returned by Add when the filter's computed full
// image size is empty, meaning the command cannot be placed (a load
// failure or a size-bound violation, depending on which filter rejected).
var ErrSizeRejected = errors.New("undostack: filter produced an empty full image size")

// ErrNoPendingSave is returned by ConcludeSave when PrepareSave was never
// called, or its save already concluded.
var ErrNoPendingSave = errors.New("undostack: no save in progress")

// Stack is one file's edit history. index 0 always holds the load
// command and is itself a valid undo target: undoing back to index 0
// is what makes the original, unedited image reachable again.
type Stack struct {
	commands []*FilterCommand
	index    int

	savedIndex  int
	revertIndex int

	recording     bool
	sessionID     int
	nextSessionID int

	tileSize image.Point // empty disables tiling for this file

	pendingSave *SaveContext
}

// New creates an empty Stack. Call Load to establish the index-0 load
// command before any other operation.
func New(tileSize image.Point) *Stack {
	return &Stack{tileSize: tileSize, nextSessionID: 1}
}

// Load idempotently ensures index 0 exists as a load command. Calling it
// again after index 0 already exists is a no-op: concludeSave is what
// rewrites index 0 once a file has been saved.
func (s *Stack) Load(filter qfilter.Filter, fullSize image.Point) error {
	if len(s.commands) > 0 {
		return nil
	}
	if fullSize == (image.Point{}) {
		return ErrSizeRejected
	}
	var tm *tilemap.TileMap
	if s.tileSize != (image.Point{}) {
		tm = tilemap.New(fullSize, s.tileSize)
	}
	cmd := newCommand(0, 0, filter, fullSize, tm)
	s.commands = []*FilterCommand{cmd}
	s.index = 0
	s.savedIndex = 0
	return nil
}

// Add truncates any redo tail, appends filter as a new command on top of
// the current one, and advances to it. It rejects the command (leaving
// the stack unchanged) if the filter's new full image size comes back
// empty.
func (s *Stack) Add(filter qfilter.Filter) (*FilterCommand, error) {
	if len(s.commands) == 0 {
		return nil, errors.New("undostack: Add called before Load")
	}
	cur := s.commands[s.index]
	newSize := filter.NewFullImageSize(cur.FullImageSize)
	if newSize == (image.Point{}) {
		return nil, ErrSizeRejected
	}

	sessionID := 0
	if s.recording {
		sessionID = s.sessionID
	}

	var tm *tilemap.TileMap
	if cur.TileMap != nil {
		tm = tilemap.Derive(cur.TileMap, filter, newSize)
	}

	// Add never truncates below the current index, so a save in progress
	// (which always operates at or below s.index) is never disturbed by
	// discarding a redo tail.
	s.commands = append(s.commands[:s.index+1], newCommand(s.index+1, sessionID, filter, newSize, tm))
	s.index++
	s.revertIndex = 0
	return s.commands[s.index], nil
}

// Current returns the command at the stack's current position.
func (s *Stack) Current() *FilterCommand {
	if len(s.commands) == 0 {
		return nil
	}
	return s.commands[s.index]
}

// Index returns the current position.
func (s *Stack) Index() int { return s.index }

// SavedIndex returns the position last written to disk.
func (s *Stack) SavedIndex() int { return s.savedIndex }

// Len returns the number of commands in the stack.
func (s *Stack) Len() int { return len(s.commands) }

// CommandAt returns the command at position i, or nil if out of range.
func (s *Stack) CommandAt(i int) *FilterCommand {
	if i < 0 || i >= len(s.commands) {
		return nil
	}
	return s.commands[i]
}

// CanUndo reports whether Undo would move the stack. Index 0 (the load
// command) is a valid undo target; CanUndo is false once the stack is
// already there, and, while a session is being recorded, when the
// current command is not part of that session.
func (s *Stack) CanUndo() bool {
	if s.index <= 0 {
		return false
	}
	if s.recording && s.commands[s.index].SessionID != s.sessionID {
		return false
	}
	return true
}

// CanRedo reports whether Redo would move the stack.
func (s *Stack) CanRedo() bool {
	if s.index >= len(s.commands)-1 {
		return false
	}
	if s.recording && s.commands[s.index+1].SessionID != s.sessionID {
		return false
	}
	return true
}

// Undo moves the stack backward. While a session is being recorded, it
// moves exactly one command; otherwise it consumes the whole contiguous
// run of commands sharing the current command's session id (a run of one
// if that command has no session). The run may land on index 0: the load
// command is a legitimate undo target, and n pushes followed by n undos
// must restore the original loaded image.
func (s *Stack) Undo() bool {
	if !s.CanUndo() {
		return false
	}
	target := s.index
	for {
		if target <= 0 {
			break
		}
		sid := s.commands[target].SessionID
		if sid == 0 || s.recording {
			target--
			break
		}
		if s.commands[target-1].SessionID != sid {
			target--
			break
		}
		target--
	}
	s.index = target
	return true
}

// Redo moves the stack forward, mirroring Undo's session-grouping rule.
// Index 0 never needs a special case here: redo only ever moves away from
// it, never lands back on it.
func (s *Stack) Redo() bool {
	if !s.CanRedo() {
		return false
	}
	target := s.index
	for {
		if target >= len(s.commands)-1 {
			break
		}
		next := s.commands[target+1]
		if next.SessionID == 0 || s.recording {
			target++
			break
		}
		if target+2 <= len(s.commands)-1 && s.commands[target+2].SessionID == next.SessionID {
			target++
			continue
		}
		target++
		break
	}
	s.index = target
	s.revertIndex = 0
	return true
}

// StartSession opens a recording session: subsequent Add calls are
// tagged with the returned session id, and Undo/Redo move one command at
// a time until EndSession.
func (s *Stack) StartSession() int {
	s.sessionID = s.nextSessionID
	s.nextSessionID++
	s.recording = true
	return s.sessionID
}

// EndSession closes the current recording session.
func (s *Stack) EndSession() {
	s.recording = false
}

// Recording reports whether a session is currently open.
func (s *Stack) Recording() bool { return s.recording }

// Revert sets a checkpoint at the current index and undoes until no
// further undo is possible.
func (s *Stack) Revert() {
	s.revertIndex = s.index
	for s.CanUndo() {
		s.Undo()
	}
}

// Restore redoes back to the checkpoint set by Revert and clears it.
// Calling Restore without a preceding Revert is a no-op.
func (s *Stack) Restore() {
	if s.revertIndex == 0 {
		return
	}
	target := s.revertIndex
	for s.index != target && s.CanRedo() {
		s.Redo()
	}
	s.revertIndex = 0
}

// PrepareSave closes any open session and builds a save command held
// outside the stack, with a SaveMap when the current command carries a
// TileMap and bufferSizePixels is positive.
func (s *Stack) PrepareSave(saveFilter qfilter.Filter, bufferSizePixels int) *SaveContext {
	if s.recording {
		s.EndSession()
	}
	cur := s.Current()
	saveCmd := newCommand(-1, 0, saveFilter, cur.FullImageSize, nil)

	var sm *tilemap.SaveMap
	if cur.TileMap != nil && bufferSizePixels > 0 {
		sm = tilemap.NewSaveMap(cur.FullImageSize, bufferSizePixels, cur.TileMap)
	}

	ctx := &SaveContext{Command: saveCmd, SaveMap: sm}
	s.pendingSave = ctx
	return ctx
}

// PendingSave returns the in-flight save context, or nil if none.
func (s *Stack) PendingSave() *SaveContext { return s.pendingSave }

// CancelSave discards a save in progress without touching the working
// file or rewriting command 0, per spec.md section 7's "errors during a
// save abort the save... the pending save command is discarded" rule.
func (s *Stack) CancelSave() {
	s.pendingSave = nil
}

// ConcludeSave marks the current index as saved and rewrites command 0 to
// load from the now-canonical file, so a later reopen starts from there.
func (s *Stack) ConcludeSave(newLoadFilter qfilter.Filter) error {
	if s.pendingSave == nil {
		return ErrNoPendingSave
	}
	s.savedIndex = s.index
	s.commands[0].Filter = newLoadFilter
	s.pendingSave = nil
	return nil
}

// Dirty reports whether the current position has not been saved.
func (s *Stack) Dirty() bool { return s.index != s.savedIndex }
