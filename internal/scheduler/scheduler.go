// Package scheduler picks the single next background task across every
// open file, in the strict priority order spec'd for the engine: an
// active save's next step first, then the priority-viewing file's
// missing levels (preferring a stored thumbnail decode over a real
// render), then thumbnail-save housekeeping, then precomputation for
// everything else. It holds no goroutines or channels of its own; it is
// a pure function over a read-only view, called synchronously the way
// `Core::suggestNewTask` calls `m_scheduler->newTask()`.
package scheduler

import "github.com/samber/lo"

// Kind identifies what sort of work a Task represents.
type Kind int

const (
	KindSaveStep Kind = iota
	KindThumbnailLoad
	KindRenderLevel
	KindThumbnailSave
)

func (k Kind) String() string {
	switch k {
	case KindSaveStep:
		return "save-step"
	case KindThumbnailLoad:
		return "thumbnail-load"
	case KindRenderLevel:
		return "render-level"
	case KindThumbnailSave:
		return "thumbnail-save"
	default:
		return "unknown"
	}
}

// Task is the unit of work the scheduler hands to the engine's worker.
// Level is meaningless for KindSaveStep, where the save context itself
// (held by the file) carries what needs doing next.
type Task struct {
	Kind   Kind
	FileID string
	Level  int
}

// FileView is the read-only slice of a File's state the scheduler needs
// to make its decision. The real File type implements it; the interface
// lives here to keep the scheduler free of any dependency on the rest of
// the engine.
type FileView interface {
	ID() string
	// CanView reports whether the file is in a state that can produce
	// viewable images at all (not Placeholder, Unsupported, or Removed).
	CanView() bool
	DisplayLevel() int
	LevelCount() int
	LevelIsCropped(level int) bool
	// NeedsRenderAt reports whether the image for level at the file's
	// current stack index is missing from its cache.
	NeedsRenderAt(level int) bool
	HasStoredThumbnail(level int) bool
	// AtSavedIndex reports whether the file's stack index equals its
	// saved index (nothing dirty), a precondition for thumbnail-save.
	AtSavedIndex() bool
	ThumbnailSaved(level int) bool
	SaveInProgress() bool
	// NeedsThumbnailerRequest reports whether this file's format is not
	// natively decodable and it has no cached preview yet.
	NeedsThumbnailerRequest() bool
}

// World is the set of open files, in stable insertion order (used to
// break ties).
type World interface {
	Files() []FileView
}

// Next returns the single highest-priority task across the whole world,
// or ok=false if there is nothing to do.
func Next(w World) (Task, bool) {
	files := w.Files()

	for _, f := range files {
		if !f.SaveInProgress() {
			continue
		}
		// A save reads the full-level image at the current stack index;
		// subscribe the full level while a save is pending (neededLevels
		// does this) and render it first if it's still missing, rather
		// than handing out a save step the engine can't actually satisfy.
		if t, ok := nextForFile(f, false); ok {
			return t, true
		}
		return Task{Kind: KindSaveStep, FileID: f.ID()}, true
	}

	priority := pickPriorityFile(files)
	if priority != nil {
		if t, ok := nextForFile(priority, true); ok {
			return t, true
		}
	}

	for _, f := range files {
		if priority != nil && f.ID() == priority.ID() {
			continue
		}
		if t, ok := nextForFile(f, false); ok {
			return t, true
		}
	}

	return Task{}, false
}

// NextThumbnailerRequest returns the first file (in insertion order) that
// needs an out-of-process thumbnailer request. It runs independently of
// Next: the external thumbnailer executes in its own process in parallel
// with whatever the in-process worker is doing.
func NextThumbnailerRequest(w World) (string, bool) {
	for _, f := range w.Files() {
		if f.NeedsThumbnailerRequest() {
			return f.ID(), true
		}
	}
	return "", false
}

func pickPriorityFile(files []FileView) FileView {
	var best FileView
	for _, f := range files {
		if !f.CanView() {
			continue
		}
		if best == nil || f.DisplayLevel() > best.DisplayLevel() {
			best = f
		}
	}
	return best
}

// neededLevels returns the ordered (coarsest first) set of levels a file
// subscribes to at its current display level: the display level itself,
// plus every coarser uncropped level (a cropped level never substitutes
// for another, so it isn't pulled in unless it is the target itself).
//
// A pending save always pulls in the full level too, whether or not it's
// being displayed: the save step reads the full-level image directly and
// must not run before that render exists.
func neededLevels(f FileView) []int {
	top := f.DisplayLevel()
	if full := f.LevelCount() - 1; f.SaveInProgress() && full > top {
		top = full
	}
	return lo.Filter(lo.Range(top+1), func(lvl int, _ int) bool {
		return lvl == top || !f.LevelIsCropped(lvl)
	})
}

func nextForFile(f FileView, preferThumbnailLoad bool) (Task, bool) {
	levels := neededLevels(f)

	for _, lvl := range levels {
		if !f.NeedsRenderAt(lvl) {
			continue
		}
		if preferThumbnailLoad && f.HasStoredThumbnail(lvl) {
			return Task{Kind: KindThumbnailLoad, FileID: f.ID(), Level: lvl}, true
		}
		return Task{Kind: KindRenderLevel, FileID: f.ID(), Level: lvl}, true
	}

	if f.AtSavedIndex() {
		for _, lvl := range levels {
			if !f.ThumbnailSaved(lvl) {
				return Task{Kind: KindThumbnailSave, FileID: f.ID(), Level: lvl}, true
			}
		}
	}

	return Task{}, false
}
