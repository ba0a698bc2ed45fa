// Package editengine implements an asynchronous, non-destructive image
// editing engine.
//
// A File wraps a path on disk with a reversible filter stack: RunFilter
// appends an edit, Undo/Redo move through the stack, and Save writes the
// accumulated effect back to disk without ever touching the original
// until that point. Rendering at any preview resolution, decoding stored
// thumbnails, and writing the final save output all happen off the
// caller's goroutine: Engine owns a single background worker and a
// scheduler that picks, one task at a time, whatever is most useful to
// do next across every open file. Callers drive the engine by calling
// SuggestNewTask (or the debounced RequestRefresh) after any state
// change and draining DispatchResult for each completed worker.Result.
//
// See cmd/editctl for a minimal driver.
package editengine
