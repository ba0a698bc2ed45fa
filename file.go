package editengine

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"editengine/internal/imagecache"
	"editengine/internal/qfilter"
	"editengine/internal/qimage"
	"editengine/internal/scheduler"
	"editengine/internal/thumbnailer"
	"editengine/internal/undostack"
)

// State is one position in the File state machine from spec.md section
// 4.5.
type State int

const (
	StatePlaceholder State = iota
	StateWaitingForData
	StateNormalFormat
	StateExternallySupportedFormat
	StateUnsupported
	StateReadOnly
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StatePlaceholder:
		return "placeholder"
	case StateWaitingForData:
		return "waiting-for-data"
	case StateNormalFormat:
		return "normal-format"
	case StateExternallySupportedFormat:
		return "externally-supported-format"
	case StateUnsupported:
		return "unsupported"
	case StateReadOnly:
		return "read-only"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// File is one open image's edit session: its stack, its per-level
// caches, its display level, and its save lifecycle.
type File struct {
	id     string
	engine *Engine

	stack  *undostack.Stack
	caches []*imagecache.Cache

	displayLevel   int
	targetFormat   string
	state          State
	waitingForData bool

	originalBacked bool
	thumbSaved     map[int]bool

	errSink Sink

	pendingTempPath string
	saveComposite   *image.RGBA
}

func newFile(e *Engine, path, targetFormat string) *File {
	f := &File{
		id:           path,
		engine:       e,
		state:        StatePlaceholder,
		targetFormat: targetFormat,
		thumbSaved:   make(map[int]bool),
	}
	f.caches = make([]*imagecache.Cache, len(e.config.Levels))
	for i, lvl := range e.config.Levels {
		size := lvl.MaxCacheEntries
		if size < 1 {
			size = 4
		}
		f.caches[i] = imagecache.New(size)
	}
	f.probe()
	return f
}

// ID returns the file's canonical key: its working path.
func (f *File) ID() string { return f.id }

// State returns the file's current state-machine value.
func (f *File) State() State { return f.state }

func (f *File) reportError(kind Kind, op string, err error) {
	e := newError(kind, f.id, op, err)
	if f.errSink != nil {
		f.errSink(e)
	}
	f.engine.reportError(e)
}

// SetErrorSink installs the per-file error sink.
func (f *File) SetErrorSink(sink Sink) { f.errSink = sink }

func (f *File) probe() {
	info, err := os.Stat(f.id)
	if err != nil {
		f.state = StateUnsupported
		f.reportError(KindFileNonexistent, "probe", err)
		return
	}

	loadFilter := &qfilter.LoadFilter{
		Path:            f.id,
		Format:          filepath.Ext(f.id),
		BackgroundColor: f.engine.config.BackgroundRenderingColor,
	}
	fullSize := loadFilter.NewFullImageSize(image.Point{})
	if fullSize == (image.Point{}) {
		if thumbnailer.Supports(mimeFromExt(f.id)) && f.engine.thumbClient != nil {
			f.state = StateExternallySupportedFormat
			return
		}
		f.state = StateUnsupported
		f.reportError(KindFileFormatUnsupported, "probe", fmt.Errorf("%s: no decoder available", f.id))
		return
	}

	if err := f.stackLoad(loadFilter, fullSize); err != nil {
		f.state = StateUnsupported
		f.reportError(KindFileCorrupt, "probe", err)
		return
	}

	f.state = StateNormalFormat
	if !canWrite(f.id) || !canEncode(f.effectiveFormat()) {
		f.state = StateReadOnly
	}
	_ = info
}

func (f *File) stackLoad(filter qfilter.Filter, fullSize image.Point) error {
	f.stack = undostack.New(f.engine.config.DefaultTileSize)
	if err := f.stack.Load(filter, fullSize); err != nil {
		return err
	}
	f.protectCurrent()
	return nil
}

func (f *File) effectiveFormat() string {
	if f.targetFormat != "" {
		return f.targetFormat
	}
	return strings.TrimPrefix(filepath.Ext(f.id), ".")
}

// CanEdit reports whether a filter may currently be pushed onto the
// stack: not ReadOnly, Unsupported, or Removed, matching spec.md
// section 4.5's guarantee verbatim (plus Placeholder/WaitingForData/
// ExternallySupportedFormat, which have no decoded pixels to edit yet).
func (f *File) CanEdit() bool {
	return f.state == StateNormalFormat
}

// CanView reports whether the file can produce viewable images at all.
func (f *File) CanView() bool {
	switch f.state {
	case StateUnsupported, StateRemoved, StatePlaceholder:
		return false
	default:
		return f.stack != nil
	}
}

// DisplayLevel returns the highest level this file currently wants
// rendered.
func (f *File) DisplayLevel() int { return f.displayLevel }

// SetDisplayLevel raises or lowers the level the file is being viewed
// at. Levels are only meaningful once the stack has loaded.
func (f *File) SetDisplayLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > f.engine.config.FullLevel() {
		level = f.engine.config.FullLevel()
	}
	f.displayLevel = level
}

// LevelCount returns the number of configured display levels.
func (f *File) LevelCount() int { return len(f.caches) }

// LevelIsCropped reports whether level is a cropped level.
func (f *File) LevelIsCropped(level int) bool {
	if level < 0 || level >= len(f.engine.config.Levels) {
		return false
	}
	return f.engine.config.Levels[level].IsCropped()
}

// NeedsRenderAt reports whether the image for level at the current
// stack index is missing from cache.
func (f *File) NeedsRenderAt(level int) bool {
	if f.stack == nil || level < 0 || level >= len(f.caches) {
		return false
	}
	_, ok := f.caches[level].Get(f.stack.Index())
	return !ok
}

// Image returns the cached image for level at the current stack index,
// if present.
func (f *File) Image(level int) (qimage.Image, bool) {
	if f.stack == nil || level < 0 || level >= len(f.caches) {
		return qimage.Image{}, false
	}
	return f.caches[level].Get(f.stack.Index())
}

// SetImage stores img as the rendered result for level at the current
// stack index, used both by the worker's normal render path and for
// in-flight bootstrapping of network-sourced images.
func (f *File) SetImage(level int, img qimage.Image) {
	if f.stack == nil || level < 0 || level >= len(f.caches) {
		return
	}
	f.caches[level].Insert(f.stack.Index(), img)
	f.protectCurrent()
}

// thumbnailPath returns where a level's thumbnail lives on disk, per the
// FreeDesktop thumbnail spec layout: <base>/<flavor>/<md5(uri)>.<ext>.
func (f *File) thumbnailPath(level int) string {
	if level < 0 || level >= len(f.engine.config.Levels) {
		return ""
	}
	flavor := f.engine.config.Levels[level].ThumbnailFlavorName
	if flavor == "" || f.engine.config.ThumbnailBasePath == "" {
		return ""
	}
	ext := f.engine.config.ThumbnailExtension
	if ext == "" {
		ext = "png"
	}
	uri := "file://" + f.id
	return filepath.Join(f.engine.config.ThumbnailBasePath, flavor, md5Hex(uri)+"."+ext)
}

// HasStoredThumbnail reports whether a thumbnail file already exists on
// disk for level.
func (f *File) HasStoredThumbnail(level int) bool {
	p := f.thumbnailPath(level)
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

// ThumbnailSaved reports whether this process has already written the
// on-disk thumbnail for level at the current saved index.
func (f *File) ThumbnailSaved(level int) bool {
	return f.thumbSaved[level]
}

func (f *File) markThumbnailSaved(level int) { f.thumbSaved[level] = true }

// AtSavedIndex reports whether the stack's current index matches its
// saved index.
func (f *File) AtSavedIndex() bool {
	return f.stack != nil && f.stack.Index() == f.stack.SavedIndex()
}

// SaveInProgress reports whether a save command is pending on the
// stack.
func (f *File) SaveInProgress() bool {
	return f.stack != nil && f.stack.PendingSave() != nil
}

// NeedsThumbnailerRequest reports whether this file should go through
// the external thumbnailer: externally-supported format, no client-
// cached preview yet at any level.
func (f *File) NeedsThumbnailerRequest() bool {
	if f.state != StateExternallySupportedFormat || f.engine.thumbClient == nil {
		return false
	}
	if f.engine.thumbClient.IsRunning() {
		return false
	}
	for lvl := range f.caches {
		if !f.HasStoredThumbnail(lvl) {
			return true
		}
	}
	return false
}

// RunFilter pushes filter onto the stack. It returns an error without
// mutating anything if the file cannot currently be edited or the
// filter's computed size is rejected.
func (f *File) RunFilter(filter qfilter.Filter) (*undostack.FilterCommand, error) {
	if !f.CanEdit() {
		return nil, newError(KindFileFormatUnsupported, f.id, "run-filter", fmt.Errorf("file is %s", f.state))
	}
	cmd, err := f.stack.Add(filter)
	if err != nil {
		f.reportError(KindImageSize, "run-filter", err)
		return nil, err
	}
	f.protectCurrent()
	return cmd, nil
}

// Undo steps the stack backward and protects the new current index's
// images across every level.
func (f *File) Undo() bool {
	if f.stack == nil || !f.stack.Undo() {
		return false
	}
	f.protectCurrent()
	return true
}

// Redo steps the stack forward and protects the new current index's
// images across every level.
func (f *File) Redo() bool {
	if f.stack == nil || !f.stack.Redo() {
		return false
	}
	f.protectCurrent()
	return true
}

func (f *File) protectCurrent() {
	if f.stack == nil {
		return
	}
	idx := map[int]struct{}{f.stack.Index(): {}}
	for _, c := range f.caches {
		c.Protect(idx)
	}
}

// StartSession opens a recording session on the stack.
func (f *File) StartSession() int {
	if f.stack == nil {
		return 0
	}
	return f.stack.StartSession()
}

// EndSession closes the current recording session.
func (f *File) EndSession() {
	if f.stack != nil {
		f.stack.EndSession()
	}
}

// Revert undoes to the start of the file's history and remembers where
// to restore back to.
func (f *File) Revert() {
	if f.stack != nil {
		f.stack.Revert()
		f.protectCurrent()
	}
}

// Restore redoes back to the checkpoint set by Revert.
func (f *File) Restore() {
	if f.stack != nil {
		f.stack.Restore()
		f.protectCurrent()
	}
}

// SetWaitingForData transitions NormalFormat <-> WaitingForData, used
// while a network-sourced image is still arriving.
func (f *File) SetWaitingForData(waiting bool) {
	f.waitingForData = waiting
	if waiting && f.state == StateNormalFormat {
		f.state = StateWaitingForData
	} else if !waiting && f.state == StateWaitingForData {
		f.state = StateNormalFormat
	}
}

// Refresh re-probes the file on disk after an external modification,
// the WaitingForData -> NormalFormat transition from spec.md's state
// diagram.
func (f *File) Refresh() {
	if f.state != StateWaitingForData && f.state != StatePlaceholder {
		return
	}
	f.probe()
}

// Remove transitions the file to its terminal Removed state. The
// registry entry is dropped by Engine.
func (f *File) Remove() {
	f.state = StateRemoved
}

// RemoveThumbnails deletes any on-disk thumbnails for this file across
// every level.
func (f *File) RemoveThumbnails() error {
	for lvl := range f.caches {
		p := f.thumbnailPath(lvl)
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove thumbnail %s: %w", p, err)
		}
		delete(f.thumbSaved, lvl)
	}
	return nil
}

// Save enqueues a save if the stack is dirty. It is a no-op (and does
// no disk I/O at all) when the stack's saved index already matches the
// current index, satisfying testable property 3.
func (f *File) Save(targetPath string, rawExif []byte) error {
	if f.stack == nil || !f.CanEdit() {
		return newError(KindFileFormatUnsupported, f.id, "save", fmt.Errorf("file is %s", f.state))
	}
	if f.AtSavedIndex() {
		return nil
	}
	if targetPath == "" {
		targetPath = f.id
	}

	if !f.originalBacked {
		if err := backupOriginal(f.id); err != nil {
			f.reportError(KindDirCreate, "save", err)
			return err
		}
		f.originalBacked = true
	}

	tempDir := f.engine.config.TemporaryFilePath
	if tempDir == "" {
		tempDir = filepath.Dir(targetPath)
	}
	f.pendingTempPath = filepath.Join(tempDir, "."+filepath.Base(targetPath)+".tmp")

	saveFilter := &qfilter.SaveFilter{Path: targetPath, Format: f.effectiveFormat(), RawExifDump: rawExif}
	f.stack.PrepareSave(saveFilter, f.engine.config.SaveBufferSize)
	return nil
}

// SaveAs saves to a new path, leaving the original working path
// untouched on disk (the caller is expected to repoint ID/targetFormat
// afterward if the rename should stick).
func (f *File) SaveAs(targetPath, format string, rawExif []byte) error {
	f.targetFormat = format
	return f.Save(targetPath, rawExif)
}

// AbortSave discards a save's pending command and temp file without
// touching the working file, per spec.md section 7's save-error
// propagation rule.
func (f *File) AbortSave() {
	if f.pendingTempPath != "" {
		_ = os.Remove(f.pendingTempPath)
		f.pendingTempPath = ""
	}
	if f.stack != nil {
		f.stack.CancelSave()
	}
	f.saveComposite = nil
}

// ConcludeSave finalizes a successful save: the temp file has already
// been atomically renamed into place by the caller.
func (f *File) ConcludeSave() error {
	if f.stack == nil || f.stack.PendingSave() == nil {
		return undostack.ErrNoPendingSave
	}
	loadFilter := &qfilter.LoadFilter{
		Path:            f.id,
		Format:          f.effectiveFormat(),
		BackgroundColor: f.engine.config.BackgroundRenderingColor,
	}
	if err := f.stack.ConcludeSave(loadFilter); err != nil {
		return err
	}
	f.pendingTempPath = ""
	f.saveComposite = nil
	for lvl := range f.thumbSaved {
		delete(f.thumbSaved, lvl)
	}
	if f.engine.config.EditHistoryPath != "" {
		if err := f.engine.writeHistory(f); err != nil {
			f.reportError(KindCrashDump, "write-history", err)
		}
	}
	return nil
}

var _ scheduler.FileView = (*File)(nil)

// Stack returns the file's edit stack, or nil if the file never loaded,
// for callers that need to inspect it without a public field.
func (f *File) Stack() *undostack.Stack { return f.stack }

func canWrite(path string) bool {
	fh, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	fh.Close()
	return true
}

func canEncode(format string) bool {
	switch format {
	case ".png", "png", ".jpg", ".jpeg", "jpg", "jpeg":
		return true
	default:
		return false
	}
}

func backupOriginal(path string) error {
	dir := filepath.Join(filepath.Dir(path), ".original")
	backup := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(backup); err == nil {
		return nil // already backed up by a previous save
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()
	dst, err := os.Create(backup)
	if err != nil {
		return fmt.Errorf("create %s: %w", backup, err)
	}
	defer dst.Close()
	if _, err := dst.ReadFrom(src); err != nil {
		return fmt.Errorf("copy to %s: %w", backup, err)
	}
	return nil
}

func mimeFromExt(path string) string {
	switch filepath.Ext(path) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

