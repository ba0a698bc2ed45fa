package editengine

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/debounce"

	"editengine/internal/historyxml"
	"editengine/internal/qfilter"
	"editengine/internal/qimage"
	"editengine/internal/scheduler"
	"editengine/internal/thumbnailer"
	"editengine/internal/tilecache"
	"editengine/internal/tilemap"
	"editengine/internal/undostack"
	"editengine/internal/worker"
)

// Engine is the top-level object: the file registry, the shared tile
// cache, the scheduler's world view, and the single background worker.
// It corresponds to Quill's process-wide Core, re-expressed as an
// explicit value per spec.md section 9's redesign note rather than a
// singleton.
type Engine struct {
	config Config
	frozen bool

	files []*File
	index map[string]*File

	tiles      *tilecache.Cache
	workerMgr  *worker.Manager
	thumbClient *thumbnailer.Client

	sink Sink

	inFlight map[string]inFlightTask

	debounced func(func())
}

type inFlightTask struct {
	jobID  string
	fileID string
	task   scheduler.Task
}

// New creates an Engine with the given configuration. Config is copied;
// the Engine offers no way to change it afterwards.
func New(cfg Config) *Engine {
	tileCacheSize := cfg.TileCacheSize
	if tileCacheSize < 1 {
		tileCacheSize = 100
	}
	return &Engine{
		config:    cfg,
		files:     nil,
		index:     make(map[string]*File),
		tiles:     tilecache.New(tileCacheSize),
		workerMgr: worker.NewManager(),
		inFlight:  make(map[string]inFlightTask),
		debounced: debounce.New(2 * time.Millisecond),
	}
}

// SetErrorSink installs the engine-wide error sink.
func (e *Engine) SetErrorSink(sink Sink) { e.sink = sink }

func (e *Engine) reportError(err *Error) {
	if e.sink != nil {
		e.sink(err)
	}
}

// EnableThumbnailer dials the session-bus thumbnailer service. It must
// be called, if at all, before opening any externally-supported file.
func (e *Engine) EnableThumbnailer() error {
	client, err := thumbnailer.Dial()
	if err != nil {
		return fmt.Errorf("editengine: enable thumbnailer: %w", err)
	}
	e.thumbClient = client
	return nil
}

// Files returns every currently-registered file, in insertion order.
func (e *Engine) Files() []scheduler.FileView {
	views := make([]scheduler.FileView, 0, len(e.files))
	for _, f := range e.files {
		if f.state == StateRemoved {
			continue
		}
		views = append(views, f)
	}
	return views
}

var _ scheduler.World = (*Engine)(nil)

// OpenFile returns the File for path, creating and probing it on first
// request. Opening any file freezes Config.
func (e *Engine) OpenFile(path, targetFormat string) *File {
	e.frozen = true
	if f, ok := e.index[path]; ok {
		return f
	}
	f := newFile(e, path, targetFormat)
	e.files = append(e.files, f)
	e.index[path] = f
	return f
}

// File looks up an already-open file by path.
func (e *Engine) File(path string) (*File, bool) {
	f, ok := e.index[path]
	return f, ok
}

// RemoveFile transitions a file to Removed and drops it from the
// registry's active set; Files() no longer reports it.
func (e *Engine) RemoveFile(path string) {
	if f, ok := e.index[path]; ok {
		f.Remove()
		delete(e.index, path)
	}
}

// SuggestNewTask is the coordinator's dispatch step: if the external
// thumbnailer has work and isn't busy, queue it (it runs in its own
// process, in parallel with the worker); then, if the worker is idle,
// ask the scheduler for the next task and submit it. It mirrors
// Core::suggestNewTask's two independent checks.
func (e *Engine) SuggestNewTask(ctx context.Context) {
	if e.thumbClient != nil {
		if fileID, ok := scheduler.NextThumbnailerRequest(e); ok {
			e.queueThumbnailer(fileID)
		}
	}

	if e.workerMgr.IsRunning() {
		return
	}
	task, ok := scheduler.Next(e)
	if !ok {
		return
	}
	e.submit(ctx, task)
}

// RequestRefresh coalesces bursts of external calls — a UI dragging a
// brightness slider, or rapidly changing a file's display level — into a
// single SuggestNewTask poll, the same way a UI event handler would
// debounce repeated input instead of reacting to every keystroke. The
// internal dispatch loop (DispatchResult) calls SuggestNewTask directly
// and is never debounced, so completed work is always picked up
// immediately; RequestRefresh is only for external callers that don't
// otherwise know when to ask the scheduler for more work.
func (e *Engine) RequestRefresh(ctx context.Context) {
	e.debounced(func() { e.SuggestNewTask(ctx) })
}

func (e *Engine) queueThumbnailer(fileID string) {
	f, ok := e.index[fileID]
	if !ok {
		return
	}
	lvl := 0
	for l := range f.caches {
		if !f.HasStoredThumbnail(l) {
			lvl = l
			break
		}
	}
	flavor := ""
	if lvl < len(e.config.Levels) {
		flavor = e.config.Levels[lvl].ThumbnailFlavorName
	}
	if _, err := e.thumbClient.Queue(f.id, mimeFromExt(f.id), flavor); err != nil {
		e.reportError(newError(KindFileFormatUnsupported, f.id, "thumbnailer-queue", err))
	}
}

func (e *Engine) submit(ctx context.Context, task scheduler.Task) {
	f, ok := e.index[task.FileID]
	if !ok {
		return
	}
	jobID := fmt.Sprintf("%s#%d#%s", task.FileID, task.Level, task.Kind)

	var filter qfilter.Filter
	var fn worker.Func

	switch task.Kind {
	case scheduler.KindSaveStep:
		filter, fn = e.buildSaveStep(f)
	case scheduler.KindRenderLevel:
		filter, fn = e.buildRenderStep(f, task.Level)
	case scheduler.KindThumbnailLoad:
		filter, fn = e.buildThumbnailLoadStep(f, task.Level)
	case scheduler.KindThumbnailSave:
		filter, fn = e.buildThumbnailSaveStep(f, task.Level)
	}
	if fn == nil {
		return
	}

	e.inFlight[jobID] = inFlightTask{jobID: jobID, fileID: task.FileID, task: task}
	e.workerMgr.Run(ctx, jobID, filter, fn)
}

func (e *Engine) buildRenderStep(f *File, level int) (qfilter.Filter, worker.Func) {
	cmd := f.stack.CommandAt(f.stack.Index())
	if cmd == nil {
		return nil, nil
	}
	filter := cmd.Filter
	lvl := e.config.Levels[level]
	chain := make([]qfilter.Filter, cmd.Index+1)
	for i := range chain {
		chain[i] = f.stack.CommandAt(i).Filter
	}
	return filter, func(ctx context.Context) (qimage.Image, error) {
		var in []qimage.Image
		start := cmd.Index
		for ; start > 0; start-- {
			if prev, ok := f.caches[level].Get(start - 1); ok {
				in = []qimage.Image{prev}
				break
			}
		}
		for _, earlier := range chain[start:cmd.Index] {
			prev, err := earlier.Apply(ctx, in)
			if err != nil {
				return qimage.Image{}, err
			}
			in = []qimage.Image{prev}
		}
		full, err := filter.Apply(ctx, in)
		if err != nil {
			return qimage.Image{}, err
		}
		resized := resizeToLevel(full, lvl, full.FullImageSize)
		return resized, nil
	}
}

func (e *Engine) buildThumbnailLoadStep(f *File, level int) (qfilter.Filter, worker.Func) {
	path := f.thumbnailPath(level)
	return nil, func(ctx context.Context) (qimage.Image, error) {
		file, err := os.Open(path)
		if err != nil {
			return qimage.Image{}, fmt.Errorf("thumbnail-load %s: %w", path, err)
		}
		defer file.Close()
		decoded, _, err := image.Decode(file)
		if err != nil {
			return qimage.Image{}, fmt.Errorf("thumbnail-decode %s: %w", path, err)
		}
		return qimage.Image{Pix: decoded, FullImageSize: decoded.Bounds().Size()}, nil
	}
}

func (e *Engine) buildThumbnailSaveStep(f *File, level int) (qfilter.Filter, worker.Func) {
	img, _ := f.Image(level)
	path := f.thumbnailPath(level)
	return nil, func(ctx context.Context) (qimage.Image, error) {
		if path == "" || !img.Valid() {
			return qimage.Image{}, fmt.Errorf("thumbnail-save: no path or image for level %d", level)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return qimage.Image{}, fmt.Errorf("thumbnail-save mkdir: %w", err)
		}
		out, err := os.Create(path)
		if err != nil {
			return qimage.Image{}, fmt.Errorf("thumbnail-save create: %w", err)
		}
		defer out.Close()
		enc := &qfilter.SaveFilter{Format: "png"}
		if err := enc.Encode(out, img.Pix); err != nil {
			return qimage.Image{}, fmt.Errorf("thumbnail-save encode: %w", err)
		}
		return img, nil
	}
}

func (e *Engine) buildSaveStep(f *File) (qfilter.Filter, worker.Func) {
	ctx := f.stack.PendingSave()
	if ctx == nil {
		return nil, nil
	}
	if ctx.SaveMap != nil {
		return e.buildTiledSaveStep(f, ctx)
	}
	filter := ctx.Command.Filter
	return filter, func(c context.Context) (qimage.Image, error) {
		cur, ok := f.Image(e.config.FullLevel())
		if !ok {
			return qimage.Image{}, fmt.Errorf("save: full-level image not rendered yet")
		}
		out, err := filter.Apply(c, []qimage.Image{cur})
		if err != nil {
			return qimage.Image{}, err
		}
		if err := e.writeSaveOutput(f, out); err != nil {
			return qimage.Image{}, err
		}
		return out, nil
	}
}

// buildTiledSaveStep performs exactly one increment of the tiled save
// pipeline (spec.md section 4.7): render one missing tile the lowest
// not-yet-ready buffer depends on, or, once a buffer's tiles are all
// present, encode that buffer and flush it. Each call does one such
// increment; SuggestNewTask is what drives the next one.
//
// A tile render always reapplies the command's filter to the full
// previous-generation image and then crops to the tile's rect, rather
// than deriving a spatially-local filter's output from just the prior
// tile at the same cell. TileMap.Local is computed and available for
// that optimization but nothing here consumes it yet.
func (e *Engine) buildTiledSaveStep(f *File, ctx *undostack.SaveContext) (qfilter.Filter, worker.Func) {
	sm := ctx.SaveMap
	cmd := f.stack.CommandAt(f.stack.Index())
	buf := sm.NextReady()
	if buf == nil {
		buf = firstUnflushed(sm)
	}
	if buf == nil {
		return ctx.Command.Filter, func(context.Context) (qimage.Image, error) { return qimage.Image{}, nil }
	}

	if buf.State == tilemap.BufferReady {
		return ctx.Command.Filter, func(c context.Context) (qimage.Image, error) {
			if err := e.encodeSaveBuffer(f, cmd, buf); err != nil {
				return qimage.Image{}, err
			}
			buf.Flush()
			if sm.Done() {
				if err := e.finalizeTiledSave(f, ctx); err != nil {
					return qimage.Image{}, err
				}
			}
			return qimage.Image{}, nil
		}
	}

	tileID, ok := firstMissingTile(e.tiles, buf, cmd.TileMap.Generation)
	if !ok {
		return ctx.Command.Filter, func(context.Context) (qimage.Image, error) { return qimage.Image{}, nil }
	}
	cell, ok := findCell(cmd.TileMap, tileID)
	if !ok {
		return ctx.Command.Filter, func(context.Context) (qimage.Image, error) {
			return qimage.Image{}, fmt.Errorf("save: unknown tile %d", tileID)
		}
	}
	rect := cmd.TileMap.TileRect(cell.Col, cell.Row)
	filter := cmd.Filter
	return filter, func(c context.Context) (qimage.Image, error) {
		prevFull, ok := f.caches[e.config.FullLevel()].Get(cmd.Index - 1)
		if !ok {
			return qimage.Image{}, fmt.Errorf("save: previous full image not rendered yet")
		}
		full, err := filter.Apply(c, []qimage.Image{prevFull})
		if err != nil {
			return qimage.Image{}, err
		}
		tileImg := cropTile(full, rect)
		e.tiles.Put(tileID, cmd.TileMap.Generation, tileImg)
		sm.MarkTileReady(tileID)
		return qimage.Image{}, nil
	}
}

func firstUnflushed(sm *tilemap.SaveMap) *tilemap.Buffer {
	for _, b := range sm.Buffers {
		if b.State != tilemap.BufferFlushed {
			return b
		}
	}
	return nil
}

func firstMissingTile(tiles *tilecache.Cache, buf *tilemap.Buffer, generation int64) (int64, bool) {
	for _, id := range buf.RequiredTiles {
		if _, ok := tiles.Get(id, generation); !ok {
			return id, true
		}
	}
	return 0, false
}

func findCell(tm *tilemap.TileMap, tileID int64) (tilemap.Cell, bool) {
	for _, cell := range tm.Cells() {
		if tm.TileID(cell.Col, cell.Row) == tileID {
			return cell, true
		}
	}
	return tilemap.Cell{}, false
}

func cropTile(img qimage.Image, rect image.Rectangle) qimage.Image {
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	out := img
	out.Area = rect
	if si, ok := img.Pix.(subImager); ok {
		out.Pix = si.SubImage(rect)
	}
	return out
}

// encodeSaveBuffer does not encode an output file per buffer: a tiled
// image format this engine writes (PNG, JPEG) has no concept of
// appending independently-encoded fragments into one valid file, so the
// buffers instead accumulate into f.saveComposite, a single full-size
// image allocated on first use. What "encode" means here is copying
// each of the buffer's ready tiles into that composite and, for
// fidelity to the buffer's own row band, snapshotting that band's raw
// pixels into the pooled Buffer (used by callers that want the
// bounded-memory view of a buffer's contents without touching the
// whole composite). The actual file encode happens once, in
// finalizeTiledSave, after every buffer has reached this point.
func (e *Engine) encodeSaveBuffer(f *File, cmd *undostack.FilterCommand, buf *tilemap.Buffer) error {
	if f.saveComposite == nil {
		f.saveComposite = image.NewRGBA(image.Rectangle{Max: cmd.FullImageSize})
	}
	for _, id := range buf.RequiredTiles {
		tileImg, ok := e.tiles.Get(id, cmd.TileMap.Generation)
		if !ok {
			return fmt.Errorf("save: tile %d missing at encode time", id)
		}
		draw.Draw(f.saveComposite, tileImg.Area, tileImg.Pix, tileImg.Area.Min, draw.Src)
	}
	band := f.saveComposite.SubImage(buf.Rows).(*image.RGBA)
	data := buf.Data()
	data.Reset()
	data.Write(band.Pix)
	return nil
}

// finalizeTiledSave runs once all of a save's buffers have been encoded
// into f.saveComposite: it is the single point where the composite is
// actually written out through the save filter's encoder.
func (e *Engine) finalizeTiledSave(f *File, ctx *undostack.SaveContext) error {
	sf, ok := ctx.Command.Filter.(*qfilter.SaveFilter)
	if !ok {
		return fmt.Errorf("save: unexpected filter type")
	}
	if f.saveComposite == nil {
		return fmt.Errorf("save: no tiles composited")
	}
	out, err := os.Create(f.pendingTempPath)
	if err != nil {
		return fmt.Errorf("save: create temp: %w", err)
	}
	if err := sf.Encode(out, f.saveComposite); err != nil {
		out.Close()
		return fmt.Errorf("save: encode: %w", err)
	}
	out.Close()
	f.saveComposite = nil
	return os.Rename(f.pendingTempPath, sf.Path)
}

func (e *Engine) writeSaveOutput(f *File, img qimage.Image) error {
	sf, ok := f.stack.PendingSave().Command.Filter.(*qfilter.SaveFilter)
	if !ok {
		return fmt.Errorf("save: unexpected filter type")
	}
	out, err := os.Create(f.pendingTempPath)
	if err != nil {
		return fmt.Errorf("save: create temp: %w", err)
	}
	if err := sf.Encode(out, img.Pix); err != nil {
		out.Close()
		return fmt.Errorf("save: encode: %w", err)
	}
	out.Close()
	return os.Rename(f.pendingTempPath, sf.Path)
}

// DispatchResult applies a completed worker.Result to engine state and
// suggests the next task. Call it from the loop draining
// e.workerMgr.Results().
func (e *Engine) DispatchResult(ctx context.Context, r worker.Result) {
	in, ok := e.inFlight[r.JobID]
	delete(e.inFlight, r.JobID)
	if !ok {
		e.SuggestNewTask(ctx)
		return
	}
	f, ok := e.index[in.fileID]
	if !ok {
		e.SuggestNewTask(ctx)
		return
	}

	if r.Err != nil {
		e.handleTaskError(f, in.task, r.Err)
		e.SuggestNewTask(ctx)
		return
	}

	switch in.task.Kind {
	case scheduler.KindRenderLevel, scheduler.KindThumbnailLoad:
		f.SetImage(in.task.Level, r.Image)
	case scheduler.KindThumbnailSave:
		f.markThumbnailSaved(in.task.Level)
	case scheduler.KindSaveStep:
		sc := f.stack.PendingSave()
		if sc == nil {
			break
		}
		if sc.SaveMap == nil || sc.SaveMap.Done() {
			if err := f.ConcludeSave(); err != nil {
				e.reportError(newError(KindCrashDump, f.id, "conclude-save", err))
			}
		}
	}
	e.SuggestNewTask(ctx)
}

func (e *Engine) handleTaskError(f *File, task scheduler.Task, err error) {
	switch task.Kind {
	case scheduler.KindSaveStep:
		f.AbortSave()
		f.reportError(KindFileIO, "save", err)
	case scheduler.KindRenderLevel:
		if task.Level == e.config.FullLevel() && f.stack.Index() == 0 {
			f.state = StateUnsupported
		}
		f.reportError(KindFileCorrupt, "render", err)
	default:
		f.reportError(KindFileIO, "task", err)
	}
}

// WaitUntilFinished blocks until every file's stack reports
// savedIndex == index, or timeout elapses; it drains worker results
// itself so it can be used without a separately-running dispatch loop.
// It returns whether every file finished before the deadline.
func (e *Engine) WaitUntilFinished(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	e.SuggestNewTask(ctx)
	for {
		if e.allSaved() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case r := <-e.workerMgr.Results():
			e.DispatchResult(ctx, r)
		case <-time.After(time.Until(deadline)):
			return e.allSaved()
		}
	}
}

func (e *Engine) allSaved() bool {
	for _, f := range e.files {
		if f.stack == nil {
			continue
		}
		if !f.AtSavedIndex() {
			return false
		}
	}
	return true
}

// AllowDelete consults the worker so filters in flight are never
// disposed mid-task.
func (e *Engine) AllowDelete(filter qfilter.Filter) bool {
	return e.workerMgr.AllowDelete(filter)
}

// Dump walks every registered file, selects those that are dirty or
// saving, and serializes their stacks (never pixel data) to
// <crashDumpPath>/dump.xml.
func (e *Engine) Dump() error {
	if e.config.CrashDumpPath == "" {
		return nil
	}
	var dump historyxml.Dump
	for _, f := range e.files {
		if f.stack == nil || (!f.stack.Dirty() && !f.SaveInProgress()) {
			continue
		}
		dump.Files = append(dump.Files, fileDumpOf(f))
	}
	path := filepath.Join(e.config.CrashDumpPath, "dump.xml")
	if err := os.MkdirAll(e.config.CrashDumpPath, 0o755); err != nil {
		e.reportError(newError(KindCrashDump, "", "dump", err))
		return err
	}
	if err := historyxml.Write(path, dump); err != nil {
		e.reportError(newError(KindCrashDump, "", "dump", err))
		return err
	}
	return nil
}

// CanRecover reports whether no files are registered and a non-empty
// crash dump exists.
func (e *Engine) CanRecover() bool {
	if len(e.files) > 0 || e.config.CrashDumpPath == "" {
		return false
	}
	return historyxml.Exists(filepath.Join(e.config.CrashDumpPath, "dump.xml"))
}

// Recover reconstitutes files from the crash dump and re-issues their
// save calls. Only each file's path, target format and read-only flag
// are restored: the dumped commands are not replayed, so every recovered
// stack holds just its load command and the re-issued Save finds nothing
// to write. A marker dump is written first so a crash mid-recovery
// does not loop: Recover called again afterward sees an empty dump (no
// dirty files left to carry forward) rather than replaying the same
// entries.
func (e *Engine) Recover() error {
	path := filepath.Join(e.config.CrashDumpPath, "dump.xml")
	dump, err := historyxml.Read(path)
	if err != nil {
		return fmt.Errorf("editengine: recover: %w", err)
	}
	if err := historyxml.Write(path, historyxml.Dump{}); err != nil {
		e.reportError(newError(KindCrashDump, "", "recover-marker", err))
	}

	for _, fd := range dump.Files {
		f, err := e.reconstituteFile(fd)
		if err != nil {
			e.reportError(newError(KindCrashDump, fd.Filename, "recover", err))
			continue
		}
		e.files = append(e.files, f)
		e.index[f.id] = f
		if err := f.Save(f.id, nil); err != nil {
			e.reportError(newError(KindFileIO, f.id, "recover-save", err))
		}
	}
	return nil
}

func (e *Engine) reconstituteFile(fd historyxml.FileDump) (*File, error) {
	f := newFile(e, fd.Filename, fd.TargetFormat)
	if fd.ReadOnly {
		f.state = StateReadOnly
	}
	return f, nil
}

func fileDumpOf(f *File) historyxml.FileDump {
	fd := historyxml.FileDump{
		Filename:     f.id,
		TargetFormat: f.targetFormat,
		ReadOnly:     f.state == StateReadOnly,
	}
	for i := 0; i < f.stack.Len(); i++ {
		cmd := f.stack.CommandAt(i)
		fd.Commands = append(fd.Commands, historyxml.CommandDump{
			Name:      cmd.Filter.Name(),
			Index:     cmd.Index,
			SessionID: cmd.SessionID,
			Params:    historyxml.ParamsFromValues(cmd.Filter.Params(), sortedKeys(cmd.Filter.Params())),
		})
	}
	return fd
}

func (e *Engine) writeHistory(f *File) error {
	if err := os.MkdirAll(e.config.EditHistoryPath, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", e.config.EditHistoryPath, err)
	}
	path := filepath.Join(e.config.EditHistoryPath, sha1Hex(f.id))
	return historyxml.Write(path, historyxml.Dump{Files: []historyxml.FileDump{fileDumpOf(f)}})
}

// resizeToLevel scales img's pixels down to lvl's bounding size, the step
// that turns a full-resolution render into the level's actual preview.
// Image.FullImageSize is left untouched: it always names the original
// full-image size, not the size of whatever preview happens to be stored
// under it.
func resizeToLevel(img qimage.Image, lvl displaySizer, fullSize image.Point) qimage.Image {
	if img.Pix == nil {
		return img
	}
	target := lvl.TargetSize(fullSize)
	img.Pix = qfilter.Scale(img.Pix, target)
	return img
}

type displaySizer interface {
	TargetSize(image.Point) image.Point
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func sortedKeys(m map[string]qimage.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
