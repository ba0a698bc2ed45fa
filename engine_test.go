package editengine

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"editengine/internal/qfilter"
)

func TestWaitUntilFinished_SavesEditedPixels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, image.Point{X: 4, Y: 4}, color.RGBA{R: 10, G: 10, B: 10, A: 255})

	e := newTestEngine(t)
	f := e.OpenFile(path, "")
	if _, err := f.RunFilter(&qfilter.BrightnessFilter{Delta: 50}); err != nil {
		t.Fatalf("RunFilter: %v", err)
	}
	if err := f.Save("", nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ctx := context.Background()
	if !e.WaitUntilFinished(ctx, 2*time.Second) {
		t.Fatal("WaitUntilFinished timed out")
	}
	if !f.AtSavedIndex() {
		t.Errorf("AtSavedIndex() = false after WaitUntilFinished reports done")
	}

	written, err := os.Open(path)
	if err != nil {
		t.Fatalf("open saved file: %v", err)
	}
	defer written.Close()
	decoded, err := png.Decode(written)
	if err != nil {
		t.Fatalf("decode saved file: %v", err)
	}
	r, _, _, _ := decoded.At(0, 0).RGBA()
	if r>>8 <= 10 {
		t.Errorf("saved pixel red = %d, want brightened above the original 10", r>>8)
	}
}

func TestWaitUntilFinished_NothingToDoReturnsImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, image.Point{X: 4, Y: 4}, color.RGBA{A: 255})

	e := newTestEngine(t)
	e.OpenFile(path, "")

	if !e.WaitUntilFinished(context.Background(), time.Second) {
		t.Error("WaitUntilFinished should report done when no file has a pending edit")
	}
}

func TestSuggestNewTask_DispatchesARenderTask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, image.Point{X: 4, Y: 4}, color.RGBA{A: 255})

	e := newTestEngine(t)
	e.OpenFile(path, "")
	e.SuggestNewTask(context.Background())

	select {
	case r := <-e.workerMgr.Results():
		if r.Err != nil {
			t.Errorf("render task result error: %v", r.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("SuggestNewTask did not dispatch any render work for a freshly opened file")
	}
}

func TestRequestRefresh_EventuallyDispatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, image.Point{X: 4, Y: 4}, color.RGBA{A: 255})

	e := newTestEngine(t)
	e.OpenFile(path, "")

	ctx := context.Background()
	e.RequestRefresh(ctx)
	e.RequestRefresh(ctx)
	e.RequestRefresh(ctx)

	select {
	case <-e.workerMgr.Results():
	case <-time.After(time.Second):
		t.Fatal("RequestRefresh never resulted in a dispatched task")
	}
}

func TestAllowDelete_FalseWhileFilterInFlight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, image.Point{X: 4, Y: 4}, color.RGBA{A: 255})

	e := newTestEngine(t)
	f := e.OpenFile(path, "")
	cmd := f.stack.CommandAt(0)

	e.SuggestNewTask(context.Background())
	if e.AllowDelete(cmd.Filter) {
		t.Errorf("AllowDelete() = true while the load command's filter is rendering")
	}
	<-e.workerMgr.Results()
}

func TestDumpCanRecover_RoundTripsDirtyFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, image.Point{X: 4, Y: 4}, color.RGBA{A: 255})

	cfg := DefaultConfig()
	cfg.CrashDumpPath = t.TempDir()
	e := New(cfg)
	f := e.OpenFile(path, "")
	f.RunFilter(&qfilter.BrightnessFilter{Delta: 20})

	if err := e.Dump(); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	e2 := New(cfg)
	if !e2.CanRecover() {
		t.Fatal("CanRecover() = false after a dirty-file Dump")
	}
	if err := e2.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if _, ok := e2.File(path); !ok {
		t.Errorf("Recover did not re-register %s", path)
	}
}

func TestCanRecover_FalseWhenFilesAlreadyOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	writePNG(t, path, image.Point{X: 4, Y: 4}, color.RGBA{A: 255})

	cfg := DefaultConfig()
	cfg.CrashDumpPath = t.TempDir()
	e := New(cfg)
	e.OpenFile(path, "")

	if e.CanRecover() {
		t.Errorf("CanRecover() = true while files are already registered")
	}
}
