package qfilter

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"editengine/internal/qimage"
)

func writeTestPNG(t *testing.T, dir string, size image.Point, fill color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			img.Set(x, y, fill)
		}
	}
	path := filepath.Join(dir, "in.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestLoadFilter_NewFullImageSizeReadsHeaderOnly(t *testing.T) {
	path := writeTestPNG(t, t.TempDir(), image.Point{X: 8, Y: 4}, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	lf := &LoadFilter{Path: path, Format: "png"}
	if got := lf.NewFullImageSize(image.Point{}); got != (image.Point{X: 8, Y: 4}) {
		t.Fatalf("NewFullImageSize = %v, want {8 4}", got)
	}
}

func TestLoadFilter_NewFullImageSizeMissingFileReturnsZero(t *testing.T) {
	lf := &LoadFilter{Path: "/nonexistent/path.png"}
	if got := lf.NewFullImageSize(image.Point{}); got != (image.Point{}) {
		t.Errorf("NewFullImageSize for a missing file = %v, want zero point", got)
	}
}

func TestLoadFilter_Apply(t *testing.T) {
	path := writeTestPNG(t, t.TempDir(), image.Point{X: 4, Y: 4}, color.RGBA{R: 9, G: 9, B: 9, A: 255})
	lf := &LoadFilter{Path: path}
	img, err := lf.Apply(context.Background(), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !img.Valid() || img.Size() != (image.Point{X: 4, Y: 4}) {
		t.Fatalf("Apply() image = %+v, want a valid 4x4 image", img)
	}
}

func TestLoadFilter_Apply_CompositesOnBackgroundColor(t *testing.T) {
	path := writeTestPNG(t, t.TempDir(), image.Point{X: 4, Y: 4}, color.RGBA{R: 9, G: 9, B: 9, A: 0})
	lf := &LoadFilter{Path: path, BackgroundColor: qimage.Color{R: 200, G: 0, B: 0, A: 255}}
	img, err := lf.Apply(context.Background(), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	r, g, b, a := img.Pix.At(0, 0).RGBA()
	if r>>8 != 200 || g>>8 != 0 || b>>8 != 0 || a>>8 != 255 {
		t.Fatalf("Apply() pixel = (%d,%d,%d,%d), want the configured background showing through fully transparent source pixels", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestLoadFilter_Apply_NoBackgroundColorLeavesImageUntouched(t *testing.T) {
	path := writeTestPNG(t, t.TempDir(), image.Point{X: 4, Y: 4}, color.RGBA{R: 9, G: 9, B: 9, A: 0})
	lf := &LoadFilter{Path: path}
	img, err := lf.Apply(context.Background(), nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, _, _, a := img.Pix.At(0, 0).RGBA(); a != 0 {
		t.Errorf("Apply() alpha = %d, want 0: the zero BackgroundColor must not flatten transparency", a)
	}
}

func TestBrightnessFilter_ClampsAtWhite(t *testing.T) {
	src := qimage.Image{
		Pix:           solidImage(2, 2, color.RGBA{R: 250, G: 250, B: 250, A: 255}),
		FullImageSize: image.Point{X: 2, Y: 2},
	}
	bf := &BrightnessFilter{Delta: 50}
	out, err := bf.Apply(context.Background(), []qimage.Image{src})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	r, g, b, _ := out.Pix.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
		t.Errorf("brightness did not clamp to white: r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

func TestBrightnessFilter_NoInputErrors(t *testing.T) {
	bf := &BrightnessFilter{Delta: 10}
	if _, err := bf.Apply(context.Background(), nil); err == nil {
		t.Errorf("Apply with no input should error")
	}
}

func TestContrastFilter_ZeroDeltaIsIdentity(t *testing.T) {
	src := qimage.Image{Pix: solidImage(2, 2, color.RGBA{R: 100, G: 150, B: 200, A: 255})}
	cf := &ContrastFilter{Delta: 0}
	out, err := cf.Apply(context.Background(), []qimage.Image{src})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	r, g, b, _ := out.Pix.At(0, 0).RGBA()
	if r>>8 != 100 || g>>8 != 150 || b>>8 != 200 {
		t.Errorf("zero-delta contrast changed pixel values: r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

func TestFlipHorizontalFilter_MirrorsPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 1, A: 255})
	img.Set(1, 0, color.RGBA{R: 2, A: 255})
	src := qimage.Image{Pix: img, FullImageSize: image.Point{X: 2, Y: 1}}

	ff := &FlipHorizontalFilter{}
	out, err := ff.Apply(context.Background(), []qimage.Image{src})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	r0, _, _, _ := out.Pix.At(0, 0).RGBA()
	r1, _, _, _ := out.Pix.At(1, 0).RGBA()
	if r0>>8 != 2 || r1>>8 != 1 {
		t.Errorf("flip did not mirror pixels: (0,0).R=%d (1,0).R=%d, want 2 and 1", r0>>8, r1>>8)
	}
	if ff.IsSpatiallyLocal() {
		t.Errorf("FlipHorizontalFilter must not report spatially local")
	}
}

func TestSaveFilter_EncodePNGRoundTrips(t *testing.T) {
	sf := &SaveFilter{Format: "png"}
	img := solidImage(3, 3, color.RGBA{R: 5, G: 6, B: 7, A: 255})
	var buf bytes.Buffer
	if err := sf.Encode(&buf, img); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode written PNG: %v", err)
	}
	if decoded.Bounds().Size() != (image.Point{X: 3, Y: 3}) {
		t.Errorf("decoded size = %v, want {3 3}", decoded.Bounds().Size())
	}
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
