package qfilter

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"editengine/internal/qimage"

	_ "golang.org/x/image/tiff" // register TIFF decoding alongside the stdlib's png/jpeg/gif
)

// LoadFilter decodes a file from disk. It is always command index 0 of a
// stack and is never spatially local (it has no input tile to derive from).
type LoadFilter struct {
	Path            string
	Format          string
	BackgroundColor qimage.Color
}

func (f *LoadFilter) Name() string { return "load" }
func (f *LoadFilter) Role() Role   { return RoleLoad }
func (f *LoadFilter) Params() map[string]qimage.Value {
	return map[string]qimage.Value{
		"path":   qimage.StringValue(f.Path),
		"format": qimage.StringValue(f.Format),
	}
}
func (f *LoadFilter) IsSpatiallyLocal() bool { return false }

func (f *LoadFilter) NewFullImageSize(image.Point) image.Point {
	file, err := os.Open(f.Path)
	if err != nil {
		return image.Point{}
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return image.Point{}
	}
	return image.Point{X: cfg.Width, Y: cfg.Height}
}

func (f *LoadFilter) Apply(_ context.Context, _ []qimage.Image) (qimage.Image, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return qimage.Image{}, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer file.Close()

	decoded, _, err := image.Decode(file)
	if err != nil {
		return qimage.Image{}, fmt.Errorf("decode %s: %w", f.Path, err)
	}

	size := decoded.Bounds().Size()
	pix := image.Image(decoded)
	if f.BackgroundColor.A != 0 {
		pix = flattenOnBackground(decoded, backgroundColorModel(f.BackgroundColor))
	}
	return qimage.Image{Pix: pix, FullImageSize: size}, nil
}

// flattenOnBackground composites src over a solid bg, the letterboxing
// spec.md's backgroundRenderingColor knob exists for: a source with
// transparent or partially-transparent pixels (a PNG with alpha, or a
// rasterized vector source) otherwise shows whatever the viewer happens
// to paint behind it.
func flattenOnBackground(src image.Image, bg color.RGBA) image.Image {
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Over)
	return out
}

// SaveFilter hands the current image to an encoder at Path in Format. It
// performs no pixel transform of its own; the encoding work is what the
// engine's save pipeline schedules it for.
type SaveFilter struct {
	Path         string
	Format       string // "png" or "jpeg"
	RawExifDump  []byte
}

func (f *SaveFilter) Name() string { return "save" }
func (f *SaveFilter) Role() Role   { return RoleSave }
func (f *SaveFilter) Params() map[string]qimage.Value {
	return map[string]qimage.Value{
		"path":   qimage.StringValue(f.Path),
		"format": qimage.StringValue(f.Format),
		"exif":   qimage.BytesValue(f.RawExifDump),
	}
}
func (f *SaveFilter) IsSpatiallyLocal() bool { return true }
func (f *SaveFilter) NewFullImageSize(prev image.Point) image.Point { return prev }

func (f *SaveFilter) Apply(_ context.Context, in []qimage.Image) (qimage.Image, error) {
	if len(in) == 0 || !in[0].Valid() {
		return qimage.Image{}, fmt.Errorf("save: no input image")
	}
	return in[0], nil
}

// Encode writes img to w in the filter's configured format.
func (f *SaveFilter) Encode(w io.Writer, img image.Image) error {
	switch f.Format {
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 92})
	default:
		return png.Encode(w, img)
	}
}

// BrightnessFilter shifts every channel by Delta (-255..255). It is
// pointwise: the output at (x,y) depends only on the input at (x,y), so it
// is spatially local and preserves a TileMap's tile layout.
type BrightnessFilter struct {
	Delta int
}

func (f *BrightnessFilter) Name() string { return "brightness" }
func (f *BrightnessFilter) Role() Role   { return RoleTransform }
func (f *BrightnessFilter) Params() map[string]qimage.Value {
	return map[string]qimage.Value{"delta": qimage.IntValue(f.Delta)}
}
func (f *BrightnessFilter) IsSpatiallyLocal() bool                  { return true }
func (f *BrightnessFilter) NewFullImageSize(prev image.Point) image.Point { return prev }

func (f *BrightnessFilter) Apply(_ context.Context, in []qimage.Image) (qimage.Image, error) {
	src, err := singleInput(in)
	if err != nil {
		return qimage.Image{}, err
	}
	out := image.NewRGBA(src.Pix.Bounds())
	draw.Draw(out, out.Bounds(), src.Pix, src.Pix.Bounds().Min, draw.Src)
	shiftBrightness(out, f.Delta)
	return qimage.Image{Pix: out, FullImageSize: src.FullImageSize, Area: src.Area, ZLevel: src.ZLevel}, nil
}

func shiftBrightness(img *image.RGBA, delta int) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		img.Pix[i] = clampChannel(int(img.Pix[i]) + delta)
		img.Pix[i+1] = clampChannel(int(img.Pix[i+1]) + delta)
		img.Pix[i+2] = clampChannel(int(img.Pix[i+2]) + delta)
	}
}

// ContrastFilter scales every channel around the midpoint by a factor
// derived from Delta (-100..100). Also pointwise/spatially local.
type ContrastFilter struct {
	Delta int
}

func (f *ContrastFilter) Name() string { return "contrast" }
func (f *ContrastFilter) Role() Role   { return RoleTransform }
func (f *ContrastFilter) Params() map[string]qimage.Value {
	return map[string]qimage.Value{"delta": qimage.IntValue(f.Delta)}
}
func (f *ContrastFilter) IsSpatiallyLocal() bool                  { return true }
func (f *ContrastFilter) NewFullImageSize(prev image.Point) image.Point { return prev }

func (f *ContrastFilter) Apply(_ context.Context, in []qimage.Image) (qimage.Image, error) {
	src, err := singleInput(in)
	if err != nil {
		return qimage.Image{}, err
	}
	out := image.NewRGBA(src.Pix.Bounds())
	draw.Draw(out, out.Bounds(), src.Pix, src.Pix.Bounds().Min, draw.Src)
	factor := (259.0 * float64(f.Delta+255)) / (255.0 * float64(259-f.Delta))
	for i := 0; i+3 < len(out.Pix); i += 4 {
		out.Pix[i] = clampChannel(int(factor*(float64(out.Pix[i])-128) + 128))
		out.Pix[i+1] = clampChannel(int(factor*(float64(out.Pix[i+1])-128) + 128))
		out.Pix[i+2] = clampChannel(int(factor*(float64(out.Pix[i+2])-128) + 128))
	}
	return qimage.Image{Pix: out, FullImageSize: src.FullImageSize, Area: src.Area, ZLevel: src.ZLevel}, nil
}

// FlipHorizontalFilter mirrors the image left-right. Because a pixel at
// (x,y) moves to (W-1-x,y), no tile keeps its old contents at its old grid
// cell, so this filter is not spatially local: it invalidates the whole
// TileMap rather than deriving tile-by-tile.
type FlipHorizontalFilter struct{}

func (f *FlipHorizontalFilter) Name() string                  { return "flip-horizontal" }
func (f *FlipHorizontalFilter) Role() Role                    { return RoleTransform }
func (f *FlipHorizontalFilter) Params() map[string]qimage.Value { return nil }
func (f *FlipHorizontalFilter) IsSpatiallyLocal() bool        { return false }
func (f *FlipHorizontalFilter) NewFullImageSize(prev image.Point) image.Point { return prev }

func (f *FlipHorizontalFilter) Apply(_ context.Context, in []qimage.Image) (qimage.Image, error) {
	src, err := singleInput(in)
	if err != nil {
		return qimage.Image{}, err
	}
	b := src.Pix.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			mirrored := b.Min.X + (b.Max.X - 1 - x)
			out.Set(mirrored, y, src.Pix.At(x, y))
		}
	}
	return qimage.Image{Pix: out, FullImageSize: src.FullImageSize, Area: src.Area, ZLevel: src.ZLevel}, nil
}

func singleInput(in []qimage.Image) (qimage.Image, error) {
	if len(in) == 0 || !in[0].Valid() {
		return qimage.Image{}, fmt.Errorf("filter: no input image")
	}
	return in[0], nil
}

func clampChannel(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// backgroundColorModel turns a qimage.Color into an image/color.RGBA, used
// when a load filter needs to letterbox against a configured background.
func backgroundColorModel(c qimage.Color) color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}
