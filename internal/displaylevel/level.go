// Package displaylevel holds the per-resolution-tier configuration used by
// the image cache and scheduler: each level's bounding size, optional crop,
// and thumbnail flavor.
package displaylevel

import "image"

// Level describes one resolution tier. Level 0 is the coarsest preview;
// the last configured level is the full image (or tile) level and carries
// no size bound.
type Level struct {
	Size                 image.Point // zero means "no bound" (full image / tile level)
	MinimumSize          image.Point // zero means "not cropped"
	ThumbnailFlavorName  string
	MaxCacheEntries       int
}

// IsCropped reports whether this level crops to a minimum size that differs
// from its bounding size, rather than letterboxing.
func (l Level) IsCropped() bool {
	return l.MinimumSize != (image.Point{}) && l.MinimumSize != l.Size
}

// IsBounded reports whether this level has a maximum bounding box at all.
func (l Level) IsBounded() bool {
	return l.Size != (image.Point{})
}

// TargetSize computes the bounding rectangle this level should produce for
// a source image of fullImageSize, preserving aspect ratio. If the level is
// unbounded, the full image size is returned unchanged.
func (l Level) TargetSize(fullImageSize image.Point) image.Point {
	if !l.IsBounded() || fullImageSize == (image.Point{}) {
		return fullImageSize
	}
	return scaleBounding(fullImageSize, l.Size)
}

// TargetArea computes the visible crop area for a cropped level; for an
// uncropped level it returns the full rectangle at TargetSize.
func (l Level) TargetArea(fullImageSize image.Point) image.Rectangle {
	target := l.TargetSize(fullImageSize)
	if !l.IsCropped() {
		return image.Rectangle{Max: target}
	}
	crop := scaleBounding(fullImageSize, l.MinimumSize)
	offsetX := (target.X - crop.X) / 2
	offsetY := (target.Y - crop.Y) / 2
	return image.Rect(offsetX, offsetY, offsetX+crop.X, offsetY+crop.Y)
}

// scaleBounding scales src down to fit within bound while preserving aspect
// ratio; it never scales up.
func scaleBounding(src, bound image.Point) image.Point {
	if src.X <= 0 || src.Y <= 0 {
		return image.Point{}
	}
	if bound.X <= 0 || bound.Y <= 0 {
		return src
	}
	if src.X <= bound.X && src.Y <= bound.Y {
		return src
	}
	wRatio := float64(bound.X) / float64(src.X)
	hRatio := float64(bound.Y) / float64(src.Y)
	ratio := wRatio
	if hRatio < ratio {
		ratio = hRatio
	}
	w := int(float64(src.X) * ratio)
	h := int(float64(src.Y) * ratio)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return image.Point{X: w, Y: h}
}

// DefaultSizeFrom returns the default size for a newly-added level: twice
// the previous level's size. If prev is unbounded (zero), the new level is
// also unbounded.
func DefaultSizeFrom(prev image.Point) image.Point {
	if prev == (image.Point{}) {
		return image.Point{}
	}
	return image.Point{X: prev.X * 2, Y: prev.Y * 2}
}
