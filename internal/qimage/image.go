// Package qimage holds the value types shared across the engine: the
// rendered-image value and the closed tagged-value type used for filter
// parameters and history serialization.
package qimage

import "image"

// Image is an owned pixel buffer tagged with the full-image size it was
// rendered from, the tile area it covers (if it is a tile rather than a
// whole preview), and the resolution level it was rendered for.
//
// Image is copied by share of ownership: once constructed it is never
// mutated, only replaced.
type Image struct {
	Pix           image.Image
	FullImageSize image.Point
	Area          image.Rectangle // zero Rectangle means "whole image, not a tile"
	ZLevel        int
}

// Valid reports whether the image carries a pixel buffer.
func (img Image) Valid() bool {
	return img.Pix != nil
}

// IsTile reports whether this image represents a sub-area of a larger full
// image rather than the whole thing.
func (img Image) IsTile() bool {
	return img.Valid() && img.Area != (image.Rectangle{}) && img.Area.Size() != img.FullImageSize
}

// Size returns the pixel dimensions of the held buffer, or the zero point if
// no buffer is held.
func (img Image) Size() image.Point {
	if img.Pix == nil {
		return image.Point{}
	}
	return img.Pix.Bounds().Size()
}
