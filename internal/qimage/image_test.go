package qimage

import (
	"image"
	"testing"
)

func TestImage_ValidRequiresPix(t *testing.T) {
	var img Image
	if img.Valid() {
		t.Errorf("zero Image reports Valid()")
	}
	img.Pix = image.NewRGBA(image.Rect(0, 0, 4, 4))
	if !img.Valid() {
		t.Errorf("Image with Pix set reports invalid")
	}
}

func TestImage_IsTile(t *testing.T) {
	full := image.Point{X: 64, Y: 64}
	pix := image.NewRGBA(image.Rect(0, 0, 16, 16))

	whole := Image{Pix: pix, FullImageSize: image.Point{X: 16, Y: 16}}
	if whole.IsTile() {
		t.Errorf("an image whose area covers the full size reports as a tile")
	}

	tile := Image{Pix: pix, FullImageSize: full, Area: image.Rect(0, 0, 16, 16)}
	if !tile.IsTile() {
		t.Errorf("an image smaller than FullImageSize with a set Area should be a tile")
	}

	noArea := Image{Pix: pix, FullImageSize: full}
	if noArea.IsTile() {
		t.Errorf("a zero Area should mean whole image, not tile")
	}
}

func TestImage_Size(t *testing.T) {
	var empty Image
	if empty.Size() != (image.Point{}) {
		t.Errorf("Size() of an empty Image = %v, want zero point", empty.Size())
	}

	img := Image{Pix: image.NewRGBA(image.Rect(0, 0, 20, 10))}
	if img.Size() != (image.Point{X: 20, Y: 10}) {
		t.Errorf("Size() = %v, want {20 10}", img.Size())
	}
}
