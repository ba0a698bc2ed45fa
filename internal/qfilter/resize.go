package qfilter

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Scale resizes src to exactly target using a Catmull-Rom kernel: the
// quality level rendering needs, since nearest/bilinear visibly block on
// the size reductions a coarse preview level produces. It returns src
// unchanged if target is empty or already matches src's own size.
func Scale(src image.Image, target image.Point) image.Image {
	if target == (image.Point{}) || target == src.Bounds().Size() {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, target.X, target.Y))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
