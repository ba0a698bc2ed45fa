package displaylevel

import (
	"image"
	"testing"
)

func TestLevel_IsCropped(t *testing.T) {
	bounded := Level{Size: image.Point{X: 100, Y: 100}}
	if bounded.IsCropped() {
		t.Errorf("a level with no MinimumSize reports cropped")
	}

	cropped := Level{Size: image.Point{X: 100, Y: 100}, MinimumSize: image.Point{X: 50, Y: 50}}
	if !cropped.IsCropped() {
		t.Errorf("a level with a smaller MinimumSize should report cropped")
	}

	sameAsSize := Level{Size: image.Point{X: 100, Y: 100}, MinimumSize: image.Point{X: 100, Y: 100}}
	if sameAsSize.IsCropped() {
		t.Errorf("MinimumSize equal to Size should not count as cropped")
	}
}

func TestLevel_IsBounded(t *testing.T) {
	full := Level{}
	if full.IsBounded() {
		t.Errorf("a zero-Size level should be unbounded (the full image level)")
	}
	bounded := Level{Size: image.Point{X: 1, Y: 1}}
	if !bounded.IsBounded() {
		t.Errorf("a level with a nonzero Size should be bounded")
	}
}

func TestLevel_TargetSize_UnboundedReturnsFullSize(t *testing.T) {
	l := Level{}
	full := image.Point{X: 4000, Y: 3000}
	if got := l.TargetSize(full); got != full {
		t.Errorf("TargetSize(unbounded) = %v, want %v", got, full)
	}
}

func TestLevel_TargetSize_NeverUpscales(t *testing.T) {
	l := Level{Size: image.Point{X: 1000, Y: 1000}}
	small := image.Point{X: 50, Y: 25}
	if got := l.TargetSize(small); got != small {
		t.Errorf("TargetSize downscaled an already-smaller image: got %v, want %v", got, small)
	}
}

func TestLevel_TargetSize_PreservesAspectRatio(t *testing.T) {
	l := Level{Size: image.Point{X: 100, Y: 100}}
	got := l.TargetSize(image.Point{X: 400, Y: 200})
	if got.X != 100 || got.Y != 50 {
		t.Errorf("TargetSize = %v, want {100 50}", got)
	}
}

func TestLevel_TargetArea_UncroppedCoversTargetSize(t *testing.T) {
	l := Level{Size: image.Point{X: 200, Y: 200}}
	area := l.TargetArea(image.Point{X: 200, Y: 200})
	if area != (image.Rectangle{Max: image.Point{X: 200, Y: 200}}) {
		t.Errorf("TargetArea(uncropped) = %v, want the full target rect", area)
	}
}

func TestLevel_TargetArea_CroppedIsCentered(t *testing.T) {
	l := Level{Size: image.Point{X: 100, Y: 100}, MinimumSize: image.Point{X: 50, Y: 100}}
	area := l.TargetArea(image.Point{X: 100, Y: 100})
	wantWidth := 50
	gotWidth := area.Dx()
	if gotWidth != wantWidth {
		t.Fatalf("crop width = %d, want %d", gotWidth, wantWidth)
	}
	if area.Min.X != 25 {
		t.Errorf("crop is not centered: Min.X = %d, want 25", area.Min.X)
	}
}

func TestDefaultSizeFrom(t *testing.T) {
	if got := DefaultSizeFrom(image.Point{X: 64, Y: 32}); got != (image.Point{X: 128, Y: 64}) {
		t.Errorf("DefaultSizeFrom = %v, want {128 64}", got)
	}
	if got := DefaultSizeFrom(image.Point{}); got != (image.Point{}) {
		t.Errorf("DefaultSizeFrom(zero) = %v, want zero (unbounded stays unbounded)", got)
	}
}
