package qimage

import "image"

// Kind tags which field of a Value is meaningful.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindDouble
	KindString
	KindBytes
	KindSize
	KindRect
	KindPoint
	KindColor
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindSize:
		return "size"
	case KindRect:
		return "rect"
	case KindPoint:
		return "point"
	case KindColor:
		return "color"
	default:
		return "invalid"
	}
}

// Color is a plain RGBA tuple, avoiding a dependency on image/color's
// interface-typed Color for serialization purposes.
type Color struct {
	R, G, B, A uint8
}

// Value is the closed tagged-value type used for filter parameters and for
// round-tripping a FilterCommand's bound options through history XML.
// It intentionally does not use interface{}: the set of representable kinds
// is closed, matching the "heterogeneous variant parameters" redesign note.
type Value struct {
	kind   Kind
	i      int64
	f      float64
	s      string
	b      []byte
	size   image.Point
	rect   image.Rectangle
	point  image.Point
	color  Color
}

func IntValue(v int) Value       { return Value{kind: KindInt, i: int64(v)} }
func DoubleValue(v float64) Value { return Value{kind: KindDouble, f: v} }
func StringValue(v string) Value { return Value{kind: KindString, s: v} }
func BytesValue(v []byte) Value  { return Value{kind: KindBytes, b: v} }
func SizeValue(v image.Point) Value { return Value{kind: KindSize, size: v} }
func RectValue(v image.Rectangle) Value { return Value{kind: KindRect, rect: v} }
func PointValue(v image.Point) Value { return Value{kind: KindPoint, point: v} }
func ColorValue(v Color) Value   { return Value{kind: KindColor, color: v} }

// Kind reports which accessor is valid for this Value.
func (v Value) Kind() Kind { return v.kind }

func (v Value) Int() (int, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return int(v.i), true
}

func (v Value) Double() (float64, bool) {
	if v.kind != KindDouble {
		return 0, false
	}
	return v.f, true
}

func (v Value) String() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.b, true
}

func (v Value) Size() (image.Point, bool) {
	if v.kind != KindSize {
		return image.Point{}, false
	}
	return v.size, true
}

func (v Value) Rect() (image.Rectangle, bool) {
	if v.kind != KindRect {
		return image.Rectangle{}, false
	}
	return v.rect, true
}

func (v Value) Point() (image.Point, bool) {
	if v.kind != KindPoint {
		return image.Point{}, false
	}
	return v.point, true
}

func (v Value) ColorValue() (Color, bool) {
	if v.kind != KindColor {
		return Color{}, false
	}
	return v.color, true
}
