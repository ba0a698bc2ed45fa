package historyxml

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"editengine/internal/qimage"
)

func TestWriteRead_RoundTrips(t *testing.T) {
	dump := Dump{Files: []FileDump{
		{
			Filename:     "photo.jpg",
			TargetFormat: "jpeg",
			Commands: []CommandDump{
				{Name: "load", Index: 0},
				{Name: "brightness", Index: 1, SessionID: 1, Params: []ParamDump{
					{Key: "delta", Kind: "int", Value: "20"},
				}},
			},
		},
	}}

	path := filepath.Join(t.TempDir(), "history.xml")
	if err := Write(path, dump); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !Exists(path) {
		t.Fatal("Exists() = false right after Write")
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Files) != 1 || got.Files[0].Filename != "photo.jpg" {
		t.Fatalf("Read() = %+v, want one file named photo.jpg", got)
	}
	if len(got.Files[0].Commands) != 2 || got.Files[0].Commands[1].Params[0].Value != "20" {
		t.Fatalf("Read() commands = %+v, want brightness delta=20", got.Files[0].Commands)
	}
}

func TestExists_MissingOrEmptyFile(t *testing.T) {
	if Exists(filepath.Join(t.TempDir(), "nope.xml")) {
		t.Errorf("Exists() = true for a nonexistent file")
	}
	empty := filepath.Join(t.TempDir(), "empty.xml")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if Exists(empty) {
		t.Errorf("Exists() = true for an empty file")
	}
}

func TestRead_MissingFileIsWrappedError(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.xml"))
	if err == nil {
		t.Fatal("Read on a missing file should error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read error %v does not wrap os.ErrNotExist", err)
	}
}

func TestParamsFromValues_PreservesKeyOrder(t *testing.T) {
	params := map[string]qimage.Value{
		"b": qimage.IntValue(2),
		"a": qimage.IntValue(1),
	}
	dumps := ParamsFromValues(params, []string{"a", "b"})
	if len(dumps) != 2 || dumps[0].Key != "a" || dumps[1].Key != "b" {
		t.Fatalf("ParamsFromValues order = %+v, want [a b]", dumps)
	}
}

func TestValueParamRoundTrip_AllKinds(t *testing.T) {
	values := map[string]qimage.Value{
		"i": qimage.IntValue(-5),
		"d": qimage.DoubleValue(1.5),
		"s": qimage.StringValue("hello"),
		"by": qimage.BytesValue([]byte{1, 2, 3}),
		"sz": qimage.SizeValue(image.Point{X: 4, Y: 5}),
		"r":  qimage.RectValue(image.Rect(1, 2, 3, 4)),
		"pt": qimage.PointValue(image.Point{X: 6, Y: 7}),
		"c":  qimage.ColorValue(qimage.Color{R: 1, G: 2, B: 3, A: 4}),
	}
	keys := []string{"i", "d", "s", "by", "sz", "r", "pt", "c"}
	dumps := ParamsFromValues(values, keys)

	back, err := ValuesFromParams(dumps)
	if err != nil {
		t.Fatalf("ValuesFromParams: %v", err)
	}
	for _, k := range keys {
		if back[k].Kind() != values[k].Kind() {
			t.Errorf("key %s: kind = %v, want %v", k, back[k].Kind(), values[k].Kind())
		}
	}
	if i, _ := back["i"].Int(); i != -5 {
		t.Errorf("int round-trip = %d, want -5", i)
	}
	if r, _ := back["r"].Rect(); r != image.Rect(1, 2, 3, 4) {
		t.Errorf("rect round-trip = %v, want (1,2)-(3,4)", r)
	}
}

func TestValuesFromParams_UnknownKindErrors(t *testing.T) {
	_, err := ValuesFromParams([]ParamDump{{Key: "x", Kind: "bogus", Value: "1"}})
	if err == nil {
		t.Fatal("ValuesFromParams with an unknown kind should error")
	}
}
