// Package historyxml serializes a file's edit history (filter names and
// their bound parameters, not pixel data) to the XML crash-dump and
// edit-history formats described in spec.md section 6. The stdlib
// encoding/xml is used deliberately here: none of the pack's examples or
// the rest of the retrieved ecosystem pulls in a third-party XML library,
// and this is the one ambient concern where no such dependency exists to
// wire in.
package historyxml

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"image"
	"os"

	"github.com/pkg/errors"

	"editengine/internal/qimage"
)

// Dump is the root element of both a crash dump and a per-file edit
// history document.
type Dump struct {
	XMLName xml.Name   `xml:"dump"`
	Files   []FileDump `xml:"file"`
}

// FileDump records one dirty-or-saving file's identity and its ordered
// command sequence.
type FileDump struct {
	Filename         string        `xml:"filename,attr"`
	TargetFormat     string        `xml:"targetFormat,attr"`
	OriginalFilename string        `xml:"originalFilename,attr"`
	ReadOnly         bool          `xml:"readOnly,attr"`
	Commands         []CommandDump `xml:"command"`
}

// CommandDump is one FilterCommand, serialized as its filter name plus
// its bound parameters.
type CommandDump struct {
	Name      string      `xml:"name,attr"`
	Index     int         `xml:"index,attr"`
	SessionID int         `xml:"sessionId,attr"`
	Params    []ParamDump `xml:"param"`
}

// ParamDump is one typed filter parameter, keyed and tagged with its
// qimage.Value kind so it round-trips without loss.
type ParamDump struct {
	Key   string `xml:"key,attr"`
	Kind  string `xml:"kind,attr"`
	Value string `xml:"value,attr"`
}

// Write serializes dump to path as indented XML, creating or truncating
// the file.
func Write(path string, dump Dump) error {
	data, err := xml.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("historyxml: marshal: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("historyxml: write %s: %w", path, err)
	}
	return nil
}

// Read loads and parses the dump at path. Errors are wrapped with
// github.com/pkg/errors rather than fmt.Errorf: a crash dump that fails
// to parse is itself forensic evidence, and errors.Wrap's captured stack
// trace is what makes that diagnosable after the fact, unlike a plain
// %w chain which only carries the message.
func Read(path string) (Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dump{}, errors.Wrapf(err, "historyxml: read %s", path)
	}
	var dump Dump
	if err := xml.Unmarshal(data, &dump); err != nil {
		return Dump{}, errors.Wrapf(err, "historyxml: parse %s", path)
	}
	return dump, nil
}

// Exists reports whether a dump file is present and non-empty, the
// condition spec.md's canRecover() checks.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// ParamsFromValues converts a filter's bound parameters into their
// serialized form, in the iteration order given by keys so the output is
// deterministic.
func ParamsFromValues(params map[string]qimage.Value, keys []string) []ParamDump {
	out := make([]ParamDump, 0, len(keys))
	for _, k := range keys {
		v, ok := params[k]
		if !ok {
			continue
		}
		out = append(out, valueToParam(k, v))
	}
	return out
}

// ValuesFromParams reconstructs a parameter map from its serialized form.
func ValuesFromParams(params []ParamDump) (map[string]qimage.Value, error) {
	out := make(map[string]qimage.Value, len(params))
	for _, p := range params {
		v, err := paramToValue(p)
		if err != nil {
			return nil, err
		}
		out[p.Key] = v
	}
	return out, nil
}

func valueToParam(key string, v qimage.Value) ParamDump {
	p := ParamDump{Key: key, Kind: v.Kind().String()}
	switch v.Kind() {
	case qimage.KindInt:
		i, _ := v.Int()
		p.Value = fmt.Sprintf("%d", i)
	case qimage.KindDouble:
		d, _ := v.Double()
		p.Value = fmt.Sprintf("%g", d)
	case qimage.KindString:
		s, _ := v.String()
		p.Value = s
	case qimage.KindBytes:
		b, _ := v.Bytes()
		p.Value = base64.StdEncoding.EncodeToString(b)
	case qimage.KindSize:
		s, _ := v.Size()
		p.Value = fmt.Sprintf("%d,%d", s.X, s.Y)
	case qimage.KindRect:
		r, _ := v.Rect()
		p.Value = fmt.Sprintf("%d,%d,%d,%d", r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
	case qimage.KindPoint:
		pt, _ := v.Point()
		p.Value = fmt.Sprintf("%d,%d", pt.X, pt.Y)
	case qimage.KindColor:
		c, _ := v.ColorValue()
		p.Value = fmt.Sprintf("%d,%d,%d,%d", c.R, c.G, c.B, c.A)
	}
	return p
}

func paramToValue(p ParamDump) (qimage.Value, error) {
	switch p.Kind {
	case "int":
		var i int
		if _, err := fmt.Sscanf(p.Value, "%d", &i); err != nil {
			return qimage.Value{}, fmt.Errorf("historyxml: param %s: %w", p.Key, err)
		}
		return qimage.IntValue(i), nil
	case "double":
		var d float64
		if _, err := fmt.Sscanf(p.Value, "%g", &d); err != nil {
			return qimage.Value{}, fmt.Errorf("historyxml: param %s: %w", p.Key, err)
		}
		return qimage.DoubleValue(d), nil
	case "string":
		return qimage.StringValue(p.Value), nil
	case "bytes":
		b, err := base64.StdEncoding.DecodeString(p.Value)
		if err != nil {
			return qimage.Value{}, fmt.Errorf("historyxml: param %s: %w", p.Key, err)
		}
		return qimage.BytesValue(b), nil
	case "size":
		var x, y int
		if _, err := fmt.Sscanf(p.Value, "%d,%d", &x, &y); err != nil {
			return qimage.Value{}, fmt.Errorf("historyxml: param %s: %w", p.Key, err)
		}
		return qimage.SizeValue(image.Point{X: x, Y: y}), nil
	case "rect":
		var x0, y0, x1, y1 int
		if _, err := fmt.Sscanf(p.Value, "%d,%d,%d,%d", &x0, &y0, &x1, &y1); err != nil {
			return qimage.Value{}, fmt.Errorf("historyxml: param %s: %w", p.Key, err)
		}
		return qimage.RectValue(image.Rect(x0, y0, x1, y1)), nil
	case "point":
		var x, y int
		if _, err := fmt.Sscanf(p.Value, "%d,%d", &x, &y); err != nil {
			return qimage.Value{}, fmt.Errorf("historyxml: param %s: %w", p.Key, err)
		}
		return qimage.PointValue(image.Point{X: x, Y: y}), nil
	case "color":
		var r, g, b, a int
		if _, err := fmt.Sscanf(p.Value, "%d,%d,%d,%d", &r, &g, &b, &a); err != nil {
			return qimage.Value{}, fmt.Errorf("historyxml: param %s: %w", p.Key, err)
		}
		return qimage.ColorValue(qimage.Color{R: uint8(r), G: uint8(g), B: uint8(b), A: uint8(a)}), nil
	default:
		return qimage.Value{}, fmt.Errorf("historyxml: unknown param kind %q", p.Kind)
	}
}
