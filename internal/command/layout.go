package command

// Positional parameter transport.
//
// A command never touches the bit stream directly. It converts itself to a
// list of positional parameters (param1..paramN) and the field layout for its
// type decides how each parameter is laid out on the wire. Reordering or
// resizing wire fields is a layout change only.

import (
	"fmt"

	"github.com/tonylturner/sitecon/internal/bitio"
)

// FieldKind selects how a parameter is encoded.
type FieldKind uint8

const (
	// FieldBits is an unsigned field of Width bits.
	FieldBits FieldKind = iota
	// FieldPString is a byte-aligned, length-prefixed string.
	FieldPString
	// FieldAlign pads (write) or skips (read) to the next byte boundary. It
	// consumes no parameter.
	FieldAlign
	// FieldRepeat is a group of sub-fields repeated Param.Items times. The
	// repeat count is written as an 8-bit field.
	FieldRepeat
)

// Field is one entry of a command layout.
type Field struct {
	Name  string
	Kind  FieldKind
	Width uint8
	Group []Field
}

// Param is one positional parameter. Exactly one of Num, Str or Items is
// meaningful, depending on the field kind.
type Param struct {
	Num   uint16
	Str   string
	Items []Params
}

// Params is the positional parameter list of one command.
type Params []Param

// maxRepeat bounds FieldRepeat groups to what the 8-bit count can carry.
const maxRepeat = 255

func bits(name string, width uint8) Field { return Field{Name: name, Kind: FieldBits, Width: width} }
func pstring(name string) Field           { return Field{Name: name, Kind: FieldPString} }
func align() Field                        { return Field{Name: "pad", Kind: FieldAlign} }
func repeat(name string, group ...Field) Field {
	return Field{Name: name, Kind: FieldRepeat, Group: group}
}

func num(v uint16) Param     { return Param{Num: v} }
func str(s string) Param     { return Param{Str: s} }
func items(p []Params) Param { return Param{Items: p} }

// paramCount is the number of parameters a layout consumes.
func paramCount(layout []Field) int {
	n := 0
	for _, f := range layout {
		if f.Kind != FieldAlign {
			n++
		}
	}
	return n
}

func writeParams(w *bitio.Writer, layout []Field, params Params) error {
	if len(params) != paramCount(layout) {
		return fmt.Errorf("command: %d params for a %d-param layout", len(params), paramCount(layout))
	}
	i := 0
	for _, f := range layout {
		if f.Kind == FieldAlign {
			if err := w.RoundOutByte(); err != nil {
				return err
			}
			continue
		}
		p := params[i]
		i++
		switch f.Kind {
		case FieldBits:
			if err := w.WriteBits(p.Num, f.Width); err != nil {
				return fmt.Errorf("param %s: %w", f.Name, err)
			}
		case FieldPString:
			if err := w.WritePString(p.Str); err != nil {
				return fmt.Errorf("param %s: %w", f.Name, err)
			}
		case FieldRepeat:
			if len(p.Items) > maxRepeat {
				return fmt.Errorf("param %s: %d items (max %d)", f.Name, len(p.Items), maxRepeat)
			}
			if err := w.WriteBits(uint16(len(p.Items)), 8); err != nil {
				return err
			}
			for _, item := range p.Items {
				if err := writeParams(w, f.Group, item); err != nil {
					return fmt.Errorf("param %s: %w", f.Name, err)
				}
			}
		default:
			return fmt.Errorf("param %s: unknown field kind %d", f.Name, f.Kind)
		}
	}
	return nil
}

func readParams(r *bitio.Reader, layout []Field) (Params, error) {
	params := make(Params, 0, paramCount(layout))
	for _, f := range layout {
		switch f.Kind {
		case FieldAlign:
			r.SkipToByte()
		case FieldBits:
			v, err := r.ReadBits(f.Width)
			if err != nil {
				return nil, fmt.Errorf("param %s: %w", f.Name, err)
			}
			params = append(params, num(v))
		case FieldPString:
			s, err := r.ReadPString()
			if err != nil {
				return nil, fmt.Errorf("param %s: %w", f.Name, err)
			}
			params = append(params, str(s))
		case FieldRepeat:
			n, err := r.ReadBits(8)
			if err != nil {
				return nil, fmt.Errorf("param %s count: %w", f.Name, err)
			}
			group := make([]Params, 0, n)
			for j := 0; j < int(n); j++ {
				item, err := readParams(r, f.Group)
				if err != nil {
					return nil, fmt.Errorf("param %s[%d]: %w", f.Name, j, err)
				}
				group = append(group, item)
			}
			params = append(params, items(group))
		default:
			return nil, fmt.Errorf("param %s: unknown field kind %d", f.Name, f.Kind)
		}
	}
	return params, nil
}
