package command

// Command envelope codec: [1B type][fields per layout], padded to a byte.

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/tonylturner/sitecon/internal/bitio"
)

// ErrUnknownType is returned when decoding an unregistered type byte.
var ErrUnknownType = errors.New("command: unknown type")

type codec struct {
	name       string
	group      Group
	layout     []Field
	toParams   func(Command) (Params, error)
	fromParams func(Params) Command
}

var posConGroup = []Field{
	bits("position", 8),
	bits("reqQty", 8),
	bits("minQty", 8),
	bits("maxQty", 8),
	bits("color", 3),
	bits("frequency", 4),
	bits("brightness", 4),
	align(),
}

var codecs = map[Type]codec{
	TypeNetCheck: {
		name:   "NetCheck",
		group:  GroupNetMgmt,
		layout: []Field{bits("checkType", 1), bits("networkId", 8), bits("channel", 4), bits("energy", 8), align(), pstring("guid")},
		toParams: func(c Command) (Params, error) {
			v, err := as[NetCheck](c)
			if err != nil {
				return nil, err
			}
			return Params{num(boolBit(v.Response)), num(uint16(v.NetworkID)), num(uint16(v.Channel)), num(uint16(v.Energy)), str(v.GUID)}, nil
		},
		fromParams: func(p Params) Command {
			return NetCheck{Response: p[0].Num == 1, NetworkID: uint8(p[1].Num), Channel: uint8(p[2].Num), Energy: uint8(p[3].Num), GUID: p[4].Str}
		},
	},
	TypeNetSetup: {
		name:   "NetSetup",
		group:  GroupNetMgmt,
		layout: []Field{bits("networkId", 8), bits("channel", 4), align()},
		toParams: func(c Command) (Params, error) {
			v, err := as[NetSetup](c)
			if err != nil {
				return nil, err
			}
			return Params{num(uint16(v.NetworkID)), num(uint16(v.Channel))}, nil
		},
		fromParams: func(p Params) Command {
			return NetSetup{NetworkID: uint8(p[0].Num), Channel: uint8(p[1].Num)}
		},
	},
	TypeAssocReq: {
		name:   "AssocReq",
		group:  GroupAssoc,
		layout: []Field{pstring("guid"), bits("kind", 4), align(), pstring("hwVersion"), pstring("swVersion")},
		toParams: func(c Command) (Params, error) {
			v, err := as[AssocReq](c)
			if err != nil {
				return nil, err
			}
			return Params{str(v.GUID), num(uint16(v.Kind)), str(v.HWVersion), str(v.SWVersion)}, nil
		},
		fromParams: func(p Params) Command {
			return AssocReq{GUID: p[0].Str, Kind: DeviceKind(p[1].Num), HWVersion: p[2].Str, SWVersion: p[3].Str}
		},
	},
	TypeAssocResp: {
		name:   "AssocResp",
		group:  GroupAssoc,
		layout: []Field{pstring("guid"), bits("netAddress", 8), bits("networkId", 8), bits("sleepSeconds", 16)},
		toParams: func(c Command) (Params, error) {
			v, err := as[AssocResp](c)
			if err != nil {
				return nil, err
			}
			return Params{str(v.GUID), num(uint16(v.NetAddress)), num(uint16(v.NetworkID)), num(v.SleepSeconds)}, nil
		},
		fromParams: func(p Params) Command {
			return AssocResp{GUID: p[0].Str, NetAddress: uint8(p[1].Num), NetworkID: uint8(p[2].Num), SleepSeconds: p[3].Num}
		},
	},
	TypeAssocCheck: {
		name:   "AssocCheck",
		group:  GroupAssoc,
		layout: []Field{pstring("guid"), bits("battery", 7), align()},
		toParams: func(c Command) (Params, error) {
			v, err := as[AssocCheck](c)
			if err != nil {
				return nil, err
			}
			return Params{str(v.GUID), num(uint16(v.Battery))}, nil
		},
		fromParams: func(p Params) Command {
			return AssocCheck{GUID: p[0].Str, Battery: uint8(p[1].Num)}
		},
	},
	TypeAssocAck: {
		name:   "AssocAck",
		group:  GroupAssoc,
		layout: []Field{pstring("guid"), bits("state", 2), align()},
		toParams: func(c Command) (Params, error) {
			v, err := as[AssocAck](c)
			if err != nil {
				return nil, err
			}
			return Params{str(v.GUID), num(uint16(v.State))}, nil
		},
		fromParams: func(p Params) Command {
			return AssocAck{GUID: p[0].Str, State: AssocState(p[1].Num)}
		},
	},
	TypeScan: {
		name:   "Scan",
		group:  GroupControl,
		layout: []Field{pstring("value")},
		toParams: func(c Command) (Params, error) {
			v, err := as[Scan](c)
			if err != nil {
				return nil, err
			}
			return Params{str(v.Value)}, nil
		},
		fromParams: func(p Params) Command {
			return Scan{Value: p[0].Str}
		},
	},
	TypeButton: {
		name:   "Button",
		group:  GroupControl,
		layout: []Field{bits("position", 8), bits("value", 16)},
		toParams: func(c Command) (Params, error) {
			v, err := as[Button](c)
			if err != nil {
				return nil, err
			}
			return Params{num(uint16(v.Position)), num(v.Value)}, nil
		},
		fromParams: func(p Params) Command {
			return Button{Position: uint8(p[0].Num), Value: p[1].Num}
		},
	},
	TypeDisplayMessage: {
		name:   "DisplayMessage",
		group:  GroupControl,
		layout: []Field{pstring("line1"), pstring("line2"), pstring("line3"), pstring("line4")},
		toParams: func(c Command) (Params, error) {
			v, err := as[DisplayMessage](c)
			if err != nil {
				return nil, err
			}
			return Params{str(v.Lines[0]), str(v.Lines[1]), str(v.Lines[2]), str(v.Lines[3])}, nil
		},
		fromParams: func(p Params) Command {
			return DisplayMessage{Lines: [DisplayLines]string{p[0].Str, p[1].Str, p[2].Str, p[3].Str}}
		},
	},
	TypeSetPosController: {
		name:   "SetPosController",
		group:  GroupControl,
		layout: []Field{repeat("instructions", posConGroup...)},
		toParams: func(c Command) (Params, error) {
			v, err := as[SetPosController](c)
			if err != nil {
				return nil, err
			}
			group := make([]Params, 0, len(v.Instructions))
			for _, in := range v.Instructions {
				group = append(group, Params{
					num(uint16(in.Position)),
					num(uint16(in.ReqQty)),
					num(uint16(in.MinQty)),
					num(uint16(in.MaxQty)),
					num(uint16(in.Color)),
					num(uint16(in.Frequency)),
					num(uint16(in.Brightness)),
				})
			}
			return Params{items(group)}, nil
		},
		fromParams: func(p Params) Command {
			out := SetPosController{Instructions: make([]PosControllerInstr, 0, len(p[0].Items))}
			for _, in := range p[0].Items {
				out.Instructions = append(out.Instructions, PosControllerInstr{
					Position:   uint8(in[0].Num),
					ReqQty:     uint8(in[1].Num),
					MinQty:     uint8(in[2].Num),
					MaxQty:     uint8(in[3].Num),
					Color:      Color(in[4].Num),
					Frequency:  Frequency(in[5].Num),
					Brightness: uint8(in[6].Num),
				})
			}
			return out
		},
	},
	TypeClearPosController: {
		name:   "ClearPosController",
		group:  GroupControl,
		layout: []Field{bits("position", 8)},
		toParams: func(c Command) (Params, error) {
			v, err := as[ClearPosController](c)
			if err != nil {
				return nil, err
			}
			return Params{num(uint16(v.Position))}, nil
		},
		fromParams: func(p Params) Command {
			return ClearPosController{Position: uint8(p[0].Num)}
		},
	},
	TypeLightLocation: {
		name:   "LightLocation",
		group:  GroupControl,
		layout: []Field{bits("channel", 4), bits("firstLed", 16), bits("count", 16), bits("color", 3), align()},
		toParams: func(c Command) (Params, error) {
			v, err := as[LightLocation](c)
			if err != nil {
				return nil, err
			}
			return Params{num(uint16(v.Channel)), num(v.FirstLED), num(v.Count), num(uint16(v.Color))}, nil
		},
		fromParams: func(p Params) Command {
			return LightLocation{Channel: uint8(p[0].Num), FirstLED: p[1].Num, Count: p[2].Num, Color: Color(p[3].Num)}
		},
	},
}

// GroupOf returns the header group for a command type.
func GroupOf(t Type) (Group, bool) {
	c, ok := codecs[t]
	return c.group, ok
}

// Encode writes the envelope for cmd and leaves w byte aligned.
func Encode(w *bitio.Writer, cmd Command) error {
	if cmd == nil {
		return errors.New("command: nil command")
	}
	c, ok := codecs[cmd.Type()]
	if !ok {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(cmd.Type()))
	}
	params, err := c.toParams(cmd)
	if err != nil {
		return fmt.Errorf("command %s: %w", c.name, err)
	}
	if err := w.WriteByte(byte(cmd.Type())); err != nil {
		return err
	}
	if err := writeParams(w, c.layout, params); err != nil {
		return fmt.Errorf("command %s: %w", c.name, err)
	}
	return w.RoundOutByte()
}

// Decode reads one envelope. Truncated input fails with bitio.ErrTruncated
// in the error chain.
func Decode(r *bitio.Reader) (Command, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("command type: %w", err)
	}
	c, ok := codecs[Type(b)]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, b)
	}
	params, err := readParams(r, c.layout)
	if err != nil {
		return nil, fmt.Errorf("command %s: %w", c.name, err)
	}
	r.SkipToByte()
	return c.fromParams(params), nil
}

// Marshal encodes cmd into a new byte slice.
func Marshal(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(bitio.NewWriter(&buf), cmd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a single envelope from data.
func Unmarshal(data []byte) (Command, error) {
	return Decode(bitio.NewReader(bytes.NewReader(data)))
}

// FieldValue is a named, formatted parameter for diagnostics output.
type FieldValue struct {
	Name  string
	Value string
}

// Describe lists the wire fields of cmd in layout order.
func Describe(cmd Command) ([]FieldValue, error) {
	c, ok := codecs[cmd.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownType, uint8(cmd.Type()))
	}
	params, err := c.toParams(cmd)
	if err != nil {
		return nil, err
	}
	return describe("", c.layout, params), nil
}

func describe(prefix string, layout []Field, params Params) []FieldValue {
	var out []FieldValue
	i := 0
	for _, f := range layout {
		if f.Kind == FieldAlign {
			continue
		}
		p := params[i]
		i++
		switch f.Kind {
		case FieldBits:
			out = append(out, FieldValue{Name: prefix + f.Name, Value: strconv.Itoa(int(p.Num))})
		case FieldPString:
			out = append(out, FieldValue{Name: prefix + f.Name, Value: strconv.Quote(p.Str)})
		case FieldRepeat:
			out = append(out, FieldValue{Name: prefix + f.Name, Value: strconv.Itoa(len(p.Items))})
			for j, item := range p.Items {
				out = append(out, describe(fmt.Sprintf("%s%s[%d].", prefix, f.Name, j), f.Group, item)...)
			}
		}
	}
	return out
}

func as[T Command](c Command) (T, error) {
	if v, ok := c.(T); ok {
		return v, nil
	}
	if p, ok := any(c).(*T); ok && p != nil {
		return *p, nil
	}
	var zero T
	return zero, fmt.Errorf("unexpected command value %T", c)
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
