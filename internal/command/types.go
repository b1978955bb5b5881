package command

// Radio command identifiers and the small enums carried inside commands.

// Type is the one-byte command identifier that opens every envelope.
type Type uint8

const (
	TypeNetCheck           Type = 0x01
	TypeNetSetup           Type = 0x02
	TypeAssocReq           Type = 0x10
	TypeAssocResp          Type = 0x11
	TypeAssocCheck         Type = 0x12
	TypeAssocAck           Type = 0x13
	TypeScan               Type = 0x20
	TypeButton             Type = 0x21
	TypeDisplayMessage     Type = 0x22
	TypeSetPosController   Type = 0x23
	TypeClearPosController Type = 0x24
	TypeLightLocation      Type = 0x25
)

// String returns the command name.
func (t Type) String() string {
	if c, ok := codecs[t]; ok {
		return c.name
	}
	return "Unknown"
}

// Group is the 4-bit command group carried in the packet header.
type Group uint8

const (
	GroupNetMgmt Group = 0x0
	GroupAssoc   Group = 0x1
	GroupControl Group = 0x2
)

// String returns a label for the group.
func (g Group) String() string {
	switch g {
	case GroupNetMgmt:
		return "NetMgmt"
	case GroupAssoc:
		return "Assoc"
	case GroupControl:
		return "Control"
	default:
		return "Unknown"
	}
}

// DeviceKind identifies the hardware family announced in AssocReq.
type DeviceKind uint8

const (
	KindUnknown DeviceKind = 0
	KindCHE     DeviceKind = 1
	KindAisle   DeviceKind = 2
)

// String returns the configuration name of the kind.
func (k DeviceKind) String() string {
	switch k {
	case KindCHE:
		return "che"
	case KindAisle:
		return "aisle"
	default:
		return "unknown"
	}
}

// ParseDeviceKind maps a configuration name to a DeviceKind.
func ParseDeviceKind(s string) DeviceKind {
	switch s {
	case "che":
		return KindCHE
	case "aisle":
		return KindAisle
	default:
		return KindUnknown
	}
}

// AssocState is the 2-bit association state reported in AssocAck.
type AssocState uint8

const (
	AssocUnknown    AssocState = 0
	AssocAssociated AssocState = 1
	AssocRejected   AssocState = 2
)

// Color is the 3-bit LED color of a position controller or light span.
type Color uint8

const (
	ColorOff Color = iota
	ColorRed
	ColorGreen
	ColorBlue
	ColorYellow
	ColorCyan
	ColorMagenta
	ColorWhite
)

// String returns the color name.
func (c Color) String() string {
	switch c {
	case ColorOff:
		return "off"
	case ColorRed:
		return "red"
	case ColorGreen:
		return "green"
	case ColorBlue:
		return "blue"
	case ColorYellow:
		return "yellow"
	case ColorCyan:
		return "cyan"
	case ColorMagenta:
		return "magenta"
	case ColorWhite:
		return "white"
	default:
		return "invalid"
	}
}

// ParseColor maps a color name to a Color.
func ParseColor(s string) (Color, bool) {
	for c := ColorOff; c <= ColorWhite; c++ {
		if c.String() == s {
			return c, true
		}
	}
	return ColorOff, false
}

// Frequency is the 4-bit blink rate of a position controller.
type Frequency uint8

const (
	FreqSolid Frequency = 0
	FreqBlink Frequency = 1
	FreqFast  Frequency = 2
)

// Position controller display constants.
const (
	// MaxDisplayQty is the largest quantity a two-digit controller shows.
	MaxDisplayQty = 99
	// QtyDashes renders "--" on the controller.
	QtyDashes = 0xFF
	// BrightnessFull is the brightest 4-bit duty cycle.
	BrightnessFull = 0xF
	// BrightnessDim is used for informational (non-pick) displays.
	BrightnessDim = 0x4
	// PositionAll addresses every controller in ClearPosController.
	PositionAll = 0
)
