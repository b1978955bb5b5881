package command

// Command is the closed set of radio commands. Every concrete command in
// this package implements it; the codec table is keyed by Type.
type Command interface {
	Type() Type
	isCommand()
}

// NetCheck probes or reports the radio network on a channel.
type NetCheck struct {
	Response  bool
	NetworkID uint8
	Channel   uint8
	Energy    uint8
	GUID      string
}

// NetSetup moves the gateway to a network id and channel.
type NetSetup struct {
	NetworkID uint8
	Channel   uint8
}

// AssocReq is sent by a device looking for a network address.
type AssocReq struct {
	GUID      string
	Kind      DeviceKind
	HWVersion string
	SWVersion string
}

// AssocResp assigns a network address to the device with GUID.
type AssocResp struct {
	GUID         string
	NetAddress   uint8
	NetworkID    uint8
	SleepSeconds uint16
}

// AssocCheck is a device's periodic "am I still associated" probe.
type AssocCheck struct {
	GUID    string
	Battery uint8 // percent, 0..100
}

// AssocAck answers AssocCheck.
type AssocAck struct {
	GUID  string
	State AssocState
}

// Scan carries one barcode read, e.g. "C%123".
type Scan struct {
	Value string
}

// Button reports a position controller press and the quantity shown.
type Button struct {
	Position uint8
	Value    uint16
}

// DisplayLines is the number of text lines on a CHE display.
const DisplayLines = 4

// DisplayMessage replaces the CHE display text.
type DisplayMessage struct {
	Lines [DisplayLines]string
}

// PosControllerInstr is the display state of one position controller.
type PosControllerInstr struct {
	Position   uint8
	ReqQty     uint8
	MinQty     uint8
	MaxQty     uint8
	Color      Color
	Frequency  Frequency
	Brightness uint8
}

// SetPosController updates a batch of position controllers in one frame.
type SetPosController struct {
	Instructions []PosControllerInstr
}

// ClearPosController blanks one controller, or all of them with PositionAll.
type ClearPosController struct {
	Position uint8
}

// LightLocation lights a span of LEDs on an aisle controller channel.
type LightLocation struct {
	Channel  uint8
	FirstLED uint16
	Count    uint16
	Color    Color
}

func (NetCheck) Type() Type           { return TypeNetCheck }
func (NetSetup) Type() Type           { return TypeNetSetup }
func (AssocReq) Type() Type           { return TypeAssocReq }
func (AssocResp) Type() Type          { return TypeAssocResp }
func (AssocCheck) Type() Type         { return TypeAssocCheck }
func (AssocAck) Type() Type           { return TypeAssocAck }
func (Scan) Type() Type               { return TypeScan }
func (Button) Type() Type             { return TypeButton }
func (DisplayMessage) Type() Type     { return TypeDisplayMessage }
func (SetPosController) Type() Type   { return TypeSetPosController }
func (ClearPosController) Type() Type { return TypeClearPosController }
func (LightLocation) Type() Type      { return TypeLightLocation }

func (NetCheck) isCommand()           {}
func (NetSetup) isCommand()           {}
func (AssocReq) isCommand()           {}
func (AssocResp) isCommand()          {}
func (AssocCheck) isCommand()         {}
func (AssocAck) isCommand()           {}
func (Scan) isCommand()               {}
func (Button) isCommand()             {}
func (DisplayMessage) isCommand()     {}
func (SetPosController) isCommand()   {}
func (ClearPosController) isCommand() {}
func (LightLocation) isCommand()      {}
