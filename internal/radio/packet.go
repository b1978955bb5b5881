package radio

// Radio packet: a bit-packed header followed by one command envelope.
//
//   version(2) ackReq(1) reserved(1) group(4) | networkID(8) | src(8) | dst(8) | [ackID(8)] | command

import (
	"bytes"
	"fmt"

	"github.com/tonylturner/sitecon/internal/bitio"
	"github.com/tonylturner/sitecon/internal/command"
)

const (
	// ProtocolVersion is the only header version this controller speaks.
	ProtocolVersion = 1
	// ControllerAddr is the controller's own net address.
	ControllerAddr uint8 = 0x00
	// BroadcastAddr reaches every device on the network, including ones
	// that have no net address yet.
	BroadcastAddr uint8 = 0xFF
	// BroadcastNetworkID is used by devices that have not joined a network.
	BroadcastNetworkID uint8 = 0xFF

	headerSize = 4
)

// Header is the fixed radio packet header.
type Header struct {
	Version      uint8
	AckRequested bool
	Group        command.Group
	NetworkID    uint8
	Src          uint8
	Dst          uint8
	AckID        uint8
}

// Packet is a decoded radio frame.
type Packet struct {
	Header  Header
	Command command.Command
}

// EncodePacket serializes p. The header group is taken from the command.
func EncodePacket(p Packet) ([]byte, error) {
	if p.Command == nil {
		return nil, fmt.Errorf("radio: packet without command")
	}
	group, ok := command.GroupOf(p.Command.Type())
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", command.ErrUnknownType, uint8(p.Command.Type()))
	}
	h := p.Header
	if h.Version == 0 {
		h.Version = ProtocolVersion
	}

	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	steps := []struct {
		v     uint16
		width uint8
	}{
		{uint16(h.Version), 2},
		{boolBit(h.AckRequested), 1},
		{0, 1},
		{uint16(group), 4},
		{uint16(h.NetworkID), 8},
		{uint16(h.Src), 8},
		{uint16(h.Dst), 8},
	}
	for _, s := range steps {
		if err := w.WriteBits(s.v, s.width); err != nil {
			return nil, fmt.Errorf("radio header: %w", err)
		}
	}
	if h.AckRequested {
		if err := w.WriteByte(h.AckID); err != nil {
			return nil, err
		}
	}
	if err := command.Encode(w, p.Command); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePacket parses one SLIP-unwrapped frame.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < headerSize+1 {
		return Packet{}, errTooShort("radio packet", len(data), headerSize+1)
	}
	r := bitio.NewReader(bytes.NewReader(data))
	var h Header
	var fields [7]uint16
	widths := [7]uint8{2, 1, 1, 4, 8, 8, 8}
	for i, width := range widths {
		v, err := r.ReadBits(width)
		if err != nil {
			return Packet{}, fmt.Errorf("radio header: %w", err)
		}
		fields[i] = v
	}
	h.Version = uint8(fields[0])
	h.AckRequested = fields[1] == 1
	h.Group = command.Group(fields[3])
	h.NetworkID = uint8(fields[4])
	h.Src = uint8(fields[5])
	h.Dst = uint8(fields[6])
	if h.Version != ProtocolVersion {
		return Packet{}, fmt.Errorf("radio: unsupported protocol version %d", h.Version)
	}
	if h.AckRequested {
		id, err := r.ReadByte()
		if err != nil {
			return Packet{}, fmt.Errorf("radio ack id: %w", err)
		}
		h.AckID = id
	}
	cmd, err := command.Decode(r)
	if err != nil {
		return Packet{}, err
	}
	if group, _ := command.GroupOf(cmd.Type()); group != h.Group {
		return Packet{}, fmt.Errorf("radio: %s carried in group %s, want %s", cmd.Type(), h.Group, group)
	}
	return Packet{Header: h, Command: cmd}, nil
}

func errTooShort(what string, got, want int) error {
	return fmt.Errorf("%s too short: %d bytes (min %d)", what, got, want)
}

func boolBit(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
