package app

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tonylturner/sitecon/internal/capture"
	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/radio"
)

// DecodedFrame is a radio packet broken out for display.
type DecodedFrame struct {
	Header  radio.Header
	Command command.Type
	Fields  []command.FieldValue
}

// DecodeFrame parses one packet. Input wrapped in SLIP END bytes is
// unwrapped first.
func DecodeFrame(data []byte) (DecodedFrame, error) {
	if len(data) > 0 && data[0] == radio.SlipEnd {
		frame, err := radio.NewFramer(bytes.NewReader(data)).ReadFrame()
		if err != nil {
			return DecodedFrame{}, fmt.Errorf("unwrap slip: %w", err)
		}
		data = frame
	}
	pkt, err := radio.DecodePacket(data)
	if err != nil {
		return DecodedFrame{}, err
	}
	fields, err := command.Describe(pkt.Command)
	if err != nil {
		return DecodedFrame{}, err
	}
	return DecodedFrame{Header: pkt.Header, Command: pkt.Command.Type(), Fields: fields}, nil
}

// ParseHex accepts hex with optional spaces, colons and a 0x prefix.
func ParseHex(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(strings.ToLower(value), "0x")
	value = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(value)
	if value == "" {
		return nil, fmt.Errorf("empty hex input")
	}
	return hex.DecodeString(value)
}

func writeFrame(w io.Writer, f DecodedFrame) {
	h := f.Header
	fmt.Fprintf(w, "  Header: v%d net=%d src=%d dst=%d group=%s ack=%v ackId=%d\n",
		h.Version, h.NetworkID, h.Src, h.Dst, h.Group, h.AckRequested, h.AckID)
	fmt.Fprintf(w, "  Command: %s (0x%02X)\n", f.Command, uint8(f.Command))
	for _, fv := range f.Fields {
		fmt.Fprintf(w, "    %s: %s\n", fv.Name, fv.Value)
	}
}

// DecodeOptions configures RunDecode.
type DecodeOptions struct {
	Hex string
	Out io.Writer
}

// RunDecode prints one decoded packet.
func RunDecode(opts DecodeOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	data, err := ParseHex(opts.Hex)
	if err != nil {
		return fmt.Errorf("parse hex: %w", err)
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Packet (%d bytes):\n", len(data))
	writeFrame(out, frame)
	return nil
}

// CaptureDumpOptions configures RunCaptureDump.
type CaptureDumpOptions struct {
	InputFile   string
	Command     string // only show this command type, case-insensitive
	MaxEntries  int
	ShowPayload bool
	Out         io.Writer
}

// RunCaptureDump prints the packets recorded in a capture file.
func RunCaptureDump(opts CaptureDumpOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	frames, err := capture.ReadFile(opts.InputFile)
	if err != nil {
		return err
	}

	count, bad := 0, 0
	for idx, f := range frames {
		decoded, err := DecodeFrame(f.Data)
		if err != nil {
			bad++
			if opts.Command == "" {
				fmt.Fprintf(out, "Frame %d %s: undecodable: %v\n", idx+1, f.Direction, err)
				fmt.Fprintf(out, "  Raw: %s\n\n", hex.EncodeToString(f.Data))
			}
			continue
		}
		if opts.Command != "" && !strings.EqualFold(decoded.Command.String(), opts.Command) {
			continue
		}
		count++
		fmt.Fprintf(out, "Frame %d %s %s:\n", idx+1, f.Direction, f.Timestamp.Format("15:04:05.000"))
		writeFrame(out, decoded)
		if opts.ShowPayload {
			fmt.Fprintf(out, "  Raw: %s\n", hex.EncodeToString(f.Data))
		}
		fmt.Fprint(out, "\n")
		if opts.MaxEntries > 0 && count >= opts.MaxEntries {
			break
		}
	}

	fmt.Fprintf(out, "%d frames, %d shown, %d undecodable\n", len(frames), count, bad)
	return nil
}
