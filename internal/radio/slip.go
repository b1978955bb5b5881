package radio

// SLIP framing (RFC 1055) over the gateway byte stream.

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/tonylturner/sitecon/internal/bitio"
)

// SLIP special bytes.
const (
	SlipEnd    byte = 0xC0
	SlipEsc    byte = 0xDB
	SlipEscEnd byte = 0xDC
	SlipEscEsc byte = 0xDD
)

// MaxFrameSize bounds a single unwrapped frame.
const MaxFrameSize = 1024

// Framing errors. The framer has already skipped to the next END when it
// returns one, so the caller may keep reading.
var (
	ErrFrameTooLarge = errors.New("radio: frame exceeds maximum size")
	ErrBadEscape     = errors.New("radio: invalid SLIP escape")
)

// EncodeSLIP wraps data in a SLIP frame, with END on both sides.
func EncodeSLIP(data []byte) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, SlipEnd)
	for _, b := range data {
		switch b {
		case SlipEnd:
			out = append(out, SlipEsc, SlipEscEnd)
		case SlipEsc:
			out = append(out, SlipEsc, SlipEscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, SlipEnd)
}

// Framer splits a byte stream into SLIP frames.
type Framer struct {
	r *bitio.Reader
}

// NewFramer reads frames from in.
func NewFramer(in io.Reader) *Framer {
	return &Framer{r: bitio.NewReader(bufio.NewReader(in))}
}

// ReadFrame returns the next non-empty frame with escapes removed.
func (f *Framer) ReadFrame() ([]byte, error) {
	if err := f.skipEnds(); err != nil {
		return nil, err
	}
	var frame []byte
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case SlipEnd:
			return frame, nil
		case SlipEsc:
			next, err := f.r.ReadByte()
			if err != nil {
				return nil, err
			}
			switch next {
			case SlipEscEnd:
				b = SlipEnd
			case SlipEscEsc:
				b = SlipEsc
			case SlipEnd:
				return nil, fmt.Errorf("%w: 0x%02X", ErrBadEscape, next)
			default:
				f.discard()
				return nil, fmt.Errorf("%w: 0x%02X", ErrBadEscape, next)
			}
		}
		if len(frame) >= MaxFrameSize {
			f.discard()
			return nil, ErrFrameTooLarge
		}
		frame = append(frame, b)
	}
}

// discard drops bytes up to and including the next END. A read error is
// left for the next ReadFrame to report.
func (f *Framer) discard() {
	for {
		b, err := f.r.ReadByte()
		if err != nil || b == SlipEnd {
			return
		}
	}
}

// skipEnds consumes END bytes until the first byte of a frame, leaving that
// byte unread.
func (f *Framer) skipEnds() error {
	for {
		b, err := f.r.PeekByte()
		if err != nil {
			return err
		}
		if b != SlipEnd {
			return nil
		}
		if _, err := f.r.ReadByte(); err != nil {
			return err
		}
	}
}
