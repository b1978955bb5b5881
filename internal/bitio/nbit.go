package bitio

// Fixed-width unsigned fields for the bit-packed radio wire format.
//
// Widths run from 1 to 16 bits. The value is held in a uint16 so that every
// legal width fits without conversion; anything wider goes through the
// byte-aligned primitives instead.

import (
	"errors"
	"fmt"
)

// MaxWidth is the widest field the bit stream packs.
const MaxWidth = 16

var (
	// ErrWidth is returned for a field width outside 1..MaxWidth.
	ErrWidth = errors.New("bitio: invalid field width")
	// ErrOutOfRange is returned when a value does not fit its declared width.
	ErrOutOfRange = errors.New("bitio: value out of range")
)

// NBitInteger is an unsigned integer constrained to a fixed bit width.
type NBitInteger struct {
	width uint8
	value uint16
}

// NewNBitInteger returns a field of the given width holding value.
func NewNBitInteger(width uint8, value uint16) (NBitInteger, error) {
	if err := checkWidth(width); err != nil {
		return NBitInteger{}, err
	}
	n := NBitInteger{width: width}
	if err := n.SetValue(value); err != nil {
		return NBitInteger{}, err
	}
	return n, nil
}

// MustNBitInteger is NewNBitInteger for compile-time constants. It panics on
// an invalid width or value.
func MustNBitInteger(width uint8, value uint16) NBitInteger {
	n, err := NewNBitInteger(width, value)
	if err != nil {
		panic(err)
	}
	return n
}

// Width returns the number of bits the field occupies on the wire.
func (n NBitInteger) Width() uint8 { return n.width }

// Value returns the field value.
func (n NBitInteger) Value() uint16 { return n.value }

// Max returns the largest value the field can hold.
func (n NBitInteger) Max() uint16 { return maxForWidth(n.width) }

// SetValue replaces the value. Values that do not fit are rejected, never
// truncated.
func (n *NBitInteger) SetValue(value uint16) error {
	if err := checkWidth(n.width); err != nil {
		return err
	}
	if value > maxForWidth(n.width) {
		return fmt.Errorf("%w: %d does not fit in %d bits", ErrOutOfRange, value, n.width)
	}
	n.value = value
	return nil
}

// String formats the field as value/width.
func (n NBitInteger) String() string {
	return fmt.Sprintf("%d/%db", n.value, n.width)
}

func checkWidth(width uint8) error {
	if width == 0 || width > MaxWidth {
		return fmt.Errorf("%w: %d", ErrWidth, width)
	}
	return nil
}

func maxForWidth(width uint8) uint16 {
	if width >= 16 {
		return 0xFFFF
	}
	return uint16(1)<<width - 1
}
