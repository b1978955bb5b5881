package bitio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPStringLen is the longest string a one-byte length prefix can carry.
const MaxPStringLen = 255

// ErrStringTooLong is returned when a Pascal string exceeds MaxPStringLen.
var ErrStringTooLong = errors.New("bitio: string longer than 255 bytes")

// Writer packs fields MSB-first into an underlying byte stream. A byte is
// emitted as soon as 8 bits have accumulated.
type Writer struct {
	out   io.Writer
	cur   byte
	nbits uint8 // bits already placed in cur, 0..7
	buf   [8]byte
}

// NewWriter returns a Writer emitting bytes to out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// BitOffset returns the number of bits pending in the partial byte.
func (w *Writer) BitOffset() uint8 { return w.nbits }

// Aligned reports whether the cursor sits on a byte boundary.
func (w *Writer) Aligned() bool { return w.nbits == 0 }

// WriteNBitInteger appends v.Width() bits of v.
func (w *Writer) WriteNBitInteger(v NBitInteger) error {
	if err := checkWidth(v.width); err != nil {
		return err
	}
	return w.writeBits(uint64(v.value), v.width)
}

// WriteBits appends the low width bits of value. value must fit in width.
func (w *Writer) WriteBits(value uint16, width uint8) error {
	n, err := NewNBitInteger(width, value)
	if err != nil {
		return err
	}
	return w.WriteNBitInteger(n)
}

// WriteBool appends a single bit.
func (w *Writer) WriteBool(b bool) error {
	var v uint64
	if b {
		v = 1
	}
	return w.writeBits(v, 1)
}

// WriteByte appends 8 bits.
func (w *Writer) WriteByte(b byte) error {
	if w.nbits == 0 {
		w.buf[0] = b
		return w.emit(w.buf[:1])
	}
	return w.writeBits(uint64(b), 8)
}

// WriteUint16 appends a big-endian 16-bit value.
func (w *Writer) WriteUint16(v uint16) error {
	if w.nbits == 0 {
		binary.BigEndian.PutUint16(w.buf[:2], v)
		return w.emit(w.buf[:2])
	}
	return w.writeBits(uint64(v), 16)
}

// WriteUint32 appends a big-endian 32-bit value.
func (w *Writer) WriteUint32(v uint32) error {
	if w.nbits == 0 {
		binary.BigEndian.PutUint32(w.buf[:4], v)
		return w.emit(w.buf[:4])
	}
	return w.writeBits(uint64(v), 32)
}

// WriteUint64 appends a big-endian 64-bit value.
func (w *Writer) WriteUint64(v uint64) error {
	if w.nbits == 0 {
		binary.BigEndian.PutUint64(w.buf[:8], v)
		return w.emit(w.buf[:8])
	}
	if err := w.writeBits(v>>32, 32); err != nil {
		return err
	}
	return w.writeBits(v&0xFFFFFFFF, 32)
}

// WritePString appends a one-byte length followed by the string bytes.
func (w *Writer) WritePString(s string) error {
	if len(s) > MaxPStringLen {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	if err := w.WriteByte(byte(len(s))); err != nil {
		return err
	}
	if w.nbits == 0 {
		return w.emit([]byte(s))
	}
	for i := 0; i < len(s); i++ {
		if err := w.writeBits(uint64(s[i]), 8); err != nil {
			return err
		}
	}
	return nil
}

// RoundOutByte pads the partial byte with zero bits and emits it. It is a
// no-op on a byte boundary.
func (w *Writer) RoundOutByte() error {
	if w.nbits == 0 {
		return nil
	}
	return w.writeBits(0, 8-w.nbits)
}

// writeBits places width bits (up to 32) MSB-first.
func (w *Writer) writeBits(value uint64, width uint8) error {
	for i := int(width) - 1; i >= 0; i-- {
		bit := byte(value>>uint(i)) & 1
		w.cur = w.cur<<1 | bit
		w.nbits++
		if w.nbits == 8 {
			w.buf[0] = w.cur
			w.cur = 0
			w.nbits = 0
			if err := w.emit(w.buf[:1]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) emit(p []byte) error {
	if _, err := w.out.Write(p); err != nil {
		return fmt.Errorf("bitio: write: %w", err)
	}
	return nil
}
