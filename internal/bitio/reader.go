package bitio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTruncated is returned when the stream ends inside a field. The
	// error chain also carries io.EOF.
	ErrTruncated = errors.New("bitio: truncated stream")
	// ErrMarkExpired is returned by Reset when more than one byte was read
	// since Mark, or when Mark was never called.
	ErrMarkExpired = errors.New("bitio: mark expired")
)

// markLimit is the lookahead Mark/Reset can rewind.
const markLimit = 1

// Reader unpacks MSB-first fields from an underlying byte stream. It never
// pads missing bits: a short stream is a decode error.
type Reader struct {
	in    io.Reader
	cur   byte
	nbits uint8 // unread bits remaining in cur, 0..7
	one   [1]byte

	pushback []byte

	marking   bool
	markCur   byte
	markNBits uint8
	markBuf   []byte
}

// NewReader returns a Reader consuming bytes from in.
func NewReader(in io.Reader) *Reader {
	return &Reader{in: in}
}

// BitOffset returns the number of bits already consumed from the current
// partial byte.
func (r *Reader) BitOffset() uint8 {
	if r.nbits == 0 {
		return 0
	}
	return 8 - r.nbits
}

// Aligned reports whether the cursor sits on a byte boundary.
func (r *Reader) Aligned() bool { return r.nbits == 0 }

// ReadNBitInteger reads a width-bit field.
func (r *Reader) ReadNBitInteger(width uint8) (NBitInteger, error) {
	if err := checkWidth(width); err != nil {
		return NBitInteger{}, err
	}
	v, err := r.readBits(width)
	if err != nil {
		return NBitInteger{}, err
	}
	return NBitInteger{width: width, value: uint16(v)}, nil
}

// ReadBits reads a width-bit field and returns its value.
func (r *Reader) ReadBits(width uint8) (uint16, error) {
	n, err := r.ReadNBitInteger(width)
	if err != nil {
		return 0, err
	}
	return n.Value(), nil
}

// ReadBool reads a single bit.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.readBits(1)
	return v == 1, err
}

// ReadByte reads 8 bits.
func (r *Reader) ReadByte() (byte, error) {
	if r.nbits == 0 {
		return r.nextByte()
	}
	v, err := r.readBits(8)
	return byte(v), err
}

// ReadUint16 reads a big-endian 16-bit value.
func (r *Reader) ReadUint16() (uint16, error) {
	if r.nbits == 0 {
		var b [2]byte
		if err := r.readAligned(b[:]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint16(b[:]), nil
	}
	v, err := r.readBits(16)
	return uint16(v), err
}

// ReadUint32 reads a big-endian 32-bit value.
func (r *Reader) ReadUint32() (uint32, error) {
	if r.nbits == 0 {
		var b [4]byte
		if err := r.readAligned(b[:]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint32(b[:]), nil
	}
	v, err := r.readBits(32)
	return uint32(v), err
}

// ReadUint64 reads a big-endian 64-bit value.
func (r *Reader) ReadUint64() (uint64, error) {
	if r.nbits == 0 {
		var b [8]byte
		if err := r.readAligned(b[:]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(b[:]), nil
	}
	hi, err := r.readBits(32)
	if err != nil {
		return 0, err
	}
	lo, err := r.readBits(32)
	if err != nil {
		return 0, err
	}
	return hi<<32 | lo, nil
}

// ReadPString reads a one-byte length followed by that many bytes.
func (r *Reader) ReadPString() (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if r.nbits == 0 {
		if err := r.readAligned(buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}
	for i := range buf {
		v, err := r.readBits(8)
		if err != nil {
			return "", err
		}
		buf[i] = byte(v)
	}
	return string(buf), nil
}

// SkipToByte discards the unread bits of the current partial byte. It is the
// read-side counterpart of Writer.RoundOutByte.
func (r *Reader) SkipToByte() {
	r.cur = 0
	r.nbits = 0
}

// Mark remembers the cursor so that Reset can rewind over at most one
// further byte.
func (r *Reader) Mark() {
	r.marking = true
	r.markCur = r.cur
	r.markNBits = r.nbits
	r.markBuf = r.markBuf[:0]
}

// Reset rewinds to the last Mark.
func (r *Reader) Reset() error {
	if !r.marking || len(r.markBuf) > markLimit {
		r.marking = false
		return ErrMarkExpired
	}
	r.marking = false
	r.cur = r.markCur
	r.nbits = r.markNBits
	r.pushback = append(r.markBuf[:len(r.markBuf):len(r.markBuf)], r.pushback...)
	r.markBuf = nil
	return nil
}

// PeekByte returns the next byte without consuming it. The cursor must be
// byte aligned.
func (r *Reader) PeekByte() (byte, error) {
	if r.nbits != 0 {
		return 0, fmt.Errorf("bitio: peek on unaligned cursor")
	}
	r.Mark()
	b, err := r.nextByte()
	if rerr := r.Reset(); rerr != nil && err == nil {
		err = rerr
	}
	return b, err
}

// readBits reads up to 32 bits MSB-first.
func (r *Reader) readBits(width uint8) (uint64, error) {
	var v uint64
	for i := uint8(0); i < width; i++ {
		if r.nbits == 0 {
			b, err := r.nextByte()
			if err != nil {
				return 0, fmt.Errorf("reading %d-bit field: %w", width, err)
			}
			r.cur = b
			r.nbits = 8
		}
		r.nbits--
		v = v<<1 | uint64(r.cur>>r.nbits)&1
	}
	return v, nil
}

func (r *Reader) readAligned(p []byte) error {
	for i := range p {
		b, err := r.nextByte()
		if err != nil {
			return err
		}
		p[i] = b
	}
	return nil
}

func (r *Reader) nextByte() (byte, error) {
	var b byte
	if len(r.pushback) > 0 {
		b = r.pushback[0]
		r.pushback = r.pushback[1:]
	} else {
		if _, err := io.ReadFull(r.in, r.one[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, fmt.Errorf("%w: %w", ErrTruncated, io.EOF)
			}
			return 0, fmt.Errorf("bitio: read: %w", err)
		}
		b = r.one[0]
	}
	if r.marking {
		r.markBuf = append(r.markBuf, b)
	}
	return b, nil
}
