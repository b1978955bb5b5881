package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkTypeRadio is the pcap DLT_USER0 link type used for radio frames.
// Each record is [1B direction][SLIP-unwrapped packet bytes].
const LinkTypeRadio = layers.LinkType(147)

// snapLen bounds a single radio frame record.
const snapLen = 4096

// Direction tags which way a frame travelled.
type Direction uint8

const (
	Inbound  Direction = 0
	Outbound Direction = 1
)

func (d Direction) String() string {
	if d == Outbound {
		return "TX"
	}
	return "RX"
}

// Frame is one recorded radio frame.
type Frame struct {
	Timestamp time.Time
	Direction Direction
	Data      []byte
}

// Capture records radio frames to a pcap file.
type Capture struct {
	mu      sync.Mutex
	writer  *pcapgo.Writer
	file    io.WriteCloser
	count   int
	closeMu sync.Once
	now     func() time.Time
}

// StartCapture creates outputFile and writes the pcap file header.
func StartCapture(outputFile string) (*Capture, error) {
	file, err := os.Create(outputFile)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	c, err := NewCapture(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	return c, nil
}

// NewCapture writes a pcap header to w and returns a Capture writing to it.
func NewCapture(w io.WriteCloser) (*Capture, error) {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snapLen, LinkTypeRadio); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Capture{writer: writer, file: w, now: time.Now}, nil
}

// Record appends one frame. It is safe for concurrent use.
func (c *Capture) Record(dir Direction, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return errors.New("capture closed")
	}
	rec := make([]byte, 0, len(data)+1)
	rec = append(rec, byte(dir))
	rec = append(rec, data...)
	if len(rec) > snapLen {
		rec = rec[:snapLen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     c.now(),
		CaptureLength: len(rec),
		Length:        len(data) + 1,
	}
	if err := c.writer.WritePacket(ci, rec); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	c.count++
	return nil
}

// Stop closes the capture file (idempotent).
func (c *Capture) Stop() error {
	var err error
	c.closeMu.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.file != nil {
			err = c.file.Close()
			c.file = nil
		}
	})
	return err
}

// GetPacketCount returns the number of recorded frames.
func (c *Capture) GetPacketCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// ReadFile loads every radio frame from a capture file.
func ReadFile(path string) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap file: %w", err)
	}
	defer f.Close()
	return ReadFrames(f)
}

// ReadFrames decodes radio frames from a pcap stream.
func ReadFrames(r io.Reader) ([]Frame, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}
	if reader.LinkType() != LinkTypeRadio {
		return nil, fmt.Errorf("unexpected link type %d (want %d)", reader.LinkType(), LinkTypeRadio)
	}
	var frames []Frame
	for {
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("read packet %d: %w", len(frames)+1, err)
		}
		if len(data) == 0 {
			continue
		}
		frames = append(frames, Frame{
			Timestamp: ci.Timestamp,
			Direction: Direction(data[0]),
			Data:      append([]byte(nil), data[1:]...),
		})
	}
}
