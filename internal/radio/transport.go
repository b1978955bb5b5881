package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"

	"github.com/tonylturner/sitecon/internal/config"
)

// Transport is the byte stream to the radio gateway.
type Transport interface {
	io.ReadWriteCloser
	String() string
}

// serialPollTimeout bounds each blocking serial read so Close is noticed.
const serialPollTimeout = 500 * time.Millisecond

// Open connects to the gateway described by cfg.
func Open(ctx context.Context, cfg config.RadioConfig) (Transport, error) {
	switch cfg.Transport {
	case "serial":
		return OpenSerial(cfg.Port, cfg.BaudRate)
	case "tcp":
		return DialTCP(ctx, cfg.Address)
	default:
		return nil, fmt.Errorf("radio: unknown transport %q", cfg.Transport)
	}
}

type serialTransport struct {
	port   serial.Port
	name   string
	closed atomic.Bool
}

// OpenSerial opens a USB/serial radio gateway at 8N1.
func OpenSerial(port string, baud int) (Transport, error) {
	p, err := serial.Open(&serial.Config{
		Address:  port,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  serialPollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", port, err)
	}
	return &serialTransport{port: p, name: fmt.Sprintf("serial %s@%d", port, baud)}, nil
}

func (s *serialTransport) Read(p []byte) (int, error) {
	for {
		n, err := s.port.Read(p)
		if n == 0 && errors.Is(err, serial.ErrTimeout) {
			if s.closed.Load() {
				return 0, net.ErrClosed
			}
			continue
		}
		return n, err
	}
}

func (s *serialTransport) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	return s.port.Write(p)
}

func (s *serialTransport) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.port.Close()
}

func (s *serialTransport) String() string { return s.name }

type connTransport struct {
	net.Conn
	name string
}

// DialTCP connects to a network radio gateway.
func DialTCP(ctx context.Context, addr string) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", addr, err)
	}
	return NewConnTransport(conn, "tcp "+addr), nil
}

// NewConnTransport adapts an established connection.
func NewConnTransport(conn net.Conn, name string) Transport {
	return &connTransport{Conn: conn, name: name}
}

func (c *connTransport) String() string { return c.name }
