package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tonylturner/sitecon/internal/capture"
	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/logging"
)

// Directory resolves devices for the controller. The fleet manager
// implements it.
type Directory interface {
	// Associate assigns (or returns the existing) net address for guid.
	Associate(guid string, kind command.DeviceKind) (uint8, error)
	// AssociationState reports whether guid is still associated.
	AssociationState(guid string) command.AssocState
	// Deliver hands a device-originated command to the owning device.
	Deliver(netAddr uint8, cmd command.Command) error
}

// Recorder receives every frame in and out. capture.Capture implements it.
type Recorder interface {
	Record(dir capture.Direction, data []byte) error
}

// ControllerConfig holds the network parameters announced to devices.
type ControllerConfig struct {
	NetworkID uint8
	// Channel is announced when HasChannel is set; otherwise devices keep
	// the channel they checked in on.
	Channel      uint8
	HasChannel   bool
	ForceChannel bool
	SleepSeconds uint16
}

// Stats counts controller traffic.
type Stats struct {
	FramesIn     uint64
	FramesOut    uint64
	DecodeErrors uint64
	Dropped      uint64
}

// Controller runs the radio side of the site controller: it answers network
// and association traffic and moves control commands between the gateway and
// the devices.
type Controller struct {
	cfg       ControllerConfig
	transport Transport
	framer    *Framer
	dir       Directory
	logger    *logging.Logger

	writeMu  sync.Mutex
	ackID    uint8
	recorder Recorder

	statsMu sync.Mutex
	stats   Stats
}

// NewController creates a controller reading and writing t.
func NewController(t Transport, dir Directory, cfg ControllerConfig, logger *logging.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		transport: t,
		framer:    NewFramer(t),
		dir:       dir,
		logger:    logger,
	}
}

// SetRecorder installs a frame recorder. Call before Run.
func (c *Controller) SetRecorder(r Recorder) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.recorder = r
}

// Run reads frames until ctx is cancelled or the transport fails. The
// transport is closed on return.
func (c *Controller) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.transport.Close()
		case <-done:
		}
	}()
	defer c.transport.Close()

	c.logger.Info("Radio controller listening on %s (network %d)", c.transport, c.cfg.NetworkID)
	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrBadEscape) {
				c.count(func(s *Stats) { s.DecodeErrors++ })
				c.logger.Error("Radio frame dropped: %v", err)
				continue
			}
			return fmt.Errorf("read frame from %s: %w", c.transport, err)
		}
		c.handleFrame(frame)
	}
}

// SendCommand sends a control command to a device with an ack id.
func (c *Controller) SendCommand(netAddr uint8, cmd command.Command) error {
	return c.send(c.cfg.NetworkID, netAddr, cmd, true)
}

// Stats returns a snapshot of the traffic counters.
func (c *Controller) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Controller) handleFrame(frame []byte) {
	c.count(func(s *Stats) { s.FramesIn++ })
	c.record(capture.Inbound, frame)

	pkt, err := DecodePacket(frame)
	if err != nil {
		c.count(func(s *Stats) { s.DecodeErrors++ })
		c.logger.Verbose("Radio decode failed: %v", err)
		c.logger.LogHex("bad frame", frame)
		return
	}
	h := pkt.Header
	c.logger.LogFrame("RX", h.Src, frame)

	if h.NetworkID != c.cfg.NetworkID && h.NetworkID != BroadcastNetworkID {
		c.count(func(s *Stats) { s.Dropped++ })
		c.logger.Debug("Ignoring %s for network %d", pkt.Command.Type(), h.NetworkID)
		return
	}

	switch cmd := pkt.Command.(type) {
	case command.NetCheck:
		c.handleNetCheck(cmd)
	case command.AssocReq:
		c.handleAssocReq(cmd)
	case command.AssocCheck:
		c.handleAssocCheck(h, cmd)
	case command.Scan, command.Button:
		if err := c.dir.Deliver(h.Src, cmd); err != nil {
			c.count(func(s *Stats) { s.Dropped++ })
			c.logger.Verbose("Dropping %s from addr %d: %v", cmd.Type(), h.Src, err)
		}
	default:
		c.count(func(s *Stats) { s.Dropped++ })
		c.logger.Verbose("Unexpected %s from addr %d", cmd.Type(), h.Src)
	}
}

func (c *Controller) handleNetCheck(req command.NetCheck) {
	if req.Response {
		return
	}
	channel := req.Channel
	if c.cfg.HasChannel {
		channel = c.cfg.Channel
	}
	resp := command.NetCheck{
		Response:  true,
		NetworkID: c.cfg.NetworkID,
		Channel:   channel,
		GUID:      req.GUID,
	}
	if err := c.send(BroadcastNetworkID, BroadcastAddr, resp, false); err != nil {
		c.logger.Error("NetCheck reply to %s failed: %v", req.GUID, err)
		return
	}
	if c.cfg.ForceChannel && req.Channel != c.cfg.Channel {
		c.logger.Info("Moving device %s from channel %d to %d", req.GUID, req.Channel, c.cfg.Channel)
		setup := command.NetSetup{NetworkID: c.cfg.NetworkID, Channel: c.cfg.Channel}
		if err := c.send(BroadcastNetworkID, BroadcastAddr, setup, false); err != nil {
			c.logger.Error("NetSetup to %s failed: %v", req.GUID, err)
		}
	}
}

func (c *Controller) handleAssocReq(req command.AssocReq) {
	addr, err := c.dir.Associate(req.GUID, req.Kind)
	if err != nil {
		c.logger.Info("Association refused for %s (%s): %v", req.GUID, req.Kind, err)
		return
	}
	c.logger.Info("Associated %s %s as addr %d (hw %s, sw %s)", req.Kind, req.GUID, addr, req.HWVersion, req.SWVersion)
	resp := command.AssocResp{
		GUID:         req.GUID,
		NetAddress:   addr,
		NetworkID:    c.cfg.NetworkID,
		SleepSeconds: c.cfg.SleepSeconds,
	}
	if err := c.send(c.cfg.NetworkID, BroadcastAddr, resp, false); err != nil {
		c.logger.Error("AssocResp to %s failed: %v", req.GUID, err)
	}
}

func (c *Controller) handleAssocCheck(h Header, req command.AssocCheck) {
	state := c.dir.AssociationState(req.GUID)
	c.logger.Debug("AssocCheck %s battery=%d state=%d", req.GUID, req.Battery, state)
	ack := command.AssocAck{GUID: req.GUID, State: state}
	if err := c.send(c.cfg.NetworkID, h.Src, ack, false); err != nil {
		c.logger.Error("AssocAck to %s failed: %v", req.GUID, err)
	}
}

func (c *Controller) send(networkID, dst uint8, cmd command.Command, ack bool) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	h := Header{
		Version:   ProtocolVersion,
		NetworkID: networkID,
		Src:       ControllerAddr,
		Dst:       dst,
	}
	if ack {
		c.ackID++
		if c.ackID == 0 {
			c.ackID = 1
		}
		h.AckRequested = true
		h.AckID = c.ackID
	}
	frame, err := EncodePacket(Packet{Header: h, Command: cmd})
	if err != nil {
		return err
	}
	if c.recorder != nil {
		if err := c.recorder.Record(capture.Outbound, frame); err != nil {
			c.logger.Verbose("Capture write failed: %v", err)
		}
	}
	c.logger.LogFrame("TX", dst, frame)
	if _, err := c.transport.Write(EncodeSLIP(frame)); err != nil {
		return fmt.Errorf("write to %s: %w", c.transport, err)
	}
	c.count(func(s *Stats) { s.FramesOut++ })
	return nil
}

func (c *Controller) record(dir capture.Direction, frame []byte) {
	c.writeMu.Lock()
	r := c.recorder
	c.writeMu.Unlock()
	if r == nil {
		return
	}
	if err := r.Record(dir, frame); err != nil {
		c.logger.Verbose("Capture write failed: %v", err)
	}
}

func (c *Controller) count(fn func(*Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}
