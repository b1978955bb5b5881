package app

import (
	"fmt"

	"github.com/tonylturner/sitecon/internal/fleet"
	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/uplink"
)

// Processor routes uplink traffic into the fleet.
type Processor struct {
	fleet  *fleet.Manager
	logger *logging.Logger
}

// NewProcessor creates a processor delivering to mgr.
func NewProcessor(mgr *fleet.Manager, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Processor{fleet: mgr, logger: logger}
}

// HandleResponse hands a matched response to the device that sent the
// request.
func (p *Processor) HandleResponse(resp *uplink.Message, req uplink.PendingRequest) {
	if req.Origin == "" {
		p.logger.Verbose("%s for %s has no device origin", resp.Type, req.Type)
		return
	}
	if err := p.fleet.DeliverResponse(resp, req); err != nil {
		p.logger.Error("Response %s not delivered: %v", resp.Type, err)
	}
}

// HandleMessage serves requests and notifications from the server.
func (p *Processor) HandleMessage(msg *uplink.Message) (*uplink.Message, error) {
	switch msg.Type {
	case uplink.TypeLightLocationsRequest:
		var body uplink.LightLocationsRequest
		if err := msg.DecodeBody(&body); err != nil {
			return nil, err
		}
		if err := p.fleet.LightLocations(body.DeviceGUID, body.Lights); err != nil {
			resp, rerr := uplink.NewResponse(msg, uplink.StatusFail, nil)
			if rerr != nil {
				return nil, rerr
			}
			resp.StatusMessage = err.Error()
			return resp, nil
		}
		return uplink.NewResponse(msg, uplink.StatusSuccess, nil)

	case uplink.TypeEchoRequest:
		var body uplink.EchoRequest
		if err := msg.DecodeBody(&body); err != nil {
			return nil, err
		}
		return uplink.NewResponse(msg, uplink.StatusSuccess, uplink.EchoResponse{Payload: body.Payload})

	case uplink.TypeNetworkUpdateMessage:
		var body uplink.NetworkUpdateMessage
		if err := msg.DecodeBody(&body); err != nil {
			return nil, err
		}
		added, err := fleet.FromSpecs(body.Added)
		if err != nil {
			p.logger.Error("Network update: %v", err)
		}
		if err := p.fleet.Update(added, body.Removed); err != nil {
			p.logger.Error("Network update: %v", err)
		}
		p.logger.Info("Network update: %d added, %d removed", len(added), len(body.Removed))
		return nil, nil

	default:
		if msg.IsRequest() {
			return nil, fmt.Errorf("unsupported request %s", msg.Type)
		}
		p.logger.Verbose("Ignoring %s %s", msg.Type, msg.MessageID)
		return nil, nil
	}
}
