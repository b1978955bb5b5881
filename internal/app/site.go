package app

import (
	"context"
	"sync"

	"github.com/tonylturner/sitecon/internal/config"
	"github.com/tonylturner/sitecon/internal/fleet"
	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/radio"
	"github.com/tonylturner/sitecon/internal/uplink"
)

// Site wires one radio network to one uplink session.
type Site struct {
	cfg     *config.Config
	logger  *logging.Logger
	Fleet   *fleet.Manager
	Radio   *radio.Controller
	Session *uplink.Session
	Conns   *ConnectionManager
}

// NewSite assembles the fleet, the radio controller, the uplink session and
// the connection manager from cfg.
func NewSite(cfg *config.Config, logger *logging.Logger, t radio.Transport, dialer uplink.Dialer, version string) (*Site, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	devices, err := fleet.FromConfig(cfg.Devices)
	if err != nil {
		return nil, err
	}

	mgr := fleet.NewManager(logger)
	sess := uplink.NewSession(uplink.Options{
		Dialer:            dialer,
		Processor:         NewProcessor(mgr, logger),
		Logger:            logger,
		WriteTimeout:      cfg.Uplink.WriteTimeout(),
		KeepaliveInterval: cfg.Uplink.KeepaliveInterval(),
		IdleWarning:       cfg.Uplink.IdleWarning(),
		IdleError:         cfg.Uplink.IdleError(),
		QueueEnabled:      cfg.Uplink.QueueEnabled,
		QueueMax:          cfg.Uplink.QueueMax,
		HoldQueue:         true,
	})
	ctrl := radio.NewController(t, mgr, controllerConfig(cfg.Radio), logger)
	mgr.Bind(ctrl, sess)

	conns := NewConnectionManager(ConnectionOptions{
		Session:        sess,
		Fleet:          mgr,
		Site:           cfg.Site,
		URI:            cfg.Uplink.URI,
		Devices:        devices,
		ReconnectDelay: cfg.Uplink.ReconnectDelay(),
		CallTimeout:    cfg.Uplink.ConnectTimeout(),
		Version:        version,
		Logger:         logger,
	})

	return &Site{
		cfg:     cfg,
		logger:  logger,
		Fleet:   mgr,
		Radio:   ctrl,
		Session: sess,
		Conns:   conns,
	}, nil
}

func controllerConfig(r config.RadioConfig) radio.ControllerConfig {
	cc := radio.ControllerConfig{
		NetworkID:    uint8(r.NetworkID),
		ForceChannel: r.ForceChannel,
	}
	if r.Channel != nil {
		cc.Channel = uint8(*r.Channel)
		cc.HasChannel = true
	}
	return cc
}

// Run drives the radio and the uplink until ctx is done or the radio
// transport fails. Devices are stopped and the session closed on return.
func (s *Site) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		radioErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		radioErr = s.Radio.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		if err := s.Conns.Run(ctx); err != nil {
			s.logger.Error("Connection manager: %v", err)
		}
	}()
	wg.Wait()

	s.Fleet.Unattached()
	s.Session.Close()
	return radioErr
}
