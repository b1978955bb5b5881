package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tonylturner/sitecon/internal/config"
	"github.com/tonylturner/sitecon/internal/device"
	sitecerrors "github.com/tonylturner/sitecon/internal/errors"
	"github.com/tonylturner/sitecon/internal/fleet"
	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/uplink"
)

// ConnectionOptions configures a ConnectionManager.
type ConnectionOptions struct {
	Session        *uplink.Session
	Fleet          *fleet.Manager
	Site           config.SiteConfig
	URI            string
	Devices        []device.Info // used when login returns no layout
	ReconnectDelay time.Duration
	CallTimeout    time.Duration
	Version        string
	Logger         *logging.Logger
}

// ConnectionManager decides when the uplink session connects: it retries
// every ReconnectDelay while offline, logs in, attaches the fleet and drops
// the connection once keepalives stop.
type ConnectionManager struct {
	opts   ConnectionOptions
	logger *logging.Logger
	online bool
}

// NewConnectionManager creates a manager for opts.Session.
func NewConnectionManager(opts ConnectionOptions) *ConnectionManager {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &ConnectionManager{opts: opts, logger: opts.Logger}
}

// Run blocks until ctx is done.
func (cm *ConnectionManager) Run(ctx context.Context) error {
	events := cm.opts.Session.Events()
	cm.connect(ctx)

	ticker := time.NewTicker(cm.opts.ReconnectDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cm.opts.Session.Disconnect("shutdown")
			cm.setOffline()
			return nil
		case <-ticker.C:
			if !cm.online {
				cm.connect(ctx)
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			cm.handleEvent(ev)
		}
	}
}

func (cm *ConnectionManager) handleEvent(ev uplink.Event) {
	switch ev.Kind {
	case uplink.EventConnected:
		cm.logger.Verbose("Uplink session connected")
	case uplink.EventDisconnected:
		cm.logger.Info("Uplink lost: %s", ev.Reason)
		cm.setOffline()
	case uplink.EventActivity:
		if ev.Activity == uplink.ActivityDead {
			cm.opts.Session.Disconnect("keepalive timeout")
		}
	}
}

func (cm *ConnectionManager) setOffline() {
	if !cm.online {
		return
	}
	cm.online = false
	cm.opts.Fleet.Disconnected()
}

func (cm *ConnectionManager) connect(ctx context.Context) {
	if err := cm.opts.Session.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			cm.logger.Error("%v", sitecerrors.WrapUplinkError(err, cm.opts.URI))
		}
		return
	}
	if err := cm.login(ctx); err != nil {
		cm.logger.Error("Login failed: %v", err)
		cm.opts.Session.Disconnect("login failed")
		return
	}
	if err := cm.opts.Session.Flush(); err != nil {
		cm.logger.Error("Queue flush after login failed: %v", err)
		return
	}
	cm.online = true
	cm.opts.Fleet.Connected()
}

func (cm *ConnectionManager) login(ctx context.Context) error {
	site := cm.opts.Site
	msg, err := uplink.NewMessage(uplink.TypeLoginRequest, uplink.LoginRequest{
		Organization: site.Organization,
		Site:         site.Name,
		Username:     site.Username,
		Password:     site.Password,
		Version:      cm.opts.Version,
	})
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cm.opts.CallTimeout)
	defer cancel()
	resp, err := cm.opts.Session.Call(callCtx, msg)
	if err != nil {
		return err
	}
	if !resp.Succeeded() {
		return fmt.Errorf("login rejected: %s %s", resp.Status, resp.StatusMessage)
	}

	layout := cm.opts.Devices
	var body uplink.LoginResponse
	if len(resp.Body) > 0 {
		if err := resp.DecodeBody(&body); err != nil {
			return err
		}
	}
	if body.Network != nil && len(body.Network.Devices) > 0 {
		infos, err := fleet.FromSpecs(body.Network.Devices)
		if err != nil {
			cm.logger.Error("Network layout: %v", err)
		}
		layout = infos
	}
	if err := cm.opts.Fleet.Attach(layout); err != nil {
		cm.logger.Error("Attach: %v", err)
	}
	cm.logger.Info("Logged in to %s as %s (%d devices)", site.Name, site.Username, len(layout))
	return nil
}
