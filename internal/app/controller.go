package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tonylturner/sitecon/internal/capture"
	"github.com/tonylturner/sitecon/internal/config"
	sitecerrors "github.com/tonylturner/sitecon/internal/errors"
	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/radio"
	"github.com/tonylturner/sitecon/internal/uplink"
)

// ControllerOptions configures RunController. Empty fields fall back to the
// config file.
type ControllerOptions struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	LogEvery    int
	LogFile     string
	CaptureFile string
	Version     string
}

// RunController runs the site controller until interrupted.
func RunController(opts ControllerOptions) error {
	cfg, err := config.LoadConfig(opts.ConfigPath, false)
	if err != nil {
		return err
	}
	applyOverrides(cfg, opts)

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return sitecerrors.WrapConfigError(err, opts.ConfigPath)
	}
	logger, err := logging.NewLoggerWithOptions(level, cfg.Logging.LogFile, cfg.Logging.Format, cfg.Logging.LogEveryN)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	logger.LogStartup(cfg.Site.Name, cfg.Uplink.URI, cfg.Radio.Endpoint(), opts.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := radio.Open(ctx, cfg.Radio)
	if err != nil {
		return sitecerrors.WrapRadioError(err, cfg.Radio.Endpoint())
	}
	defer transport.Close()

	dialer := uplink.WebSocketDialer{
		URL:     cfg.Uplink.URI,
		Origin:  cfg.Uplink.Origin,
		Timeout: cfg.Uplink.ConnectTimeout(),
	}
	site, err := NewSite(cfg, logger, transport, dialer, opts.Version)
	if err != nil {
		return sitecerrors.WrapConfigError(err, opts.ConfigPath)
	}

	var pcap *capture.Capture
	if cfg.Radio.CaptureFile != "" {
		pcap, err = capture.StartCapture(cfg.Radio.CaptureFile)
		if err != nil {
			return fmt.Errorf("start capture: %w", err)
		}
		site.Radio.SetRecorder(pcap)
		logger.Info("Recording radio frames to %s", cfg.Radio.CaptureFile)
	}

	fmt.Fprintf(os.Stdout, "sitecon controller for %s running (press Ctrl+C to stop)\n", cfg.Site.Name)
	runErr := site.Run(ctx)

	stats := site.Radio.Stats()
	logger.Info("Radio: %d frames in, %d out, %d decode errors", stats.FramesIn, stats.FramesOut, stats.DecodeErrors)
	up := site.Session.Stats()
	logger.Info("Uplink: %d sent, %d received, %d answered (avg rtt %s), %d dropped, %d still queued, %d connects",
		up.Sent, up.Received, up.Completed, up.AvgRTT.Round(time.Millisecond), up.Dropped, up.Queued, up.Connects)
	if pcap != nil {
		if err := pcap.Stop(); err != nil {
			logger.Error("Stop capture: %v", err)
		}
		fmt.Fprintf(os.Stdout, "Captured %d frames to %s\n", pcap.GetPacketCount(), cfg.Radio.CaptureFile)
	}
	if runErr != nil {
		return sitecerrors.WrapRadioError(runErr, cfg.Radio.Endpoint())
	}
	fmt.Fprintf(os.Stdout, "Controller stopped\n")
	return nil
}

func applyOverrides(cfg *config.Config, opts ControllerOptions) {
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	if opts.LogEvery > 0 {
		cfg.Logging.LogEveryN = opts.LogEvery
	}
	if opts.LogFile != "" {
		cfg.Logging.LogFile = opts.LogFile
	}
	if opts.CaptureFile != "" {
		cfg.Radio.CaptureFile = opts.CaptureFile
	}
}
