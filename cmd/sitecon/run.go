package main

import (
	"github.com/spf13/cobra"
	"github.com/tonylturner/sitecon/internal/app"
)

type runFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	logEvery    int
	logFile     string
	captureFile string
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the site controller",
		Long: `Run the site controller: open the radio gateway, connect to the
fulfillment server and drive every configured device until interrupted.

The controller reconnects to the server on its own. While the server is
unreachable, carts show a "server unavailable" screen and aisle lights go dark.

Press Ctrl+C to stop the controller gracefully.`,
		Example: `  # Run with sitecon.yaml in the current directory
  sitecon run

  # Record every radio frame for later inspection
  sitecon run --config site.yaml --capture radio.pcap

  # Debug logging to a file
  sitecon run --log-level debug --log-file sitecon.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunController(app.ControllerOptions{
				ConfigPath:  flags.configPath,
				LogLevel:    flags.logLevel,
				LogFormat:   flags.logFormat,
				LogEvery:    flags.logEvery,
				LogFile:     flags.logFile,
				CaptureFile: flags.captureFile,
				Version:     version,
			})
		},
	}

	cmd.Flags().StringVar(&flags.configPath, "config", "sitecon.yaml", "Config file path")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Log level override: silent|error|info|verbose|debug")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format override: text|json")
	cmd.Flags().IntVar(&flags.logEvery, "log-every-n", 0, "Print every Nth console log line (override)")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Log file path (override)")
	cmd.Flags().StringVar(&flags.captureFile, "capture", "", "Record radio frames to a PCAP file")

	return cmd
}
