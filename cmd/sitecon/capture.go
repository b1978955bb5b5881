package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tonylturner/sitecon/internal/app"
)

type captureDumpFlags struct {
	inputFile   string
	command     string
	maxEntries  int
	showPayload bool
}

func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Inspect radio captures",
	}
	cmd.AddCommand(newCaptureDumpCmd())
	return cmd
}

func newCaptureDumpCmd() *cobra.Command {
	flags := &captureDumpFlags{}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Dump packets from a radio capture",
		Long: `Decode every frame in a capture written by "sitecon run --capture".

Frames that fail to decode are shown raw.`,
		Example: `  # Dump the first 20 scans
  sitecon capture dump --input radio.pcap --command Scan --max 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.inputFile == "" && len(args) > 0 {
				flags.inputFile = args[0]
			}
			if flags.inputFile == "" {
				return missingFlagError(cmd, "--input")
			}
			return app.RunCaptureDump(app.CaptureDumpOptions{
				InputFile:   flags.inputFile,
				Command:     flags.command,
				MaxEntries:  flags.maxEntries,
				ShowPayload: flags.showPayload,
				Out:         os.Stdout,
			})
		},
	}

	cmd.Flags().StringVar(&flags.inputFile, "input", "", "Input PCAP file (required)")
	cmd.Flags().StringVar(&flags.command, "command", "", "Only show this command type, e.g. Scan")
	cmd.Flags().IntVar(&flags.maxEntries, "max", 0, "Maximum number of packets to show (0 = all)")
	cmd.Flags().BoolVar(&flags.showPayload, "payload", false, "Include a hex dump of each packet")

	return cmd
}
