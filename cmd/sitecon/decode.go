package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/tonylturner/sitecon/internal/app"
)

func newDecodeCmd() *cobra.Command {
	var hexInput string
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode one radio packet from hex",
		Long: `Decode one radio packet and print its header and command fields.

The input may be the bare packet or a SLIP frame (starting with c0).`,
		Example: `  sitecon decode --hex "c0 41 01 02 00 00 20 ..."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if hexInput == "" && len(args) > 0 {
				hexInput = args[0]
			}
			if hexInput == "" {
				return missingFlagError(cmd, "--hex")
			}
			return app.RunDecode(app.DecodeOptions{Hex: hexInput, Out: os.Stdout})
		},
	}
	cmd.Flags().StringVar(&hexInput, "hex", "", "Packet bytes in hex (required)")
	return cmd
}
