package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonylturner/sitecon/internal/radio"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and radio protocol information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stdout, "sitecon version %s (%s, built %s)\n", version, commit, date)
			fmt.Fprintf(os.Stdout, "radio protocol: v%d\n", radio.ProtocolVersion)
			fmt.Fprintf(os.Stdout, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
