package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// handleHelpArg lets "sitecon decode help" behave like --help.
func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 || !strings.EqualFold(args[0], "help") {
		return false
	}
	_ = cmd.Help()
	return true
}

func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("required flag %s not set (see \"%s --help\")", flag, cmd.CommandPath())
}
