package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tonylturner/sitecon/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or generate a config file",
	}
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigPrintDefaultCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			cfg, err := config.LoadConfig(cfgPath, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s %s\n", styles.Success.Render("Config OK:"), cfgPath)
			printConfigSummary(cfg)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "sitecon.yaml", "Config file path")
	return cmd
}

func printConfigSummary(cfg *config.Config) {
	row := func(label, value string) {
		fmt.Fprintf(os.Stdout, "  %s%s\n", styles.Label.Render(label), value)
	}
	row("Site", cfg.Site.Name)
	row("Uplink", cfg.Uplink.URI)
	row("Radio", fmt.Sprintf("%s (network %d)", cfg.Radio.Endpoint(), cfg.Radio.NetworkID))
	row("Devices", fmt.Sprintf("%d", len(cfg.Devices)))
	for _, d := range cfg.Devices {
		fmt.Fprintf(os.Stdout, "    %s %s %s\n", d.ID, styles.Dim.Render(d.Kind), d.GUID)
	}
	if !cfg.Uplink.QueueEnabled {
		fmt.Fprintf(os.Stdout, "  %s\n", styles.Warning.Render("Offline queue disabled: messages sent while disconnected are rejected"))
	}
}

func newConfigPrintDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-default",
		Short: "Print a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.MarshalConfig(config.CreateDefaultConfig())
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, string(out))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var output string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}
			if err := config.WriteDefaultConfig(output); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s %s\n", styles.Success.Render("Wrote"), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "sitecon.yaml", "Output file path")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
