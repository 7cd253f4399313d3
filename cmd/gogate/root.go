package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the gogate command tree.
func NewRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "gogate",
		Short: "Access-control gateway",
		Long: `gogate decides, per inbound request, whether the caller may proceed,
must authenticate, or is rejected, and manages the login, remember-me and
logout lifecycle.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(newServeCmd(&configFile))
	cmd.AddCommand(newRulesCmd(&configFile))
	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newLoadtestCmd())

	return cmd
}
