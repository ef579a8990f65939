// Package main provides the agentws binary: a command line client for the
// real-time agent event stream.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "agentws"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	origin      string
	token       string
	sessionFile string
	metricsAddr string
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Real-time agent event stream client",
		Long: `agentws connects to the agent event stream, keeps the connection alive
across network interruptions and prints the traffic it receives.

The bearer token is read from the session file unless --token or
AGENTWS_TOKEN is set.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (JSON or YAML)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format (json, text, pretty)")
	pf.StringVar(&flags.origin, "origin", "", "Application origin the stream URL is derived from")
	pf.StringVar(&flags.token, "token", "", "Bearer token, overrides the session file")
	pf.StringVar(&flags.sessionFile, "session-file", "", "Session file path")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	cmd.AddCommand(
		listenCmd(&flags),
		sendCmd(&flags),
		roomCmd(&flags),
		loginCmd(&flags),
		logoutCmd(&flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}
