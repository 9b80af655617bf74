// Command relay runs the websocket session relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"github.com/lk2023060901/session-relay-go/application"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "WebSocket session relay",
	Long: `Relay groups websocket clients into password protected sessions
and forwards messages, requests and responses between their members.

Configuration is read from defaults, a YAML/JSON file (--config or
RELAY_CONFIG_FILE), RELAY_* environment variables (a .env file in the
working directory is loaded first) and finally the flags below.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().String("config", "", "configuration file (YAML or JSON)")
	rootCmd.Flags().String("listen", "", "websocket listen address, e.g. :8765")
	rootCmd.Flags().String("path", "", "websocket upgrade path")
	rootCmd.Flags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "", "log format (console or json)")
	rootCmd.Flags().String("metrics-listen", "", "separate listen address for metrics, health and pprof")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, v, err := application.LoadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.New(cfg, v).Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
