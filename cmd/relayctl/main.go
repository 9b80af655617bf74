// Command relayctl is an interactive terminal client of the session relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lk2023060901/session-relay-go/pkg/client"
)

var (
	relayURL   string
	appName    string
	username   string
	password   string
	dialRetry  time.Duration
	askTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Interactive client of the session relay",
	Long: `Relayctl creates or joins a relay session and forwards terminal input.

Inside a session:
  <text>              broadcast text to every member
  /to <user> <text>   send text to one member
  /ask <user> <text>  send a request and wait for the response
  /users              list the members
  /quit               leave the session`,
	SilenceUsage: true,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session and join it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSession(cmd.Context(), "")
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <session-id>",
	Short: "Join an existing session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&relayURL, "url", "ws://127.0.0.1:8765/", "relay websocket URL")
	rootCmd.PersistentFlags().StringVar(&appName, "app", "relayctl", "application namespace")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", "", "display name inside the session")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "session password")
	rootCmd.PersistentFlags().DurationVar(&dialRetry, "dial-retry", 10*time.Second, "how long to keep retrying the initial dial")
	rootCmd.PersistentFlags().DurationVar(&askTimeout, "ask-timeout", 30*time.Second, "how long /ask waits for a response")
	_ = rootCmd.MarkPersistentFlagRequired("user")

	rootCmd.AddCommand(createCmd, joinCmd)
}

func clientConfig() client.Config {
	return client.Config{
		URL:              relayURL,
		AppName:          appName,
		Username:         username,
		Password:         password,
		DialRetryTimeout: dialRetry,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, errStyle.Sprintf("Error: %v", err))
		os.Exit(1)
	}
}
