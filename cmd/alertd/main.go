// Command alertd watches a live price feed and notifies when price alerts fire.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information
const Version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "alertd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "alertd",
		Short: "Real-time stock price alerts",
		Long: `alertd subscribes to a WebSocket price feed for every symbol that has a
pending alert, fires each alert once when its target is crossed, and notifies
through the configured channel, in-app toasts and e-mail.

Configuration comes from defaults, an optional YAML file (--config) and
environment variables such as FEED_URL, MAIL_TO and REDIS_ADDR.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(), newTestMailCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the alertd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "alertd", Version)
		},
	}
}
