// Command wikichat answers questions by routing them to Wikipedia
// retrieval, a transactions database, or a calculator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	pages      string
	mode       string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "wikichat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "wikichat",
		Short: "Chat with Wikipedia pages, a transactions database and a calculator",
		Long: `wikichat routes each question to the tool whose description fits it best:
a retrieval index over the Wikipedia pages you choose, a read-only SQL
database, or a calculator.

Configuration is read from --config (or WIKICHAT_CONFIG); WIKICHAT_*
environment variables override it. With no config the defaults run
offline against a seeded in-memory database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file path (default $WIKICHAT_CONFIG or ./config.yaml)")
	pf.StringVar(&flags.pages, "pages", "", `comma-separated Wikipedia pages to index, e.g. "Tokyo, Berlin"`)
	pf.StringVar(&flags.mode, "mode", "", "agent mode: conversational or zero-shot")

	root.AddCommand(
		serveCmd(flags),
		chatCmd(flags),
		askCmd(flags),
		mcpCmd(flags),
		indexCmd(flags),
		encryptCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wikichat %s\n", version)
		},
	}
}
