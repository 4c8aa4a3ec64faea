package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wikichat/internal/adapter/channel"
	"wikichat/internal/adapter/mcpserver"
	"wikichat/internal/adapter/tui/chat"
	"wikichat/internal/infra/config"
	"wikichat/internal/usecase"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web chat and JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			webCfg := a.cfg.Web
			if addr != "" {
				webCfg.Addr = addr
			}
			a.runReaper(ctx)
			a.warmModels(ctx)

			web := channel.NewWebChannel(webCfg, a.conv, a.sessions, a.toolbox, a.logger)
			if err := web.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wikichat listening on http://%s\n", web.Addr())

			<-ctx.Done()
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return web.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides web.addr)")
	return cmd
}

func chatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{
				logFile: filepath.Join(os.TempDir(), "wikichat-tui.log"),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			a.runReaper(ctx)
			a.warmModels(ctx)
			return chat.NewTUIChannel(a.conv, a.sessions, a.toolbox, a.model, a.logger).Start(ctx)
		},
	}
}

func askCmd(flags *rootFlags) *cobra.Command {
	var showTools bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and exit",
		Example: `  wikichat ask --pages "Tokyo, Berlin" "What is the population of Tokyo?"
  wikichat ask "What is 12 * 7?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{stderrLogs: true})
			if err != nil {
				return err
			}
			defer a.Close()

			turn, err := a.conv.Submit(ctx, usecase.NewSession("cli:ask"), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if turn == nil {
				return nil
			}
			if showTools && len(turn.ToolsUsed) > 0 {
				fmt.Fprintf(out, "[%s]\n", strings.Join(turn.ToolsUsed, ", "))
			}
			fmt.Fprintln(out, turn.AgentResponse)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTools, "show-tools", false, "print the tools used before the answer")
	return cmd
}

func mcpCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tools to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{stderrLogs: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcpserver.New(a.toolbox, version, a.logger)
			err = srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func indexCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Fetch and index the configured pages, then report what was indexed",
		Long: `Fetch and index the pages from --pages or corpus.pages. With
retrieval.data_dir set the index is persisted and reused by later runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), flags, appOptions{stderrLogs: true})
			if err != nil {
				return err
			}
			defer a.Close()

			c := a.toolbox.Corpus()
			out := cmd.OutOrStdout()
			if len(c.Pages) == 0 {
				fmt.Fprintln(out, "No pages configured. Pass --pages or set corpus.pages.")
				return nil
			}
			fmt.Fprintf(out, "%d articles have been parsed and indexed (%s).\n", c.Articles, c.Key)
			fmt.Fprintf(out, "%d chunks\n", c.Chunks)
			if missing := len(c.Pages) - c.Articles; missing > 0 {
				fmt.Fprintf(out, "%d pages could not be fetched\n", missing)
			}
			return nil
		},
	}
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for use in the config file",
		Long: `Encrypt a secret with the passphrase in WIKICHAT_CONFIG_KEY. The output
can replace any secret in the config file (llm api_key, sql password,
embedding api_key). With no argument the value is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(config.EnvPrefix + "CONFIG_KEY")
			if passphrase == "" {
				return fmt.Errorf("%sCONFIG_KEY is not set", config.EnvPrefix)
			}

			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read value: %w", err)
				}
				value = strings.TrimRight(line, "\r\n")
			}
			if value == "" {
				return errors.New("empty value")
			}

			enc, err := config.EncryptValue(value, passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
			return nil
		},
	}
}
