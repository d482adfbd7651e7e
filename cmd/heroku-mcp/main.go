// Command heroku-mcp runs the Heroku MCP server over stdio or HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/netintel/herokumcp"
	"github.com/netintel/herokumcp/catalog"
	"github.com/netintel/herokumcp/config"
)

var version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	var httpAddr string

	root := &cobra.Command{
		Use:   "heroku-mcp",
		Short: "MCP server for Heroku apps and the Network Intelligence API",
		Long: `heroku-mcp exposes Heroku app management, Postgres queries, AI inference
and network analytics to MCP clients. With no subcommand it serves over stdio.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags, httpAddr, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate(`{{printf "heroku-mcp %s\n" .Version}}`)

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/herokumcp/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")
	root.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP and SSE on this address instead of stdio")

	root.AddCommand(newServeCmd(flags, stderr))
	root.AddCommand(newToolsCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(flags *globalFlags, stderr io.Writer) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio unless --http is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags, httpAddr, stderr)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP and SSE on this address, e.g. :8080")
	return cmd
}

func newToolsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools this server registers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return err
			}
			dir := ""
			if cfg.CatalogDir != nil {
				dir = *cfg.CatalogDir
			}
			cat, err := catalog.Load(dir)
			if err != nil {
				return err
			}
			return printTools(cmd.OutOrStdout(), cat)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "heroku-mcp %s\n", version)
		},
	}
}

func serve(ctx context.Context, flags *globalFlags, httpAddr string, stderr io.Writer) error {
	logger, err := newLogger(stderr, flags.logLevel, flags.logFormat)
	if err != nil {
		return err
	}
	cfg := herokumcp.Config{
		ConfigPath: flags.configPath,
		Logger:     logger,
		Version:    version,
	}

	if httpAddr != "" {
		err = herokumcp.RunHTTP(ctx, cfg, httpAddr)
	} else {
		err = herokumcp.RunStdio(ctx, cfg)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		logger.Error("heroku-mcp failed", "error", err)
	}
	return err
}

// newLogger writes to stderr; stdout carries MCP frames in stdio mode.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}

func printTools(w io.Writer, cat catalog.Catalog) error {
	style := table.StyleDefault
	style.Options = table.Options{}
	style.Box.PaddingLeft = ""
	style.Box.PaddingRight = "  "

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(style)
	tw.SuppressTrailingSpaces()
	tw.AppendHeader(table.Row{"NAME", "TIMEOUT", "HINTS", "DESCRIPTION"})
	for _, t := range cat.Enabled() {
		tw.AppendRow(table.Row{t.Name, fmt.Sprintf("%ds", t.Timeout), hints(t), t.Description})
	}
	tw.Render()
	return nil
}

func hints(t *catalog.Tool) string {
	var h []string
	if t.ReadOnly {
		h = append(h, "read-only")
	}
	if t.Destructive {
		h = append(h, "destructive")
	}
	if t.Idempotent {
		h = append(h, "idempotent")
	}
	if len(h) == 0 {
		return "-"
	}
	return strings.Join(h, ",")
}
