package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cervicel-cytology-server/internal/api"
	"github.com/cervicel-cytology-server/internal/mcp"
)

func newServeCommand(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP report API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port > 0 {
				a.config.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := a.build(ctx, true, true)
			if err != nil {
				return err
			}
			defer c.Close()

			server, err := api.NewServer(a.config, c.reports, a.logger, c.checks...)
			if err != nil {
				return err
			}

			a.logger.WithField("port", a.config.Server.Port).Info("Starting cervicel report API")
			if err := server.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func newMCPCommand(a *app) *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server exposing the interpretation tools
interpret_counts, classify_age, calculate_phase, get_report and list_reports.

By default the server communicates over stdio. Use --transport http to serve
the streamable HTTP transport on --port instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mcpConfig := a.config.MCP
			if transport != "" {
				mcpConfig.Transport = transport
			}
			if port > 0 {
				mcpConfig.HTTPPort = port
			}
			// stdout carries the protocol on the stdio transport.
			if mcpConfig.Transport != mcp.TransportHTTP && a.logger.Out == os.Stdout {
				a.logger.SetOutput(os.Stderr)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := a.build(ctx, true, false)
			if err != nil {
				return err
			}
			defer c.Close()

			server, err := mcp.NewServer(c.reports, a.logger)
			if err != nil {
				return err
			}
			return server.Serve(ctx, mcpConfig)
		},
	}

	cmd.Flags().StringVarP(&transport, "transport", "t", "", "stdio or http (overrides mcp.transport)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides mcp.http_port)")
	return cmd
}
