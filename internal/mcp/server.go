// Package mcp exposes the cytology interpretation engine and the report archive as
// Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/service"
)

// Version is the MCP server version.
const Version = "1.0.0"

// Transport names accepted by Serve.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ErrMissingReportService is returned when no report service is provided.
var ErrMissingReportService = errors.New("mcp: report service is required")

// Server is the MCP server for report interpretation.
type Server struct {
	reports *service.ReportService
	logger  *logrus.Logger
	server  *mcp.Server
}

// NewServer creates a new MCP server backed by the report service.
func NewServer(reports *service.ReportService, logger *logrus.Logger) (*Server, error) {
	if reports == nil {
		return nil, ErrMissingReportService
	}

	impl := &mcp.Implementation{
		Name:    "cervicel",
		Version: Version,
	}

	s := &Server{
		reports: reports,
		logger:  logger,
		server:  mcp.NewServer(impl, nil),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve runs the server on the configured transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, config domain.MCPConfig) error {
	switch config.Transport {
	case "", TransportStdio:
		s.logger.Info("Serving MCP over stdio")
		return s.Run(ctx)
	case TransportHTTP:
		addr := fmt.Sprintf(":%d", config.HTTPPort)
		s.logger.WithField("addr", addr).Info("Serving MCP over streamable HTTP")
		return s.RunHTTP(ctx, addr)
	default:
		return fmt.Errorf("unsupported MCP transport: %s", config.Transport)
	}
}

// Run starts the MCP server over stdio.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP starts the MCP server over HTTP on the specified address.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("MCP HTTP shutdown failed")
		}
	}()

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// HTTPHandler returns the streamable HTTP handler serving this server.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}
