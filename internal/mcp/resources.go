package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/render"
)

const (
	uriScheme     = "cervicel://"
	reportsPrefix = uriScheme + "reports/"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: reportsPrefix + "{id}",
		Name:        "report",
		Description: "An archived interpretation report rendered as Markdown",
		MIMEType:    "text/markdown",
	}, s.handleReportResource)
}

// handleReportResource returns a stored report as Markdown.
func (s *Server) handleReportResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	id := extractReportID(req.Params.URI)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	record, err := s.reports.GetReport(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     render.Markdown(record),
		}},
	}, nil
}

// extractReportID extracts the id from cervicel://reports/{id}.
func extractReportID(uri string) string {
	if !strings.HasPrefix(uri, reportsPrefix) {
		return ""
	}
	id := strings.TrimPrefix(uri, reportsPrefix)
	if id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}
