package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cervicel-cytology-server/internal/domain"
	"github.com/cervicel-cytology-server/internal/middleware"
)

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error *domain.APIError `json:"error"`
}

// statusFor maps a service error to an HTTP status and API error code.
func statusFor(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, domain.ErrCodeValidation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrClassification):
		return http.StatusBadGateway, domain.ErrCodeClassification
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.ErrCodeInternalServer
	default:
		return http.StatusInternalServerError, domain.ErrCodeInternalServer
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := statusFor(err)

	message := http.StatusText(status)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		message = verr.Message
	}

	details := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.WithError(err).WithField("correlation_id", middleware.GetCorrelationID(c)).Error("Request failed")
		details = ""
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: domain.NewAPIError(code, message, details, middleware.GetCorrelationID(c)),
	})
}

func (s *Server) writeBadRequest(c *gin.Context, message string, err error) {
	details := ""
	if err != nil {
		details = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: domain.NewAPIError(domain.ErrCodeInvalidInput, message, details, middleware.GetCorrelationID(c)),
	})
}
