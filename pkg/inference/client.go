// Package inference is the HTTP client for the remote cell classification model server.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cervicel-cytology-server/internal/domain"
)

const classifyPath = "/v1/classify"

var (
	// ErrServiceUnavailable is returned while the circuit breaker is open.
	ErrServiceUnavailable = errors.New("inference service unavailable (circuit breaker open)")
	// ErrImageRejected marks images the model server refused; these do not trip the breaker.
	ErrImageRejected = errors.New("image rejected by inference service")
	// ErrImageTooLarge is returned for images above the configured size limit.
	ErrImageTooLarge = errors.New("image exceeds maximum size")
)

// Config represents configuration for the inference client
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RateLimit      float64 // requests per second
	Burst          int
	MaxImageBytes  int64
	BreakerMaxReqs uint32
	BreakerWindow  time.Duration
	BreakerTimeout time.Duration
}

// ConfigFromDomain maps the classifier section of the application config.
func ConfigFromDomain(cfg domain.ClassifierConfig) Config {
	return Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Timeout:        cfg.Timeout,
		RateLimit:      cfg.RateLimit,
		Burst:          cfg.Burst,
		MaxImageBytes:  cfg.MaxImageBytes,
		BreakerMaxReqs: cfg.BreakerMaxReqs,
		BreakerWindow:  cfg.BreakerWindow,
		BreakerTimeout: cfg.BreakerTimeout,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps client errors to ErrImageRejected.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests {
		return ErrImageRejected
	}
	return nil
}

type classifyResponse struct {
	Counts domain.CellCounts `json:"counts"`
}

// Client classifies smear images through the model server's REST API.
type Client struct {
	baseURL       string
	apiKey        string
	maxImageBytes int64
	httpClient    *http.Client
	rateLimit     *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	logger        *logrus.Logger
}

// NewClient creates a new inference client
func NewClient(config Config, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.BreakerMaxReqs == 0 {
		config.BreakerMaxReqs = 3
	}
	if config.BreakerWindow == 0 {
		config.BreakerWindow = 30 * time.Second
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = 60 * time.Second
	}

	c := &Client{
		baseURL:       strings.TrimRight(config.BaseURL, "/"),
		apiKey:        config.APIKey,
		maxImageBytes: config.MaxImageBytes,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		logger:    logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inference",
		MaxRequests: config.BreakerMaxReqs,
		Interval:    config.BreakerWindow,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrImageRejected) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return c
}

// Classify sends one image to the model server and returns its cell counts.
func (c *Client) Classify(ctx context.Context, image domain.Image) (domain.CellCounts, error) {
	if c.maxImageBytes > 0 && int64(len(image.Data)) > c.maxImageBytes {
		return domain.CellCounts{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrImageTooLarge, len(image.Data), c.maxImageBytes)
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return domain.CellCounts{}, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, image)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.CellCounts{}, ErrServiceUnavailable
		}
		return domain.CellCounts{}, fmt.Errorf("inference request failed: %w", err)
	}

	return result.(domain.CellCounts), nil
}

// State returns the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) post(ctx context.Context, image domain.Image) (domain.CellCounts, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+classifyPath, bytes.NewReader(image.Data))
	if err != nil {
		return domain.CellCounts{}, fmt.Errorf("failed to create request: %w", err)
	}

	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if image.Filename != "" {
		req.Header.Set("X-Filename", image.Filename)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CellCounts{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.CellCounts{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.CellCounts{}, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"filename":    image.Filename,
		"bytes":       len(image.Data),
		"total_cells": parsed.Counts.Total(),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("Classified image")

	return parsed.Counts, nil
}
