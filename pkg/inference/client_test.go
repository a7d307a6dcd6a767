package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cervicel-cytology-server/internal/domain"
)

func newTestClient(t *testing.T, url string, mutate func(*Config)) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	config := Config{
		BaseURL:   url,
		APIKey:    "secret",
		Timeout:   2 * time.Second,
		RateLimit: 1000,
		Burst:     10,
	}
	if mutate != nil {
		mutate(&config)
	}
	return NewClient(config, logger)
}

func TestClient_Classify(t *testing.T) {
	t.Run("successful classification", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/classify", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			assert.Equal(t, "smear.png", r.Header.Get("X-Filename"))

			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, "pixels", string(body))

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"counts":{"PC":3,"IC":5,"SM":2,"AC":1,"XX":40}}`)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL+"/", nil)
		counts, err := client.Classify(context.Background(), domain.Image{
			Filename:    "smear.png",
			ContentType: "image/png",
			Data:        []byte("pixels"),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.CellCounts{PC: 3, IC: 5, SM: 2, AC: 1}, counts)
	})

	t.Run("client error is a rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unsupported image format", http.StatusUnprocessableEntity)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		_, err := client.Classify(context.Background(), domain.Image{Data: []byte("x")})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrImageRejected)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
		assert.Contains(t, statusErr.Body, "unsupported image format")
	})

	t.Run("malformed response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"counts":`)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, nil)
		_, err := client.Classify(context.Background(), domain.Image{Data: []byte("x")})
		assert.ErrorContains(t, err, "failed to decode response")
	})

	t.Run("image size limit", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, func(c *Config) { c.MaxImageBytes = 4 })
		_, err := client.Classify(context.Background(), domain.Image{Data: []byte("too large")})
		assert.ErrorIs(t, err, ErrImageTooLarge)
		assert.Zero(t, calls.Load())
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			json.NewEncoder(w).Encode(classifyResponse{})
		}))
		defer server.Close()

		client := newTestClient(t, server.URL, func(c *Config) { c.Timeout = 20 * time.Millisecond })
		_, err := client.Classify(context.Background(), domain.Image{Data: []byte("x")})
		assert.ErrorContains(t, err, "HTTP request failed")
	})
}

func TestClient_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(c *Config) { c.BreakerTimeout = time.Minute })
	image := domain.Image{Data: []byte("x")}

	for i := 0; i < 3; i++ {
		_, err := client.Classify(context.Background(), image)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrImageRejected)
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err := client.Classify(context.Background(), image)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RejectionsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	for i := 0; i < 5; i++ {
		_, err := client.Classify(context.Background(), domain.Image{Data: []byte("x")})
		assert.ErrorIs(t, err, ErrImageRejected)
	}
	assert.Equal(t, gobreaker.StateClosed, client.State())
}

func TestConfigFromDomain(t *testing.T) {
	config := ConfigFromDomain(domain.ClassifierConfig{
		BaseURL:        "http://model:8500",
		RateLimit:      4,
		Burst:          2,
		MaxImageBytes:  1 << 20,
		BreakerMaxReqs: 7,
	})
	assert.Equal(t, "http://model:8500", config.BaseURL)
	assert.Equal(t, 4.0, config.RateLimit)
	assert.Equal(t, int64(1<<20), config.MaxImageBytes)
	assert.Equal(t, uint32(7), config.BreakerMaxReqs)
}
