// Package apiclient talks to the lending backend over its REST contract.
//
// Every call carries the session's bearer token and a fresh X-Request-ID.
// Non-2xx answers come back as *apperrors.NetworkError holding the status and
// the backend's error message. Calls are never retried; a circuit breaker
// fails fast once the backend keeps answering with transport errors or 5xx.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"peerreads/pkg/apperrors"
	"peerreads/pkg/circuitbreaker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const RequestIDHeader = "X-Request-ID"

// TokenFunc returns the bearer token to send, or "" for anonymous calls.
type TokenFunc func(ctx context.Context) (string, error)

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenFunc
	breaker    *circuitbreaker.CircuitBreaker
	metrics    *Metrics
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTokenSource(fn TokenFunc) Option {
	return func(c *Client) { c.token = fn }
}

func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      func(context.Context) (string, error) { return "", nil },
		breaker:    NewBreaker(5, 30*time.Second, time.Minute),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewBreaker builds a breaker that only counts transport failures and 5xx answers.
func NewBreaker(maxFailures int, timeout, window time.Duration) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(maxFailures, timeout,
		circuitbreaker.WithWindow(window),
		circuitbreaker.WithFailurePredicate(IsBackendFailure))
}

// IsBackendFailure reports whether err means the backend itself is unhealthy.
func IsBackendFailure(err error) bool {
	var network *apperrors.NetworkError
	if !errors.As(err, &network) {
		return false
	}
	return network.StatusCode == 0 || network.StatusCode >= 500
}

func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

// call performs one request. route is the path template used as metric label.
func (c *Client) call(ctx context.Context, method, route, path string, query url.Values, in, out any) error {
	err := c.breaker.Execute(func() error {
		return c.roundTrip(ctx, method, route, path, query, in, out)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &apperrors.NetworkError{
			Method: method,
			Path:   path,
			Err:    fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err),
		}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, route, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}

	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observe(method, route, 0, time.Since(start))
		c.log.Debug().Err(err).
			Str("method", method).
			Str("path", path).
			Str("request_id", requestID).
			Msg("backend call failed")
		return &apperrors.NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	c.metrics.observe(method, route, resp.StatusCode, elapsed)
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", elapsed).
		Str("request_id", requestID).
		Msg("backend call")
	if err != nil {
		return &apperrors.NetworkError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperrors.NetworkError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage pulls the human readable text out of an error body. The backend
// answers with either {"error": ...} or {"message": ...}.
func errorMessage(data []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}
