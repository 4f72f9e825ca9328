// Package upstream talks to the prompt-optimization service.
package upstream

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/teleprompt2api/api-proxy/internal/config"
	"github.com/teleprompt2api/api-proxy/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// RequestIDHeader carries the per-call correlation ID.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 8 << 20

// HTTPError is returned when the service answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream service error (%d): %s", e.StatusCode, e.Body)
}

// ProtocolError is returned when a 2xx body is not a successful envelope.
type ProtocolError struct {
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream returned an unexpected payload: %s", e.Payload)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Client issues single-shot optimization calls. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	random     io.Reader
	validate   *validator.Validate
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithRandom sets the entropy source for request IDs.
func WithRandom(r io.Reader) Option {
	return func(c *Client) {
		c.random = r
	}
}

// WithHTTPClient replaces the transport, including any bearer token wrapping.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg config.UpstreamConfig, logger *zap.Logger, opts ...Option) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if cfg.BearerToken != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		random:     rand.Reader,
		validate:   validator.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRequestID draws a UUID from r. Every upstream call gets a fresh one.
func NewRequestID(r io.Reader) (string, error) {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Optimize posts prompt to endpoint and returns the service's result text verbatim.
func (c *Client) Optimize(ctx context.Context, prompt, endpoint string) (string, error) {
	requestID, err := NewRequestID(c.random)
	if err != nil {
		return "", fmt.Errorf("failed to generate request id: %w", err)
	}

	reqBody, err := json.Marshal(models.UpstreamRequest{Text: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "*/*")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(RequestIDHeader, requestID)

	c.logger.Debug("Sending request to upstream",
		zap.String("request_id", requestID),
		zap.String("endpoint", endpoint),
		zap.Int("body_length", len(reqBody)))

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("Upstream request failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		return "", fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Upstream returned error",
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)))
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	text, err := c.decode(body)
	if err != nil {
		c.logger.Warn("Upstream returned unexpected payload",
			zap.String("request_id", requestID),
			zap.Error(err))
		return "", err
	}

	c.logger.Debug("Upstream request successful",
		zap.String("request_id", requestID),
		zap.Duration("latency", time.Since(start)),
		zap.Int("result_length", len(text)))

	return text, nil
}

func (c *Client) decode(body []byte) (string, error) {
	payload := string(bytes.TrimSpace(body))

	var env models.UpstreamEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", &ProtocolError{Payload: payload, Err: err}
	}
	if err := c.validate.Struct(env); err != nil {
		return "", &ProtocolError{Payload: payload, Err: err}
	}
	if !*env.Success {
		return "", &ProtocolError{Payload: payload, Err: errors.New("success is false")}
	}
	if *env.Data == "" {
		return "", &ProtocolError{Payload: payload, Err: errors.New("data is empty")}
	}
	return *env.Data, nil
}
