// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/evalchat/internal/logging"
)

// Configuration constants.
const (
	DefaultBaseURL        = "http://127.0.0.1:8000"
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultPageSize       = 100
	DefaultMaxPages       = 20

	// MaxResponseSize caps non-streaming response bodies.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorBody is how much of an error response is kept for the message.
	maxErrorBody = 4096

	// readBufferSize is the size of one read from the reply stream.
	readBufferSize = 4096

	userAgent = "evalchat/1"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the chat service client.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by type, so errors.Is(err, ErrCredentialInvalid)
// holds for every credential rejection regardless of message or status.
// Invalid-request sentinels share a type and are told apart by message.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok || t.Type == ErrTypeUnknown || t.Type != e.Type {
		return false
	}
	return t.Type != ErrTypeInvalidRequest || t.Message == e.Message
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeInvalidRequest
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeCanceled
	ErrTypeCredentialInvalid
	ErrTypeStatus
	ErrTypeReaderUnavailable
	ErrTypeInvalidResponse
)

// String returns a short label for logs and metrics.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeInvalidRequest:
		return "invalid_request"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeCanceled:
		return "canceled"
	case ErrTypeCredentialInvalid:
		return "credential_invalid"
	case ErrTypeStatus:
		return "status"
	case ErrTypeReaderUnavailable:
		return "reader_unavailable"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrCredentialInvalid  = &ClientError{Type: ErrTypeCredentialInvalid, Message: "credential rejected by server", StatusCode: http.StatusUnauthorized}
	ErrReaderUnavailable  = &ClientError{Type: ErrTypeReaderUnavailable, Message: "response has no readable body"}
	ErrTimeout            = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrCanceled           = &ClientError{Type: ErrTypeCanceled, Message: "request canceled"}
	ErrInvalidSessionID   = &ClientError{Type: ErrTypeInvalidRequest, Message: "session id must be positive"}
	ErrMissingCredentials = &ClientError{Type: ErrTypeInvalidRequest, Message: "no credential supplied"}
)

// IsCredentialInvalid reports whether err means the bearer credential was
// rejected and must be replaced.
func IsCredentialInvalid(err error) bool {
	return errors.Is(err, ErrCredentialInvalid)
}

// IsCanceled reports whether err was caused by context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// ErrorTypeOf returns the ErrorType carried by err, or ErrTypeUnknown.
func ErrorTypeOf(err error) ErrorType {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrTypeUnknown
}

// StreamError represents a failure after the reply stream started,
// preserving the text received before the error.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the chat service client.
type ClientConfig struct {
	// BaseURL is the service root (default: http://127.0.0.1:8000)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// ConnectTimeout bounds dialing and response headers of a send. The
	// reply stream itself is bounded only by the caller's context.
	ConnectTimeout time.Duration

	// RequestsPerSecond limits outbound requests; 0 disables the limiter
	RequestsPerSecond float64

	// Burst is the limiter bucket size (default: 1 when limiting)
	Burst int

	// PageSize for history listing (default: 100)
	PageSize int

	// MaxPages bounds ListAllMessages (default: 20)
	MaxPages int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        DefaultBaseURL,
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		PageSize:       DefaultPageSize,
		MaxPages:       DefaultMaxPages,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat service's session message endpoints.
//
// The credential is passed per call rather than stored, so a token change
// takes effect on the next request. The Client is safe for concurrent use.
//
// Example:
//
//	c := client.NewClient(client.DefaultConfig(), logger)
//	msg, err := c.SendMessage(ctx, 42, token, "hello", func(text string) {
//	    fmt.Print("\r", text)
//	})
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       zerolog.Logger
}

// NewClient creates a client. Zero values in config are filled with defaults.
func NewClient(config *ClientConfig, logger zerolog.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = DefaultMaxPages
	}

	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
	}

	c := &Client{
		config:     &cfg,
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		// No overall timeout for streaming: controlled via context.
		streamClient: &http.Client{Transport: transport},
		logger:       logger.With().Str("component", "client").Logger(),
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// messagesURL returns the message collection URL of a session.
func (c *Client) messagesURL(sessionID int64) string {
	return c.config.BaseURL + "/api/v1/sessions/" + strconv.FormatInt(sessionID, 10) + "/messages"
}

// newRequest builds an authenticated request.
func (c *Client) newRequest(ctx context.Context, method, url, credential string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidRequest, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do waits for the limiter, sends req and maps transport failures and
// non-2xx statuses to ClientErrors. On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, transportError(ctx, err)
			}
			// The wait would outlast the context deadline.
			return nil, &ClientError{Type: ErrTypeTimeout, Message: "rate limit wait exceeds deadline", Cause: err}
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// validate rejects calls that cannot succeed.
func validate(sessionID int64, credential string) error {
	if sessionID <= 0 {
		return ErrInvalidSessionID
	}
	if strings.TrimSpace(credential) == "" {
		return ErrMissingCredentials
	}
	return nil
}

// checkStatus maps a response status to an error. 401 is always a
// credential rejection.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return &ClientError{
			Type:       ErrTypeCredentialInvalid,
			Message:    ErrCredentialInvalid.Message,
			StatusCode: resp.StatusCode,
		}
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := "unexpected status " + resp.Status
	if d := strings.TrimSpace(string(detail)); d != "" {
		msg += ": " + d
	}
	return &ClientError{Type: ErrTypeStatus, Message: msg, StatusCode: resp.StatusCode}
}

// transportError classifies a failure to obtain a response.
func transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeCanceled, Message: ErrCanceled.Message, Cause: err}
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	default:
		return &ClientError{Type: ErrTypeConnection, Message: "failed to reach server", Cause: err}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// logRequest logs one finished request without any credential material.
func (c *Client) logRequest(method string, sessionID int64, credential string, start time.Time, err error) {
	ev := c.logger.Debug()
	if err != nil {
		ev = c.logger.Warn().Err(err).Str("error_type", ErrorTypeOf(err).String())
	}
	ev.Str("method", method).
		Int64("session_id", sessionID).
		Str("credential", logging.Redact(credential)).
		Dur("elapsed", time.Since(start)).
		Msg("request finished")
}
