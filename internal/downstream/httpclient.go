package downstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/baechuer/kimg-panel/internal/logger"
	"github.com/baechuer/kimg-panel/middleware"
)

// ClientConfig holds the timeouts and body cap for calls to kimg.
type ClientConfig struct {
	// ReadTimeout applies to GET and HEAD.
	ReadTimeout time.Duration
	// WriteTimeout applies to POST, PUT, PATCH and DELETE. Uploads need more.
	WriteTimeout time.Duration
	// MaxBodySize caps how much of a response body is buffered.
	MaxBodySize int64
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		MaxBodySize:  32 << 20,
	}
}

// Response is a fully read downstream response. The body is buffered while
// the per-request timeout is still live.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client wraps http.Client with request id propagation, method based
// timeouts, error mapping and a log line per call.
type Client struct {
	baseClient *http.Client
	config     ClientConfig
}

func NewClient(config ClientConfig) *Client {
	return &Client{
		baseClient: &http.Client{
			Transport: &middleware.TracingTransport{Base: http.DefaultTransport},
		},
		config: config,
	}
}

func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		req.Header.Set(middleware.HeaderXRequestID, reqID)
	}

	timeout := c.config.ReadTimeout
	if isWriteMethod(req.Method) {
		timeout = c.config.WriteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(ctx)

	log := logger.Ctx(ctx).With().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Logger()

	start := time.Now()
	resp, err := c.baseClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("downstream_request_failed")
		return nil, c.mapError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody()+1))
	if err != nil {
		log.Warn().Err(err).Int("status", resp.StatusCode).Msg("downstream_body_read_failed")
		return nil, c.mapError(err)
	}
	if int64(len(body)) > c.maxBody() {
		return nil, fmt.Errorf("%w: body larger than %d bytes", ErrTooLarge, c.maxBody())
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("downstream_request_completed")

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) maxBody() int64 {
	if c.config.MaxBodySize > 0 {
		return c.config.MaxBodySize
	}
	return DefaultClientConfig().MaxBodySize
}

// mapError hides transport details behind ErrTimeout and ErrUnavailable.
func (c *Client) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
