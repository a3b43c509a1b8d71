package downstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/baechuer/kimg-panel/internal/domain"
)

var (
	ErrTimeout      = errors.New("downstream_timeout")
	ErrUnavailable  = errors.New("downstream_unavailable")
	ErrNotFound     = errors.New("resource_not_found")
	ErrTooLarge     = errors.New("downstream_body_too_large")
	ErrUndecodable  = errors.New("image_undecodable")
	ErrBadResponse  = errors.New("downstream_bad_response")
	errEmptyPayload = errors.New("empty_payload")
)

type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream error [%d] %s: %s", e.StatusCode, e.Code, e.Message)
}

// decodeError understands the JSON error envelope and kimg's plain text
// http.Error bodies.
func decodeError(resp *Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	var apiErr domain.APIError
	if err := json.Unmarshal(resp.Body, &apiErr); err == nil && apiErr.Error.Code != "" {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Code:       apiErr.Error.Code,
			Message:    apiErr.Error.Message,
		}
	}

	msg := strings.TrimSpace(string(resp.Body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Code:       "downstream_error",
		Message:    msg,
	}
}
