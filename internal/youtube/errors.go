package youtube

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cesargomez89/tubecrate/internal/auth"
	"github.com/cesargomez89/tubecrate/internal/retry"
)

// Sentinel classifications for API failures. Callers match on these with
// errors.Is; the concrete *APIError keeps the raw status and reason around
// for logging.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrQuotaExceeded = errors.New("api quota exceeded")
)

// APIError is a non-2xx response from the Data API, with the machine reason
// extracted from the error body when one was present.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("youtube api: %d %s: %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("youtube api: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the status/reason pair onto its sentinel classification.
func (e *APIError) Unwrap() error {
	switch e.Reason {
	case "quotaExceeded", "dailyLimitExceeded":
		return ErrQuotaExceeded
	case "playlistNotFound", "videoNotFound", "channelNotFound", "notFound":
		return ErrNotFound
	}
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return auth.ErrAuthExpired
	case http.StatusForbidden:
		return ErrAccessDenied
	}
	return nil
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		e.Message = parsed.Error.Message
		if len(parsed.Error.Errors) > 0 {
			e.Reason = parsed.Error.Errors[0].Reason
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

// retryable decides which call failures are worth another attempt. Quota
// denials are never retried: each extra attempt would deepen the debt.
func retryable(err error) bool {
	if errors.Is(err, ErrQuotaExceeded) {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return retry.RetryableStatus(ae.StatusCode)
	}
	return retry.Transient(err)
}
