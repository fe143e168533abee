package indexer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/slipstream/acquire/internal/httpclient"
)

// Error codes for categorizing provider errors
const (
	ErrCodeAuthentication = "AUTH_ERROR"
	ErrCodeSearch         = "SEARCH_ERROR"
	ErrCodeDownload       = "DOWNLOAD_ERROR"
	ErrCodeConfiguration  = "CONFIG_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_ERROR"
	ErrCodeNetwork        = "NETWORK_ERROR"
	ErrCodeParse          = "PARSE_ERROR"
)

// Error represents a categorized error from a provider operation.
type Error struct {
	Code      string
	Message   string
	Provider  string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Provider, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on the error code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrAuthentication = &Error{Code: ErrCodeAuthentication, Message: "authentication failed"}
	ErrSearch         = &Error{Code: ErrCodeSearch, Message: "search failed"}
	ErrDownload       = &Error{Code: ErrCodeDownload, Message: "download failed"}
	ErrConfiguration  = &Error{Code: ErrCodeConfiguration, Message: "configuration error"}
	ErrRateLimit      = &Error{Code: ErrCodeRateLimit, Message: "rate limit exceeded"}
	ErrNetwork        = &Error{Code: ErrCodeNetwork, Message: "network error"}
	ErrParse          = &Error{Code: ErrCodeParse, Message: "parse error"}
)

// NewAuthError creates an authentication error.
func NewAuthError(provider string, cause error) *Error {
	return &Error{Code: ErrCodeAuthentication, Message: "authentication failed", Provider: provider, Cause: cause}
}

// NewParseError creates a parsing error.
func NewParseError(provider, message string, cause error) *Error {
	return &Error{Code: ErrCodeParse, Message: message, Provider: provider, Cause: cause}
}

// NewConfigError creates a configuration error.
func NewConfigError(provider, message string) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: message, Provider: provider}
}

// NewDownloadError creates a download error.
func NewDownloadError(provider string, cause error) *Error {
	return &Error{Code: ErrCodeDownload, Message: "download failed", Provider: provider, Retryable: true, Cause: cause}
}

// Classify maps an HTTP layer error onto a provider error.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return already
	}

	var status *httpclient.StatusError
	if errors.As(err, &status) {
		switch {
		case status.Code == http.StatusUnauthorized || status.Code == http.StatusForbidden:
			return NewAuthError(provider, err)
		case status.Code == http.StatusTooManyRequests:
			return &Error{Code: ErrCodeRateLimit, Message: "rate limit exceeded", Provider: provider, Retryable: true, Cause: err}
		case status.IsServer():
			return &Error{Code: ErrCodeNetwork, Message: "server error", Provider: provider, Retryable: true, Cause: err}
		default:
			return &Error{Code: ErrCodeSearch, Message: "request rejected", Provider: provider, Cause: err}
		}
	}
	return &Error{Code: ErrCodeNetwork, Message: "network error", Provider: provider, Retryable: true, Cause: err}
}

// IsRetryable returns whether the error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsAuthError returns whether the error is an authentication error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
