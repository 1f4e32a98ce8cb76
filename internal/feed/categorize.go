package feed

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (feedErrorsTotal).
const (
	ErrorCategoryTimeout        ErrorCategory = "timeout"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryUnauthorized   ErrorCategory = "unauthorized"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryUpstream       ErrorCategory = "upstream"
	ErrorCategoryCancelled      ErrorCategory = "cancelled"
	ErrorCategoryAuthRevoked    ErrorCategory = "auth_revoked"
	ErrorCategoryConnectionLost ErrorCategory = "connection_lost"
	ErrorCategoryParsing        ErrorCategory = "parsing"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return ErrorCategoryUnauthorized
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrCancelled):
		return ErrorCategoryCancelled
	case errors.Is(err, ErrAuthRevoked):
		return ErrorCategoryAuthRevoked
	case errors.Is(err, ErrConnectionLost):
		return ErrorCategoryConnectionLost
	case errors.Is(err, ErrStream):
		return ErrorCategoryParsing
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "no such host") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}

	return ErrorCategoryUnknown
}
