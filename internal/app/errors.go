package app

import (
	"context"
	"errors"

	"github.com/winniepooh001/GPTComparison/internal/ports"
)

// Error kinds reported in cycle results.
const (
	KindMalformedRecommendation  = "MalformedRecommendation"
	KindInsufficientSizing       = "InsufficientSizing"
	KindSubmissionFailure        = "SubmissionFailure"
	KindReconciliationConflict   = "ReconciliationConflict"
	KindLedgerIsolationViolation = "LedgerIsolationViolation"
	KindInvalidTransition        = "InvalidTransition"
	KindTimeout                  = "Timeout"
	KindRateLimited              = "RateLimited"
	KindUnavailable              = "Unavailable"
	KindAuthentication           = "AuthenticationFailed"
	KindMarketData               = "MarketData"
	KindDropped                  = "Dropped"
	KindSuperseded               = "NoOp"
	KindUnknown                  = "Unknown"
)

// ErrorKind classifies an error into the name used in cycle reports.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ports.ErrLedgerIsolationViolation):
		return KindLedgerIsolationViolation
	case errors.Is(err, ports.ErrMalformedRecommendation):
		return KindMalformedRecommendation
	case errors.Is(err, ports.ErrInsufficientSizing):
		return KindInsufficientSizing
	case errors.Is(err, ports.ErrSubmissionFailure):
		return KindSubmissionFailure
	case errors.Is(err, ports.ErrReconciliationConflict):
		return KindReconciliationConflict
	case errors.Is(err, ports.ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ports.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ports.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ports.ErrProviderUnavailable), errors.Is(err, ports.ErrBrokerUnavailable), errors.Is(err, ports.ErrEmptyCompletion):
		return KindUnavailable
	case errors.Is(err, ports.ErrAuthenticationFailed):
		return KindAuthentication
	case errors.Is(err, ports.ErrNoPrice), errors.Is(err, ports.ErrNotFound):
		return KindMarketData
	}
	return KindUnknown
}

// retryable reports whether a strategy fetch error may succeed on another attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ports.ErrAuthenticationFailed),
		errors.Is(err, ports.ErrConfigurationError),
		errors.Is(err, ports.ErrInvalidRequest),
		errors.Is(err, ports.ErrMalformedRecommendation),
		errors.Is(err, ports.ErrLedgerIsolationViolation):
		return false
	}
	return true
}
