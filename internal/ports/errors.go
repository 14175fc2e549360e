package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Broker Specific Errors
	ErrBrokerUnavailable    = errors.New("brokerage API is unavailable")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient buying power for operation")
	ErrOrderNotFound        = errors.New("order not found at the broker")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrNoPrice              = errors.New("no price available for ticker")

	// LLM Provider Errors
	ErrProviderUnavailable = errors.New("LLM provider is unavailable")
	ErrEmptyCompletion     = errors.New("LLM returned an empty completion")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")

	// Engine Errors
	ErrMalformedRecommendation  = errors.New("malformed recommendation")
	ErrInsufficientSizing       = errors.New("insufficient sizing")
	ErrSubmissionFailure        = errors.New("order submission failed")
	ErrReconciliationConflict   = errors.New("reconciliation conflict")
	ErrLedgerIsolationViolation = errors.New("ledger isolation violation")
	ErrInvalidTransition        = errors.New("invalid order state transition")
	ErrStrategyPaused           = errors.New("strategy is paused")
	ErrUnknownStrategy          = errors.New("unknown strategy")
	ErrCycleFailed              = errors.New("no strategy produced valid orders")
)
