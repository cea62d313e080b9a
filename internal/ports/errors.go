package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Fetch Errors
	ErrInvalidRange         = errors.New("invalid time range: start must be before end")
	ErrInvalidSymbol        = errors.New("invalid trading symbol")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrRemoteFetch          = errors.New("remote kline fetch failed")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")

	// Storage Errors
	ErrStorage = errors.New("kline storage error")
)
