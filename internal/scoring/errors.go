package scoring

import "errors"

// Sentinel errors for the scoring path. Callers classify with
// errors.Is; the HTTP layer maps them to machine-readable codes.
var (
	// ErrRateLimited means the caller exhausted its sliding window.
	// Not a server fault; the caller should back off.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNotFound means the lead id is unknown to the CRM.
	ErrNotFound = errors.New("lead not found")

	// ErrModelUnavailable means no usable model could be resolved. The
	// engine never substitutes another model unless a fallback id was
	// explicitly supplied.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrValidation means the request itself was malformed and must
	// not be retried as-is.
	ErrValidation = errors.New("invalid request")
)
