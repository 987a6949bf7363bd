package domain

import "errors"

// Failure classes. Callers match with errors.Is; components wrap these with
// context about the failing blog or operation.
var (
	// ErrTransient marks a failure worth retrying later: network errors,
	// rate limiting, upstream server errors. Cursors stay untouched.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks a failure retries cannot fix: bad credential,
	// unknown blog, response schema mismatch. Aborts that blog's scrape.
	ErrPermanent = errors.New("permanent failure")

	// ErrConflict marks duplicated or out-of-order upstream data. The
	// affected page is never stored, partially or reordered.
	ErrConflict = errors.New("conflicting post")

	// ErrInvariant marks an attempted publish cursor regression. This is a
	// logic error and fatal for the operation that triggered it.
	ErrInvariant = errors.New("invariant violation")
)
