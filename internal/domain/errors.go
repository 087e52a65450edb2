package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrStaleQuote         = errors.New("stale quote sequence")
	ErrOpportunityExpired = errors.New("opportunity expired")
	ErrLeaseHeld          = errors.New("lease already held")
	ErrExposureLimit      = errors.New("exposure limit exceeded")
	ErrCooldown           = errors.New("execution cooldown active")
	ErrVenueUnavailable   = errors.New("venue unavailable")
	ErrUnwindFailed       = errors.New("unwind failed, manual intervention required")
	ErrNoExecutor         = errors.New("no executor for venue")
)
