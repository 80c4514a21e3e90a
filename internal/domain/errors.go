package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Matched with errors.Is; no infrastructure types leak in here.

var (
	// Selection errors
	ErrUnknownMarket      = errors.New("unknown market")
	ErrUnknownCategory    = errors.New("unknown data category")
	ErrUnknownInterval    = errors.New("unknown bar interval")
	ErrUnknownGranularity = errors.New("unknown granularity (want daily, monthly or both)")
	ErrInvalidDate        = errors.New("invalid date (want YYYY-MM-DD)")
	ErrIntervalRequired   = errors.New("bar-series category requires an interval")

	// Fetch errors
	ErrNotFound            = errors.New("remote archive not found")
	ErrHTTPStatus          = errors.New("unexpected HTTP status")
	ErrChecksumUnavailable = errors.New("checksum file unavailable or unreadable")
	ErrChecksumMismatch    = errors.New("archive checksum mismatch")

	// Conversion errors
	ErrEmptySource = errors.New("tabular source has no rows")
)
