package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the planner and pipeline depend on them.

// AddressBuilder maps task parameters to the remote archive address.
// Implemented by infra/vision.Builder.
type AddressBuilder interface {
	// Build returns the archive address. Bar-series categories without an
	// interval fail with ErrIntervalRequired.
	Build(market Market, category Category, identifier, periodLabel string, interval Interval, monthly bool) (string, error)

	// Relative strips the builder's base, leaving the path the local
	// layout mirrors.
	Relative(address string) (string, error)
}

// SymbolResolver lists the identifiers traded on a market.
// An empty list means "none found", not an error.
type SymbolResolver interface {
	Resolve(ctx context.Context, market Market) ([]string, error)
}

// Converter re-encodes one extracted tabular file. Implemented by
// infra/convert.Converter.
type Converter interface {
	Convert(path string) bool
}
