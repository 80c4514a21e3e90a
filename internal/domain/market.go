// Package domain holds the value types shared by every binvis layer:
// markets, data categories, bar intervals, the per-market capability
// table and the task descriptor that flows from planner to pipeline.
package domain

import (
	"fmt"
	"strings"
)

// ─── Markets ────────────────────────────────────────────────────────────────

// Market identifies a venue segment on the data portal.
type Market string

const (
	MarketSpot      Market = "spot"
	MarketFuturesCM Market = "futures-cm"
	MarketFuturesUM Market = "futures-um"
	MarketOption    Market = "option"
)

// AllMarkets returns every known market in canonical order.
func AllMarkets() []Market {
	return []Market{MarketSpot, MarketFuturesCM, MarketFuturesUM, MarketOption}
}

// ParseMarket converts a CLI or config value into a Market.
func ParseMarket(s string) (Market, error) {
	for _, m := range AllMarkets() {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownMarket)
}

// ─── Granularity ────────────────────────────────────────────────────────────

// Granularity is the calendar unit of a task's date axis.
type Granularity string

const (
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
)

// LabelLayout returns the time layout used for period labels.
func (g Granularity) LabelLayout() string {
	if g == Monthly {
		return "2006-01"
	}
	return "2006-01-02"
}

// GranularitySelector chooses which granularities a batch enumerates.
type GranularitySelector string

const (
	SelectDaily   GranularitySelector = "daily"
	SelectMonthly GranularitySelector = "monthly"
	SelectBoth    GranularitySelector = "both"
)

// ParseGranularitySelector accepts daily, monthly or both. Empty means both.
func ParseGranularitySelector(s string) (GranularitySelector, error) {
	switch GranularitySelector(strings.ToLower(strings.TrimSpace(s))) {
	case "", SelectBoth:
		return SelectBoth, nil
	case SelectDaily:
		return SelectDaily, nil
	case SelectMonthly:
		return SelectMonthly, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownGranularity)
}

// Includes reports whether g is selected.
func (s GranularitySelector) Includes(g Granularity) bool {
	switch s {
	case SelectBoth, "":
		return true
	case SelectDaily:
		return g == Daily
	case SelectMonthly:
		return g == Monthly
	}
	return false
}
