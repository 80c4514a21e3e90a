package domain

import (
	"fmt"
	"strings"
)

// ─── Categories ─────────────────────────────────────────────────────────────

// Category is the kind of dataset an archive contains.
type Category string

const (
	CategoryAggTrades           Category = "aggTrades"
	CategoryBookDepth           Category = "bookDepth"
	CategoryBookTicker          Category = "bookTicker"
	CategoryFundingRate         Category = "fundingRate"
	CategoryIndexPriceKlines    Category = "indexPriceKlines"
	CategoryKlines              Category = "klines"
	CategoryLiquidationSnapshot Category = "liquidationSnapshot"
	CategoryMarkPriceKlines     Category = "markPriceKlines"
	CategoryMetrics             Category = "metrics"
	CategoryPremiumIndexKlines  Category = "premiumIndexKlines"
	CategoryTrades              Category = "trades"
	CategoryBVOLIndex           Category = "BVOLIndex"
	CategoryEOHSummary          Category = "EOHSummary"
)

// AllCategories returns every known category in canonical order.
func AllCategories() []Category {
	return []Category{
		CategoryAggTrades,
		CategoryBookDepth,
		CategoryBookTicker,
		CategoryFundingRate,
		CategoryIndexPriceKlines,
		CategoryKlines,
		CategoryLiquidationSnapshot,
		CategoryMarkPriceKlines,
		CategoryMetrics,
		CategoryPremiumIndexKlines,
		CategoryTrades,
		CategoryBVOLIndex,
		CategoryEOHSummary,
	}
}

// IsBarSeries reports whether archives of this category are split by
// sampling interval.
func (c Category) IsBarSeries() bool {
	switch c {
	case CategoryKlines, CategoryIndexPriceKlines, CategoryMarkPriceKlines, CategoryPremiumIndexKlines:
		return true
	}
	return false
}

// ParseCategory matches case-insensitively so "aggtrades" works on the CLI.
func ParseCategory(s string) (Category, error) {
	for _, c := range AllCategories() {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownCategory)
}

// ─── Intervals ──────────────────────────────────────────────────────────────

// Interval is the sampling period of a bar series. The zero value means
// "no interval" and is the only valid value for non-bar categories.
type Interval string

const (
	NoInterval Interval = ""

	Interval1s  Interval = "1s"
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
	Interval1mo Interval = "1mo"
)

// AllIntervals returns every known interval, shortest first.
func AllIntervals() []Interval {
	return []Interval{
		Interval1s, Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval2h, Interval4h, Interval6h, Interval8h, Interval12h,
		Interval1d, Interval3d, Interval1w, Interval1mo,
	}
}

// ParseInterval is case-sensitive: "1m" and "1M" are different periods
// on most venues, so no folding is done.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	for _, iv := range AllIntervals() {
		if string(iv) == s {
			return iv, nil
		}
	}
	return NoInterval, fmt.Errorf("%q: %w", s, ErrUnknownInterval)
}

// ─── Capability Table ───────────────────────────────────────────────────────

var (
	spotCategories = []Category{CategoryAggTrades, CategoryKlines, CategoryTrades}

	futuresDaily = []Category{
		CategoryAggTrades,
		CategoryBookDepth,
		CategoryBookTicker,
		CategoryIndexPriceKlines,
		CategoryKlines,
		CategoryLiquidationSnapshot,
		CategoryMarkPriceKlines,
		CategoryMetrics,
		CategoryPremiumIndexKlines,
		CategoryTrades,
	}

	futuresMonthly = []Category{
		CategoryAggTrades,
		CategoryBookTicker,
		CategoryFundingRate,
		CategoryIndexPriceKlines,
		CategoryKlines,
		CategoryMarkPriceKlines,
		CategoryPremiumIndexKlines,
		CategoryTrades,
	}
)

// capabilities maps (market, granularity) to the categories the portal
// publishes. Absent keys publish nothing.
var capabilities = map[Market]map[Granularity][]Category{
	MarketOption: {
		Daily: {CategoryBVOLIndex, CategoryEOHSummary},
	},
	MarketSpot: {
		Daily:   spotCategories,
		Monthly: spotCategories,
	},
	MarketFuturesCM: {
		Daily:   futuresDaily,
		Monthly: futuresMonthly,
	},
	MarketFuturesUM: {
		Daily:   futuresDaily,
		Monthly: futuresMonthly,
	},
}

// Granularities returns the granularities a market publishes, daily first.
func Granularities(m Market) []Granularity {
	var out []Granularity
	for _, g := range []Granularity{Daily, Monthly} {
		if _, ok := capabilities[m][g]; ok {
			out = append(out, g)
		}
	}
	return out
}

// Capabilities returns a copy of the categories permitted for (m, g).
func Capabilities(m Market, g Granularity) []Category {
	cats := capabilities[m][g]
	out := make([]Category, len(cats))
	copy(out, cats)
	return out
}

// Permits reports whether the portal publishes c for (m, g).
func Permits(m Market, g Granularity, c Category) bool {
	for _, have := range capabilities[m][g] {
		if have == c {
			return true
		}
	}
	return false
}
