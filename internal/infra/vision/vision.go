// Package vision maps download parameters to archive addresses on the
// Binance Data Vision portal.
// The local output tree mirrors the path returned by Builder.Relative, so
// every address has exactly one place on disk.
package vision

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/binvis/binvis/internal/domain"
)

// DefaultBaseURL is the public portal root.
const DefaultBaseURL = "https://data.binance.vision/data/"

// DefaultChecksumSuffix is appended to an archive address to find its digest.
const DefaultChecksumSuffix = ".CHECKSUM"

// marketPaths maps each market to its prefix below the base.
var marketPaths = map[domain.Market]string{
	domain.MarketSpot:      "spot",
	domain.MarketFuturesCM: "futures/cm",
	domain.MarketFuturesUM: "futures/um",
	domain.MarketOption:    "option",
}

// Builder implements domain.AddressBuilder.
type Builder struct {
	base string
}

// NewBuilder creates a builder rooted at base. An empty base selects
// DefaultBaseURL; a missing trailing slash is added.
func NewBuilder(base string) (*Builder, error) {
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", base)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &Builder{base: base}, nil
}

// BaseURL returns the normalized base.
func (b *Builder) BaseURL() string { return b.base }

// Build returns the archive address for one task.
//
// Option data is only published under daily/ regardless of monthly.
func (b *Builder) Build(market domain.Market, category domain.Category, identifier, periodLabel string, interval domain.Interval, monthly bool) (string, error) {
	prefix, ok := marketPaths[market]
	if !ok {
		return "", fmt.Errorf("%q: %w", market, domain.ErrUnknownMarket)
	}
	if category.IsBarSeries() && interval == domain.NoInterval {
		return "", fmt.Errorf("%s/%s: %w", category, identifier, domain.ErrIntervalRequired)
	}

	period := domain.Daily
	if monthly && market != domain.MarketOption {
		period = domain.Monthly
	}

	var sb strings.Builder
	sb.WriteString(b.base)
	sb.WriteString(prefix)
	sb.WriteByte('/')
	sb.WriteString(string(period))
	sb.WriteByte('/')
	sb.WriteString(string(category))
	sb.WriteByte('/')
	sb.WriteString(identifier)
	if category.IsBarSeries() {
		sb.WriteByte('/')
		sb.WriteString(string(interval))
	}
	sb.WriteByte('/')
	sb.WriteString(FileName(category, identifier, periodLabel, interval))
	return sb.String(), nil
}

// FileName returns the archive base name: <id>-<interval>-<label>.zip for
// bar series, <id>-<category>-<label>.zip otherwise.
func FileName(category domain.Category, identifier, periodLabel string, interval domain.Interval) string {
	kind := string(category)
	if category.IsBarSeries() {
		kind = string(interval)
	}
	return identifier + "-" + kind + "-" + periodLabel + ".zip"
}

// Relative strips the base from address. Addresses outside the base are
// rejected so nothing is written outside the output root.
func (b *Builder) Relative(address string) (string, error) {
	rel, ok := strings.CutPrefix(address, b.base)
	if !ok || rel == "" {
		return "", fmt.Errorf("address %q is not below %s", address, b.base)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("address %q has an unsafe path segment", address)
		}
	}
	return rel, nil
}

// ChecksumAddress returns the address of the digest file for an archive.
func ChecksumAddress(address, suffix string) string {
	if suffix == "" {
		suffix = DefaultChecksumSuffix
	}
	return address + suffix
}
