// Package symbols lists tradable identifiers per market from the exchange
// info endpoints. The planner calls it only when no identifiers are given.
package symbols

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/binvis/binvis/internal/domain"
)

// DefaultTimeout bounds one exchange-info request.
const DefaultTimeout = 10 * time.Second

// Endpoint describes where a market's listing lives and how to filter it.
type Endpoint struct {
	URL string `toml:"url"`

	// ListKey is the JSON array holding the listing.
	ListKey string `toml:"list_key"`
	// NameKey is the field holding the identifier inside each element.
	NameKey string `toml:"name_key"`
	// StatusKey, when set, keeps only elements whose value is "TRADING".
	StatusKey string `toml:"status_key"`
}

// DefaultEndpoints returns the public exchange-info endpoints.
func DefaultEndpoints() map[domain.Market]Endpoint {
	return map[domain.Market]Endpoint{
		domain.MarketSpot: {
			URL: "https://api.binance.com/api/v3/exchangeInfo", ListKey: "symbols", NameKey: "symbol", StatusKey: "status",
		},
		domain.MarketFuturesUM: {
			URL: "https://fapi.binance.com/fapi/v1/exchangeInfo", ListKey: "symbols", NameKey: "symbol", StatusKey: "status",
		},
		domain.MarketFuturesCM: {
			URL: "https://dapi.binance.com/dapi/v1/exchangeInfo", ListKey: "symbols", NameKey: "symbol", StatusKey: "contractStatus",
		},
		domain.MarketOption: {
			URL: "https://eapi.binance.com/eapi/v1/exchangeInfo", ListKey: "optionSymbols", NameKey: "name",
		},
	}
}

// Resolver implements domain.SymbolResolver over HTTP.
type Resolver struct {
	client    *http.Client
	endpoints map[domain.Market]Endpoint
	userAgent string
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEndpoint overrides one market's endpoint.
func WithEndpoint(m domain.Market, ep Endpoint) Option {
	return func(r *Resolver) { r.endpoints[m] = ep }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) { r.userAgent = ua }
}

// NewResolver creates a resolver. A zero timeout selects DefaultTimeout.
func NewResolver(timeout time.Duration, logger *slog.Logger, opts ...Option) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Resolver{
		client:    &http.Client{Timeout: timeout},
		endpoints: DefaultEndpoints(),
		userAgent: "binvis",
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches the market's listing. An empty slice with nil error
// means the market lists nothing.
func (r *Resolver) Resolve(ctx context.Context, market domain.Market) ([]string, error) {
	ep, ok := r.endpoints[market]
	if !ok {
		return nil, fmt.Errorf("%q: %w", market, domain.ErrUnknownMarket)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	r.logger.Debug("fetching symbols", "market", market, "url", ep.URL)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange info request for %s: %w", market, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("exchange info for %s returned %d: %s: %w", market, resp.StatusCode, string(body), domain.ErrHTTPStatus)
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse exchange info JSON: %w", err)
	}

	raw, ok := doc[ep.ListKey]
	if !ok {
		r.logger.Warn("exchange info has no listing", "market", market, "key", ep.ListKey)
		return []string{}, nil
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse %s listing: %w", ep.ListKey, err)
	}

	out := filter(items, ep)
	r.logger.Info("fetched symbols", "market", market, "count", len(out))
	return out, nil
}

func filter(items []map[string]any, ep Endpoint) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if ep.StatusKey != "" {
			if status, _ := item[ep.StatusKey].(string); status != "TRADING" {
				continue
			}
		}
		if name, _ := item[ep.NameKey].(string); name != "" {
			out = append(out, name)
		}
	}
	return out
}
