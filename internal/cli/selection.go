package cli

import (
	"github.com/spf13/cobra"

	"github.com/binvis/binvis/internal/domain"
	"github.com/binvis/binvis/internal/infra/planner"
)

// selection holds the task-axis flags shared by download and plan.
type selection struct {
	markets     []string
	categories  []string
	symbols     []string
	intervals   []string
	startDate   string
	endDate     string
	granularity string
}

func (s *selection) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSliceVar(&s.markets, "markets", nil, "markets to download (default all)")
	f.StringSliceVar(&s.categories, "categories", nil, "data categories to download (default all)")
	f.StringSliceVar(&s.symbols, "symbols", nil, "symbols to download (default: every trading symbol of each market)")
	f.StringSliceVar(&s.intervals, "intervals", nil, "bar intervals for kline categories (default all)")
	f.StringVar(&s.startDate, "start-date", "", "first day, YYYY-MM-DD")
	f.StringVar(&s.endDate, "end-date", "", "last day, YYYY-MM-DD")
	f.StringVar(&s.granularity, "granularity", "both", "daily, monthly or both")
}

// request converts the flags into a planner request. Empty axes select
// every value, except symbols which are then resolved per market.
func (s *selection) request() (planner.Request, error) {
	req := planner.Request{Identifiers: s.symbols}

	var err error
	if req.Markets, err = parseAll(s.markets, domain.AllMarkets, domain.ParseMarket); err != nil {
		return req, err
	}
	if req.Categories, err = parseAll(s.categories, domain.AllCategories, domain.ParseCategory); err != nil {
		return req, err
	}
	if req.Intervals, err = parseAll(s.intervals, domain.AllIntervals, domain.ParseInterval); err != nil {
		return req, err
	}
	if req.Start, err = planner.ParseDate(s.startDate); err != nil {
		return req, err
	}
	if req.End, err = planner.ParseDate(s.endDate); err != nil {
		return req, err
	}
	if req.Granularity, err = domain.ParseGranularitySelector(s.granularity); err != nil {
		return req, err
	}
	return req, nil
}

func parseAll[T any](in []string, all func() []T, parse func(string) (T, error)) ([]T, error) {
	if len(in) == 0 {
		return all(), nil
	}
	out := make([]T, 0, len(in))
	for _, s := range in {
		v, err := parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
