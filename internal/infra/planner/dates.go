package planner

import (
	"fmt"
	"time"

	"github.com/binvis/binvis/internal/domain"
)

const (
	defaultDailyLookback   = 30 * 24 * time.Hour
	defaultMonthlyLookback = 365 * 24 * time.Hour
	dateLayout             = "2006-01-02"
)

// ParseDate parses a YYYY-MM-DD CLI value. Empty input yields nil.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", s, domain.ErrInvalidDate)
	}
	return &t, nil
}

// ResolveRange fills in missing endpoints relative to now.
//
//	neither given: daily now-30d..now, monthly now-365d..now
//	start only:    start..now
//	end only:      now-30d..end
func ResolveRange(start, end *time.Time, g domain.Granularity, now time.Time) (time.Time, time.Time) {
	today := truncateDay(now)
	if start == nil && end == nil {
		if g == domain.Monthly {
			return truncateDay(now.Add(-defaultMonthlyLookback)), today
		}
		return truncateDay(now.Add(-defaultDailyLookback)), today
	}

	s := truncateDay(now.Add(-defaultDailyLookback))
	if start != nil {
		s = truncateDay(*start)
	}
	e := today
	if end != nil {
		e = truncateDay(*end)
	}
	return s, e
}

// DateLabels enumerates period labels over the inclusive range [start, end].
// Daily yields every calendar day; monthly yields every month from the one
// containing start through the one containing end. A reversed range yields
// nothing.
func DateLabels(start, end time.Time, g domain.Granularity) []string {
	start, end = truncateDay(start), truncateDay(end)
	if start.After(end) {
		return nil
	}

	var labels []string
	if g == domain.Monthly {
		for cur := firstOfMonth(start); !cur.After(end); cur = cur.AddDate(0, 1, 0) {
			labels = append(labels, cur.Format(g.LabelLayout()))
		}
		return labels
	}
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 0, 1) {
		labels = append(labels, cur.Format(g.LabelLayout()))
	}
	return labels
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func firstOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
