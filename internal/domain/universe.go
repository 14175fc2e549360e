package domain

import (
	"sort"
	"strings"
	"time"
)

// Universe is the set of tradable tickers for a given date. It is immutable
// once built and shared read-only across strategies for one cycle.
type Universe struct {
	asOf    time.Time
	tickers map[string]struct{}
	sorted  []string
}

// NewUniverse builds a universe from a ticker list; tickers are upper-cased
// and de-duplicated.
func NewUniverse(asOf time.Time, tickers []string) *Universe {
	u := &Universe{asOf: asOf, tickers: make(map[string]struct{}, len(tickers))}
	for _, t := range tickers {
		t = NormalizeTicker(t)
		if t == "" {
			continue
		}
		if _, ok := u.tickers[t]; ok {
			continue
		}
		u.tickers[t] = struct{}{}
		u.sorted = append(u.sorted, t)
	}
	sort.Strings(u.sorted)
	return u
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// Contains reports whether the ticker is in the universe.
func (u *Universe) Contains(ticker string) bool {
	if u == nil {
		return false
	}
	_, ok := u.tickers[NormalizeTicker(ticker)]
	return ok
}

// Tickers returns a sorted copy of the constituents.
func (u *Universe) Tickers() []string {
	if u == nil {
		return nil
	}
	out := make([]string, len(u.sorted))
	copy(out, u.sorted)
	return out
}

// Len is the number of constituents.
func (u *Universe) Len() int {
	if u == nil {
		return 0
	}
	return len(u.sorted)
}

// AsOf is the date the universe snapshot applies to.
func (u *Universe) AsOf() time.Time {
	if u == nil {
		return time.Time{}
	}
	return u.asOf
}
