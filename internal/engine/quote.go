package engine

import (
	"time"
)

// QuoteTimeLayout is the format of the snapshot time callers send with a trade,
// e.g. "Sat, 17 Oct 2026 14:22:05 GMT".
const QuoteTimeLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// quoteParseLayout also accepts a day without the leading zero.
const quoteParseLayout = "Mon, 2 Jan 2006 15:04:05 GMT"

// ParseQuoteTime parses a snapshot time in QuoteTimeLayout as UTC.
func ParseQuoteTime(s string) (time.Time, error) {
	t, err := time.Parse(quoteParseLayout, s)
	if err != nil {
		return time.Time{}, &Error{Kind: KindValidation, Msg: "invalid time", Err: err}
	}
	return t.UTC(), nil
}

// FormatQuoteTime renders t in QuoteTimeLayout.
func FormatQuoteTime(t time.Time) string {
	return t.UTC().Format(QuoteTimeLayout)
}

// isStale reports whether a snapshot taken at asOf is too old for a quote last
// refreshed at lastUpdated.
func isStale(asOf, lastUpdated time.Time, interval time.Duration) bool {
	return asOf.Sub(lastUpdated) >= interval
}
