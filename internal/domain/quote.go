package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteKind selects a cache freshness policy.
type QuoteKind string

const (
	// QuoteLive is used for trade pricing and refetched once its window expires.
	QuoteLive QuoteKind = "live"
	// QuoteReference is slow-changing data that stays fresh for the process lifetime by default.
	QuoteReference QuoteKind = "reference"
	// QuoteBursty backs aggregate overviews with a short window.
	QuoteBursty QuoteKind = "bursty"
)

// ParseQuoteKind defaults to live for an empty string.
func ParseQuoteKind(s string) (QuoteKind, error) {
	switch QuoteKind(s) {
	case "", QuoteLive:
		return QuoteLive, nil
	case QuoteReference:
		return QuoteReference, nil
	case QuoteBursty:
		return QuoteBursty, nil
	default:
		return "", Validationf("unknown quote kind %q", s)
	}
}

// Quote is a normalized market quote. It is never persisted.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	Volume    decimal.Decimal `json:"volume"`
	AsOf      time.Time       `json:"as_of"`
	FetchedAt time.Time       `json:"fetched_at"`
	TTL       time.Duration   `json:"ttl"`
	Source    string          `json:"source"`
}

// FreshAt reports whether the quote is still inside its window. A zero TTL never expires.
func (q Quote) FreshAt(now time.Time) bool {
	if q.TTL <= 0 {
		return true
	}
	return now.Sub(q.FetchedAt) < q.TTL
}
