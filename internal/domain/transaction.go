package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide accepts any casing and surrounding spaces.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", Validationf("unknown action %q", s)
	}
}

func (s Side) String() string { return string(s) }

// TransactionRecord is an immutable ledger entry for a committed trade.
type TransactionRecord struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Sequence    uint64          `json:"sequence"`
	Side        Side            `json:"side"`
	Symbol      string          `json:"symbol"`
	Shares      decimal.Decimal `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	Total       decimal.Decimal `json:"total"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Validate checks the structural validity of a record before it is appended.
func (r TransactionRecord) Validate() error {
	switch {
	case r.AccountID == "":
		return Validationf("transaction account id is required")
	case r.Sequence == 0:
		return Validationf("transaction sequence must be positive")
	case r.Side != SideBuy && r.Side != SideSell:
		return Validationf("transaction side %q is invalid", r.Side)
	case r.Symbol == "":
		return Validationf("transaction symbol is required")
	case !r.Shares.IsPositive():
		return Validationf("transaction shares must be positive")
	case r.Price.IsNegative():
		return Validationf("transaction price must not be negative")
	}
	return nil
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
)

// TransactionQuery selects one newest-first page of an account's ledger.
// UpToSequence pins the view to records at or below that sequence; zero means latest.
type TransactionQuery struct {
	Page         int
	Limit        int
	UpToSequence uint64
}

// Normalize applies defaults and bounds.
func (q TransactionQuery) Normalize() TransactionQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	return q
}

// TransactionPage is one page of ledger records with pagination totals.
type TransactionPage struct {
	Records      []TransactionRecord `json:"records"`
	Page         int                 `json:"page"`
	Limit        int                 `json:"limit"`
	Total        int                 `json:"total"`
	Pages        int                 `json:"pages"`
	UpToSequence uint64              `json:"up_to_sequence"`
}

// PageFromAscending builds a newest-first page from records stored in ascending sequence order.
// Only records with Sequence <= q.UpToSequence are visible when it is set.
func PageFromAscending(records []TransactionRecord, q TransactionQuery) TransactionPage {
	q = q.Normalize()

	visible := len(records)
	if q.UpToSequence > 0 {
		for visible > 0 && records[visible-1].Sequence > q.UpToSequence {
			visible--
		}
	}

	page := TransactionPage{
		Records: []TransactionRecord{},
		Page:    q.Page,
		Limit:   q.Limit,
		Total:   visible,
		Pages:   (visible + q.Limit - 1) / q.Limit,
	}
	if visible > 0 {
		page.UpToSequence = records[visible-1].Sequence
	}

	skip := (q.Page - 1) * q.Limit
	for i := visible - 1 - skip; i >= 0 && len(page.Records) < q.Limit; i-- {
		page.Records = append(page.Records, records[i])
	}
	return page
}
