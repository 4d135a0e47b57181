// Package pricer adapts external quote sources to domain.Quote.
package pricer

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

// Source names reported in Quote.Source.
const (
	SourceAlphaVantage = "alphavantage"
	SourceBinance      = "binance"
	SourceBybit        = "bybit"
	SourceHyperliquid  = "hyperliquid"
	SourceSimulate     = "simulate"
)

// callWithContext runs fn, which cannot be cancelled itself, and gives up once ctx is done.
// The abandoned call finishes in the background and its result is discarded.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, timeoutError(ctx)
	case r := <-ch:
		return r.value, r.err
	}
}

// transportError classifies a failed upstream call, treating an expired context as a timeout.
func transportError(ctx context.Context, source string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(ctx)
	}
	return errors.Wrapf(domain.ErrQuoteProvider, "%s: %v", source, err)
}

func timeoutError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(domain.ErrQuoteTimeout, err.Error())
	}
	return domain.ErrQuoteTimeout
}

func notFound(source, symbol string) error {
	return errors.Wrapf(domain.ErrQuoteNotFound, "%s: %s", source, symbol)
}

// parseDecimal tolerates empty fields and a trailing percent sign.
func parseDecimal(field, value string) (decimal.Decimal, error) {
	value = strings.TrimSuffix(strings.TrimSpace(value), "%")
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.Wrapf(domain.ErrQuoteProvider, "decode %s %q", field, value)
	}
	return d, nil
}
