package pricer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/stockfolio/internal/clients"
	"github.com/vadiminshakov/stockfolio/internal/domain"
)

// AlphaVantageProvider serves equity quotes from the Alpha Vantage GLOBAL_QUOTE function.
type AlphaVantageProvider struct {
	client *clients.AlphaVantageClient
	now    func() time.Time
}

func NewAlphaVantageProvider(client *clients.AlphaVantageClient) *AlphaVantageProvider {
	return &AlphaVantageProvider{client: client, now: time.Now}
}

func (p *AlphaVantageProvider) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	raw, err := p.client.GlobalQuote(ctx, symbol)
	if err != nil {
		switch {
		case errors.Is(err, clients.ErrAlphaVantageLimit):
			return domain.Quote{}, errors.Wrap(domain.ErrQuoteRateLimited, SourceAlphaVantage)
		case errors.Is(err, clients.ErrAlphaVantageEmpty):
			return domain.Quote{}, notFound(SourceAlphaVantage, symbol)
		default:
			return domain.Quote{}, transportError(ctx, SourceAlphaVantage, err)
		}
	}

	price, err := parseDecimal("price", raw.Price)
	if err != nil {
		return domain.Quote{}, err
	}
	if !price.IsPositive() {
		return domain.Quote{}, notFound(SourceAlphaVantage, symbol)
	}
	change, err := parseDecimal("change", raw.Change)
	if err != nil {
		return domain.Quote{}, err
	}
	volume, err := parseDecimal("volume", raw.Volume)
	if err != nil {
		return domain.Quote{}, err
	}

	asOf := p.now()
	if raw.LatestTradingDay != "" {
		if t, err := time.Parse("2006-01-02", raw.LatestTradingDay); err == nil {
			asOf = t
		}
	}

	quoteSymbol := domain.NormalizeSymbol(raw.Symbol)
	if quoteSymbol == "" {
		quoteSymbol = symbol
	}

	return domain.Quote{
		Symbol: quoteSymbol,
		Price:  price,
		Change: change,
		Volume: volume,
		AsOf:   asOf,
		Source: SourceAlphaVantage,
	}, nil
}
