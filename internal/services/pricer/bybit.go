package pricer

import (
	"context"
	"strings"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

// BybitProvider serves spot tickers from the Bybit V5 market API.
type BybitProvider struct {
	client *bybit.Client
}

func NewBybitProvider(client *bybit.Client) *BybitProvider {
	return &BybitProvider{client: client}
}

type bybitTicker struct {
	last, prev, volume string
}

func (p *BybitProvider) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	sym := bybit.SymbolV5(symbol)

	// the SDK call takes no context
	ticker, err := callWithContext(ctx, func() (*bybitTicker, error) {
		result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
			Category: "spot",
			Symbol:   &sym,
		})
		if err != nil {
			return nil, err
		}
		if len(result.Result.Spot.List) == 0 {
			return nil, nil
		}
		item := result.Result.Spot.List[0]
		return &bybitTicker{last: item.LastPrice, prev: item.PrevPrice24H, volume: item.Volume24H}, nil
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "symbol") {
			return domain.Quote{}, notFound(SourceBybit, symbol)
		}
		return domain.Quote{}, transportError(ctx, SourceBybit, err)
	}
	if ticker == nil {
		return domain.Quote{}, notFound(SourceBybit, symbol)
	}

	price, err := parseDecimal("lastPrice", ticker.last)
	if err != nil {
		return domain.Quote{}, err
	}
	if !price.IsPositive() {
		return domain.Quote{}, notFound(SourceBybit, symbol)
	}
	prev, err := parseDecimal("prevPrice24h", ticker.prev)
	if err != nil {
		return domain.Quote{}, err
	}
	volume, err := parseDecimal("volume24h", ticker.volume)
	if err != nil {
		return domain.Quote{}, err
	}

	change := decimal.Zero
	if prev.IsPositive() {
		change = price.Sub(prev)
	}

	return domain.Quote{
		Symbol: symbol,
		Price:  price,
		Change: change,
		Volume: volume,
		AsOf:   time.Now(),
		Source: SourceBybit,
	}, nil
}
