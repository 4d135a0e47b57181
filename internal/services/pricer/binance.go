package pricer

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

const (
	binanceInvalidSymbol   = -1121
	binanceTooManyRequests = -1003
	binanceTooManyOrders   = -1015
)

// BinanceProvider serves crypto tickers (e.g. BTCUSDT) from the Binance public 24h statistics.
type BinanceProvider struct {
	client *binance.Client
}

func NewBinanceProvider(client *binance.Client) *BinanceProvider {
	return &BinanceProvider{client: client}
}

func (p *BinanceProvider) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	stats, err := p.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.Quote{}, classifyBinanceError(ctx, symbol, err)
	}
	if len(stats) == 0 || stats[0] == nil {
		return domain.Quote{}, notFound(SourceBinance, symbol)
	}

	s := stats[0]
	price, err := parseDecimal("lastPrice", s.LastPrice)
	if err != nil {
		return domain.Quote{}, err
	}
	if !price.IsPositive() {
		return domain.Quote{}, notFound(SourceBinance, symbol)
	}
	change, err := parseDecimal("priceChange", s.PriceChange)
	if err != nil {
		return domain.Quote{}, err
	}
	volume, err := parseDecimal("volume", s.Volume)
	if err != nil {
		return domain.Quote{}, err
	}

	asOf := time.Now()
	if s.CloseTime > 0 {
		asOf = time.UnixMilli(s.CloseTime)
	}

	return domain.Quote{
		Symbol: symbol,
		Price:  price,
		Change: change,
		Volume: volume,
		AsOf:   asOf,
		Source: SourceBinance,
	}, nil
}

func classifyBinanceError(ctx context.Context, symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case binanceInvalidSymbol:
			return notFound(SourceBinance, symbol)
		case binanceTooManyRequests, binanceTooManyOrders:
			return errors.Wrapf(domain.ErrQuoteRateLimited, "%s: %s", SourceBinance, apiErr.Message)
		}
	}
	return transportError(ctx, SourceBinance, err)
}
