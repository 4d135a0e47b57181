package pricer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

// HyperliquidProvider serves mid prices from the Hyperliquid public Info API.
// Mids carry no change or volume, so those stay zero.
type HyperliquidProvider struct {
	info *hyperliquid.Info
}

func NewHyperliquidProvider(info *hyperliquid.Info) *HyperliquidProvider {
	return &HyperliquidProvider{info: info}
}

func (p *HyperliquidProvider) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if p.info == nil {
		return domain.Quote{}, errors.Wrap(domain.ErrQuoteProvider, "hyperliquid info client is nil")
	}

	mids, err := p.info.AllMids(ctx)
	if err != nil {
		return domain.Quote{}, transportError(ctx, SourceHyperliquid, err)
	}

	// mids are keyed by base coin, so BTC_USDC and BTC both resolve to BTC
	coin := symbol
	if i := strings.IndexAny(coin, "_-/"); i > 0 {
		coin = coin[:i]
	}
	mid, ok := mids[coin]
	if !ok || mid == "" {
		return domain.Quote{}, notFound(SourceHyperliquid, fmt.Sprintf("%s (coin %s)", symbol, coin))
	}

	price, err := parseDecimal("mid", mid)
	if err != nil {
		return domain.Quote{}, err
	}

	return domain.Quote{
		Symbol: symbol,
		Price:  price,
		AsOf:   time.Now(),
		Source: SourceHyperliquid,
	}, nil
}
