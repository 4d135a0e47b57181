package pricer

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

const (
	defaultSimulateVolatility = 0.03 // +-1.5% per fetch
	maxSimulatedSymbolLength  = 12
)

var simulatedBasePrices = map[string]float64{
	"AAPL": 190, "MSFT": 420, "GOOGL": 145, "AMZN": 180, "TSLA": 220, "NVDA": 800,
	"NFLX": 550, "META": 480, "JPM": 195, "JNJ": 155, "V": 275, "WMT": 68,
}

// SimulateProvider produces a seeded random walk per symbol for local runs.
// Unknown but well-formed symbols get a base price derived from their name.
type SimulateProvider struct {
	mu         sync.Mutex
	rng        *rand.Rand
	last       map[string]decimal.Decimal
	open       map[string]decimal.Decimal
	volatility float64
	now        func() time.Time
}

func NewSimulateProvider(seed int64) *SimulateProvider {
	return &SimulateProvider{
		rng:        rand.New(rand.NewSource(seed)),
		last:       make(map[string]decimal.Decimal),
		open:       make(map[string]decimal.Decimal),
		volatility: defaultSimulateVolatility,
		now:        time.Now,
	}
}

func (p *SimulateProvider) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, timeoutError(ctx)
	}
	if !validSimulatedSymbol(symbol) {
		return domain.Quote{}, notFound(SourceSimulate, symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	open, ok := p.open[symbol]
	if !ok {
		open = decimal.NewFromFloat(basePrice(symbol)).Round(2)
		p.open[symbol] = open
		p.last[symbol] = open
	}

	last := p.last[symbol]
	step := 1 + (p.rng.Float64()-0.5)*p.volatility
	price := last.Mul(decimal.NewFromFloat(step)).Round(2)
	if !price.IsPositive() {
		price = open
	}
	p.last[symbol] = price

	return domain.Quote{
		Symbol: symbol,
		Price:  price,
		Change: price.Sub(open),
		Volume: decimal.NewFromInt(int64(p.rng.Intn(1_000_000) + 1_000)),
		AsOf:   p.now(),
		Source: SourceSimulate,
	}, nil
}

func basePrice(symbol string) float64 {
	if base, ok := simulatedBasePrices[symbol]; ok {
		return base
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return 10 + float64(h.Sum32()%50000)/100
}

func validSimulatedSymbol(symbol string) bool {
	if symbol == "" || len(symbol) > maxSimulatedSymbolLength {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
