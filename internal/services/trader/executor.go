// Package trader executes market buys and sells against cash accounts
// and keeps balance, holdings and the ledger consistent.
package trader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stockfolio/internal/domain"
	"github.com/vadiminshakov/stockfolio/pkg/retrier"
)

const (
	StatusSuccess = "success"

	defaultQuoteRetries = 2
)

var defaultInitialBalance = decimal.NewFromInt(10000)

// Store persists accounts and the ledger. Commit must write the account and the
// record as one unit: either both are visible afterwards or neither is.
type Store interface {
	CreateAccount(ctx context.Context, account domain.Account) error
	LoadAccount(ctx context.Context, id string) (domain.Account, error)
	SaveAccount(ctx context.Context, account domain.Account) error
	Commit(ctx context.Context, account domain.Account, record domain.TransactionRecord) error
	ListTransactions(ctx context.Context, accountID string, q domain.TransactionQuery) (domain.TransactionPage, error)
}

// QuoteSource provides quotes, normally a quotecache.Cache.
type QuoteSource interface {
	Get(ctx context.Context, symbol string, kind domain.QuoteKind) (domain.Quote, error)
	Basket(ctx context.Context, symbols []string, kind domain.QuoteKind) []domain.Quote
}

// Publisher receives snapshots after every committed change.
type Publisher interface {
	Publish(accountID string, snapshot domain.PortfolioSnapshot)
}

// TradeResult is returned for a committed buy or sell.
type TradeResult struct {
	Status      string                   `json:"status"`
	Message     string                   `json:"message"`
	Balance     decimal.Decimal          `json:"balance"`
	Holdings    []domain.Holding         `json:"holdings"`
	Transaction domain.TransactionRecord `json:"transaction"`
}

// Executor serializes operations per account. Quotes are fetched before the
// account lock is taken; funds and shares are re-checked under the lock.
type Executor struct {
	store          Store
	quotes         QuoteSource
	publisher      Publisher
	logger         *zap.Logger
	locks          *accountLocks
	retrier        *retrier.Retrier
	now            func() time.Time
	newID          func() string
	initialBalance decimal.Decimal
}

type Option func(*Executor)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// WithRetrier replaces the policy used for quote fetches.
func WithRetrier(r *retrier.Retrier) Option {
	return func(e *Executor) {
		if r != nil {
			e.retrier = r
		}
	}
}

// WithInitialBalance sets the cash given to accounts opened without an explicit balance.
func WithInitialBalance(balance decimal.Decimal) Option {
	return func(e *Executor) {
		e.initialBalance = balance
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Executor) {
		e.newID = newID
	}
}

// NewExecutor creates an executor. publisher may be nil.
func NewExecutor(store Store, quotes QuoteSource, publisher Publisher, opts ...Option) (*Executor, error) {
	if store == nil {
		return nil, errors.New("store is required for executor")
	}
	if quotes == nil {
		return nil, errors.New("quote source is required for executor")
	}

	e := &Executor{
		store:          store,
		quotes:         quotes,
		publisher:      publisher,
		logger:         zap.NewNop(),
		locks:          newAccountLocks(),
		retrier:        NewQuoteRetrier(defaultQuoteRetries),
		now:            time.Now,
		newID:          uuid.NewString,
		initialBalance: defaultInitialBalance,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewQuoteRetrier retries quote fetches up to maxRetries times.
func NewQuoteRetrier(maxRetries int, opts ...retrier.Option) *retrier.Retrier {
	opts = append([]retrier.Option{
		retrier.WithMaxRetries(maxRetries),
		retrier.WithRetryIf(isRetryableQuoteError),
	}, opts...)
	return retrier.New(opts...)
}

// only transport failures are worth another attempt; a missing symbol or an
// exhausted rate limit will not change within the backoff window
func isRetryableQuoteError(err error) bool {
	return domain.QuoteCauseOf(err) == domain.CauseProviderError
}

// Buy purchases shares of symbol at the current live price.
func (e *Executor) Buy(ctx context.Context, accountID, symbol string, shares decimal.Decimal) (TradeResult, error) {
	return e.trade(ctx, domain.SideBuy, accountID, symbol, shares)
}

// Sell disposes of shares of symbol at the current live price.
func (e *Executor) Sell(ctx context.Context, accountID, symbol string, shares decimal.Decimal) (TradeResult, error) {
	return e.trade(ctx, domain.SideSell, accountID, symbol, shares)
}

// Execute dispatches a textual action ("buy" or "sell", any casing).
func (e *Executor) Execute(ctx context.Context, accountID, action, symbol string, shares decimal.Decimal) (TradeResult, error) {
	side, err := domain.ParseSide(action)
	if err != nil {
		return TradeResult{}, err
	}
	return e.trade(ctx, side, accountID, symbol, shares)
}

func (e *Executor) trade(ctx context.Context, side domain.Side, accountID, symbol string, shares decimal.Decimal) (TradeResult, error) {
	accountID = strings.TrimSpace(accountID)
	symbol = domain.NormalizeSymbol(symbol)

	switch {
	case accountID == "":
		return TradeResult{}, domain.Validationf("account id is required")
	case symbol == "":
		return TradeResult{}, domain.Validationf("symbol is required")
	case !shares.IsPositive():
		return TradeResult{}, domain.Validationf("shares must be positive, got %s", shares.String())
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return TradeResult{}, err
	}
	if side == domain.SideSell && account.SharesOf(symbol).LessThan(shares) {
		return TradeResult{}, insufficientShares(account, symbol)
	}

	quote, err := e.liveQuote(ctx, symbol)
	if err != nil {
		e.logger.Warn("trade aborted, quote unavailable",
			zap.String("account", accountID),
			zap.String("symbol", symbol),
			zap.String("side", side.String()),
			zap.Error(err))
		return TradeResult{}, err
	}

	unlock := e.locks.Lock(accountID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return TradeResult{}, domain.QuoteUnavailable(symbol, errors.Wrap(domain.ErrQuoteTimeout, err.Error()))
	}

	// state may have moved while the quote was in flight
	account, err = e.loadAccount(ctx, accountID)
	if err != nil {
		return TradeResult{}, err
	}

	now := e.now()
	var (
		next     domain.Account
		realized decimal.Decimal
	)
	switch side {
	case domain.SideBuy:
		next, err = account.ApplyBuy(symbol, shares, quote.Price, now)
	case domain.SideSell:
		next, realized, err = account.ApplySell(symbol, shares, quote.Price, now)
	}
	if err != nil {
		return TradeResult{}, err
	}

	record := domain.TransactionRecord{
		ID:          e.newID(),
		AccountID:   accountID,
		Sequence:    next.TradeCount,
		Side:        side,
		Symbol:      symbol,
		Shares:      shares,
		Price:       quote.Price,
		Total:       shares.Mul(quote.Price),
		RealizedPnL: realized,
		Timestamp:   now,
	}

	if err := e.store.Commit(ctx, next, record); err != nil {
		e.logger.Error("trade commit failed",
			zap.String("account", accountID),
			zap.String("symbol", symbol),
			zap.String("side", side.String()),
			zap.Error(err))
		return TradeResult{}, domain.Internal("failed to commit trade", err)
	}

	e.publish(next, &record)

	e.logger.Info("trade committed",
		zap.String("account", accountID),
		zap.String("side", side.String()),
		zap.String("symbol", symbol),
		zap.String("shares", shares.String()),
		zap.String("price", quote.Price.String()),
		zap.String("balance", next.Balance.String()),
		zap.Uint64("sequence", record.Sequence))

	verb := "bought"
	if side == domain.SideSell {
		verb = "sold"
	}
	return TradeResult{
		Status:      StatusSuccess,
		Message:     fmt.Sprintf("Successfully %s %s shares of %s at $%s", verb, shares.String(), symbol, quote.Price.StringFixed(2)),
		Balance:     next.Balance,
		Holdings:    next.Clone().Holdings,
		Transaction: record,
	}, nil
}

func (e *Executor) liveQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	quote, err := retrier.DoWithData(e.retrier, ctx, func(ctx context.Context) (domain.Quote, error) {
		return e.quotes.Get(ctx, symbol, domain.QuoteLive)
	})
	if err != nil {
		// the deadline ran out while backing off after a transport failure
		if ctxErr := ctx.Err(); ctxErr != nil && domain.QuoteCauseOf(err) == domain.CauseProviderError {
			err = errors.Wrap(domain.ErrQuoteTimeout, ctxErr.Error())
		}
		return domain.Quote{}, domain.QuoteUnavailable(symbol, err)
	}
	return quote, nil
}

func (e *Executor) publish(account domain.Account, record *domain.TransactionRecord) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(account.ID, domain.NewPortfolioSnapshot(account, record, e.now()))
}

func (e *Executor) loadAccount(ctx context.Context, id string) (domain.Account, error) {
	account, err := e.store.LoadAccount(ctx, id)
	if err == nil {
		return account, nil
	}
	if errors.Is(err, domain.ErrAccountNotFound) {
		return domain.Account{}, domain.NewError(domain.KindAccountNotFound, "account "+id+" not found", err)
	}
	return domain.Account{}, domain.Internal("failed to load account", err)
}

func insufficientShares(account domain.Account, symbol string) error {
	return domain.NewError(domain.KindInsufficientShares,
		"Insufficient shares. You have "+account.SharesOf(symbol).String()+" shares of "+symbol, nil)
}

// OpenAccount creates an account. An empty id gets a generated one and a nil
// balance gets the configured starting cash.
func (e *Executor) OpenAccount(ctx context.Context, id string, balance *decimal.Decimal) (domain.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = e.newID()
	}
	initial := e.initialBalance
	if balance != nil {
		initial = *balance
	}

	account, err := domain.NewAccount(id, initial, e.now())
	if err != nil {
		return domain.Account{}, err
	}
	if err := e.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, domain.ErrAccountExists) {
			return domain.Account{}, domain.Validationf("account %s already exists", id)
		}
		return domain.Account{}, domain.Internal("failed to create account", err)
	}

	e.logger.Info("account opened", zap.String("account", id), zap.String("balance", initial.String()))
	return account, nil
}

// Deposit credits cash to an account under the same lock as trades.
func (e *Executor) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (domain.Portfolio, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Portfolio{}, domain.Validationf("account id is required")
	}
	if !amount.IsPositive() {
		return domain.Portfolio{}, domain.Validationf("deposit amount must be positive, got %s", amount.String())
	}

	unlock := e.locks.Lock(accountID)
	defer unlock()

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	next, err := account.ApplyDeposit(amount, e.now())
	if err != nil {
		return domain.Portfolio{}, err
	}
	if err := e.store.SaveAccount(ctx, next); err != nil {
		return domain.Portfolio{}, domain.Internal("failed to save deposit", err)
	}

	e.publish(next, nil)
	e.logger.Info("deposit committed",
		zap.String("account", accountID),
		zap.String("amount", amount.String()),
		zap.String("balance", next.Balance.String()))

	return portfolioOf(next), nil
}

// Portfolio returns balance and holdings.
func (e *Executor) Portfolio(ctx context.Context, accountID string) (domain.Portfolio, error) {
	account, err := e.loadAccount(ctx, strings.TrimSpace(accountID))
	if err != nil {
		return domain.Portfolio{}, err
	}
	return portfolioOf(account), nil
}

func portfolioOf(account domain.Account) domain.Portfolio {
	acc := account.Clone()
	return domain.Portfolio{
		AccountID:  acc.ID,
		Balance:    acc.Balance,
		Holdings:   acc.Holdings,
		TradeCount: acc.TradeCount,
	}
}

// ListTransactions returns one newest-first page of the ledger.
// Pages after the first must pass back the UpToSequence of the first page;
// without it a trade committed between requests shifts every later page by one
// and the caller sees duplicates.
func (e *Executor) ListTransactions(ctx context.Context, accountID string, q domain.TransactionQuery) (domain.TransactionPage, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.TransactionPage{}, domain.Validationf("account id is required")
	}

	page, err := e.store.ListTransactions(ctx, accountID, q.Normalize())
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.TransactionPage{}, domain.NewError(domain.KindAccountNotFound, "account "+accountID+" not found", err)
		}
		return domain.TransactionPage{}, domain.Internal("failed to list transactions", err)
	}
	return page, nil
}

// Valuation marks every holding to the live market. Holdings whose quote
// cannot be fetched are valued at average cost.
func (e *Executor) Valuation(ctx context.Context, accountID string) (domain.Valuation, error) {
	account, err := e.loadAccount(ctx, strings.TrimSpace(accountID))
	if err != nil {
		return domain.Valuation{}, err
	}

	symbols := make([]string, 0, len(account.Holdings))
	for _, h := range account.Holdings {
		symbols = append(symbols, h.Symbol)
	}
	quotes := make(map[string]domain.Quote, len(symbols))
	for _, q := range e.quotes.Basket(ctx, symbols, domain.QuoteLive) {
		quotes[q.Symbol] = q
	}

	v := domain.Valuation{
		AccountID:  account.ID,
		Holdings:   make([]domain.HoldingValuation, 0, len(account.Holdings)),
		Balance:    account.Balance,
		TradeCount: account.TradeCount,
	}
	for _, h := range account.Holdings {
		var quote *domain.Quote
		if q, ok := quotes[h.Symbol]; ok {
			quote = &q
		}
		hv := domain.ValueHolding(h, quote)
		v.Holdings = append(v.Holdings, hv)
		v.HoldingsValue = v.HoldingsValue.Add(hv.CurrentValue)
		v.TotalProfitLoss = v.TotalProfitLoss.Add(hv.ProfitLoss)
	}
	v.TotalValue = v.Balance.Add(v.HoldingsValue)

	return v, nil
}
