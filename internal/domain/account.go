// Package domain defines the accounting model shared by the executor, stores and gateway.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account cash balance and equity holdings of a single trading account.
type Account struct {
	ID         string          `json:"id"`
	Balance    decimal.Decimal `json:"balance"`
	Holdings   []Holding       `json:"holdings"`
	TradeCount uint64          `json:"trade_count"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Holding position in a single symbol.
// Shares is always positive while the holding exists.
type Holding struct {
	Symbol      string          `json:"symbol"`
	Shares      decimal.Decimal `json:"shares"`
	AverageCost decimal.Decimal `json:"average_cost"`
}

// NewAccount creates an account with the given starting cash.
func NewAccount(id string, balance decimal.Decimal, now time.Time) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, Validationf("account id is required")
	}
	if balance.IsNegative() {
		return Account{}, Validationf("initial balance must not be negative, got %s", balance.String())
	}

	return Account{
		ID:        id,
		Balance:   balance,
		Holdings:  []Holding{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy so callers never share the holdings slice.
func (a Account) Clone() Account {
	clone := a
	clone.Holdings = make([]Holding, len(a.Holdings))
	copy(clone.Holdings, a.Holdings)
	return clone
}

// Holding returns the holding for symbol, if present.
func (a Account) Holding(symbol string) (Holding, bool) {
	for _, h := range a.Holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}

// SharesOf returns the number of shares held for symbol, zero when absent.
func (a Account) SharesOf(symbol string) decimal.Decimal {
	h, ok := a.Holding(symbol)
	if !ok {
		return decimal.Zero
	}
	return h.Shares
}

// ApplyBuy debits cost and merges shares into the holding using weighted average cost.
// The receiver is left untouched; the updated copy is returned.
func (a Account) ApplyBuy(symbol string, shares, price decimal.Decimal, now time.Time) (Account, error) {
	if !shares.IsPositive() {
		return a, Validationf("shares must be positive, got %s", shares.String())
	}
	cost := shares.Mul(price)
	if a.Balance.LessThan(cost) {
		return a, NewError(KindInsufficientFunds,
			"Insufficient balance. Need $"+cost.StringFixed(2)+", available $"+a.Balance.StringFixed(2), nil)
	}

	next := a.Clone()
	next.Balance = next.Balance.Sub(cost)

	idx := next.holdingIndex(symbol)
	if idx < 0 {
		next.Holdings = append(next.Holdings, Holding{Symbol: symbol, Shares: shares, AverageCost: price})
	} else {
		h := next.Holdings[idx]
		totalShares := h.Shares.Add(shares)
		existingNotional := h.AverageCost.Mul(h.Shares)
		h.AverageCost = existingNotional.Add(cost).Div(totalShares)
		h.Shares = totalShares
		next.Holdings[idx] = h
	}

	next.TradeCount++
	next.UpdatedAt = now
	return next, nil
}

// ApplySell credits proceeds and reduces the holding, removing it at zero.
// Average cost is never changed by a sell. The realized profit or loss is returned.
func (a Account) ApplySell(symbol string, shares, price decimal.Decimal, now time.Time) (Account, decimal.Decimal, error) {
	if !shares.IsPositive() {
		return a, decimal.Zero, Validationf("shares must be positive, got %s", shares.String())
	}
	idx := a.holdingIndex(symbol)
	if idx < 0 || a.Holdings[idx].Shares.LessThan(shares) {
		return a, decimal.Zero, NewError(KindInsufficientShares,
			"Insufficient shares. You have "+a.SharesOf(symbol).String()+" shares of "+symbol, nil)
	}

	next := a.Clone()
	h := next.Holdings[idx]
	proceeds := shares.Mul(price)
	realized := price.Sub(h.AverageCost).Mul(shares)

	next.Balance = next.Balance.Add(proceeds)
	h.Shares = h.Shares.Sub(shares)
	if h.Shares.IsZero() {
		next.Holdings = append(next.Holdings[:idx], next.Holdings[idx+1:]...)
	} else {
		next.Holdings[idx] = h
	}

	next.TradeCount++
	next.UpdatedAt = now
	return next, realized, nil
}

// ApplyDeposit credits external cash.
func (a Account) ApplyDeposit(amount decimal.Decimal, now time.Time) (Account, error) {
	if !amount.IsPositive() {
		return a, Validationf("deposit amount must be positive, got %s", amount.String())
	}
	next := a.Clone()
	next.Balance = next.Balance.Add(amount)
	next.UpdatedAt = now
	return next, nil
}

func (a Account) holdingIndex(symbol string) int {
	for i, h := range a.Holdings {
		if h.Symbol == symbol {
			return i
		}
	}
	return -1
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
