package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is the post-commit account state fanned out to subscribers.
type PortfolioSnapshot struct {
	AccountID   string             `json:"account_id"`
	Balance     decimal.Decimal    `json:"balance"`
	Holdings    []Holding          `json:"holdings"`
	TradeCount  uint64             `json:"trade_count"`
	Transaction *TransactionRecord `json:"transaction,omitempty"`
	Timestamp   time.Time          `json:"ts"`
}

// NewPortfolioSnapshot copies the account so the snapshot is safe to hand out.
func NewPortfolioSnapshot(account Account, record *TransactionRecord, now time.Time) PortfolioSnapshot {
	acc := account.Clone()
	var rec *TransactionRecord
	if record != nil {
		r := *record
		rec = &r
	}
	return PortfolioSnapshot{
		AccountID:   acc.ID,
		Balance:     acc.Balance,
		Holdings:    acc.Holdings,
		TradeCount:  acc.TradeCount,
		Transaction: rec,
		Timestamp:   now,
	}
}

// Portfolio is the read model returned to callers.
type Portfolio struct {
	AccountID  string          `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	Holdings   []Holding       `json:"holdings"`
	TradeCount uint64          `json:"trade_count"`
}

// HoldingValuation is a holding marked to the current market.
type HoldingValuation struct {
	Holding
	CurrentPrice      decimal.Decimal `json:"current_price"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
	DayChange         decimal.Decimal `json:"day_change"`
	Priced            bool            `json:"priced"`
}

// Valuation marks a whole account to market.
type Valuation struct {
	AccountID       string             `json:"account_id"`
	Holdings        []HoldingValuation `json:"holdings"`
	Balance         decimal.Decimal    `json:"balance"`
	HoldingsValue   decimal.Decimal    `json:"holdings_value"`
	TotalValue      decimal.Decimal    `json:"total_value"`
	TotalProfitLoss decimal.Decimal    `json:"total_profit_loss"`
	TradeCount      uint64             `json:"trade_count"`
}

var hundred = decimal.NewFromInt(100)

// ValueHolding marks h at the quote; a nil quote falls back to average cost.
func ValueHolding(h Holding, q *Quote) HoldingValuation {
	v := HoldingValuation{Holding: h, CurrentPrice: h.AverageCost}
	if q != nil {
		v.CurrentPrice = q.Price
		v.DayChange = q.Change.Mul(h.Shares)
		v.Priced = true
	}
	investment := h.AverageCost.Mul(h.Shares)
	v.CurrentValue = v.CurrentPrice.Mul(h.Shares)
	v.ProfitLoss = v.CurrentValue.Sub(investment)
	if investment.IsPositive() {
		v.ProfitLossPercent = v.ProfitLoss.Div(investment).Mul(hundred)
	}
	return v
}
