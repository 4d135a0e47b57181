package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

func TestCheckCommit(t *testing.T) {
	now := time.Now()
	current, err := domain.NewAccount("alice", decimal.NewFromInt(1000), now)
	require.NoError(t, err)
	next, err := current.ApplyBuy("AAPL", decimal.NewFromInt(2), decimal.NewFromInt(100), now)
	require.NoError(t, err)

	record := domain.TransactionRecord{
		ID: "tx", AccountID: "alice", Sequence: 1, Side: domain.SideBuy, Symbol: "AAPL",
		Shares: decimal.NewFromInt(2), Price: decimal.NewFromInt(100), Total: decimal.NewFromInt(200), Timestamp: now,
	}

	tests := []struct {
		name    string
		mutate  func(a *domain.Account, r *domain.TransactionRecord)
		ok      bool
		wantErr error
	}{
		{name: "valid", mutate: func(*domain.Account, *domain.TransactionRecord) {}, ok: true},
		{name: "skipped sequence", mutate: func(_ *domain.Account, r *domain.TransactionRecord) { r.Sequence = 2 }, wantErr: domain.ErrStaleAccount},
		{name: "stale counter", mutate: func(a *domain.Account, r *domain.TransactionRecord) { a.TradeCount = 0; r.Sequence = 0 }},
		{name: "other account", mutate: func(_ *domain.Account, r *domain.TransactionRecord) { r.AccountID = "bob" }},
		{name: "negative balance", mutate: func(a *domain.Account, _ *domain.TransactionRecord) { a.Balance = decimal.NewFromInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, r := next.Clone(), record
			tt.mutate(&a, &r)
			err := CheckCommit(current, a, r)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCheckSave(t *testing.T) {
	now := time.Now()
	current, err := domain.NewAccount("alice", decimal.NewFromInt(1000), now)
	require.NoError(t, err)

	deposited, err := current.ApplyDeposit(decimal.NewFromInt(10), now)
	require.NoError(t, err)
	assert.NoError(t, CheckSave(current, deposited))

	deposited.TradeCount = 3
	assert.ErrorIs(t, CheckSave(current, deposited), domain.ErrStaleAccount)
}
