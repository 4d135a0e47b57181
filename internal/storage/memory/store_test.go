package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

var now = time.Date(2024, 5, 17, 15, 0, 0, 0, time.UTC)

func buy(t *testing.T, s *Store, id string, shares, price int64) domain.Account {
	t.Helper()
	ctx := context.Background()

	current, err := s.LoadAccount(ctx, id)
	require.NoError(t, err)
	next, err := current.ApplyBuy("AAPL", decimal.NewFromInt(shares), decimal.NewFromInt(price), now)
	require.NoError(t, err)

	record := domain.TransactionRecord{
		ID:        "tx",
		AccountID: id,
		Sequence:  next.TradeCount,
		Side:      domain.SideBuy,
		Symbol:    "AAPL",
		Shares:    decimal.NewFromInt(shares),
		Price:     decimal.NewFromInt(price),
		Total:     decimal.NewFromInt(shares * price),
		Timestamp: now,
	}
	require.NoError(t, s.Commit(ctx, next, record))
	return next
}

func TestStore_AccountLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	account, err := domain.NewAccount("alice", decimal.NewFromInt(10000), now)
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(ctx, account))
	assert.ErrorIs(t, s.CreateAccount(ctx, account), domain.ErrAccountExists)

	_, err = s.LoadAccount(ctx, "bob")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	deposited, err := account.ApplyDeposit(decimal.NewFromInt(500), now)
	require.NoError(t, err)
	require.NoError(t, s.SaveAccount(ctx, deposited))

	loaded, err := s.LoadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, loaded.Balance.Equal(decimal.NewFromInt(10500)))
	ids, err := s.AccountIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, ids)
}

func TestStore_CommitAndList(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	account, err := domain.NewAccount("alice", decimal.NewFromInt(10000), now)
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(ctx, account))

	buy(t, s, "alice", 10, 150)
	last := buy(t, s, "alice", 10, 170)

	loaded, err := s.LoadAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, last.TradeCount, loaded.TradeCount)
	assert.True(t, loaded.Balance.Equal(decimal.NewFromInt(6800)))

	page, err := s.ListTransactions(ctx, "alice", domain.TransactionQuery{})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, uint64(2), page.Records[0].Sequence)
	assert.Equal(t, 2, page.Total)

	_, err = s.ListTransactions(ctx, "bob", domain.TransactionQuery{})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestStore_RejectsStaleCommit(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	account, err := domain.NewAccount("alice", decimal.NewFromInt(10000), now)
	require.NoError(t, err)
	require.NoError(t, s.CreateAccount(ctx, account))

	stale, err := account.ApplyBuy("AAPL", decimal.NewFromInt(1), decimal.NewFromInt(100), now)
	require.NoError(t, err)
	buy(t, s, "alice", 1, 100)

	record := domain.TransactionRecord{
		ID: "tx2", AccountID: "alice", Sequence: stale.TradeCount, Side: domain.SideBuy,
		Symbol: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Timestamp: now,
	}
	assert.ErrorIs(t, s.Commit(ctx, stale, record), domain.ErrStaleAccount)

	page, err := s.ListTransactions(ctx, "alice", domain.TransactionQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	// a deposit computed before the trade is stale too
	deposit, err := account.ApplyDeposit(decimal.NewFromInt(1), now)
	require.NoError(t, err)
	assert.ErrorIs(t, s.SaveAccount(ctx, deposit), domain.ErrStaleAccount)
}
