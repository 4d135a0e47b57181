package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

func snapshot(accountID string, trades uint64) domain.PortfolioSnapshot {
	return domain.PortfolioSnapshot{
		AccountID:  accountID,
		Balance:    decimal.NewFromInt(1000),
		TradeCount: trades,
		Timestamp:  time.Now(),
	}
}

func receive(t *testing.T, sub *Subscription) domain.PortfolioSnapshot {
	t.Helper()
	select {
	case s, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return s
	case <-time.After(time.Second):
		t.Fatal("no snapshot received")
		return domain.PortfolioSnapshot{}
	}
}

func TestBus_DeliversOnlyToAccountSubscribers(t *testing.T) {
	b := NewBus(4, nil)
	alice, err := b.Subscribe("alice")
	require.NoError(t, err)
	bob, err := b.Subscribe("bob")
	require.NoError(t, err)
	all := b.SubscribeAll()

	b.Publish("alice", snapshot("alice", 1))

	assert.Equal(t, uint64(1), receive(t, alice).TradeCount)
	assert.Equal(t, "alice", receive(t, all).AccountID)
	assert.Empty(t, bob.C)
}

func TestBus_PreservesOrderPerSubscriber(t *testing.T) {
	b := NewBus(16, nil)
	sub, err := b.Subscribe("alice")
	require.NoError(t, err)

	for i := uint64(1); i <= 10; i++ {
		b.Publish("alice", snapshot("alice", i))
	}
	for i := uint64(1); i <= 10; i++ {
		assert.Equal(t, i, receive(t, sub).TradeCount)
	}
}

func TestBus_DropsWhenBufferIsFull(t *testing.T) {
	b := NewBus(1, nil)
	sub, err := b.Subscribe("alice")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		b.Publish("alice", snapshot("alice", 1))
		b.Publish("alice", snapshot("alice", 2))
		b.Publish("alice", snapshot("alice", 3))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Equal(t, uint64(1), receive(t, sub).TradeCount)
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(4, nil)
	sub, err := b.Subscribe("alice")
	require.NoError(t, err)
	require.Equal(t, 1, b.Subscribers("alice"))

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.Subscribers("alice"))

	_, ok := <-sub.C
	assert.False(t, ok)

	// publishing with no subscribers is a no-op
	b.Publish("alice", snapshot("alice", 1))
}

func TestBus_Close(t *testing.T) {
	b := NewBus(4, nil)
	sub, err := b.Subscribe("alice")
	require.NoError(t, err)
	all := b.SubscribeAll()

	b.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
	_, ok = <-all.C
	assert.False(t, ok)

	b.Unsubscribe(all)
}

func TestBus_SubscribeRejectsEmptyAccount(t *testing.T) {
	b := NewBus(4, nil)

	for _, id := range []string{"", "   "} {
		sub, err := b.Subscribe(id)
		require.ErrorIs(t, err, ErrEmptyAccountID)
		assert.Nil(t, sub)
	}
	assert.Equal(t, 0, b.Subscribers(""))
}
