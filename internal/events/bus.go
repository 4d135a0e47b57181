// Package events fans committed portfolio snapshots out to subscribers.
package events

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/stockfolio/internal/domain"
)

const defaultBuffer = 64

// ErrEmptyAccountID is returned by Subscribe for a blank account id.
var ErrEmptyAccountID = errors.New("account id is required to subscribe")

// Subscription receives snapshots on C until it is unsubscribed.
// AccountID is empty for firehose subscriptions.
type Subscription struct {
	AccountID string
	C         <-chan domain.PortfolioSnapshot

	ch chan domain.PortfolioSnapshot
}

// Bus delivers snapshots to per-account subscribers and to firehose subscribers.
// Delivery is at-most-once: a subscriber whose buffer is full misses the snapshot,
// and Publish never blocks.
type Bus struct {
	mu        sync.RWMutex
	byAccount map[string]map[*Subscription]struct{}
	all       map[*Subscription]struct{}
	buffer    int
	dropped   atomic.Uint64
	logger    *zap.Logger
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		byAccount: make(map[string]map[*Subscription]struct{}),
		all:       make(map[*Subscription]struct{}),
		buffer:    buffer,
		logger:    logger,
	}
}

func (b *Bus) newSubscription(accountID string) *Subscription {
	ch := make(chan domain.PortfolioSnapshot, b.buffer)
	return &Subscription{AccountID: accountID, C: ch, ch: ch}
}

// Subscribe registers for snapshots of one account. Use SubscribeAll for every account.
func (b *Bus) Subscribe(accountID string) (*Subscription, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, ErrEmptyAccountID
	}
	sub := b.newSubscription(accountID)

	b.mu.Lock()
	subs, ok := b.byAccount[accountID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.byAccount[accountID] = subs
	}
	subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub, nil
}

// SubscribeAll registers for snapshots of every account.
func (b *Bus) SubscribeAll() *Subscription {
	sub := b.newSubscription("")

	b.mu.Lock()
	b.all[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel. It is safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.AccountID == "" {
		if _, ok := b.all[sub]; ok {
			delete(b.all, sub)
			close(sub.ch)
		}
		return
	}

	subs := b.byAccount[sub.AccountID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.byAccount, sub.AccountID)
	}
}

// Publish delivers the snapshot to the account's subscribers and the firehose.
func (b *Bus) Publish(accountID string, snapshot domain.PortfolioSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.byAccount[accountID] {
		b.deliver(sub, snapshot)
	}
	for sub := range b.all {
		b.deliver(sub, snapshot)
	}
}

func (b *Bus) deliver(sub *Subscription, snapshot domain.PortfolioSnapshot) {
	select {
	case sub.ch <- snapshot:
	default:
		b.dropped.Add(1)
		b.logger.Debug("snapshot dropped for slow subscriber",
			zap.String("account", snapshot.AccountID),
			zap.Uint64("trade_count", snapshot.TradeCount))
	}
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the number of live subscriptions for accountID.
func (b *Bus) Subscribers(accountID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byAccount[accountID])
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, subs := range b.byAccount {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.byAccount, id)
	}
	for sub := range b.all {
		close(sub.ch)
		delete(b.all, sub)
	}
}
