package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	failNext bool
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext {
		w.failNext = false
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) snapshot() ([]kafka.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.messages...), w.closed
}

func TestKafkaSink_ForwardsSnapshots(t *testing.T) {
	b := NewBus(16, nil)
	w := &fakeWriter{failNext: true}
	sink := NewKafkaSink(b, w, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	// wait for the firehose subscription
	require.Eventually(t, func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.all) == 1
	}, time.Second, time.Millisecond)

	b.Publish("alice", snapshot("alice", 1)) // lost to the failing write
	b.Publish("alice", snapshot("alice", 2))
	b.Publish("bob", snapshot("bob", 1))

	require.Eventually(t, func() bool {
		msgs, _ := w.snapshot()
		return len(msgs) == 2
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	msgs, closed := w.snapshot()
	assert.True(t, closed)
	assert.Equal(t, "alice", string(msgs[0].Key))
	assert.Equal(t, "bob", string(msgs[1].Key))

	var decoded struct {
		AccountID  string `json:"account_id"`
		TradeCount uint64 `json:"trade_count"`
		Balance    string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.Equal(t, uint64(2), decoded.TradeCount)
	assert.Equal(t, "1000", decoded.Balance)
}

func TestKafkaSink_RequiresWriter(t *testing.T) {
	sink := NewKafkaSink(NewBus(1, nil), nil, nil)
	assert.Error(t, sink.Run(context.Background()))
}
