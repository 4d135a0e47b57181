//go:build integration

package pricer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/stockfolio/internal/clients"
)

func TestBybitProvider_FetchQuote_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	p := NewBybitProvider(clients.NewBybitClient("", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	q, err := p.FetchQuote(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, q.Price.IsPositive())
	assert.Equal(t, SourceBybit, q.Source)
	t.Logf("Current BTCUSDT price: %s", q.Price)
}
