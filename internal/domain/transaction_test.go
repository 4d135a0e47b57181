package domain

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(n int) []TransactionRecord {
	out := make([]TransactionRecord, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, TransactionRecord{AccountID: "acc", Sequence: uint64(i)})
	}
	return out
}

func sequences(rs []TransactionRecord) []uint64 {
	out := make([]uint64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Sequence)
	}
	return out
}

func TestPageFromAscending(t *testing.T) {
	all := records(7)

	first := PageFromAscending(all, TransactionQuery{Page: 1, Limit: 3})
	assert.Equal(t, []uint64{7, 6, 5}, sequences(first.Records))
	assert.Equal(t, 7, first.Total)
	assert.Equal(t, 3, first.Pages)
	assert.Equal(t, uint64(7), first.UpToSequence)

	last := PageFromAscending(all, TransactionQuery{Page: 3, Limit: 3})
	assert.Equal(t, []uint64{1}, sequences(last.Records))

	beyond := PageFromAscending(all, TransactionQuery{Page: 4, Limit: 3})
	assert.Empty(t, beyond.Records)
}

func TestPageFromAscending_PinnedViewIgnoresNewRecords(t *testing.T) {
	all := records(5)
	first := PageFromAscending(all, TransactionQuery{Page: 1, Limit: 2})

	// two more trades commit between page requests
	all = records(7)
	second := PageFromAscending(all, TransactionQuery{Page: 2, Limit: 2, UpToSequence: first.UpToSequence})
	third := PageFromAscending(all, TransactionQuery{Page: 3, Limit: 2, UpToSequence: first.UpToSequence})

	got := append(append(sequences(first.Records), sequences(second.Records)...), sequences(third.Records)...)
	assert.Equal(t, []uint64{5, 4, 3, 2, 1}, got)
	assert.Equal(t, 5, second.Total)
}

func TestTransactionQuery_Normalize(t *testing.T) {
	q := TransactionQuery{Page: 0, Limit: 0}.Normalize()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultPageLimit, q.Limit)

	q = TransactionQuery{Page: 2, Limit: 5000}.Normalize()
	assert.Equal(t, MaxPageLimit, q.Limit)
}

func TestParseSide(t *testing.T) {
	side, err := ParseSide(" BUY ")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, side)

	side, err = ParseSide("Sell")
	require.NoError(t, err)
	assert.Equal(t, SideSell, side)

	_, err = ParseSide("short")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestQuoteCauseOf(t *testing.T) {
	tests := []struct {
		err  error
		want QuoteCause
	}{
		{errors.Wrap(ErrQuoteNotFound, "alphavantage"), CauseNotFound},
		{errors.Wrap(ErrQuoteRateLimited, "binance"), CauseRateLimited},
		{context.DeadlineExceeded, CauseTimeout},
		{errors.New("boom"), CauseProviderError},
		{QuoteUnavailable("AAPL", ErrQuoteTimeout), CauseTimeout},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QuoteCauseOf(tt.err), tt.err.Error())
	}
}
