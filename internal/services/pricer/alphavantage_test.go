package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/stockfolio/internal/clients"
	"github.com/vadiminshakov/stockfolio/internal/domain"
)

func alphaVantageServer(t *testing.T, status int, body string) *AlphaVantageProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return NewAlphaVantageProvider(clients.NewAlphaVantageClient(srv.URL, "test-key"))
}

func TestAlphaVantageProvider_FetchQuote(t *testing.T) {
	p := alphaVantageServer(t, http.StatusOK, `{"Global Quote": {
		"01. symbol": "AAPL",
		"05. price": "189.8400",
		"06. volume": "52164484",
		"07. latest trading day": "2024-05-17",
		"09. change": "0.0300",
		"10. change percent": "0.0158%"
	}}`)

	q, err := p.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "189.84", q.Price.String())
	assert.Equal(t, "0.03", q.Change.String())
	assert.Equal(t, "52164484", q.Volume.String())
	assert.Equal(t, 2024, q.AsOf.Year())
	assert.Equal(t, SourceAlphaVantage, q.Source)
}

func TestAlphaVantageProvider_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.QuoteCause
	}{
		{"empty quote", http.StatusOK, `{"Global Quote": {}}`, domain.CauseNotFound},
		{"error message", http.StatusOK, `{"Error Message": "Invalid API call"}`, domain.CauseNotFound},
		{"note", http.StatusOK, `{"Note": "Thank you for using Alpha Vantage!"}`, domain.CauseRateLimited},
		{"information", http.StatusOK, `{"Information": "rate limit"}`, domain.CauseRateLimited},
		{"too many requests", http.StatusTooManyRequests, ``, domain.CauseRateLimited},
		{"server error", http.StatusBadGateway, `upstream down`, domain.CauseProviderError},
		{"garbage", http.StatusOK, `not json`, domain.CauseProviderError},
		{"zero price", http.StatusOK, `{"Global Quote": {"01. symbol": "X", "05. price": "0.0000"}}`, domain.CauseNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := alphaVantageServer(t, tt.status, tt.body)
			_, err := p.FetchQuote(context.Background(), "AAPL")
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.QuoteCauseOf(err))
		})
	}
}
