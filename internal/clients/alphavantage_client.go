package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultAlphaVantageURL = "https://www.alphavantage.co/query"
	defaultTimeout         = 10 * time.Second
)

var (
	// ErrAlphaVantageLimit is returned when the API answers with a Note or Information body
	// or HTTP 429, which is how Alpha Vantage signals throttling.
	ErrAlphaVantageLimit = errors.New("alpha vantage rate limit or information note")
	// ErrAlphaVantageEmpty is returned when the symbol has no global quote.
	ErrAlphaVantageEmpty = errors.New("alpha vantage returned an empty quote")
)

// AlphaVantageStatusError is a non-200 answer other than 429.
type AlphaVantageStatusError struct {
	StatusCode int
	Body       string
}

func (e *AlphaVantageStatusError) Error() string {
	return fmt.Sprintf("alpha vantage returned status %d: %s", e.StatusCode, e.Body)
}

// AlphaVantageClient is a minimal client for the GLOBAL_QUOTE function.
type AlphaVantageClient struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

// NewAlphaVantageClient creates a client. An empty apiURL selects the public endpoint.
func NewAlphaVantageClient(apiURL, apiKey string) *AlphaVantageClient {
	if apiURL == "" {
		apiURL = DefaultAlphaVantageURL
	}
	return &AlphaVantageClient{
		apiURL: apiURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// GlobalQuote is the raw GLOBAL_QUOTE payload. Alpha Vantage encodes every number as a string.
type GlobalQuote struct {
	Symbol           string `json:"01. symbol"`
	Open             string `json:"02. open"`
	High             string `json:"03. high"`
	Low              string `json:"04. low"`
	Price            string `json:"05. price"`
	Volume           string `json:"06. volume"`
	LatestTradingDay string `json:"07. latest trading day"`
	PreviousClose    string `json:"08. previous close"`
	Change           string `json:"09. change"`
	ChangePercent    string `json:"10. change percent"`
}

type globalQuoteResponse struct {
	GlobalQuote *GlobalQuote `json:"Global Quote"`
	Note        string       `json:"Note,omitempty"`
	Information string       `json:"Information,omitempty"`
	Error       string       `json:"Error Message,omitempty"`
}

// GlobalQuote fetches the latest quote for symbol.
func (c *AlphaVantageClient) GlobalQuote(ctx context.Context, symbol string) (GlobalQuote, error) {
	if c.apiKey == "" {
		return GlobalQuote{}, errors.New("alpha vantage API key is empty")
	}

	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return GlobalQuote{}, errors.Wrap(err, "failed to create HTTP request")
	}
	req.Header.Set("User-Agent", "stockfolio/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return GlobalQuote{}, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GlobalQuote{}, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return GlobalQuote{}, ErrAlphaVantageLimit
	}
	if resp.StatusCode != http.StatusOK {
		return GlobalQuote{}, &AlphaVantageStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed globalQuoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return GlobalQuote{}, errors.Wrap(err, "failed to unmarshal response")
	}

	if parsed.Note != "" || parsed.Information != "" {
		return GlobalQuote{}, ErrAlphaVantageLimit
	}
	if parsed.Error != "" || parsed.GlobalQuote == nil || parsed.GlobalQuote.Price == "" {
		return GlobalQuote{}, ErrAlphaVantageEmpty
	}

	return *parsed.GlobalQuote, nil
}
