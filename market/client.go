//nolint:tagliatelle // Binance API uses camel case
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fintra/fxengine/provider/currencies"
	"github.com/fintra/fxengine/storage/types"
)

var (
	// ErrRateLimited signals an upstream HTTP 429. The cache service
	// treats it as a trigger for backoff escalation
	ErrRateLimited = errors.New("upstream rate limited")

	errInvalidPage = errors.New("invalid page number")
)

const binanceP2PURL = "https://p2p.binance.com/bapi/c2c/v2/friendly/c2c/adv/search"

// searchRequest is the request body for the Binance P2P search API
type searchRequest struct {
	Asset     types.Currency `json:"asset"`
	Fiat      types.Currency `json:"fiat"`
	TradeType Side           `json:"tradeType"`
	Rows      int            `json:"rows"`
	Page      int            `json:"page"`
}

// searchResponse is the response from the Binance P2P search API
type searchResponse struct {
	Data []searchAdvert `json:"data"`
}

type searchAdvert struct {
	Adv struct {
		AdvNo string `json:"advNo"`
		Price string `json:"price"`
	} `json:"adv"`
}

// ClientConfig configures a single P2P quote source client
type ClientConfig struct {
	URL      string
	Asset    types.Currency
	Fiat     types.Currency
	Rows     int
	MinPrice float64 // quotes below are dropped as corrupt
	MaxPrice float64 // quotes above are dropped as corrupt
	Timeout  time.Duration
}

// DefaultClientConfig returns the USDT/VES client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:      binanceP2PURL,
		Asset:    currencies.USDT,
		Fiat:     currencies.VES,
		Rows:     20,
		MinPrice: 1,
		MaxPrice: 1e7,
		Timeout:  time.Second * 10,
	}
}

// Client fetches one page of buy / sell quotes per call.
// It is stateless and never retries, retrying is the caller's concern
type Client struct {
	client *http.Client
	cfg    ClientConfig
}

// NewClient creates a new P2P quote source client
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg: cfg,
	}
}

// FetchQuotes fetches a single page of same-side quotes.
// Quotes outside the configured absolute price band are dropped at the source
func (c *Client) FetchQuotes(ctx context.Context, side Side, page int) ([]Quote, error) {
	if page < 1 {
		return nil, errInvalidPage
	}

	reqBody := searchRequest{
		Asset:     c.cfg.Asset,
		Fiat:      c.cfg.Fiat,
		TradeType: side,
		Rows:      c.cfg.Rows,
		Page:      page,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unable to create POST request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to execute POST request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("invalid status code received: %d", resp.StatusCode)
	}

	var apiResp searchResponse
	if err = json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("unable to decode response: %w", err)
	}

	quotes := make([]Quote, 0, len(apiResp.Data))

	for _, advert := range apiResp.Data {
		price, err := strconv.ParseFloat(advert.Adv.Price, 64)
		if err != nil {
			continue
		}

		// Reject obviously corrupt entries before statistical filtering runs
		if price < c.cfg.MinPrice || price > c.cfg.MaxPrice {
			continue
		}

		quotes = append(quotes, Quote{
			ID:    advert.Adv.AdvNo,
			Side:  side,
			Price: price,
		})
	}

	return quotes, nil
}
