// Package tokendata is an HTTP client for the token analysis API, which
// aggregates DEX market data, holder distribution, and token metadata for
// freshly migrated tokens. It backs both filter snapshots and the automation
// engine's price polling.
package tokendata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snipekit/sniperbot/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.TokenAnalyzer = (*Client)(nil)
	_ domain.PriceSource   = (*Client)(nil)
)

// Client queries the token analysis REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a token data client for the given base URL, e.g.
// "https://api.tokenwatch.example". Requests time out after 10 seconds;
// callers bound individual lookups further with their own contexts.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetMarketData returns the volume and market-cap slice for a token.
func (c *Client) GetMarketData(ctx context.Context, tokenMint string) (domain.MarketData, error) {
	var resp struct {
		VolumeUsd    float64 `json:"volume_usd"`
		MarketCapUsd float64 `json:"market_cap_usd"`
		PriceUsd     float64 `json:"price_usd"`
	}
	if err := c.doGet(ctx, "/v1/tokens/"+tokenMint+"/market", &resp); err != nil {
		return domain.MarketData{}, fmt.Errorf("tokendata: market data for %s: %w", tokenMint, err)
	}
	return domain.MarketData{
		VolumeUsd:    resp.VolumeUsd,
		MarketCapUsd: resp.MarketCapUsd,
		PriceUsd:     resp.PriceUsd,
	}, nil
}

// GetHolderAnalysis returns holder concentration figures for a token.
func (c *Client) GetHolderAnalysis(ctx context.Context, tokenMint string) (domain.HolderAnalysis, error) {
	var resp struct {
		HolderCount     int     `json:"holder_count"`
		DevHoldingPct   float64 `json:"dev_holding_pct"`
		Top10HoldingPct float64 `json:"top10_holding_pct"`
	}
	if err := c.doGet(ctx, "/v1/tokens/"+tokenMint+"/holders", &resp); err != nil {
		return domain.HolderAnalysis{}, fmt.Errorf("tokendata: holder analysis for %s: %w", tokenMint, err)
	}
	return domain.HolderAnalysis{
		HolderCount:     resp.HolderCount,
		DevHoldingPct:   resp.DevHoldingPct,
		Top10HoldingPct: resp.Top10HoldingPct,
	}, nil
}

// GetTokenMetadata returns the socials and liquidity-lock slice for a token.
func (c *Client) GetTokenMetadata(ctx context.Context, tokenMint string) (domain.TokenMetadata, error) {
	var resp struct {
		HasTwitter      bool `json:"has_twitter"`
		HasTelegram     bool `json:"has_telegram"`
		HasWebsite      bool `json:"has_website"`
		LiquidityLocked bool `json:"liquidity_locked"`
	}
	if err := c.doGet(ctx, "/v1/tokens/"+tokenMint+"/metadata", &resp); err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("tokendata: metadata for %s: %w", tokenMint, err)
	}
	return domain.TokenMetadata{
		HasTwitter:      resp.HasTwitter,
		HasTelegram:     resp.HasTelegram,
		HasWebsite:      resp.HasWebsite,
		LiquidityLocked: resp.LiquidityLocked,
	}, nil
}

// GetPrice returns the current price in SOL for a single token.
func (c *Client) GetPrice(ctx context.Context, tokenMint string) (float64, error) {
	prices, err := c.GetPrices(ctx, []string{tokenMint})
	if err != nil {
		return 0, err
	}
	price, ok := prices[tokenMint]
	if !ok {
		return 0, fmt.Errorf("tokendata: price for %s: %w", tokenMint, domain.ErrNotFound)
	}
	return price, nil
}

// GetPrices returns current prices in SOL for the given tokens in one call.
// Tokens the API cannot price are absent from the result.
func (c *Client) GetPrices(ctx context.Context, tokenMints []string) (map[string]float64, error) {
	if len(tokenMints) == 0 {
		return map[string]float64{}, nil
	}

	var resp struct {
		Prices map[string]float64 `json:"prices"`
	}
	path := "/v1/prices?mints=" + url.QueryEscape(strings.Join(tokenMints, ","))
	if err := c.doGet(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("tokendata: batch prices: %w", err)
	}
	if resp.Prices == nil {
		resp.Prices = map[string]float64{}
	}
	return resp.Prices, nil
}

// doGet executes a GET against the API and decodes the JSON body into out.
// Transport failures and 5xx responses map to ErrUnavailable so the filter
// policy table can distinguish "provider down" from a hard error.
func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP 429", domain.ErrUnavailable)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", domain.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
