// Package tradeengine is an HTTP client for the trade execution sidecar. The
// sidecar holds the signing keys and performs transaction construction,
// submission, and confirmation; this process only ever sends trade parameters
// and wallet identifiers across the boundary, never key material.
package tradeengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snipekit/sniperbot/internal/crypto"
	"github.com/snipekit/sniperbot/internal/domain"
)

var (
	_ domain.TradeExecutor = (*Client)(nil)
	_ domain.BalanceReader = (*Client)(nil)
)

// Client talks to the trade execution sidecar.
type Client struct {
	baseURL    string
	apiKey     string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a trade engine client. Requests are HMAC-signed when a
// signing secret is configured; otherwise the API key alone authenticates.
// The timeout covers transaction submission plus confirmation, which on a
// congested chain can take a while.
func NewClient(baseURL, apiKey, signingSecret string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	if secret := strings.TrimSpace(signingSecret); secret != "" {
		c.auth = &crypto.HMACAuth{
			Key:    c.apiKey,
			Secret: secret,
		}
	}
	return c
}

type buyRequest struct {
	WalletID      string  `json:"wallet_id"`
	TokenMint     string  `json:"token_mint"`
	PoolAddress   string  `json:"pool_address,omitempty"`
	AmountSol     float64 `json:"amount_sol"`
	SlippageBps   int     `json:"slippage_bps"`
	PriorityFee   float64 `json:"priority_fee"`
	MevProtection bool    `json:"mev_protection"`
}

type sellRequest struct {
	WalletID    string  `json:"wallet_id"`
	TokenMint   string  `json:"token_mint"`
	TokenAmount float64 `json:"token_amount"`
	SlippageBps int     `json:"slippage_bps"`
	PriorityFee float64 `json:"priority_fee"`
}

type tradeResponse struct {
	Signature   string  `json:"signature"`
	TokenAmount float64 `json:"token_amount"`
	SolSpent    float64 `json:"sol_spent"`
	SolReceived float64 `json:"sol_received"`
	Price       float64 `json:"price"`
	Error       string  `json:"error,omitempty"`
}

// ExecuteBuy submits a confirmed swap buying the token for SOL. A returned
// error means the attempt is spent; callers never retry a buy.
func (c *Client) ExecuteBuy(ctx context.Context, p domain.BuyParams) (domain.BuyResult, error) {
	req := buyRequest{
		WalletID:      p.Wallet.ID,
		TokenMint:     p.TokenMint,
		PoolAddress:   p.PoolAddress,
		AmountSol:     p.AmountSol,
		SlippageBps:   p.SlippageBps,
		PriorityFee:   p.PriorityFee,
		MevProtection: p.MevProtection,
	}

	var resp tradeResponse
	if err := c.doPost(ctx, "/v1/trades/buy", req, &resp); err != nil {
		return domain.BuyResult{}, fmt.Errorf("tradeengine: buy %s: %w", p.TokenMint, err)
	}
	return domain.BuyResult{
		Signature:   resp.Signature,
		TokenAmount: resp.TokenAmount,
		SolSpent:    resp.SolSpent,
		EntryPrice:  resp.Price,
	}, nil
}

// ExecuteSell submits a confirmed swap selling the token back to SOL.
func (c *Client) ExecuteSell(ctx context.Context, p domain.SellParams) (domain.SellResult, error) {
	req := sellRequest{
		WalletID:    p.Wallet.ID,
		TokenMint:   p.TokenMint,
		TokenAmount: p.TokenAmount,
		SlippageBps: p.SlippageBps,
		PriorityFee: p.PriorityFee,
	}

	var resp tradeResponse
	if err := c.doPost(ctx, "/v1/trades/sell", req, &resp); err != nil {
		return domain.SellResult{}, fmt.Errorf("tradeengine: sell %s: %w", p.TokenMint, err)
	}
	return domain.SellResult{
		Signature:   resp.Signature,
		SolReceived: resp.SolReceived,
		ExitPrice:   resp.Price,
	}, nil
}

// GetBalance reads a wallet's lamport balance through the sidecar's RPC
// proxy.
func (c *Client) GetBalance(ctx context.Context, publicKey string) (uint64, error) {
	path := "/v1/wallets/" + publicKey + "/balance"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("tradeengine: create request: %w", err)
	}
	c.setHeaders(req, http.MethodGet, path, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("tradeengine: balance of %s: %w: %v", publicKey, domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("tradeengine: read balance response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tradeengine: balance of %s: %w: HTTP %d", publicKey, domain.ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		Lamports uint64 `json:"lamports"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("tradeengine: decode balance response: %w", err)
	}
	return out.Lamports, nil
}

func (c *Client) doPost(ctx context.Context, path string, in any, out *tradeResponse) error {
	jsonBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, http.MethodPost, path, string(jsonBody))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr tradeResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			if resp.StatusCode == http.StatusPaymentRequired {
				return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, apiErr.Error)
			}
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, method, path, body string) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, body) {
			req.Header.Set(k, v)
		}
	}
}
