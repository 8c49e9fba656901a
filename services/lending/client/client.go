package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"isolend/services/lending/engine"
	"isolend/services/lending/journal"
	"isolend/services/lending/server"
)

// Client is a thin wrapper around the lendingd HTTP API.
type Client struct {
	baseURL string
	token   string
	caller  string
	http    *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithToken authenticates mutating calls with the bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithCaller asserts the account the token is expected to act for.
func WithCaller(caller string) Option {
	return func(c *Client) { c.caller = strings.TrimSpace(caller) }
}

// WithHTTPClient replaces the default transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New returns a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("lending client: base url required")
	}
	c := &Client{baseURL: trimmed, http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response. It unwraps to the matching engine sentinel
// so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lending api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return sentinels[e.Code]
}

var sentinels = map[string]error{
	"insufficient_collateral": engine.ErrInsufficientCollateral,
	"insufficient_liquidity":  engine.ErrInsufficientLiquidity,
	"insufficient_balance":    engine.ErrInsufficientBalance,
	"insufficient_allowance":  engine.ErrInsufficientAllowance,
	"position_healthy":        engine.ErrPositionHealthy,
	"no_active_auction":       engine.ErrNoActiveAuction,
	"asset_not_configured":    engine.ErrAssetNotConfigured,
	"repay_exceeds_debt":      engine.ErrRepayExceedsDebt,
	"invalid_amount":          engine.ErrInvalidAmount,
	"invalid_request":         engine.ErrInvalidRequest,
	"unauthorized":            engine.ErrUnauthorized,
	"not_found":               engine.ErrNotFound,
	"paused":                  engine.ErrPaused,
	"internal":                engine.ErrInternal,
}

func (c *Client) Deposit(ctx context.Context, req server.PositionRequest) (engine.Position, error) {
	var out engine.Position
	return out, c.call(ctx, "/v1/deposit", req, &out)
}

func (c *Client) Withdraw(ctx context.Context, req server.PositionRequest) (engine.Position, error) {
	var out engine.Position
	return out, c.call(ctx, "/v1/withdraw", req, &out)
}

func (c *Client) Borrow(ctx context.Context, req server.PositionRequest) (engine.Position, error) {
	var out engine.Position
	return out, c.call(ctx, "/v1/borrow", req, &out)
}

func (c *Client) Repay(ctx context.Context, req server.PositionRequest) (engine.Position, error) {
	var out engine.Position
	return out, c.call(ctx, "/v1/repay", req, &out)
}

func (c *Client) LiquidateReady(ctx context.Context, req server.LiquidateRequest) (engine.Auction, error) {
	var out engine.Auction
	return out, c.call(ctx, "/v1/liquidations/ready", req, &out)
}

func (c *Client) Liquidate(ctx context.Context, req server.LiquidateRequest) (engine.Liquidation, error) {
	var out engine.Liquidation
	return out, c.call(ctx, "/v1/liquidations/settle", req, &out)
}

func (c *Client) GetPosition(ctx context.Context, ref engine.PositionRef) (engine.Position, error) {
	var out engine.Position
	req := server.PositionRequest{Owner: ref.Owner, CollateralAsset: ref.CollateralAsset, DebtAsset: ref.DebtAsset}
	return out, c.call(ctx, "/v1/positions/get", req, &out)
}

func (c *Client) ListPositions(ctx context.Context, owner string) ([]engine.Position, error) {
	var out server.PositionsResponse
	err := c.call(ctx, "/v1/positions/list", server.OwnerRequest{Owner: owner}, &out)
	return out.Positions, err
}

func (c *Client) PositionKey(ctx context.Context, ref engine.PositionRef) (string, error) {
	var out server.KeyResponse
	req := server.PositionRequest{Owner: ref.Owner, CollateralAsset: ref.CollateralAsset, DebtAsset: ref.DebtAsset}
	err := c.call(ctx, "/v1/positions/key", req, &out)
	return out.Key, err
}

func (c *Client) GetAuction(ctx context.Context, key string) (engine.Auction, error) {
	var out engine.Auction
	return out, c.call(ctx, "/v1/auctions/get", server.KeyRequest{Key: key}, &out)
}

func (c *Client) GetAssetFactor(ctx context.Context, asset string) (engine.AssetFactor, error) {
	var out engine.AssetFactor
	return out, c.call(ctx, "/v1/assets/factor", server.AssetRequest{Asset: asset}, &out)
}

func (c *Client) GetBalance(ctx context.Context, asset, account string) (engine.Balance, error) {
	var out engine.Balance
	return out, c.call(ctx, "/v1/balances/get", server.BalanceRequest{Asset: asset, Account: account}, &out)
}

// RecentHistory returns the newest settlement journal entries.
func (c *Client) RecentHistory(ctx context.Context, limit int) ([]journal.Entry, error) {
	var out server.HistoryResponse
	err := c.call(ctx, "/v1/history/recent", server.HistoryRequest{Limit: limit}, &out)
	return out.Entries, err
}

// PositionHistory returns the journal entries of one position, oldest first.
func (c *Client) PositionHistory(ctx context.Context, key string) ([]journal.Entry, error) {
	var out server.HistoryResponse
	err := c.call(ctx, "/v1/history/position", server.KeyRequest{Key: key}, &out)
	return out.Entries, err
}

func (c *Client) SetAssetFactor(ctx context.Context, factor engine.AssetFactor) error {
	return c.call(ctx, "/v1/admin/asset-factor", factor, nil)
}

func (c *Client) SetPrice(ctx context.Context, asset, price string) error {
	return c.call(ctx, "/v1/admin/price", server.PriceRequest{Asset: asset, Price: price}, nil)
}

func (c *Client) SetOwner(ctx context.Context, newOwner string) error {
	return c.call(ctx, "/v1/admin/owner", server.SetOwnerRequest{NewOwner: newOwner}, nil)
}

func (c *Client) Mint(ctx context.Context, asset, to, amount string) error {
	return c.call(ctx, "/v1/assets/mint", server.MintRequest{Asset: asset, To: to, Amount: amount}, nil)
}

func (c *Client) Approve(ctx context.Context, asset, amount string) error {
	return c.call(ctx, "/v1/assets/approve", server.ApproveRequest{Asset: asset, Amount: amount}, nil)
}

func (c *Client) call(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.caller != "" {
		req.Header.Set(server.CallerHeader, c.caller)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Code: "http_" + fmt.Sprint(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
		var envelope server.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
