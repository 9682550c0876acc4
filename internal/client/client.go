// Package client is a Go client for the market API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/previsao/market-api/internal/auth"
	"github.com/previsao/market-api/internal/idempotency"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/trade"
	"github.com/previsao/market-api/internal/wallet"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls the API at a base URL. The bearer token is set explicitly
// after login or register.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken starts the client with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// --- Auth ---

// Register creates an account and keeps its token.
func (c *Client) Register(ctx context.Context, email, password, fullName string) (*auth.SessionResponse, error) {
	var out auth.SessionResponse
	err := c.do(ctx, http.MethodPost, "/auth/register", "", auth.RegisterRequest{
		Email: email, Password: password, FullName: fullName,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Login authenticates and keeps the token.
func (c *Client) Login(ctx context.Context, email, password string) (*auth.SessionResponse, error) {
	var out auth.SessionResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", "", auth.LoginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Logout tells the server and drops the token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", "", nil, nil)
	c.SetToken("")
	return err
}

func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var out model.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Markets ---

// MarketQuery filters ListMarkets. Zero fields are omitted.
type MarketQuery struct {
	Status   string
	Category string
	Q        string
	Limit    int
}

func (c *Client) ListMarkets(ctx context.Context, q MarketQuery) ([]model.Market, error) {
	v := url.Values{}
	setIf(v, "status", q.Status)
	setIf(v, "category", q.Category)
	setIf(v, "q", q.Q)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var out trade.Page[model.Market]
	if err := c.do(ctx, http.MethodGet, withQuery("/markets", v), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetMarket(ctx context.Context, marketID string) (*model.Market, error) {
	var out model.Market
	if err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(marketID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOrderbook(ctx context.Context, marketID, outcomeID string) (*trade.Book, error) {
	v := url.Values{"outcomeId": {outcomeID}}
	var out trade.Book
	path := withQuery("/markets/"+url.PathEscape(marketID)+"/orderbook", v)
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMarketTrades(ctx context.Context, marketID string) ([]model.Trade, error) {
	var out trade.Page[model.Trade]
	if err := c.do(ctx, http.MethodGet, "/markets/"+url.PathEscape(marketID)+"/trades", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// --- Orders & positions ---

// PlaceOrder submits an order under idempotencyKey. Retrying with the same
// key and request returns the original result.
func (c *Client) PlaceOrder(ctx context.Context, idempotencyKey string, req trade.PlaceOrderRequest) (*model.Order, error) {
	var out model.Order
	if err := c.do(ctx, http.MethodPost, "/orders", idempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OrderQuery filters ListOrders. Zero fields are omitted.
type OrderQuery struct {
	Status   string
	MarketID string
	Limit    int
}

func (c *Client) ListOrders(ctx context.Context, q OrderQuery) ([]model.Order, error) {
	v := url.Values{}
	setIf(v, "status", q.Status)
	setIf(v, "marketId", q.MarketID)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var out trade.Page[model.Order]
	if err := c.do(ctx, http.MethodGet, withQuery("/orders", v), "", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var out model.Order
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/cancel", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListPositions(ctx context.Context) ([]model.Position, error) {
	var out struct {
		Items []model.Position `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/positions", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// --- Wallet ---

func (c *Client) Balance(ctx context.Context) (*model.WalletBalance, error) {
	var out model.WalletBalance
	if err := c.do(ctx, http.MethodGet, "/wallet/balance", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePixDeposit opens a Pix deposit of amountBRL (a decimal string).
func (c *Client) CreatePixDeposit(ctx context.Context, idempotencyKey, amountBRL string) (*model.PixDeposit, error) {
	var out model.PixDeposit
	err := c.do(ctx, http.MethodPost, "/wallet/deposits/pix/create", idempotencyKey,
		wallet.PixDepositRequest{AmountBRL: amountBRL}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePixWithdrawal requests a payout of amountBRL to a Pix key.
func (c *Client) CreatePixWithdrawal(ctx context.Context, idempotencyKey string, req wallet.PixWithdrawalRequest) (*model.PixWithdrawal, error) {
	var out model.PixWithdrawal
	err := c.do(ctx, http.MethodPost, "/wallet/withdrawals/pix/create", idempotencyKey, req, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPixDeposit(ctx context.Context, depositID string) (*model.PixDeposit, error) {
	var out model.PixDeposit
	if err := c.do(ctx, http.MethodGet, "/wallet/deposits/pix/"+url.PathEscape(depositID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompletePixDeposit confirms a deposit through the development-only route.
func (c *Client) CompletePixDeposit(ctx context.Context, depositID string) (*wallet.Completion, error) {
	var out wallet.Completion
	path := "/dev/pix/deposits/" + url.PathEscape(depositID) + "/complete"
	if err := c.do(ctx, http.MethodPost, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- Transport ---

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotency.HeaderKey, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var env struct {
		Error struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
		return apiErr
	}
	apiErr.Code = "HTTP_ERROR"
	apiErr.Message = http.StatusText(status)
	return apiErr
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}
