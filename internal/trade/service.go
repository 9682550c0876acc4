// Package trade provides the HTTP handlers for markets, orders and
// positions, and the WebSocket feed of executed trades.
//
// All monetary values use shopspring/decimal and travel as decimal strings.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/auth"
	"github.com/previsao/market-api/internal/idempotency"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/request"
	"github.com/previsao/market-api/internal/settlement"
	"github.com/previsao/market-api/internal/store"
)

// Listing bounds.
const (
	DefaultMarketLimit = 20
	MaxMarketLimit     = 100
	RecentTradesLimit  = 50
)

var errMarketNotFound = apperr.NotFound("Market not found")

// Service serves market data and routes orders to the settlement engine.
type Service struct {
	store  store.Store
	engine *settlement.Engine
	guard  *idempotency.Guard
}

func NewService(st store.Store, engine *settlement.Engine, guard *idempotency.Guard) *Service {
	return &Service{store: st, engine: engine, guard: guard}
}

// --- Request/Response types ---

// PlaceOrderRequest is the JSON body for POST /orders. Side, type, price
// and amount are checked by the engine so that rejections follow its order.
type PlaceOrderRequest struct {
	MarketID  string  `json:"marketId" validate:"required"`
	OutcomeID string  `json:"outcomeId" validate:"required"`
	Side      string  `json:"side" validate:"required"`
	Type      string  `json:"type" validate:"required"`
	Price     *string `json:"price,omitempty"`
	Amount    string  `json:"amount" validate:"required"`
}

// Page is a list response. NextCursor is always null; listings are not
// paginated past their limit.
type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor"`
}

func page[T any](items []T) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items}
}

// --- Markets ---

// ListMarkets handles GET /markets
// Optional filters: ?status=, ?category=, ?q= (title or description).
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, DefaultMarketLimit, MaxMarketLimit)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	q := r.URL.Query()
	markets, err := s.store.ListMarkets(r.Context(), model.MarketFilter{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Limit:    limit,
	})
	if err != nil {
		apperr.Write(w, r, fmt.Errorf("list markets: %w", err))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, page(markets))
}

// GetMarket handles GET /markets/{marketId}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r.Context(), chi.URLParam(r, "marketId"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, market)
}

// GetOrderbook handles GET /markets/{marketId}/orderbook?outcomeId=
func (s *Service) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	outcomeID := r.URL.Query().Get("outcomeId")
	if outcomeID == "" {
		apperr.Write(w, r, apperr.InvalidInput("outcomeId is required"))
		return
	}
	market, err := s.market(r.Context(), chi.URLParam(r, "marketId"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if !market.HasOutcome(outcomeID) {
		apperr.Write(w, r, errMarketNotFound)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, Snapshot(outcomeID))
}

// GetMarketTrades handles GET /markets/{marketId}/trades
// Returns the most recent trades, newest first.
func (s *Service) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	market, err := s.market(r.Context(), chi.URLParam(r, "marketId"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	trades, err := s.store.ListTradesByMarket(r.Context(), market.ID, RecentTradesLimit)
	if err != nil {
		apperr.Write(w, r, fmt.Errorf("list trades: %w", err))
		return
	}
	apperr.WriteJSON(w, http.StatusOK, page(trades))
}

func (s *Service) market(ctx context.Context, id string) (*model.Market, error) {
	market, err := s.store.GetMarket(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errMarketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	return market, nil
}

// --- Orders ---

// PlaceOrder handles POST /orders
// The order is validated first; settlement runs under the caller's
// Idempotency-Key, so a retried request gets the stored response back.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := request.Decode(w, r, &req); err != nil {
		apperr.Write(w, r, err)
		return
	}

	ctx := r.Context()
	userID := auth.UserID(ctx)
	quote, err := s.engine.Quote(ctx, settlement.OrderRequest{
		UserID:    userID,
		MarketID:  req.MarketID,
		OutcomeID: req.OutcomeID,
		Side:      req.Side,
		Type:      req.Type,
		Amount:    req.Amount,
		Price:     req.Price,
	})
	if err != nil {
		apperr.Write(w, r, err)
		return
	}

	canonical, _ := json.Marshal(req)
	scope := idempotency.Scope{
		UserID:      userID,
		Endpoint:    idempotency.EndpointPlaceOrder,
		Key:         idempotency.KeyFromRequest(r),
		RequestHash: idempotency.HashBody(canonical),
	}
	resp, replayed, err := s.guard.Do(ctx, scope, func(ctx context.Context, commit idempotency.Commit) (idempotency.Response, error) {
		var resp idempotency.Response
		_, err := s.engine.Settle(ctx, quote, func(ctx context.Context, tx store.Tx, res *settlement.Result) error {
			body, err := json.Marshal(res.Order)
			if err != nil {
				return fmt.Errorf("encode order: %w", err)
			}
			resp = idempotency.Response{Status: http.StatusCreated, Body: body}
			return commit(ctx, tx, resp)
		})
		return resp, err
	})
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(idempotency.HeaderReplayed, "true")
	}
	apperr.WriteRaw(w, resp.Status, resp.Body)
}

// ListOrders handles GET /orders
// Optional filters: ?status=, ?marketId=, ?limit= (1..100, default 50).
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, settlement.DefaultOrderLimit, settlement.MaxOrderLimit)
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	q := r.URL.Query()
	orders, err := s.engine.ListOrders(r.Context(), auth.UserID(r.Context()), model.OrderFilter{
		Status:   q.Get("status"),
		MarketID: q.Get("marketId"),
		Limit:    limit,
	})
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, page(orders))
}

// CancelOrder handles POST /orders/{orderId}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.CancelOrder(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "orderId"))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, order)
}

// --- Positions ---

// ListPositions handles GET /positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.ListPositions(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		apperr.Write(w, r, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	apperr.WriteJSON(w, http.StatusOK, struct {
		Items []model.Position `json:"items"`
	}{positions})
}

// queryLimit reads ?limit=, falling back to def when absent.
func queryLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, apperr.InvalidInput(fmt.Sprintf("limit must be an integer between 1 and %d", max))
	}
	return n, nil
}
