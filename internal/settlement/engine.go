// Package settlement implements order placement for the market API.
//
// An accepted buy order always fills immediately and in full at its quoted
// price: a limit order at its limit price, a market order at the outcome's
// current reference price. There is no resting book and no matching. One
// store transaction debits the wallet, writes the order and its trade, and
// creates or updates the buyer's position.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/metrics"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/store"
)

var (
	ErrInsufficientBalance = apperr.New(http.StatusBadRequest, apperr.CodeInsufficientBalance,
		"Insufficient balance")
	ErrBalanceNotFound = apperr.New(http.StatusNotFound, apperr.CodeBalanceNotFound,
		"Balance not found")
	ErrMarketPriceNotFound = apperr.New(http.StatusBadRequest, apperr.CodeMarketPriceNotFound,
		"Market price not available")
	ErrSellNotImplemented = apperr.NotImplemented("Sell orders are not implemented yet")
)

// Order list bounds.
const (
	DefaultOrderLimit = 50
	MaxOrderLimit     = 100
)

// Publisher receives each trade after its settlement has committed.
type Publisher interface {
	PublishTrade(t model.Trade)
}

// OrderRequest is an order as submitted by a client. Amount and Price are
// decimal strings.
type OrderRequest struct {
	UserID    string
	MarketID  string
	OutcomeID string
	Side      string
	Type      string
	Amount    string
	Price     *string
}

// Quote is a validated order with its execution price and cost resolved.
type Quote struct {
	UserID    string
	MarketID  string
	OutcomeID string
	Type      string
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Cost      decimal.Decimal
}

// Result holds every row written by a settlement.
type Result struct {
	Order    model.Order
	Trade    model.Trade
	Position model.Position
	Wallet   model.WalletBalance
}

// Hook runs inside the settlement transaction after every settlement row
// has been written. An error from a hook rolls the settlement back.
type Hook func(ctx context.Context, tx store.Tx, res *Result) error

// Engine validates and settles orders.
type Engine struct {
	store store.Store
	pub   Publisher
	now   func() time.Time
}

// NewEngine creates an engine. pub may be nil.
func NewEngine(st store.Store, pub Publisher) *Engine {
	return &Engine{
		store: st,
		pub:   pub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder validates req and settles it.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (*Result, error) {
	q, err := e.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Settle(ctx, q)
}

// Quote runs every check that does not need the user's wallet, in a fixed
// order, and resolves the execution price. It writes nothing.
func (e *Engine) Quote(ctx context.Context, req OrderRequest) (*Quote, error) {
	// Sells are refused whatever else the order carries.
	switch req.Side {
	case model.SideBuy:
	case model.SideSell:
		return nil, reject(ErrSellNotImplemented)
	default:
		return nil, reject(apperr.InvalidInput("side must be buy or sell"))
	}

	amount, err := model.ParseDecimal(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, reject(apperr.InvalidInput("Amount must be a positive decimal string"))
	}

	market, err := e.store.GetMarket(ctx, req.MarketID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, reject(apperr.NotFound("Market not found"))
	}
	if err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	if !market.HasOutcome(req.OutcomeID) {
		return nil, reject(apperr.NotFound("Outcome not found"))
	}

	var price decimal.Decimal
	switch req.Type {
	case model.TypeLimit:
		if req.Price == nil {
			return nil, reject(apperr.InvalidInput("Limit orders require a price"))
		}
		price, err = model.ParseDecimal(*req.Price)
		if err != nil || !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, reject(apperr.InvalidInput("Price must be between 0 and 1"))
		}
	case model.TypeMarket:
		var ok bool
		price, ok = market.PriceOf(req.OutcomeID)
		if !ok {
			return nil, reject(ErrMarketPriceNotFound)
		}
	default:
		return nil, reject(apperr.InvalidInput("type must be limit or market"))
	}

	return &Quote{
		UserID:    req.UserID,
		MarketID:  req.MarketID,
		OutcomeID: req.OutcomeID,
		Type:      req.Type,
		Amount:    amount,
		Price:     price,
		Cost:      amount.Mul(price),
	}, nil
}

// Settle applies q atomically: wallet debit, order, trade and position,
// plus whatever the hooks write. Either all of it commits or none of it
// does.
func (e *Engine) Settle(ctx context.Context, q *Quote, hooks ...Hook) (*Result, error) {
	start := time.Now()
	now := e.now()
	var res Result

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		// The wallet row lock is taken first; it serializes every settlement
		// of this user, including the position read-modify-write below.
		wallet, err := tx.GetWalletForUpdate(ctx, q.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrBalanceNotFound
		}
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if wallet.Available.LessThan(q.Cost) {
			return ErrInsufficientBalance
		}

		wallet.Available = wallet.Available.Sub(q.Cost)
		wallet.Total = wallet.Total.Sub(q.Cost)
		wallet.UpdatedAt = now
		if err := tx.UpdateWallet(ctx, wallet); err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}

		price := q.Price
		order := model.Order{
			ID:           uuid.New().String(),
			UserID:       q.UserID,
			MarketID:     q.MarketID,
			OutcomeID:    q.OutcomeID,
			Side:         model.SideBuy,
			Type:         q.Type,
			Price:        &price,
			Amount:       q.Amount,
			FilledAmount: q.Amount,
			Status:       model.OrderFilled,
			CreatedAt:    now,
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		trade := model.Trade{
			ID:          uuid.New().String(),
			MarketID:    q.MarketID,
			OutcomeID:   q.OutcomeID,
			Price:       q.Price,
			Amount:      q.Amount,
			TakerSide:   model.SideBuy,
			TakerUserID: q.UserID,
			CreatedAt:   now,
		}
		if err := tx.InsertTrade(ctx, &trade); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}

		existing, err := tx.GetPositionForUpdate(ctx, q.UserID, q.MarketID, q.OutcomeID)
		var pos model.Position
		switch {
		case errors.Is(err, store.ErrNotFound):
			pos = OpenPosition(uuid.New().String(), q.UserID, q.MarketID, q.OutcomeID, q.Price, q.Amount, now)
			if err := tx.InsertPosition(ctx, &pos); err != nil {
				return fmt.Errorf("insert position: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lock position: %w", err)
		default:
			pos = ApplyBuy(*existing, q.Price, q.Amount, now)
			if err := tx.UpdatePosition(ctx, &pos); err != nil {
				return fmt.Errorf("update position: %w", err)
			}
		}

		res = Result{Order: order, Trade: trade, Position: pos, Wallet: *wallet}
		for _, hook := range hooks {
			if err := hook(ctx, tx, &res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			metrics.OrderRejections.WithLabelValues(ae.Code).Inc()
		}
		return nil, err
	}

	metrics.OrdersSettled.WithLabelValues(q.Type).Inc()
	metrics.SettlementLatency.WithLabelValues(q.Type).Observe(time.Since(start).Seconds())
	metrics.MarketVolume.WithLabelValues(q.MarketID).Add(q.Cost.InexactFloat64())

	slog.Info("order settled",
		"order_id", res.Order.ID,
		"user_id", q.UserID,
		"market_id", q.MarketID,
		"outcome_id", q.OutcomeID,
		"type", q.Type,
		"amount", q.Amount.String(),
		"price", q.Price.String(),
		"cost_brl", q.Cost.String(),
		"position_size", res.Position.Size.String(),
	)

	if e.pub != nil {
		e.pub.PublishTrade(res.Trade)
	}
	return &res, nil
}

// CancelOrder marks one of the caller's orders canceled. Orders are always
// filled on acceptance, so nothing else is reversed.
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := e.store.GetOrder(ctx, userID, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}

	if err := e.store.UpdateOrderStatus(ctx, order.ID, model.OrderCanceled); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	order.Status = model.OrderCanceled

	slog.Info("order canceled", "order_id", order.ID, "user_id", userID)
	return order, nil
}

// ListOrders returns the caller's orders, newest first.
func (e *Engine) ListOrders(ctx context.Context, userID string, f model.OrderFilter) ([]model.Order, error) {
	if f.Limit == 0 {
		f.Limit = DefaultOrderLimit
	}
	if f.Limit < 1 || f.Limit > MaxOrderLimit {
		return nil, apperr.InvalidInput(fmt.Sprintf("limit must be between 1 and %d", MaxOrderLimit))
	}
	orders, err := e.store.ListOrders(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ListPositions returns all of the caller's positions.
func (e *Engine) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return positions, nil
}

func reject(err *apperr.Error) error {
	metrics.OrderRejections.WithLabelValues(err.Code).Inc()
	return err
}
