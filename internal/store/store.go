// Package store defines the persistence interface for the market API.
// Implementations include PostgreSQL (source of truth), SQLite (single-file
// development store), in-memory (for testing) and a Redis read-through
// cache for market reference data.
package store

import (
	"context"
	"errors"

	"github.com/previsao/market-api/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when an insert violates a unique constraint.
	ErrConflict = errors.New("store: unique constraint violated")
)

// Store is the persistence interface. Reads outside a transaction go
// through Store directly; every multi-row write goes through InTx.
type Store interface {
	// --- Transactions ---

	// InTx runs fn inside one transaction. If fn returns an error nothing
	// it wrote is kept.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Users ---

	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// --- Market reference data ---

	// CreateMarket persists a market with its outcomes and prices.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market with outcomes and current prices.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns markets matching the filter.
	ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.Market, error)

	// --- Wallet ---

	GetWallet(ctx context.Context, userID string) (*model.WalletBalance, error)

	// --- Orders, trades, positions ---

	GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, userID string, f model.OrderFilter) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error)
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Pix deposits ---

	CreateDeposit(ctx context.Context, d *model.PixDeposit) error
	GetDeposit(ctx context.Context, id string) (*model.PixDeposit, error)

	// --- Idempotency ---

	// GetIdempotencyRecord returns ErrNotFound when the key is unused.
	GetIdempotencyRecord(ctx context.Context, key, userID, endpoint string) (*model.IdempotencyRecord, error)

	// InsertIdempotencyRecord returns ErrConflict if (key, user, endpoint)
	// was already stored.
	InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error
}

// Tx is the set of writes (and locking reads) available inside InTx.
type Tx interface {
	CreateUser(ctx context.Context, u *model.User) error
	CreateWallet(ctx context.Context, w *model.WalletBalance) error

	// GetWalletForUpdate locks the user's wallet row for the rest of the
	// transaction.
	GetWalletForUpdate(ctx context.Context, userID string) (*model.WalletBalance, error)
	UpdateWallet(ctx context.Context, w *model.WalletBalance) error

	InsertOrder(ctx context.Context, o *model.Order) error
	InsertTrade(ctx context.Context, t *model.Trade) error

	// GetPositionForUpdate locks the (user, market, outcome) position row.
	GetPositionForUpdate(ctx context.Context, userID, marketID, outcomeID string) (*model.Position, error)
	InsertPosition(ctx context.Context, p *model.Position) error
	UpdatePosition(ctx context.Context, p *model.Position) error

	InsertDeposit(ctx context.Context, d *model.PixDeposit) error
	GetDepositForUpdate(ctx context.Context, id string) (*model.PixDeposit, error)
	UpdateDeposit(ctx context.Context, d *model.PixDeposit) error

	GetWalletTransaction(ctx context.Context, refType, refID string) (*model.WalletTransaction, error)
	InsertWalletTransaction(ctx context.Context, wt *model.WalletTransaction) error

	// InsertIdempotencyRecord stores the response for a key together with
	// the side effects it describes. ErrConflict rolls both back.
	InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error
}
