// Package model defines the core domain types shared across the market API.
// All monetary values use shopspring/decimal, never float64.
//
// JSON tags describe the public wire format: camelCase keys and decimals
// encoded as strings.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order types.
const (
	TypeLimit  = "limit"
	TypeMarket = "market"
)

// Order statuses.
const (
	OrderOpen     = "open"
	OrderPartial  = "partial"
	OrderFilled   = "filled"
	OrderCanceled = "canceled"
	OrderExpired  = "expired"
)

// Market statuses.
const (
	MarketOpen     = "open"
	MarketClosed   = "closed"
	MarketResolved = "resolved"
	MarketCanceled = "canceled"
)

// WalletBalance is a user's BRL cash balance. Total == Available + Reserved.
// Reserved is never moved by order settlement.
type WalletBalance struct {
	UserID    string          `json:"-"`
	Available decimal.Decimal `json:"brlAvailable"`
	Reserved  decimal.Decimal `json:"brlReserved"`
	Total     decimal.Decimal `json:"totalBrl"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewWalletBalance returns an empty wallet for a freshly registered user.
func NewWalletBalance(userID string, now time.Time) *WalletBalance {
	return &WalletBalance{
		UserID:    userID,
		Available: decimal.Zero,
		Reserved:  decimal.Zero,
		Total:     decimal.Zero,
		UpdatedAt: now,
	}
}

// Order is a user's instruction to trade one outcome of a market.
type Order struct {
	ID           string           `json:"id"`
	UserID       string           `json:"-"`
	MarketID     string           `json:"marketId"`
	OutcomeID    string           `json:"outcomeId"`
	Side         string           `json:"side"`
	Type         string           `json:"type"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	FilledAmount decimal.Decimal  `json:"filledAmount"`
	Status       string           `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// Trade is an immutable execution record. One is written per accepted order.
type Trade struct {
	ID          string          `json:"id"`
	MarketID    string          `json:"marketId"`
	OutcomeID   string          `json:"outcomeId"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	TakerSide   string          `json:"takerSide"`
	TakerUserID string          `json:"-"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Position is a user's accumulated exposure in one outcome, unique per
// (UserID, MarketID, OutcomeID).
type Position struct {
	ID        string          `json:"-"`
	UserID    string          `json:"-"`
	MarketID  string          `json:"marketId"`
	OutcomeID string          `json:"outcomeId"`
	Size      decimal.Decimal `json:"size"`
	AvgPrice  decimal.Decimal `json:"avgPrice"`
	PnlBRL    decimal.Decimal `json:"pnlBrl"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	UpdatedAt time.Time       `json:"-"`
}

// IdempotencyRecord stores the first response produced for a client key.
// Body holds the exact response bytes so replays are byte-identical.
type IdempotencyRecord struct {
	Key         string
	UserID      string
	Endpoint    string
	RequestHash string
	StatusCode  int
	Body        []byte
	CreatedAt   time.Time
}

// Outcome is one resolvable result of a market, e.g. "Sim" / "Não".
type Outcome struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MarketPrice is the current reference price of one outcome.
type MarketPrice struct {
	OutcomeID string          `json:"outcomeId"`
	Price     decimal.Decimal `json:"price"`
}

// Market is a prediction market with two or more outcomes.
type Market struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Status      string          `json:"status"`
	CloseTime   time.Time       `json:"closeTime"`
	Outcomes    []Outcome       `json:"outcomes"`
	Prices      []MarketPrice   `json:"currentPrices"`
	VolumeBRL   decimal.Decimal `json:"volumeBrl"`
	CreatedAt   time.Time       `json:"-"`
}

// HasOutcome reports whether outcomeID belongs to the market.
func (m *Market) HasOutcome(outcomeID string) bool {
	for _, o := range m.Outcomes {
		if o.ID == outcomeID {
			return true
		}
	}
	return false
}

// PriceOf returns the reference price of an outcome, if one is quoted.
func (m *Market) PriceOf(outcomeID string) (decimal.Decimal, bool) {
	for _, p := range m.Prices {
		if p.OutcomeID == outcomeID {
			return p.Price, true
		}
	}
	return decimal.Zero, false
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	Status   string
	Category string
	Query    string
	Limit    int
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status   string
	MarketID string
	Limit    int
}
