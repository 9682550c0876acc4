package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/previsao/market-api/internal/model"
)

// OpenPosition builds the first position for (user, market, outcome) from a
// buy of amount at price.
func OpenPosition(id, userID, marketID, outcomeID string, price, amount decimal.Decimal, now time.Time) model.Position {
	return model.Position{
		ID:        id,
		UserID:    userID,
		MarketID:  marketID,
		OutcomeID: outcomeID,
		Size:      amount,
		AvgPrice:  price,
		PnlBRL:    decimal.Zero,
		LastPrice: price,
		UpdatedAt: now,
	}
}

// ApplyBuy adds a buy of amount at price to p. The average price is the
// size-weighted mean of the old entry and the new one:
//
//	avg' = (avg*size + price*amount) / (size + amount)
//
// PnlBRL is carried unchanged; settlement never revalues it.
func ApplyBuy(p model.Position, price, amount decimal.Decimal, now time.Time) model.Position {
	newSize := p.Size.Add(amount)
	if newSize.IsZero() {
		// Only reachable with a zero-size row and a zero amount, which
		// validation rejects. Keep the old average rather than divide by zero.
		p.LastPrice = price
		p.UpdatedAt = now
		return p
	}
	p.AvgPrice = p.AvgPrice.Mul(p.Size).Add(price.Mul(amount)).Div(newSize)
	p.Size = newSize
	p.LastPrice = price
	p.UpdatedAt = now
	return p
}
