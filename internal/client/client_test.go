package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previsao/market-api/internal/auth"
	"github.com/previsao/market-api/internal/client"
	"github.com/previsao/market-api/internal/idempotency"
	"github.com/previsao/market-api/internal/server"
	"github.com/previsao/market-api/internal/settlement"
	"github.com/previsao/market-api/internal/store"
	"github.com/previsao/market-api/internal/trade"
	"github.com/previsao/market-api/internal/wallet"
)

func newClient(t *testing.T) *client.Client {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, store.SeedDemo(context.Background(), st, "unused"))

	guard := idempotency.NewGuard(st, nil)
	srv := httptest.NewServer(server.NewRouter(server.Deps{
		Auth:   auth.NewService(st, "previsao-test", []byte("secret"), time.Hour),
		Trade:  trade.NewService(st, settlement.NewEngine(st, nil), guard),
		Wallet: wallet.NewHandler(wallet.NewService(st), guard, false),
	}))
	t.Cleanup(srv.Close)
	return client.New(srv.URL+"/", client.WithHTTPClient(srv.Client()))
}

func TestClientSession(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.Me(ctx)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "UNAUTHORIZED", apiErr.Code)

	session, err := c.Register(ctx, "bia@example.com", "secret1", "Bia")
	require.NoError(t, err)
	assert.Equal(t, session.Token, c.Token())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bia@example.com", me.Email)

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.Token())

	_, err = c.Login(ctx, "bia@example.com", "wrong!")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)

	_, err = c.Login(ctx, "bia@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Token())
}

func TestClientMarkets(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	markets, err := c.ListMarkets(ctx, client.MarketQuery{Category: "Economia"})
	require.NoError(t, err)
	assert.Len(t, markets, 2)

	m, err := c.GetMarket(ctx, "market_dolar_6")
	require.NoError(t, err)
	price, ok := m.PriceOf("market_dolar_6_yes")
	require.True(t, ok)
	assert.Equal(t, "0.65", price.String())

	book, err := c.GetOrderbook(ctx, "market_dolar_6", "market_dolar_6_no")
	require.NoError(t, err)
	assert.Equal(t, "0.33", book.Bids[0].Price)

	_, err = c.GetMarket(ctx, "market_nope")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientDepositAndTrade(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	_, err := c.Register(ctx, "bia@example.com", "secret1", "Bia")
	require.NoError(t, err)

	dep, err := c.CreatePixDeposit(ctx, "dep-1", "250")
	require.NoError(t, err)
	again, err := c.CreatePixDeposit(ctx, "dep-1", "250")
	require.NoError(t, err)
	assert.Equal(t, dep.ID, again.ID, "same key returns the same deposit")

	done, err := c.CompletePixDeposit(ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, "250", done.Balance.Available.String())

	price := "0.25"
	req := trade.PlaceOrderRequest{
		MarketID: "market_selic_2025", OutcomeID: "market_selic_2025_yes",
		Side: "buy", Type: "limit", Price: &price, Amount: "100",
	}
	order, err := c.PlaceOrder(ctx, "order-1", req)
	require.NoError(t, err)
	replay, err := c.PlaceOrder(ctx, "order-1", req)
	require.NoError(t, err)
	assert.Equal(t, order.ID, replay.ID)

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "225", bal.Available.String())

	positions, err := c.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "100", positions[0].Size.String())

	orders, err := c.ListOrders(ctx, client.OrderQuery{MarketID: "market_selic_2025"})
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	canceled, err := c.CancelOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "canceled", canceled.Status)

	trades, err := c.GetMarketTrades(ctx, "market_selic_2025")
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	req.Amount = "100000"
	_, err = c.PlaceOrder(ctx, "order-2", req)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INSUFFICIENT_BALANCE", apiErr.Code)
}

func TestClientPixWithdrawal(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	_, err := c.Register(ctx, "caio@example.com", "secret1", "Caio")
	require.NoError(t, err)

	req := wallet.PixWithdrawalRequest{AmountBRL: "25.50", PixKeyType: "cpf", PixKeyValue: "12345678900"}
	wd, err := c.CreatePixWithdrawal(ctx, "wd-1", req)
	require.NoError(t, err)
	assert.Equal(t, "processing", wd.Status)
	assert.Equal(t, "25.5", wd.AmountBRL.String())

	again, err := c.CreatePixWithdrawal(ctx, "wd-1", req)
	require.NoError(t, err)
	assert.Equal(t, wd.ID, again.ID)

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Available.IsZero(), "withdrawal requests do not move money")
}
