package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/previsao/market-api/internal/auth"
	"github.com/previsao/market-api/internal/idempotency"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/server"
	"github.com/previsao/market-api/internal/settlement"
	"github.com/previsao/market-api/internal/store"
	"github.com/previsao/market-api/internal/trade"
	"github.com/previsao/market-api/internal/wallet"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, _ := newServerWithStore(t)
	return srv
}

func newServerWithStore(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, store.SeedDemo(t.Context(), st, "unused"))

	guard := idempotency.NewGuard(st, nil)
	router := server.NewRouter(server.Deps{
		Auth:   auth.NewService(st, "previsao-test", []byte("secret"), time.Hour),
		Trade:  trade.NewService(st, settlement.NewEngine(st, nil), guard),
		Wallet: wallet.NewHandler(wallet.NewService(st), guard, false),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, st
}

type call struct {
	method, path, token, key string
	body                     any
}

func send(t *testing.T, srv *httptest.Server, c call, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req, err := http.NewRequest(c.method, srv.URL+c.path, &buf)
	require.NoError(t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.key != "" {
		req.Header.Set(idempotency.HeaderKey, c.key)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newServer(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, send(t, srv, call{method: "GET", path: "/health"}, &health))
	assert.Equal(t, "ok", health["status"])

	assert.Equal(t, http.StatusOK, send(t, srv, call{method: "GET", path: "/metrics"}, nil))
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	srv := newServer(t)

	for _, c := range []call{
		{method: "GET", path: "/auth/me"},
		{method: "POST", path: "/orders"},
		{method: "GET", path: "/positions"},
		{method: "GET", path: "/wallet/balance"},
	} {
		assert.Equal(t, http.StatusUnauthorized, send(t, srv, c, nil), c.path)
	}
}

func TestPreflight(t *testing.T) {
	srv := newServer(t)
	assert.Equal(t, http.StatusNoContent, send(t, srv, call{method: "OPTIONS", path: "/orders"}, nil))
}

func TestDepositThenTrade(t *testing.T) {
	srv := newServer(t)

	var session struct {
		Token string `json:"token"`
	}
	status := send(t, srv, call{method: "POST", path: "/auth/register", body: map[string]string{
		"email": "joao@example.com", "password": "secret1", "fullName": "João",
	}}, &session)
	require.Equal(t, http.StatusCreated, status)
	tok := session.Token

	var balance struct {
		Available string `json:"brlAvailable"`
		Total     string `json:"totalBrl"`
	}
	require.Equal(t, http.StatusOK, send(t, srv, call{method: "GET", path: "/wallet/balance", token: tok}, &balance))
	assert.Equal(t, "0", balance.Available)

	var dep struct {
		ID string `json:"depositId"`
	}
	require.Equal(t, http.StatusCreated, send(t, srv, call{
		method: "POST", path: "/wallet/deposits/pix/create", token: tok, key: "dep-1",
		body: map[string]string{"amountBrl": "100"},
	}, &dep))

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, send(t, srv, call{
			method: "POST", path: "/dev/pix/deposits/" + dep.ID + "/complete", token: tok,
		}, nil))
	}

	order := map[string]string{
		"marketId": "market_lula_2026", "outcomeId": "market_lula_2026_yes",
		"side": "buy", "type": "limit", "price": "0.40", "amount": "50",
	}
	var placed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusCreated, send(t, srv, call{
		method: "POST", path: "/orders", token: tok, key: "order-1", body: order,
	}, &placed))
	assert.Equal(t, "filled", placed.Status)

	require.Equal(t, http.StatusOK, send(t, srv, call{method: "GET", path: "/wallet/balance", token: tok}, &balance))
	assert.Equal(t, "80", balance.Available, "100 deposited once, 20 spent")
	assert.Equal(t, "80", balance.Total)

	var positions struct {
		Items []struct {
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
		} `json:"items"`
	}
	require.Equal(t, http.StatusOK, send(t, srv, call{method: "GET", path: "/positions", token: tok}, &positions))
	require.Len(t, positions.Items, 1)
	assert.Equal(t, "50", positions.Items[0].Size)
	assert.Equal(t, "0.4", positions.Items[0].AvgPrice)
}

func TestUnknownRoute(t *testing.T) {
	srv := newServer(t)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	assert.Equal(t, http.StatusNotFound, send(t, srv, call{method: "GET", path: "/nope"}, &body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func login(t *testing.T, srv *httptest.Server, email, password string) string {
	t.Helper()
	var session struct {
		Token string `json:"token"`
	}
	require.Equal(t, http.StatusOK, send(t, srv, call{method: "POST", path: "/auth/login", body: map[string]string{
		"email": email, "password": password,
	}}, &session))
	return session.Token
}

func TestAdminRoutes(t *testing.T) {
	srv, st := newServerWithStore(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, st.InTx(t.Context(), func(tx store.Tx) error {
		return tx.CreateUser(t.Context(), &model.User{
			ID: "admin-1", Email: "ops@example.com", PasswordHash: string(hash), FullName: "Ops",
			Role: model.RoleAdmin, KYCStatus: model.KYCNotStarted, CreatedAt: time.Now().UTC(),
		})
	}))
	adminTok := login(t, srv, "ops@example.com", "secret1")

	require.Equal(t, http.StatusCreated, send(t, srv, call{method: "POST", path: "/auth/register", body: map[string]string{
		"email": "maria@example.com", "password": "secret1", "fullName": "Maria",
	}}, nil))
	customerTok := login(t, srv, "maria@example.com", "secret1")

	routes := []call{
		{method: "POST", path: "/admin/markets"},
		{method: "PATCH", path: "/admin/markets/m1"},
		{method: "POST", path: "/admin/markets/m1/resolve"},
		{method: "POST", path: "/admin/markets/m1/cancel"},
		{method: "GET", path: "/admin/kyc/cases"},
		{method: "PATCH", path: "/admin/kyc/cases/k1"},
		{method: "GET", path: "/admin/users"},
		{method: "PATCH", path: "/admin/users/u1"},
		{method: "GET", path: "/admin/audit"},
	}
	for _, c := range routes {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}

		assert.Equal(t, http.StatusUnauthorized, send(t, srv, c, nil), "anonymous %s %s", c.method, c.path)

		c.token = customerTok
		require.Equal(t, http.StatusForbidden, send(t, srv, c, &body), "customer %s %s", c.method, c.path)
		assert.Equal(t, "FORBIDDEN", body.Error.Code)

		c.token = adminTok
		require.Equal(t, http.StatusNotImplemented, send(t, srv, c, &body), "admin %s %s", c.method, c.path)
		assert.Equal(t, "NOT_IMPLEMENTED", body.Error.Code)
	}
}
