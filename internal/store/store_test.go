package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// stores returns every backend available to this run. PostgreSQL joins
// when TEST_DATABASE_URL is set.
func stores(t *testing.T) map[string]store.Store {
	t.Helper()
	out := map[string]store.Store{"memory": store.NewMemoryStore()}

	sq, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })
	out["sqlite"] = sq

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		pool, err := pgxpool.New(context.Background(), url)
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		pg := store.NewPostgresStore(pool)
		require.NoError(t, pg.Migrate(context.Background()))
		out["postgres"] = pg
	}
	return out
}

func forEachStore(t *testing.T, fn func(t *testing.T, st store.Store)) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) { fn(t, st) })
	}
}

func newUser(t *testing.T, st store.Store, email string) *model.User {
	t.Helper()
	ctx := context.Background()
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: "hash",
		FullName:     "Test",
		Role:         model.RoleCustomer,
		KYCStatus:    model.KYCNotStarted,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		w := model.NewWalletBalance(u.ID, u.CreatedAt)
		w.Available = d("100")
		w.Total = d("100")
		return tx.CreateWallet(ctx, w)
	}))
	return u
}

// newMarket creates a two-outcome market and returns its id; outcome ids
// are id+"_yes" and id+"_no".
func newMarket(t *testing.T, st store.Store) string {
	t.Helper()
	id := "m_" + uuid.New().String()[:8]
	require.NoError(t, st.CreateMarket(context.Background(), &model.Market{
		ID:        id,
		Title:     "Test market",
		Status:    model.MarketOpen,
		CloseTime: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Outcomes:  []model.Outcome{{ID: id + "_yes", Title: "Sim"}, {ID: id + "_no", Title: "Não"}},
		VolumeBRL: d("0"),
		CreatedAt: time.Now().UTC(),
	}))
	return id
}

func uniqueEmail() string {
	return uuid.New().String()[:8] + "@example.com"
}

func TestUsers(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		email := uniqueEmail()
		u := newUser(t, st, email)

		got, err := st.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, email, got.Email)
		assert.Equal(t, "hash", got.PasswordHash)

		_, err = st.GetUser(ctx, uuid.New().String())
		assert.ErrorIs(t, err, store.ErrNotFound)

		err = st.InTx(ctx, func(tx store.Tx) error {
			return tx.CreateUser(ctx, &model.User{
				ID: uuid.New().String(), Email: email, Role: model.RoleCustomer, CreatedAt: time.Now().UTC(),
			})
		})
		assert.ErrorIs(t, err, store.ErrConflict)
	})
}

func TestInTxRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		u := newUser(t, st, uniqueEmail())
		boom := errors.New("boom")

		err := st.InTx(ctx, func(tx store.Tx) error {
			w, err := tx.GetWalletForUpdate(ctx, u.ID)
			if err != nil {
				return err
			}
			w.Available = d("0")
			w.Total = d("0")
			if err := tx.UpdateWallet(ctx, w); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		w, err := st.GetWallet(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, w.Available.Equal(d("100")), "available = %s", w.Available)
	})
}

func TestMarkets(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		id := "m_" + uuid.New().String()[:8]
		m := &model.Market{
			ID:        id,
			Title:     "Chuva em SP amanhã?",
			Category:  "Clima",
			Status:    model.MarketOpen,
			CloseTime: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			Outcomes:  []model.Outcome{{ID: id + "_yes", Title: "Sim"}, {ID: id + "_no", Title: "Não"}},
			Prices:    []model.MarketPrice{{OutcomeID: id + "_yes", Price: d("0.3")}},
			VolumeBRL: d("10"),
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, st.CreateMarket(ctx, m))

		got, err := st.GetMarket(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got.Outcomes, 2)
		assert.True(t, got.HasOutcome(id+"_no"))
		p, ok := got.PriceOf(id + "_yes")
		require.True(t, ok)
		assert.True(t, p.Equal(d("0.3")))
		_, ok = got.PriceOf(id + "_no")
		assert.False(t, ok)

		list, err := st.ListMarkets(ctx, model.MarketFilter{Query: "chuva em sp", Category: "Clima"})
		require.NoError(t, err)
		require.NotEmpty(t, list)

		_, err = st.GetMarket(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestOrdersNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		u := newUser(t, st, uniqueEmail())
		m := newMarket(t, st)
		base := time.Now().UTC()

		var ids []string
		for i := 0; i < 3; i++ {
			price := d("0.5")
			o := model.Order{
				ID: uuid.New().String(), UserID: u.ID, MarketID: m, OutcomeID: m + "_yes",
				Side: model.SideBuy, Type: model.TypeLimit, Price: &price,
				Amount: d("1"), FilledAmount: d("1"), Status: model.OrderFilled,
				CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			}
			require.NoError(t, st.InTx(ctx, func(tx store.Tx) error { return tx.InsertOrder(ctx, &o) }))
			ids = append(ids, o.ID)
		}

		orders, err := st.ListOrders(ctx, u.ID, model.OrderFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, ids[2], orders[0].ID)
		assert.Equal(t, ids[1], orders[1].ID)
		require.NotNil(t, orders[0].Price)
		assert.True(t, orders[0].Price.Equal(d("0.5")))

		require.NoError(t, st.UpdateOrderStatus(ctx, ids[0], model.OrderCanceled))
		canceled, err := st.ListOrders(ctx, u.ID, model.OrderFilter{Status: model.OrderCanceled, Limit: 10})
		require.NoError(t, err)
		require.Len(t, canceled, 1)
		assert.Equal(t, ids[0], canceled[0].ID)

		_, err = st.GetOrder(ctx, "someone-else", ids[0])
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestPositionsUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		u := newUser(t, st, uniqueEmail())
		m := newMarket(t, st)
		pos := func() *model.Position {
			return &model.Position{
				ID: uuid.New().String(), UserID: u.ID, MarketID: m, OutcomeID: m + "_yes",
				Size: d("10"), AvgPrice: d("0.4"), PnlBRL: d("0"), LastPrice: d("0.4"),
				UpdatedAt: time.Now().UTC(),
			}
		}
		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error { return tx.InsertPosition(ctx, pos()) }))
		err := st.InTx(ctx, func(tx store.Tx) error { return tx.InsertPosition(ctx, pos()) })
		assert.ErrorIs(t, err, store.ErrConflict)

		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			p, err := tx.GetPositionForUpdate(ctx, u.ID, m, m+"_yes")
			if err != nil {
				return err
			}
			p.Size = d("25")
			return tx.UpdatePosition(ctx, p)
		}))
		list, err := st.ListPositions(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].Size.Equal(d("25")))
	})
}

func TestDepositsAndLedger(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		u := newUser(t, st, uniqueEmail())
		dep := &model.PixDeposit{
			ID: uuid.New().String(), UserID: u.ID, AmountBRL: d("42.5"), Status: model.DepositPending,
			QRCodeText: "payload", ExpiresAt: time.Now().UTC().Add(time.Minute), CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, st.CreateDeposit(ctx, dep))

		entry := func() *model.WalletTransaction {
			return &model.WalletTransaction{
				ID: uuid.New().String(), UserID: u.ID, Type: model.TxTypePixDepositCred,
				AmountBRL: dep.AmountBRL, ReferenceType: model.RefPixDeposit, ReferenceID: dep.ID,
				CreatedAt: time.Now().UTC(),
			}
		}
		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			locked, err := tx.GetDepositForUpdate(ctx, dep.ID)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			locked.Status = model.DepositCompleted
			locked.CompletedAt = &now
			if err := tx.UpdateDeposit(ctx, locked); err != nil {
				return err
			}
			return tx.InsertWalletTransaction(ctx, entry())
		}))

		got, err := st.GetDeposit(ctx, dep.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DepositCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
		assert.True(t, got.AmountBRL.Equal(d("42.5")))

		err = st.InTx(ctx, func(tx store.Tx) error { return tx.InsertWalletTransaction(ctx, entry()) })
		assert.ErrorIs(t, err, store.ErrConflict)

		err = st.InTx(ctx, func(tx store.Tx) error {
			_, err := tx.GetWalletTransaction(ctx, model.RefPixDeposit, dep.ID)
			return err
		})
		assert.NoError(t, err)
	})
}

func TestIdempotencyRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		key := uuid.New().String()
		rec := &model.IdempotencyRecord{
			Key: key, UserID: "u1", Endpoint: "orders.place", RequestHash: "h",
			StatusCode: 201, Body: []byte(`{"id":"x"}`), CreatedAt: time.Now().UTC(),
		}

		_, err := st.GetIdempotencyRecord(ctx, key, "u1", "orders.place")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, st.InsertIdempotencyRecord(ctx, rec))
		assert.ErrorIs(t, st.InsertIdempotencyRecord(ctx, rec), store.ErrConflict)

		got, err := st.GetIdempotencyRecord(ctx, key, "u1", "orders.place")
		require.NoError(t, err)
		assert.Equal(t, 201, got.StatusCode)
		assert.Equal(t, `{"id":"x"}`, string(got.Body))

		_, err = st.GetIdempotencyRecord(ctx, key, "u1", "wallet.pixDeposit")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestIdempotencyRecordSharesTransaction(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		u := newUser(t, st, uniqueEmail())
		key := uuid.New().String()
		record := func(body string) *model.IdempotencyRecord {
			return &model.IdempotencyRecord{
				Key: key, UserID: u.ID, Endpoint: "wallet.pixDeposit", RequestHash: "h",
				StatusCode: 201, Body: []byte(body), CreatedAt: time.Now().UTC(),
			}
		}
		deposit := func() *model.PixDeposit {
			return &model.PixDeposit{
				ID: uuid.New().String(), UserID: u.ID, AmountBRL: d("10"), Status: model.DepositPending,
				QRCodeText: "payload", ExpiresAt: time.Now().UTC().Add(time.Minute), CreatedAt: time.Now().UTC(),
			}
		}

		boom := errors.New("boom")
		err := st.InTx(ctx, func(tx store.Tx) error {
			if err := tx.InsertIdempotencyRecord(ctx, record(`{"n":0}`)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		_, err = st.GetIdempotencyRecord(ctx, key, u.ID, "wallet.pixDeposit")
		assert.ErrorIs(t, err, store.ErrNotFound, "record must roll back with its transaction")

		first := deposit()
		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			if err := tx.InsertDeposit(ctx, first); err != nil {
				return err
			}
			return tx.InsertIdempotencyRecord(ctx, record(`{"n":1}`))
		}))

		// A second writer for the same key loses and keeps nothing.
		second := deposit()
		err = st.InTx(ctx, func(tx store.Tx) error {
			if err := tx.InsertDeposit(ctx, second); err != nil {
				return err
			}
			return tx.InsertIdempotencyRecord(ctx, record(`{"n":2}`))
		})
		require.ErrorIs(t, err, store.ErrConflict)

		_, err = st.GetDeposit(ctx, first.ID)
		assert.NoError(t, err)
		_, err = st.GetDeposit(ctx, second.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err := st.GetIdempotencyRecord(ctx, key, u.ID, "wallet.pixDeposit")
		require.NoError(t, err)
		assert.Equal(t, `{"n":1}`, string(got.Body))
	})
}

func TestSeedDemoIsRepeatable(t *testing.T) {
	forEachStore(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		require.NoError(t, store.SeedDemo(ctx, st, "hash"))
		require.NoError(t, store.SeedDemo(ctx, st, "hash"))

		u, err := st.GetUserByEmail(ctx, store.DemoEmail)
		require.NoError(t, err)
		w, err := st.GetWallet(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, w.Total.Equal(w.Available.Add(w.Reserved)))

		m, err := st.GetMarket(ctx, "market_lula_2026")
		require.NoError(t, err)
		p, ok := m.PriceOf("market_lula_2026_yes")
		require.True(t, ok)
		assert.True(t, p.Equal(d("0.42")))
	})
}
