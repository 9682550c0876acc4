package idempotency_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/idempotency"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/store"
)

func scope(key string) idempotency.Scope {
	return idempotency.Scope{
		UserID:      "user-1",
		Endpoint:    idempotency.EndpointPlaceOrder,
		Key:         key,
		RequestHash: idempotency.HashBody([]byte(`{"amount":"50"}`)),
	}
}

func created(body string) func(context.Context, idempotency.Commit) (idempotency.Response, error) {
	return func(context.Context, idempotency.Commit) (idempotency.Response, error) {
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(body)}, nil
	}
}

func TestDoRequiresKey(t *testing.T) {
	g := idempotency.NewGuard(store.NewMemoryStore(), nil)

	_, _, err := g.Do(context.Background(), scope(""), created(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, idempotency.ErrKeyRequired))
	assert.Equal(t, http.StatusBadRequest, apperr.From(err).Status)
}

func TestDoReplaysStoredResponse(t *testing.T) {
	g := idempotency.NewGuard(store.NewMemoryStore(), nil)
	ctx := context.Background()

	var calls int
	fn := func(context.Context, idempotency.Commit) (idempotency.Response, error) {
		calls++
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"id":"order-1"}`)}, nil
	}

	first, replayed, err := g.Do(ctx, scope("k1"), fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := g.Do(ctx, scope("k1"), fn)
	require.NoError(t, err)
	assert.True(t, replayed)

	assert.Equal(t, 1, calls, "handler must run once per key")
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Body, second.Body)
}

func TestDoScopesKeysByUserAndEndpoint(t *testing.T) {
	g := idempotency.NewGuard(store.NewMemoryStore(), nil)
	ctx := context.Background()

	var calls int
	fn := func(context.Context, idempotency.Commit) (idempotency.Response, error) {
		calls++
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{}`)}, nil
	}

	s := scope("shared")
	_, _, err := g.Do(ctx, s, fn)
	require.NoError(t, err)

	other := s
	other.UserID = "user-2"
	_, replayed, err := g.Do(ctx, other, fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	deposit := s
	deposit.Endpoint = idempotency.EndpointPixDeposit
	_, replayed, err = g.Do(ctx, deposit, fn)
	require.NoError(t, err)
	assert.False(t, replayed)

	assert.Equal(t, 3, calls)
}

func TestDoRejectsKeyReuseWithDifferentPayload(t *testing.T) {
	g := idempotency.NewGuard(store.NewMemoryStore(), nil)
	ctx := context.Background()

	_, _, err := g.Do(ctx, scope("k1"), created(`{}`))
	require.NoError(t, err)

	changed := scope("k1")
	changed.RequestHash = idempotency.HashBody([]byte(`{"amount":"60"}`))
	_, _, err = g.Do(ctx, changed, created(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeIdempotencyKeyReused, apperr.From(err).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, apperr.From(err).Status)
}

func TestDoStoresClientErrors(t *testing.T) {
	g := idempotency.NewGuard(store.NewMemoryStore(), nil)
	ctx := context.Background()

	var calls int
	fn := func(context.Context, idempotency.Commit) (idempotency.Response, error) {
		calls++
		return idempotency.Response{}, apperr.New(http.StatusBadRequest, apperr.CodeInsufficientBalance, "Insufficient balance")
	}

	first, _, err := g.Do(ctx, scope("k1"), fn)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, first.Status)
	assert.JSONEq(t, `{"error":{"code":"INSUFFICIENT_BALANCE","message":"Insufficient balance"}}`, string(first.Body))

	second, replayed, err := g.Do(ctx, scope("k1"), fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, calls)
}

func TestDoDoesNotStoreInternalErrors(t *testing.T) {
	g := idempotency.NewGuard(store.NewMemoryStore(), nil)
	ctx := context.Background()

	var calls int
	fn := func(context.Context, idempotency.Commit) (idempotency.Response, error) {
		calls++
		if calls == 1 {
			return idempotency.Response{}, errors.New("connection reset")
		}
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"ok":true}`)}, nil
	}

	_, _, err := g.Do(ctx, scope("k1"), fn)
	require.Error(t, err)

	resp, replayed, err := g.Do(ctx, scope("k1"), fn)
	require.NoError(t, err)
	assert.False(t, replayed, "a failed attempt must not poison the key")
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, 2, calls)
}

func TestDoConcurrentSameKeyRunsOnce(t *testing.T) {
	g := idempotency.NewGuard(store.NewMemoryStore(), nil,
		idempotency.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	var calls atomic.Int32
	fn := func(context.Context, idempotency.Commit) (idempotency.Response, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"id":"order-1"}`)}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	bodies := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _, err := g.Do(ctx, scope("race"), fn)
			bodies[i] = string(resp.Body)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, `{"id":"order-1"}`, bodies[i])
	}
}

func TestDoInProgressTimesOut(t *testing.T) {
	locker := idempotency.NewLocalLocker()
	g := idempotency.NewGuard(store.NewMemoryStore(), locker,
		idempotency.WithWait(30*time.Millisecond),
		idempotency.WithPollInterval(5*time.Millisecond))

	// Hold the lock as if another request were mid-flight.
	unlock, ok, err := locker.TryLock(context.Background(), "idem:orders.place:user-1:busy", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	_, _, err = g.Do(context.Background(), scope("busy"), created(`{}`))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeIdempotencyInProgress, apperr.From(err).Code)
}

func TestDoInsertConflictReturnsWinner(t *testing.T) {
	st := store.NewMemoryStore()
	g := idempotency.NewGuard(st, nil)
	ctx := context.Background()
	s := scope("k1")

	// Another instance stores its response while our handler is running.
	fn := func(ctx context.Context, _ idempotency.Commit) (idempotency.Response, error) {
		err := st.InsertIdempotencyRecord(ctx, &model.IdempotencyRecord{
			Key: s.Key, UserID: s.UserID, Endpoint: s.Endpoint, RequestHash: s.RequestHash,
			StatusCode: http.StatusCreated, Body: []byte(`{"id":"theirs"}`),
		})
		require.NoError(t, err)
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"id":"mine"}`)}, nil
	}

	resp, replayed, err := g.Do(ctx, s, fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, `{"id":"theirs"}`, string(resp.Body))
}

func TestLocalLocker(t *testing.T) {
	l := idempotency.NewLocalLocker()
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(ctx, "a", time.Second)
	assert.False(t, ok, "second holder must be refused")

	_, ok, _ = l.TryLock(ctx, "b", time.Second)
	assert.True(t, ok, "different names are independent")

	unlock()
	unlock() // idempotent

	_, ok, _ = l.TryLock(ctx, "a", time.Second)
	assert.True(t, ok)
}

var depositSeq atomic.Int64

// depositOnce writes one deposit and the idempotency record in the same
// transaction, counting the deposits that actually committed.
func depositOnce(st store.Store, applied *atomic.Int32, before func()) idempotency.Handler {
	return func(ctx context.Context, commit idempotency.Commit) (idempotency.Response, error) {
		if before != nil {
			before()
		}
		id := fmt.Sprintf("dep-%d", depositSeq.Add(1))
		resp := idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"id":"` + id + `"}`)}
		err := st.InTx(ctx, func(tx store.Tx) error {
			if err := tx.InsertDeposit(ctx, &model.PixDeposit{ID: id, UserID: "user-1"}); err != nil {
				return err
			}
			return commit(ctx, tx, resp)
		})
		if err != nil {
			return idempotency.Response{}, err
		}
		applied.Add(1)
		return resp, nil
	}
}

func TestDoRecordSurvivesCanceledRequest(t *testing.T) {
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	g := idempotency.NewGuard(st, nil)

	var applied atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	fn := depositOnce(st, &applied, nil)
	canceling := func(ctx context.Context, commit idempotency.Commit) (idempotency.Response, error) {
		resp, err := fn(ctx, commit)
		// The client goes away right after the work committed.
		cancel()
		return resp, err
	}

	first, replayed, err := g.Do(ctx, scope("k1"), canceling)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := g.Do(context.Background(), scope("k1"), fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, int32(1), applied.Load())
}

func TestDoFallbackInsertIgnoresCancellation(t *testing.T) {
	st := store.NewMemoryStore()
	g := idempotency.NewGuard(st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, _, err := g.Do(ctx, scope("k1"), func(context.Context, idempotency.Commit) (idempotency.Response, error) {
		cancel()
		return idempotency.Response{Status: http.StatusCreated, Body: []byte(`{"id":"order-1"}`)}, nil
	})
	require.NoError(t, err)

	rec, err := st.GetIdempotencyRecord(context.Background(), "k1", "user-1", idempotency.EndpointPlaceOrder)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"order-1"}`, string(rec.Body))
}

func TestDoGuardsWithoutSharedLockerApplyOnce(t *testing.T) {
	st := store.NewMemoryStore()
	// Two instances, each with its own process-local locker.
	guards := []*idempotency.Guard{
		idempotency.NewGuard(st, nil),
		idempotency.NewGuard(st, nil),
	}

	var applied atomic.Int32
	var ready sync.WaitGroup
	ready.Add(len(guards))
	fn := depositOnce(st, &applied, func() {
		// Both requests are past the lookup before either writes.
		ready.Done()
		ready.Wait()
	})

	bodies := make([]string, len(guards))
	replays := make([]bool, len(guards))
	errs := make([]error, len(guards))
	var wg sync.WaitGroup
	for i, g := range guards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, replayed, err := g.Do(context.Background(), scope("shared"), fn)
			bodies[i], replays[i], errs[i] = string(resp.Body), replayed, err
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), applied.Load(), "side effects must commit once per key")
	assert.Equal(t, bodies[0], bodies[1])
	assert.NotEqual(t, replays[0], replays[1], "exactly one response is a replay")

	rec, err := st.GetIdempotencyRecord(context.Background(), "shared", "user-1", idempotency.EndpointPlaceOrder)
	require.NoError(t, err)
	assert.Equal(t, bodies[0], string(rec.Body))
}
