// Package idempotency deduplicates mutating requests by a client-supplied
// key scoped to (user, endpoint). The first response produced for a key is
// stored and every later request with the same key gets that exact
// response back without the side effects running again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/previsao/market-api/internal/apperr"
	"github.com/previsao/market-api/internal/metrics"
	"github.com/previsao/market-api/internal/model"
	"github.com/previsao/market-api/internal/store"
)

// HeaderKey is the request header carrying the client key.
const HeaderKey = "Idempotency-Key"

// HeaderReplayed is set on responses served from a stored record.
const HeaderReplayed = "Idempotent-Replayed"

// Endpoint names used as part of the key scope.
const (
	EndpointPlaceOrder    = "orders.place"
	EndpointPixDeposit    = "wallet.pixDeposit"
	EndpointPixWithdrawal = "wallet.pixWithdrawal"
)

var (
	ErrKeyRequired = apperr.New(http.StatusBadRequest, apperr.CodeIdempotencyKeyRequired,
		"Idempotency-Key header is required")
	ErrKeyReused = apperr.New(http.StatusUnprocessableEntity, apperr.CodeIdempotencyKeyReused,
		"Idempotency-Key was already used with a different request")
	ErrInProgress = apperr.New(http.StatusConflict, apperr.CodeIdempotencyInProgress,
		"A request with this Idempotency-Key is still being processed")
)

// Records is the part of the store the guard needs.
type Records interface {
	GetIdempotencyRecord(ctx context.Context, key, userID, endpoint string) (*model.IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error
}

// Scope identifies one idempotent operation.
type Scope struct {
	UserID   string
	Endpoint string
	Key      string
	// RequestHash fingerprints the request payload; see HashBody.
	RequestHash string
}

func (s Scope) lockName() string {
	return "idem:" + s.Endpoint + ":" + s.UserID + ":" + s.Key
}

// Response is what gets stored and replayed.
type Response struct {
	Status int
	Body   []byte
}

// Guard runs handlers at most once per Scope.
type Guard struct {
	records Records
	locker  Locker
	wait    time.Duration
	poll    time.Duration
	lockTTL time.Duration
	now     func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithWait bounds how long a request waits for a concurrent request with
// the same key before failing with IDEMPOTENCY_IN_PROGRESS.
func WithWait(d time.Duration) Option {
	return func(g *Guard) { g.wait = d }
}

// WithPollInterval sets how often a waiting request re-checks the store.
func WithPollInterval(d time.Duration) Option {
	return func(g *Guard) { g.poll = d }
}

// WithLockTTL sets the expiry of the in-flight lock.
func WithLockTTL(d time.Duration) Option {
	return func(g *Guard) { g.lockTTL = d }
}

// NewGuard creates a guard. A nil locker means a process-local one.
func NewGuard(records Records, locker Locker, opts ...Option) *Guard {
	if locker == nil {
		locker = NewLocalLocker()
	}
	g := &Guard{
		records: records,
		locker:  locker,
		wait:    5 * time.Second,
		poll:    50 * time.Millisecond,
		lockTTL: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Commit stores resp as the response for the key being processed, inside
// tx. A handler calls it as the last write of the transaction that carries
// its side effects, so the record and the side effects commit together.
// If another request already stored a response for the key, Commit fails
// and the handler's transaction must roll back.
type Commit func(ctx context.Context, tx store.Tx, resp Response) error

// Handler produces the response for a key seen for the first time.
type Handler func(ctx context.Context, commit Commit) (Response, error)

// Do returns the stored response for scope if there is one (replayed is
// true). Otherwise it runs fn and returns its response, which fn stores
// through commit.
//
// An *apperr.Error returned by fn with a status below 500 becomes the
// stored response; fn's transaction has rolled back, so nothing else is
// kept. 5xx outcomes and unclassified errors are returned as errors and
// not stored, so the client may retry with the same key. A successful fn
// that never called commit has its response stored after it returns.
func (g *Guard) Do(ctx context.Context, scope Scope, fn Handler) (Response, bool, error) {
	if scope.Key == "" {
		return Response{}, false, ErrKeyRequired
	}

	if resp, ok, err := g.lookup(ctx, scope); err != nil || ok {
		return resp, ok, err
	}

	unlock, err := g.acquire(ctx, scope)
	if err != nil {
		return Response{}, false, err
	}
	if unlock == nil {
		// Another request finished while we waited.
		resp, _, err := g.lookup(ctx, scope)
		return resp, true, err
	}
	defer unlock()

	// The previous lock holder may have stored a response just before
	// releasing.
	if resp, ok, err := g.lookup(ctx, scope); err != nil || ok {
		return resp, ok, err
	}

	var committed, lost bool
	commit := func(ctx context.Context, tx store.Tx, resp Response) error {
		if err := tx.InsertIdempotencyRecord(ctx, g.record(scope, resp)); err != nil {
			if errors.Is(err, store.ErrConflict) {
				lost = true
			}
			return fmt.Errorf("store idempotency record: %w", err)
		}
		committed = true
		return nil
	}

	resp, err := fn(ctx, commit)
	if lost {
		// A request holding a different lock (expired, or another instance
		// without a shared locker) stored its response first. Our
		// transaction rolled back; theirs is the answer.
		return g.winner(ctx, scope)
	}
	if err != nil {
		e := apperr.From(err)
		if e.Status >= http.StatusInternalServerError {
			return Response{}, false, err
		}
		resp = Response{Status: e.Status, Body: apperr.Body(e)}
		committed = false
	}
	if resp.Status >= http.StatusInternalServerError {
		return resp, false, nil
	}
	if committed {
		return resp, false, nil
	}

	// Nothing but the record is left to write, and the work it describes
	// is already done: a canceled request must not skip it.
	ctx = context.WithoutCancel(ctx)
	if err := g.records.InsertIdempotencyRecord(ctx, g.record(scope, resp)); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return Response{}, false, fmt.Errorf("store idempotency record: %w", err)
		}
		return g.winner(ctx, scope)
	}
	return resp, false, nil
}

func (g *Guard) record(scope Scope, resp Response) *model.IdempotencyRecord {
	return &model.IdempotencyRecord{
		Key:         scope.Key,
		UserID:      scope.UserID,
		Endpoint:    scope.Endpoint,
		RequestHash: scope.RequestHash,
		StatusCode:  resp.Status,
		Body:        resp.Body,
		CreatedAt:   g.now().UTC(),
	}
}

// winner returns the response another request stored for scope.
func (g *Guard) winner(ctx context.Context, scope Scope) (Response, bool, error) {
	slog.Warn("idempotency insert conflict",
		"endpoint", scope.Endpoint, "user_id", scope.UserID, "key", scope.Key)
	resp, ok, err := g.lookup(context.WithoutCancel(ctx), scope)
	if err != nil {
		return Response{}, false, err
	}
	if !ok {
		return Response{}, false, fmt.Errorf("idempotency record for %q vanished after conflict", scope.Key)
	}
	return resp, true, nil
}

// lookup returns the stored response for scope, if any.
func (g *Guard) lookup(ctx context.Context, scope Scope) (Response, bool, error) {
	rec, err := g.records.GetIdempotencyRecord(ctx, scope.Key, scope.UserID, scope.Endpoint)
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("load idempotency record: %w", err)
	}
	if rec.RequestHash != "" && scope.RequestHash != "" && rec.RequestHash != scope.RequestHash {
		return Response{}, false, ErrKeyReused
	}
	metrics.IdempotentReplays.WithLabelValues(scope.Endpoint).Inc()
	return Response{Status: rec.StatusCode, Body: rec.Body}, true, nil
}

// acquire takes the in-flight lock. It returns a nil unlock func (and no
// error) when the lock was never obtained because a response for the scope
// appeared while waiting.
func (g *Guard) acquire(ctx context.Context, scope Scope) (func(), error) {
	deadline := g.now().Add(g.wait)
	for {
		unlock, ok, err := g.locker.TryLock(ctx, scope.lockName(), g.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("idempotency lock: %w", err)
		}
		if ok {
			return unlock, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.poll):
		}

		rec, err := g.records.GetIdempotencyRecord(ctx, scope.Key, scope.UserID, scope.Endpoint)
		if err == nil && rec != nil {
			return nil, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load idempotency record: %w", err)
		}
		if g.now().After(deadline) {
			return nil, ErrInProgress
		}
	}
}

// KeyFromRequest returns the client key, or "" when the header is absent.
func KeyFromRequest(r *http.Request) string {
	return r.Header.Get(HeaderKey)
}

// HashBody fingerprints a request body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
