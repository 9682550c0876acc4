package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/previsao/market-api/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache for market reference data and per-user position
// listings. Everything else passes straight through to the primary.
//
// Position listings are tagged with a per-user generation that is bumped
// after any transaction that wrote one of the user's positions commits. A
// listing read under an older generation is never served, even if a slow
// reader stores it after the bump.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// --- Transactions (invalidate on commit) ---

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched map[string]struct{}
	err := s.Store.InTx(ctx, func(tx Tx) error {
		ct := &cachedTx{Tx: tx, users: make(map[string]struct{})}
		touched = ct.users
		return fn(ct)
	})
	if err != nil {
		return err
	}
	// The commit is done; invalidation must not depend on the caller still
	// waiting.
	ctx = context.WithoutCancel(ctx)
	for userID := range touched {
		pipe := s.rdb.TxPipeline()
		pipe.Incr(ctx, positionsGenKey(userID))
		pipe.Del(ctx, positionsKey(userID))
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Warn("position cache invalidation failed", "user_id", userID, "err", err)
		}
	}
	return nil
}

// cachedTx records which users had positions written.
type cachedTx struct {
	Tx
	users map[string]struct{}
}

func (t *cachedTx) InsertPosition(ctx context.Context, p *model.Position) error {
	if err := t.Tx.InsertPosition(ctx, p); err != nil {
		return err
	}
	t.users[p.UserID] = struct{}{}
	return nil
}

func (t *cachedTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	if err := t.Tx.UpdatePosition(ctx, p); err != nil {
		return err
	}
	t.users[p.UserID] = struct{}{}
	return nil
}

// --- Write-through ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.Store.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var cm cachedMarket
		if json.Unmarshal(data, &cm) == nil {
			return cm.toModel(), nil
		}
	}

	m, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	gen, cachedOK := "", false
	vals, err := s.rdb.MGet(ctx, positionsKey(userID), positionsGenKey(userID)).Result()
	if err == nil && len(vals) == 2 {
		gen, _ = vals[1].(string)
		cachedOK = true
		if data, ok := vals[0].(string); ok {
			var entry cachedPositions
			if json.Unmarshal([]byte(data), &entry) == nil && entry.Gen == gen {
				positions := make([]model.Position, len(entry.Positions))
				for i, c := range entry.Positions {
					positions[i] = c.toModel()
				}
				return positions, nil
			}
		}
	}

	positions, err := s.Store.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cachedOK {
		return positions, nil
	}

	entry := cachedPositions{Gen: gen, Positions: make([]cachedPosition, len(positions))}
	for i, p := range positions {
		entry.Positions[i] = newCachedPosition(p)
	}
	if data, err := json.Marshal(entry); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return positions, nil
}

// --- Cache encoding ---

// The model JSON tags hide internal fields (user ids, created_at) from the
// public API, so cache entries use their own encoding.

type cachedMarket struct {
	Market    model.Market `json:"market"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (c cachedMarket) toModel() *model.Market {
	m := c.Market
	m.CreatedAt = c.CreatedAt
	return &m
}

type cachedPosition struct {
	Position  model.Position `json:"position"`
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// cachedPositions is one user's listing and the generation it was read
// under.
type cachedPositions struct {
	Gen       string           `json:"gen"`
	Positions []cachedPosition `json:"positions"`
}

func newCachedPosition(p model.Position) cachedPosition {
	return cachedPosition{Position: p, ID: p.ID, UserID: p.UserID, UpdatedAt: p.UpdatedAt}
}

func (c cachedPosition) toModel() model.Position {
	p := c.Position
	p.ID = c.ID
	p.UserID = c.UserID
	p.UpdatedAt = c.UpdatedAt
	return p
}

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(cachedMarket{Market: *m, CreatedAt: m.CreatedAt}); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string        { return fmt.Sprintf("market:%s", id) }
func positionsKey(uid string) string    { return fmt.Sprintf("positions:%s", uid) }
func positionsGenKey(uid string) string { return fmt.Sprintf("positions:gen:%s", uid) }
