package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/previsao/market-api/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A transaction holds the store mutex for its whole duration and stages its
// writes; they are applied only when fn returns nil.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*model.User
	userByEmail map[string]string
	markets     map[string]*model.Market
	wallets     map[string]*model.WalletBalance
	orders      []*model.Order
	trades      []model.Trade
	positions   map[string]*model.Position
	deposits    map[string]*model.PixDeposit
	walletTxs   map[string]*model.WalletTransaction
	idempotency map[string]*model.IdempotencyRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		userByEmail: make(map[string]string),
		markets:     make(map[string]*model.Market),
		wallets:     make(map[string]*model.WalletBalance),
		positions:   make(map[string]*model.Position),
		deposits:    make(map[string]*model.PixDeposit),
		walletTxs:   make(map[string]*model.WalletTransaction),
		idempotency: make(map[string]*model.IdempotencyRecord),
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// --- Users ---

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	id, ok := s.userByEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

// --- Markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return ErrConflict
	}
	s.markets[m.ID] = cloneMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, f model.MarketFilter) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	q := strings.ToLower(f.Query)
	for _, m := range s.markets {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Category != "" && m.Category != f.Category {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(m.Title), q) &&
			!strings.Contains(strings.ToLower(m.Description), q) {
			continue
		}
		markets = append(markets, *cloneMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool {
		if markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].ID < markets[j].ID
		}
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	if f.Limit > 0 && len(markets) > f.Limit {
		markets = markets[:f.Limit]
	}
	return markets, nil
}

// --- Wallet ---

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.WalletBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *w
	return &copy, nil
}

// --- Orders, trades, positions ---

func (s *MemoryStore) GetOrder(_ context.Context, userID, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.ID == orderID && o.UserID == userID {
			copy := *o
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string, f model.OrderFilter) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	// Newest first: orders are appended in creation order.
	for i := len(s.orders) - 1; i >= 0; i-- {
		o := s.orders[i]
		if o.UserID != userID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.MarketID != "" && o.MarketID != f.MarketID {
			continue
		}
		result = append(result, *o)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateOrderStatus(_ context.Context, orderID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.ID == orderID {
			o.Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].MarketID != marketID {
			continue
		}
		result = append(result, s.trades[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID == result[j].MarketID {
			return result[i].OutcomeID < result[j].OutcomeID
		}
		return result[i].MarketID < result[j].MarketID
	})
	return result, nil
}

// --- Deposits ---

func (s *MemoryStore) CreateDeposit(ctx context.Context, d *model.PixDeposit) error {
	return s.InTx(ctx, func(tx Tx) error {
		return tx.InsertDeposit(ctx, d)
	})
}

func (s *MemoryStore) GetDeposit(_ context.Context, id string) (*model.PixDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deposits[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *d
	return &copy, nil
}

// --- Idempotency ---

func (s *MemoryStore) GetIdempotencyRecord(_ context.Context, key, userID, endpoint string) (*model.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.idempotency[idempotencyKey(key, userID, endpoint)]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *rec
	copy.Body = append([]byte(nil), rec.Body...)
	return &copy, nil
}

func (s *MemoryStore) InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error {
	return s.InTx(ctx, func(tx Tx) error {
		return tx.InsertIdempotencyRecord(ctx, rec)
	})
}

// --- Transaction ---

// memTx stages writes against a MemoryStore whose mutex is already held.
type memTx struct {
	s         *MemoryStore
	users     map[string]*model.User
	wallets   map[string]*model.WalletBalance
	orders    []*model.Order
	trades    []model.Trade
	positions map[string]*model.Position
	deposits  map[string]*model.PixDeposit
	walletTxs map[string]*model.WalletTransaction
	records   map[string]*model.IdempotencyRecord
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:         s,
		users:     make(map[string]*model.User),
		wallets:   make(map[string]*model.WalletBalance),
		positions: make(map[string]*model.Position),
		deposits:  make(map[string]*model.PixDeposit),
		walletTxs: make(map[string]*model.WalletTransaction),
		records:   make(map[string]*model.IdempotencyRecord),
	}
}

func (t *memTx) commit() {
	s := t.s
	for id, u := range t.users {
		s.users[id] = u
		s.userByEmail[strings.ToLower(u.Email)] = id
	}
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	s.orders = append(s.orders, t.orders...)
	s.trades = append(s.trades, t.trades...)
	for k, p := range t.positions {
		s.positions[k] = p
	}
	for id, d := range t.deposits {
		s.deposits[id] = d
	}
	for k, wt := range t.walletTxs {
		s.walletTxs[k] = wt
	}
	for k, rec := range t.records {
		s.idempotency[k] = rec
	}
}

func (t *memTx) CreateUser(_ context.Context, u *model.User) error {
	email := strings.ToLower(u.Email)
	if _, exists := t.s.userByEmail[email]; exists {
		return ErrConflict
	}
	for _, staged := range t.users {
		if strings.ToLower(staged.Email) == email {
			return ErrConflict
		}
	}
	copy := *u
	t.users[u.ID] = &copy
	return nil
}

func (t *memTx) CreateWallet(_ context.Context, w *model.WalletBalance) error {
	if _, exists := t.s.wallets[w.UserID]; exists {
		return ErrConflict
	}
	if _, exists := t.wallets[w.UserID]; exists {
		return ErrConflict
	}
	copy := *w
	t.wallets[w.UserID] = &copy
	return nil
}

func (t *memTx) GetWalletForUpdate(_ context.Context, userID string) (*model.WalletBalance, error) {
	w, ok := t.wallets[userID]
	if !ok {
		w, ok = t.s.wallets[userID]
	}
	if !ok {
		return nil, ErrNotFound
	}
	copy := *w
	return &copy, nil
}

func (t *memTx) UpdateWallet(_ context.Context, w *model.WalletBalance) error {
	_, staged := t.wallets[w.UserID]
	if _, ok := t.s.wallets[w.UserID]; !ok && !staged {
		return ErrNotFound
	}
	copy := *w
	t.wallets[w.UserID] = &copy
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *model.Order) error {
	copy := *o
	t.orders = append(t.orders, &copy)
	return nil
}

func (t *memTx) InsertTrade(_ context.Context, tr *model.Trade) error {
	t.trades = append(t.trades, *tr)
	return nil
}

func (t *memTx) GetPositionForUpdate(_ context.Context, userID, marketID, outcomeID string) (*model.Position, error) {
	k := positionKey(userID, marketID, outcomeID)
	p, ok := t.positions[k]
	if !ok {
		p, ok = t.s.positions[k]
	}
	if !ok {
		return nil, ErrNotFound
	}
	copy := *p
	return &copy, nil
}

func (t *memTx) InsertPosition(_ context.Context, p *model.Position) error {
	k := positionKey(p.UserID, p.MarketID, p.OutcomeID)
	if _, exists := t.s.positions[k]; exists {
		return ErrConflict
	}
	if _, exists := t.positions[k]; exists {
		return ErrConflict
	}
	copy := *p
	t.positions[k] = &copy
	return nil
}

func (t *memTx) UpdatePosition(_ context.Context, p *model.Position) error {
	k := positionKey(p.UserID, p.MarketID, p.OutcomeID)
	_, staged := t.positions[k]
	if _, ok := t.s.positions[k]; !ok && !staged {
		return ErrNotFound
	}
	copy := *p
	t.positions[k] = &copy
	return nil
}

func (t *memTx) InsertDeposit(_ context.Context, d *model.PixDeposit) error {
	if _, exists := t.s.deposits[d.ID]; exists {
		return ErrConflict
	}
	if _, exists := t.deposits[d.ID]; exists {
		return ErrConflict
	}
	copy := *d
	t.deposits[d.ID] = &copy
	return nil
}

func (t *memTx) GetDepositForUpdate(_ context.Context, id string) (*model.PixDeposit, error) {
	d, ok := t.deposits[id]
	if !ok {
		d, ok = t.s.deposits[id]
	}
	if !ok {
		return nil, ErrNotFound
	}
	copy := *d
	return &copy, nil
}

func (t *memTx) UpdateDeposit(_ context.Context, d *model.PixDeposit) error {
	_, staged := t.deposits[d.ID]
	if _, ok := t.s.deposits[d.ID]; !ok && !staged {
		return ErrNotFound
	}
	copy := *d
	t.deposits[d.ID] = &copy
	return nil
}

func (t *memTx) GetWalletTransaction(_ context.Context, refType, refID string) (*model.WalletTransaction, error) {
	k := refType + ":" + refID
	wt, ok := t.walletTxs[k]
	if !ok {
		wt, ok = t.s.walletTxs[k]
	}
	if !ok {
		return nil, ErrNotFound
	}
	copy := *wt
	return &copy, nil
}

func (t *memTx) InsertWalletTransaction(_ context.Context, wt *model.WalletTransaction) error {
	k := wt.ReferenceType + ":" + wt.ReferenceID
	if _, exists := t.s.walletTxs[k]; exists {
		return ErrConflict
	}
	if _, exists := t.walletTxs[k]; exists {
		return ErrConflict
	}
	copy := *wt
	t.walletTxs[k] = &copy
	return nil
}

func (t *memTx) InsertIdempotencyRecord(_ context.Context, rec *model.IdempotencyRecord) error {
	k := idempotencyKey(rec.Key, rec.UserID, rec.Endpoint)
	if _, exists := t.s.idempotency[k]; exists {
		return ErrConflict
	}
	if _, exists := t.records[k]; exists {
		return ErrConflict
	}
	copy := *rec
	copy.Body = append([]byte(nil), rec.Body...)
	t.records[k] = &copy
	return nil
}

// --- helpers ---

func cloneMarket(m *model.Market) *model.Market {
	copy := *m
	copy.Outcomes = append([]model.Outcome(nil), m.Outcomes...)
	copy.Prices = append([]model.MarketPrice(nil), m.Prices...)
	return &copy
}

func positionKey(userID, marketID, outcomeID string) string {
	return userID + "|" + marketID + "|" + outcomeID
}

func idempotencyKey(key, userID, endpoint string) string {
	return key + "|" + userID + "|" + endpoint
}
