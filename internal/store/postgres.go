package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/previsao/market-api/internal/model"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Transactions run at READ COMMITTED; writers take row locks with
// SELECT ... FOR UPDATE. The wallet row is always locked first, which
// serializes every settlement of one user and therefore every
// read-modify-write of that user's positions.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", pgError(err))
	}
	return nil
}

// --- Users ---

const userColumns = `id, email, password_hash, full_name, role, kyc_status, created_at`

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.KYCStatus, &u.CreatedAt); err != nil {
		return nil, pgError(err)
	}
	return &u, nil
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	return s.InTx(ctx, func(t Tx) error {
		q := t.(*pgTx).q
		_, err := q.Exec(ctx,
			`INSERT INTO markets (id, title, description, category, status, close_time, volume_brl, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8)`,
			m.ID, m.Title, m.Description, m.Category, m.Status, m.CloseTime,
			m.VolumeBRL.String(), m.CreatedAt,
		)
		if err != nil {
			return pgError(err)
		}
		for i, o := range m.Outcomes {
			if _, err := q.Exec(ctx,
				`INSERT INTO outcomes (id, market_id, title, ordinal) VALUES ($1, $2, $3, $4)`,
				o.ID, m.ID, o.Title, i); err != nil {
				return pgError(err)
			}
		}
		for _, p := range m.Prices {
			if _, err := q.Exec(ctx,
				`INSERT INTO market_prices (market_id, outcome_id, price) VALUES ($1, $2, $3::NUMERIC)`,
				m.ID, p.OutcomeID, p.Price.String()); err != nil {
				return pgError(err)
			}
		}
		return nil
	})
}

const marketColumns = `id, title, description, category, status, close_time, volume_brl::TEXT, created_at`

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadMarketChildren(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.Market, error) {
	var where []string
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	sql := `SELECT ` + marketColumns + ` FROM markets`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		markets = append(markets, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range markets {
		if err := s.loadMarketChildren(ctx, &markets[i]); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var volume string
	if err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Status,
		&m.CloseTime, &volume, &m.CreatedAt); err != nil {
		return nil, pgError(err)
	}
	m.VolumeBRL, _ = decimal.NewFromString(volume)
	return &m, nil
}

func (s *PostgresStore) loadMarketChildren(ctx context.Context, m *model.Market) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title FROM outcomes WHERE market_id = $1 ORDER BY ordinal, id`, m.ID)
	if err != nil {
		return err
	}
	m.Outcomes = nil
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o.ID, &o.Title); err != nil {
			rows.Close()
			return err
		}
		m.Outcomes = append(m.Outcomes, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT mp.outcome_id, mp.price::TEXT
		 FROM market_prices mp
		 JOIN outcomes o ON o.id = mp.outcome_id
		 WHERE mp.market_id = $1
		 ORDER BY o.ordinal, o.id`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	m.Prices = nil
	for rows.Next() {
		var p model.MarketPrice
		var price string
		if err := rows.Scan(&p.OutcomeID, &price); err != nil {
			return err
		}
		p.Price, _ = decimal.NewFromString(price)
		m.Prices = append(m.Prices, p)
	}
	return rows.Err()
}

// --- Wallet ---

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.WalletBalance, error) {
	return scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallet_balances WHERE user_id = $1`, userID))
}

const walletColumns = `user_id, brl_available::TEXT, brl_reserved::TEXT, total_brl::TEXT, updated_at`

func scanWallet(row pgx.Row) (*model.WalletBalance, error) {
	var w model.WalletBalance
	var available, reserved, total string
	if err := row.Scan(&w.UserID, &available, &reserved, &total, &w.UpdatedAt); err != nil {
		return nil, pgError(err)
	}
	w.Available, _ = decimal.NewFromString(available)
	w.Reserved, _ = decimal.NewFromString(reserved)
	w.Total, _ = decimal.NewFromString(total)
	return &w, nil
}

// --- Orders, trades, positions ---

const orderColumns = `id, user_id, market_id, outcome_id, side, type, price::TEXT,
	amount::TEXT, filled_amount::TEXT, status, created_at`

func (s *PostgresStore) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID))
}

func (s *PostgresStore) ListOrders(ctx context.Context, userID string, f model.OrderFilter) ([]model.Order, error) {
	args := []any{userID}
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1`
	if f.Status != "" {
		args = append(args, f.Status)
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.MarketID != "" {
		args = append(args, f.MarketID)
		sql += fmt.Sprintf(" AND market_id = $%d", len(args))
	}
	sql += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var price *string
	var amount, filled string
	if err := row.Scan(&o.ID, &o.UserID, &o.MarketID, &o.OutcomeID, &o.Side, &o.Type,
		&price, &amount, &filled, &o.Status, &o.CreatedAt); err != nil {
		return nil, pgError(err)
	}
	if price != nil {
		p, _ := decimal.NewFromString(*price)
		o.Price = &p
	}
	o.Amount, _ = decimal.NewFromString(amount)
	o.FilledAmount, _ = decimal.NewFromString(filled)
	return &o, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, outcome_id, price::TEXT, amount::TEXT, taker_side, taker_user_id, created_at
		 FROM trades WHERE market_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, marketID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, amount string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.OutcomeID, &price, &amount,
			&t.TakerSide, &t.TakerUserID, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Amount, _ = decimal.NewFromString(amount)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

const positionColumns = `id, user_id, market_id, outcome_id, size::TEXT, avg_price::TEXT,
	pnl_brl::TEXT, last_price::TEXT, updated_at`

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY market_id, outcome_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var size, avg, pnl, last string
	if err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &p.OutcomeID,
		&size, &avg, &pnl, &last, &p.UpdatedAt); err != nil {
		return nil, pgError(err)
	}
	p.Size, _ = decimal.NewFromString(size)
	p.AvgPrice, _ = decimal.NewFromString(avg)
	p.PnlBRL, _ = decimal.NewFromString(pnl)
	p.LastPrice, _ = decimal.NewFromString(last)
	return &p, nil
}

// --- Deposits ---

const depositColumns = `id, user_id, amount_brl::TEXT, status, qr_code_text, qr_code_image_url,
	expires_at, created_at, completed_at`

func (s *PostgresStore) CreateDeposit(ctx context.Context, d *model.PixDeposit) error {
	return (&pgTx{q: s.pool}).InsertDeposit(ctx, d)
}

func (s *PostgresStore) GetDeposit(ctx context.Context, id string) (*model.PixDeposit, error) {
	return scanDeposit(s.pool.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM pix_deposits WHERE id = $1`, id))
}

func scanDeposit(row pgx.Row) (*model.PixDeposit, error) {
	var d model.PixDeposit
	var amount string
	if err := row.Scan(&d.ID, &d.UserID, &amount, &d.Status, &d.QRCodeText, &d.QRCodeImageURL,
		&d.ExpiresAt, &d.CreatedAt, &d.CompletedAt); err != nil {
		return nil, pgError(err)
	}
	d.AmountBRL, _ = decimal.NewFromString(amount)
	return &d, nil
}

// --- Idempotency ---

func (s *PostgresStore) GetIdempotencyRecord(ctx context.Context, key, userID, endpoint string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	err := s.pool.QueryRow(ctx,
		`SELECT key, user_id, endpoint, request_hash, status_code, response_body, created_at
		 FROM idempotency_keys
		 WHERE key = $1 AND user_id = $2 AND endpoint = $3`, key, userID, endpoint).
		Scan(&rec.Key, &rec.UserID, &rec.Endpoint, &rec.RequestHash,
			&rec.StatusCode, &rec.Body, &rec.CreatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	return &rec, nil
}

func (s *PostgresStore) InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error {
	return (&pgTx{q: s.pool}).InsertIdempotencyRecord(ctx, rec)
}

// --- Transaction ---

type pgTx struct {
	q querier
}

func (t *pgTx) CreateUser(ctx context.Context, u *model.User) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Role, u.KYCStatus, u.CreatedAt)
	return pgError(err)
}

func (t *pgTx) CreateWallet(ctx context.Context, w *model.WalletBalance) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO wallet_balances (user_id, brl_available, brl_reserved, total_brl, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5)`,
		w.UserID, w.Available.String(), w.Reserved.String(), w.Total.String(), w.UpdatedAt)
	return pgError(err)
}

func (t *pgTx) GetWalletForUpdate(ctx context.Context, userID string) (*model.WalletBalance, error) {
	return scanWallet(t.q.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallet_balances WHERE user_id = $1 FOR UPDATE`, userID))
}

func (t *pgTx) UpdateWallet(ctx context.Context, w *model.WalletBalance) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE wallet_balances
		 SET brl_available = $2::NUMERIC, brl_reserved = $3::NUMERIC, total_brl = $4::NUMERIC, updated_at = $5
		 WHERE user_id = $1`,
		w.UserID, w.Available.String(), w.Reserved.String(), w.Total.String(), w.UpdatedAt)
	return affected(tag, err)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	var price *string
	if o.Price != nil {
		p := o.Price.String()
		price = &p
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO orders (id, user_id, market_id, outcome_id, side, type, price, amount, filled_amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		o.ID, o.UserID, o.MarketID, o.OutcomeID, o.Side, o.Type, price,
		o.Amount.String(), o.FilledAmount.String(), o.Status, o.CreatedAt)
	return pgError(err)
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO trades (id, market_id, outcome_id, price, amount, taker_side, taker_user_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		tr.ID, tr.MarketID, tr.OutcomeID, tr.Price.String(), tr.Amount.String(),
		tr.TakerSide, tr.TakerUserID, tr.CreatedAt)
	return pgError(err)
}

func (t *pgTx) GetPositionForUpdate(ctx context.Context, userID, marketID, outcomeID string) (*model.Position, error) {
	return scanPosition(t.q.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND outcome_id = $3
		 FOR UPDATE`, userID, marketID, outcomeID))
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO positions (id, user_id, market_id, outcome_id, size, avg_price, pnl_brl, last_price, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		p.ID, p.UserID, p.MarketID, p.OutcomeID, p.Size.String(), p.AvgPrice.String(),
		p.PnlBRL.String(), p.LastPrice.String(), p.UpdatedAt)
	return pgError(err)
}

func (t *pgTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE positions
		 SET size = $4::NUMERIC, avg_price = $5::NUMERIC, pnl_brl = $6::NUMERIC, last_price = $7::NUMERIC, updated_at = $8
		 WHERE user_id = $1 AND market_id = $2 AND outcome_id = $3`,
		p.UserID, p.MarketID, p.OutcomeID, p.Size.String(), p.AvgPrice.String(),
		p.PnlBRL.String(), p.LastPrice.String(), p.UpdatedAt)
	return affected(tag, err)
}

func (t *pgTx) InsertDeposit(ctx context.Context, d *model.PixDeposit) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO pix_deposits (id, user_id, amount_brl, status, qr_code_text, qr_code_image_url, expires_at, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7, $8)`,
		d.ID, d.UserID, d.AmountBRL.String(), d.Status, d.QRCodeText, d.QRCodeImageURL,
		d.ExpiresAt, d.CreatedAt,
	)
	return pgError(err)
}

func (t *pgTx) GetDepositForUpdate(ctx context.Context, id string) (*model.PixDeposit, error) {
	return scanDeposit(t.q.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM pix_deposits WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateDeposit(ctx context.Context, d *model.PixDeposit) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE pix_deposits SET status = $2, completed_at = $3 WHERE id = $1`,
		d.ID, d.Status, d.CompletedAt)
	return affected(tag, err)
}

func (t *pgTx) GetWalletTransaction(ctx context.Context, refType, refID string) (*model.WalletTransaction, error) {
	var wt model.WalletTransaction
	var amount string
	err := t.q.QueryRow(ctx,
		`SELECT id, user_id, type, amount_brl::TEXT, reference_type, reference_id, created_at
		 FROM wallet_transactions
		 WHERE reference_type = $1 AND reference_id = $2`, refType, refID).
		Scan(&wt.ID, &wt.UserID, &wt.Type, &amount, &wt.ReferenceType, &wt.ReferenceID, &wt.CreatedAt)
	if err != nil {
		return nil, pgError(err)
	}
	wt.AmountBRL, _ = decimal.NewFromString(amount)
	return &wt, nil
}

func (t *pgTx) InsertWalletTransaction(ctx context.Context, wt *model.WalletTransaction) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO wallet_transactions (id, user_id, type, amount_brl, reference_type, reference_id, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
		wt.ID, wt.UserID, wt.Type, wt.AmountBRL.String(), wt.ReferenceType, wt.ReferenceID, wt.CreatedAt)
	return pgError(err)
}

func (t *pgTx) InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO idempotency_keys (key, user_id, endpoint, request_hash, status_code, response_body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Key, rec.UserID, rec.Endpoint, rec.RequestHash, rec.StatusCode, rec.Body, rec.CreatedAt,
	)
	return pgError(err)
}

// --- helpers ---

// pgError maps driver errors onto the store sentinels.
func pgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil // LIMIT NULL means no limit
	}
	return limit
}
