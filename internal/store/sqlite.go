package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/previsao/market-api/internal/model"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// sqliteTime is fixed width so that TEXT ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store on a single SQLite file. It is meant for
// local development and tests that need real SQL semantics without a
// database server.
//
// The pool is limited to one connection and transactions begin with
// BEGIN IMMEDIATE, so writers are fully serialized.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		// WAL mode for concurrent readers from other processes
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting WAL mode: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", sqliteError(err))
	}
	return nil
}

// --- Users ---

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanSQLiteUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func scanSQLiteUser(row rowScanner) (*model.User, error) {
	var u model.User
	var created string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.KYCStatus, &created); err != nil {
		return nil, sqliteError(err)
	}
	u.CreatedAt = parseSQLiteTime(created)
	return &u, nil
}

// --- Markets ---

func (s *SQLiteStore) CreateMarket(ctx context.Context, m *model.Market) error {
	return s.InTx(ctx, func(t Tx) error {
		q := t.(*sqliteTx).q
		_, err := q.ExecContext(ctx,
			`INSERT INTO markets (id, title, description, category, status, close_time, volume_brl, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.Title, m.Description, m.Category, m.Status, formatSQLiteTime(m.CloseTime),
			m.VolumeBRL.String(), formatSQLiteTime(m.CreatedAt),
		)
		if err != nil {
			return sqliteError(err)
		}
		for i, o := range m.Outcomes {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO outcomes (id, market_id, title, ordinal) VALUES (?, ?, ?, ?)`,
				o.ID, m.ID, o.Title, i); err != nil {
				return sqliteError(err)
			}
		}
		for _, p := range m.Prices {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO market_prices (market_id, outcome_id, price) VALUES (?, ?, ?)`,
				m.ID, p.OutcomeID, p.Price.String()); err != nil {
				return sqliteError(err)
			}
		}
		return nil
	})
}

const sqliteMarketColumns = `id, title, description, category, status, close_time, volume_brl, created_at`

func (s *SQLiteStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanSQLiteMarket(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteMarketColumns+` FROM markets WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadMarketChildren(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.Market, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Query != "" {
		// LIKE is case-insensitive for ASCII in SQLite.
		where = append(where, "(title LIKE ? OR description LIKE ?)")
		args = append(args, "%"+f.Query+"%", "%"+f.Query+"%")
	}

	query := `SELECT ` + sqliteMarketColumns + ` FROM markets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var markets []model.Market
	for rows.Next() {
		m, err := scanSQLiteMarket(rows)
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

	// Children are loaded after the cursor is closed: the pool has a single
	// connection.
	for i := range markets {
		if err := s.loadMarketChildren(ctx, &markets[i]); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

func scanSQLiteMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var closeTime, volume, created string
	if err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Status,
		&closeTime, &volume, &created); err != nil {
		return nil, sqliteError(err)
	}
	m.CloseTime = parseSQLiteTime(closeTime)
	m.VolumeBRL = parseDecimal(volume)
	m.CreatedAt = parseSQLiteTime(created)
	return &m, nil
}

func (s *SQLiteStore) loadMarketChildren(ctx context.Context, m *model.Market) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title FROM outcomes WHERE market_id = ? ORDER BY ordinal, id`, m.ID)
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

	rows, err = s.db.QueryContext(ctx,
		`SELECT mp.outcome_id, mp.price
		 FROM market_prices mp
		 JOIN outcomes o ON o.id = mp.outcome_id
		 WHERE mp.market_id = ?
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
		p.Price = parseDecimal(price)
		m.Prices = append(m.Prices, p)
	}
	return rows.Err()
}

// --- Wallet ---

const sqliteWalletColumns = `user_id, brl_available, brl_reserved, total_brl, updated_at`

func (s *SQLiteStore) GetWallet(ctx context.Context, userID string) (*model.WalletBalance, error) {
	return scanSQLiteWallet(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteWalletColumns+` FROM wallet_balances WHERE user_id = ?`, userID))
}

func scanSQLiteWallet(row rowScanner) (*model.WalletBalance, error) {
	var w model.WalletBalance
	var available, reserved, total, updated string
	if err := row.Scan(&w.UserID, &available, &reserved, &total, &updated); err != nil {
		return nil, sqliteError(err)
	}
	w.Available = parseDecimal(available)
	w.Reserved = parseDecimal(reserved)
	w.Total = parseDecimal(total)
	w.UpdatedAt = parseSQLiteTime(updated)
	return &w, nil
}

// --- Orders, trades, positions ---

const sqliteOrderColumns = `id, user_id, market_id, outcome_id, side, type, price,
	amount, filled_amount, status, created_at`

func (s *SQLiteStore) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	return scanSQLiteOrder(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteOrderColumns+` FROM orders WHERE id = ? AND user_id = ?`, orderID, userID))
}

func (s *SQLiteStore) ListOrders(ctx context.Context, userID string, f model.OrderFilter) ([]model.Order, error) {
	query := `SELECT ` + sqliteOrderColumns + ` FROM orders WHERE user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.MarketID != "" {
		query += ` AND market_id = ?`
		args = append(args, f.MarketID)
	}
	query += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanSQLiteOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var price sql.NullString
	var amount, filled, created string
	if err := row.Scan(&o.ID, &o.UserID, &o.MarketID, &o.OutcomeID, &o.Side, &o.Type,
		&price, &amount, &filled, &o.Status, &created); err != nil {
		return nil, sqliteError(err)
	}
	if price.Valid {
		p := parseDecimal(price.String)
		o.Price = &p
	}
	o.Amount = parseDecimal(amount)
	o.FilledAmount = parseDecimal(filled)
	o.CreatedAt = parseSQLiteTime(created)
	return &o, nil
}

func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, orderID)
	return rowsAffected(res, err)
}

func (s *SQLiteStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market_id, outcome_id, price, amount, taker_side, taker_user_id, created_at
		 FROM trades WHERE market_id = ?
		 ORDER BY seq DESC
		 LIMIT ?`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var price, amount, created string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.OutcomeID, &price, &amount,
			&t.TakerSide, &t.TakerUserID, &created); err != nil {
			return nil, err
		}
		t.Price = parseDecimal(price)
		t.Amount = parseDecimal(amount)
		t.CreatedAt = parseSQLiteTime(created)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

const sqlitePositionColumns = `id, user_id, market_id, outcome_id, size, avg_price,
	pnl_brl, last_price, updated_at`

func (s *SQLiteStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions WHERE user_id = ? ORDER BY market_id, outcome_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanSQLitePosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanSQLitePosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var size, avg, pnl, last, updated string
	if err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &p.OutcomeID,
		&size, &avg, &pnl, &last, &updated); err != nil {
		return nil, sqliteError(err)
	}
	p.Size = parseDecimal(size)
	p.AvgPrice = parseDecimal(avg)
	p.PnlBRL = parseDecimal(pnl)
	p.LastPrice = parseDecimal(last)
	p.UpdatedAt = parseSQLiteTime(updated)
	return &p, nil
}

// --- Deposits ---

const sqliteDepositColumns = `id, user_id, amount_brl, status, qr_code_text, qr_code_image_url,
	expires_at, created_at, completed_at`

func (s *SQLiteStore) CreateDeposit(ctx context.Context, d *model.PixDeposit) error {
	return (&sqliteTx{q: s.db}).InsertDeposit(ctx, d)
}

func (s *SQLiteStore) GetDeposit(ctx context.Context, id string) (*model.PixDeposit, error) {
	return scanSQLiteDeposit(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDepositColumns+` FROM pix_deposits WHERE id = ?`, id))
}

func scanSQLiteDeposit(row rowScanner) (*model.PixDeposit, error) {
	var d model.PixDeposit
	var amount, expires, created string
	var completed sql.NullString
	if err := row.Scan(&d.ID, &d.UserID, &amount, &d.Status, &d.QRCodeText, &d.QRCodeImageURL,
		&expires, &created, &completed); err != nil {
		return nil, sqliteError(err)
	}
	d.AmountBRL = parseDecimal(amount)
	d.ExpiresAt = parseSQLiteTime(expires)
	d.CreatedAt = parseSQLiteTime(created)
	if completed.Valid {
		t := parseSQLiteTime(completed.String)
		d.CompletedAt = &t
	}
	return &d, nil
}

// --- Idempotency ---

func (s *SQLiteStore) GetIdempotencyRecord(ctx context.Context, key, userID, endpoint string) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT key, user_id, endpoint, request_hash, status_code, response_body, created_at
		 FROM idempotency_keys
		 WHERE key = ? AND user_id = ? AND endpoint = ?`, key, userID, endpoint).
		Scan(&rec.Key, &rec.UserID, &rec.Endpoint, &rec.RequestHash,
			&rec.StatusCode, &rec.Body, &created)
	if err != nil {
		return nil, sqliteError(err)
	}
	rec.CreatedAt = parseSQLiteTime(created)
	return &rec, nil
}

func (s *SQLiteStore) InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error {
	return (&sqliteTx{q: s.db}).InsertIdempotencyRecord(ctx, rec)
}

// --- Transaction ---

type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) CreateUser(ctx context.Context, u *model.User) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Role, u.KYCStatus, formatSQLiteTime(u.CreatedAt))
	return sqliteError(err)
}

func (t *sqliteTx) CreateWallet(ctx context.Context, w *model.WalletBalance) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO wallet_balances (`+sqliteWalletColumns+`) VALUES (?, ?, ?, ?, ?)`,
		w.UserID, w.Available.String(), w.Reserved.String(), w.Total.String(), formatSQLiteTime(w.UpdatedAt))
	return sqliteError(err)
}

// GetWalletForUpdate needs no row lock: BEGIN IMMEDIATE already holds the
// database write lock.
func (t *sqliteTx) GetWalletForUpdate(ctx context.Context, userID string) (*model.WalletBalance, error) {
	return scanSQLiteWallet(t.q.QueryRowContext(ctx,
		`SELECT `+sqliteWalletColumns+` FROM wallet_balances WHERE user_id = ?`, userID))
}

func (t *sqliteTx) UpdateWallet(ctx context.Context, w *model.WalletBalance) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE wallet_balances
		 SET brl_available = ?, brl_reserved = ?, total_brl = ?, updated_at = ?
		 WHERE user_id = ?`,
		w.Available.String(), w.Reserved.String(), w.Total.String(), formatSQLiteTime(w.UpdatedAt), w.UserID)
	return rowsAffected(res, err)
}

func (t *sqliteTx) InsertOrder(ctx context.Context, o *model.Order) error {
	var price sql.NullString
	if o.Price != nil {
		price = sql.NullString{String: o.Price.String(), Valid: true}
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, market_id, outcome_id, side, type, price, amount, filled_amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.MarketID, o.OutcomeID, o.Side, o.Type, price,
		o.Amount.String(), o.FilledAmount.String(), o.Status, formatSQLiteTime(o.CreatedAt))
	return sqliteError(err)
}

func (t *sqliteTx) InsertTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO trades (id, market_id, outcome_id, price, amount, taker_side, taker_user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.MarketID, tr.OutcomeID, tr.Price.String(), tr.Amount.String(),
		tr.TakerSide, tr.TakerUserID, formatSQLiteTime(tr.CreatedAt))
	return sqliteError(err)
}

func (t *sqliteTx) GetPositionForUpdate(ctx context.Context, userID, marketID, outcomeID string) (*model.Position, error) {
	return scanSQLitePosition(t.q.QueryRowContext(ctx,
		`SELECT `+sqlitePositionColumns+` FROM positions
		 WHERE user_id = ? AND market_id = ? AND outcome_id = ?`, userID, marketID, outcomeID))
}

func (t *sqliteTx) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO positions (`+sqlitePositionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.MarketID, p.OutcomeID, p.Size.String(), p.AvgPrice.String(),
		p.PnlBRL.String(), p.LastPrice.String(), formatSQLiteTime(p.UpdatedAt))
	return sqliteError(err)
}

func (t *sqliteTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE positions
		 SET size = ?, avg_price = ?, pnl_brl = ?, last_price = ?, updated_at = ?
		 WHERE user_id = ? AND market_id = ? AND outcome_id = ?`,
		p.Size.String(), p.AvgPrice.String(), p.PnlBRL.String(), p.LastPrice.String(),
		formatSQLiteTime(p.UpdatedAt), p.UserID, p.MarketID, p.OutcomeID)
	return rowsAffected(res, err)
}

func (t *sqliteTx) InsertDeposit(ctx context.Context, d *model.PixDeposit) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO pix_deposits (id, user_id, amount_brl, status, qr_code_text, qr_code_image_url, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.AmountBRL.String(), d.Status, d.QRCodeText, d.QRCodeImageURL,
		formatSQLiteTime(d.ExpiresAt), formatSQLiteTime(d.CreatedAt),
	)
	return sqliteError(err)
}

func (t *sqliteTx) GetDepositForUpdate(ctx context.Context, id string) (*model.PixDeposit, error) {
	return scanSQLiteDeposit(t.q.QueryRowContext(ctx,
		`SELECT `+sqliteDepositColumns+` FROM pix_deposits WHERE id = ?`, id))
}

func (t *sqliteTx) UpdateDeposit(ctx context.Context, d *model.PixDeposit) error {
	var completed sql.NullString
	if d.CompletedAt != nil {
		completed = sql.NullString{String: formatSQLiteTime(*d.CompletedAt), Valid: true}
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE pix_deposits SET status = ?, completed_at = ? WHERE id = ?`,
		d.Status, completed, d.ID)
	return rowsAffected(res, err)
}

func (t *sqliteTx) GetWalletTransaction(ctx context.Context, refType, refID string) (*model.WalletTransaction, error) {
	var wt model.WalletTransaction
	var amount, created string
	err := t.q.QueryRowContext(ctx,
		`SELECT id, user_id, type, amount_brl, reference_type, reference_id, created_at
		 FROM wallet_transactions
		 WHERE reference_type = ? AND reference_id = ?`, refType, refID).
		Scan(&wt.ID, &wt.UserID, &wt.Type, &amount, &wt.ReferenceType, &wt.ReferenceID, &created)
	if err != nil {
		return nil, sqliteError(err)
	}
	wt.AmountBRL = parseDecimal(amount)
	wt.CreatedAt = parseSQLiteTime(created)
	return &wt, nil
}

func (t *sqliteTx) InsertWalletTransaction(ctx context.Context, wt *model.WalletTransaction) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO wallet_transactions (id, user_id, type, amount_brl, reference_type, reference_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		wt.ID, wt.UserID, wt.Type, wt.AmountBRL.String(), wt.ReferenceType, wt.ReferenceID,
		formatSQLiteTime(wt.CreatedAt))
	return sqliteError(err)
}

func (t *sqliteTx) InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, user_id, endpoint, request_hash, status_code, response_body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.UserID, rec.Endpoint, rec.RequestHash, rec.StatusCode, rec.Body,
		formatSQLiteTime(rec.CreatedAt),
	)
	return sqliteError(err)
}

// --- helpers ---

// sqliteError maps driver errors onto the store sentinels.
func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", ErrConflict, se.Error())
		}
	}
	return err
}

func rowsAffected(res sql.Result, err error) error {
	if err != nil {
		return sqliteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseSQLiteTime(s string) time.Time {
	t, _ := time.Parse(sqliteTime, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
