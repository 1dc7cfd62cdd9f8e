package ledger

import (
	"context"
	"errors"
	"fmt"

	"lv-margin/internal/model"
	"lv-margin/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres ledger. Transactions run at SERIALIZABLE and lock
// the account row first, so writes to one account never interleave.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const accountColumns = `user_id, venue, balance, frozen_margin, realized_pnl, fees_paid, trade_count, win_count, loss_count,
	total_borrowed, total_repaid, current_debt, created_at, updated_at`

const positionColumns = `id, user_id, venue, instrument, side, size, entry_price, liquidation_price, take_profit, stop_loss,
	opened_at, updated_at`

const orderColumns = `id, user_id, venue, instrument, side, direction, role, purpose, notional, price, locked_margin,
	fee_rate, status, fill_price, reason, created_at, updated_at, executed_at`

const loanColumns = `id, user_id, venue, principal, debt, rate, last_accrual, status, created_at, repaid_at`

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.UserID, &a.Venue, &a.Balance, &a.FrozenMargin, &a.RealizedPnL, &a.FeesPaid, &a.TradeCount,
		&a.WinCount, &a.LossCount, &a.TotalBorrowed, &a.TotalRepaid, &a.CurrentDebt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func nullable(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Decimal
	return &v
}

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side string
	var tp, sl decimal.NullDecimal
	err := row.Scan(&p.ID, &p.UserID, &p.Venue, &p.Instrument, &side, &p.Size, &p.EntryPrice, &p.LiquidationPrice,
		&tp, &sl, &p.OpenedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	p.Side = types.PositionSide(side)
	p.TakeProfit = nullable(tp)
	p.StopLoss = nullable(sl)
	return p, err
}

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var side, direction, role, purpose, status string
	var price, fill decimal.NullDecimal
	err := row.Scan(&o.ID, &o.UserID, &o.Venue, &o.Instrument, &side, &direction, &role, &purpose, &o.Notional, &price,
		&o.LockedMargin, &o.FeeRate, &status, &fill, &o.Reason, &o.CreatedAt, &o.UpdatedAt, &o.ExecutedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, ErrNotFound
	}
	o.Side = types.PositionSide(side)
	o.Direction = types.OrderDirection(direction)
	o.Role = types.OrderRole(role)
	o.Purpose = types.OrderPurpose(purpose)
	o.Status = types.OrderStatus(status)
	o.Price = nullable(price)
	o.FillPrice = nullable(fill)
	return o, err
}

func scanLoan(row pgx.Row) (model.Loan, error) {
	var l model.Loan
	var status string
	err := row.Scan(&l.ID, &l.UserID, &l.Venue, &l.Principal, &l.Debt, &l.Rate, &l.LastAccrual, &status, &l.CreatedAt, &l.RepaidAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return l, ErrNotFound
	}
	l.Status = types.LoanStatus(status)
	return l, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func getAccount(ctx context.Context, q querier, key model.AccountKey, lock bool) (model.Account, error) {
	sql := "select " + accountColumns + " from accounts where user_id = $1 and venue = $2"
	if lock {
		sql += " for update"
	}
	return scanAccount(q.QueryRow(ctx, sql, key.UserID, key.Venue))
}

func listPositions(ctx context.Context, q querier, key *model.AccountKey) ([]model.Position, error) {
	if key == nil {
		rows, err := q.Query(ctx, "select "+positionColumns+" from positions order by seq")
		if err != nil {
			return nil, err
		}
		return collect(rows, scanPosition)
	}
	rows, err := q.Query(ctx, "select "+positionColumns+" from positions where user_id = $1 and venue = $2 order by seq",
		key.UserID, key.Venue)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPosition)
}

func listAccountOrders(ctx context.Context, q querier, key model.AccountKey, status types.OrderStatus) ([]model.Order, error) {
	rows, err := q.Query(ctx, "select "+orderColumns+` from orders
		where user_id = $1 and venue = $2 and ($3 = '' or status = $3) order by seq`, key.UserID, key.Venue, string(status))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanOrder)
}

func listLoans(ctx context.Context, q querier, key model.AccountKey, status types.LoanStatus) ([]model.Loan, error) {
	rows, err := q.Query(ctx, "select "+loanColumns+` from loans
		where user_id = $1 and venue = $2 and ($3 = '' or status = $3) order by created_at, seq`, key.UserID, key.Venue, string(status))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanLoan)
}

func (s *PGStore) GetAccount(ctx context.Context, key model.AccountKey) (model.Account, error) {
	return getAccount(ctx, s.pool, key, false)
}

func (s *PGStore) ListPositions(ctx context.Context, key model.AccountKey) ([]model.Position, error) {
	return listPositions(ctx, s.pool, &key)
}

func (s *PGStore) ListAllPositions(ctx context.Context) ([]model.Position, error) {
	return listPositions(ctx, s.pool, nil)
}

func (s *PGStore) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, "select "+orderColumns+" from orders where id = $1", id))
}

func (s *PGStore) ListPendingOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, "select "+orderColumns+" from orders where status = $1 order by seq", string(types.OrderStatusPending))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanOrder)
}

func (s *PGStore) ListAccountOrders(ctx context.Context, key model.AccountKey, status types.OrderStatus) ([]model.Order, error) {
	return listAccountOrders(ctx, s.pool, key, status)
}

func (s *PGStore) ListLoans(ctx context.Context, key model.AccountKey, status types.LoanStatus) ([]model.Loan, error) {
	return listLoans(ctx, s.pool, key, status)
}

func (s *PGStore) ListLoanAccounts(ctx context.Context) ([]model.AccountKey, error) {
	rows, err := s.pool.Query(ctx, `select user_id, venue from loans where status = $1
		group by user_id, venue order by min(seq)`, string(types.LoanStatusActive))
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (model.AccountKey, error) {
		var k model.AccountKey
		err := row.Scan(&k.UserID, &k.Venue)
		return k, err
	})
}

func (s *PGStore) ListTrades(ctx context.Context, key model.AccountKey, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `select id, user_id, venue, order_id, instrument, side, kind, notional, price, fee,
		realized_pnl, created_at from trades where user_id = $1 and venue = $2 order by seq desc limit $3`,
		key.UserID, key.Venue, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (model.Trade, error) {
		var t model.Trade
		var side, kind string
		err := row.Scan(&t.ID, &t.UserID, &t.Venue, &t.OrderID, &t.Instrument, &side, &kind, &t.Notional, &t.Price,
			&t.Fee, &t.RealizedPnL, &t.CreatedAt)
		t.Side = types.PositionSide(side)
		t.Kind = types.TradeKind(kind)
		return t, err
	})
}

func (s *PGStore) LastPrice(ctx context.Context, instrument string) (model.PriceSnapshot, error) {
	var snap model.PriceSnapshot
	err := s.pool.QueryRow(ctx, "select instrument, price, updated_at from price_snapshots where instrument = $1", instrument).
		Scan(&snap.Instrument, &snap.Price, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, ErrNotFound
	}
	return snap, err
}

func (s *PGStore) SavePrice(ctx context.Context, snap model.PriceSnapshot) error {
	_, err := s.pool.Exec(ctx, `insert into price_snapshots (instrument, price, updated_at) values ($1, $2, $3)
		on conflict (instrument) do update set price = excluded.price, updated_at = excluded.updated_at`,
		snap.Instrument, snap.Price, snap.UpdatedAt)
	return err
}

type pgTx struct {
	q querier
}

func (t *pgTx) EnsureAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	_, err := t.q.Exec(ctx, `insert into accounts (user_id, venue, balance, created_at, updated_at)
		values ($1, $2, $3, $4, $4) on conflict (user_id, venue) do nothing`,
		acc.UserID, acc.Venue, acc.Balance, acc.CreatedAt)
	if err != nil {
		return model.Account{}, err
	}
	return getAccount(ctx, t.q, acc.AccountKey, true)
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, key model.AccountKey) (model.Account, error) {
	return getAccount(ctx, t.q, key, true)
}

func (t *pgTx) UpdateAccount(ctx context.Context, a model.Account) error {
	tag, err := t.q.Exec(ctx, `update accounts set balance = $3, frozen_margin = $4, realized_pnl = $5, fees_paid = $6,
		trade_count = $7, win_count = $8, loss_count = $9, total_borrowed = $10, total_repaid = $11, current_debt = $12,
		updated_at = $13 where user_id = $1 and venue = $2`,
		a.UserID, a.Venue, a.Balance, a.FrozenMargin, a.RealizedPnL, a.FeesPaid, a.TradeCount, a.WinCount, a.LossCount,
		a.TotalBorrowed, a.TotalRepaid, a.CurrentDebt, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListPositions(ctx context.Context, key model.AccountKey) ([]model.Position, error) {
	return listPositions(ctx, t.q, &key)
}

func (t *pgTx) GetPositionForUpdate(ctx context.Context, key model.AccountKey, instrument string, side types.PositionSide) (model.Position, error) {
	return scanPosition(t.q.QueryRow(ctx, "select "+positionColumns+` from positions
		where user_id = $1 and venue = $2 and instrument = $3 and side = $4 for update`,
		key.UserID, key.Venue, instrument, string(side)))
}

func (t *pgTx) InsertPosition(ctx context.Context, p model.Position) error {
	_, err := t.q.Exec(ctx, "insert into positions ("+positionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.UserID, p.Venue, p.Instrument, string(p.Side), p.Size, p.EntryPrice, p.LiquidationPrice,
		p.TakeProfit, p.StopLoss, p.OpenedAt, p.UpdatedAt)
	return err
}

func (t *pgTx) UpdatePosition(ctx context.Context, p model.Position) error {
	tag, err := t.q.Exec(ctx, `update positions set size = $2, entry_price = $3, liquidation_price = $4, take_profit = $5,
		stop_loss = $6, updated_at = $7 where id = $1`,
		p.ID, p.Size, p.EntryPrice, p.LiquidationPrice, p.TakeProfit, p.StopLoss, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeletePosition(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, "delete from positions where id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o model.Order) error {
	_, err := t.q.Exec(ctx, "insert into orders ("+orderColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		o.ID, o.UserID, o.Venue, o.Instrument, string(o.Side), string(o.Direction), string(o.Role), string(o.Purpose),
		o.Notional, o.Price, o.LockedMargin, o.FeeRate, string(o.Status), o.FillPrice, o.Reason, o.CreatedAt,
		o.UpdatedAt, o.ExecutedAt)
	return err
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (model.Order, error) {
	return scanOrder(t.q.QueryRow(ctx, "select "+orderColumns+" from orders where id = $1 for update", id))
}

func (t *pgTx) UpdateOrder(ctx context.Context, o model.Order) error {
	tag, err := t.q.Exec(ctx, `update orders set status = $2, locked_margin = $3, fill_price = $4, reason = $5,
		updated_at = $6, executed_at = $7 where id = $1`,
		o.ID, string(o.Status), o.LockedMargin, o.FillPrice, o.Reason, o.UpdatedAt, o.ExecutedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListAccountOrders(ctx context.Context, key model.AccountKey, status types.OrderStatus) ([]model.Order, error) {
	return listAccountOrders(ctx, t.q, key, status)
}

func (t *pgTx) InsertLoan(ctx context.Context, l model.Loan) error {
	_, err := t.q.Exec(ctx, "insert into loans ("+loanColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.UserID, l.Venue, l.Principal, l.Debt, l.Rate, l.LastAccrual, string(l.Status), l.CreatedAt, l.RepaidAt)
	return err
}

func (t *pgTx) UpdateLoan(ctx context.Context, l model.Loan) error {
	tag, err := t.q.Exec(ctx, "update loans set debt = $2, last_accrual = $3, status = $4, repaid_at = $5 where id = $1",
		l.ID, l.Debt, l.LastAccrual, string(l.Status), l.RepaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListLoans(ctx context.Context, key model.AccountKey, status types.LoanStatus) ([]model.Loan, error) {
	return listLoans(ctx, t.q, key, status)
}

func (t *pgTx) InsertTrade(ctx context.Context, tr model.Trade) error {
	_, err := t.q.Exec(ctx, `insert into trades (id, user_id, venue, order_id, instrument, side, kind, notional, price, fee,
		realized_pnl, created_at) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tr.ID, tr.UserID, tr.Venue, tr.OrderID, tr.Instrument, string(tr.Side), string(tr.Kind), tr.Notional, tr.Price,
		tr.Fee, tr.RealizedPnL, tr.CreatedAt)
	return err
}
