// Package store persists orders, trades, holdings, state logs and
// idempotency reservations in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"omc/internal/core"
	apperrors "omc/pkg/errors"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// schema is applied on every open. All statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    order_id        TEXT PRIMARY KEY,
    investor_id     INTEGER NOT NULL,
    asset_id        INTEGER NOT NULL,
    side            TEXT NOT NULL,
    quantity        TEXT NOT NULL,
    price           TEXT,
    status          TEXT NOT NULL,
    idempotency_key TEXT,
    ordered_at      TIMESTAMP NOT NULL,
    executed_at     TIMESTAMP,
    settled_at      TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_idempotency_key
    ON orders(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_orders_investor ON orders(investor_id, ordered_at);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS trades (
    trade_id    TEXT PRIMARY KEY,
    order_id    TEXT NOT NULL REFERENCES orders(order_id),
    investor_id INTEGER NOT NULL,
    asset_id    INTEGER NOT NULL,
    side        TEXT NOT NULL,
    quantity    TEXT NOT NULL,
    price       TEXT NOT NULL,
    traded_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);

CREATE TABLE IF NOT EXISTS holdings (
    investor_id  INTEGER NOT NULL,
    asset_id     INTEGER NOT NULL,
    quantity     TEXT NOT NULL,
    average_cost TEXT NOT NULL,
    updated_at   TIMESTAMP NOT NULL,
    PRIMARY KEY (investor_id, asset_id)
);

CREATE TABLE IF NOT EXISTS order_state_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    TEXT NOT NULL REFERENCES orders(order_id),
    from_status TEXT NOT NULL,
    to_status   TEXT NOT NULL,
    reason      TEXT NOT NULL,
    logged_by   TEXT NOT NULL,
    logged_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_logs_order ON order_state_logs(order_id);

CREATE TABLE IF NOT EXISTS idempotency_keys (
    key        TEXT PRIMARY KEY,
    order_id   TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const orderColumns = `order_id, investor_id, asset_id, side, quantity, price, status, idempotency_key, ordered_at, executed_at, settled_at`

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the
// schema. WAL mode keeps readers unblocked while a writer commits.
func NewSQLiteStore(dbPath string, busyTimeoutMS int) (*SQLiteStore, error) {
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_loc=UTC", dbPath, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Begin starts a serializable transaction. SQLite write contention surfaces
// as SQLITE_BUSY, mapped to a transient error for callers to retry.
func (s *SQLiteStore) Begin(ctx context.Context) (core.ITx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, classify(err)
	}
	return &sqliteTx{ctx: ctx, tx: tx}, nil
}

func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	return scanOrder(row)
}

func (s *SQLiteStore) ListOrdersForInvestor(ctx context.Context, investorID int64, from *time.Time) ([]*core.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE investor_id = ?`
	args := []interface{}{investorID}
	if from != nil {
		query += ` AND ordered_at >= ?`
		args = append(args, from.UTC())
	}
	query += ` ORDER BY ordered_at DESC, order_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, classify(rows.Err())
}

func (s *SQLiteStore) ListStateLogs(ctx context.Context, orderID string) ([]*core.OrderStateLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, from_status, to_status, reason, logged_by, logged_at
		 FROM order_state_logs WHERE order_id = ? ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var logs []*core.OrderStateLog
	for rows.Next() {
		rec := &core.OrderStateLog{}
		var from, to string
		if err := rows.Scan(&rec.ID, &rec.OrderID, &from, &to, &rec.Reason, &rec.LoggedBy, &rec.LoggedAt); err != nil {
			return nil, classify(err)
		}
		rec.FromStatus = core.OrderStatus(from)
		rec.ToStatus = core.OrderStatus(to)
		logs = append(logs, rec)
	}
	return logs, classify(rows.Err())
}

func (s *SQLiteStore) GetTradeForOrder(ctx context.Context, orderID string) (*core.Trade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT trade_id, order_id, investor_id, asset_id, side, quantity, price, traded_at
		 FROM trades WHERE order_id = ?`, orderID)

	trade := &core.Trade{}
	var side, qty, price string
	err := row.Scan(&trade.TradeID, &trade.OrderID, &trade.InvestorID, &trade.AssetID, &side, &qty, &price, &trade.TradedAt)
	if err != nil {
		return nil, classify(err)
	}
	trade.Side = core.OrderSide(side)
	if trade.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("%w: corrupt trade quantity %q: %v", apperrors.ErrFatal, qty, err)
	}
	if trade.ExecutionPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("%w: corrupt trade price %q: %v", apperrors.ErrFatal, price, err)
	}
	return trade, nil
}

func (s *SQLiteStore) GetHolding(ctx context.Context, investorID, assetID int64) (*core.Holding, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT investor_id, asset_id, quantity, average_cost, updated_at
		 FROM holdings WHERE investor_id = ? AND asset_id = ?`, investorID, assetID)
	return scanHolding(row)
}

func (s *SQLiteStore) ListHoldingsForInvestor(ctx context.Context, investorID int64) ([]*core.Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT investor_id, asset_id, quantity, average_cost, updated_at
		 FROM holdings WHERE investor_id = ? ORDER BY asset_id ASC`, investorID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var holdings []*core.Holding
	for rows.Next() {
		holding, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, holding)
	}
	return holdings, classify(rows.Err())
}

// ListFilledUnsettled returns orders whose settlement is still owed. The
// scheduler replays these after a restart.
func (s *SQLiteStore) ListFilledUnsettled(ctx context.Context) ([]*core.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ? AND settled_at IS NULL ORDER BY executed_at ASC`,
		string(core.StatusFilled))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, classify(rows.Err())
}

// ListInFlight returns orders still moving through the workflow. The engine
// resubmits these after a restart.
func (s *SQLiteStore) ListInFlight(ctx context.Context) ([]*core.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status IN (?, ?, ?, ?) ORDER BY ordered_at ASC`,
		string(core.StatusNew), string(core.StatusValidating), string(core.StatusValidated), string(core.StatusExecuting))
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, classify(rows.Err())
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTx carries the context it was begun with so the ITx methods stay
// context-free for callers.
type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) GetOrder(orderID string) (*core.Order, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	return scanOrder(row)
}

// PutOrder inserts the order or, if it already exists, updates the mutable
// columns. Identity columns never change after creation.
func (t *sqliteTx) PutOrder(order *core.Order) error {
	var price sql.NullString
	if order.Price.Valid {
		price = sql.NullString{String: order.Price.Decimal.String(), Valid: true}
	}
	var idemKey sql.NullString
	if order.IdempotencyKey != "" {
		idemKey = sql.NullString{String: order.IdempotencyKey, Valid: true}
	}
	var executedAt, settledAt sql.NullTime
	if order.ExecutedAt != nil {
		executedAt = sql.NullTime{Time: order.ExecutedAt.UTC(), Valid: true}
	}
	if order.SettledAt != nil {
		settledAt = sql.NullTime{Time: order.SettledAt.UTC(), Valid: true}
	}

	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
		    status      = excluded.status,
		    executed_at = excluded.executed_at,
		    settled_at  = excluded.settled_at`,
		order.OrderID, order.InvestorID, order.AssetID, string(order.Side),
		order.Quantity.String(), price, string(order.Status), idemKey,
		order.OrderedAt.UTC(), executedAt, settledAt)
	return classify(err)
}

func (t *sqliteTx) InsertTrade(trade *core.Trade) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO trades (trade_id, order_id, investor_id, asset_id, side, quantity, price, traded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.TradeID, trade.OrderID, trade.InvestorID, trade.AssetID,
		string(trade.Side), trade.Quantity.String(), trade.ExecutionPrice.String(), trade.TradedAt.UTC())
	return classify(err)
}

func (t *sqliteTx) GetHolding(investorID, assetID int64) (*core.Holding, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT investor_id, asset_id, quantity, average_cost, updated_at
		 FROM holdings WHERE investor_id = ? AND asset_id = ?`, investorID, assetID)
	return scanHolding(row)
}

func (t *sqliteTx) PutHolding(holding *core.Holding) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO holdings (investor_id, asset_id, quantity, average_cost, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(investor_id, asset_id) DO UPDATE SET
		    quantity     = excluded.quantity,
		    average_cost = excluded.average_cost,
		    updated_at   = excluded.updated_at`,
		holding.InvestorID, holding.AssetID, holding.Quantity.String(),
		holding.AverageCost.String(), holding.UpdatedAt.UTC())
	return classify(err)
}

func (t *sqliteTx) DeleteHolding(investorID, assetID int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM holdings WHERE investor_id = ? AND asset_id = ?`, investorID, assetID)
	return classify(err)
}

func (t *sqliteTx) AppendStateLog(rec *core.OrderStateLog) error {
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO order_state_logs (order_id, from_status, to_status, reason, logged_by, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.OrderID, string(rec.FromStatus), string(rec.ToStatus), rec.Reason, rec.LoggedBy, rec.LoggedAt.UTC())
	if err != nil {
		return classify(err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (t *sqliteTx) ReserveIdempotencyKey(key, orderID string) (string, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("%w: empty idempotency key", apperrors.ErrInvalidParameter)
	}
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO idempotency_keys (key, order_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING`,
		key, orderID, time.Now().UTC())
	if err != nil {
		return "", false, classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, classify(err)
	}
	if affected == 1 {
		return "", true, nil
	}

	var existingID string
	err = t.tx.QueryRowContext(t.ctx, `SELECT order_id FROM idempotency_keys WHERE key = ?`, key).Scan(&existingID)
	if err != nil {
		return "", false, classify(err)
	}
	return existingID, false, nil
}

func (t *sqliteTx) Commit() error {
	return classify(t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scannable) (*core.Order, error) {
	order := &core.Order{}
	var side, status, qty string
	var price, idemKey sql.NullString
	var executedAt, settledAt sql.NullTime

	err := row.Scan(&order.OrderID, &order.InvestorID, &order.AssetID, &side, &qty,
		&price, &status, &idemKey, &order.OrderedAt, &executedAt, &settledAt)
	if err != nil {
		return nil, classify(err)
	}

	order.Side = core.OrderSide(side)
	order.Status = core.OrderStatus(status)
	if order.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("%w: corrupt order quantity %q: %v", apperrors.ErrFatal, qty, err)
	}
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt order price %q: %v", apperrors.ErrFatal, price.String, err)
		}
		order.Price = decimal.NullDecimal{Decimal: d, Valid: true}
	}
	if idemKey.Valid {
		order.IdempotencyKey = idemKey.String
	}
	if executedAt.Valid {
		t := executedAt.Time
		order.ExecutedAt = &t
	}
	if settledAt.Valid {
		t := settledAt.Time
		order.SettledAt = &t
	}
	return order, nil
}

func scanHolding(row scannable) (*core.Holding, error) {
	holding := &core.Holding{}
	var qty, avgCost string

	err := row.Scan(&holding.InvestorID, &holding.AssetID, &qty, &avgCost, &holding.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	if holding.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("%w: corrupt holding quantity %q: %v", apperrors.ErrFatal, qty, err)
	}
	if holding.AverageCost, err = decimal.NewFromString(avgCost); err != nil {
		return nil, fmt.Errorf("%w: corrupt holding cost %q: %v", apperrors.ErrFatal, avgCost, err)
	}
	return holding, nil
}

// classify maps driver errors onto the storage error taxonomy. Callers use
// errors.Is against the apperrors sentinels to pick a recovery strategy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.ErrNotFound
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %w", apperrors.ErrConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", apperrors.ErrFatal, err)
}
