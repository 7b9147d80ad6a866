package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/domain"
)

const orderColumns = `id, account_id, amount, tax, shipping, currency, status,
	gateway_order_id, COALESCE(gateway_payment_id, ''), created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create writes the order and its lines in one transaction and assigns the
// order id.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, account_id, amount, tax, shipping, currency, status, gateway_order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, order.ID, order.AccountID, order.Amount, order.Tax, order.Shipping, order.Currency,
		order.Status, order.GatewayOrderID, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New().String(), order.ID, i, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	order.UpdatedAt = order.CreatedAt
	return tx.Commit()
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_id = $1`, gatewayOrderID)
}

func (r *OrderRepository) ListForAccount(ctx context.Context, accountID string) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
}

func (r *OrderRepository) ListAll(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

// MarkPaid moves a Pending order to Paid. It returns nil, nil when no
// Pending order carries gatewayOrderID.
func (r *OrderRepository) MarkPaid(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Order, error) {
	return r.transition(ctx, `
		UPDATE orders
		SET status = $2, gateway_payment_id = $3, updated_at = NOW()
		WHERE gateway_order_id = $1 AND status = $4
		RETURNING `+orderColumns,
		gatewayOrderID, domain.OrderStatusPaid, gatewayPaymentID, domain.OrderStatusPending)
}

// MarkFailed moves a Pending order to Failed. It returns nil, nil when no
// Pending order carries gatewayOrderID.
func (r *OrderRepository) MarkFailed(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	return r.transition(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE gateway_order_id = $1 AND status = $3
		RETURNING `+orderColumns,
		gatewayOrderID, domain.OrderStatusFailed, domain.OrderStatusPending)
}

// transition runs a conditional status update and loads the order's lines in
// one transaction, so the status only changes when the full order can be
// returned to the caller.
func (r *OrderRepository) transition(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := findOne(ctx, tx, query, args...)
	if err != nil || order == nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	return findOne(ctx, r.db, query, args...)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findOne(ctx context.Context, q querier, query string, args ...any) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	orders := []domain.Order{*order}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}

	return &orders[0], nil
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := attachItems(ctx, r.db, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// attachItems loads every line for orders in a single query.
func attachItems(ctx context.Context, q querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	index := make(map[string]int, len(orders))
	ids := make([]string, 0, len(orders))
	for i := range orders {
		orders[i].Items = []domain.OrderLineItem{}
		index[orders[i].ID] = i
		ids = append(ids, orders[i].ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderLineItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	err := row.Scan(&order.ID, &order.AccountID, &order.Amount, &order.Tax, &order.Shipping,
		&order.Currency, &order.Status, &order.GatewayOrderID, &order.GatewayPaymentID,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}
