package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Order statuses. An order starts pending, moves to processing once payment
// is settled and stock reserved, then shipped and delivered; cancellation is
// allowed any time before shipping.
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

var orderTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

// ValidOrderStatus reports whether s is a known status value.
func ValidOrderStatus(s string) bool {
	_, ok := orderTransitions[s]
	return ok
}

// ValidOrderTransition reports whether from -> to is an allowed move.
func ValidOrderTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order represents order metadata stored in DB.
type Order struct {
	ID         int64
	UserID     int64
	PaymentRef string
	TotalCents int64
	Status     string
	CreatedAt  time.Time
}

// OrderItem is a purchased line with the unit price frozen at checkout time.
type OrderItem struct {
	ProductID      int64  `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
}

// OrderCreateInput represents a new order and all items to insert atomically.
type OrderCreateInput struct {
	UserID     int64
	PaymentRef string
	TotalCents int64
	Items      []OrderItem
}

// OrderListItem is a flattened view for list endpoints.
type OrderListItem struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	BuyerName  string    `json:"buyer_name"`
	Status     string    `json:"status"`
	TotalCents int64     `json:"total_cents"`
	ItemCount  int       `json:"item_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OrderDetailView is a projection for single-order responses.
type OrderDetailView struct {
	ID         int64       `json:"id"`
	UserID     int64       `json:"user_id"`
	BuyerName  string      `json:"buyer_name"`
	Status     string      `json:"status"`
	PaymentRef string      `json:"payment_ref"`
	TotalCents int64       `json:"total_cents"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Items      []OrderItem `json:"items"`
}

// OrderRepository defines persistence operations needed by API and worker.
type OrderRepository interface {
	Create(ctx context.Context, input OrderCreateInput) (int64, time.Time, error)
	Delete(ctx context.Context, id int64) error
	FindByID(ctx context.Context, id int64) (*Order, error)
	FindWithItems(ctx context.Context, id int64) (*OrderDetailView, error)
	ListItems(ctx context.Context, id int64) ([]OrderItem, error)
	AcquirePending(ctx context.Context, id int64) (*Order, error)
	MarkStatus(ctx context.Context, id int64, status string) error
	UpdateStatus(ctx context.Context, id int64, status string) (*Order, error)
	IncrementRetry(ctx context.Context, id int64) (int, error)
	CountByUser(ctx context.Context, userID int64) (int, error)
	ListByUser(ctx context.Context, userID int64, page, perPage int) ([]OrderListItem, int, error)
	AdminList(ctx context.Context, status *string, page, perPage int) ([]OrderListItem, int, error)
}

var (
	ErrOrderNotPending     = errors.New("order not pending")
	ErrInvalidOrderStatus  = errors.New("invalid order status")
	ErrForbiddenTransition = errors.New("order status transition not allowed")
)

// PgOrderRepository is a pgx implementation.
// NOTE: Expects tables `orders` and `order_items` to exist.
type PgOrderRepository struct {
	db *pgxpool.Pool
}

func NewPgOrderRepository(db *pgxpool.Pool) *PgOrderRepository {
	return &PgOrderRepository{db: db}
}

// Create inserts an order and all its items in a single transaction.
func (r *PgOrderRepository) Create(ctx context.Context, input OrderCreateInput) (int64, time.Time, error) {
	if len(input.Items) == 0 {
		return 0, time.Time{}, errors.New("at least one order item is required")
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, time.Time{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	var created time.Time
	const q = `INSERT INTO orders (user_id, payment_ref, total_cents, status)
VALUES ($1,$2,$3,'pending') RETURNING id, created_at`
	if err := tx.QueryRow(ctx, q, input.UserID, input.PaymentRef, input.TotalCents).Scan(&id, &created); err != nil {
		return 0, time.Time{}, err
	}

	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return 0, time.Time{}, errors.New("item quantity must be positive")
		}
		if _, err := tx.Exec(ctx, `INSERT INTO order_items (order_id, product_id, name, unit_price_cents, quantity)
VALUES ($1,$2,$3,$4,$5)`, id, item.ProductID, item.Name, item.UnitPriceCents, item.Quantity); err != nil {
			return 0, time.Time{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, time.Time{}, err
	}
	return id, created, nil
}

func (r *PgOrderRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	return err
}

func (r *PgOrderRepository) FindByID(ctx context.Context, id int64) (*Order, error) {
	const q = `SELECT id, user_id, payment_ref, total_cents, status, created_at FROM orders WHERE id=$1`
	var o Order
	if err := r.db.QueryRow(ctx, q, id).Scan(&o.ID, &o.UserID, &o.PaymentRef, &o.TotalCents, &o.Status, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PgOrderRepository) ListItems(ctx context.Context, id int64) ([]OrderItem, error) {
	const q = `SELECT product_id, name, unit_price_cents, quantity FROM order_items WHERE order_id=$1 ORDER BY id`
	rows, err := r.db.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.UnitPriceCents, &item.Quantity); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *PgOrderRepository) FindWithItems(ctx context.Context, id int64) (*OrderDetailView, error) {
	const q = `
SELECT o.id, o.user_id, u.name, o.status, o.payment_ref, o.total_cents, o.created_at, o.updated_at
FROM orders o
JOIN users u ON u.id = o.user_id
WHERE o.id=$1`
	var v OrderDetailView
	if err := r.db.QueryRow(ctx, q, id).Scan(
		&v.ID, &v.UserID, &v.BuyerName, &v.Status, &v.PaymentRef, &v.TotalCents, &v.CreatedAt, &v.UpdatedAt,
	); err != nil {
		return nil, err
	}
	items, err := r.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	v.Items = items
	return &v, nil
}

// AcquirePending locks a pending order and transitions it to processing atomically.
func (r *PgOrderRepository) AcquirePending(ctx context.Context, id int64) (*Order, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sel = `SELECT id, user_id, payment_ref, total_cents, status, created_at FROM orders WHERE id=$1 FOR UPDATE`
	var o Order
	if err := tx.QueryRow(ctx, sel, id).Scan(&o.ID, &o.UserID, &o.PaymentRef, &o.TotalCents, &o.Status, &o.CreatedAt); err != nil {
		return nil, err
	}
	if o.Status != OrderStatusPending {
		return nil, ErrOrderNotPending
	}

	const upd = `UPDATE orders SET status='processing', updated_at=NOW() WHERE id=$1`
	if _, err := tx.Exec(ctx, upd, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	o.Status = OrderStatusProcessing
	return &o, nil
}

// MarkStatus force-sets a status without transition validation; worker use only.
func (r *PgOrderRepository) MarkStatus(ctx context.Context, id int64, status string) error {
	if status == "" {
		return errors.New("status is empty")
	}
	const q = `UPDATE orders SET status=$1, updated_at=NOW() WHERE id=$2`
	ct, err := r.db.Exec(ctx, q, status, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("order not found")
	}
	return nil
}

// UpdateStatus validates the transition against the current status before
// applying it. Used by the admin order-status endpoint.
func (r *PgOrderRepository) UpdateStatus(ctx context.Context, id int64, status string) (*Order, error) {
	if !ValidOrderStatus(status) {
		return nil, ErrInvalidOrderStatus
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const sel = `SELECT id, user_id, payment_ref, total_cents, status, created_at FROM orders WHERE id=$1 FOR UPDATE`
	var o Order
	if err := tx.QueryRow(ctx, sel, id).Scan(&o.ID, &o.UserID, &o.PaymentRef, &o.TotalCents, &o.Status, &o.CreatedAt); err != nil {
		return nil, err
	}
	if !ValidOrderTransition(o.Status, status) {
		return nil, ErrForbiddenTransition
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$1, updated_at=NOW() WHERE id=$2`, status, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	o.Status = status
	return &o, nil
}

// IncrementRetry increments retry_count and returns the latest value.
func (r *PgOrderRepository) IncrementRetry(ctx context.Context, id int64) (int, error) {
	const q = `UPDATE orders SET retry_count = retry_count + 1, updated_at=NOW() WHERE id=$1 RETURNING retry_count`
	var count int
	if err := r.db.QueryRow(ctx, q, id).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PgOrderRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	const q = `SELECT COUNT(*) FROM orders WHERE user_id=$1`
	var c int
	if err := r.db.QueryRow(ctx, q, userID).Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}

const orderListSelect = `
SELECT o.id, o.user_id, u.name, o.status, o.total_cents,
       (SELECT COUNT(*) FROM order_items oi WHERE oi.order_id = o.id) AS item_count,
       o.created_at, o.updated_at
FROM orders o
JOIN users u ON u.id = o.user_id`

func (r *PgOrderRepository) ListByUser(ctx context.Context, userID int64, page, perPage int) ([]OrderListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	const countQuery = `SELECT COUNT(*) FROM orders WHERE user_id=$1`
	var total int
	if err := r.db.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := orderListSelect + `
WHERE o.user_id=$1
ORDER BY o.created_at DESC
LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return scanOrderList(rows, perPage, total)
}

// AdminList returns all orders, optionally narrowed to one status.
func (r *PgOrderRepository) AdminList(ctx context.Context, status *string, page, perPage int) ([]OrderListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}

	filters := []string{"TRUE"}
	var args []interface{}
	if status != nil && strings.TrimSpace(*status) != "" {
		if !ValidOrderStatus(*status) {
			return nil, 0, ErrInvalidOrderStatus
		}
		filters = append(filters, fmt.Sprintf("o.status=$%d", len(args)+1))
		args = append(args, *status)
	}
	where := strings.Join(filters, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM orders o WHERE %s`, where)
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`%s
WHERE %s
ORDER BY o.created_at DESC
LIMIT $%d OFFSET $%d`, orderListSelect, where, len(args)+1, len(args)+2)
	argsWithPage := append(append([]interface{}{}, args...), perPage, (page-1)*perPage)
	rows, err := r.db.Query(ctx, query, argsWithPage...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return scanOrderList(rows, perPage, total)
}

func scanOrderList(rows pgx.Rows, perPage, total int) ([]OrderListItem, int, error) {
	items := make([]OrderListItem, 0, perPage)
	for rows.Next() {
		var v OrderListItem
		if err := rows.Scan(&v.ID, &v.UserID, &v.BuyerName, &v.Status, &v.TotalCents, &v.ItemCount, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}
