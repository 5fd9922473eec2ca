package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProductMeta is the public list projection; descriptions are fetched per detail.
type ProductMeta struct {
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	PriceCents int64     `json:"price_cents"`
	Quantity   int       `json:"quantity"`
	Shipping   bool      `json:"shipping"`
	PhotoURL   string    `json:"photo_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ProductDetail struct {
	ProductMeta
	Description  string `json:"description"`
	CategoryName string `json:"category_name"`
	CategorySlug string `json:"category_slug"`
}

// ProductFilter narrows the public listing. Zero values mean "no constraint".
type ProductFilter struct {
	CategoryIDs   []int64
	PriceMinCents int64
	PriceMaxCents int64
}

// AdminProductListItem carries sales counts for the admin catalogue view.
type AdminProductListItem struct {
	ID         int64  `json:"id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
	OrderCount int    `json:"order_count"`
}

// ProductCreateInput holds all fields needed to insert a product.
type ProductCreateInput struct {
	CategoryID  int64
	Name        string
	Slug        string
	Description string
	PriceCents  int64
	Quantity    int
	Shipping    bool
	PhotoURL    string
}

// ProductUpdateInput holds mutable fields; nil means keep current.
type ProductUpdateInput struct {
	CategoryID  *int64
	Name        *string
	Slug        *string
	Description *string
	PriceCents  *int64
	Quantity    *int
	Shipping    *bool
	PhotoURL    *string
}

// SaleItem is the price/stock snapshot used for server-side total computation.
type SaleItem struct {
	ID         int64
	Name       string
	PriceCents int64
	Quantity   int
}

type ProductRepository interface {
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, page, perPage int) ([]ProductMeta, int, error)
	Count(ctx context.Context) (int, error)
	FindBySlug(ctx context.Context, slug string) (*ProductDetail, error)
	FindByID(ctx context.Context, id int64) (*ProductDetail, error)
	Filter(ctx context.Context, filter ProductFilter, page, perPage int) ([]ProductMeta, int, error)
	Search(ctx context.Context, keyword string, limit int) ([]ProductMeta, error)
	Related(ctx context.Context, productID, categoryID int64, limit int) ([]ProductMeta, error)
	ListByCategory(ctx context.Context, categoryID int64) ([]ProductMeta, error)
	Create(ctx context.Context, input ProductCreateInput) (int64, error)
	Update(ctx context.Context, id int64, input ProductUpdateInput) error
	Delete(ctx context.Context, id int64) error
	GetForSale(ctx context.Context, ids []int64) (map[int64]SaleItem, error)
	DecrementStock(ctx context.Context, id int64, qty int) error
	RestoreStock(ctx context.Context, id int64, qty int) error
	AdminList(ctx context.Context, page, perPage int) ([]AdminProductListItem, int, error)
}

// ErrInsufficientStock is returned when a stock decrement would go negative.
var ErrInsufficientStock = errors.New("insufficient stock")

type PgProductRepository struct {
	db *pgxpool.Pool
}

func NewPgProductRepository(db *pgxpool.Pool) *PgProductRepository {
	return &PgProductRepository{db: db}
}

const productMetaColumns = `id, category_id, name, slug, price_cents, quantity, shipping, COALESCE(photo_url,''), created_at`

func scanProductMeta(row pgx.Row) (ProductMeta, error) {
	var p ProductMeta
	err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Slug, &p.PriceCents, &p.Quantity, &p.Shipping, &p.PhotoURL, &p.CreatedAt)
	return p, err
}

func (r *PgProductRepository) Exists(ctx context.Context, id int64) (bool, error) {
	const q = `SELECT 1 FROM products WHERE id=$1`
	var one int
	if err := r.db.QueryRow(ctx, q, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *PgProductRepository) List(ctx context.Context, page, perPage int) ([]ProductMeta, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	q := `SELECT ` + productMetaColumns + ` FROM products ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, q, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]ProductMeta, 0, perPage)
	for rows.Next() {
		p, err := scanProductMeta(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *PgProductRepository) Count(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM products`
	var c int
	if err := r.db.QueryRow(ctx, q).Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}

func (r *PgProductRepository) findDetail(ctx context.Context, where string, arg any) (*ProductDetail, error) {
	q := `
SELECT p.id, p.category_id, p.name, p.slug, p.price_cents, p.quantity, p.shipping,
       COALESCE(p.photo_url,''), p.created_at, p.description, c.name, c.slug
FROM products p
JOIN categories c ON c.id = p.category_id
WHERE ` + where
	var d ProductDetail
	if err := r.db.QueryRow(ctx, q, arg).Scan(
		&d.ID, &d.CategoryID, &d.Name, &d.Slug, &d.PriceCents, &d.Quantity, &d.Shipping,
		&d.PhotoURL, &d.CreatedAt, &d.Description, &d.CategoryName, &d.CategorySlug,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgProductRepository) FindBySlug(ctx context.Context, slug string) (*ProductDetail, error) {
	return r.findDetail(ctx, "p.slug=$1", slug)
}

func (r *PgProductRepository) FindByID(ctx context.Context, id int64) (*ProductDetail, error) {
	return r.findDetail(ctx, "p.id=$1", id)
}

// Filter applies category and price-range constraints with pagination.
func (r *PgProductRepository) Filter(ctx context.Context, filter ProductFilter, page, perPage int) ([]ProductMeta, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}

	filters := []string{"TRUE"}
	var args []interface{}
	if len(filter.CategoryIDs) > 0 {
		filters = append(filters, fmt.Sprintf("category_id = ANY($%d)", len(args)+1))
		args = append(args, filter.CategoryIDs)
	}
	if filter.PriceMinCents > 0 {
		filters = append(filters, fmt.Sprintf("price_cents >= $%d", len(args)+1))
		args = append(args, filter.PriceMinCents)
	}
	if filter.PriceMaxCents > 0 {
		filters = append(filters, fmt.Sprintf("price_cents <= $%d", len(args)+1))
		args = append(args, filter.PriceMaxCents)
	}
	where := strings.Join(filters, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM products WHERE %s`, where)
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		productMetaColumns, where, len(args)+1, len(args)+2)
	argsWithPage := append(append([]interface{}{}, args...), perPage, (page-1)*perPage)
	rows, err := r.db.Query(ctx, query, argsWithPage...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]ProductMeta, 0, perPage)
	for rows.Next() {
		p, err := scanProductMeta(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *PgProductRepository) Search(ctx context.Context, keyword string, limit int) ([]ProductMeta, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, errors.New("empty search keyword")
	}
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + productMetaColumns + ` FROM products
WHERE name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, q, keyword, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductMeta
	for rows.Next() {
		p, err := scanProductMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Related returns other products in the same category, newest first.
func (r *PgProductRepository) Related(ctx context.Context, productID, categoryID int64, limit int) ([]ProductMeta, error) {
	if limit <= 0 {
		limit = 3
	}
	q := `SELECT ` + productMetaColumns + ` FROM products
WHERE category_id=$1 AND id<>$2 ORDER BY created_at DESC LIMIT $3`
	rows, err := r.db.Query(ctx, q, categoryID, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductMeta
	for rows.Next() {
		p, err := scanProductMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PgProductRepository) ListByCategory(ctx context.Context, categoryID int64) ([]ProductMeta, error) {
	q := `SELECT ` + productMetaColumns + ` FROM products WHERE category_id=$1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, q, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductMeta
	for rows.Next() {
		p, err := scanProductMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PgProductRepository) Create(ctx context.Context, input ProductCreateInput) (int64, error) {
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Slug) == "" {
		return 0, errors.New("name and slug are required")
	}
	if input.PriceCents < 0 || input.Quantity < 0 {
		return 0, errors.New("price and quantity must not be negative")
	}
	const q = `INSERT INTO products (category_id, name, slug, description, price_cents, quantity, shipping, photo_url)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, input.CategoryID, strings.TrimSpace(input.Name), input.Slug,
		input.Description, input.PriceCents, input.Quantity, input.Shipping, nullIfEmpty(input.PhotoURL)).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Update mutates the provided fields of a product only.
func (r *PgProductRepository) Update(ctx context.Context, id int64, input ProductUpdateInput) error {
	var sets []string
	var args []any

	if input.CategoryID != nil {
		sets = append(sets, "category_id=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.CategoryID)
	}
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return errors.New("name must not be empty")
		}
		sets = append(sets, "name=$"+strconv.Itoa(len(args)+1))
		args = append(args, strings.TrimSpace(*input.Name))
	}
	if input.Slug != nil {
		if *input.Slug == "" {
			return errors.New("slug must not be empty")
		}
		sets = append(sets, "slug=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.Slug)
	}
	if input.Description != nil {
		sets = append(sets, "description=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.Description)
	}
	if input.PriceCents != nil {
		if *input.PriceCents < 0 {
			return errors.New("price_cents must not be negative")
		}
		sets = append(sets, "price_cents=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.PriceCents)
	}
	if input.Quantity != nil {
		if *input.Quantity < 0 {
			return errors.New("quantity must not be negative")
		}
		sets = append(sets, "quantity=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.Quantity)
	}
	if input.Shipping != nil {
		sets = append(sets, "shipping=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.Shipping)
	}
	if input.PhotoURL != nil {
		sets = append(sets, "photo_url=$"+strconv.Itoa(len(args)+1))
		args = append(args, nullIfEmpty(*input.PhotoURL))
	}

	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := "UPDATE products SET " + strings.Join(sets, ", ") + ", updated_at=NOW() WHERE id=$" + strconv.Itoa(len(args))
	ct, err := r.db.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgProductRepository) Delete(ctx context.Context, id int64) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetForSale loads the current price and stock for the requested ids.
// Missing ids are simply absent from the result map.
func (r *PgProductRepository) GetForSale(ctx context.Context, ids []int64) (map[int64]SaleItem, error) {
	if len(ids) == 0 {
		return nil, errors.New("no product ids")
	}
	const q = `SELECT id, name, price_cents, quantity FROM products WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]SaleItem, len(ids))
	for rows.Next() {
		var s SaleItem
		if err := rows.Scan(&s.ID, &s.Name, &s.PriceCents, &s.Quantity); err != nil {
			return nil, err
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

// DecrementStock subtracts qty atomically; the conditional UPDATE guarantees
// the quantity never goes negative under concurrent fulfillment.
func (r *PgProductRepository) DecrementStock(ctx context.Context, id int64, qty int) error {
	if qty <= 0 {
		return errors.New("quantity must be positive")
	}
	const q = `UPDATE products SET quantity = quantity - $1, updated_at=NOW() WHERE id=$2 AND quantity >= $1`
	ct, err := r.db.Exec(ctx, q, qty, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// RestoreStock puts qty back after a partial fulfillment is rolled back.
func (r *PgProductRepository) RestoreStock(ctx context.Context, id int64, qty int) error {
	if qty <= 0 {
		return errors.New("quantity must be positive")
	}
	const q = `UPDATE products SET quantity = quantity + $1, updated_at=NOW() WHERE id=$2`
	_, err := r.db.Exec(ctx, q, qty, id)
	return err
}

// AdminList returns all products with how many orders each appears in.
func (r *PgProductRepository) AdminList(ctx context.Context, page, perPage int) ([]AdminProductListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	const q = `
SELECT p.id, p.slug, p.name, p.price_cents, p.quantity,
       COALESCE(COUNT(oi.id),0) AS order_count
FROM products p
LEFT JOIN order_items oi ON oi.product_id = p.id
GROUP BY p.id
ORDER BY p.id
LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, q, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []AdminProductListItem
	for rows.Next() {
		var item AdminProductListItem
		if err := rows.Scan(&item.ID, &item.Slug, &item.Name, &item.PriceCents, &item.Quantity, &item.OrderCount); err != nil {
			return nil, 0, err
		}
		out = append(out, item)
	}
	return out, total, rows.Err()
}

func nullIfEmpty(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
