package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CategoryRepository interface {
	List(ctx context.Context) ([]Category, error)
	FindBySlug(ctx context.Context, slug string) (*Category, error)
	FindByID(ctx context.Context, id int64) (*Category, error)
	Create(ctx context.Context, name, slug string) (*Category, error)
	Update(ctx context.Context, id int64, name, slug string) (*Category, error)
	Delete(ctx context.Context, id int64) error
}

type PgCategoryRepository struct {
	db *pgxpool.Pool
}

func NewPgCategoryRepository(db *pgxpool.Pool) *PgCategoryRepository {
	return &PgCategoryRepository{db: db}
}

func (r *PgCategoryRepository) List(ctx context.Context) ([]Category, error) {
	const q = `SELECT id, name, slug, created_at, updated_at FROM categories ORDER BY name`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var cat Category
		if err := rows.Scan(&cat.ID, &cat.Name, &cat.Slug, &cat.CreatedAt, &cat.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, cat)
	}
	return out, rows.Err()
}

func (r *PgCategoryRepository) FindBySlug(ctx context.Context, slug string) (*Category, error) {
	const q = `SELECT id, name, slug, created_at, updated_at FROM categories WHERE slug=$1`
	var cat Category
	if err := r.db.QueryRow(ctx, q, slug).Scan(&cat.ID, &cat.Name, &cat.Slug, &cat.CreatedAt, &cat.UpdatedAt); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (r *PgCategoryRepository) FindByID(ctx context.Context, id int64) (*Category, error) {
	const q = `SELECT id, name, slug, created_at, updated_at FROM categories WHERE id=$1`
	var cat Category
	if err := r.db.QueryRow(ctx, q, id).Scan(&cat.ID, &cat.Name, &cat.Slug, &cat.CreatedAt, &cat.UpdatedAt); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (r *PgCategoryRepository) Create(ctx context.Context, name, slug string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" || slug == "" {
		return nil, errors.New("name and slug are required")
	}
	const q = `INSERT INTO categories (name, slug) VALUES ($1,$2) RETURNING id, created_at, updated_at`
	var cat Category
	if err := r.db.QueryRow(ctx, q, name, slug).Scan(&cat.ID, &cat.CreatedAt, &cat.UpdatedAt); err != nil {
		return nil, err
	}
	cat.Name = name
	cat.Slug = slug
	return &cat, nil
}

func (r *PgCategoryRepository) Update(ctx context.Context, id int64, name, slug string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" || slug == "" {
		return nil, errors.New("name and slug are required")
	}
	const q = `UPDATE categories SET name=$1, slug=$2, updated_at=NOW() WHERE id=$3 RETURNING id, created_at, updated_at`
	var cat Category
	if err := r.db.QueryRow(ctx, q, name, slug, id).Scan(&cat.ID, &cat.CreatedAt, &cat.UpdatedAt); err != nil {
		return nil, err
	}
	cat.Name = name
	cat.Slug = slug
	return &cat, nil
}

func (r *PgCategoryRepository) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM categories WHERE id=$1`
	ct, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
