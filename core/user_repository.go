package core

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRecord is the credential projection stored in the persistence layer.
// The id is immutable once created; the password hash is never plaintext.
type UserRecord struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Phone        string
	Address      string
	Answer       string
	Role         int16
	CreatedAt    time.Time
}

// AdminUserListItem is a projection for admin user listing (no password hash,
// no recovery answer).
type AdminUserListItem struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Role      int16     `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserCreateInput holds fields required at registration.
type UserCreateInput struct {
	Name         string
	Email        string
	PasswordHash string
	Phone        string
	Address      string
	Answer       string
	Role         int16
}

// ProfileUpdateInput holds mutable profile fields; nil means keep current.
type ProfileUpdateInput struct {
	Name         *string
	PasswordHash *string
	Phone        *string
	Address      *string
}

// UserRepository defines persistence operations for the credential store.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id int64) (*UserRecord, error)
	Create(ctx context.Context, input UserCreateInput) (int64, error)
	UpdateProfile(ctx context.Context, id int64, input ProfileUpdateInput) error
	ResetPassword(ctx context.Context, email, answer, passwordHash string) error
	HasAdmin(ctx context.Context) (bool, error)
	List(ctx context.Context, page, perPage int) ([]AdminUserListItem, int, error)
}

// ErrAnswerMismatch is returned by ResetPassword when the recovery answer is wrong.
var ErrAnswerMismatch = errors.New("recovery answer mismatch")

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (*UserRecord, error) {
	const q = `SELECT id, name, email, password_hash, phone, address, answer, role, created_at FROM users WHERE email=$1`
	var u UserRecord
	if err := r.db.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(email))).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Phone, &u.Address, &u.Answer, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) FindByID(ctx context.Context, id int64) (*UserRecord, error) {
	const q = `SELECT id, name, email, password_hash, phone, address, answer, role, created_at FROM users WHERE id=$1`
	var u UserRecord
	if err := r.db.QueryRow(ctx, q, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Phone, &u.Address, &u.Answer, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) Create(ctx context.Context, input UserCreateInput) (int64, error) {
	const q = `INSERT INTO users (name, email, password_hash, phone, address, answer, role)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`
	var id int64
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if err := r.db.QueryRow(ctx, q, input.Name, email, input.PasswordHash, input.Phone, input.Address, input.Answer, input.Role).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateProfile updates the provided fields only. The id and email are immutable here.
func (r *PgUserRepository) UpdateProfile(ctx context.Context, id int64, input ProfileUpdateInput) error {
	var sets []string
	var args []any

	if input.Name != nil {
		sets = append(sets, "name=$"+strconv.Itoa(len(args)+1))
		args = append(args, strings.TrimSpace(*input.Name))
	}
	if input.PasswordHash != nil {
		sets = append(sets, "password_hash=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.PasswordHash)
	}
	if input.Phone != nil {
		sets = append(sets, "phone=$"+strconv.Itoa(len(args)+1))
		args = append(args, strings.TrimSpace(*input.Phone))
	}
	if input.Address != nil {
		sets = append(sets, "address=$"+strconv.Itoa(len(args)+1))
		args = append(args, strings.TrimSpace(*input.Address))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := "UPDATE users SET " + strings.Join(sets, ", ") + ", updated_at=NOW() WHERE id=$" + strconv.Itoa(len(args))
	ct, err := r.db.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ResetPassword replaces the hash when email and recovery answer both match.
// A single conditional UPDATE keeps the identity proof and the write atomic.
func (r *PgUserRepository) ResetPassword(ctx context.Context, email, answer, passwordHash string) error {
	const q = `UPDATE users SET password_hash=$1, updated_at=NOW() WHERE email=$2 AND answer=$3`
	ct, err := r.db.Exec(ctx, q, passwordHash, strings.ToLower(strings.TrimSpace(email)), strings.TrimSpace(answer))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrAnswerMismatch
	}
	return nil
}

func (r *PgUserRepository) HasAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM users WHERE role=1 LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns paginated users without credential material.
func (r *PgUserRepository) List(ctx context.Context, page, perPage int) ([]AdminUserListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	const countQ = `SELECT COUNT(*) FROM users`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, name, email, phone, role, created_at FROM users ORDER BY id LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]AdminUserListItem, 0, perPage)
	for rows.Next() {
		var u AdminUserListItem
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
