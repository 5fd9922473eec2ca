package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Roles stored on the user record. Anything other than RoleAdmin is treated
// as a standard customer.
const (
	RoleUser  int16 = 0
	RoleAdmin int16 = 1
)

// User represents an authenticated principal returned to handlers.
type User struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	Address   string
	Role      int16
	CreatedAt time.Time
}

var (
	// ErrEmailNotRegistered is returned when no account exists for the email.
	ErrEmailNotRegistered = errors.New("email is not registered")
	// ErrInvalidPassword is returned when the password does not match.
	ErrInvalidPassword = errors.New("invalid password")
)

// AuthService defines authentication behaviour.
type AuthService interface {
	Authenticate(ctx context.Context, email, password string) (User, error)
}

// RepositoryAuthService verifies credentials against the user repository.
type RepositoryAuthService struct {
	users UserRepository
}

func NewRepositoryAuthService(users UserRepository) *RepositoryAuthService {
	return &RepositoryAuthService{users: users}
}

// Authenticate looks up the account by email and checks the password hash.
// The two failure modes are distinguished for the login handler's messages.
func (s *RepositoryAuthService) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return User{}, ErrEmailNotRegistered
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil || u == nil {
		return User{}, ErrEmailNotRegistered
	}

	if !CheckPassword(password, u.PasswordHash) {
		return User{}, ErrInvalidPassword
	}
	return User{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Address:   u.Address,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}, nil
}
