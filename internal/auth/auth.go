// Package auth registers users, verifies passwords and issues bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMissingFields is returned when a registration field is blank.
	ErrMissingFields = errors.New("all fields are required")
	// ErrUserExists is returned when the email is already registered.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no account has the email.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidPassword is returned when the password does not match the stored hash.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidToken is returned for tokens that are malformed, expired or signed with another key.
	ErrInvalidToken = errors.New("invalid token")
)

// User is a registered account. PasswordHash never leaves the service.
type User struct {
	ID           int64  `json:"id" db:"id"`
	FirstName    string `json:"firstname" db:"firstname"`
	LastName     string `json:"lastname" db:"lastname"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password"`
}

// UserStore persists users. Create returns ErrUserExists on a duplicate email.
type UserStore interface {
	Create(ctx context.Context, u User) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
}

// Claims is the token payload.
type Claims struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Options configures a Service.
type Options struct {
	Secret   string
	TokenTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

// Service implements registration, login and token verification.
type Service struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// NewService builds an auth service over users.
func NewService(users UserStore, opts Options) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if opts.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		users:  users,
		secret: []byte(opts.Secret),
		ttl:    opts.TokenTTL,
		cost:   opts.BcryptCost,
		now:    opts.Now,
	}, nil
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	email := NormalizeEmail(in.Email)
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if first == "" || last == "" || email == "" || in.Password == "" {
		return User{}, ErrMissingFields
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	return s.users.Create(ctx, User{
		FirstName:    first,
		LastName:     last,
		Email:        email,
		PasswordHash: string(hash),
	})
}

// LoginResult carries the issued token and the user's profile.
type LoginResult struct {
	Token string
	User  User
}

// Login verifies the password and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return LoginResult{}, ErrUserNotFound
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidPassword
	}
	token, err := s.IssueToken(u)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, User: u}, nil
}

// IssueToken signs an HS256 token for u.
func (s *Service) IssueToken(u User) (string, error) {
	now := s.now()
	claims := Claims{
		ID:    u.ID,
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ParseToken validates a token and returns its claims.
func (s *Service) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: missing email claim", ErrInvalidToken)
	}
	return claims, nil
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
