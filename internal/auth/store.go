package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryUserStore keeps users in process memory.
type MemoryUserStore struct {
	mu      sync.RWMutex
	nextID  int64
	byEmail map[string]User
}

// NewMemoryUserStore creates an empty store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{nextID: 1, byEmail: make(map[string]User)}
}

// Create stores u under its email, failing with ErrUserExists on a duplicate.
func (m *MemoryUserStore) Create(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[u.Email]; exists {
		return User{}, ErrUserExists
	}
	u.ID = m.nextID
	m.nextID++
	m.byEmail[u.Email] = u
	return u, nil
}

// FindByEmail returns the user or ErrUserNotFound.
func (m *MemoryUserStore) FindByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// SQLUserStore keeps users in the users table.
type SQLUserStore struct {
	db *sqlx.DB
}

// NewSQLUserStore wraps an open database whose schema has been applied.
func NewSQLUserStore(db *sqlx.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

// Create inserts u; a unique-email violation becomes ErrUserExists.
func (s *SQLUserStore) Create(ctx context.Context, u User) (User, error) {
	const insert = `INSERT INTO users (firstname, lastname, email, password) VALUES (?, ?, ?, ?)`
	if s.db.DriverName() == "postgres" {
		err := s.db.QueryRowxContext(ctx, s.db.Rebind(insert+` RETURNING id`),
			u.FirstName, u.LastName, u.Email, u.PasswordHash).Scan(&u.ID)
		if err != nil {
			return User{}, translateInsertError(err)
		}
		return u, nil
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(insert), u.FirstName, u.LastName, u.Email, u.PasswordHash)
	if err != nil {
		return User{}, translateInsertError(err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// FindByEmail returns the user or ErrUserNotFound.
func (s *SQLUserStore) FindByEmail(ctx context.Context, email string) (User, error) {
	var u User
	query := s.db.Rebind(`SELECT id, firstname, lastname, email, password FROM users WHERE email = ?`)
	if err := s.db.GetContext(ctx, &u, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func translateInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrUserExists
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE")) {
			return ErrUserExists
		}
	}
	return fmt.Errorf("create user: %w", err)
}
