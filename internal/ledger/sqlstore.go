package ledger

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLStore keeps records in the user_vitamins table. Queries are written with
// "?" placeholders and rebound for the connection's driver.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open database whose schema has been applied.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Insert writes rec and returns it with the generated id.
func (s *SQLStore) Insert(ctx context.Context, rec VitaminRecord) (VitaminRecord, error) {
	if s.db.DriverName() == "postgres" {
		query := s.db.Rebind(`INSERT INTO user_vitamins (user_identity, vitamin, created_at) VALUES (?, ?, ?) RETURNING id`)
		if err := s.db.QueryRowxContext(ctx, query, rec.UserIdentity, rec.MappedDeficiency, rec.Timestamp).Scan(&rec.ID); err != nil {
			return VitaminRecord{}, fmt.Errorf("insert record: %w", err)
		}
		return rec, nil
	}
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO user_vitamins (user_identity, vitamin, created_at) VALUES (?, ?, ?)`),
		rec.UserIdentity, rec.MappedDeficiency, rec.Timestamp)
	if err != nil {
		return VitaminRecord{}, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return VitaminRecord{}, fmt.Errorf("insert record: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// ListFor returns identity's records ordered by id.
func (s *SQLStore) ListFor(ctx context.Context, identity string) ([]VitaminRecord, error) {
	out := make([]VitaminRecord, 0)
	query := s.db.Rebind(`SELECT id, user_identity, vitamin, created_at FROM user_vitamins WHERE user_identity = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &out, query, identity); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// Delete removes record id if identity owns it, else returns ErrNotFound.
func (s *SQLStore) Delete(ctx context.Context, identity string, id int64) error {
	query := s.db.Rebind(`DELETE FROM user_vitamins WHERE id = ? AND user_identity = ?`)
	res, err := s.db.ExecContext(ctx, query, id, identity)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
