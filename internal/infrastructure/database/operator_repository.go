package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
)

// CreateOperator inserts a new operator.
func (s *SQLStore) CreateOperator(ctx context.Context, op *domain.Operator) error {
	query := `
		INSERT INTO operators (id, username, password_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query), op.ID, op.Username, op.PasswordHash, op.IsActive, op.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create operator: %w", err)
	}
	return nil
}

// GetOperatorByUsername returns domain.ErrNotFound when no operator matches.
func (s *SQLStore) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	query := `
		SELECT id, username, password_hash, is_active, created_at, last_login_at
		FROM operators WHERE username = $1
	`
	op, err := scanOperator(s.db.QueryRowContext(ctx, s.rebind(query), username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return op, nil
}

// UpdatePassword replaces an operator's password hash.
func (s *SQLStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.updateOperator(ctx, `UPDATE operators SET password_hash = $1 WHERE id = $2`, passwordHash, id)
}

// SetActive enables or disables an operator.
func (s *SQLStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateOperator(ctx, `UPDATE operators SET is_active = $1 WHERE id = $2`, active, id)
}

// UpdateLastLogin stamps the operator's last successful login.
func (s *SQLStore) UpdateLastLogin(ctx context.Context, id string) error {
	return s.updateOperator(ctx, `UPDATE operators SET last_login_at = $1 WHERE id = $2`, time.Now().UTC(), id)
}

func (s *SQLStore) updateOperator(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update operator: %w", err)
	}
	// mysql reports changed rows, not matched rows
	if s.driver == DriverMySQL {
		return nil
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOperators returns every operator ordered by username.
func (s *SQLStore) ListOperators(ctx context.Context) ([]*domain.Operator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, is_active, created_at, last_login_at
		FROM operators ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list operators: %w", err)
	}
	defer rows.Close()

	var ops []*domain.Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operator row: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOperator(row rowScanner) (*domain.Operator, error) {
	op := &domain.Operator{}
	var lastLogin sql.NullTime
	if err := row.Scan(&op.ID, &op.Username, &op.PasswordHash, &op.IsActive, &op.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		op.LastLoginAt = &t
	}
	return op, nil
}
