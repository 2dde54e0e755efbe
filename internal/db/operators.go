package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const operatorColumns = `id, email, display_name, role, password_hash, created_at, updated_at`

func scanOperator(row interface {
	Scan(dest ...any) error
}) (Operator, error) {
	var op Operator
	err := row.Scan(&op.ID, &op.Email, &op.DisplayName, &op.Role, &op.PasswordHash, &op.CreatedAt, &op.UpdatedAt)
	return op, err
}

// GetOperatorByEmail looks up an operator by their login email.
func (q *Queries) GetOperatorByEmail(ctx context.Context, email string) (Operator, error) {
	row := q.db.QueryRow(ctx, `SELECT `+operatorColumns+` FROM operators WHERE email = $1`, email)
	return scanOperator(row)
}

// GetOperator looks up an operator by ID.
func (q *Queries) GetOperator(ctx context.Context, id uuid.UUID) (Operator, error) {
	row := q.db.QueryRow(ctx, `SELECT `+operatorColumns+` FROM operators WHERE id = $1`, id)
	return scanOperator(row)
}

// CreateOperatorParams is the input to CreateOperator.
type CreateOperatorParams struct {
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string
}

// CreateOperator inserts a new console operator.
func (q *Queries) CreateOperator(ctx context.Context, arg CreateOperatorParams) (Operator, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO operators (email, display_name, role, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING `+operatorColumns,
		arg.Email, arg.DisplayName, arg.Role, arg.PasswordHash,
	)
	op, err := scanOperator(row)
	if err != nil {
		return Operator{}, fmt.Errorf("creating operator: %w", err)
	}
	return op, nil
}

// ListOperators returns every console operator, ordered by email.
func (q *Queries) ListOperators(ctx context.Context) ([]Operator, error) {
	rows, err := q.db.Query(ctx, `SELECT `+operatorColumns+` FROM operators ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("listing operators: %w", err)
	}
	defer rows.Close()

	var result []Operator
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	if result == nil {
		result = []Operator{}
	}
	return result, rows.Err()
}
