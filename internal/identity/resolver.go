package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrUnknownToken is returned when no user owns the presented credential
var ErrUnknownToken = errors.New("unknown api token")

// Resolver maps a credential to the requesting user's identity
type Resolver interface {
	ResolveToken(ctx context.Context, credential string) (string, error)
}

// PostgresResolver resolves tokens against the users table
type PostgresResolver struct {
	db *sqlx.DB
}

// NewPostgresResolver creates a PostgresResolver
func NewPostgresResolver(db *sqlx.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

// ResolveToken returns the user id owning the credential
func (r *PostgresResolver) ResolveToken(ctx context.Context, credential string) (string, error) {
	var userID string
	err := r.db.GetContext(ctx, &userID, `SELECT id FROM users WHERE api_token = $1`, credential)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve token: %w", err)
	}
	return userID, nil
}
