package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/PercentBoat4164/GiteaOAuth/internal/auth"
	"github.com/PercentBoat4164/GiteaOAuth/internal/db"
)

// DBResolver links provider identities to rows in the users table.
type DBResolver struct {
	db *db.DB
}

func NewDBResolver(db *db.DB) *DBResolver {
	return &DBResolver{db: db}
}

func (r *DBResolver) Resolve(ctx context.Context, identity *auth.Identity) (string, error) {
	if identity == nil {
		return "", errors.New("resolver: identity is nil")
	}
	if identity.ProviderUserID == "" {
		return "", errors.New("resolver: identity has no provider user id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("resolver: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT user_id
		FROM identities
		WHERE provider = $1
		  AND provider_user_id = $2
	`,
		identity.Provider,
		identity.ProviderUserID,
	).Scan(&userID)

	switch {
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE users
			SET login = $2, email = $3, last_login_at = NOW()
			WHERE id = $1
		`, userID, identity.Login, identity.Email)
		if err != nil {
			return "", fmt.Errorf("resolver: touch user: %w", err)
		}

	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (login, email)
			VALUES ($1, $2)
			RETURNING id
		`, identity.Login, identity.Email).Scan(&userID)
		if err != nil {
			return "", fmt.Errorf("resolver: create user: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO identities (user_id, provider, provider_user_id)
			VALUES ($1, $2, $3)
		`, userID, identity.Provider, identity.ProviderUserID)
		if err != nil {
			return "", fmt.Errorf("resolver: link identity: %w", err)
		}

	default:
		return "", fmt.Errorf("resolver: lookup identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("resolver: commit: %w", err)
	}

	return userID.String(), nil
}
