package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
)

// TokenRepository reads OAuth access tokens stored by the integrations flow.
// Refreshing them is handled elsewhere.
type TokenRepository struct {
	DB *sql.DB
}

func (r *TokenRepository) AccessToken(ctx context.Context, clientID, provider string) (string, error) {
	var token string
	var expiresAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, `
        SELECT access_token, expires_at
        FROM oauth_tokens
        WHERE client_id = $1 AND provider = $2
    `, clientID, provider).Scan(&token, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("no %s token for client %s: %w", provider, clientID, appErrors.ErrNotConfigured)
		}
		return "", err
	}
	if expiresAt.Valid && expiresAt.Time.Before(time.Now()) {
		return "", fmt.Errorf("%s token for client %s expired at %s", provider, clientID, expiresAt.Time.Format(time.RFC3339))
	}
	return token, nil
}

var _ TokenStore = (*TokenRepository)(nil)
