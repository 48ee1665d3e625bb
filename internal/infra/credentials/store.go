package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ProviderRunPod is the token slot for the RunPod API key.
const ProviderRunPod = "runpod"

const schema = `
CREATE TABLE IF NOT EXISTS integration_tokens (
	provider TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	selectToken = `SELECT token FROM integration_tokens WHERE provider = $1`
	upsertToken = `
INSERT INTO integration_tokens (provider, token, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (provider) DO UPDATE SET token = EXCLUDED.token, updated_at = now()`
)

// Querier is the slice of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps third-party API credentials in the database so they can be
// rotated without a redeploy. Keys set in the environment always win; the
// store is the fallback consulted at startup.
type Store struct {
	db Querier
}

func NewStore(db Querier) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the token table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("credentials: ensure schema: %w", err)
	}
	return nil
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var token string
	if err := s.db.QueryRow(ctx, selectToken, provider).Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("credentials: load %s token: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores or replaces the token for provider.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("credentials: %s token is required", provider)
	}
	if _, err := s.db.Exec(ctx, upsertToken, provider, token); err != nil {
		return fmt.Errorf("credentials: store %s token: %w", provider, err)
	}
	return nil
}

func (s *Store) RunPodAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderRunPod)
}

func (s *Store) SetRunPodAPIKey(ctx context.Context, key string) error {
	return s.SetToken(ctx, ProviderRunPod, key)
}
