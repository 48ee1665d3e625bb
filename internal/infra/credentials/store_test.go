package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubQuerier struct {
	token string
	err   error
	exec  struct {
		sql  string
		args []any
	}
}

func (s *stubQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.exec.sql = sql
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestRunPodAPIKey(t *testing.T) {
	store := NewStore(&stubQuerier{token: " rp-key-1 "})
	key, err := store.RunPodAPIKey(context.Background())
	if err != nil {
		t.Fatalf("RunPodAPIKey returned error: %v", err)
	}
	if key != "rp-key-1" {
		t.Fatalf("key = %q, want rp-key-1", key)
	}
}

func TestRunPodAPIKeyNoRows(t *testing.T) {
	store := NewStore(&stubQuerier{err: pgx.ErrNoRows})
	key, err := store.RunPodAPIKey(context.Background())
	if err != nil {
		t.Fatalf("RunPodAPIKey returned error: %v", err)
	}
	if key != "" {
		t.Fatalf("key = %q, want empty", key)
	}
}

func TestSetRunPodAPIKey(t *testing.T) {
	q := &stubQuerier{}
	store := NewStore(q)
	if err := store.SetRunPodAPIKey(context.Background(), " secret "); err != nil {
		t.Fatalf("SetRunPodAPIKey returned error: %v", err)
	}
	if len(q.exec.args) != 2 {
		t.Fatalf("args = %d, want 2", len(q.exec.args))
	}
	if q.exec.args[0] != ProviderRunPod {
		t.Fatalf("provider arg = %v, want %q", q.exec.args[0], ProviderRunPod)
	}
	if q.exec.args[1] != "secret" {
		t.Fatalf("token arg = %v, want trimmed secret", q.exec.args[1])
	}
}

func TestSetRunPodAPIKeyEmpty(t *testing.T) {
	store := NewStore(&stubQuerier{})
	if err := store.SetRunPodAPIKey(context.Background(), "  "); err == nil {
		t.Fatal("empty key accepted")
	}
}

func TestTokenPropagatesErrors(t *testing.T) {
	store := NewStore(&stubQuerier{err: errors.New("connection refused")})
	if _, err := store.Token(context.Background(), ProviderRunPod); err == nil {
		t.Fatal("query error swallowed")
	}
}
