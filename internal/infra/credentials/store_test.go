package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"genorch/internal/sqlinline"
)

type stubExecutor struct {
	token   string
	err     error
	queried bool
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried = true
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
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

func TestProviderAPIKey(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.ProviderAPIKey(context.Background())
	if err != nil {
		t.Fatalf("ProviderAPIKey error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestProviderAPIKey_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.ProviderAPIKey(context.Background())
	if err != nil {
		t.Fatalf("ProviderAPIKey error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestResolveProviderKey(t *testing.T) {
	exec := &stubExecutor{token: "stored"}
	store := NewStore(exec)
	key, err := store.ResolveProviderKey(context.Background(), " configured ")
	if err != nil || key != "configured" {
		t.Fatalf("ResolveProviderKey = %q, %v", key, err)
	}
	if exec.queried {
		t.Fatal("configured key must not hit the database")
	}
	key, _ = store.ResolveProviderKey(context.Background(), "")
	if key != "stored" {
		t.Fatalf("expected stored key, got %q", key)
	}

	var none *Store
	if key, err := none.ResolveProviderKey(context.Background(), ""); err != nil || key != "" {
		t.Fatalf("nil store = %q, %v", key, err)
	}
}

func TestSetProviderAPIKey(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetProviderAPIKey(context.Background(), "secret", "https://api.example.com"); err != nil {
		t.Fatalf("SetProviderAPIKey error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderTaskAPI {
		t.Fatalf("expected provider %q, got %v", ProviderTaskAPI, exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
	if raw := string(exec.exec.args[2].([]byte)); raw != `{"base_url":"https://api.example.com"}` {
		t.Fatalf("unexpected properties %s", raw)
	}
}

func TestSetProviderAPIKeyEmpty(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetProviderAPIKey(context.Background(), " ", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestSetProviderAPIKeyWithoutBaseURLKeepsStoredProperties(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetProviderAPIKey(context.Background(), "rotated", ""); err != nil {
		t.Fatalf("SetProviderAPIKey error: %v", err)
	}
	if exec.exec.query != sqlinline.QUpsertIntegrationToken {
		t.Fatal("expected the upsert query")
	}
	if !strings.Contains(exec.exec.query, "integration_tokens.properties || excluded.properties") {
		t.Fatal("upsert must merge properties")
	}
	if raw := string(exec.exec.args[2].([]byte)); raw != `{}` {
		t.Fatalf("expected empty properties patch, got %s", raw)
	}
}
