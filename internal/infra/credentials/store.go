package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"genorch/internal/infra"
	"genorch/internal/sqlinline"
)

const (
	ProviderTaskAPI = "taskapi"
)

// Store reads and writes provider secrets kept in integration_tokens.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// ProviderAPIKey returns the stored generation provider key, empty when unset.
func (s *Store) ProviderAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderTaskAPI)
}

// ResolveProviderKey prefers an explicitly configured key over the stored one.
func (s *Store) ResolveProviderKey(ctx context.Context, configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	if s == nil || s.sql == nil {
		return "", nil
	}
	return s.ProviderAPIKey(ctx)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetProviderAPIKey stores the key. baseURL, when set, is kept alongside it
// for reference.
func (s *Store) SetProviderAPIKey(ctx context.Context, key, baseURL string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("provider api key is required")
	}
	var props map[string]any
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		props = map[string]any{"base_url": baseURL}
	}
	return s.upsert(ctx, ProviderTaskAPI, key, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}
