package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// APIClient represents a row in the api_clients table: one credentialed
// caller of the service.
type APIClient struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Role         string // "admin" callers may mutate governance
	CreatedAt    time.Time
}

// GenerateAPIKey creates a new msk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "msk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "msk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateAPIClient inserts a client and returns it with the plaintext key
// (shown once).
func (s *Store) CreateAPIClient(ctx context.Context, name, role string) (*APIClient, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateAPIClient: %w", err)
	}

	var c APIClient
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_clients (name, api_key_hash, api_key_prefix, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, api_key_hash, api_key_prefix, role, created_at`,
		name, keyHash, keyPrefix, role,
	).Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.Role, &c.CreatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateAPIClient: %w", err)
	}
	return &c, fullKey, nil
}

// LookupByPrefix finds a client by API key prefix (first 8 chars).
// Used by auth to narrow candidates before bcrypt verify.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*APIClient, error) {
	var c APIClient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, role, created_at
		FROM api_clients WHERE api_key_prefix = $1`, prefix,
	).Scan(&c.ID, &c.Name, &c.APIKeyHash, &c.APIKeyPrefix, &c.Role, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &c, nil
}
