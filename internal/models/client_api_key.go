// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var ErrClientAPIKeyNotFound = errors.New("client api key not found")

// ClientAPIKey authenticates a desktop client build on the verify endpoint.
type ClientAPIKey struct {
	ID         int        `json:"id"`
	KeyHash    string     `json:"-"`
	ClientName string     `json:"clientName"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

type ClientAPIKeyStore struct {
	db *sql.DB
}

func NewClientAPIKeyStore(db *sql.DB) *ClientAPIKeyStore {
	return &ClientAPIKeyStore{db: db}
}

// GenerateAPIKey generates a new API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// HashAPIKey creates a SHA256 hash of the API key
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func (s *ClientAPIKeyStore) Create(ctx context.Context, clientName string) (string, *ClientAPIKey, error) {
	rawKey, err := GenerateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate API key: %w", err)
	}

	query := `
		INSERT INTO client_api_keys (key_hash, client_name)
		VALUES (?, ?)
		RETURNING id, key_hash, client_name, created_at, last_used_at
	`

	clientAPIKey := &ClientAPIKey{}
	err = s.db.QueryRowContext(ctx, query, HashAPIKey(rawKey), clientName).Scan(
		&clientAPIKey.ID,
		&clientAPIKey.KeyHash,
		&clientAPIKey.ClientName,
		&clientAPIKey.CreatedAt,
		&clientAPIKey.LastUsedAt,
	)
	if err != nil {
		return "", nil, ClassifyError(err)
	}

	// The raw key is only ever returned here.
	return rawKey, clientAPIKey, nil
}

func (s *ClientAPIKeyStore) GetAll(ctx context.Context) ([]*ClientAPIKey, error) {
	query := `
		SELECT id, key_hash, client_name, created_at, last_used_at
		FROM client_api_keys
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer rows.Close()

	var keys []*ClientAPIKey
	for rows.Next() {
		key := &ClientAPIKey{}
		if err := rows.Scan(&key.ID, &key.KeyHash, &key.ClientName, &key.CreatedAt, &key.LastUsedAt); err != nil {
			return nil, ClassifyError(err)
		}
		keys = append(keys, key)
	}

	return keys, ClassifyError(rows.Err())
}

func (s *ClientAPIKeyStore) GetByKeyHash(ctx context.Context, keyHash string) (*ClientAPIKey, error) {
	query := `
		SELECT id, key_hash, client_name, created_at, last_used_at
		FROM client_api_keys
		WHERE key_hash = ?
	`

	key := &ClientAPIKey{}
	err := s.db.QueryRowContext(ctx, query, keyHash).Scan(
		&key.ID,
		&key.KeyHash,
		&key.ClientName,
		&key.CreatedAt,
		&key.LastUsedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientAPIKeyNotFound
	}

	if err != nil {
		return nil, ClassifyError(err)
	}

	return key, nil
}

func (s *ClientAPIKeyStore) ValidateKey(ctx context.Context, rawKey string) (*ClientAPIKey, error) {
	return s.GetByKeyHash(ctx, HashAPIKey(rawKey))
}

func (s *ClientAPIKeyStore) UpdateLastUsed(ctx context.Context, keyHash string) error {
	query := `UPDATE client_api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE key_hash = ?`
	_, err := s.db.ExecContext(ctx, query, keyHash)
	return ClassifyError(err)
}

func (s *ClientAPIKeyStore) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM client_api_keys WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return ClassifyError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrClientAPIKeyNotFound
	}

	return nil
}
