// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fluxtv/ingestd/internal/domain"
)

const hashKeysSetting = "stream_hash_keys"

// HashKeys returns the configured stream hash key list, falling back to the
// default when unset.
func (s *Store) HashKeys(ctx context.Context) ([]domain.HashKey, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, hashKeysSetting).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultHashKeys, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read hash keys: %w", err)
	}
	keys, err := domain.ParseHashKeys(strings.Split(value, ","))
	if err != nil {
		return nil, fmt.Errorf("store: stored hash keys: %w", err)
	}
	return keys, nil
}

// SetHashKeys persists the stream hash key list.
func (s *Store) SetHashKeys(ctx context.Context, keys []domain.HashKey) error {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?,?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		hashKeysSetting, strings.Join(parts, ","))
	if err != nil {
		return fmt.Errorf("store: set hash keys: %w", err)
	}
	return nil
}
