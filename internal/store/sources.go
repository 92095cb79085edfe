// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fluxtv/ingestd/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const sourceColumns = `id, name, kind, urls, file_path, username, password, user_agent,
	refresh_hours, enabled, stale_retention_days, status, last_message, custom_properties, updated_at`

func scanSource(row interface{ Scan(...any) error }) (domain.Source, error) {
	var (
		s        domain.Source
		urls     string
		props    []byte
		updated  int64
		enabled  int
		kind     string
		status   string
	)
	err := row.Scan(&s.ID, &s.Name, &kind, &urls, &s.FilePath, &s.Username, &s.Password,
		&s.UserAgent, &s.RefreshHours, &enabled, &s.StaleRetentionDays, &status,
		&s.LastMessage, &props, &updated)
	if err != nil {
		return domain.Source{}, err
	}
	s.Kind = domain.SourceKind(kind)
	s.Status = domain.SourceStatus(status)
	s.Enabled = enabled != 0
	s.UpdatedAt = fromNanos(updated)
	if err := json.Unmarshal([]byte(urls), &s.URLs); err != nil {
		return domain.Source{}, fmt.Errorf("store: source %d urls: %w", s.ID, err)
	}
	if s.CustomProperties, err = domain.UnmarshalBag(props); err != nil {
		return domain.Source{}, fmt.Errorf("store: source %d properties: %w", s.ID, err)
	}
	return s, nil
}

// CreateSource inserts a new source and assigns its id.
func (s *Store) CreateSource(ctx context.Context, src *domain.Source) error {
	urls, err := json.Marshal(src.URLs)
	if err != nil {
		return fmt.Errorf("store: marshal urls: %w", err)
	}
	props, err := domain.MarshalBag(src.CustomProperties)
	if err != nil {
		return fmt.Errorf("store: marshal properties: %w", err)
	}
	if src.Status == "" {
		src.Status = domain.StatusIdle
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (name, kind, urls, file_path, username, password, user_agent,
			refresh_hours, enabled, stale_retention_days, status, last_message, custom_properties, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		src.Name, string(src.Kind), string(urls), src.FilePath, src.Username, src.Password,
		src.UserAgent, src.RefreshHours, boolInt(src.Enabled), src.StaleRetentionDays,
		string(src.Status), src.LastMessage, string(props), toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("store: create source: %w", err)
	}
	src.ID, err = res.LastInsertId()
	return err
}

// GetSource fetches one source by id.
func (s *Store) GetSource(ctx context.Context, id int64) (domain.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Source{}, fmt.Errorf("store: source %d: %w", id, ErrNotFound)
	}
	return src, err
}

// ListActiveSources returns enabled sources ordered by id.
func (s *Store) ListActiveSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list active sources: %w", err)
	}
	defer rows.Close()
	var out []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// SetSourceStatus records the source's current phase and last message.
func (s *Store) SetSourceStatus(ctx context.Context, id int64, status domain.SourceStatus, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, last_message = ?, updated_at = ? WHERE id = ?`,
		string(status), message, toNanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: set source status: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
