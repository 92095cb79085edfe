// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fluxtv/ingestd/internal/domain"
)

const streamColumns = `id, stream_hash, name, url, logo_url, tvg_id, source_id, group_id,
	custom_properties, last_seen, updated_at`

func scanStream(row interface{ Scan(...any) error }) (domain.Stream, error) {
	var (
		st       domain.Stream
		groupID  sql.NullInt64
		props    []byte
		lastSeen int64
		updated  int64
	)
	err := row.Scan(&st.ID, &st.Hash, &st.Name, &st.URL, &st.LogoURL, &st.TvgID,
		&st.SourceID, &groupID, &props, &lastSeen, &updated)
	if err != nil {
		return domain.Stream{}, err
	}
	st.GroupID = scanNullID(groupID)
	st.LastSeen = fromNanos(lastSeen)
	st.UpdatedAt = fromNanos(updated)
	if st.CustomProperties, err = domain.UnmarshalBag(props); err != nil {
		return domain.Stream{}, fmt.Errorf("store: stream %d properties: %w", st.ID, err)
	}
	return st, nil
}

// StreamsByHashes fetches persisted streams matching any of the hashes,
// keyed by hash. One query regardless of batch size.
func (s *Store) StreamsByHashes(ctx context.Context, hashes []string) (map[string]domain.Stream, error) {
	out := make(map[string]domain.Stream, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE stream_hash IN (`+placeholders(len(hashes))+`)`,
		stringArgs(hashes)...)
	if err != nil {
		return nil, fmt.Errorf("store: streams by hashes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out[st.Hash] = st
	}
	return out, rows.Err()
}

// StreamByID fetches one stream by its surrogate id.
func (s *Store) StreamByID(ctx context.Context, id int64) (domain.Stream, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = ?`, id)
	st, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stream{}, ErrNotFound
	}
	return st, err
}

// StreamByHash fetches one stream by its content hash.
func (s *Store) StreamByHash(ctx context.Context, hash string) (domain.Stream, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE stream_hash = ?`, hash)
	st, err := scanStream(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Stream{}, ErrNotFound
	}
	return st, err
}

// UpsertBatch applies one upsert batch in a single transaction: bulk-insert
// of new streams (conflicts on stream_hash are skipped — a duplicate was
// created concurrently), field updates for changed streams, and last_seen
// touches for unchanged ones.
func (s *Store) UpsertBatch(ctx context.Context, create, update []domain.Stream, touch []int64, now time.Time) (inserted int64, err error) {
	err = s.tx(ctx, func(tx *sql.Tx) error {
		if len(create) > 0 {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT OR IGNORE INTO streams
					(stream_hash, name, url, logo_url, tvg_id, source_id, group_id, custom_properties, last_seen, updated_at)
				VALUES (?,?,?,?,?,?,?,?,?,?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, st := range create {
				props, err := domain.MarshalBag(st.CustomProperties)
				if err != nil {
					return err
				}
				res, err := stmt.ExecContext(ctx, st.Hash, st.Name, st.URL, st.LogoURL, st.TvgID,
					st.SourceID, nullID(st.GroupID), string(props), toNanos(st.LastSeen), toNanos(st.UpdatedAt))
				if err != nil {
					return fmt.Errorf("store: insert stream: %w", err)
				}
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				inserted += n
			}
		}
		for _, st := range update {
			props, err := domain.MarshalBag(st.CustomProperties)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE streams
				SET name = ?, url = ?, logo_url = ?, tvg_id = ?, group_id = ?,
					custom_properties = ?, last_seen = ?, updated_at = ?
				WHERE id = ?`,
				st.Name, st.URL, st.LogoURL, st.TvgID, nullID(st.GroupID),
				string(props), toNanos(st.LastSeen), toNanos(st.UpdatedAt), st.ID); err != nil {
				return fmt.Errorf("store: update stream: %w", err)
			}
		}
		if len(touch) > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE streams SET last_seen = ? WHERE id IN (`+placeholders(len(touch))+`)`,
				append([]any{toNanos(now)}, int64Args(touch)...)...); err != nil {
				return fmt.Errorf("store: touch streams: %w", err)
			}
		}
		return nil
	})
	return inserted, err
}

// DeleteStreamsInDisabledGroups removes the source's streams whose group is
// not among the enabled group ids (including group-less strays when no group
// is enabled). Returns the number of deleted rows.
func (s *Store) DeleteStreamsInDisabledGroups(ctx context.Context, sourceID int64, enabledGroupIDs []int64) (int64, error) {
	query := `DELETE FROM streams WHERE source_id = ?`
	args := []any{sourceID}
	if len(enabledGroupIDs) > 0 {
		query += ` AND (group_id IS NULL OR group_id NOT IN (` + placeholders(len(enabledGroupIDs)) + `))`
		args = append(args, int64Args(enabledGroupIDs)...)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete disabled-group streams: %w", err)
	}
	return res.RowsAffected()
}

// DeleteStaleStreams removes the source's streams not seen since cutoff.
func (s *Store) DeleteStaleStreams(ctx context.Context, sourceID int64, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM streams WHERE source_id = ? AND last_seen < ?`,
		sourceID, toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("store: delete stale streams: %w", err)
	}
	return res.RowsAffected()
}

// StreamsBatch pages through all streams in id order for the rehasher.
func (s *Store) StreamsBatch(ctx context.Context, afterID int64, limit int) ([]domain.Stream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: streams batch: %w", err)
	}
	defer rows.Close()
	var out []domain.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountStreams returns the total number of persisted streams.
func (s *Store) CountStreams(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM streams`).Scan(&n)
	return n, err
}

// UpdateStreamHash rewrites one stream's content hash.
func (s *Store) UpdateStreamHash(ctx context.Context, id int64, hash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE streams SET stream_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("store: update stream hash: %w", err)
	}
	return nil
}

// UpdateStreamFields copies the mutable fields onto an existing stream row.
func (s *Store) UpdateStreamFields(ctx context.Context, st domain.Stream) error {
	props, err := domain.MarshalBag(st.CustomProperties)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE streams
		SET name = ?, url = ?, logo_url = ?, tvg_id = ?, group_id = ?,
			custom_properties = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`,
		st.Name, st.URL, st.LogoURL, st.TvgID, nullID(st.GroupID),
		string(props), toNanos(st.LastSeen), toNanos(st.UpdatedAt), st.ID)
	if err != nil {
		return fmt.Errorf("store: update stream fields: %w", err)
	}
	return nil
}

// DeleteStream removes one stream row.
func (s *Store) DeleteStream(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM streams WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete stream: %w", err)
	}
	return nil
}

// StreamsForGroup returns the source's streams in one group seen at or after
// since, in insertion (id) order.
func (s *Store) StreamsForGroup(ctx context.Context, sourceID, groupID int64, since time.Time) ([]domain.Stream, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+streamColumns+`
		FROM streams
		WHERE source_id = ? AND group_id = ? AND last_seen >= ?
		ORDER BY id`, sourceID, groupID, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("store: streams for group: %w", err)
	}
	defer rows.Close()
	var out []domain.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// StreamsForSource returns every stream owned by the source. Test helper and
// orphan sweeps.
func (s *Store) StreamsForSource(ctx context.Context, sourceID int64) ([]domain.Stream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE source_id = ? ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: streams for source: %w", err)
	}
	defer rows.Close()
	var out []domain.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
