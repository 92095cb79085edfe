// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fluxtv/ingestd/internal/domain"
)

const channelColumns = `id, uuid, number, name, tvg_id, guide_station_id,
	logo_id, epg_data_id, group_id, stream_profile_id, auto_created, auto_created_by`

func scanChannel(row interface{ Scan(...any) error }) (domain.Channel, error) {
	var (
		c             domain.Channel
		logoID        sql.NullInt64
		epgDataID     sql.NullInt64
		groupID       sql.NullInt64
		streamProfile sql.NullInt64
		createdBy     sql.NullInt64
		autoCreated   int
	)
	err := row.Scan(&c.ID, &c.UUID, &c.Number, &c.Name, &c.TvgID, &c.GuideStationID,
		&logoID, &epgDataID, &groupID, &streamProfile, &autoCreated, &createdBy)
	if err != nil {
		return domain.Channel{}, err
	}
	c.LogoID = scanNullID(logoID)
	c.EPGDataID = scanNullID(epgDataID)
	c.GroupID = scanNullID(groupID)
	c.StreamProfileID = scanNullID(streamProfile)
	c.AutoCreatedBy = scanNullID(createdBy)
	c.AutoCreated = autoCreated != 0
	return c, nil
}

// CreateChannel inserts a channel and assigns its id.
func (s *Store) CreateChannel(ctx context.Context, c *domain.Channel) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (uuid, number, name, tvg_id, guide_station_id,
			logo_id, epg_data_id, group_id, stream_profile_id, auto_created, auto_created_by)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.UUID, c.Number, c.Name, c.TvgID, c.GuideStationID,
		nullID(c.LogoID), nullID(c.EPGDataID), nullID(c.GroupID),
		nullID(c.StreamProfileID), boolInt(c.AutoCreated), nullID(c.AutoCreatedBy))
	if err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// UpdateChannel rewrites a channel's mutable attributes. The uuid column is
// never touched.
func (s *Store) UpdateChannel(ctx context.Context, c domain.Channel) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE channels
		SET number = ?, name = ?, tvg_id = ?, guide_station_id = ?,
			logo_id = ?, epg_data_id = ?, group_id = ?, stream_profile_id = ?
		WHERE id = ?`,
		c.Number, c.Name, c.TvgID, c.GuideStationID,
		nullID(c.LogoID), nullID(c.EPGDataID), nullID(c.GroupID),
		nullID(c.StreamProfileID), c.ID)
	if err != nil {
		return fmt.Errorf("store: update channel: %w", err)
	}
	return nil
}

// GetChannel fetches one channel by id.
func (s *Store) GetChannel(ctx context.Context, id int64) (domain.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	c, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, ErrNotFound
	}
	return c, err
}

// UpdateChannelNumbers bulk-updates assigned numbers in one transaction.
func (s *Store) UpdateChannelNumbers(ctx context.Context, numbers map[int64]float64) error {
	if len(numbers) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE channels SET number = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, number := range numbers {
			if _, err := stmt.ExecContext(ctx, number, id); err != nil {
				return fmt.Errorf("store: renumber channel %d: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteChannels removes channels by id; edges and profile memberships
// cascade.
func (s *Store) DeleteChannels(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channels WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("store: delete channels: %w", err)
	}
	return nil
}

// AutoChannelsByStream maps stream id -> channel for the source's
// auto-created channels reachable through streams of the given group.
func (s *Store) AutoChannelsByStream(ctx context.Context, sourceID, groupID int64) (map[int64]domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, `+prefixChannelColumns("c")+`
		FROM channels c
		JOIN channel_streams cs ON cs.channel_id = c.id
		JOIN streams st ON st.id = cs.stream_id
		WHERE c.auto_created_by = ? AND st.source_id = ? AND st.group_id = ?`,
		sourceID, sourceID, groupID)
	if err != nil {
		return nil, fmt.Errorf("store: auto channels by stream: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]domain.Channel)
	for rows.Next() {
		var streamID int64
		var (
			c             domain.Channel
			logoID        sql.NullInt64
			epgDataID     sql.NullInt64
			grpID         sql.NullInt64
			streamProfile sql.NullInt64
			createdBy     sql.NullInt64
			autoCreated   int
		)
		err := rows.Scan(&streamID, &c.ID, &c.UUID, &c.Number, &c.Name, &c.TvgID,
			&c.GuideStationID, &logoID, &epgDataID, &grpID, &streamProfile,
			&autoCreated, &createdBy)
		if err != nil {
			return nil, err
		}
		c.LogoID = scanNullID(logoID)
		c.EPGDataID = scanNullID(epgDataID)
		c.GroupID = scanNullID(grpID)
		c.StreamProfileID = scanNullID(streamProfile)
		c.AutoCreatedBy = scanNullID(createdBy)
		c.AutoCreated = autoCreated != 0
		out[streamID] = c
	}
	return out, rows.Err()
}

func prefixChannelColumns(alias string) string {
	return alias + `.id, ` + alias + `.uuid, ` + alias + `.number, ` + alias + `.name, ` +
		alias + `.tvg_id, ` + alias + `.guide_station_id, ` + alias + `.logo_id, ` +
		alias + `.epg_data_id, ` + alias + `.group_id, ` + alias + `.stream_profile_id, ` +
		alias + `.auto_created, ` + alias + `.auto_created_by`
}

// BlockedNumbers returns the channel numbers held by channels the given
// source did not auto-create; those numbers are unavailable for assignment.
func (s *Store) BlockedNumbers(ctx context.Context, sourceID int64) (map[float64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number FROM channels
		WHERE auto_created_by IS NULL OR auto_created_by != ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: blocked numbers: %w", err)
	}
	defer rows.Close()
	out := make(map[float64]bool)
	for rows.Next() {
		var n float64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out[n] = true
	}
	return out, rows.Err()
}

// OrphanAutoChannels lists the source's auto-created channels with no edge
// to any stream still owned by the source.
func (s *Store) OrphanAutoChannels(ctx context.Context, sourceID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id FROM channels c
		WHERE c.auto_created_by = ?
		  AND NOT EXISTS (
			SELECT 1 FROM channel_streams cs
			JOIN streams st ON st.id = cs.stream_id
			WHERE cs.channel_id = c.id AND st.source_id = ?
		  )`, sourceID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: orphan auto channels: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddChannelStream associates a stream with a channel, ignoring duplicates.
func (s *Store) AddChannelStream(ctx context.Context, cs domain.ChannelStream) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channel_streams (channel_id, stream_id, ord) VALUES (?,?,?)`,
		cs.ChannelID, cs.StreamID, cs.Order)
	if err != nil {
		return fmt.Errorf("store: add channel stream: %w", err)
	}
	return nil
}

// DeleteChannelStream removes one channel-stream edge.
func (s *Store) DeleteChannelStream(ctx context.Context, channelID, streamID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_streams WHERE channel_id = ? AND stream_id = ?`, channelID, streamID)
	if err != nil {
		return fmt.Errorf("store: delete channel stream: %w", err)
	}
	return nil
}

// RepointChannelStream moves an edge from one stream to another.
func (s *Store) RepointChannelStream(ctx context.Context, channelID, fromStream, toStream int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channel_streams SET stream_id = ? WHERE channel_id = ? AND stream_id = ?`,
		toStream, channelID, fromStream)
	if err != nil {
		return fmt.Errorf("store: repoint channel stream: %w", err)
	}
	return nil
}

// EdgesForStream returns every channel-stream edge referencing the stream.
func (s *Store) EdgesForStream(ctx context.Context, streamID int64) ([]domain.ChannelStream, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, stream_id, ord FROM channel_streams WHERE stream_id = ?`, streamID)
	if err != nil {
		return nil, fmt.Errorf("store: edges for stream: %w", err)
	}
	defer rows.Close()
	var out []domain.ChannelStream
	for rows.Next() {
		var cs domain.ChannelStream
		if err := rows.Scan(&cs.ChannelID, &cs.StreamID, &cs.Order); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// ChannelHasStream reports whether the edge exists.
func (s *Store) ChannelHasStream(ctx context.Context, channelID, streamID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM channel_streams WHERE channel_id = ? AND stream_id = ?`,
		channelID, streamID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListChannelProfiles returns all channel profiles.
func (s *Store) ListChannelProfiles(ctx context.Context) ([]domain.ChannelProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM channel_profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list channel profiles: %w", err)
	}
	defer rows.Close()
	var out []domain.ChannelProfile
	for rows.Next() {
		var p domain.ChannelProfile
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProfileMembershipsForChannel returns the channel's profile memberships.
func (s *Store) ProfileMembershipsForChannel(ctx context.Context, channelID int64) ([]domain.ChannelProfileMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_id, channel_id, enabled
		FROM channel_profile_memberships WHERE channel_id = ?`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: profile memberships: %w", err)
	}
	defer rows.Close()
	var out []domain.ChannelProfileMembership
	for rows.Next() {
		var m domain.ChannelProfileMembership
		var enabled int
		if err := rows.Scan(&m.ProfileID, &m.ChannelID, &enabled); err != nil {
			return nil, err
		}
		m.Enabled = enabled != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// SyncProfileMemberships disables every existing membership of the channel,
// then enables (creating as needed) memberships for the desired profile set.
// Runs in one transaction.
func (s *Store) SyncProfileMemberships(ctx context.Context, channelID int64, profileIDs []int64) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE channel_profile_memberships SET enabled = 0 WHERE channel_id = ?`, channelID); err != nil {
			return fmt.Errorf("store: disable profile memberships: %w", err)
		}
		for _, pid := range profileIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO channel_profile_memberships (profile_id, channel_id, enabled)
				VALUES (?,?,1)
				ON CONFLICT (profile_id, channel_id) DO UPDATE SET enabled = 1`,
				pid, channelID); err != nil {
				return fmt.Errorf("store: enable profile membership: %w", err)
			}
		}
		return nil
	})
}

// FindEPGData returns the first EPG data row matching the tvg id.
func (s *Store) FindEPGData(ctx context.Context, tvgID string) (*domain.EPGData, error) {
	if tvgID == "" {
		return nil, nil
	}
	var e domain.EPGData
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tvg_id FROM epg_data WHERE tvg_id = ? ORDER BY id LIMIT 1`, tvgID).
		Scan(&e.ID, &e.TvgID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find epg data: %w", err)
	}
	return &e, nil
}

// FindOrCreateLogo resolves a logo id for the URL, creating the row once.
func (s *Store) FindOrCreateLogo(ctx context.Context, url string) (*int64, error) {
	if url == "" {
		return nil, nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO logos (url) VALUES (?)`, url); err != nil {
		return nil, fmt.Errorf("store: create logo: %w", err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM logos WHERE url = ?`, url).Scan(&id); err != nil {
		return nil, fmt.Errorf("store: find logo: %w", err)
	}
	return &id, nil
}

// Seed helpers used by composition and tests.

// CreateChannelProfile inserts a profile.
func (s *Store) CreateChannelProfile(ctx context.Context, p *domain.ChannelProfile) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO channel_profiles (name) VALUES (?)`, p.Name)
	if err != nil {
		return fmt.Errorf("store: create channel profile: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// CreateEPGData inserts an EPG binding target.
func (s *Store) CreateEPGData(ctx context.Context, e *domain.EPGData) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO epg_data (tvg_id) VALUES (?)`, e.TvgID)
	if err != nil {
		return fmt.Errorf("store: create epg data: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// CreateStreamProfile inserts a stream profile.
func (s *Store) CreateStreamProfile(ctx context.Context, p *domain.StreamProfile) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_profiles (name, search_pattern, replace_pattern) VALUES (?,?,?)`,
		p.Name, p.SearchPattern, p.ReplacePattern)
	if err != nil {
		return fmt.Errorf("store: create stream profile: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}
