// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fluxtv/ingestd/internal/domain"
)

// GroupsByNames returns existing groups keyed by name.
func (s *Store) GroupsByNames(ctx context.Context, names []string) (map[string]domain.Group, error) {
	out := make(map[string]domain.Group, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM groups WHERE name IN (`+placeholders(len(names))+`)`,
		stringArgs(names)...)
	if err != nil {
		return nil, fmt.Errorf("store: groups by names: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		out[g.Name] = g
	}
	return out, rows.Err()
}

// CreateGroups bulk-creates the named groups, ignoring ones that already
// exist, and returns the full resolved set.
func (s *Store) CreateGroups(ctx context.Context, names []string) (map[string]domain.Group, error) {
	if len(names) > 0 {
		err := s.tx(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO groups (name) VALUES (?)`)
			if err != nil {
				return err
			}
			defer stmt.Close()
			for _, name := range names {
				if _, err := stmt.ExecContext(ctx, name); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("store: create groups: %w", err)
		}
	}
	return s.GroupsByNames(ctx, names)
}

const membershipColumns = `gm.id, gm.source_id, gm.group_id, g.name, gm.enabled, gm.custom_properties`

func scanMembership(rows *sql.Rows) (domain.GroupMembership, error) {
	var (
		m       domain.GroupMembership
		enabled int
		props   []byte
	)
	if err := rows.Scan(&m.ID, &m.SourceID, &m.GroupID, &m.GroupName, &enabled, &props); err != nil {
		return domain.GroupMembership{}, err
	}
	m.Enabled = enabled != 0
	var err error
	if m.CustomProperties, err = domain.UnmarshalBag(props); err != nil {
		return domain.GroupMembership{}, fmt.Errorf("store: membership %d properties: %w", m.ID, err)
	}
	return m, nil
}

// MembershipsForSource returns every membership of the source with group
// names resolved.
func (s *Store) MembershipsForSource(ctx context.Context, sourceID int64) ([]domain.GroupMembership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM group_memberships gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.source_id = ?
		ORDER BY gm.id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: memberships for source: %w", err)
	}
	defer rows.Close()
	var out []domain.GroupMembership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MembershipChanges is the outcome of a group reconciliation, applied in one
// transaction.
type MembershipChanges struct {
	Create []domain.GroupMembership
	Update []domain.GroupMembership // custom_properties only
	Delete []int64                  // membership ids
}

// ApplyMembershipChanges executes the reconciliation's bulk create, update
// and delete in a single transaction.
func (s *Store) ApplyMembershipChanges(ctx context.Context, changes MembershipChanges) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, m := range changes.Create {
			props, err := domain.MarshalBag(m.CustomProperties)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO group_memberships (source_id, group_id, enabled, custom_properties)
				VALUES (?,?,?,?)`,
				m.SourceID, m.GroupID, boolInt(m.Enabled), string(props)); err != nil {
				return fmt.Errorf("store: create membership: %w", err)
			}
		}
		for _, m := range changes.Update {
			props, err := domain.MarshalBag(m.CustomProperties)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE group_memberships SET custom_properties = ? WHERE id = ?`,
				string(props), m.ID); err != nil {
				return fmt.Errorf("store: update membership: %w", err)
			}
		}
		if len(changes.Delete) > 0 {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM group_memberships WHERE id IN (`+placeholders(len(changes.Delete))+`)`,
				int64Args(changes.Delete)...); err != nil {
				return fmt.Errorf("store: delete memberships: %w", err)
			}
		}
		return nil
	})
}

// SetMembershipEnabled toggles the user gate on one (source, group) pair.
func (s *Store) SetMembershipEnabled(ctx context.Context, sourceID int64, groupName string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE group_memberships SET enabled = ?
		WHERE source_id = ? AND group_id = (SELECT id FROM groups WHERE name = ?)`,
		boolInt(enabled), sourceID, groupName)
	if err != nil {
		return fmt.Errorf("store: set membership enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("store: membership %d/%q: %w", sourceID, groupName, ErrNotFound)
	}
	return nil
}

// EnabledGroupsForSource returns group name -> group id for the source's
// enabled memberships.
func (s *Store) EnabledGroupsForSource(ctx context.Context, sourceID int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.name, g.id
		FROM group_memberships gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.source_id = ? AND gm.enabled = 1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("store: enabled groups: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

// DeleteGroupIfOrphaned removes the group when it has no remaining
// memberships and no directly attached channels. Reports whether it deleted.
func (s *Store) DeleteGroupIfOrphaned(ctx context.Context, groupID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM groups
		WHERE id = ?
		  AND NOT EXISTS (SELECT 1 FROM group_memberships WHERE group_id = ?)
		  AND NOT EXISTS (SELECT 1 FROM channels WHERE group_id = ?)`,
		groupID, groupID, groupID)
	if err != nil {
		return false, fmt.Errorf("store: delete orphaned group: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GroupName resolves a group id to its name.
func (s *Store) GroupName(ctx context.Context, groupID int64) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM groups WHERE id = ?`, groupID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("store: group %d: %w", groupID, ErrNotFound)
	}
	return name, err
}
