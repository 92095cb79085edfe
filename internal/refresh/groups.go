// SPDX-License-Identifier: MIT

package refresh

import (
	"context"
	"fmt"

	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/m3u"
	"github.com/fluxtv/ingestd/internal/store"
)

// reconcileGroups aligns the source's group memberships with the parsed
// group set in one transaction. Upstream identifiers (xc_id) are overwritten;
// user annotations are preserved byte for byte. Memberships whose group
// vanished upstream are deleted, cascading to group rows that end up with no
// memberships and no channels.
func reconcileGroups(ctx context.Context, deps Deps, src domain.Source, parsed m3u.Groups) error {
	names := make([]string, 0, len(parsed))
	for name := range parsed {
		names = append(names, name)
	}

	groups, err := deps.Store.CreateGroups(ctx, names)
	if err != nil {
		return fmt.Errorf("reconcile groups: %w", err)
	}

	existing, err := deps.Store.MembershipsForSource(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("reconcile groups: %w", err)
	}
	byName := make(map[string]domain.GroupMembership, len(existing))
	for _, m := range existing {
		byName[m.GroupName] = m
	}

	var changes store.MembershipChanges
	deletedGroupIDs := make([]int64, 0)

	for name, info := range parsed {
		group := groups[name]
		current, ok := byName[name]
		if !ok {
			props := domain.Bag{}
			if info.XCID != "" {
				props[domain.XCIDKey] = info.XCID
			}
			changes.Create = append(changes.Create, domain.GroupMembership{
				SourceID:         src.ID,
				GroupID:          group.ID,
				Enabled:          true,
				CustomProperties: props,
			})
			deps.Bus.Publish(ctx, events.GroupCreated, map[string]any{
				"source_id": src.ID, "group": name,
			})
			continue
		}
		// Overwrite the upstream key only when it actually changed, so user
		// keys stay untouched on the common path.
		if current.CustomProperties.String(domain.XCIDKey) != info.XCID {
			props := current.CustomProperties.Clone()
			if info.XCID == "" {
				delete(props, domain.XCIDKey)
			} else {
				props[domain.XCIDKey] = info.XCID
			}
			current.CustomProperties = props
			changes.Update = append(changes.Update, current)
			deps.Bus.Publish(ctx, events.GroupUpdated, map[string]any{
				"source_id": src.ID, "group": name,
			})
		}
	}

	for name, m := range byName {
		if _, stillPresent := parsed[name]; !stillPresent {
			changes.Delete = append(changes.Delete, m.ID)
			deletedGroupIDs = append(deletedGroupIDs, m.GroupID)
		}
	}

	if err := deps.Store.ApplyMembershipChanges(ctx, changes); err != nil {
		return fmt.Errorf("reconcile groups: %w", err)
	}

	for _, groupID := range deletedGroupIDs {
		deleted, err := deps.Store.DeleteGroupIfOrphaned(ctx, groupID)
		if err != nil {
			return fmt.Errorf("reconcile groups: %w", err)
		}
		if deleted {
			deps.Bus.Publish(ctx, events.GroupDeleted, map[string]any{
				"source_id": src.ID, "group_id": groupID,
			})
		}
	}
	return nil
}
