// SPDX-License-Identifier: MIT

package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
)

// pruneStale applies the two independent delete predicates: streams in
// disabled groups, and streams unseen past the retention window. The total
// is the sum of both queries' affected rows.
func pruneStale(ctx context.Context, deps Deps, src domain.Source, scanStart time.Time) (int, error) {
	enabled, err := deps.Store.EnabledGroupsForSource(ctx, src.ID)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	ids := make([]int64, 0, len(enabled))
	for _, id := range enabled {
		ids = append(ids, id)
	}

	disabled, err := deps.Store.DeleteStreamsInDisabledGroups(ctx, src.ID, ids)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	retention := time.Duration(src.StaleRetentionDays) * 24 * time.Hour
	cutoff := scanStart.Add(-retention)
	stale, err := deps.Store.DeleteStaleStreams(ctx, src.ID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	total := int(disabled + stale)
	if total > 0 {
		deps.Bus.Publish(ctx, events.StreamDeleted, map[string]any{
			"source_id": src.ID, "count": total,
		})
		deps.Log.Info().
			Int64("source_id", src.ID).
			Int64("disabled_groups", disabled).
			Int64("stale", stale).
			Msg("pruned streams")
	}
	return total, nil
}
