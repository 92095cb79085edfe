// SPDX-License-Identifier: MIT

package refresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/locks"
	"github.com/fluxtv/ingestd/internal/metrics"
	"github.com/fluxtv/ingestd/internal/progress"
)

const rehashBatchSize = 1500

// RehashStats summarizes one rehash run, carried on the final progress
// event.
type RehashStats struct {
	TotalProcessed   int `json:"total_processed"`
	DuplicatesMerged int `json:"duplicates_merged"`
	FinalCount       int `json:"final_count"`
}

// ErrRehashBlocked is returned when some source's refresh lock could not be
// acquired; the rehash refuses to run alongside any refresh.
var ErrRehashBlocked = errors.New("rehash: blocked by an in-flight refresh")

// Rehash recomputes every stream's hash under the new key list and merges
// the duplicates the change produces, preserving channel-stream edges. It is
// cluster-exclusive: it holds the rehash lock plus the refresh lock of every
// active source for its whole duration.
func (o *Orchestrator) Rehash(ctx context.Context, keys []domain.HashKey) (RehashStats, error) {
	deps := o.deps
	var stats RehashStats

	if _, err := domain.ParseHashKeys(hashKeyStrings(keys)); err != nil {
		return stats, fmt.Errorf("rehash: %w", err)
	}

	rehashLock, err := deps.Locks.Acquire(ctx, locks.OpRehashStreams, 0)
	if errors.Is(err, locks.ErrContended) {
		return stats, o.rehashBlocked(ctx)
	}
	if err != nil {
		return stats, fmt.Errorf("rehash: %w", err)
	}
	defer rehashLock.Release(ctx)

	sources, err := deps.Store.ListActiveSources(ctx)
	if err != nil {
		return stats, fmt.Errorf("rehash: %w", err)
	}
	var held []*locks.Lock
	defer locks.ReleaseAll(ctx, held)
	for _, src := range sources {
		lock, err := deps.Locks.Acquire(ctx, locks.OpRefreshSource, src.ID)
		if errors.Is(err, locks.ErrContended) {
			return stats, o.rehashBlocked(ctx)
		}
		if err != nil {
			return stats, fmt.Errorf("rehash: %w", err)
		}
		held = append(held, lock)
	}

	if err := deps.Store.SetHashKeys(ctx, keys); err != nil {
		return stats, fmt.Errorf("rehash: %w", err)
	}

	// hash -> surviving stream id, for collisions within this run.
	survivors := make(map[string]int64)

	var afterID int64
	for {
		batch, err := deps.Store.StreamsBatch(ctx, afterID, rehashBatchSize)
		if err != nil {
			return stats, fmt.Errorf("rehash: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, st := range batch {
			afterID = st.ID
			stats.TotalProcessed++

			newHash := domain.StreamHash(keys, st.Name, st.URL, st.TvgID, st.SourceID)
			if st.Hash == newHash {
				survivors[newHash] = st.ID
				continue
			}

			survivorID, collides := survivors[newHash]
			if !collides {
				// A stream later in the table may already hold the hash.
				other, err := deps.Store.StreamByHash(ctx, newHash)
				if err == nil {
					survivorID = other.ID
					collides = true
				}
			}
			if !collides {
				if err := deps.Store.UpdateStreamHash(ctx, st.ID, newHash); err != nil {
					return stats, fmt.Errorf("rehash: %w", err)
				}
				survivors[newHash] = st.ID
				continue
			}

			merged, err := o.mergeDuplicate(ctx, st, survivorID)
			if err != nil {
				return stats, err
			}
			survivors[newHash] = merged
			stats.DuplicatesMerged++
		}

		deps.Progress.Report(ctx, progress.Update{
			Action:   progress.ActionProcessingGroups,
			Progress: 50, // unknown total; final event carries the stats
			Message:  fmt.Sprintf("rehashed %d streams", stats.TotalProcessed),
		})
	}

	count, err := deps.Store.CountStreams(ctx)
	if err != nil {
		return stats, fmt.Errorf("rehash: %w", err)
	}
	stats.FinalCount = int(count)
	metrics.RecordRehashMerged(stats.DuplicatesMerged)

	deps.Progress.Report(ctx, progress.Update{
		Action:   progress.ActionProcessingGroups,
		Progress: 100,
		Status:   "success",
		Message: fmt.Sprintf("rehash complete: %d processed, %d merged, %d remaining",
			stats.TotalProcessed, stats.DuplicatesMerged, stats.FinalCount),
	})
	deps.Log.Info().
		Int("processed", stats.TotalProcessed).
		Int("merged", stats.DuplicatesMerged).
		Int("remaining", stats.FinalCount).
		Msg("rehash complete")
	return stats, nil
}

// mergeDuplicate folds the duplicate stream into the survivor: edges are
// repointed (or dropped when the survivor already carries them), the newer
// record's mutable fields win, and the duplicate row is deleted. Returns the
// surviving stream id.
func (o *Orchestrator) mergeDuplicate(ctx context.Context, dup domain.Stream, survivorID int64) (int64, error) {
	deps := o.deps

	survivor, err := deps.Store.StreamByID(ctx, survivorID)
	if err != nil {
		return 0, fmt.Errorf("rehash: survivor %d: %w", survivorID, err)
	}

	edges, err := deps.Store.EdgesForStream(ctx, dup.ID)
	if err != nil {
		return 0, fmt.Errorf("rehash: %w", err)
	}
	for _, edge := range edges {
		has, err := deps.Store.ChannelHasStream(ctx, edge.ChannelID, survivor.ID)
		if err != nil {
			return 0, fmt.Errorf("rehash: %w", err)
		}
		if has {
			if err := deps.Store.DeleteChannelStream(ctx, edge.ChannelID, dup.ID); err != nil {
				return 0, fmt.Errorf("rehash: %w", err)
			}
			deps.Bus.Publish(ctx, events.ChannelStreamRemoved, map[string]any{
				"channel_id": edge.ChannelID, "stream_id": dup.ID,
			})
			continue
		}
		if err := deps.Store.RepointChannelStream(ctx, edge.ChannelID, dup.ID, survivor.ID); err != nil {
			return 0, fmt.Errorf("rehash: %w", err)
		}
	}

	if dup.UpdatedAt.After(survivor.UpdatedAt) {
		survivor.Name = dup.Name
		survivor.URL = dup.URL
		survivor.LogoURL = dup.LogoURL
		survivor.TvgID = dup.TvgID
		survivor.GroupID = dup.GroupID
		survivor.CustomProperties = dup.CustomProperties
		survivor.UpdatedAt = dup.UpdatedAt
		if dup.LastSeen.After(survivor.LastSeen) {
			survivor.LastSeen = dup.LastSeen
		}
		if err := deps.Store.UpdateStreamFields(ctx, survivor); err != nil {
			return 0, fmt.Errorf("rehash: %w", err)
		}
	}

	if err := deps.Store.DeleteStream(ctx, dup.ID); err != nil {
		return 0, fmt.Errorf("rehash: %w", err)
	}
	return survivor.ID, nil
}

func (o *Orchestrator) rehashBlocked(ctx context.Context) error {
	o.deps.Progress.Report(ctx, progress.Update{
		Action:  progress.ActionProcessingGroups,
		Status:  "error",
		Message: "blocked",
	})
	return ErrRehashBlocked
}

func hashKeyStrings(keys []domain.HashKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
