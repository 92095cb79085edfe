// SPDX-License-Identifier: MIT

package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/fetch"
	"github.com/fluxtv/ingestd/internal/locks"
	ilog "github.com/fluxtv/ingestd/internal/log"
	"github.com/fluxtv/ingestd/internal/m3u"
	"github.com/fluxtv/ingestd/internal/metrics"
	"github.com/fluxtv/ingestd/internal/progress"
	"github.com/fluxtv/ingestd/internal/xtream"
)

// Orchestrator runs the refresh state machine for one source at a time,
// owning status transitions and the task lock.
type Orchestrator struct {
	deps Deps
}

// New builds an orchestrator over the given collaborators.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// ErrLockContended is returned when another worker is already refreshing the
// source. The source's status is left untouched.
var ErrLockContended = errors.New("refresh: already in progress")

// logFor attaches the trigger's correlation id, when the caller supplied one.
func (o *Orchestrator) logFor(ctx context.Context) zerolog.Logger {
	if jid := ilog.JobIDFromContext(ctx); jid != "" {
		return o.deps.Log.With().Str(ilog.FieldJobID, jid).Logger()
	}
	return o.deps.Log
}

// RefreshSource runs one full refresh for the source. useCache skips the
// fetch and parse phases by replaying the last cached payload.
func (o *Orchestrator) RefreshSource(ctx context.Context, sourceID int64, useCache bool) (Stats, error) {
	deps := o.deps
	logger := o.logFor(ctx)
	var stats Stats

	lock, err := deps.Locks.Acquire(ctx, locks.OpRefreshSource, sourceID)
	if errors.Is(err, locks.ErrContended) {
		logger.Info().Int64("source_id", sourceID).Msg("refresh skipped, lock held")
		metrics.RecordRefresh("contended", 0)
		return stats, ErrLockContended
	}
	if err != nil {
		return stats, fmt.Errorf("refresh: %w", err)
	}
	defer lock.Release(ctx)

	src, err := deps.Store.GetSource(ctx, sourceID)
	if err != nil {
		return stats, fmt.Errorf("refresh: %w", err)
	}
	if !src.Enabled {
		return stats, fmt.Errorf("refresh: source %d is disabled", sourceID)
	}

	started := time.Now()
	deps.Bus.Publish(ctx, events.RefreshStarted, map[string]any{"source_id": src.ID})

	stats, err = o.run(ctx, src, useCache)
	stats.Elapsed = time.Since(started)
	if err != nil {
		o.fail(ctx, src, err)
		metrics.RecordRefresh("failure", stats.Elapsed)
		return stats, err
	}
	metrics.RecordRefresh("success", stats.Elapsed)
	metrics.RecordStreams(stats.Created, stats.Updated, stats.Deleted)
	metrics.RecordChannels(stats.ChannelsCreated, stats.ChannelsUpdated, stats.ChannelsDeleted)

	message := fmt.Sprintf("refreshed: %d created, %d updated, %d deleted",
		stats.Created, stats.Updated, stats.Deleted)
	if err := deps.Store.SetSourceStatus(ctx, src.ID, domain.StatusSuccess, message); err != nil {
		return stats, fmt.Errorf("refresh: %w", err)
	}
	deps.Bus.Publish(ctx, events.RefreshCompleted, map[string]any{
		"source_id": src.ID,
		"stats":     stats,
		"elapsed":   stats.Elapsed.Seconds(),
	})
	deps.Progress.Report(ctx, progress.Update{
		SourceID:       src.ID,
		Action:         progress.ActionParsing,
		Progress:       100,
		Status:         "success",
		Message:        message,
		StreamsCreated: stats.Created,
		StreamsUpdated: stats.Updated,
		StreamsDeleted: stats.Deleted,
	})
	logger.Info().
		Int64("source_id", src.ID).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("deleted", stats.Deleted).
		Dur("elapsed", stats.Elapsed).
		Msg("refresh complete")
	return stats, nil
}

// run executes the strictly sequential phases:
// fetch, parse, reconcile groups, upsert, prune, project channels.
func (o *Orchestrator) run(ctx context.Context, src domain.Source, useCache bool) (Stats, error) {
	deps := o.deps
	var stats Stats

	scanStart := time.Now().UTC()

	parsed, groups, err := o.acquire(ctx, src, useCache)
	if err != nil {
		return stats, err
	}

	if err := deps.Store.SetSourceStatus(ctx, src.ID, domain.StatusParsing, ""); err != nil {
		return stats, err
	}
	deps.Progress.Report(ctx, progress.Update{
		SourceID: src.ID, Action: progress.ActionProcessingGroups, Progress: 0,
	})
	if err := reconcileGroups(ctx, deps, src, groups); err != nil {
		return stats, err
	}
	deps.Progress.Report(ctx, progress.Update{
		SourceID: src.ID, Action: progress.ActionProcessingGroups, Progress: 100,
	})

	enabled, err := deps.Store.EnabledGroupsForSource(ctx, src.ID)
	if err != nil {
		return stats, err
	}
	hashKeys, err := deps.Store.HashKeys(ctx)
	if err != nil {
		return stats, err
	}
	filters, err := deps.Store.FiltersForSource(ctx, src.ID)
	if err != nil {
		return stats, err
	}

	workers := playlistWorkers
	if src.Kind == domain.KindCatalog {
		workers = catalogWorkers
		// Regex filters are a playlist-dialect feature.
		filters = nil
	}
	stats.Created, stats.Updated = upsertStreams(ctx, deps, src, parsed, enabled, hashKeys, filters, scanStart, workers)

	stats.Deleted, err = pruneStale(ctx, deps, src, scanStart)
	if err != nil {
		return stats, err
	}

	chanStats, err := deps.Projector.SyncSource(ctx, src, scanStart)
	if err != nil {
		return stats, err
	}
	stats.ChannelsCreated = chanStats.Created
	stats.ChannelsUpdated = chanStats.Updated
	stats.ChannelsDeleted = chanStats.Deleted
	return stats, nil
}

// acquire produces the parsed payload: from the cache when requested, else
// by fetching and parsing the source's dialect. The fresh payload replaces
// the cache on the way out.
func (o *Orchestrator) acquire(ctx context.Context, src domain.Source, useCache bool) ([]m3u.ParsedStream, m3u.Groups, error) {
	deps := o.deps

	if useCache {
		payload, err := deps.Cache.Read(src.ID)
		if err != nil {
			return nil, nil, err
		}
		if payload != nil {
			deps.Log.Info().Int64("source_id", src.ID).Msg("replaying cached payload")
			return payload.ExtinfData, payload.Groups, nil
		}
		deps.Log.Warn().Int64("source_id", src.ID).Msg("cache miss, fetching upstream")
	}

	if err := deps.Store.SetSourceStatus(ctx, src.ID, domain.StatusFetching, ""); err != nil {
		return nil, nil, err
	}

	var (
		parsed []m3u.ParsedStream
		groups m3u.Groups
	)
	switch src.Kind {
	case domain.KindCatalog:
		var err error
		parsed, groups, err = o.fetchCatalog(ctx, src)
		if err != nil {
			return nil, nil, err
		}
	default:
		lines, err := deps.Fetcher.Playlist(ctx, src)
		if err != nil {
			return nil, nil, err
		}
		parsed, groups = m3u.Parse(lines)
	}

	if err := deps.Cache.Write(src.ID, fetch.Payload{ExtinfData: parsed, Groups: groups}); err != nil {
		deps.Log.Warn().Err(err).Int64("source_id", src.ID).Msg("payload cache write failed")
	}
	return parsed, groups, nil
}

// fetchCatalog pulls the catalog dialect: authenticate, categories, one bulk
// streams request, plus VOD when the source opts in.
func (o *Orchestrator) fetchCatalog(ctx context.Context, src domain.Source) ([]m3u.ParsedStream, m3u.Groups, error) {
	deps := o.deps
	if len(src.URLs) == 0 {
		return nil, nil, fmt.Errorf("catalog source %d has no URLs", src.ID)
	}
	if src.Username == "" || src.Password == "" {
		return nil, nil, fmt.Errorf("catalog source %d is missing credentials", src.ID)
	}

	var lastErr error
	for _, base := range src.URLs {
		client := xtream.New(base, src.Username, src.Password, deps.HTTP, deps.Log)
		if err := client.Authenticate(ctx); err != nil {
			lastErr = err
			if errors.Is(err, xtream.ErrAuthFailed) {
				return nil, nil, err
			}
			continue
		}
		cats, err := client.LiveCategories(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		streams, err := client.LiveStreams(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		parsed, groups := xtream.Normalize(cats, streams, client.LiveURL)

		if src.VODEnabled() {
			vodCats, err := client.VODCategories(ctx)
			if err == nil {
				vodStreams, err := client.VODStreams(ctx)
				if err == nil {
					vodParsed, vodGroups := xtream.Normalize(vodCats, vodStreams, func(id string) string {
						return client.VODURL(id, "")
					})
					for i := range vodParsed {
						vodParsed[i].Attrs["content_type"] = "vod"
					}
					parsed = append(parsed, vodParsed...)
					for name, info := range vodGroups {
						if _, exists := groups[name]; !exists {
							groups[name] = info
						}
					}
				}
			}
			if err != nil {
				deps.Log.Warn().Err(err).Int64("source_id", src.ID).Msg("vod catalog pull failed, continuing with live")
			}
		}
		return parsed, groups, nil
	}
	return nil, nil, fmt.Errorf("catalog fetch failed: %w", lastErr)
}

// fail records the terminal error on the source and mirrors it to the bus
// and progress channel.
func (o *Orchestrator) fail(ctx context.Context, src domain.Source, cause error) {
	deps := o.deps
	message := cause.Error()
	var statusErr *fetch.StatusError
	if errors.As(cause, &statusErr) && statusErr.Snippet != "" {
		message = fmt.Sprintf("%s: %s", statusErr.Error(), statusErr.Snippet)
	}
	if err := deps.Store.SetSourceStatus(ctx, src.ID, domain.StatusError, message); err != nil {
		deps.Log.Error().Err(err).Int64("source_id", src.ID).Msg("failed to record error status")
	}
	deps.Bus.Publish(ctx, events.RefreshFailed, map[string]any{
		"source_id": src.ID, "error": message,
	})
	deps.Progress.Report(ctx, progress.Update{
		SourceID: src.ID,
		Action:   progress.ActionDownloading,
		Status:   "error",
		Message:  message,
	})
	logger := o.logFor(ctx)
	logger.Error().Err(cause).Int64("source_id", src.ID).Msg("refresh failed")
}

// RefreshSourceGroups re-acquires the payload and reconciles only the group
// set, leaving streams and channels untouched. Used when the caller wants
// the group list without paying for a full refresh.
func (o *Orchestrator) RefreshSourceGroups(ctx context.Context, sourceID int64) error {
	deps := o.deps

	lock, err := deps.Locks.Acquire(ctx, locks.OpRefreshGroups, sourceID)
	if errors.Is(err, locks.ErrContended) {
		return ErrLockContended
	}
	if err != nil {
		return fmt.Errorf("refresh groups: %w", err)
	}
	defer lock.Release(ctx)

	src, err := deps.Store.GetSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("refresh groups: %w", err)
	}

	_, groups, err := o.acquire(ctx, src, true)
	if err != nil {
		o.fail(ctx, src, err)
		return err
	}
	if err := reconcileGroups(ctx, deps, src, groups); err != nil {
		o.fail(ctx, src, err)
		return err
	}
	return deps.Store.SetSourceStatus(ctx, src.ID, domain.StatusSuccess, "groups refreshed")
}

// RefreshAllActive runs a refresh for every enabled source in turn. Lock
// contention on individual sources is benign and skipped.
func (o *Orchestrator) RefreshAllActive(ctx context.Context) error {
	sources, err := o.deps.Store.ListActiveSources(ctx)
	if err != nil {
		return fmt.Errorf("refresh all: %w", err)
	}
	for _, src := range sources {
		if _, err := o.RefreshSource(ctx, src.ID, false); err != nil && !errors.Is(err, ErrLockContended) {
			o.deps.Log.Warn().Err(err).Int64("source_id", src.ID).Msg("source refresh failed")
		}
	}
	return nil
}
