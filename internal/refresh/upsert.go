// SPDX-License-Identifier: MIT

package refresh

import (
	"context"
	"reflect"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/m3u"
	"github.com/fluxtv/ingestd/internal/progress"
)

type compiledFilter struct {
	typ     domain.FilterType
	re      *regexp.Regexp
	exclude bool
}

// compileFilters prepares the source's ordered filter list. Invalid patterns
// are logged and skipped rather than failing the refresh.
func compileFilters(deps Deps, src domain.Source, filters []domain.Filter) []compiledFilter {
	out := make([]compiledFilter, 0, len(filters))
	for _, f := range filters {
		pattern := f.Pattern
		if !f.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			deps.Log.Warn().Err(err).
				Int64("source_id", src.ID).
				Str("pattern", f.Pattern).
				Msg("skipping invalid stream filter")
			continue
		}
		out = append(out, compiledFilter{typ: f.Type, re: re, exclude: f.Exclude})
	}
	return out
}

// included walks the filters in order; the first match decides. No match
// means included.
func included(filters []compiledFilter, ps m3u.ParsedStream, groupName string) bool {
	for _, f := range filters {
		var subject string
		switch f.typ {
		case domain.FilterName:
			subject = ps.Name
		case domain.FilterURL:
			subject = ps.URL
		case domain.FilterGroup:
			subject = groupName
		}
		if f.re.MatchString(subject) {
			return !f.exclude
		}
	}
	return true
}

// buildStream materializes the persisted shape of one parsed record.
func buildStream(ps m3u.ParsedStream, src domain.Source, hashKeys []domain.HashKey, groupID *int64, now time.Time) domain.Stream {
	props := make(domain.Bag, len(ps.Attrs))
	for k, v := range ps.Attrs {
		props[k] = v
	}
	return domain.Stream{
		Hash:             domain.StreamHash(hashKeys, ps.Name, ps.URL, ps.Attr("tvg-id"), src.ID),
		Name:             ps.Name,
		URL:              ps.URL,
		LogoURL:          ps.Attr("tvg-logo"),
		TvgID:            ps.Attr("tvg-id"),
		SourceID:         src.ID,
		GroupID:          groupID,
		CustomProperties: props,
		LastSeen:         now,
		UpdatedAt:        now,
	}
}

// meaningfulChange compares the fields a refresh may alter. last_seen and
// updated_at are excluded by definition.
func meaningfulChange(old, incoming domain.Stream) bool {
	if old.Name != incoming.Name || old.URL != incoming.URL ||
		old.LogoURL != incoming.LogoURL || old.TvgID != incoming.TvgID {
		return true
	}
	if (old.GroupID == nil) != (incoming.GroupID == nil) {
		return true
	}
	if old.GroupID != nil && *old.GroupID != *incoming.GroupID {
		return true
	}
	return !reflect.DeepEqual(old.CustomProperties, incoming.CustomProperties)
}

// upsertStreams filters, hashes, batches and persists the parsed streams
// with a bounded worker pool. Worker errors are logged and the batch counted
// complete so progress never stalls; the first error is still reported in
// the returned stats message path.
func upsertStreams(ctx context.Context, deps Deps, src domain.Source, parsed []m3u.ParsedStream,
	enabled map[string]int64, hashKeys []domain.HashKey, filters []domain.Filter,
	scanStart time.Time, workers int) (created, updated int) {

	compiled := compileFilters(deps, src, filters)

	// Streams in disabled or unknown groups are skipped up front.
	records := make([]domain.Stream, 0, len(parsed))
	for _, ps := range parsed {
		groupName := ps.GroupTitle()
		groupID, enabledGroup := enabled[groupName]
		if !enabledGroup {
			continue
		}
		if !included(compiled, ps, groupName) {
			continue
		}
		gid := groupID
		records = append(records, buildStream(ps, src, hashKeys, &gid, scanStart))
	}

	var batches [][]domain.Stream
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	if len(batches) == 0 {
		return 0, 0
	}

	var (
		mu          sync.Mutex
		batchesDone int
		phaseStart  = time.Now()
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, batch := range batches {
		b := batch
		g.Go(func() error {
			c, u := upsertOneBatch(gctx, deps, b, scanStart)

			mu.Lock()
			created += c
			updated += u
			batchesDone++
			done, total := batchesDone, len(batches)
			createdSoFar, updatedSoFar := created, updated
			mu.Unlock()

			elapsed := time.Since(phaseStart)
			u2 := progress.Update{
				SourceID:       src.ID,
				Action:         progress.ActionParsing,
				Progress:       float64(done) / float64(total) * 100,
				Elapsed:        elapsed.Seconds(),
				StreamsCreated: createdSoFar,
				StreamsUpdated: updatedSoFar,
			}
			if done < total {
				u2.ETA = elapsed.Seconds() / float64(done) * float64(total-done)
			}
			deps.Progress.Report(gctx, u2)
			return nil
		})
	}
	_ = g.Wait()
	return created, updated
}

// upsertOneBatch classifies the batch against persisted state and applies it
// in one transaction. Errors are logged and swallowed; the batch is counted
// complete either way.
func upsertOneBatch(ctx context.Context, deps Deps, batch []domain.Stream, now time.Time) (created, updated int) {
	// Dedupe within the batch; first occurrence wins.
	unique := make(map[string]domain.Stream, len(batch))
	hashes := make([]string, 0, len(batch))
	for _, st := range batch {
		if _, seen := unique[st.Hash]; seen {
			continue
		}
		unique[st.Hash] = st
		hashes = append(hashes, st.Hash)
	}

	existing, err := deps.Store.StreamsByHashes(ctx, hashes)
	if err != nil {
		deps.Log.Error().Err(err).Int("batch_size", len(batch)).Msg("batch lookup failed")
		return 0, 0
	}

	var toCreate, toUpdate []domain.Stream
	var toTouch []int64
	for _, hash := range hashes {
		incoming := unique[hash]
		old, ok := existing[hash]
		if !ok {
			toCreate = append(toCreate, incoming)
			continue
		}
		if meaningfulChange(old, incoming) {
			incoming.ID = old.ID
			toUpdate = append(toUpdate, incoming)
		} else {
			toTouch = append(toTouch, old.ID)
		}
	}

	inserted, err := deps.Store.UpsertBatch(ctx, toCreate, toUpdate, toTouch, now)
	if err != nil {
		deps.Log.Error().Err(err).Int("batch_size", len(batch)).Msg("batch upsert failed")
		return 0, 0
	}

	for _, st := range toCreate {
		deps.Bus.Publish(ctx, events.StreamCreated, map[string]any{
			"source_id": st.SourceID, "hash": st.Hash, "name": st.Name,
		})
	}
	for _, st := range toUpdate {
		deps.Bus.Publish(ctx, events.StreamUpdated, map[string]any{
			"source_id": st.SourceID, "id": st.ID, "name": st.Name,
		})
	}
	return int(inserted), len(toUpdate)
}
