// SPDX-License-Identifier: MIT

// Package channels materializes auto-created channels from the streams of
// auto-sync-enabled groups: stable numbering, optional rename, profile
// binding and orphan deletion.
package channels

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/store"
)

// Projector synchronizes the auto-channel projection for one source.
type Projector struct {
	Store *store.Store
	Bus   events.Bus
	Log   zerolog.Logger
}

// Stats counts the projection's channel mutations.
type Stats struct {
	Created int
	Updated int
	Deleted int
}

// SyncSource walks every enabled membership with auto_channel_sync and
// aligns its auto channels with the group's current streams, then sweeps
// channels orphaned by pruning. Channel UUIDs are never regenerated; only
// assigned numbers shift to preserve sort order.
func (p *Projector) SyncSource(ctx context.Context, src domain.Source, scanStart time.Time) (Stats, error) {
	var stats Stats

	memberships, err := p.Store.MembershipsForSource(ctx, src.ID)
	if err != nil {
		return stats, fmt.Errorf("channels: %w", err)
	}

	blocked, err := p.Store.BlockedNumbers(ctx, src.ID)
	if err != nil {
		return stats, fmt.Errorf("channels: %w", err)
	}
	// Numbers assigned during this sync are reserved across groups of the
	// same source so two groups cannot land on the same slot.
	assigned := make(map[float64]bool)

	var profiles []domain.ChannelProfile
	profilesLoaded := false

	for _, m := range memberships {
		if !m.Enabled {
			continue
		}
		opts := domain.SyncOptionsFromBag(m.CustomProperties)
		if !opts.AutoChannelSync {
			continue
		}

		if !profilesLoaded {
			profiles, err = p.Store.ListChannelProfiles(ctx)
			if err != nil {
				return stats, fmt.Errorf("channels: %w", err)
			}
			profilesLoaded = true
		}

		groupStats, err := p.syncGroup(ctx, src, m, opts, scanStart, blocked, assigned, profiles)
		if err != nil {
			return stats, err
		}
		stats.Created += groupStats.Created
		stats.Updated += groupStats.Updated
		stats.Deleted += groupStats.Deleted
	}

	// Orphan sweep: auto channels left without any edge to a stream still
	// owned by this source (covers streams the pruner removed).
	orphans, err := p.Store.OrphanAutoChannels(ctx, src.ID)
	if err != nil {
		return stats, fmt.Errorf("channels: %w", err)
	}
	if len(orphans) > 0 {
		if err := p.Store.DeleteChannels(ctx, orphans); err != nil {
			return stats, fmt.Errorf("channels: %w", err)
		}
		stats.Deleted += len(orphans)
		for _, id := range orphans {
			p.Bus.Publish(ctx, events.ChannelDeleted, map[string]any{"channel_id": id})
		}
	}
	return stats, nil
}

func (p *Projector) syncGroup(ctx context.Context, src domain.Source, m domain.GroupMembership,
	opts domain.SyncOptions, scanStart time.Time, blocked, assigned map[float64]bool,
	profiles []domain.ChannelProfile) (Stats, error) {

	var stats Stats

	streams, err := p.Store.StreamsForGroup(ctx, src.ID, m.GroupID, scanStart)
	if err != nil {
		return stats, fmt.Errorf("channels: %w", err)
	}
	if opts.NameMatchRegex != "" {
		re, err := regexp.Compile(opts.NameMatchRegex)
		if err != nil {
			p.Log.Warn().Err(err).
				Int64("source_id", src.ID).
				Str("group", m.GroupName).
				Msg("invalid name match regex, skipping pre-filter")
		} else {
			kept := streams[:0]
			for _, st := range streams {
				if re.MatchString(st.Name) {
					kept = append(kept, st)
				}
			}
			streams = kept
		}
	}
	sortStreams(streams, opts.SortOrder, opts.SortReverse)

	rename, err := domain.CompileNameRewrite(opts.NameRegexPattern, opts.NameReplacePattern)
	if err != nil {
		p.Log.Warn().Err(err).
			Int64("source_id", src.ID).
			Str("group", m.GroupName).
			Msg("invalid rename pattern, keeping upstream names")
		rename = nil
	}

	existing, err := p.Store.AutoChannelsByStream(ctx, src.ID, m.GroupID)
	if err != nil {
		return stats, fmt.Errorf("channels: %w", err)
	}

	desiredProfiles := opts.ChannelProfileIDs
	if len(desiredProfiles) == 0 {
		desiredProfiles = make([]int64, 0, len(profiles))
		for _, prof := range profiles {
			desiredProfiles = append(desiredProfiles, prof.ID)
		}
	}

	groupID := m.GroupID
	if opts.GroupOverride != nil {
		groupID = *opts.GroupOverride
	}

	// Single numbering pass with one shared counter: each stream in sort
	// order takes the next free integer slot at or above the counter.
	counter := opts.StartNumber
	if counter < 1 {
		counter = 1
	}
	nextNumber := func() float64 {
		for blocked[counter] || assigned[counter] {
			counter++
		}
		n := counter
		assigned[n] = true
		counter++
		return n
	}

	renumber := make(map[int64]float64)
	seen := make(map[int64]bool, len(streams))

	for _, st := range streams {
		seen[st.ID] = true
		name := st.Name
		if rename != nil {
			name = rename(name)
		}

		ch, exists := existing[st.ID]
		number := nextNumber()

		logoID, err := p.Store.FindOrCreateLogo(ctx, st.LogoURL)
		if err != nil {
			return stats, fmt.Errorf("channels: %w", err)
		}
		var epgID *int64
		if !opts.ForceDummyEPG {
			epg, err := p.Store.FindEPGData(ctx, st.TvgID)
			if err != nil {
				return stats, fmt.Errorf("channels: %w", err)
			}
			if epg != nil {
				epgID = &epg.ID
			}
		}

		if exists {
			if ch.Number != number {
				renumber[ch.ID] = number
			}
			updated, err := p.updateChannel(ctx, ch, name, st, groupID, logoID, epgID, opts, desiredProfiles)
			if err != nil {
				return stats, err
			}
			if updated {
				stats.Updated++
			}
			continue
		}

		created := domain.Channel{
			UUID:            uuid.NewString(),
			Number:          number,
			Name:            name,
			TvgID:           st.TvgID,
			GuideStationID:  st.TvgID,
			LogoID:          logoID,
			EPGDataID:       epgID,
			GroupID:         &groupID,
			StreamProfileID: opts.StreamProfileID,
			AutoCreated:     true,
			AutoCreatedBy:   &src.ID,
		}
		if err := p.Store.CreateChannel(ctx, &created); err != nil {
			return stats, fmt.Errorf("channels: %w", err)
		}
		if err := p.Store.AddChannelStream(ctx, domain.ChannelStream{ChannelID: created.ID, StreamID: st.ID}); err != nil {
			return stats, fmt.Errorf("channels: %w", err)
		}
		if err := p.Store.SyncProfileMemberships(ctx, created.ID, desiredProfiles); err != nil {
			return stats, fmt.Errorf("channels: %w", err)
		}
		stats.Created++
		p.Bus.Publish(ctx, events.ChannelCreated, map[string]any{
			"channel_id": created.ID, "uuid": created.UUID, "name": created.Name,
		})
		p.Bus.Publish(ctx, events.ChannelStreamAdded, map[string]any{
			"channel_id": created.ID, "stream_id": st.ID,
		})
	}

	if err := p.Store.UpdateChannelNumbers(ctx, renumber); err != nil {
		return stats, fmt.Errorf("channels: %w", err)
	}

	// Channels whose stream fell out of the current batch are deleted.
	var stale []int64
	for streamID, ch := range existing {
		if !seen[streamID] {
			stale = append(stale, ch.ID)
		}
	}
	if len(stale) > 0 {
		if err := p.Store.DeleteChannels(ctx, stale); err != nil {
			return stats, fmt.Errorf("channels: %w", err)
		}
		stats.Deleted += len(stale)
		for _, id := range stale {
			p.Bus.Publish(ctx, events.ChannelDeleted, map[string]any{"channel_id": id})
		}
	}
	return stats, nil
}

// updateChannel applies attribute drift to an existing auto channel and
// keeps its profile memberships aligned. The number is handled by the bulk
// renumber pass.
func (p *Projector) updateChannel(ctx context.Context, ch domain.Channel, name string, st domain.Stream,
	groupID int64, logoID, epgID *int64, opts domain.SyncOptions, desiredProfiles []int64) (bool, error) {

	next := ch
	next.Name = name
	next.TvgID = st.TvgID
	next.GuideStationID = st.TvgID
	next.LogoID = logoID
	next.EPGDataID = epgID
	next.GroupID = &groupID
	if opts.StreamProfileID != nil {
		next.StreamProfileID = opts.StreamProfileID
	}

	changed := next.Name != ch.Name || next.TvgID != ch.TvgID ||
		next.GuideStationID != ch.GuideStationID ||
		!idPtrEqual(next.LogoID, ch.LogoID) ||
		!idPtrEqual(next.EPGDataID, ch.EPGDataID) ||
		!idPtrEqual(next.GroupID, ch.GroupID) ||
		!idPtrEqual(next.StreamProfileID, ch.StreamProfileID)
	if changed {
		if err := p.Store.UpdateChannel(ctx, next); err != nil {
			return false, fmt.Errorf("channels: %w", err)
		}
		p.Bus.Publish(ctx, events.ChannelUpdated, map[string]any{
			"channel_id": next.ID, "name": next.Name,
		})
	}

	synced, err := p.syncProfiles(ctx, ch.ID, desiredProfiles)
	if err != nil {
		return false, err
	}
	return changed || synced, nil
}

// syncProfiles reconciles the channel's profile memberships with the desired
// set, touching storage only on drift.
func (p *Projector) syncProfiles(ctx context.Context, channelID int64, desired []int64) (bool, error) {
	current, err := p.Store.ProfileMembershipsForChannel(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("channels: %w", err)
	}
	enabled := make(map[int64]bool)
	for _, m := range current {
		if m.Enabled {
			enabled[m.ProfileID] = true
		}
	}
	want := make(map[int64]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}
	if len(enabled) == len(want) {
		same := true
		for id := range want {
			if !enabled[id] {
				same = false
				break
			}
		}
		if same {
			return false, nil
		}
	}
	if err := p.Store.SyncProfileMemberships(ctx, channelID, desired); err != nil {
		return false, fmt.Errorf("channels: %w", err)
	}
	return true, nil
}

func idPtrEqual(a, b *int64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}
