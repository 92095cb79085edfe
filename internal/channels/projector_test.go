// SPDX-License-Identifier: MIT

package channels

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/store"
)

type fixture struct {
	store *store.Store
	bus   *events.MemoryBus
	proj  *Projector
	src   domain.Source
	group domain.Group
}

func newFixture(t *testing.T, syncProps domain.Bag) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	src := domain.Source{Name: "a", Kind: domain.KindPlaylist, Enabled: true, StaleRetentionDays: 7}
	require.NoError(t, s.CreateSource(ctx, &src))

	groups, err := s.CreateGroups(ctx, []string{"Sports"})
	require.NoError(t, err)
	group := groups["Sports"]

	props := domain.Bag{domain.AutoChannelSyncKey: true}
	for k, v := range syncProps {
		props[k] = v
	}
	require.NoError(t, s.ApplyMembershipChanges(ctx, store.MembershipChanges{
		Create: []domain.GroupMembership{{
			SourceID: src.ID, GroupID: group.ID, Enabled: true, CustomProperties: props,
		}},
	}))

	bus := &events.MemoryBus{}
	return &fixture{
		store: s,
		bus:   bus,
		proj:  &Projector{Store: s, Bus: bus, Log: zerolog.Nop()},
		src:   src,
		group: group,
	}
}

func (f *fixture) addStream(t *testing.T, name, tvgID, logo string, seen time.Time) domain.Stream {
	t.Helper()
	url := "http://cdn.test/" + name
	st := domain.Stream{
		Hash: domain.StreamHash(domain.DefaultHashKeys, name, url, tvgID, f.src.ID),
		Name: name, URL: url, LogoURL: logo, TvgID: tvgID,
		SourceID: f.src.ID, GroupID: &f.group.ID,
		LastSeen: seen, UpdatedAt: seen,
	}
	_, err := f.store.UpsertBatch(context.Background(), []domain.Stream{st}, nil, nil, seen)
	require.NoError(t, err)
	stored, err := f.store.StreamByHash(context.Background(), st.Hash)
	require.NoError(t, err)
	return stored
}

func (f *fixture) channels(t *testing.T) map[int64]domain.Channel {
	t.Helper()
	byStream, err := f.store.AutoChannelsByStream(context.Background(), f.src.ID, f.group.ID)
	require.NoError(t, err)
	return byStream
}

func TestProjectionCreateWithRename(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, domain.Bag{
		domain.AutoSyncChannelStartKey: 100.0,
		domain.NameRegexPatternKey:     " HD$",
		domain.NameReplacePatternKey:   "",
	})
	st := f.addStream(t, "Sport HD", "sport1", "http://img.test/l1.png", now)

	stats, err := f.proj.SyncSource(context.Background(), f.src, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)

	chans := f.channels(t)
	require.Len(t, chans, 1)
	ch := chans[st.ID]
	assert.Equal(t, float64(100), ch.Number)
	assert.Equal(t, "Sport", ch.Name)
	assert.True(t, ch.AutoCreated)
	require.NotNil(t, ch.AutoCreatedBy)
	assert.Equal(t, f.src.ID, *ch.AutoCreatedBy)
	assert.NotEmpty(t, ch.UUID)
	require.NotNil(t, ch.LogoID)

	has, err := f.store.ChannelHasStream(context.Background(), ch.ID, st.ID)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, 1, f.bus.Count(events.ChannelCreated))
	assert.Equal(t, 1, f.bus.Count(events.ChannelStreamAdded))
}

func TestProjectionUUIDStableAcrossRuns(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, nil)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	st := f.addStream(t, "Sport", "sport1", "", now)
	ctx := context.Background()

	_, err := f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)
	first := f.channels(t)[st.ID]

	stats, err := f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Zero(t, stats.Deleted)

	second := f.channels(t)[st.ID]
	assert.Equal(t, first.UUID, second.UUID)
	assert.Equal(t, first.ID, second.ID)
}

func TestProjectionNaturalSortAndBlockedNumbers(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, nil)
	ctx := context.Background()

	// Natural sort places "Ch 2" before "Ch 10".
	ten := f.addStream(t, "Ch 10", "", "", now)
	two := f.addStream(t, "Ch 2", "", "", now)

	// Update sort order to name.
	members, err := f.store.MembershipsForSource(ctx, f.src.ID)
	require.NoError(t, err)
	members[0].CustomProperties[domain.ChannelSortOrderKey] = "name"
	require.NoError(t, f.store.ApplyMembershipChanges(ctx, store.MembershipChanges{Update: members}))

	// A foreign channel holds number 2, blocking it.
	foreignSrc := domain.Source{Name: "other", Kind: domain.KindPlaylist, Enabled: true}
	require.NoError(t, f.store.CreateSource(ctx, &foreignSrc))
	foreign := domain.Channel{UUID: "11111111-1111-1111-1111-111111111111", Number: 2, Name: "Taken", AutoCreatedBy: &foreignSrc.ID}
	require.NoError(t, f.store.CreateChannel(ctx, &foreign))

	_, err = f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)

	chans := f.channels(t)
	require.Len(t, chans, 2)
	assert.Equal(t, float64(1), chans[two.ID].Number, "Ch 2 sorts first and takes 1")
	assert.Equal(t, float64(3), chans[ten.ID].Number, "number 2 is blocked by the foreign channel")
}

func TestProjectionDeletesStaleChannels(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, nil)
	ctx := context.Background()
	st := f.addStream(t, "Sport", "", "", now)

	_, err := f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, f.channels(t), 1)

	// The stream disappears upstream and the pruner removes it.
	require.NoError(t, f.store.DeleteStream(ctx, st.ID))

	stats, err := f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.Empty(t, f.channels(t))
	assert.Equal(t, 1, f.bus.Count(events.ChannelDeleted))
}

func TestProjectionProfileBinding(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, nil)
	ctx := context.Background()

	p1 := domain.ChannelProfile{Name: "living-room"}
	p2 := domain.ChannelProfile{Name: "bedroom"}
	require.NoError(t, f.store.CreateChannelProfile(ctx, &p1))
	require.NoError(t, f.store.CreateChannelProfile(ctx, &p2))

	st := f.addStream(t, "Sport", "", "", now)
	_, err := f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)

	// Empty channel_profile_ids means all profiles.
	ch := f.channels(t)[st.ID]
	members, err := f.store.ProfileMembershipsForChannel(ctx, ch.ID)
	require.NoError(t, err)
	enabled := 0
	for _, m := range members {
		if m.Enabled {
			enabled++
		}
	}
	assert.Equal(t, 2, enabled)
}

func TestProjectionEPGBinding(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, nil)
	ctx := context.Background()

	epg := domain.EPGData{TvgID: "sport1"}
	require.NoError(t, f.store.CreateEPGData(ctx, &epg))
	st := f.addStream(t, "Sport", "sport1", "", now)

	_, err := f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)
	ch := f.channels(t)[st.ID]
	require.NotNil(t, ch.EPGDataID)
	assert.Equal(t, epg.ID, *ch.EPGDataID)
}

func TestProjectionForceDummyEPG(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, domain.Bag{domain.ForceDummyEPGKey: true})
	ctx := context.Background()

	epg := domain.EPGData{TvgID: "sport1"}
	require.NoError(t, f.store.CreateEPGData(ctx, &epg))
	st := f.addStream(t, "Sport", "sport1", "", now)

	_, err := f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Nil(t, f.channels(t)[st.ID].EPGDataID)
}

func TestProjectionNameMatchFilter(t *testing.T) {
	now := time.Now().UTC()
	f := newFixture(t, domain.Bag{domain.NameMatchRegexKey: "^Sport"})
	ctx := context.Background()

	sport := f.addStream(t, "Sport One", "", "", now)
	f.addStream(t, "News One", "", "", now)

	_, err := f.proj.SyncSource(ctx, f.src, now.Add(-time.Minute))
	require.NoError(t, err)
	chans := f.channels(t)
	require.Len(t, chans, 1)
	_, ok := chans[sport.ID]
	assert.True(t, ok)
}

func TestSortStreams(t *testing.T) {
	mk := func(id int64, name, tvg string, updated time.Time) domain.Stream {
		return domain.Stream{ID: id, Name: name, TvgID: tvg, UpdatedAt: updated}
	}
	base := time.Now().UTC()
	streams := []domain.Stream{
		mk(3, "Ch 10", "b", base.Add(2*time.Hour)),
		mk(1, "Ch 2", "c", base),
		mk(2, "Ch 1", "a", base.Add(time.Hour)),
	}

	names := func() []string {
		out := make([]string, len(streams))
		for i, s := range streams {
			out[i] = s.Name
		}
		return out
	}

	sortStreams(streams, domain.SortName, false)
	assert.Equal(t, []string{"Ch 1", "Ch 2", "Ch 10"}, names())

	sortStreams(streams, domain.SortTvgID, false)
	assert.Equal(t, []string{"Ch 1", "Ch 10", "Ch 2"}, names())

	sortStreams(streams, domain.SortProvider, false)
	assert.Equal(t, []string{"Ch 2", "Ch 1", "Ch 10"}, names())

	sortStreams(streams, domain.SortName, true)
	assert.Equal(t, []string{"Ch 10", "Ch 2", "Ch 1"}, names())
}
