// SPDX-License-Identifier: MIT

package refresh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxtv/ingestd/internal/channels"
	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/fetch"
	"github.com/fluxtv/ingestd/internal/locks"
	"github.com/fluxtv/ingestd/internal/progress"
	"github.com/fluxtv/ingestd/internal/store"
)

const playlistA = `#EXTM3U
#EXTINF:-1 tvg-id="sport1" tvg-logo="L1" group-title="Sports",Sport HD
http://a.example/s1.ts
#EXTINF:-1 tvg-id="news1" group-title="News",News 24
http://a.example/s2.ts
`

type harness struct {
	deps Deps
	orch *Orchestrator
	bus  *events.MemoryBus
	rep  *progress.MemoryReporter
	mr   *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	bus := &events.MemoryBus{}
	rep := &progress.MemoryReporter{}
	fcfg := fetch.DefaultConfig()
	fcfg.CycleDelay = 10 * time.Millisecond

	deps := Deps{
		Store:     s,
		Locks:     locks.NewManager(rdb, 30*time.Minute, zerolog.Nop()),
		Bus:       bus,
		Progress:  rep,
		Fetcher:   fetch.New(fcfg, nil, rep, zerolog.Nop()),
		Cache:     fetch.NewCache(t.TempDir()),
		Projector: &channels.Projector{Store: s, Bus: bus, Log: zerolog.Nop()},
		Log:       zerolog.Nop(),
	}
	return &harness{deps: deps, orch: New(deps), bus: bus, rep: rep, mr: mr}
}

func (h *harness) addPlaylistSource(t *testing.T, url string) domain.Source {
	t.Helper()
	src := domain.Source{
		Name: "provider", Kind: domain.KindPlaylist, URLs: []string{url},
		Enabled: true, RefreshHours: 24, StaleRetentionDays: 7,
	}
	require.NoError(t, h.deps.Store.CreateSource(context.Background(), &src))
	return src
}

func playlistServer(t *testing.T, body *string, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write([]byte(*body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFreshIngest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := playlistA
	var mu sync.Mutex
	srv := playlistServer(t, &body, &mu)
	src := h.addPlaylistSource(t, srv.URL)

	stats, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Created)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Deleted)

	got, err := h.deps.Store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)

	members, err := h.deps.Store.MembershipsForSource(ctx, src.ID)
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, m := range members {
		names[m.GroupName] = m.Enabled
	}
	assert.True(t, names["Sports"])
	assert.True(t, names["News"])

	streams, err := h.deps.Store.StreamsForSource(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.NotEqual(t, streams[0].Hash, streams[1].Hash)

	assert.Equal(t, 1, h.bus.Count(events.RefreshStarted))
	assert.Equal(t, 1, h.bus.Count(events.RefreshCompleted))
	assert.Equal(t, 2, h.bus.Count(events.StreamCreated))

	last, ok := h.rep.Last(progress.ActionParsing)
	require.True(t, ok)
	assert.Equal(t, "success", last.Status)
}

func TestIdempotentRerun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := playlistA
	var mu sync.Mutex
	srv := playlistServer(t, &body, &mu)
	src := h.addPlaylistSource(t, srv.URL)

	_, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)
	before, err := h.deps.Store.StreamsForSource(ctx, src.ID)
	require.NoError(t, err)

	stats, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Deleted)

	after, err := h.deps.Store.StreamsForSource(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].UpdatedAt, after[i].UpdatedAt, "updated_at must not advance")
		assert.False(t, after[i].LastSeen.Before(before[i].LastSeen), "last_seen refreshes")
	}
}

func TestStreamRenamedUpstream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := playlistA
	var mu sync.Mutex
	srv := playlistServer(t, &body, &mu)
	src := h.addPlaylistSource(t, srv.URL)

	_, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)

	// Rename keeps the hash: the default key list is {url, m3u_account_id}.
	mu.Lock()
	body = `#EXTM3U
#EXTINF:-1 tvg-id="sport1" tvg-logo="L1" group-title="Sports",Sport HD Ultra
http://a.example/s1.ts
#EXTINF:-1 tvg-id="news1" group-title="News",News 24
http://a.example/s2.ts
`
	mu.Unlock()

	stats, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.Deleted)

	streams, err := h.deps.Store.StreamsForSource(ctx, src.ID)
	require.NoError(t, err)
	var found bool
	for _, st := range streams {
		if st.Name == "Sport HD Ultra" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestGroupRemovedUpstream(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := playlistA
	var mu sync.Mutex
	srv := playlistServer(t, &body, &mu)
	src := h.addPlaylistSource(t, srv.URL)

	_, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)

	mu.Lock()
	body = `#EXTM3U
#EXTINF:-1 tvg-id="sport1" tvg-logo="L1" group-title="Sports",Sport HD
http://a.example/s1.ts
`
	mu.Unlock()

	stats, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted, "News 24 pruned with its disabled group")

	members, err := h.deps.Store.MembershipsForSource(ctx, src.ID)
	require.NoError(t, err)
	for _, m := range members {
		assert.NotEqual(t, "News", m.GroupName)
	}

	// The News group row is orphaned and gone.
	groups, err := h.deps.Store.GroupsByNames(ctx, []string{"News"})
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestUserAnnotationsSurviveRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := playlistA
	var mu sync.Mutex
	srv := playlistServer(t, &body, &mu)
	src := h.addPlaylistSource(t, srv.URL)

	_, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)

	// User annotates the Sports membership between refreshes.
	members, err := h.deps.Store.MembershipsForSource(ctx, src.ID)
	require.NoError(t, err)
	for i := range members {
		if members[i].GroupName == "Sports" {
			members[i].CustomProperties[domain.AutoChannelSyncKey] = true
			members[i].CustomProperties[domain.AutoSyncChannelStartKey] = 42.0
			require.NoError(t, h.deps.Store.ApplyMembershipChanges(ctx,
				store.MembershipChanges{Update: members[i : i+1]}))
		}
	}

	_, err = h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)

	members, err = h.deps.Store.MembershipsForSource(ctx, src.ID)
	require.NoError(t, err)
	for _, m := range members {
		if m.GroupName == "Sports" {
			assert.True(t, m.CustomProperties.Bool(domain.AutoChannelSyncKey))
			assert.Equal(t, 42.0, m.CustomProperties.Float(domain.AutoSyncChannelStartKey, 0))
		}
	}
}

func TestRefreshLockContention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.addPlaylistSource(t, "http://unused.test")

	held, err := h.deps.Locks.Acquire(ctx, locks.OpRefreshSource, src.ID)
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = h.orch.RefreshSource(ctx, src.ID, false)
	assert.ErrorIs(t, err, ErrLockContended)

	// Status untouched by the contended attempt.
	got, err := h.deps.Store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, got.Status)
}

func TestFetchFailureSetsErrorStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad credentials"))
	}))
	t.Cleanup(srv.Close)
	src := h.addPlaylistSource(t, srv.URL)

	_, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.Error(t, err)

	got, err := h.deps.Store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Contains(t, got.LastMessage, "authentication required (401)")
	assert.Contains(t, got.LastMessage, "bad credentials")
	assert.Equal(t, 1, h.bus.Count(events.RefreshFailed))

	last, ok := h.rep.Last(progress.ActionDownloading)
	require.True(t, ok)
	assert.Equal(t, "error", last.Status)
}

func TestCachedPayloadReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := playlistA
	var mu sync.Mutex
	srv := playlistServer(t, &body, &mu)
	src := h.addPlaylistSource(t, srv.URL)

	_, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)

	// Kill the upstream; the cached payload still serves a refresh.
	srv.Close()
	stats, err := h.orch.RefreshSource(ctx, src.ID, true)
	require.NoError(t, err)
	assert.Zero(t, stats.Created)

	streams, err := h.deps.Store.StreamsForSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Len(t, streams, 2)
}

func TestFilterExcludesStreams(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := playlistA
	var mu sync.Mutex
	srv := playlistServer(t, &body, &mu)
	src := h.addPlaylistSource(t, srv.URL)

	require.NoError(t, h.deps.Store.CreateFilter(ctx, &domain.Filter{
		SourceID: src.ID, Type: domain.FilterGroup, Pattern: "^news$", Exclude: true,
	}))

	stats, err := h.orch.RefreshSource(ctx, src.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created, "case-insensitive group filter drops News 24")
}
