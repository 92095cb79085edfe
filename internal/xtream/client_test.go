// SPDX-License-Identifier: MIT

package xtream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxtv/ingestd/internal/domain"
)

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/player_api.php", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") != "user" || r.URL.Query().Get("password") != "pass" {
			_, _ = w.Write([]byte(`{"user_info":{"auth":0}}`))
			return
		}
		switch r.URL.Query().Get("action") {
		case "":
			_, _ = w.Write([]byte(`{"user_info":{"auth":1,"username":"user","password":"pass","status":"Active"}}`))
		case "get_live_categories":
			_, _ = w.Write([]byte(`[
				{"category_id":"7","category_name":"Sports"},
				{"category_id":12,"category_name":"News"}
			]`))
		case "get_live_streams":
			_, _ = w.Write([]byte(`[
				{"stream_id":101,"name":"ESPN","category_id":"7","stream_icon":"http://img.test/espn.png","epg_channel_id":"espn.us"},
				{"stream_id":"102","name":"CNN","category_id":12},
				{"stream_id":103,"name":"Mystery","category_id":"999"},
				{"name":"no id, skipped"}
			]`))
		case "get_vod_streams":
			_, _ = w.Write([]byte(`[{"stream_id":501,"name":"Some Movie","category_id":"7","container_extension":"mkv"}]`))
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthenticate(t *testing.T) {
	srv := newCatalogServer(t)

	c := New(srv.URL, "user", "pass", srv.Client(), zerolog.Nop())
	require.NoError(t, c.Authenticate(context.Background()))

	bad := New(srv.URL, "user", "wrong", srv.Client(), zerolog.Nop())
	err := bad.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestLiveCatalogPull(t *testing.T) {
	srv := newCatalogServer(t)
	ctx := context.Background()
	c := New(srv.URL, "user", "pass", srv.Client(), zerolog.Nop())
	require.NoError(t, c.Authenticate(ctx))

	cats, err := c.LiveCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, Category{ID: "7", Name: "Sports"}, cats[0])
	assert.Equal(t, Category{ID: "12", Name: "News"}, cats[1], "numeric category_id is normalized")

	streams, err := c.LiveStreams(ctx)
	require.NoError(t, err)
	require.Len(t, streams, 3, "record without stream_id is dropped")
	assert.Equal(t, "101", streams[0].StreamID)
	assert.Equal(t, "espn.us", streams[0].EPGChannelID)
	assert.Equal(t, "102", streams[1].StreamID)
	assert.Equal(t, "12", streams[1].CategoryID)
}

func TestVODStreams(t *testing.T) {
	srv := newCatalogServer(t)
	c := New(srv.URL, "user", "pass", srv.Client(), zerolog.Nop())

	vod, err := c.VODStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, vod, 1)
	assert.Equal(t, "501", vod[0].StreamID)
	assert.Equal(t, "mkv", vod[0].Raw["container_extension"])
}

func TestStreamURLs(t *testing.T) {
	c := New("http://host.test:8080/", "u ser", "p/ass", nil, zerolog.Nop())
	assert.Equal(t, "http://host.test:8080/live/u%20ser/p%2Fass/101.ts", c.LiveURL("101"))
	assert.Equal(t, "http://host.test:8080/movie/u%20ser/p%2Fass/501.mkv", c.VODURL("501", "mkv"))
	assert.Equal(t, "http://host.test:8080/movie/u%20ser/p%2Fass/501.mp4", c.VODURL("501", ""))
}

func TestNormalize(t *testing.T) {
	cats := []Category{{ID: "7", Name: "Sports"}, {ID: "12", Name: "News"}}
	streams := []LiveStream{
		{StreamID: "101", Name: "ESPN", CategoryID: "7", StreamIcon: "http://img.test/espn.png",
			EPGChannelID: "espn.us", Raw: map[string]string{"stream_id": "101", "tv_archive": "1"}},
		{StreamID: "103", Name: "Mystery", CategoryID: "999", Raw: map[string]string{}},
	}

	parsed, groups := Normalize(cats, streams, func(id string) string {
		return "http://host.test/live/u/p/" + id + ".ts"
	})

	require.Len(t, parsed, 2)
	assert.Equal(t, "http://host.test/live/u/p/101.ts", parsed[0].URL)
	assert.Equal(t, "Sports", parsed[0].Attrs["group-title"])
	assert.Equal(t, "espn.us", parsed[0].Attrs["tvg-id"])
	assert.Equal(t, "http://img.test/espn.png", parsed[0].Attrs["tvg-logo"])
	assert.Equal(t, "1", parsed[0].Attrs["tv_archive"], "raw upstream fields survive")

	assert.Equal(t, domain.DefaultGroupName, parsed[1].Attrs["group-title"],
		"unknown category falls back to the default group")

	assert.Equal(t, "7", groups["Sports"].XCID)
	assert.Equal(t, "12", groups["News"].XCID)
	_, hasDefault := groups[domain.DefaultGroupName]
	assert.True(t, hasDefault)
}
