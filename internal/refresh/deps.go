// SPDX-License-Identifier: MIT

// Package refresh coordinates one source refresh end to end: fetch, parse,
// group reconciliation, stream upsert, stale pruning and channel projection.
package refresh

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxtv/ingestd/internal/channels"
	"github.com/fluxtv/ingestd/internal/events"
	"github.com/fluxtv/ingestd/internal/fetch"
	"github.com/fluxtv/ingestd/internal/locks"
	"github.com/fluxtv/ingestd/internal/progress"
	"github.com/fluxtv/ingestd/internal/store"
)

// Worker pool widths per source kind; bounded by the storage connection
// budget.
const (
	playlistWorkers = 2
	catalogWorkers  = 4
	batchSize       = 1500
)

// Deps carries every collaborator the orchestrator needs. Built once at the
// composition root.
type Deps struct {
	Store     *store.Store
	Locks     *locks.Manager
	Bus       events.Bus
	Progress  progress.Reporter
	Fetcher   *fetch.Fetcher
	Cache     *fetch.Cache
	Projector *channels.Projector
	HTTP      *http.Client // catalog sessions
	Log       zerolog.Logger
}

// Stats is the outcome of one refresh, mirrored into the final progress
// event and the refresh_completed payload.
type Stats struct {
	Created int `json:"streams_created"`
	Updated int `json:"streams_updated"`
	Deleted int `json:"streams_deleted"`

	ChannelsCreated int `json:"channels_created,omitempty"`
	ChannelsUpdated int `json:"channels_updated,omitempty"`
	ChannelsDeleted int `json:"channels_deleted,omitempty"`

	Elapsed time.Duration `json:"-"`
}
