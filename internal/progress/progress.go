// SPDX-License-Identifier: MIT

// Package progress streams refresh progress to subscribers over the shared
// key-value store. Updates are coalesced: within one refresh, percent is
// monotonic per action and intermediate ticks are rate limited.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Actions reported on the progress channel.
const (
	ActionDownloading      = "downloading"
	ActionParsing          = "parsing"
	ActionProcessingGroups = "processing_groups"
)

// Update is one progress message.
type Update struct {
	SourceID       int64   `json:"source_id"`
	Action         string  `json:"action"`
	Progress       float64 `json:"progress"` // 0..100
	Status         string  `json:"status,omitempty"`
	Message        string  `json:"message,omitempty"`
	Speed          float64 `json:"speed,omitempty"`   // bytes/sec
	Elapsed        float64 `json:"elapsed,omitempty"` // seconds
	ETA            float64 `json:"eta,omitempty"`     // seconds
	StreamsCreated int     `json:"streams_created,omitempty"`
	StreamsUpdated int     `json:"streams_updated,omitempty"`
	StreamsDeleted int     `json:"streams_deleted,omitempty"`
}

func (u Update) terminal() bool {
	return u.Status != "" || u.Progress >= 100
}

// Reporter delivers progress updates.
type Reporter interface {
	Report(ctx context.Context, u Update)
}

// ChannelFor returns the pub/sub channel carrying one source's progress.
func ChannelFor(sourceID int64) string {
	return fmt.Sprintf("ingestd:progress:%d", sourceID)
}

type streamKey struct {
	sourceID int64
	action   string
}

type streamState struct {
	lastPercent float64
	lastSent    time.Time
}

// RedisReporter publishes updates over Redis pub/sub, dropping reordered
// percents and throttling intermediate ticks to one per interval.
type RedisReporter struct {
	rdb      *redis.Client
	logger   zerolog.Logger
	interval time.Duration

	mu    sync.Mutex
	state map[streamKey]*streamState
}

// NewRedisReporter returns a reporter with the given minimum tick interval.
// An interval of zero defaults to 500ms.
func NewRedisReporter(rdb *redis.Client, interval time.Duration, logger zerolog.Logger) *RedisReporter {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &RedisReporter{
		rdb:      rdb,
		logger:   logger,
		interval: interval,
		state:    make(map[streamKey]*streamState),
	}
}

// Report publishes the update unless it is a stale or too-frequent
// intermediate tick. Terminal updates (status set or 100%) always publish
// and reset the stream's coalescing state.
func (r *RedisReporter) Report(ctx context.Context, u Update) {
	if !r.admit(u) {
		return
	}
	data, err := json.Marshal(u)
	if err != nil {
		r.logger.Warn().Err(err).Msg("progress marshal failed")
		return
	}
	if err := r.rdb.Publish(ctx, ChannelFor(u.SourceID), data).Err(); err != nil {
		r.logger.Warn().Err(err).Int64("source_id", u.SourceID).Msg("progress publish failed")
	}
}

func (r *RedisReporter) admit(u Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := streamKey{sourceID: u.SourceID, action: u.Action}
	st := r.state[k]
	if u.terminal() {
		delete(r.state, k)
		return true
	}
	now := time.Now()
	if st == nil {
		r.state[k] = &streamState{lastPercent: u.Progress, lastSent: now}
		return true
	}
	if u.Progress < st.lastPercent {
		return false // reordered
	}
	if now.Sub(st.lastSent) < r.interval {
		return false
	}
	st.lastPercent = u.Progress
	st.lastSent = now
	return true
}

// MemoryReporter records updates in memory. Test double.
type MemoryReporter struct {
	mu      sync.Mutex
	Updates []Update
}

// Report appends the update.
func (r *MemoryReporter) Report(_ context.Context, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Updates = append(r.Updates, u)
}

// Last returns the most recent update for the given action, if any.
func (r *MemoryReporter) Last(action string) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Updates) - 1; i >= 0; i-- {
		if r.Updates[i].Action == action {
			return r.Updates[i], true
		}
	}
	return Update{}, false
}
