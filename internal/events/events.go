// SPDX-License-Identifier: MIT

// Package events publishes typed domain events to the shared key-value
// store's pub/sub channel. Publication is fire-and-forget: lagging or absent
// subscribers never throttle producers.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Domain event names.
const (
	SourceCreated  = "m3u.source_created"
	SourceDeleted  = "m3u.source_deleted"
	SourceEnabled  = "m3u.source_enabled"
	SourceDisabled = "m3u.source_disabled"

	RefreshStarted   = "m3u.refresh_started"
	RefreshCompleted = "m3u.refresh_completed"
	RefreshFailed    = "m3u.refresh_failed"

	StreamCreated = "stream.created"
	StreamUpdated = "stream.updated"
	StreamDeleted = "stream.deleted"

	ChannelCreated       = "channel.created"
	ChannelUpdated       = "channel.updated"
	ChannelDeleted       = "channel.deleted"
	ChannelStreamAdded   = "channel.stream_added"
	ChannelStreamRemoved = "channel.stream_removed"

	GroupCreated = "channel_group.created"
	GroupUpdated = "channel_group.updated"
	GroupDeleted = "channel_group.deleted"
)

// Channel is the pub/sub channel domain events are published on.
const Channel = "ingestd:events"

// Bus publishes typed domain events carrying a small serialized payload.
type Bus interface {
	Publish(ctx context.Context, event string, payload any)
}

type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// RedisBus publishes events over Redis pub/sub.
type RedisBus struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// NewRedisBus returns a Bus backed by the given Redis client.
func NewRedisBus(rdb *redis.Client, logger zerolog.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, logger: logger}
}

// Publish serializes and publishes the event. Failures are logged and
// swallowed.
func (b *RedisBus) Publish(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		b.logger.Warn().Err(err).Str("event", event).Msg("event marshal failed")
		return
	}
	if err := b.rdb.Publish(ctx, Channel, data).Err(); err != nil {
		b.logger.Warn().Err(err).Str("event", event).Msg("event publish failed")
	}
}

// Recorded is one captured event, used by MemoryBus.
type Recorded struct {
	Event   string
	Payload any
}

// MemoryBus records events in memory. Test double, safe for concurrent
// publishers.
type MemoryBus struct {
	mu     sync.Mutex
	Events []Recorded
}

// Publish appends the event to the in-memory record.
func (b *MemoryBus) Publish(_ context.Context, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Events = append(b.Events, Recorded{Event: event, Payload: payload})
}

// Names returns the ordered list of recorded event names.
func (b *MemoryBus) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Events))
	for i, e := range b.Events {
		out[i] = e.Event
	}
	return out
}

// Count returns how many events with the given name were recorded.
func (b *MemoryBus) Count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.Events {
		if e.Event == event {
			n++
		}
	}
	return n
}
