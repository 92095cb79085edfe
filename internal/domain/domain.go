// SPDX-License-Identifier: MIT

// Package domain defines the canonical entities of the ingestion engine:
// sources, groups, streams, channels and their relations.
package domain

import "time"

// SourceKind discriminates the two upstream wire dialects.
type SourceKind string

const (
	KindPlaylist SourceKind = "playlist" // line-oriented M3U text
	KindCatalog  SourceKind = "catalog"  // JSON player-API protocol
)

// SourceStatus is the lifecycle state of a source.
type SourceStatus string

const (
	StatusIdle         SourceStatus = "idle"
	StatusFetching     SourceStatus = "fetching"
	StatusParsing      SourceStatus = "parsing"
	StatusPendingSetup SourceStatus = "pending_setup"
	StatusSuccess      SourceStatus = "success"
	StatusError        SourceStatus = "error"
	StatusDisabled     SourceStatus = "disabled"
)

// Source is a subscription to one upstream provider.
type Source struct {
	ID                 int64
	Name               string
	Kind               SourceKind
	URLs               []string // ordered candidate base URLs; multi-URL enables failover
	FilePath           string   // optional local file alternative
	Username           string   // catalog kind only
	Password           string   // catalog kind only
	UserAgent          string
	RefreshHours       int
	Enabled            bool
	StaleRetentionDays int
	Status             SourceStatus
	LastMessage        string
	CustomProperties   Bag
	UpdatedAt          time.Time
}

// VODEnabled reports whether the source opts into VOD catalog ingestion.
func (s Source) VODEnabled() bool {
	return s.CustomProperties.Bool("vod_enabled")
}

// Group is a named bucket shared across sources.
type Group struct {
	ID   int64
	Name string
}

// GroupMembership is the (Source x Group) join carrying per-source annotations.
//
// On every refresh, upstream-provided keys in CustomProperties (xc_id) are
// overwritten while user annotations are preserved.
type GroupMembership struct {
	ID               int64
	SourceID         int64
	GroupID          int64
	GroupName        string // denormalized on read
	Enabled          bool
	CustomProperties Bag
}

// Stream is a playable source entry, content-addressed by Hash.
type Stream struct {
	ID               int64
	Hash             string
	Name             string
	URL              string
	LogoURL          string
	TvgID            string
	SourceID         int64
	GroupID          *int64
	CustomProperties Bag
	LastSeen         time.Time // touched every refresh the record is observed
	UpdatedAt        time.Time // touched only when a meaningful field changed
}

// Channel is a user-facing tunable slot projected from streams.
type Channel struct {
	ID              int64
	UUID            string // preserved across refreshes
	Number          float64
	Name            string
	TvgID           string
	GuideStationID  string
	LogoID          *int64
	EPGDataID       *int64
	GroupID         *int64
	StreamProfileID *int64
	AutoCreated     bool
	AutoCreatedBy   *int64 // owning source for auto-created channels
}

// ChannelStream associates a channel with a stream at a given order.
type ChannelStream struct {
	ChannelID int64
	StreamID  int64
	Order     int
}

// ChannelProfile is an external collaborator entity; the core binds by id.
type ChannelProfile struct {
	ID   int64
	Name string
}

// ChannelProfileMembership gates a channel's visibility within a profile.
type ChannelProfileMembership struct {
	ProfileID int64
	ChannelID int64
	Enabled   bool
}

// StreamProfile carries an optional URL rewrite rule for playback variants.
type StreamProfile struct {
	ID             int64
	Name           string
	SearchPattern  string
	ReplacePattern string
}

// Logo is a referenced logo entity, deduplicated by URL.
type Logo struct {
	ID  int64
	URL string
}

// EPGData is an external EPG binding target, matched by tvg-id.
type EPGData struct {
	ID    int64
	TvgID string
}

// FilterType selects which stream field a filter matches against.
type FilterType string

const (
	FilterName  FilterType = "name"
	FilterURL   FilterType = "url"
	FilterGroup FilterType = "group"
)

// Filter is an ordered include/exclude regex rule attached to a source.
// The first matching filter decides; no match means included.
type Filter struct {
	ID            int64
	SourceID      int64
	Type          FilterType
	Pattern       string
	Exclude       bool
	CaseSensitive bool
	Order         int
}

// DefaultGroupName is the sentinel group every parse result contains.
const DefaultGroupName = "Default Group"
