// SPDX-License-Identifier: MIT

package domain

import (
	"encoding/json"
	"strconv"
)

// Bag is a free-form JSON-shaped property bag as persisted in the
// custom_properties columns. It is read into typed option records at phase
// entry and serialized back at phase exit; it is never mutated in place
// across phases.
type Bag map[string]any

// Clone returns a shallow copy of the bag.
func (b Bag) Clone() Bag {
	if b == nil {
		return Bag{}
	}
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge returns a copy of b with every key of other overwriting b's keys.
func (b Bag) Merge(other Bag) Bag {
	out := b.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String returns the string value for key, tolerating numeric JSON values.
func (b Bag) String(key string) string {
	switch v := b[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Bool returns the boolean value for key, tolerating "true"/"false" strings.
func (b Bag) Bool(key string) bool {
	switch v := b[key].(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(v)
		return err == nil && parsed
	case float64:
		return v != 0
	}
	return false
}

// Float returns the float value for key, or def when absent or malformed.
func (b Bag) Float(key string, def float64) float64 {
	switch v := b[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

// Int64Ptr returns the value for key as an id pointer, or nil when absent.
func (b Bag) Int64Ptr(key string) *int64 {
	switch v := b[key].(type) {
	case float64:
		id := int64(v)
		return &id
	case int:
		id := int64(v)
		return &id
	case int64:
		return &v
	case string:
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return &parsed
		}
	}
	return nil
}

// Int64Slice returns the value for key as a list of ids.
func (b Bag) Int64Slice(key string) []int64 {
	raw, ok := b[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case float64:
			out = append(out, int64(v))
		case int:
			out = append(out, int64(v))
		case string:
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				out = append(out, parsed)
			}
		}
	}
	return out
}

// MarshalBag serializes a bag for persistence. A nil bag becomes "{}".
func MarshalBag(b Bag) ([]byte, error) {
	if b == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b)
}

// UnmarshalBag deserializes a persisted bag; empty input yields an empty bag.
func UnmarshalBag(data []byte) (Bag, error) {
	if len(data) == 0 {
		return Bag{}, nil
	}
	var b Bag
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b == nil {
		b = Bag{}
	}
	return b, nil
}

// Membership bag keys. XCIDKey is upstream-provided and overwritten on every
// refresh; all other keys are user annotations and must survive refreshes.
const (
	XCIDKey = "xc_id"

	AutoChannelSyncKey      = "auto_channel_sync"
	AutoSyncChannelStartKey = "auto_sync_channel_start"
	ForceDummyEPGKey        = "force_dummy_epg"
	GroupOverrideKey        = "group_override"
	NameRegexPatternKey     = "name_regex_pattern"
	NameReplacePatternKey   = "name_replace_pattern"
	NameMatchRegexKey       = "name_match_regex"
	ChannelProfileIDsKey    = "channel_profile_ids"
	ChannelSortOrderKey     = "channel_sort_order"
	ChannelSortReverseKey   = "channel_sort_reverse"
	StreamProfileIDKey      = "stream_profile_id"
)

// SortOrder selects how auto-synced channels are ordered within a group.
type SortOrder string

const (
	SortProvider  SortOrder = "provider"
	SortName      SortOrder = "name"
	SortTvgID     SortOrder = "tvg_id"
	SortUpdatedAt SortOrder = "updated_at"
)

// SyncOptions is the typed view of a membership's auto-sync annotations.
type SyncOptions struct {
	AutoChannelSync    bool
	StartNumber        float64
	ForceDummyEPG      bool
	GroupOverride      *int64
	NameRegexPattern   string
	NameReplacePattern string
	NameMatchRegex     string
	ChannelProfileIDs  []int64 // empty means all profiles
	SortOrder          SortOrder
	SortReverse        bool
	StreamProfileID    *int64
}

// SyncOptionsFromBag reads the auto-sync options out of a membership bag.
func SyncOptionsFromBag(b Bag) SyncOptions {
	opts := SyncOptions{
		AutoChannelSync:    b.Bool(AutoChannelSyncKey),
		StartNumber:        b.Float(AutoSyncChannelStartKey, 1.0),
		ForceDummyEPG:      b.Bool(ForceDummyEPGKey),
		GroupOverride:      b.Int64Ptr(GroupOverrideKey),
		NameRegexPattern:   b.String(NameRegexPatternKey),
		NameReplacePattern: b.String(NameReplacePatternKey),
		NameMatchRegex:     b.String(NameMatchRegexKey),
		ChannelProfileIDs:  b.Int64Slice(ChannelProfileIDsKey),
		SortOrder:          SortOrder(b.String(ChannelSortOrderKey)),
		SortReverse:        b.Bool(ChannelSortReverseKey),
		StreamProfileID:    b.Int64Ptr(StreamProfileIDKey),
	}
	if opts.SortOrder == "" {
		opts.SortOrder = SortProvider
	}
	return opts
}
