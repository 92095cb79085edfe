// SPDX-License-Identifier: MIT

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// HashKey names one attribute feeding the stream content hash.
type HashKey string

const (
	HashName     HashKey = "name"
	HashURL      HashKey = "url"
	HashTvgID    HashKey = "tvg_id"
	HashSourceID HashKey = "m3u_account_id"
)

// DefaultHashKeys is the default hash key list: url plus owning source, so
// identical URLs from different providers stay distinct until the user opts
// into cross-source merging.
var DefaultHashKeys = []HashKey{HashURL, HashSourceID}

// ParseHashKeys validates a raw key list from settings.
func ParseHashKeys(raw []string) ([]HashKey, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("hash key list is empty")
	}
	keys := make([]HashKey, 0, len(raw))
	for _, r := range raw {
		k := HashKey(strings.TrimSpace(strings.ToLower(r)))
		switch k {
		case HashName, HashURL, HashTvgID, HashSourceID:
			keys = append(keys, k)
		default:
			return nil, fmt.Errorf("unknown hash key %q", r)
		}
	}
	return keys, nil
}

// StreamHash computes the content-addressed key for a stream under the given
// ordered key list. Two upstream records producing the same hash are the same
// stream.
func StreamHash(keys []HashKey, name, url, tvgID string, sourceID int64) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch k {
		case HashName:
			parts = append(parts, name)
		case HashURL:
			parts = append(parts, url)
		case HashTvgID:
			parts = append(parts, tvgID)
		case HashSourceID:
			parts = append(parts, strconv.FormatInt(sourceID, 10))
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
