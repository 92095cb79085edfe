// SPDX-License-Identifier: MIT

package fetch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/fluxtv/ingestd/internal/m3u"
)

// Payload is the parsed playlist cached per source, consumed by the retry
// path that skips re-fetching.
type Payload struct {
	ExtinfData []m3u.ParsedStream `json:"extinf_data"`
	Groups     m3u.Groups         `json:"groups"`
}

// Cache stores one JSON payload file per source under a root directory.
type Cache struct {
	root string
}

// NewCache builds a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{root: dir}
}

func (c *Cache) path(sourceID int64) string {
	return filepath.Join(c.root, fmt.Sprintf("%d.json", sourceID))
}

// Read loads the cached payload for the source; (nil, nil) when absent.
func (c *Cache) Read(sourceID int64) (*Payload, error) {
	data, err := os.ReadFile(c.path(sourceID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch: read cache: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("fetch: decode cache: %w", err)
	}
	return &p, nil
}

// Write atomically replaces the source's cached payload.
func (c *Cache) Write(sourceID int64, p Payload) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("fetch: create cache dir: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("fetch: encode cache: %w", err)
	}
	if err := renameio.WriteFile(c.path(sourceID), data, 0o644); err != nil {
		return fmt.Errorf("fetch: write cache: %w", err)
	}
	return nil
}

// Remove drops the source's cached payload, ignoring absence.
func (c *Cache) Remove(sourceID int64) error {
	err := os.Remove(c.path(sourceID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
