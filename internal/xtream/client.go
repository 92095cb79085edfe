// SPDX-License-Identifier: MIT

// Package xtream speaks the player_api.php JSON catalog protocol and
// normalizes its records into the shared parsed-stream shape.
package xtream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrAuthFailed indicates the upstream rejected the account credentials.
var ErrAuthFailed = errors.New("xtream: authentication failed")

// Category is one upstream live or VOD category.
type Category struct {
	ID   string
	Name string
}

// LiveStream is one upstream stream record with all raw fields preserved.
type LiveStream struct {
	StreamID     string
	Name         string
	CategoryID   string
	StreamIcon   string
	EPGChannelID string
	Raw          map[string]string
}

// Client is a session against one catalog account. Requests are paced by a
// shared limiter so bulk catalog pulls do not trip upstream rate limits.
type Client struct {
	base     string
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// New builds a client for the given base URL and credentials.
func New(base, username, password string, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{
		base:     strings.TrimSuffix(base, "/"),
		username: username,
		password: password,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		log:      log,
	}
}

func (c *Client) apiURL(action string, extra url.Values) string {
	q := url.Values{}
	q.Set("username", c.username)
	q.Set("password", c.password)
	if action != "" {
		q.Set("action", action)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return c.base + "/player_api.php?" + q.Encode()
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("xtream: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("xtream: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("xtream: upstream status %d", resp.StatusCode)
	}
	return body, nil
}

// Authenticate performs the credential handshake. On success the effective
// credentials from user_info replace the configured ones for stream URLs.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := c.get(ctx, c.apiURL("", nil))
	if err != nil {
		return err
	}
	var auth struct {
		UserInfo *struct {
			Username string          `json:"username"`
			Password string          `json:"password"`
			Auth     json.RawMessage `json:"auth"`
			Status   string          `json:"status"`
		} `json:"user_info"`
	}
	if err := json.Unmarshal(body, &auth); err != nil {
		return fmt.Errorf("xtream: decode auth response: %w", err)
	}
	if auth.UserInfo == nil || !authOK(auth.UserInfo.Auth) {
		return ErrAuthFailed
	}
	if auth.UserInfo.Status != "" && !strings.EqualFold(auth.UserInfo.Status, "Active") {
		return fmt.Errorf("%w: account status %q", ErrAuthFailed, auth.UserInfo.Status)
	}
	if auth.UserInfo.Username != "" {
		c.username = auth.UserInfo.Username
	}
	if auth.UserInfo.Password != "" {
		c.password = auth.UserInfo.Password
	}
	c.log.Debug().Str("base", c.base).Msg("catalog session authenticated")
	return nil
}

// authOK accepts auth encoded as 1, true, or "1".
func authOK(raw json.RawMessage) bool {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return s == "1" || strings.EqualFold(s, "true")
}

// LiveCategories lists the upstream live categories.
func (c *Client) LiveCategories(ctx context.Context) ([]Category, error) {
	return c.categories(ctx, "get_live_categories")
}

// VODCategories lists the upstream VOD categories.
func (c *Client) VODCategories(ctx context.Context) ([]Category, error) {
	return c.categories(ctx, "get_vod_categories")
}

func (c *Client) categories(ctx context.Context, action string) ([]Category, error) {
	body, err := c.get(ctx, c.apiURL(action, nil))
	if err != nil {
		return nil, err
	}
	var raw []struct {
		CategoryID   any    `json:"category_id"`
		CategoryName string `json:"category_name"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("xtream: decode %s: %w", action, err)
	}
	out := make([]Category, 0, len(raw))
	for _, r := range raw {
		id := anyString(r.CategoryID)
		if id == "" {
			continue
		}
		out = append(out, Category{ID: id, Name: strings.TrimSpace(r.CategoryName)})
	}
	return out, nil
}

// LiveStreams pulls the full live catalog in one bulk request.
func (c *Client) LiveStreams(ctx context.Context) ([]LiveStream, error) {
	return c.streams(ctx, "get_live_streams")
}

// VODStreams pulls the full VOD catalog in one bulk request.
func (c *Client) VODStreams(ctx context.Context) ([]LiveStream, error) {
	return c.streams(ctx, "get_vod_streams")
}

func (c *Client) streams(ctx context.Context, action string) ([]LiveStream, error) {
	body, err := c.get(ctx, c.apiURL(action, nil))
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("xtream: decode %s: %w", action, err)
	}
	out := make([]LiveStream, 0, len(raw))
	for _, rec := range raw {
		st := LiveStream{
			StreamID:     anyString(rec["stream_id"]),
			Name:         strings.TrimSpace(anyString(rec["name"])),
			CategoryID:   anyString(rec["category_id"]),
			StreamIcon:   anyString(rec["stream_icon"]),
			EPGChannelID: anyString(rec["epg_channel_id"]),
			Raw:          make(map[string]string, len(rec)),
		}
		if st.StreamID == "" {
			continue
		}
		for k, v := range rec {
			if s := anyString(v); s != "" {
				st.Raw[k] = s
			}
		}
		out = append(out, st)
	}
	c.log.Debug().Str("action", action).Int("records", len(out)).Msg("catalog pull complete")
	return out, nil
}

// LiveURL builds the playback URL for a live stream id.
func (c *Client) LiveURL(streamID string) string {
	return fmt.Sprintf("%s/live/%s/%s/%s.ts",
		c.base, url.PathEscape(c.username), url.PathEscape(c.password), url.PathEscape(streamID))
}

// VODURL builds the playback URL for a VOD stream id.
func (c *Client) VODURL(streamID, ext string) string {
	if ext == "" || len(ext) > 5 {
		ext = "mp4"
	}
	return fmt.Sprintf("%s/movie/%s/%s/%s.%s",
		c.base, url.PathEscape(c.username), url.PathEscape(c.password), url.PathEscape(streamID), url.PathEscape(ext))
}

// anyString renders the loosely typed id fields providers emit as either
// JSON numbers or strings.
func anyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	}
	return ""
}
