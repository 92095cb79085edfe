// SPDX-License-Identifier: MIT

// Package fetch acquires playlist payloads with multi-URL failover and
// caches parsed payloads per source.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/m3u"
	"github.com/fluxtv/ingestd/internal/metrics"
	"github.com/fluxtv/ingestd/internal/progress"
)

const (
	defaultUserAgent = "ingestd/1.0"
	snippetLimit     = 500
	readChunk        = 64 * 1024
)

// Config tunes the failover loop.
type Config struct {
	MaxCycles        int           // full passes over the URL list
	CycleDelay       time.Duration // pause between cycles
	Timeout          time.Duration // per-request deadline
	ProgressInterval time.Duration // download progress cadence
}

// DefaultConfig matches the refresh worker budget.
func DefaultConfig() Config {
	return Config{
		MaxCycles:        2,
		CycleDelay:       2 * time.Second,
		Timeout:          90 * time.Second,
		ProgressInterval: 500 * time.Millisecond,
	}
}

// Fetcher downloads playlist text for a source.
type Fetcher struct {
	cfg      Config
	http     *http.Client
	reporter progress.Reporter
	log      zerolog.Logger
}

// New builds a fetcher. A nil client gets a default with the configured
// timeout.
func New(cfg Config, httpClient *http.Client, reporter progress.Reporter, log zerolog.Logger) *Fetcher {
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 2
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{cfg: cfg, http: httpClient, reporter: reporter, log: log}
}

// Playlist acquires the source's playlist as text lines. Local file sources
// are read directly; URL sources go through the failover loop.
func (f *Fetcher) Playlist(ctx context.Context, src domain.Source) ([]string, error) {
	if src.FilePath != "" {
		return f.fromFile(src)
	}
	if len(src.URLs) == 0 {
		return nil, &ContentError{Reason: "source has no URLs"}
	}

	attempts := 0
	var lastErr error
	for cycle := 1; cycle <= f.cfg.MaxCycles; cycle++ {
		cycleTransient := true
		for _, rawURL := range src.URLs {
			attempts++
			lines, err := f.tryURL(ctx, src, rawURL)
			if err == nil {
				metrics.RecordFetchAttempt("success")
				return lines, nil
			}
			lastErr = err
			metrics.RecordFetchAttempt(attemptOutcome(err))
			if !IsTransient(err) {
				cycleTransient = false
			}
			f.log.Warn().Err(err).
				Int64("source_id", src.ID).
				Str("url", rawURL).
				Int("cycle", cycle).
				Msg("playlist fetch attempt failed")
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
		}
		if !cycleTransient {
			break
		}
		if cycle < f.cfg.MaxCycles {
			select {
			case <-time.After(f.cfg.CycleDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("fetch: all %d attempts failed: %w", attempts, lastErr)
}

func (f *Fetcher) fromFile(src domain.Source) ([]string, error) {
	data, err := os.ReadFile(src.FilePath)
	if err != nil {
		return nil, fmt.Errorf("fetch: read local playlist: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return f.validate(toLines(data))
}

func (f *Fetcher) tryURL(ctx context.Context, src domain.Source, rawURL string) ([]string, error) {
	f.report(ctx, progress.Update{SourceID: src.ID, Action: progress.ActionDownloading, Progress: 0})

	reqCtx := ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ContentError{Reason: "malformed URL"}
	}
	ua := src.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, snippetLimit))
		return nil, &StatusError{Code: resp.StatusCode, Snippet: string(snippet)}
	}

	body, err := f.download(ctx, src.ID, resp)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}

	lines, err := f.validate(toLines(body))
	if err != nil {
		return nil, err
	}
	f.report(ctx, progress.Update{SourceID: src.ID, Action: progress.ActionDownloading, Progress: 100})
	return lines, nil
}

// download streams the body into memory, emitting percent/speed/eta on the
// configured cadence. Percent needs a Content-Length; speed does not.
func (f *Fetcher) download(ctx context.Context, sourceID int64, resp *http.Response) ([]byte, error) {
	total := resp.ContentLength
	start := time.Now()
	lastReport := start

	var buf []byte
	chunk := make([]byte, readChunk)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if now := time.Now(); now.Sub(lastReport) >= f.cfg.ProgressInterval {
				lastReport = now
				f.report(ctx, downloadUpdate(sourceID, int64(len(buf)), total, now.Sub(start)))
			}
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch: read body: %w", err)
		}
	}
}

func downloadUpdate(sourceID, got, total int64, elapsed time.Duration) progress.Update {
	u := progress.Update{
		SourceID: sourceID,
		Action:   progress.ActionDownloading,
		Elapsed:  elapsed.Seconds(),
	}
	if elapsed > 0 {
		u.Speed = float64(got) / elapsed.Seconds()
	}
	if total > 0 {
		pct := float64(got) / float64(total) * 100
		if pct > 99 {
			pct = 99
		}
		u.Progress = pct
		if u.Speed > 0 {
			u.ETA = float64(total-got) / u.Speed
		}
	}
	return u
}

// validate applies the playlist shape check, falling back to the error-page
// heuristic for a tailored message.
func (f *Fetcher) validate(lines []string) ([]string, error) {
	if m3u.LooksLikePlaylist(lines) {
		return lines, nil
	}
	if marker, ok := m3u.DetectErrorPage(strings.Join(lines, "\n")); ok {
		return nil, &ContentError{Reason: "upstream delivered an error page (" + marker + ")"}
	}
	return nil, &ContentError{Reason: "no playlist markers found"}
}

func (f *Fetcher) report(ctx context.Context, u progress.Update) {
	if f.reporter != nil {
		f.reporter.Report(ctx, u)
	}
}

// toLines decodes the payload as UTF-8, dropping invalid sequences the way
// lenient providers require.
func toLines(data []byte) []string {
	return strings.Split(strings.ToValidUTF8(string(data), ""), "\n")
}
