// Package ical fetches and parses pull-only iCalendar feeds.
package ical

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/famcal/internal/calsync"
)

const (
	defaultTimeout = 15 * time.Second
	maxFeedBytes   = 10 << 20
)

// ErrTooLarge is returned for feeds over the size limit.
var ErrTooLarge = errors.New("feed exceeds size limit")

// Fetcher retrieves feeds over HTTP with conditional requests.
type Fetcher struct {
	client *http.Client
	loc    *time.Location
	logger *slog.Logger
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithLocation sets the zone used for floating times in feeds.
func WithLocation(loc *time.Location) FetcherOption {
	return func(f *Fetcher) { f.loc = loc }
}

func NewFetcher(logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: defaultTimeout},
		loc:    time.UTC,
		logger: logger.With("component", "ical"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch downloads and parses the feed. When etag is set and the server
// answers 304 the result is NotModified with no items.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, etag string) (calsync.FeedResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return calsync.FeedResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return calsync.FeedResult{}, fmt.Errorf("fetch %s: %w", RedactURL(feedURL), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		f.logger.Debug("feed not modified", "url", RedactURL(feedURL))
		return calsync.FeedResult{ETag: etag, NotModified: true}, nil
	default:
		return calsync.FeedResult{}, fmt.Errorf("fetch %s: unexpected status %s", RedactURL(feedURL), resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return calsync.FeedResult{}, fmt.Errorf("read feed: %w", err)
	}
	if len(body) > maxFeedBytes {
		return calsync.FeedResult{}, ErrTooLarge
	}

	items, skipped, err := Parse(body, f.loc)
	if err != nil {
		return calsync.FeedResult{}, err
	}
	if skipped > 0 {
		f.logger.Warn("skipped unreadable feed events", "url", RedactURL(feedURL), "count", skipped)
	}
	f.logger.Info("feed fetched", "url", RedactURL(feedURL), "events", len(items))
	return calsync.FeedResult{Items: items, ETag: resp.Header.Get("ETag")}, nil
}

// RedactURL keeps the scheme and host of a feed URL. Feed paths and queries
// often embed secrets.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
