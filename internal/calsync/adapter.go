// Package calsync reconciles provider-backed and feed-backed calendars with
// the local event store.
package calsync

import (
	"context"
	"errors"

	"golang.org/x/oauth2"

	"github.com/dukerupert/famcal/internal/model"
)

var (
	// ErrUnauthorized is returned by a provider client when the access token
	// was rejected.
	ErrUnauthorized = errors.New("provider rejected credentials")
	// ErrCursorExpired is returned when the provider no longer accepts the
	// stored sync cursor and a full listing is required.
	ErrCursorExpired = errors.New("sync cursor expired")
)

// Changes is the outcome of listing a provider calendar.
type Changes struct {
	Items      []model.RemoteEvent
	NextCursor string
	// Full is set when Items is a complete listing rather than a delta.
	Full bool
}

// ProviderClient is the narrow surface of a push/pull provider bound to one
// remote calendar.
type ProviderClient interface {
	CheckAccess(ctx context.Context) error
	// ListChanges returns every page of changes since cursor. An empty
	// cursor requests a full listing.
	ListChanges(ctx context.Context, cursor string) (Changes, error)
	Insert(ctx context.Context, ev model.Event) (string, error)
	Update(ctx context.Context, externalID string, ev model.Event) error
	Delete(ctx context.Context, externalID string) error
}

// ProviderFactory builds clients for remote calendars.
type ProviderFactory interface {
	Client(ctx context.Context, remoteCalendarID string, ts oauth2.TokenSource) (ProviderClient, error)
}

// FeedResult is a fetched and parsed iCalendar feed.
type FeedResult struct {
	Items       []model.RemoteEvent
	ETag        string
	NotModified bool
}

// FeedSource fetches pull-only feeds. A non-empty etag makes the request
// conditional.
type FeedSource interface {
	Fetch(ctx context.Context, url, etag string) (FeedResult, error)
}

// Credentials is the part of the credential vault the engine needs.
type Credentials interface {
	Seal(tok *oauth2.Token) (model.SealedToken, error)
	TokenSource(ctx context.Context, cal model.Calendar) (oauth2.TokenSource, error)
	RefreshAccessToken(ctx context.Context, calendarID string) (*oauth2.Token, error)
}

// clientFor builds a provider client from the calendar's stored credentials.
func clientFor(ctx context.Context, creds Credentials, providers ProviderFactory, cal model.Calendar) (ProviderClient, error) {
	ts, err := creds.TokenSource(ctx, cal)
	if err != nil {
		return nil, err
	}
	return providers.Client(ctx, cal.External.RemoteCalendarID, ts)
}

// refreshedClient refreshes the calendar's access token and builds a client
// bound to the new token.
func refreshedClient(ctx context.Context, creds Credentials, providers ProviderFactory, cal model.Calendar) (ProviderClient, error) {
	tok, err := creds.RefreshAccessToken(ctx, cal.ID)
	if err != nil {
		return nil, err
	}
	return providers.Client(ctx, cal.External.RemoteCalendarID, oauth2.StaticTokenSource(tok))
}
