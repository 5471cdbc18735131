// Package google adapts the Google Calendar API to the sync engine's
// provider interfaces.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/calsync"
	"github.com/dukerupert/famcal/internal/model"
)

const pageSize = 250

// Provider builds Google Calendar clients. Extra options are appended to
// every service, which lets tests point the client at a local server.
type Provider struct {
	opts   []option.ClientOption
	logger *slog.Logger
}

func NewProvider(logger *slog.Logger, opts ...option.ClientOption) *Provider {
	return &Provider{opts: opts, logger: logger.With("component", "google")}
}

// Client returns a client bound to one remote calendar.
func (p *Provider) Client(ctx context.Context, remoteCalendarID string, ts oauth2.TokenSource) (calsync.ProviderClient, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, p.opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Client{service: svc, calendarID: remoteCalendarID, logger: p.logger}, nil
}

// Client is a wrapper around the Google Calendar API service for one
// calendar.
type Client struct {
	service    *calendar.Service
	calendarID string
	logger     *slog.Logger
}

// CheckAccess verifies the token can read the calendar.
func (c *Client) CheckAccess(ctx context.Context) error {
	if _, err := c.service.Calendars.Get(c.calendarID).Context(ctx).Do(); err != nil {
		return translate("get calendar", err)
	}
	return nil
}

// ListChanges pages through the calendar. Deleted events are included so
// an incremental listing reports removals.
func (c *Client) ListChanges(ctx context.Context, cursor string) (calsync.Changes, error) {
	call := c.service.Events.List(c.calendarID).
		ShowDeleted(true).
		MaxResults(pageSize)
	if cursor != "" {
		call = call.SyncToken(cursor)
	}

	var (
		raw  []*calendar.Event
		next string
	)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		raw = append(raw, page.Items...)
		if page.NextSyncToken != "" {
			next = page.NextSyncToken
		}
		return nil
	})
	if err != nil {
		return calsync.Changes{}, translate("list events", err)
	}

	items, dropped := fromAPIEvents(raw)
	if dropped > 0 {
		c.logger.Debug("dropped undecodable events", "calendar_id", c.calendarID, "count", dropped)
	}
	return calsync.Changes{Items: items, NextCursor: next, Full: cursor == ""}, nil
}

// Insert creates the event without notifying attendees.
func (c *Client) Insert(ctx context.Context, ev model.Event) (string, error) {
	created, err := c.service.Events.Insert(c.calendarID, toAPIEvent(ev)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return "", translate("insert event", err)
	}
	return created.Id, nil
}

func (c *Client) Update(ctx context.Context, externalID string, ev model.Event) error {
	_, err := c.service.Events.Update(c.calendarID, externalID, toAPIEvent(ev)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return translate("update event", err)
	}
	return nil
}

// Delete removes the event. An event that is already gone is not an error.
func (c *Client) Delete(ctx context.Context, externalID string) error {
	err := c.service.Events.Delete(c.calendarID, externalID).
		SendUpdates("none").
		Context(ctx).
		Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return nil
	}
	if err != nil {
		return translate("delete event", err)
	}
	return nil
}

// translate maps API status codes onto the engine's sentinel errors. A
// token refresh rejected inside the transport is an authentication error;
// errors that already carry a code keep it.
func translate(op string, err error) error {
	if calerr.Code(err) != calerr.CodeInternal {
		return fmt.Errorf("%s: %w", op, err)
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return calerr.Authentication("provider rejected the token refresh", err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, calsync.ErrUnauthorized)
		case http.StatusGone:
			return fmt.Errorf("%s: %w", op, calsync.ErrCursorExpired)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
