package calsync

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

type ProviderCalendarInput struct {
	Name             string
	Description      string
	Color            string
	FamilyID         string
	Timezone         string
	RemoteCalendarID string
	Token            *oauth2.Token
}

type FeedCalendarInput struct {
	Name        string
	Description string
	Color       string
	FamilyID    string
	Timezone    string
	URL         string
}

// AddProviderCalendar checks access to the remote calendar with the given token before
// persisting anything, stores the token encrypted and runs an initial sync.
// A failed initial sync is logged and left for the next trigger.
func (e *Engine) AddProviderCalendar(ctx context.Context, in ProviderCalendarInput, actorID string) (*model.Calendar, error) {
	if e.providers == nil {
		return nil, calerr.Configuration("provider integration is not configured", nil)
	}
	if in.RemoteCalendarID == "" {
		return nil, calerr.Configuration("remote calendar id is required", nil)
	}
	if in.Token == nil || (in.Token.AccessToken == "" && in.Token.RefreshToken == "") {
		return nil, calerr.Configuration("an access or refresh token is required", nil)
	}

	client, err := e.providers.Client(ctx, in.RemoteCalendarID, oauth2.StaticTokenSource(in.Token))
	if err != nil {
		return nil, calerr.Configuration("provider client could not be created", err)
	}
	if err := client.CheckAccess(ctx); err != nil {
		return nil, calerr.Sync(fmt.Sprintf("remote calendar %s is not accessible", in.RemoteCalendarID), err)
	}

	sealed, err := e.creds.Seal(in.Token)
	if err != nil {
		return nil, err
	}

	cal, err := e.domain.CreateCalendar(ctx, calendar.CalendarInput{
		Name:        in.Name,
		Description: in.Description,
		Color:       in.Color,
		Type:        model.CalendarProviderPush,
		FamilyID:    in.FamilyID,
		Timezone:    in.Timezone,
		External: model.ExternalConfig{
			RemoteCalendarID: in.RemoteCalendarID,
			Token:            sealed,
		},
	}, actorID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("provider calendar added", "calendar_id", cal.ID, "remote_calendar_id", in.RemoteCalendarID)

	if _, err := e.Sync(ctx, cal.ID, actorID); err != nil {
		e.logger.Warn("initial sync failed", "calendar_id", cal.ID, "error", err)
	}
	return cal, nil
}

// AddFeedCalendar fetches and parses the feed before persisting the
// calendar, then stores the fetched events.
func (e *Engine) AddFeedCalendar(ctx context.Context, in FeedCalendarInput, actorID string) (*model.Calendar, error) {
	if e.feeds == nil {
		return nil, calerr.Configuration("feed integration is not configured", nil)
	}
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, calerr.Configuration("feed URL must be an absolute http or https URL", err)
	}

	fr, err := e.feeds.Fetch(ctx, in.URL, "")
	if err != nil {
		return nil, calerr.Sync("feed could not be loaded", err)
	}

	cal, err := e.domain.CreateCalendar(ctx, calendar.CalendarInput{
		Name:        in.Name,
		Description: in.Description,
		Color:       in.Color,
		Type:        model.CalendarProviderPull,
		FamilyID:    in.FamilyID,
		Timezone:    in.Timezone,
		External:    model.ExternalConfig{FeedURL: in.URL},
	}, actorID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("feed calendar added", "calendar_id", cal.ID, "events", len(fr.Items))

	_, err = e.run(ctx, cal.ID, func(ctx context.Context) (*Result, error) {
		return e.applyFeed(ctx, *cal, actorID, fr)
	})
	if err != nil {
		e.logger.Warn("initial feed import failed", "calendar_id", cal.ID, "error", err)
	}
	return cal, nil
}

// RemoveCalendar deletes a remote calendar with its events and stored
// credentials. Nothing is changed on the remote side.
func (e *Engine) RemoveCalendar(ctx context.Context, calendarID, actorID string) error {
	if err := e.domain.DeleteCalendar(ctx, calendarID, actorID); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.statuses, calendarID)
	e.mu.Unlock()
	return nil
}
