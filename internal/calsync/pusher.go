package calsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/famcal/internal/model"
)

// Pusher writes locally originated changes of provider_push calendars to
// the provider, retrying once with a refreshed token after an auth failure.
type Pusher struct {
	creds     Credentials
	providers ProviderFactory
	logger    *slog.Logger
}

func NewPusher(creds Credentials, providers ProviderFactory, logger *slog.Logger) *Pusher {
	return &Pusher{creds: creds, providers: providers, logger: logger.With("component", "pusher")}
}

func (p *Pusher) withClient(ctx context.Context, cal model.Calendar, fn func(ProviderClient) error) error {
	client, err := clientFor(ctx, p.creds, p.providers, cal)
	if err != nil {
		return err
	}
	err = fn(client)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	p.logger.Info("access token rejected on write, refreshing", "calendar_id", cal.ID)
	client, err = refreshedClient(ctx, p.creds, p.providers, cal)
	if err != nil {
		return err
	}
	return fn(client)
}

func (p *Pusher) Insert(ctx context.Context, cal model.Calendar, ev model.Event) (string, error) {
	var id string
	err := p.withClient(ctx, cal, func(c ProviderClient) error {
		var err error
		id, err = c.Insert(ctx, ev)
		return err
	})
	return id, err
}

func (p *Pusher) Update(ctx context.Context, cal model.Calendar, ev model.Event) error {
	return p.withClient(ctx, cal, func(c ProviderClient) error {
		return c.Update(ctx, ev.ExternalID, ev)
	})
}

func (p *Pusher) Delete(ctx context.Context, cal model.Calendar, externalID string) error {
	return p.withClient(ctx, cal, func(c ProviderClient) error {
		return c.Delete(ctx, externalID)
	})
}
