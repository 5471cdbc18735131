package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
	"github.com/dukerupert/famcal/internal/store"
)

const sendTimeout = 30 * time.Second

// Sender sends one push message.
type Sender interface {
	Send(ctx context.Context, sub model.PushSubscription, payload Payload) error
}

// Sink forwards reminders and cancellations to the devices of everyone who
// can see the event: the whole family for family events, otherwise the
// event's user. Each notification is sent on its own goroutine so the
// dispatcher is never blocked on the network.
type Sink struct {
	sender Sender
	subs   *store.PushStore
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewSink(sender Sender, subs *store.PushStore, logger *slog.Logger) *Sink {
	return &Sink{sender: sender, subs: subs, logger: logger.With("component", "push")}
}

func (s *Sink) Deliver(n model.Notification) {
	if n.Type != model.NotifyEventReminder && n.Type != model.NotifyEventCancelled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		s.send(ctx, n)
	}()
}

// Wait blocks until in-flight sends finish.
func (s *Sink) Wait() {
	s.wg.Wait()
}

func (s *Sink) recipients(ctx context.Context, ev model.Event) ([]model.PushSubscription, error) {
	if ev.FamilyID != "" {
		return s.subs.ListByFamily(ctx, ev.FamilyID)
	}
	user := ev.UserID
	if user == "" {
		user = ev.CreatedBy
	}
	if user == "" {
		return nil, nil
	}
	return s.subs.ListByUser(ctx, user)
}

func (s *Sink) send(ctx context.Context, n model.Notification) {
	subs, err := s.recipients(ctx, n.Event)
	if err != nil {
		s.logger.Error("list push subscriptions", "event_id", n.Event.ID, "error", err)
		return
	}

	title := "Calendar reminder"
	if n.Type == model.NotifyEventCancelled {
		title = "Event cancelled"
	}
	body := n.Message
	if rule := n.Event.Recurrence; rule != nil {
		body += " (" + recurrence.Describe(*rule) + ")"
	}
	payload := Payload{
		Title: title,
		Body:  body,
		URL:   "/calendars/" + n.Event.CalendarID,
		Tag:   string(n.Type) + "-" + n.Event.ID,
	}

	for _, sub := range subs {
		err := s.sender.Send(ctx, sub, payload)
		switch {
		case errors.Is(err, ErrExpired):
			s.logger.Info("removing expired push subscription", "user_id", sub.UserID, "subscription_id", sub.ID)
			if err := s.subs.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				s.logger.Error("delete expired subscription", "error", err)
			}
		case err != nil:
			s.logger.Warn("push send failed", "user_id", sub.UserID, "event_id", n.Event.ID, "error", err)
		}
	}
}
