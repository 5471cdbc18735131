package model

import (
	"fmt"
	"time"
)

type NotificationType string

const (
	NotifyEventCreated   NotificationType = "event_created"
	NotifyEventUpdated   NotificationType = "event_updated"
	NotifyEventCancelled NotificationType = "event_cancelled"
	NotifyEventReminder  NotificationType = "event_reminder"
)

type Notification struct {
	Type      NotificationType `json:"type"`
	Event     Event            `json:"event"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewNotification builds the message text for an event notification.
func NewNotification(typ NotificationType, ev Event, now time.Time) Notification {
	var msg string
	switch typ {
	case NotifyEventCreated:
		msg = fmt.Sprintf("New event created: %s", ev.Title)
	case NotifyEventUpdated:
		msg = fmt.Sprintf("Event updated: %s", ev.Title)
	case NotifyEventCancelled:
		msg = fmt.Sprintf("Event cancelled: %s", ev.Title)
	case NotifyEventReminder:
		msg = fmt.Sprintf("Reminder: %s starts at %s", ev.Title, ev.StartTime.Format(time.Kitchen))
	default:
		msg = ev.Title
	}
	return Notification{Type: typ, Event: ev, Message: msg, Timestamp: now}
}
