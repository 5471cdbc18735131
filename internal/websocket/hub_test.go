package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, userID, familyID string) *Client {
	return &Client{
		hub:      hub,
		conn:     nil,
		send:     make(chan []byte, sendBufferSize),
		userID:   userID,
		familyID: familyID,
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
	return Message{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Errorf("unexpected message %s", data)
	default:
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "alice", "f1")
	c2 := mockClient(hub, "bob", "f1")

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub, "alice", "")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDeliverFamilyEvent(t *testing.T) {
	hub := NewHub(slog.Default())

	alice := mockClient(hub, "alice", "f1")
	bob := mockClient(hub, "bob", "f1")
	eve := mockClient(hub, "eve", "f2")
	for _, c := range []*Client{alice, bob, eve} {
		hub.Register(c)
	}

	ev := model.Event{ID: "e1", CalendarID: "c1", FamilyID: "f1", UserID: "alice", Title: "Dentist"}
	hub.Deliver(model.NewNotification(model.NotifyEventCreated, ev, time.Now()))

	for _, c := range []*Client{alice, bob} {
		got := receive(t, c)
		if got.Type != "event_created" {
			t.Errorf("type = %q, want event_created", got.Type)
		}
		if got.ID != "e1" {
			t.Errorf("id = %q, want e1", got.ID)
		}
		if got.Extra["message"] != "New event created: Dentist" {
			t.Errorf("message = %v", got.Extra["message"])
		}
	}
	expectNothing(t, eve)
}

func TestDeliverPersonalEvent(t *testing.T) {
	hub := NewHub(slog.Default())

	alice := mockClient(hub, "alice", "f1")
	bob := mockClient(hub, "bob", "f1")
	hub.Register(alice)
	hub.Register(bob)

	ev := model.Event{ID: "e1", UserID: "alice", Title: "Therapy"}
	hub.Deliver(model.NewNotification(model.NotifyEventReminder, ev, time.Now()))

	if got := receive(t, alice); got.Type != "event_reminder" {
		t.Errorf("type = %q, want event_reminder", got.Type)
	}
	expectNothing(t, bob)
}

func TestSendEmptyHub(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	hub.Send(NewMessage("calendar_sync", "idle", "c1", nil), Audience{FamilyID: "f1"})
}

func TestSendFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub, "alice", "")
	hub.Register(c)
	to := Audience{UserID: "alice"}

	// Fill the send buffer
	for i := 0; i < sendBufferSize; i++ {
		hub.Send(NewMessage("test", "fill", "", nil), to)
	}

	// This should drop the message, not panic or block
	hub.Send(NewMessage("test", "dropped", "", nil), to)

	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("calendar_sync", "failed", "c1", nil)
	if msg.Type != "calendar_sync_failed" {
		t.Errorf("expected type calendar_sync_failed, got %s", msg.Type)
	}
	if msg.Entity != "calendar_sync" {
		t.Errorf("expected entity calendar_sync, got %s", msg.Entity)
	}
	if msg.Action != "failed" {
		t.Errorf("expected action failed, got %s", msg.Action)
	}
	if msg.ID != "c1" {
		t.Errorf("expected id c1, got %s", msg.ID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub, "u", "f1")
			hub.Register(c)
			hub.Send(NewMessage("test", "concurrent", "", nil), Audience{FamilyID: "f1"})
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}
