// Package notify delivers event notifications and reminders to sinks such
// as the websocket hub.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

const DefaultBuffer = 64

// Sink receives notifications on the dispatcher goroutine. Deliver must not
// block for long.
type Sink interface {
	Deliver(n model.Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(model.Notification)

func (f SinkFunc) Deliver(n model.Notification) { f(n) }

// Dispatcher queues notifications on a buffered channel and fans them out
// from a single goroutine. Publish never blocks; when the buffer is full
// the notification is dropped.
type Dispatcher struct {
	queue chan model.Notification

	mu      sync.Mutex
	sinks   []Sink
	timers  map[string]*time.Timer
	stopped bool

	done   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
	logger *slog.Logger
}

func NewDispatcher(buffer int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		queue:  make(chan model.Notification, buffer),
		sinks:  sinks,
		timers: make(map[string]*time.Timer),
		done:   make(chan struct{}),
		now:    time.Now,
		logger: logger.With("component", "notify"),
	}
}

// AddSink registers a sink. Safe to call while running.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Start runs the delivery loop until ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case n := <-d.queue:
				d.deliver(n)
			case <-ctx.Done():
				d.drain()
				return
			case <-d.done:
				d.drain()
				return
			}
		}
	}()
}

func (d *Dispatcher) drain() {
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(n model.Notification) {
	d.mu.Lock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.Unlock()

	for _, s := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("notification sink panicked", "type", n.Type, "panic", r)
				}
			}()
			s.Deliver(n)
		}()
	}
}

// Publish enqueues n without blocking.
func (d *Dispatcher) Publish(n model.Notification) {
	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}

	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping", "type", n.Type, "event_id", n.Event.ID)
	}
}

// ScheduleReminder arms a reminder for ev at the given time, replacing any
// pending reminder for the same event.
func (d *Dispatcher) ScheduleReminder(ev model.Event, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if t, ok := d.timers[ev.ID]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(at.Sub(d.now()), func() {
		d.mu.Lock()
		if d.timers[ev.ID] != timer {
			d.mu.Unlock()
			return
		}
		delete(d.timers, ev.ID)
		d.mu.Unlock()
		d.Publish(model.NewNotification(model.NotifyEventReminder, ev, d.now()))
	})
	d.timers[ev.ID] = timer
}

func (d *Dispatcher) CancelReminder(eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[eventID]; ok {
		t.Stop()
		delete(d.timers, eventID)
	}
}

// Pending returns the number of armed reminders.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels reminders, delivers what is already queued and waits for
// the loop to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
}
