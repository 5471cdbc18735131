package model

import "time"

type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

func (s EventStatus) Valid() bool {
	switch s {
	case StatusConfirmed, StatusTentative, StatusCancelled:
		return true
	}
	return false
}

type Event struct {
	ID          string          `json:"id"`
	CalendarID  string          `json:"calendar_id"`
	FamilyID    string          `json:"family_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time"`
	AllDay      bool            `json:"all_day"`
	Status      EventStatus     `json:"status"`
	CreatedBy   string          `json:"created_by"`
	UserID      string          `json:"user_id"`
	ExternalID  string          `json:"external_id,omitempty"`
	Recurrence  *RecurrenceRule `json:"recurrence,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (e Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Overlaps reports whether the event intersects the closed interval
// [start, end]. A zero bound is open.
func (e Event) Overlaps(start, end time.Time) bool {
	if !end.IsZero() && e.StartTime.After(end) {
		return false
	}
	if !start.IsZero() && e.EndTime.Before(start) {
		return false
	}
	return true
}

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return true
	}
	return false
}

// RecurrenceRule is embedded in an Event. Count and Until are mutually
// exclusive; a rule with neither is unbounded.
type RecurrenceRule struct {
	Frequency      Frequency   `json:"frequency"`
	Interval       int         `json:"interval"`
	Count          int         `json:"count,omitempty"`
	Until          *time.Time  `json:"until,omitempty"`
	ExceptionDates []time.Time `json:"exception_dates,omitempty"`
}

func (r RecurrenceRule) Bounded() bool {
	return r.Count > 0 || r.Until != nil
}

// DateRange is a closed interval used to filter event queries.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// RemoteEvent is a provider or feed item after wire decoding.
type RemoteEvent struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Status      EventStatus
	Deleted     bool
	Recurrence  *RecurrenceRule

	// SeriesID is set on a cancelled occurrence whose recurring series was
	// not part of the same listing. OriginalStart names the occurrence.
	SeriesID      string
	OriginalStart time.Time
}

// EventBatch is a set of writes applied in one transaction.
type EventBatch struct {
	Create []Event
	Update []Event
	Delete []string
}

func (b EventBatch) Empty() bool {
	return len(b.Create) == 0 && len(b.Update) == 0 && len(b.Delete) == 0
}
