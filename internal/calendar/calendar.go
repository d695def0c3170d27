// Package calendar defines the calendar collaborator and a CalDAV
// implementation of it. The Home Assistant implementation lives in
// package homeassistant.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned for an unknown calendar id.
var ErrNotFound = errors.New("calendar not found")

// Calendar identifies one calendar.
type Calendar struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is one calendar entry. All-day events have Start at local
// midnight and AllDay set.
type Event struct {
	UID         string    `json:"uid,omitempty"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
}

// Provider is the calendar collaborator.
type Provider interface {
	Calendars(ctx context.Context) ([]Calendar, error)
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, calendarID string, ev Event) error
}

// Validate checks an event before it is created.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Summary) == "" {
		return errors.New("event has no title")
	}
	if e.Start.IsZero() {
		return errors.New("event has no start time")
	}
	if !e.End.IsZero() && e.End.Before(e.Start) {
		return fmt.Errorf("event ends (%s) before it starts (%s)", e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	return nil
}

// FormatEvents renders events one per line for tool results and
// summaries, in the location loc.
func FormatEvents(events []Event, loc *time.Location) string {
	if len(events) == 0 {
		return "No events."
	}
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	for i, ev := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		start := ev.Start.In(loc)
		if ev.AllDay {
			fmt.Fprintf(&b, "- %s (all day): %s", start.Format("Mon Jan 2"), ev.Summary)
		} else {
			fmt.Fprintf(&b, "- %s: %s", start.Format("Mon Jan 2 15:04"), ev.Summary)
		}
		if ev.Location != "" {
			fmt.Fprintf(&b, " @ %s", ev.Location)
		}
	}
	return b.String()
}
