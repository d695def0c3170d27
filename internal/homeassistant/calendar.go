package homeassistant

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nugget/assist/internal/calendar"
)

// Calendars is the calendar collaborator backed by Home Assistant
// calendar entities. Calendar ids are entity ids ("calendar.family").
type Calendars struct {
	client *Client
	loc    *time.Location
}

// NewCalendars creates the adapter. loc is used for all-day events and
// defaults to time.Local.
func NewCalendars(client *Client, loc *time.Location) *Calendars {
	if loc == nil {
		loc = time.Local
	}
	return &Calendars{client: client, loc: loc}
}

// Calendars lists the calendar entities.
func (c *Calendars) Calendars(ctx context.Context) ([]calendar.Calendar, error) {
	entities, err := c.client.GetCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	cals := make([]calendar.Calendar, 0, len(entities))
	for _, e := range entities {
		cals = append(cals, calendar.Calendar{ID: e.EntityID, Name: e.Name})
	}
	return cals, nil
}

// ListEvents returns the events of one calendar in [start, end).
func (c *Calendars) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]calendar.Event, error) {
	raw, err := c.client.GetCalendarEvents(ctx, calendarID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list events of %s: %w", calendarID, err)
	}
	events := make([]calendar.Event, 0, len(raw))
	for _, r := range raw {
		ev, err := c.convert(r)
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", r.Summary, err)
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func (c *Calendars) convert(r CalendarEvent) (calendar.Event, error) {
	ev := calendar.Event{
		UID:         r.UID,
		Summary:     r.Summary,
		Description: r.Description,
		Location:    r.Location,
	}
	var err error
	if ev.Start, ev.AllDay, err = c.parseTime(r.Start); err != nil {
		return ev, err
	}
	if ev.End, _, err = c.parseTime(r.End); err != nil {
		return ev, err
	}
	return ev, nil
}

func (c *Calendars) parseTime(t CalendarTime) (time.Time, bool, error) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		return v, false, err
	}
	v, err := time.ParseInLocation("2006-01-02", t.Date, c.loc)
	return v, true, err
}

// CreateEvent creates an event through the calendar.create_event service.
func (c *Calendars) CreateEvent(ctx context.Context, calendarID string, ev calendar.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.End.IsZero() {
		ev.End = ev.Start.Add(time.Hour)
	}
	data := map[string]any{
		"entity_id": calendarID,
		"summary":   ev.Summary,
	}
	if ev.AllDay {
		data["start_date"] = ev.Start.In(c.loc).Format("2006-01-02")
		data["end_date"] = ev.End.In(c.loc).Format("2006-01-02")
	} else {
		data["start_date_time"] = ev.Start.Format(time.RFC3339)
		data["end_date_time"] = ev.End.Format(time.RFC3339)
	}
	if ev.Description != "" {
		data["description"] = ev.Description
	}
	if ev.Location != "" {
		data["location"] = ev.Location
	}
	if err := c.client.CallService(ctx, "calendar", "create_event", data); err != nil {
		return fmt.Errorf("create event in %s: %w", calendarID, err)
	}
	return nil
}
