package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/assist/internal/calendar"
)

func (r *Registry) registerCalendarTools() {
	r.Register(&Tool{
		Name:        "calendar_list_events",
		Description: "List calendar events in a time window. Without a calendar_id every calendar is searched.",
		Parameters: objectSchema(nil, map[string]any{
			"calendar_id": prop("string", "Calendar to search (e.g., calendar.family)"),
			"start":       prop("string", "Window start, ISO 8601 date or date-time. Defaults to today"),
			"end":         prop("string", "Window end, ISO 8601 date or date-time. Defaults to start plus 7 days"),
			"query":       prop("string", "Only events whose title, notes or location contain this text"),
		}),
		Handler: r.handleCalendarList,
	})

	r.Register(&Tool{
		Name:        "calendar_create_event",
		Description: "Create a calendar event.",
		Parameters: objectSchema([]string{"summary", "start"}, map[string]any{
			"calendar_id": prop("string", "Calendar to write to. May be omitted when only one calendar exists"),
			"summary":     prop("string", "Event title"),
			"start":       prop("string", "Start, ISO 8601 date-time, or a date for an all-day event"),
			"end":         prop("string", "End, ISO 8601. Defaults to one hour after start"),
			"description": prop("string", "Optional notes"),
			"location":    prop("string", "Optional location"),
			"all_day":     prop("boolean", "Create an all-day event"),
		}),
		Handler: r.handleCalendarCreate,
	})
}

func (r *Registry) handleCalendarList(ctx context.Context, args map[string]any) (string, error) {
	loc := r.deps.Location
	now := r.deps.Now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if s := stringArg(args, "start"); s != "" {
		t, _, err := parseTime(s, loc)
		if err != nil {
			return "", err
		}
		start = t
	}
	end := start.AddDate(0, 0, 7)
	if s := stringArg(args, "end"); s != "" {
		t, dateOnly, err := parseTime(s, loc)
		if err != nil {
			return "", err
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		end = t
	}
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}

	cals, err := r.calendars(ctx, stringArg(args, "calendar_id"))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, cal := range cals {
		events, err := r.deps.Calendar.ListEvents(ctx, cal.ID, start, end)
		if err != nil {
			return "", err
		}
		events = filterEvents(events, stringArg(args, "query"))
		if i > 0 {
			b.WriteString("\n")
		}
		if len(cals) > 1 {
			fmt.Fprintf(&b, "%s:\n", cal.Name)
		}
		b.WriteString(calendar.FormatEvents(events, loc))
	}
	return b.String(), nil
}

func (r *Registry) handleCalendarCreate(ctx context.Context, args map[string]any) (string, error) {
	summary := stringArg(args, "summary")
	startArg := stringArg(args, "start")
	if summary == "" || startArg == "" {
		return "", errMissingArgs("summary", "start")
	}

	loc := r.deps.Location
	start, dateOnly, err := parseTime(startArg, loc)
	if err != nil {
		return "", err
	}
	ev := calendar.Event{
		Summary:     summary,
		Description: stringArg(args, "description"),
		Location:    stringArg(args, "location"),
		Start:       start,
		AllDay:      dateOnly || boolArg(args, "all_day"),
	}
	if s := stringArg(args, "end"); s != "" {
		if ev.End, _, err = parseTime(s, loc); err != nil {
			return "", err
		}
	}
	switch {
	case ev.AllDay && !ev.End.After(ev.Start):
		ev.End = ev.Start.AddDate(0, 0, 1)
	case ev.End.IsZero():
		ev.End = ev.Start.Add(time.Hour)
	}

	cals, err := r.calendars(ctx, stringArg(args, "calendar_id"))
	if err != nil {
		return "", err
	}
	if len(cals) > 1 {
		return "", fmt.Errorf("calendar_id is required, choose one of: %s", calendarNames(cals))
	}
	if err := r.deps.Calendar.CreateEvent(ctx, cals[0].ID, ev); err != nil {
		return "", err
	}

	when := ev.Start.In(loc).Format("Mon Jan 2 15:04")
	if ev.AllDay {
		when = ev.Start.In(loc).Format("Mon Jan 2")
	}
	return fmt.Sprintf("Created %q on %s in %s.", summary, when, cals[0].Name), nil
}

// calendars returns the calendar with the given id or name, or every
// calendar when id is empty.
func (r *Registry) calendars(ctx context.Context, id string) ([]calendar.Calendar, error) {
	all, err := r.deps.Calendar.Calendars(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no calendars configured", calendar.ErrNotFound)
	}
	if id == "" {
		return all, nil
	}
	for _, c := range all {
		if c.ID == id || strings.EqualFold(c.Name, id) {
			return []calendar.Calendar{c}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", calendar.ErrNotFound, id, calendarNames(all))
}

// filterEvents keeps the events mentioning query, case-insensitively.
func filterEvents(events []calendar.Event, query string) []calendar.Event {
	q := strings.ToLower(query)
	if q == "" {
		return events
	}
	var out []calendar.Event
	for _, ev := range events {
		text := strings.ToLower(ev.Summary + "\n" + ev.Description + "\n" + ev.Location)
		if strings.Contains(text, q) {
			out = append(out, ev)
		}
	}
	return out
}

func calendarNames(cals []calendar.Calendar) string {
	names := make([]string, len(cals))
	for i, c := range cals {
		names[i] = c.ID
	}
	return strings.Join(names, ", ")
}
