package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const prodID = "-//nugget//assist//EN"

// CalDAVConfig configures a CalDAV provider.
type CalDAVConfig struct {
	URL      string
	Username string
	Password string
}

// CalDAV is a Provider backed by a CalDAV server. Calendar ids are the
// collection paths reported by the server.
type CalDAV struct {
	client *caldav.Client
	logger *slog.Logger

	mu        sync.Mutex
	calendars []Calendar
}

// NewCalDAV creates a CalDAV provider. httpClient carries transport
// settings (timeouts, TLS); nil uses http.DefaultClient.
func NewCalDAV(cfg CalDAVConfig, httpClient *http.Client, logger *slog.Logger) (*CalDAV, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	var hc webdav.HTTPClient = httpClient
	if cfg.Username != "" {
		hc = webdav.HTTPClientWithBasicAuth(hc, cfg.Username, cfg.Password)
	}
	client, err := caldav.NewClient(hc, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("caldav client: %w", err)
	}
	return &CalDAV{client: client, logger: logger}, nil
}

// Calendars discovers the user's calendars through the principal's
// calendar home set. The list is cached after the first success.
func (c *CalDAV) Calendars(ctx context.Context) ([]Calendar, error) {
	c.mu.Lock()
	cached := c.calendars
	c.mu.Unlock()
	if cached != nil {
		return append([]Calendar(nil), cached...), nil
	}

	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	home, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home set: %w", err)
	}
	found, err := c.client.FindCalendars(ctx, home)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	var cals []Calendar
	for _, fc := range found {
		if !supportsEvents(fc.SupportedComponentSet) {
			continue
		}
		name := fc.Name
		if name == "" {
			name = path.Base(strings.TrimSuffix(fc.Path, "/"))
		}
		cals = append(cals, Calendar{ID: fc.Path, Name: name})
	}
	sort.Slice(cals, func(i, j int) bool { return cals[i].Name < cals[j].Name })

	c.logger.Debug("discovered CalDAV calendars", "count", len(cals))

	c.mu.Lock()
	c.calendars = cals
	c.mu.Unlock()
	return append([]Calendar(nil), cals...), nil
}

func supportsEvents(set []string) bool {
	if len(set) == 0 {
		return true
	}
	for _, comp := range set {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}

// ListEvents returns the events overlapping [start, end), sorted by start.
func (c *CalDAV) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  ical.CompCalendar,
			Props: []string{ical.PropVersion},
			Comps: []caldav.CalendarCompRequest{{
				Name: ical.CompEvent,
				Props: []string{
					ical.PropUID,
					ical.PropSummary,
					ical.PropDescription,
					ical.PropLocation,
					ical.PropDateTimeStart,
					ical.PropDateTimeEnd,
					ical.PropDuration,
				},
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start.UTC(),
				End:   end.UTC(),
			}},
		},
	}

	objects, err := c.client.QueryCalendar(ctx, calendarID, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar %s: %w", calendarID, err)
	}

	var events []Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, ev := range obj.Data.Events() {
			e, err := fromICal(ev, start.Location())
			if err != nil {
				c.logger.Debug("skipping unreadable event", "path", obj.Path, "error", err)
				continue
			}
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

// CreateEvent stores a new event in the calendar collection.
func (c *CalDAV) CreateEvent(ctx context.Context, calendarID string, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}
	if ev.End.IsZero() {
		ev.End = ev.Start.Add(time.Hour)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, ev.UID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetText(ical.PropSummary, ev.Summary)
	if ev.Description != "" {
		event.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.AllDay {
		event.Props.SetDate(ical.PropDateTimeStart, ev.Start)
		event.Props.SetDate(ical.PropDateTimeEnd, ev.End)
	} else {
		event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())
	}
	cal.Children = append(cal.Children, event.Component)

	objectPath := strings.TrimSuffix(calendarID, "/") + "/" + ev.UID + ".ics"
	if _, err := c.client.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return fmt.Errorf("put %s: %w", objectPath, err)
	}
	c.logger.Info("created calendar event", "calendar", calendarID, "summary", ev.Summary, "start", ev.Start)
	return nil
}

func fromICal(ev ical.Event, loc *time.Location) (Event, error) {
	if loc == nil {
		loc = time.Local
	}
	start, err := ev.DateTimeStart(loc)
	if err != nil {
		return Event{}, fmt.Errorf("start: %w", err)
	}
	end, err := ev.DateTimeEnd(loc)
	if err != nil {
		return Event{}, fmt.Errorf("end: %w", err)
	}

	e := Event{Start: start, End: end}
	e.UID, _ = ev.Props.Text(ical.PropUID)
	e.Summary, _ = ev.Props.Text(ical.PropSummary)
	e.Description, _ = ev.Props.Text(ical.PropDescription)
	e.Location, _ = ev.Props.Text(ical.PropLocation)
	if p := ev.Props.Get(ical.PropDateTimeStart); p != nil && p.ValueType() == ical.ValueDate {
		e.AllDay = true
	}
	return e, nil
}
