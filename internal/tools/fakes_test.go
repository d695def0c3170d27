package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nugget/assist/internal/calendar"
	"github.com/nugget/assist/internal/homeassistant"
)

type serviceCall struct {
	Domain, Service string
	Data            map[string]any
}

type fakeHA struct {
	mu       sync.Mutex
	entities []homeassistant.EntityInfo
	calls    []serviceCall
	fail     map[string]error // entity_id -> error
}

func newFakeHA() *fakeHA {
	return &fakeHA{
		entities: []homeassistant.EntityInfo{
			{EntityID: "light.kitchen", FriendlyName: "Kitchen Light", Area: "Kitchen", Domain: "light", State: "off"},
			{EntityID: "light.bedroom", FriendlyName: "Bedroom Light", Area: "Bedroom", Domain: "light", State: "on"},
			{EntityID: "switch.coffee", FriendlyName: "Coffee Maker", Area: "Kitchen", Domain: "switch", State: "off"},
		},
		fail: map[string]error{},
	}
}

func (f *fakeHA) ListEntities(_ context.Context, domain, area string) ([]homeassistant.EntityInfo, error) {
	var out []homeassistant.EntityInfo
	for _, e := range f.entities {
		if domain != "" && e.Domain != domain {
			continue
		}
		if area != "" && !strings.EqualFold(e.Area, area) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeHA) GetState(_ context.Context, entityID string) (*homeassistant.State, error) {
	for _, e := range f.entities {
		if e.EntityID == entityID {
			return &homeassistant.State{
				EntityID:   e.EntityID,
				State:      e.State,
				Attributes: map[string]any{"friendly_name": e.FriendlyName},
			}, nil
		}
	}
	return nil, fmt.Errorf("entity %s not found", entityID)
}

func (f *fakeHA) CallService(_ context.Context, domain, service string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := data["entity_id"].(string); ok {
		if err := f.fail[id]; err != nil {
			return err
		}
	}
	f.calls = append(f.calls, serviceCall{Domain: domain, Service: service, Data: data})
	return nil
}

func (f *fakeHA) Services(_ context.Context, domain string) (map[string]homeassistant.Service, error) {
	if domain != "light" {
		return nil, fmt.Errorf("unknown service domain %q", domain)
	}
	return map[string]homeassistant.Service{
		"turn_on": {Description: "Turn on lights.", Fields: map[string]homeassistant.ServiceField{
			"brightness_pct": {Description: "Brightness in percent."},
			"color_name":     {Description: "A human-readable color name."},
		}},
		"turn_off": {Description: "Turn off lights."},
	}, nil
}

type fakeShopping struct {
	items []string
}

func (f *fakeShopping) AddItem(_ context.Context, name string) error {
	f.items = append(f.items, name)
	return nil
}

func (f *fakeShopping) RemoveItem(_ context.Context, name string) error {
	for i, it := range f.items {
		if strings.EqualFold(it, name) {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%q is not on the shopping list", name)
}

func (f *fakeShopping) Items(context.Context) ([]string, error) {
	return append([]string(nil), f.items...), nil
}

type fakeCalendar struct {
	cals    []calendar.Calendar
	events  map[string][]calendar.Event
	created map[string][]calendar.Event
	windows []string
}

func newFakeCalendar(cals ...calendar.Calendar) *fakeCalendar {
	return &fakeCalendar{cals: cals, events: map[string][]calendar.Event{}, created: map[string][]calendar.Event{}}
}

func (f *fakeCalendar) Calendars(context.Context) ([]calendar.Calendar, error) {
	return f.cals, nil
}

func (f *fakeCalendar) ListEvents(_ context.Context, id string, start, end time.Time) ([]calendar.Event, error) {
	f.windows = append(f.windows, start.Format(time.RFC3339)+"/"+end.Format(time.RFC3339))
	return f.events[id], nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, id string, ev calendar.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if id == "" {
		return errors.New("no calendar")
	}
	f.created[id] = append(f.created[id], ev)
	return nil
}
