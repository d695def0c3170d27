package calendar

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const reportResponse = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/dav/family/e2.ics</d:href>
    <d:propstat>
      <d:prop>
        <d:getetag>"2"</d:getetag>
        <c:calendar-data>BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:e2
DTSTAMP:20250101T000000Z
SUMMARY:Dentist
LOCATION:Main St
DTSTART:20250602T140000Z
DTEND:20250602T150000Z
END:VEVENT
END:VCALENDAR
</c:calendar-data>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/dav/family/e1.ics</d:href>
    <d:propstat>
      <d:prop>
        <d:getetag>"1"</d:getetag>
        <c:calendar-data>BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:e1
DTSTAMP:20250101T000000Z
SUMMARY:Bin day
DTSTART;VALUE=DATE:20250602
DTEND;VALUE=DATE:20250603
END:VEVENT
END:VCALENDAR
</c:calendar-data>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

type davRecorder struct {
	mu      sync.Mutex
	methods []string
	putPath string
	putBody string
	user    string
}

func (d *davRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.methods = append(d.methods, r.Method)
	d.user, _, _ = r.BasicAuth()
	d.mu.Unlock()

	switch r.Method {
	case "REPORT":
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = io.WriteString(w, reportResponse)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		d.mu.Lock()
		d.putPath = r.URL.Path
		d.putBody = string(body)
		d.mu.Unlock()
		w.Header().Set("ETag", `"new"`)
		w.WriteHeader(http.StatusCreated)
	default:
		http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
	}
}

func newTestCalDAV(t *testing.T, rec *davRecorder) *CalDAV {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	c, err := NewCalDAV(CalDAVConfig{URL: srv.URL + "/dav/", Username: "alice", Password: "secret"}, srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewCalDAV: %v", err)
	}
	return c
}

func TestCalDAV_ListEvents(t *testing.T) {
	rec := &davRecorder{}
	c := newTestCalDAV(t, rec)

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	events, err := c.ListEvents(context.Background(), "/dav/family/", start, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ListEvents() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Summary != "Bin day" || !events[0].AllDay {
		t.Errorf("events[0] = %+v, want all-day Bin day first", events[0])
	}
	if events[1].Summary != "Dentist" || events[1].Location != "Main St" || events[1].UID != "e2" {
		t.Errorf("events[1] = %+v", events[1])
	}
	if !events[1].Start.Equal(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("events[1].Start = %v", events[1].Start)
	}
	if rec.user != "alice" {
		t.Errorf("basic auth user = %q, want alice", rec.user)
	}
}

func TestCalDAV_CreateEvent(t *testing.T) {
	rec := &davRecorder{}
	c := newTestCalDAV(t, rec)

	start := time.Date(2025, 6, 3, 9, 30, 0, 0, time.UTC)
	err := c.CreateEvent(context.Background(), "/dav/family/", Event{
		UID:     "fixed-uid",
		Summary: "Vet appointment",
		Start:   start,
	})
	if err != nil {
		t.Fatalf("CreateEvent() error: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.putPath != "/dav/family/fixed-uid.ics" {
		t.Errorf("PUT path = %q", rec.putPath)
	}
	for _, want := range []string{"BEGIN:VEVENT", "SUMMARY:Vet appointment", "UID:fixed-uid", "DTSTART:20250603T093000Z", "DTEND:20250603T103000Z"} {
		if !strings.Contains(rec.putBody, want) {
			t.Errorf("PUT body missing %q:\n%s", want, rec.putBody)
		}
	}
}

func TestCalDAV_CreateEventRejectsInvalid(t *testing.T) {
	rec := &davRecorder{}
	c := newTestCalDAV(t, rec)

	err := c.CreateEvent(context.Background(), "/dav/family/", Event{Start: time.Now()})
	if err == nil {
		t.Fatal("CreateEvent() without title should fail")
	}
	if len(rec.methods) != 0 {
		t.Errorf("server saw %v for an invalid event", rec.methods)
	}
}

func TestFormatEvents(t *testing.T) {
	if got := FormatEvents(nil, time.UTC); got != "No events." {
		t.Errorf("FormatEvents(nil) = %q", got)
	}
	events := []Event{
		{Summary: "Bin day", Start: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), AllDay: true},
		{Summary: "Dentist", Location: "Main St", Start: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)},
	}
	got := FormatEvents(events, time.UTC)
	want := "- Mon Jun 2 (all day): Bin day\n- Mon Jun 2 14:00: Dentist @ Main St"
	if got != want {
		t.Errorf("FormatEvents() = %q, want %q", got, want)
	}
}
