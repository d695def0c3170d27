package homeassistant

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

type serviceCall struct {
	Domain  string
	Service string
	Data    map[string]any
}

// fakeHA is an in-memory Home Assistant serving the REST and WebSocket
// endpoints the adapters use.
type fakeHA struct {
	mu       sync.Mutex
	states   []State
	areas    []Area
	registry []EntityRegistryEntry
	shopping []ShoppingItem
	calls    []serviceCall
	events   map[string]json.RawMessage
	wsCmds   []string
	failNext int
}

func newFakeHA() *fakeHA {
	return &fakeHA{
		states: []State{
			{EntityID: "light.kitchen", State: "off", Attributes: map[string]any{"friendly_name": "Kitchen Light"}},
			{EntityID: "light.bedroom", State: "on", Attributes: map[string]any{"friendly_name": "Bedroom Light", "brightness": float64(128)}},
			{EntityID: "switch.coffee", State: "off", Attributes: map[string]any{"friendly_name": "Coffee Maker"}},
			{EntityID: "sensor.outside_temp", State: "12.5", Attributes: map[string]any{"friendly_name": "Outside", "unit_of_measurement": "°C"}},
		},
		areas: []Area{{AreaID: "kitchen", Name: "Kitchen"}, {AreaID: "bedroom", Name: "Bedroom"}},
		registry: []EntityRegistryEntry{
			{EntityID: "light.kitchen", AreaID: "kitchen"},
			{EntityID: "light.bedroom", AreaID: "bedroom"},
			{EntityID: "switch.coffee", AreaID: "kitchen", DisabledBy: "user"},
		},
		shopping: []ShoppingItem{{ID: "1", Name: "Milk"}, {ID: "2", Name: "Bread", Complete: true}},
		events:   map[string]json.RawMessage{},
	}
}

func (f *fakeHA) serviceCalls() []serviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]serviceCall(nil), f.calls...)
}

func (f *fakeHA) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeHA) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{$}", func(w http.ResponseWriter, r *http.Request) {
		f.writeJSON(w, APIStatus{Message: "API running."})
	})
	mux.HandleFunc("GET /api/states", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.writeJSON(w, f.states)
	})
	mux.HandleFunc("GET /api/states/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, s := range f.states {
			if s.EntityID == r.PathValue("id") {
				f.writeJSON(w, s)
				return
			}
		}
		http.Error(w, `{"message":"Entity not found."}`, http.StatusNotFound)
	})
	mux.HandleFunc("POST /api/services/{domain}/{service}", func(w http.ResponseWriter, r *http.Request) {
		var data map[string]any
		_ = json.NewDecoder(r.Body).Decode(&data)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failNext > 0 {
			f.failNext--
			http.Error(w, "service rejected", http.StatusBadRequest)
			return
		}
		call := serviceCall{Domain: r.PathValue("domain"), Service: r.PathValue("service"), Data: data}
		f.calls = append(f.calls, call)
		if call.Domain == "shopping_list" {
			name, _ := data["name"].(string)
			switch call.Service {
			case "add_item":
				f.shopping = append(f.shopping, ShoppingItem{Name: name})
			case "remove_item":
				for i, it := range f.shopping {
					if it.Name == name {
						f.shopping = append(f.shopping[:i], f.shopping[i+1:]...)
						break
					}
				}
			}
		}
		f.writeJSON(w, []State{})
	})
	mux.HandleFunc("GET /api/services", func(w http.ResponseWriter, r *http.Request) {
		f.writeJSON(w, []DomainServices{{
			Domain: "light",
			Services: map[string]Service{
				"turn_on": {Name: "Turn on", Description: "Turn on one or more lights.", Fields: map[string]ServiceField{
					"brightness_pct": {Name: "Brightness", Description: "Brightness in percent."},
				}},
			},
		}})
	})
	mux.HandleFunc("GET /api/config/area_registry/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.writeJSON(w, f.areas)
	})
	mux.HandleFunc("GET /api/config/entity_registry/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.writeJSON(w, f.registry)
	})
	mux.HandleFunc("GET /api/calendars", func(w http.ResponseWriter, r *http.Request) {
		f.writeJSON(w, []CalendarEntity{{EntityID: "calendar.family", Name: "Family"}, {EntityID: "calendar.work", Name: "Work"}})
	})
	mux.HandleFunc("GET /api/calendars/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start") == "" || r.URL.Query().Get("end") == "" {
			http.Error(w, "missing window", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		body, ok := f.events[r.PathValue("id")]
		if !ok {
			body = json.RawMessage("[]")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("GET /api/shopping_list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.writeJSON(w, f.shopping)
	})
	mux.HandleFunc("GET /api/websocket", f.serveWS(t))
	return mux
}

func (f *fakeHA) serveWS(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]string{"type": "auth_required"})
		var auth map[string]string
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth["access_token"] != "test-token" {
			_ = conn.WriteJSON(map[string]string{"type": "auth_invalid"})
			return
		}
		_ = conn.WriteJSON(map[string]string{"type": "auth_ok"})

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			id := msg["id"]
			typ, _ := msg["type"].(string)

			f.mu.Lock()
			f.wsCmds = append(f.wsCmds, typ)
			var result any
			ok := true
			switch typ {
			case "config/area_registry/list":
				result = f.areas
			case "config/entity_registry/list":
				result = f.registry
			case "shopping_list/items":
				result = f.shopping
			case "subscribe_events":
				result = nil
			default:
				ok = false
			}
			f.mu.Unlock()

			if !ok {
				_ = conn.WriteJSON(map[string]any{"id": id, "type": "result", "success": false,
					"error": map[string]string{"code": "unknown_command", "message": "Unknown command."}})
				continue
			}
			_ = conn.WriteJSON(map[string]any{"id": id, "type": "result", "success": true, "result": result})

			if typ == "subscribe_events" {
				_ = conn.WriteJSON(map[string]any{"id": id, "type": "event", "event": map[string]any{
					"event_type": msg["event_type"], "data": map[string]any{"action": "update"},
				}})
			}
		}
	}
}

func newTestHA(t *testing.T) (*fakeHA, *Client, *httptest.Server) {
	t.Helper()
	fake := newFakeHA()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return fake, NewClient(srv.URL+"/", "test-token", nil), srv
}

func wsURL(srv *httptest.Server) string {
	return strings.TrimSuffix(srv.URL, "/")
}
