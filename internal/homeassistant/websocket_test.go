package homeassistant

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func connectWS(t *testing.T, url, token string) *WSClient {
	t.Helper()
	ws := NewWSClient(url, token, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWSClient_Commands(t *testing.T) {
	_, _, srv := newTestHA(t)
	ws := connectWS(t, wsURL(srv), "test-token")
	ctx := context.Background()

	areas, err := ws.GetAreaRegistry(ctx)
	if err != nil {
		t.Fatalf("GetAreaRegistry() error = %v", err)
	}
	if len(areas) != 2 {
		t.Errorf("got %d areas, want 2", len(areas))
	}

	entries, err := ws.GetEntityRegistry(ctx)
	if err != nil {
		t.Fatalf("GetEntityRegistry() error = %v", err)
	}
	if len(entries) != 3 || !entries[2].IsDisabled() {
		t.Errorf("entries = %+v", entries)
	}

	items, err := ws.ShoppingListItems(ctx)
	if err != nil {
		t.Fatalf("ShoppingListItems() error = %v", err)
	}
	if len(items) != 2 || items[0].Name != "Milk" {
		t.Errorf("items = %+v", items)
	}
}

func TestWSClient_UnknownCommand(t *testing.T) {
	_, _, srv := newTestHA(t)
	ws := connectWS(t, wsURL(srv), "test-token")

	if _, err := ws.command(context.Background(), "bogus/command", nil); err == nil {
		t.Error("command() should fail for an unknown command")
	}
}

func TestWSClient_AuthInvalid(t *testing.T) {
	_, _, srv := newTestHA(t)
	ws := NewWSClient(wsURL(srv), "wrong", nil)
	if err := ws.Connect(context.Background()); err == nil {
		ws.Close()
		t.Fatal("Connect() with a bad token should fail")
	}
	if ws.Connected() {
		t.Error("Connected() = true after failed auth")
	}
}

func TestWSClient_NotConnected(t *testing.T) {
	ws := NewWSClient("http://127.0.0.1:1", "t", nil)
	if _, err := ws.GetAreaRegistry(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetAreaRegistry() error = %v, want ErrNotConnected", err)
	}
}

func TestWSClient_Subscribe(t *testing.T) {
	_, _, srv := newTestHA(t)
	ws := connectWS(t, wsURL(srv), "test-token")

	if err := ws.Subscribe(context.Background(), "entity_registry_updated"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	select {
	case ev := <-ws.Events():
		if ev.Type != "entity_registry_updated" {
			t.Errorf("event type = %q", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWSClient_Integration(t *testing.T) {
	token := os.Getenv("HOMEASSISTANT_TOKEN")
	if token == "" {
		t.Skip("HOMEASSISTANT_TOKEN not set")
	}
	url := os.Getenv("HOMEASSISTANT_URL")
	if url == "" {
		t.Skip("HOMEASSISTANT_URL not set")
	}

	ws := connectWS(t, url, token)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	areas, err := ws.GetAreaRegistry(ctx)
	if err != nil {
		t.Fatalf("GetAreaRegistry failed: %v", err)
	}
	t.Logf("Found %d areas", len(areas))

	entities, err := ws.GetEntityRegistry(ctx)
	if err != nil {
		t.Fatalf("GetEntityRegistry failed: %v", err)
	}
	withArea := 0
	for _, e := range entities {
		if e.AreaID != "" {
			withArea++
		}
	}
	t.Logf("Found %d entities, %d with area assignments", len(entities), withArea)
}
