// Package homeassistant provides the Home Assistant clients (REST and
// WebSocket) and the adapters that expose them as the assistant's entity
// registry, shopping list and calendar collaborators.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/assist/internal/httpkit"
)

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new Home Assistant client. LAN dial failures are
// retried after a short delay.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// BaseURL returns the configured Home Assistant URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// State represents an entity state from Home Assistant.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// FriendlyName returns the friendly_name attribute, or "".
func (s State) FriendlyName() string {
	name, _ := s.Attributes["friendly_name"].(string)
	return name
}

// APIStatus represents the HA API status response.
type APIStatus struct {
	Message string `json:"message"`
}

// Ping checks if the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var status APIStatus
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetStates retrieves all entity states.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.get(ctx, "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// GetState retrieves a single entity state.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var state State
	if err := c.get(ctx, "/api/states/"+url.PathEscape(entityID), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// CallService calls a Home Assistant service.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))
	return c.post(ctx, path, data, nil)
}

// ServiceField describes one parameter of a service.
type ServiceField struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Example     any    `json:"example,omitempty"`
}

// Service describes one callable service.
type Service struct {
	Name        string                  `json:"name,omitempty"`
	Description string                  `json:"description,omitempty"`
	Fields      map[string]ServiceField `json:"fields,omitempty"`
}

// DomainServices lists the services of one domain.
type DomainServices struct {
	Domain   string             `json:"domain"`
	Services map[string]Service `json:"services"`
}

// GetServices retrieves the service catalog.
func (c *Client) GetServices(ctx context.Context) ([]DomainServices, error) {
	var services []DomainServices
	if err := c.get(ctx, "/api/services", &services); err != nil {
		return nil, err
	}
	return services, nil
}

// Area represents a Home Assistant area.
type Area struct {
	AreaID  string   `json:"area_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// GetAreas retrieves all areas from the area registry.
func (c *Client) GetAreas(ctx context.Context) ([]Area, error) {
	var areas []Area
	if err := c.get(ctx, "/api/config/area_registry/list", &areas); err != nil {
		return nil, err
	}
	return areas, nil
}

// EntityRegistryEntry represents an entity from the registry with area info.
type EntityRegistryEntry struct {
	EntityID     string `json:"entity_id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	AreaID       string `json:"area_id"`
	DeviceID     string `json:"device_id"`
	Platform     string `json:"platform"`
	DisabledBy   string `json:"disabled_by"`
}

// IsDisabled reports whether the entity is disabled in Home Assistant.
func (e EntityRegistryEntry) IsDisabled() bool {
	return e.DisabledBy != ""
}

// GetEntityRegistry retrieves the entity registry.
func (c *Client) GetEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error) {
	var entries []EntityRegistryEntry
	if err := c.get(ctx, "/api/config/entity_registry/list", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CalendarEntity is one entry of GET /api/calendars.
type CalendarEntity struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
}

// GetCalendars lists calendar entities.
func (c *Client) GetCalendars(ctx context.Context) ([]CalendarEntity, error) {
	var cals []CalendarEntity
	if err := c.get(ctx, "/api/calendars", &cals); err != nil {
		return nil, err
	}
	return cals, nil
}

// CalendarTime is the start/end shape of calendar events: either
// dateTime (timed) or date (all day).
type CalendarTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
}

// CalendarEvent is one entry of GET /api/calendars/{entity_id}.
type CalendarEvent struct {
	Summary     string       `json:"summary"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	UID         string       `json:"uid"`
	Start       CalendarTime `json:"start"`
	End         CalendarTime `json:"end"`
}

// GetCalendarEvents lists events of a calendar entity in [start, end).
func (c *Client) GetCalendarEvents(ctx context.Context, entityID string, start, end time.Time) ([]CalendarEvent, error) {
	q := url.Values{}
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))
	var events []CalendarEvent
	if err := c.get(ctx, "/api/calendars/"+url.PathEscape(entityID)+"?"+q.Encode(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// ShoppingItem is one entry of the shopping list integration.
type ShoppingItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Complete bool   `json:"complete"`
}

// GetShoppingList retrieves the shopping list over REST.
func (c *Client) GetShoppingList(ctx context.Context) ([]ShoppingItem, error) {
	var items []ShoppingItem
	if err := c.get(ctx, "/api/shopping_list", &items); err != nil {
		return nil, err
	}
	return items, nil
}

// EntityInfo combines state and registry info for an entity.
type EntityInfo struct {
	EntityID     string
	FriendlyName string
	AreaID       string
	Area         string
	Domain       string
	State        string
}

// GetEntities retrieves entities from the state list, optionally
// filtered by domain. Area fields are left empty; see Registry.
func (c *Client) GetEntities(ctx context.Context, domain string) ([]EntityInfo, error) {
	states, err := c.GetStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}

	var entities []EntityInfo
	for _, s := range states {
		entityDomain, _, ok := strings.Cut(s.EntityID, ".")
		if !ok {
			continue
		}
		if domain != "" && entityDomain != domain {
			continue
		}
		entities = append(entities, EntityInfo{
			EntityID:     s.EntityID,
			FriendlyName: s.FriendlyName(),
			Domain:       entityDomain,
			State:        s.State,
		})
	}
	return entities, nil
}

// get performs a GET request to the HA API.
func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// post performs a POST request to the HA API.
func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	var body []byte
	if data != nil {
		var err error
		body, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &APIError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// APIError is a non-2xx response from Home Assistant.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}
