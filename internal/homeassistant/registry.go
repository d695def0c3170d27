package homeassistant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry is the entity registry collaborator. It joins live states
// with the area and entity registries so every entity carries its area,
// and applies the exposure filter.
type Registry struct {
	client *Client
	ws     *WSClient
	filter *EntityFilter
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	areaOf    map[string]Area // entity_id -> area
	areaList  []Area
	fetchedAt time.Time
}

// NewRegistry creates the registry adapter. ws may be nil, in which case
// the REST registry endpoints are used. ttl bounds how long area data
// is cached; registry change events invalidate it early (see Watch).
func NewRegistry(client *Client, ws *WSClient, filter *EntityFilter, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{client: client, ws: ws, filter: filter, ttl: ttl, logger: logger}
}

// ListEntities returns the exposed entities, optionally filtered by
// domain and by area (matched case-insensitively against the area name
// or id). Order follows the Home Assistant state list.
func (r *Registry) ListEntities(ctx context.Context, domain, area string) ([]EntityInfo, error) {
	entities, err := r.client.GetEntities(ctx, domain)
	if err != nil {
		return nil, err
	}
	areaOf, _ := r.areas(ctx)

	area = strings.ToLower(strings.TrimSpace(area))
	out := make([]EntityInfo, 0, len(entities))
	for _, e := range entities {
		if !r.filter.Match(e.EntityID) {
			continue
		}
		if a, ok := areaOf[e.EntityID]; ok {
			e.AreaID, e.Area = a.AreaID, a.Name
		}
		if area != "" && strings.ToLower(e.Area) != area && e.AreaID != area {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// GetState returns the state of an exposed entity.
func (r *Registry) GetState(ctx context.Context, entityID string) (*State, error) {
	if !r.filter.Match(entityID) {
		return nil, fmt.Errorf("entity %s is not exposed to the assistant", entityID)
	}
	return r.client.GetState(ctx, entityID)
}

// CallService calls a service. Calls targeting an entity outside the
// exposure filter are refused.
func (r *Registry) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	for _, id := range targetIDs(data["entity_id"]) {
		if !r.filter.Match(id) {
			return fmt.Errorf("entity %s is not exposed to the assistant", id)
		}
	}
	return r.client.CallService(ctx, domain, service, data)
}

// targetIDs reads an entity_id service field, which Home Assistant
// accepts as a string, a comma-separated string or a list.
func targetIDs(v any) []string {
	var ids []string
	switch t := v.(type) {
	case string:
		for _, id := range strings.Split(t, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	case []string:
		ids = append(ids, t...)
	case []any:
		for _, e := range t {
			if id, ok := e.(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Services returns the service descriptions of one domain.
func (r *Registry) Services(ctx context.Context, domain string) (map[string]Service, error) {
	all, err := r.client.GetServices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d.Domain == domain {
			return d.Services, nil
		}
	}
	return nil, fmt.Errorf("unknown service domain %q", domain)
}

// Invalidate drops cached area data.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchedAt = time.Time{}
}

// Watch subscribes to registry change events and invalidates the cache
// when they arrive. It returns when ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	if r.ws == nil {
		return nil
	}
	for _, ev := range []string{"area_registry_updated", "entity_registry_updated"} {
		if err := r.ws.Subscribe(ctx, ev); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.ws.Events():
			r.logger.Debug("registry changed, dropping area cache", "event", ev.Type)
			r.Invalidate()
		}
	}
}

// areas returns the entity->area map and the area list, refreshing
// them when stale. Lookup failures degrade to no area data.
func (r *Registry) areas(ctx context.Context) (map[string]Area, []Area) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.areaOf != nil && time.Since(r.fetchedAt) < r.ttl {
		return r.areaOf, r.areaList
	}

	var (
		areas   []Area
		entries []EntityRegistryEntry
		err     error
	)
	if r.ws != nil && r.ws.Connected() {
		areas, err = r.ws.GetAreaRegistry(ctx)
		if err == nil {
			entries, err = r.ws.GetEntityRegistry(ctx)
		}
	} else {
		areas, err = r.client.GetAreas(ctx)
		if err == nil {
			entries, err = r.client.GetEntityRegistry(ctx)
		}
	}
	if err != nil {
		r.logger.Warn("area lookup failed, continuing without areas", "error", err)
		if r.areaOf == nil {
			return map[string]Area{}, nil
		}
		return r.areaOf, r.areaList
	}

	byID := make(map[string]Area, len(areas))
	for _, a := range areas {
		byID[a.AreaID] = a
	}
	areaOf := make(map[string]Area, len(entries))
	for _, e := range entries {
		if e.IsDisabled() || e.AreaID == "" {
			continue
		}
		if a, ok := byID[e.AreaID]; ok {
			areaOf[e.EntityID] = a
		}
	}

	r.areaOf, r.areaList, r.fetchedAt = areaOf, areas, time.Now()
	r.logger.Debug("area cache refreshed", "areas", len(areas), "entities", len(areaOf))
	return areaOf, areas
}

// AreaNames returns the known area names, sorted.
func (r *Registry) AreaNames(ctx context.Context) []string {
	_, areas := r.areas(ctx)
	names := make([]string, 0, len(areas))
	for _, a := range areas {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}
