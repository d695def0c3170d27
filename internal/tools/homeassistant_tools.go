package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nugget/assist/internal/homeassistant"
)

func (r *Registry) registerHomeAssistantTools() {
	r.Register(&Tool{
		Name:        "get_state",
		Description: "Get the current state of a Home Assistant entity. Use this to check if lights are on, doors are open, temperatures, etc.",
		Parameters: objectSchema([]string{"entity_id"}, map[string]any{
			"entity_id": prop("string", "The entity ID (e.g., light.living_room, sensor.temperature, binary_sensor.front_door)"),
		}),
		Handler: r.handleGetState,
	})

	r.Register(&Tool{
		Name:        "list_entities",
		Description: "List entities, optionally by domain and area. Use this to discover what's available before calling a service.",
		Parameters: objectSchema(nil, map[string]any{
			"domain": prop("string", "The domain to list (e.g., light, switch, sensor, climate, cover)"),
			"area":   prop("string", "Only entities in this area (e.g., kitchen)"),
			"limit":  prop("integer", "Maximum number of entities to return (default 20)"),
		}),
		Handler: r.handleListEntities,
	})

	r.Register(&Tool{
		Name:        "call_service",
		Description: "Call a Home Assistant service to control devices. Examples: turn on lights, set thermostat temperature, lock doors.",
		Parameters: objectSchema([]string{"domain", "service", "entity_id"}, map[string]any{
			"domain":  prop("string", "The service domain (e.g., light, switch, climate, lock)"),
			"service": prop("string", "The service to call (e.g., turn_on, turn_off, set_temperature, lock)"),
			"entity_id": map[string]any{
				"description": "The target entity ID, or a list of entity IDs",
				"anyOf": []any{
					map[string]any{"type": "string"},
					map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			"data": prop("object", "Additional service data (e.g., brightness_pct, temperature)"),
		}),
		Handler: r.handleCallService,
	})

	r.Register(&Tool{
		Name:        "describe_service",
		Description: "Describe the services of a domain and the data fields they accept.",
		Parameters: objectSchema([]string{"domain"}, map[string]any{
			"domain":  prop("string", "The service domain (e.g., light, climate)"),
			"service": prop("string", "Only describe this service"),
		}),
		Handler: r.handleDescribeService,
	})
}

func (r *Registry) handleGetState(ctx context.Context, args map[string]any) (string, error) {
	entityID := stringArg(args, "entity_id")
	if entityID == "" {
		return "", errMissingArgs("entity_id")
	}

	state, err := r.deps.HomeAssistant.GetState(ctx, entityID)
	if err != nil {
		return "", err
	}
	return FormatEntityState(state), nil
}

// FormatEntityState renders a state with its most useful attributes
// for the model.
func FormatEntityState(state *homeassistant.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s\nState: %s\n", state.EntityID, state.State)

	if name, ok := state.Attributes["friendly_name"].(string); ok {
		fmt.Fprintf(&b, "Name: %s\n", name)
	}
	if unit, ok := state.Attributes["unit_of_measurement"].(string); ok {
		fmt.Fprintf(&b, "Unit: %s\n", unit)
	}
	if brightness, ok := state.Attributes["brightness"].(float64); ok {
		fmt.Fprintf(&b, "Brightness: %.0f%%\n", brightness/255*100)
	}
	if temp, ok := state.Attributes["temperature"].(float64); ok {
		fmt.Fprintf(&b, "Temperature: %.1f\n", temp)
	}
	if temp, ok := state.Attributes["current_temperature"].(float64); ok {
		fmt.Fprintf(&b, "Current temperature: %.1f\n", temp)
	}
	return b.String()
}

func (r *Registry) handleListEntities(ctx context.Context, args map[string]any) (string, error) {
	domain := stringArg(args, "domain")
	area := stringArg(args, "area")
	limit := intArg(args, "limit", 20)
	if limit <= 0 {
		limit = 20
	}

	entities, err := r.deps.HomeAssistant.ListEntities(ctx, domain, area)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, e := range entities {
		line := "- " + e.EntityID
		if e.FriendlyName != "" {
			line += " (" + e.FriendlyName + ")"
		}
		if e.Area != "" {
			line += " [" + e.Area + "]"
		}
		lines = append(lines, line+": "+e.State)
		if len(lines) >= limit {
			break
		}
	}

	what := "matching"
	if domain != "" {
		what = domain
	}
	if len(lines) == 0 {
		return fmt.Sprintf("No %s entities found.", what), nil
	}
	return fmt.Sprintf("Found %d %s entities:\n%s", len(lines), what, strings.Join(lines, "\n")), nil
}

func (r *Registry) handleCallService(ctx context.Context, args map[string]any) (string, error) {
	domain := stringArg(args, "domain")
	service := stringArg(args, "service")
	targets := stringsArg(args, "entity_id")

	if domain == "" || service == "" || len(targets) == 0 {
		return "", errMissingArgs("domain", "service", "entity_id")
	}

	data := make(map[string]any)
	if extra, ok := args["data"].(map[string]any); ok {
		for k, v := range extra {
			data[k] = v
		}
	}
	if len(targets) == 1 {
		data["entity_id"] = targets[0]
	} else {
		data["entity_id"] = targets
	}

	if err := r.deps.HomeAssistant.CallService(ctx, domain, service, data); err != nil {
		return "", err
	}
	return fmt.Sprintf("Called %s.%s on %s", domain, service, strings.Join(targets, ", ")), nil
}

func (r *Registry) handleDescribeService(ctx context.Context, args map[string]any) (string, error) {
	domain := stringArg(args, "domain")
	if domain == "" {
		return "", errMissingArgs("domain")
	}
	only := stringArg(args, "service")

	services, err := r.deps.HomeAssistant.Services(ctx, domain)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(services))
	for name := range services {
		if only == "" || name == only {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("service %s.%s not found", domain, only)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		svc := services[name]
		fmt.Fprintf(&b, "%s.%s", domain, name)
		if svc.Description != "" {
			fmt.Fprintf(&b, ": %s", svc.Description)
		}
		b.WriteByte('\n')

		fields := make([]string, 0, len(svc.Fields))
		for f := range svc.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			field := svc.Fields[f]
			fmt.Fprintf(&b, "  - %s", f)
			if field.Required {
				b.WriteString(" (required)")
			}
			if field.Description != "" {
				fmt.Fprintf(&b, ": %s", field.Description)
			}
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
