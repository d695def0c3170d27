package tools

import (
	"context"
	"time"
)

func (r *Registry) registerTimeTools() {
	r.Register(&Tool{
		Name:        "get_time",
		Description: "Get the current local time.",
		Parameters:  objectSchema(nil, map[string]any{}),
		Handler: func(context.Context, map[string]any) (string, error) {
			return r.now().Format("15:04"), nil
		},
	})
	r.Register(&Tool{
		Name:        "get_date",
		Description: "Get today's date.",
		Parameters:  objectSchema(nil, map[string]any{}),
		Handler: func(context.Context, map[string]any) (string, error) {
			return r.now().Format("Monday, January 2, 2006"), nil
		},
	})
	r.Register(&Tool{
		Name:        "get_datetime",
		Description: "Get the current local date and time.",
		Parameters:  objectSchema(nil, map[string]any{}),
		Handler: func(context.Context, map[string]any) (string, error) {
			return r.now().Format("Monday, January 2, 2006 15:04 MST"), nil
		},
	})
}

func (r *Registry) now() time.Time {
	return r.deps.Now().In(r.deps.Location)
}
