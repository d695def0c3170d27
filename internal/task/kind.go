// Package task defines the per-turn records that flow through the
// pipeline: Task from the planner, Resolved from the resolver, Selected
// from the selection agent and Result from the executor. None of them
// outlive one turn.
package task

import (
	"fmt"
	"strings"
)

// Kind is the type of work a task asks for.
type Kind string

// Task kinds.
const (
	KindDeviceControl  Kind = "device_control"
	KindMemoryRead     Kind = "memory_read"
	KindMemoryWrite    Kind = "memory_write"
	KindShoppingAdd    Kind = "shopping_add"
	KindShoppingRemove Kind = "shopping_remove"
	KindShoppingList   Kind = "shopping_list"
	KindCalendarQuery  Kind = "calendar_query"
	KindCalendarCreate Kind = "calendar_create"
	KindChat           Kind = "chat"
)

// Kinds lists every kind in the order the planner prompt documents them.
var Kinds = []Kind{
	KindDeviceControl,
	KindMemoryRead,
	KindMemoryWrite,
	KindShoppingAdd,
	KindShoppingRemove,
	KindShoppingList,
	KindCalendarQuery,
	KindCalendarCreate,
	KindChat,
}

// kindAliases maps names models commonly emit onto canonical kinds.
var kindAliases = map[string]Kind{
	"shopping_query": KindShoppingList,
	"shopping_read":  KindShoppingList,
	"calendar_list":  KindCalendarQuery,
	"calendar_read":  KindCalendarQuery,
	"calendar_add":   KindCalendarCreate,
	"memory_recall":  KindMemoryRead,
	"memory_store":   KindMemoryWrite,
	"memory_save":    KindMemoryWrite,
	"device":         KindDeviceControl,
	"conversation":   KindChat,
}

// ParseKind returns the canonical kind for s, accepting known aliases.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// EntityBearing reports whether tasks of this kind need a concrete
// target (an entity or a calendar) before they can execute.
func (k Kind) EntityBearing() bool {
	switch k {
	case KindDeviceControl, KindCalendarQuery, KindCalendarCreate:
		return true
	}
	return false
}

// ListMutation reports whether the kind edits the shopping list and is
// therefore split into one task per item.
func (k Kind) ListMutation() bool {
	return k == KindShoppingAdd || k == KindShoppingRemove
}

// Mutating reports whether executing the kind changes external state.
func (k Kind) Mutating() bool {
	switch k {
	case KindDeviceControl, KindMemoryWrite, KindShoppingAdd, KindShoppingRemove, KindCalendarCreate:
		return true
	}
	return false
}
