package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/assist/internal/memory"
)

func (r *Registry) registerMemoryTools() {
	keyDoc := "Memory key in dot notation, e.g. preferences.light_color or facts.wifi_name. Keys without a namespace go to facts."
	nsDoc := "Namespace (" + strings.Join(memory.Namespaces, ", ") + "); overrides any prefix in key"

	r.Register(&Tool{
		Name:        "memory_read",
		Description: "Read a remembered value. Reports when nothing is stored under the key.",
		Parameters: objectSchema([]string{"key"}, map[string]any{
			"key":       prop("string", keyDoc),
			"namespace": prop("string", nsDoc),
		}),
		Handler: r.handleMemoryRead,
	})

	r.Register(&Tool{
		Name:        "memory_write",
		Description: "Remember a value for later. Overwrites any previous value under the key.",
		Parameters: objectSchema([]string{"key", "value"}, map[string]any{
			"key":       prop("string", keyDoc),
			"value":     prop("string", "The value to remember"),
			"namespace": prop("string", nsDoc),
		}),
		Handler: r.handleMemoryWrite,
	})

	r.Register(&Tool{
		Name:        "memory_list_keys",
		Description: "List the keys remembered in a namespace.",
		Parameters: objectSchema(nil, map[string]any{
			"namespace": prop("string", nsDoc+". Defaults to facts"),
		}),
		Handler: r.handleMemoryListKeys,
	})
}

// memoryKey resolves the namespace and key of a memory tool call.
func memoryKey(args map[string]any) (string, string, error) {
	key := stringArg(args, "key")
	if key == "" {
		return "", "", errMissingArgs("key")
	}
	return memory.ResolveKey(stringArg(args, "namespace"), key)
}

func (r *Registry) handleMemoryRead(ctx context.Context, args map[string]any) (string, error) {
	ns, key, err := memoryKey(args)
	if err != nil {
		return "", err
	}
	value, found, err := r.deps.Memory.Read(ctx, ns, key)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("No value stored for %s.", memory.JoinKey(ns, key)), nil
	}
	return fmt.Sprintf("%s: %s", memory.JoinKey(ns, key), value), nil
}

func (r *Registry) handleMemoryWrite(ctx context.Context, args map[string]any) (string, error) {
	ns, key, err := memoryKey(args)
	if err != nil {
		return "", err
	}
	value := stringArg(args, "value")
	if value == "" {
		return "", errMissingArgs("value")
	}
	if err := r.deps.Memory.Write(ctx, ns, key, value); err != nil {
		return "", err
	}
	return fmt.Sprintf("Remembered %s.", memory.JoinKey(ns, key)), nil
}

func (r *Registry) handleMemoryListKeys(ctx context.Context, args map[string]any) (string, error) {
	ns := strings.ToLower(stringArg(args, "namespace"))
	if ns == "" {
		ns = memory.DefaultNamespace
	}
	if !memory.ValidNamespace(ns) {
		return "", fmt.Errorf("%w: unknown namespace %q", memory.ErrInvalidKey, ns)
	}
	keys, err := r.deps.Memory.ListKeys(ctx, ns)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return fmt.Sprintf("Nothing remembered in %s.", ns), nil
	}
	return fmt.Sprintf("Keys in %s: %s", ns, strings.Join(keys, ", ")), nil
}
