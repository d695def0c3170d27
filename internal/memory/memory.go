// Package memory provides the persistent key-value memory the assistant
// reads and writes on behalf of the user. Keys live in namespaces
// (preferences, facts, ...); values are plain strings. Writes create or
// overwrite, nothing in the assistant ever deletes.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Namespaces known to the assistant.
const (
	NamespacePreferences      = "preferences"
	NamespaceFacts            = "facts"
	NamespaceHistorySummaries = "history_summaries"
	NamespaceCustom           = "custom"
)

// DefaultNamespace receives keys written without a namespace prefix.
const DefaultNamespace = NamespaceFacts

// Namespaces lists the known namespaces in prompt order.
var Namespaces = []string{
	NamespacePreferences,
	NamespaceFacts,
	NamespaceHistorySummaries,
	NamespaceCustom,
}

// ErrInvalidKey is returned for empty keys and unknown namespaces.
var ErrInvalidKey = errors.New("invalid memory key")

// Store is the memory collaborator. Read reports found=false for a
// missing key; that is not an error.
type Store interface {
	Read(ctx context.Context, namespace, key string) (value string, found bool, err error)
	Write(ctx context.Context, namespace, key, value string) error
	ListKeys(ctx context.Context, namespace string) ([]string, error)
	Close() error
}

// SplitKey maps dot notation ("preferences.light_color") onto a
// namespace and key. Keys without a known namespace prefix go to the
// default namespace whole, so "kids.names" stays one key in facts.
func SplitKey(dotted string) (namespace, key string, err error) {
	dotted = strings.TrimSpace(dotted)
	if dotted == "" {
		return "", "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if ns, rest, ok := strings.Cut(dotted, "."); ok && ValidNamespace(strings.ToLower(ns)) {
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return "", "", fmt.Errorf("%w: %q has no key after the namespace", ErrInvalidKey, dotted)
		}
		return strings.ToLower(ns), rest, nil
	}
	return DefaultNamespace, dotted, nil
}

// ResolveKey picks the namespace and key for a memory call that may
// name the namespace separately. An explicit namespace also strips a
// matching prefix from key, so ("facts", "facts.x") is facts.x.
func ResolveKey(namespace, key string) (string, string, error) {
	ns := strings.ToLower(strings.TrimSpace(namespace))
	if ns == "" {
		return SplitKey(key)
	}
	if !ValidNamespace(ns) {
		return "", "", fmt.Errorf("%w: unknown namespace %q", ErrInvalidKey, ns)
	}
	key = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(key), ns+"."))
	if key == "" {
		return "", "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return ns, key, nil
}

// JoinKey is the inverse of SplitKey.
func JoinKey(namespace, key string) string {
	return namespace + "." + key
}

// ValidNamespace reports whether ns is a known namespace.
func ValidNamespace(ns string) bool {
	for _, n := range Namespaces {
		if n == ns {
			return true
		}
	}
	return false
}

func checkKey(namespace, key string) error {
	if !ValidNamespace(namespace) {
		return fmt.Errorf("%w: unknown namespace %q", ErrInvalidKey, namespace)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty key in %s", ErrInvalidKey, namespace)
	}
	return nil
}

// ContextSummary renders stored preferences and facts for inclusion in
// a system prompt. It returns "" when nothing is stored.
func ContextSummary(ctx context.Context, s Store) (string, error) {
	var b strings.Builder
	for _, ns := range []string{NamespacePreferences, NamespaceFacts} {
		keys, err := s.ListKeys(ctx, ns)
		if err != nil {
			return "", fmt.Errorf("list %s: %w", ns, err)
		}
		if len(keys) == 0 {
			continue
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "%s:\n", strings.ToUpper(ns[:1])+ns[1:])
		for _, k := range keys {
			v, found, err := s.Read(ctx, ns, k)
			if err != nil {
				return "", fmt.Errorf("read %s.%s: %w", ns, k, err)
			}
			if found {
				fmt.Fprintf(&b, "- %s: %s\n", k, v)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
