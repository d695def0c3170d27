package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InProcStore is a map-backed Store for tests and one-shot CLI runs.
// Nothing survives a restart.
type InProcStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]string
}

// NewInProcStore creates an empty store.
func NewInProcStore() *InProcStore {
	return &InProcStore{entries: make(map[string]map[string]string)}
}

// Read returns the value for namespace/key.
func (s *InProcStore) Read(_ context.Context, namespace, key string) (string, bool, error) {
	if err := checkKey(namespace, key); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[namespace][key]
	return v, ok, nil
}

// Write creates or overwrites namespace/key.
func (s *InProcStore) Write(_ context.Context, namespace, key, value string) error {
	if err := checkKey(namespace, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.entries[namespace]
	if !ok {
		ns = make(map[string]string)
		s.entries[namespace] = ns
	}
	ns[key] = value
	return nil
}

// ListKeys returns the keys of a namespace in sorted order.
func (s *InProcStore) ListKeys(_ context.Context, namespace string) ([]string, error) {
	if !ValidNamespace(namespace) {
		return nil, fmt.Errorf("%w: unknown namespace %q", ErrInvalidKey, namespace)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries[namespace]))
	for k := range s.entries[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (s *InProcStore) Close() error { return nil }
