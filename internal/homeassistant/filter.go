package homeassistant

import (
	"log/slog"
	"path"
	"strings"
)

// EntityFilter selects which entities the assistant may see and control
// using glob patterns. An empty filter matches all entities.
type EntityFilter struct {
	patterns []string
	logger   *slog.Logger
}

// NewEntityFilter creates an entity filter from glob patterns in
// [path.Match] syntax ("light.*", "switch.kitchen_*"). A pattern
// without a dot is taken as a whole domain.
func NewEntityFilter(globs []string, logger *slog.Logger) *EntityFilter {
	if logger == nil {
		logger = slog.Default()
	}
	patterns := make([]string, 0, len(globs))
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !strings.Contains(g, ".") {
			g += ".*"
		}
		patterns = append(patterns, g)
	}
	return &EntityFilter{patterns: patterns, logger: logger}
}

// Match reports whether the entity ID matches at least one pattern.
func (f *EntityFilter) Match(entityID string) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}
	for _, pat := range f.patterns {
		matched, err := path.Match(pat, entityID)
		if err != nil {
			f.logger.Debug("glob match error", "pattern", pat, "entity_id", entityID, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
