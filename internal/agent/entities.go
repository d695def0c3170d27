package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nugget/assist/internal/homeassistant"
)

// priorityDomains are listed first and get a larger share of the list.
var priorityDomains = []string{"light", "switch", "climate", "media_player", "cover", "fan"}

// hiddenDomains never appear in the prompt.
var hiddenDomains = map[string]bool{
	"group": true, "zone": true, "automation": true,
	"script": true, "update": true, "binary_sensor": true,
}

const (
	perPriorityDomain = 15
	perOtherDomain    = 10
)

// RenderEntities formats entities for the classic system prompt,
// grouped by domain with priority domains first. At most maxEntities entities
// are listed; maxEntities <= 0 lists everything.
func RenderEntities(entities []homeassistant.EntityInfo, maxEntities int) string {
	byDomain := make(map[string][]homeassistant.EntityInfo)
	total := 0
	for _, e := range entities {
		domain := entityDomain(e)
		if hiddenDomains[domain] {
			continue
		}
		byDomain[domain] = append(byDomain[domain], e)
		total++
	}
	if total == 0 {
		return ""
	}

	var others []string
	for d := range byDomain {
		if !slices.Contains(priorityDomains, d) {
			others = append(others, d)
		}
	}
	slices.Sort(others)

	var b strings.Builder
	shown := 0
	full := func() bool { return maxEntities > 0 && shown >= maxEntities }

	section := func(domain string, limit int) {
		list := byDomain[domain]
		if len(list) == 0 || full() {
			return
		}
		fmt.Fprintf(&b, "\n%s:\n", strings.ToUpper(domain[:1])+strings.ReplaceAll(domain[1:], "_", " "))
		for _, e := range list[:min(limit, len(list))] {
			if full() {
				return
			}
			name := e.FriendlyName
			if name == "" {
				name = e.EntityID
			}
			b.WriteString("- " + name)
			if e.Area != "" {
				b.WriteString(" [" + e.Area + "]")
			}
			b.WriteString(": " + e.EntityID)
			if e.State != "" && e.State != "unknown" && e.State != "unavailable" {
				b.WriteString(" (currently: " + e.State + ")")
			}
			b.WriteString("\n")
			shown++
		}
	}
	for _, d := range priorityDomains {
		section(d, perPriorityDomain)
	}
	for _, d := range others {
		section(d, perOtherDomain)
	}
	if shown < total {
		fmt.Fprintf(&b, "\n(Showing %d of %d entities)\n", shown, total)
	}
	return strings.TrimSpace(b.String())
}

func entityDomain(e homeassistant.EntityInfo) string {
	if e.Domain != "" {
		return e.Domain
	}
	domain, _, _ := strings.Cut(e.EntityID, ".")
	return domain
}
