// Package resolver attaches concrete targets to planned tasks. It splits
// compound requests into atomic tasks, ranks entity and calendar
// candidates, and resolves calendar time windows. Resolution never
// changes anything outside the process.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/assist/internal/calendar"
	"github.com/nugget/assist/internal/homeassistant"
	"github.com/nugget/assist/internal/task"
)

// DefaultThreshold is the score a single candidate must reach to be
// chosen without asking the selection agent.
const DefaultThreshold = 0.8

// EntityRegistry lists the entities tasks may target.
// *homeassistant.Registry implements it.
type EntityRegistry interface {
	ListEntities(ctx context.Context, domain, area string) ([]homeassistant.EntityInfo, error)
}

// Options tune a Resolver.
type Options struct {
	// Locale adds the conjunctions of its language to English and
	// German when splitting compound requests.
	Locale string
	// Threshold defaults to DefaultThreshold.
	Threshold float64
	// Location is used for relative dates. Defaults to time.Local.
	Location *time.Location
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Resolver turns tasks into resolved tasks.
type Resolver struct {
	entities  EntityRegistry
	calendars calendar.Provider
	splitter  *Splitter
	threshold float64
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Resolver. calendars may be nil when no calendar is
// configured; calendar tasks then resolve without candidates.
func New(entities EntityRegistry, calendars calendar.Provider, opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{
		entities:  entities,
		calendars: calendars,
		splitter:  NewSplitter(opts.Locale),
		threshold: opts.Threshold,
		loc:       opts.Location,
		now:       opts.Now,
		logger:    logger.With("component", "resolver"),
	}
}

// Resolve resolves tasks in planner order. Compound tasks expand in
// place. Lookup failures are recorded on the affected task; only
// cancellation is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, tasks []task.Task) ([]task.Resolved, error) {
	now := r.now().In(r.loc)
	var out []task.Resolved
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var resolved []task.Resolved
		switch t.Kind {
		case task.KindShoppingAdd, task.KindShoppingRemove:
			resolved = r.resolveItems(t)
		case task.KindDeviceControl:
			resolved = r.resolveDevices(ctx, t)
		case task.KindCalendarQuery, task.KindCalendarCreate:
			resolved = []task.Resolved{r.resolveCalendar(ctx, t, now)}
		default:
			resolved = []task.Resolved{{Task: t}}
		}
		for _, res := range resolved {
			r.logger.Debug("task resolved",
				"task", res.ID(),
				"kind", res.Kind(),
				"payload", res.Payload,
				"candidates", len(res.Candidates),
				"implicit", res.Implicit,
				"broadcast", res.Broadcast,
			)
		}
		out = append(out, resolved...)
	}
	return out, nil
}

// expand emits one resolved task per payload. A single payload keeps
// the task id; several get "<id>.<n>" ids and share the parent id.
func expand(t task.Task, payloads []string) []task.Resolved {
	if len(payloads) <= 1 {
		res := task.Resolved{Task: t}
		if len(payloads) == 1 {
			res.Payload = payloads[0]
		}
		return []task.Resolved{res}
	}
	out := make([]task.Resolved, 0, len(payloads))
	for i, p := range payloads {
		child := t
		child.ID = fmt.Sprintf("%s.%d", t.ID, i+1)
		child.Params = t.Params.Clone()
		out = append(out, task.Resolved{Task: child, ParentID: t.ID, Payload: p})
	}
	return out
}

func (r *Resolver) resolveItems(t task.Task) []task.Resolved {
	text := t.Params.First("items", "item", "raw_items")
	if text == "" {
		text = t.RawText
	}
	items := r.splitter.Split(text)
	if len(items) > 1 {
		r.logger.Info("compound list request split", "task", t.ID, "items", len(items))
	}
	return expand(t, items)
}

func (r *Resolver) resolveDevices(ctx context.Context, t task.Task) []task.Resolved {
	phrase := t.Params.First("targets", "target", "raw_targets", "entity_id", "name")
	if phrase == "" {
		phrase = t.RawText
	}
	domain := strings.ToLower(t.Params.String("domain"))

	entities, err := r.entities.ListEntities(ctx, "", t.Params.String("area"))
	if err != nil {
		r.logger.Warn("entity lookup failed", "task", t.ID, "error", err)
		res := expand(t, []string{phrase})
		res[0].Note = fmt.Sprintf("could not list devices: %v", err)
		return res
	}

	parts := []string{phrase}
	if split := r.splitter.Split(phrase); len(split) > 1 {
		whole := matchEntities(phrase, r.pool(entities, domain, phrase))
		if aboveThreshold(whole, r.threshold) != 1 {
			parts = split
		}
	}

	out := expand(t, parts)
	for i := range out {
		r.attachDevices(&out[i], domain, entities)
	}
	return out
}

// pool narrows entities to the domain a phrase targets: the explicit
// domain, else the one its keywords imply, else every controllable
// domain.
func (r *Resolver) pool(entities []homeassistant.EntityInfo, domain, phrase string) []homeassistant.EntityInfo {
	if domain == "" {
		domain = inferDomain(phrase)
	}
	var out []homeassistant.EntityInfo
	for _, e := range entities {
		if (domain != "" && e.Domain == domain) || (domain == "" && controllableDomains[e.Domain]) {
			out = append(out, e)
		}
	}
	return out
}

func (r *Resolver) attachDevices(res *task.Resolved, domain string, entities []homeassistant.EntityInfo) {
	phrase := res.Payload
	if domain == "" {
		domain = inferDomain(phrase)
	}
	pool := r.pool(entities, domain, phrase)

	for _, e := range pool {
		if e.EntityID == strings.ToLower(strings.TrimSpace(phrase)) {
			res.Candidates = []task.Candidate{candidateOf(e, 1)}
			res.Implicit = true
			return
		}
	}

	if domain != "" && isBroadcast(phrase) {
		rest := residualTokens(phrase)
		for _, e := range pool {
			if len(rest) == 0 || tokenMatchScore(rest, append(tokenize(e.Area), tokenize(e.FriendlyName)...)) >= r.threshold {
				res.Candidates = append(res.Candidates, candidateOf(e, 1))
			}
		}
		res.Broadcast = len(res.Candidates) > 0
		if !res.Broadcast {
			res.Note = fmt.Sprintf("no %s devices match %q", domain, phrase)
		}
		return
	}

	res.Candidates = matchEntities(phrase, pool)
	res.Implicit = aboveThreshold(res.Candidates, r.threshold) == 1 || preferExactName(res.Candidates, phrase)
	if len(res.Candidates) == 0 {
		res.Note = fmt.Sprintf("no device matches %q", phrase)
	}
}

// preferExactName moves the only candidate whose friendly name is the
// phrase itself to the front and reports whether there was one.
func preferExactName(cs []task.Candidate, phrase string) bool {
	want := strings.Join(queryTokens(phrase), " ")
	idx := -1
	for i, c := range cs {
		if strings.Join(queryTokens(c.FriendlyName), " ") != want {
			continue
		}
		if idx >= 0 {
			return false
		}
		idx = i
	}
	if idx < 0 {
		return false
	}
	exact := cs[idx]
	copy(cs[1:idx+1], cs[:idx])
	cs[0] = exact
	return true
}

func candidateOf(e homeassistant.EntityInfo, score float64) task.Candidate {
	return task.Candidate{
		EntityID:     e.EntityID,
		FriendlyName: e.FriendlyName,
		Domain:       e.Domain,
		Area:         e.Area,
		Score:        score,
	}
}

func isBroadcast(phrase string) bool {
	for _, t := range tokenize(phrase) {
		if broadcastWords[t] {
			return true
		}
	}
	return false
}

// residualTokens are the words of a broadcast phrase that narrow it
// ("kitchen" in "all kitchen lights").
func residualTokens(phrase string) []string {
	var out []string
	for _, t := range queryTokens(phrase) {
		if !broadcastWords[t] && tokenDomain(t) == "" {
			out = append(out, t)
		}
	}
	return out
}

func (r *Resolver) resolveCalendar(ctx context.Context, t task.Task, now time.Time) task.Resolved {
	res := task.Resolved{Task: t}
	if err := r.attachWindow(&res, now); err != nil {
		res.Note = err.Error()
	}

	if r.calendars == nil {
		res.Note = joinNotes(res.Note, "no calendar is configured")
		return res
	}
	cals, err := r.calendars.Calendars(ctx)
	if err != nil {
		r.logger.Warn("calendar lookup failed", "task", t.ID, "error", err)
		res.Note = joinNotes(res.Note, fmt.Sprintf("could not list calendars: %v", err))
		return res
	}
	if len(cals) == 0 {
		res.Note = joinNotes(res.Note, "no calendars are available")
		return res
	}

	name := t.Params.First("calendar", "calendar_id", "calendar_name")
	cs := make([]task.Candidate, 0, len(cals))
	for _, c := range cals {
		cs = append(cs, task.Candidate{EntityID: c.ID, FriendlyName: c.Name, Domain: "calendar"})
	}

	switch {
	case name != "":
		q := queryTokens(name)
		for i := range cs {
			if strings.EqualFold(cs[i].EntityID, name) {
				cs[i].Score = 1
				continue
			}
			cs[i].Score = max(tokenMatchScore(q, tokenize(cs[i].FriendlyName)), tokenMatchScore(q, tokenize(cs[i].EntityID)))
		}
		task.SortCandidates(cs)
		res.Implicit = aboveThreshold(cs, r.threshold) == 1
	case len(cs) == 1:
		cs[0].Score = 1
		res.Implicit = true
	case t.Kind == task.KindCalendarQuery:
		for i := range cs {
			cs[i].Score = 1
		}
		res.Broadcast = true
	}
	res.Candidates = cs
	return res
}

// attachWindow resolves the time window of a calendar task. Queries
// default to a week from today and a zero-length window spans the whole
// day. Events default to one hour, or one day when no time is given.
func (r *Resolver) attachWindow(res *task.Resolved, now time.Time) error {
	p := res.Task.Params
	startText := p.First("start", "date", "when")
	endText := p.String("end")

	var (
		start    time.Time
		dateOnly bool
		err      error
	)
	if startText != "" {
		if start, dateOnly, err = parseDate(startText, now); err != nil {
			return fmt.Errorf("could not understand the date %q", startText)
		}
	}

	if res.Kind() == task.KindCalendarQuery {
		if start.IsZero() {
			start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		}
		end := start.AddDate(0, 0, 7)
		if endText != "" {
			e, endDateOnly, err := parseDate(endText, now)
			if err != nil {
				return fmt.Errorf("could not understand the date %q", endText)
			}
			if endDateOnly {
				e = e.AddDate(0, 0, 1)
			}
			end = e
		}
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		res.Start, res.End = start, end
		return nil
	}

	if start.IsZero() {
		return fmt.Errorf("no start time given")
	}
	res.AllDay = dateOnly || p.String("all_day") == "true"
	end := start.Add(time.Hour)
	if res.AllDay {
		end = start.AddDate(0, 0, 1)
	}
	if endText != "" {
		e, endDateOnly, err := parseDate(endText, now)
		if err != nil {
			return fmt.Errorf("could not understand the date %q", endText)
		}
		if endDateOnly {
			e = e.AddDate(0, 0, 1)
		}
		if e.After(start) {
			end = e
		}
	}
	res.Start, res.End = start, end
	return nil
}

func joinNotes(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
