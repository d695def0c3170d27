package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Task is one unit of work emitted by the planner.
type Task struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	RawText string `json:"raw_text"`
	Params  Params `json:"params,omitempty"`

	// Reply is set only on chat tasks the planner answered itself.
	Reply string `json:"reply,omitempty"`
}

// Validate checks the structural invariants of a task.
func (t Task) Validate() error {
	if t.ID == "" {
		return errors.New("task has no id")
	}
	if _, err := ParseKind(string(t.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(t.RawText) == "" && !(t.Kind == KindChat && t.Reply != "") {
		return fmt.Errorf("task %s (%s) has no raw text", t.ID, t.Kind)
	}
	return nil
}

// Candidate is a possible target for an entity-bearing task: a Home
// Assistant entity, or a calendar for calendar kinds.
type Candidate struct {
	EntityID     string  `json:"entity_id"`
	FriendlyName string  `json:"friendly_name,omitempty"`
	Domain       string  `json:"domain,omitempty"`
	Area         string  `json:"area,omitempty"`
	Score        float64 `json:"score"`
}

// Label is the spoken name of the candidate.
func (c Candidate) Label() string {
	if c.FriendlyName != "" {
		return c.FriendlyName
	}
	return c.EntityID
}

// SortCandidates orders candidates by score descending, keeping the
// registry order for ties.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Score > cs[j].Score })
}

// Resolved is a task with its targets attached. Compound requests are
// expanded into several Resolved sharing a ParentID, each carrying one
// atomic Payload.
type Resolved struct {
	Task     Task   `json:"task"`
	ParentID string `json:"parent_id,omitempty"`

	// Payload is the single item (shopping) or target phrase (devices)
	// this task acts on.
	Payload string `json:"payload,omitempty"`

	Candidates []Candidate `json:"candidates,omitempty"`

	// Implicit means exactly one candidate cleared the threshold and
	// the selection agent can be skipped.
	Implicit bool `json:"implicit,omitempty"`

	// Broadcast means every candidate is a target ("all lights").
	Broadcast bool `json:"broadcast,omitempty"`

	// Start and End bound calendar kinds. AllDay marks a date given
	// without a time of day.
	Start  time.Time `json:"start,omitzero"`
	End    time.Time `json:"end,omitzero"`
	AllDay bool      `json:"all_day,omitempty"`

	// Note explains an empty candidate list ("no calendars configured").
	Note string `json:"note,omitempty"`
}

// ID returns the task id.
func (r Resolved) ID() string { return r.Task.ID }

// Kind returns the task kind.
func (r Resolved) Kind() Kind { return r.Task.Kind }

// Selected is a resolved task with its chosen targets. It is immutable:
// build it with NewSelected and read the choice through Selection.
type Selected struct {
	resolved Resolved
	chosen   []Candidate
	question string
}

// NewSelected records the chosen subset of r's candidates. question is
// the clarification the selection agent wants to ask when chosen is
// empty.
func NewSelected(r Resolved, chosen []Candidate, question string) Selected {
	c := make([]Candidate, len(chosen))
	copy(c, chosen)
	return Selected{resolved: r, chosen: c, question: strings.TrimSpace(question)}
}

// Resolved returns the underlying resolved task.
func (s Selected) Resolved() Resolved { return s.resolved }

// Task returns the underlying task.
func (s Selected) Task() Task { return s.resolved.Task }

// ID returns the task id.
func (s Selected) ID() string { return s.resolved.Task.ID }

// Kind returns the task kind.
func (s Selected) Kind() Kind { return s.resolved.Task.Kind }

// Selection returns a copy of the chosen candidates.
func (s Selected) Selection() []Candidate {
	c := make([]Candidate, len(s.chosen))
	copy(c, s.chosen)
	return c
}

// Len is the number of chosen targets.
func (s Selected) Len() int { return len(s.chosen) }

// Question is the clarification to ask when nothing was chosen.
func (s Selected) Question() string { return s.question }

// TargetIDs returns the chosen entity ids, sorted.
func (s Selected) TargetIDs() []string {
	ids := make([]string, 0, len(s.chosen))
	for _, c := range s.chosen {
		ids = append(ids, c.EntityID)
	}
	sort.Strings(ids)
	return ids
}

// TargetLabels returns the spoken names of the chosen targets in
// selection order.
func (s Selected) TargetLabels() []string {
	labels := make([]string, 0, len(s.chosen))
	for _, c := range s.chosen {
		labels = append(labels, c.Label())
	}
	return labels
}

// Status is the outcome of one task.
type Status string

// Result statuses.
const (
	StatusSuccess          Status = "success"
	StatusFailed           Status = "failed"
	StatusSkippedDuplicate Status = "skipped_duplicate"
)

// Result is the outcome of executing one selected task.
type Result struct {
	TaskID  string   `json:"task_id"`
	Kind    Kind     `json:"kind"`
	Status  Status   `json:"status"`
	Detail  string   `json:"detail"`
	Targets []string `json:"targets,omitempty"`

	// DuplicateOf names the executed task a skipped duplicate merged into.
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// NeedsClarification marks failures caused by an unresolved target.
	NeedsClarification bool `json:"needs_clarification,omitempty"`
}

// Failed reports whether the task failed.
func (r Result) Failed() bool { return r.Status == StatusFailed }
