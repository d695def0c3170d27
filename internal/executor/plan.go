package executor

import (
	"sort"
	"strings"

	"github.com/nugget/assist/internal/memory"
	"github.com/nugget/assist/internal/task"
)

// dedupKey identifies tasks that would have the same effect: kind,
// sorted target ids, canonical parameters and payload. Memory tasks
// compare the stored key, so "x" and "facts.x" are the same.
func dedupKey(s task.Selected) string {
	r := s.Resolved()
	params := r.Task.Params.Canonical()
	if s.Kind() == task.KindMemoryRead || s.Kind() == task.KindMemoryWrite {
		if key, ok := memoryKey(r.Task.Params); ok {
			params = key + "=" + r.Task.Params.String("value")
		}
	}
	return strings.Join([]string{
		string(s.Kind()),
		strings.Join(s.TargetIDs(), ","),
		params,
		strings.ToLower(strings.TrimSpace(r.Payload)),
	}, "|")
}

// memoryKey is the dotted key a memory task reads or writes.
func memoryKey(p task.Params) (string, bool) {
	ns, key, err := memory.ResolveKey(p.String("namespace"), p.String("key"))
	if err != nil {
		return "", false
	}
	return memory.JoinKey(ns, key), true
}

// resources lists the external resources a task touches. Tasks sharing
// any resource run serially.
func resources(s task.Selected) []string {
	switch s.Kind() {
	case task.KindDeviceControl:
		ids := s.TargetIDs()
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = "entity:" + id
		}
		return out
	case task.KindCalendarQuery, task.KindCalendarCreate:
		ids := s.TargetIDs()
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = "calendar:" + id
		}
		return out
	case task.KindShoppingAdd, task.KindShoppingRemove, task.KindShoppingList:
		return []string{"shopping"}
	case task.KindMemoryRead, task.KindMemoryWrite:
		key, ok := memoryKey(s.Task().Params)
		if !ok {
			return []string{"memory"}
		}
		return []string{"memory:" + strings.ToLower(key)}
	}
	return nil
}

// chains groups task indexes into serial chains. Two tasks land in the
// same chain when they share a resource, directly or through others.
// Each chain keeps planner order; chains are ordered by their first task.
func chains(idx []int, res map[int][]string) [][]int {
	parent := make(map[int]int, len(idx))
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	owner := map[string]int{}
	for _, i := range idx {
		parent[i] = i
		for _, r := range res[i] {
			if j, ok := owner[r]; ok {
				union(j, i)
			} else {
				owner[r] = i
			}
		}
	}

	groups := map[int][]int{}
	for _, i := range idx {
		root := find(i)
		groups[root] = append(groups[root], i)
	}
	out := make([][]int, 0, len(groups))
	for _, g := range groups {
		sort.Ints(g)
		out = append(out, g)
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}
