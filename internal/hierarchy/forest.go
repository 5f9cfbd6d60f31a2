package hierarchy

import (
	"cmp"
	"slices"

	"github.com/dukerupert/timeline/internal/model"
)

// Forest is an in-memory view of part of the ticket hierarchy: tickets by
// id plus a parent to children index. Walks are iterative.
type Forest struct {
	nodes    map[string]model.Ticket
	children map[string]map[string]struct{}
}

func NewForest(tickets ...model.Ticket) *Forest {
	f := &Forest{
		nodes:    make(map[string]model.Ticket, len(tickets)),
		children: make(map[string]map[string]struct{}),
	}
	for _, t := range tickets {
		f.Add(t)
	}
	return f
}

// Add inserts or replaces t and indexes it under its parent.
func (f *Forest) Add(t model.Ticket) {
	if old, ok := f.nodes[t.ID]; ok && old.HierarchyParentID != nil {
		delete(f.children[*old.HierarchyParentID], t.ID)
	}
	f.nodes[t.ID] = t
	if t.HierarchyParentID != nil {
		kids := f.children[*t.HierarchyParentID]
		if kids == nil {
			kids = make(map[string]struct{})
			f.children[*t.HierarchyParentID] = kids
		}
		kids[t.ID] = struct{}{}
	}
}

func (f *Forest) Get(id string) (model.Ticket, bool) {
	t, ok := f.nodes[id]
	return t, ok
}

func (f *Forest) Len() int { return len(f.nodes) }

// Children returns the ids of id's children ordered by ChildOrder, then id.
func (f *Forest) Children(id string) []string {
	kids := make([]string, 0, len(f.children[id]))
	for k := range f.children[id] {
		kids = append(kids, k)
	}
	slices.SortFunc(kids, func(a, b string) int {
		if c := cmp.Compare(f.nodes[a].ChildOrder, f.nodes[b].ChildOrder); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return kids
}

// Descendants returns every descendant of id in breadth-first order,
// excluding id itself.
func (f *Forest) Descendants(id string) []string {
	var out []string
	seen := map[string]struct{}{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, k := range f.Children(cur) {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
			queue = append(queue, k)
		}
	}
	return out
}

// Depths returns the depth of id and each of its descendants relative to id.
func (f *Forest) Depths(id string) map[string]int {
	depths := map[string]int{id: 0}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, k := range f.Children(cur) {
			if _, dup := depths[k]; dup {
				continue
			}
			depths[k] = depths[cur] + 1
			queue = append(queue, k)
		}
	}
	return depths
}

// IsDescendant reports whether id lies strictly below ancestor.
func (f *Forest) IsDescendant(ancestor, id string) bool {
	return slices.Contains(f.Descendants(ancestor), id)
}

// Height returns the number of levels below id and the id of a deepest
// descendant. A leaf has height 0 and is its own deepest node.
func (f *Forest) Height(id string) (int, string) {
	height, deepest := 0, id
	for node, d := range f.Depths(id) {
		if d > height || (d == height && d > 0 && node < deepest) {
			height, deepest = d, node
		}
	}
	return height, deepest
}
