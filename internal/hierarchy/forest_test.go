package hierarchy

import (
	"testing"

	"github.com/dukerupert/timeline/internal/model"
)

func node(id string, parent string, order int) model.Ticket {
	t := model.Ticket{ID: id, ChildOrder: order}
	if parent != "" {
		t.HierarchyParentID = &parent
	}
	return t
}

// a
// ├── b
// │   └── d
// │       └── e
// └── c
func sampleForest() *Forest {
	return NewForest(
		node("a", "", 0),
		node("c", "a", 2),
		node("b", "a", 1),
		node("d", "b", 1),
		node("e", "d", 1),
	)
}

func TestForestChildrenOrdered(t *testing.T) {
	f := sampleForest()
	kids := f.Children("a")
	if len(kids) != 2 || kids[0] != "b" || kids[1] != "c" {
		t.Errorf("children = %v, want [b c]", kids)
	}
	if len(f.Children("e")) != 0 {
		t.Error("leaf should have no children")
	}
}

func TestForestDescendantsBreadthFirst(t *testing.T) {
	f := sampleForest()
	got := f.Descendants("a")
	want := []string{"b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("descendants = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("descendants[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	for _, d := range want {
		if !f.IsDescendant("a", d) {
			t.Errorf("%s should be a descendant of a", d)
		}
	}
	if f.IsDescendant("a", "a") {
		t.Error("a node is not its own descendant")
	}
	if f.IsDescendant("b", "c") {
		t.Error("c is not below b")
	}
}

func TestForestHeight(t *testing.T) {
	f := sampleForest()
	tests := []struct {
		id      string
		height  int
		deepest string
	}{
		{"a", 3, "e"},
		{"b", 2, "e"},
		{"c", 0, "c"},
		{"e", 0, "e"},
	}
	for _, tt := range tests {
		h, deepest := f.Height(tt.id)
		if h != tt.height || deepest != tt.deepest {
			t.Errorf("Height(%s) = %d, %s; want %d, %s", tt.id, h, deepest, tt.height, tt.deepest)
		}
	}
}

func TestForestAddReparents(t *testing.T) {
	f := sampleForest()
	f.Add(node("d", "c", 1))

	if f.IsDescendant("b", "e") {
		t.Error("e moved with d and should no longer be under b")
	}
	if !f.IsDescendant("c", "e") {
		t.Error("e should now be under c")
	}
	if f.Depths("a")["e"] != 3 {
		t.Errorf("depth of e = %d, want 3", f.Depths("a")["e"])
	}
}
