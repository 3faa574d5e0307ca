package data

import (
	"strings"
	"testing"
)

func TestTreeJSONBuilderOrdering(t *testing.T) {
	b := NewTreeJSONBuilder()
	if err := b.AddNode(&Node{Name: "a"}); err != nil {
		t.Fatalf("AddNode a: %v", err)
	}
	if err := b.AddNode(&Node{Name: "b"}); err != nil {
		t.Fatalf("AddNode b: %v", err)
	}
	if err := b.AddNode(&Node{Name: "a"}); err == nil {
		t.Fatal("expected ErrTreeNotOrdered for duplicate name")
	}
	if b.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", b.Count())
	}
}

func TestTreeNodeIteratorRoundTrip(t *testing.T) {
	b := NewTreeJSONBuilder()
	for _, name := range []string{"a", "b", "c"} {
		if err := b.AddNode(&Node{Name: name, Type: NodeTypeFile}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	data := b.Finalize()

	it, err := NewTreeNodeIterator(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("NewTreeNodeIterator: %v", err)
	}

	var names []string
	for item := range it {
		if item.Error != nil {
			t.Fatalf("iterator error: %v", item.Error)
		}
		names = append(names, item.Node.Name)
	}
	if strings.Join(names, ",") != "a,b,c" {
		t.Fatalf("got names %v", names)
	}
}

func TestTreeFinder(t *testing.T) {
	b := NewTreeJSONBuilder()
	for _, name := range []string{"a", "m", "z"} {
		if err := b.AddNode(&Node{Name: name}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	data := b.Finalize()

	it, err := NewTreeNodeIterator(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("NewTreeNodeIterator: %v", err)
	}
	finder := NewTreeFinder(it)
	defer finder.Close()

	node, err := finder.Find("m")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if node == nil || node.Name != "m" {
		t.Fatalf("Find(m) = %v", node)
	}

	if _, err := finder.Find("a"); err == nil {
		t.Fatal("expected error for non-increasing name")
	}
}
