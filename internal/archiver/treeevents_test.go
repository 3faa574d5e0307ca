package archiver

import (
	"iter"
	"testing"

	"github.com/rustic-rs/rustic-sub001/internal/data"
)

func entry(path string, typ data.NodeType) SourceEntry {
	return SourceEntry{Path: path, Node: &data.Node{Name: path, Type: typ}}
}

func seqOf(entries ...SourceEntry) iter.Seq[SourceEntry] {
	return func(yield func(SourceEntry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}
}

func collectKinds(events iter.Seq[Event]) []EventKind {
	var kinds []EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestTreeEventsFlatFiles(t *testing.T) {
	src := seqOf(
		entry("root", data.NodeTypeDir),
		entry("root/a.txt", data.NodeTypeFile),
		entry("root/b.txt", data.NodeTypeFile),
	)
	got := collectKinds(TreeEvents(src))
	want := []EventKind{EventNewTree, EventOther, EventOther, EventEndTree}
	assertKinds(t, got, want)
}

func TestTreeEventsNestedDirectoriesClose(t *testing.T) {
	src := seqOf(
		entry("root", data.NodeTypeDir),
		entry("root/sub", data.NodeTypeDir),
		entry("root/sub/c.txt", data.NodeTypeFile),
		entry("root/other.txt", data.NodeTypeFile),
	)
	got := collectKinds(TreeEvents(src))
	want := []EventKind{
		EventNewTree,  // root
		EventNewTree,  // root/sub
		EventOther,    // root/sub/c.txt
		EventEndTree,  // close root/sub
		EventOther,    // root/other.txt
		EventEndTree,  // close root
	}
	assertKinds(t, got, want)
}

func TestTreeEventsEmptyDirectoryOpensAndCloses(t *testing.T) {
	src := seqOf(
		entry("root", data.NodeTypeDir),
		entry("root/empty", data.NodeTypeDir),
		entry("root/after.txt", data.NodeTypeFile),
	)
	got := collectKinds(TreeEvents(src))
	want := []EventKind{EventNewTree, EventNewTree, EventEndTree, EventOther, EventEndTree}
	assertKinds(t, got, want)
}

func assertKinds(t *testing.T, got, want []EventKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v kinds, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kind %d: got %v, want %v (full: got=%v want=%v)", i, got[i], want[i], got, want)
		}
	}
}
