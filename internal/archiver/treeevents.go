package archiver

import (
	"iter"
	"path/filepath"
	"strings"

	"github.com/rustic-rs/rustic-sub001/internal/data"
)

// EventKind distinguishes the three shapes a TreeEvents stream can emit.
type EventKind int

const (
	// EventNewTree means a new directory was entered; Node names it.
	EventNewTree EventKind = iota
	// EventEndTree closes the most recently opened directory.
	EventEndTree
	// EventOther is a leaf (file, symlink, or other non-directory entry).
	EventOther
)

// Event is one item of the nested stream TreeEvents produces from a flat
// SourceEntry stream.
type Event struct {
	Kind  EventKind
	Path  string
	Node  *data.Node
	Entry SourceEntry // valid for EventOther: carries Open/Err
}

// TreeEvents converts src's flat, depth-first stream into a nested stream:
// entering a new directory emits EventNewTree, popping back out emits
// EventEndTree, and a leaf emits EventOther. Errored entries are dropped
// (the caller is expected to have logged them already); a file is
// attributed to its parent directory so within-directory ordering holds.
//
// Depth is tracked purely from each entry's path: the running "open path"
// is stripped as a prefix from the next entry's path, and whatever
// doesn't strip cleanly closes directories first.
func TreeEvents(src iter.Seq[SourceEntry]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		var open []string // path components of currently-open directories

		closeTo := func(depth int) bool {
			for len(open) > depth {
				open = open[:len(open)-1]
				if !yield(Event{Kind: EventEndTree}) {
					return false
				}
			}
			return true
		}

		for entry := range src {
			if entry.Err != nil {
				continue
			}

			comps := splitPath(entry.Path)
			if len(comps) == 0 {
				continue
			}

			// the entry's own directory depth is len(comps)-1 for a leaf,
			// or len(comps) for a directory (it opens its own level).
			var commonDepth int
			for commonDepth < len(open) && commonDepth < len(comps)-1 && open[commonDepth] == comps[commonDepth] {
				commonDepth++
			}
			if !closeTo(commonDepth) {
				return
			}

			if entry.Node.Type == data.NodeTypeDir {
				if !yield(Event{Kind: EventNewTree, Path: entry.Path, Node: entry.Node}) {
					return
				}
				open = comps
				continue
			}

			if !yield(Event{Kind: EventOther, Path: entry.Path, Node: entry.Node, Entry: entry}) {
				return
			}
		}

		closeTo(0)
	}
}

func splitPath(p string) []string {
	p = filepath.ToSlash(p)
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}
