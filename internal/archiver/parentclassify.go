package archiver

import (
	"context"
	"fmt"
	"iter"
	"os"

	"github.com/rustic-rs/rustic-sub001/internal/walker"
)

// ErrorFunc is called when the pipeline hits a recoverable error for one
// item; returning nil swallows it (after logging), anything else aborts
// the run.
type ErrorFunc func(path string, err error) error

// PrintWarnings is the default ErrorFunc: log to stderr and continue.
func PrintWarnings(path string, err error) error {
	fmt.Fprintf(os.Stderr, "warning for %v: %v\n", path, err)
	return nil
}

// ClassifiedEvent is a tree Event annotated with how its entry compares to
// the parent snapshot at the same path.
type ClassifiedEvent struct {
	Event
	Match   walker.MatchKind
	Subtree *walker.TreeMatch // set on EventNewTree
}

// Classify drives events through w in lockstep, turning each Event into a
// ClassifiedEvent. It must run single-threaded and in order: w's internal
// cursor only advances forward.
func Classify(ctx context.Context, events iter.Seq[Event], w *walker.ParentWalker, errFn ErrorFunc) iter.Seq[ClassifiedEvent] {
	if errFn == nil {
		errFn = PrintWarnings
	}
	return func(yield func(ClassifiedEvent) bool) {
		for ev := range events {
			switch ev.Kind {
			case EventNewTree:
				match, err := w.NewTree(ctx, ev.Node.Name)
				if err != nil {
					if errFn(ev.Path, err) != nil {
						return
					}
					match = walker.TreeMatch{Kind: walker.NotFound}
				}
				if !yield(ClassifiedEvent{Event: ev, Match: match.Kind, Subtree: &match}) {
					return
				}

			case EventEndTree:
				if err := w.EndTree(); err != nil {
					if errFn(ev.Path, err) != nil {
						return
					}
				}
				if !yield(ClassifiedEvent{Event: ev}) {
					return
				}

			case EventOther:
				kind, err := w.Other(ev.Node, ev.Node.Name)
				if err != nil {
					if errFn(ev.Path, err) != nil {
						return
					}
					kind = walker.NotFound
				}
				if !yield(ClassifiedEvent{Event: ev, Match: kind}) {
					return
				}
			}
		}
	}
}
