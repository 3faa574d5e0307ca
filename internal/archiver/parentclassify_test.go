package archiver

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/walker"
)

func eventSeq(evs ...Event) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for _, e := range evs {
			if !yield(e) {
				return
			}
		}
	}
}

func TestClassifyWithNoParentReportsNotFound(t *testing.T) {
	ctx := context.Background()
	w, err := walker.NewParentWalker(ctx, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewParentWalker: %v", err)
	}

	events := eventSeq(
		Event{Kind: EventNewTree, Node: &data.Node{Name: "root"}},
		Event{Kind: EventOther, Node: &data.Node{Name: "file.txt"}},
		Event{Kind: EventEndTree},
	)

	var got []ClassifiedEvent
	for ce := range Classify(ctx, events, w, PrintWarnings) {
		got = append(got, ce)
	}
	if len(got) != 3 {
		t.Fatalf("got %d classified events, want 3", len(got))
	}
	if got[0].Match != walker.NotFound {
		t.Fatalf("NewTree match = %v, want NotFound", got[0].Match)
	}
	if got[1].Match != walker.NotFound {
		t.Fatalf("Other match = %v, want NotFound", got[1].Match)
	}
}

func TestClassifyAbortsWhenErrorFuncReturnsError(t *testing.T) {
	ctx := context.Background()
	w, err := walker.NewParentWalker(ctx, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewParentWalker: %v", err)
	}

	// EndTree without a matching NewTree triggers walker.ErrTreeStackEmpty.
	events := eventSeq(Event{Kind: EventEndTree})

	abort := errors.New("abort")
	errFn := func(string, error) error { return abort }

	var got []ClassifiedEvent
	for ce := range Classify(ctx, events, w, errFn) {
		got = append(got, ce)
	}
	if len(got) != 0 {
		t.Fatalf("expected iteration to stop before yielding, got %d events", len(got))
	}
}

func TestClassifySwallowsErrorWhenErrorFuncReturnsNil(t *testing.T) {
	ctx := context.Background()
	w, err := walker.NewParentWalker(ctx, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewParentWalker: %v", err)
	}

	events := eventSeq(Event{Kind: EventEndTree})

	var got []ClassifiedEvent
	for ce := range Classify(ctx, events, w, PrintWarnings) {
		got = append(got, ce)
	}
	if len(got) != 1 {
		t.Fatalf("expected the event to still be yielded after a swallowed error, got %d", len(got))
	}
}
