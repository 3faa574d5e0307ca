package mem

import (
	"bytes"
	"context"
	"testing"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

func TestMemoryBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := New()

	id := ids.Hash([]byte("some pack bytes"))
	if err := b.WriteBytes(ctx, backend.KindPack, id, false, []byte("some pack bytes")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	data, err := b.ReadFull(ctx, backend.KindPack, id)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(data, []byte("some pack bytes")) {
		t.Fatalf("got %q", data)
	}

	list, err := b.ListWithSize(ctx, backend.KindPack)
	if err != nil {
		t.Fatalf("ListWithSize: %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := b.Remove(ctx, backend.KindPack, id, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := b.ReadFull(ctx, backend.KindPack, id); !backend.IsNotExist(err) {
		t.Fatalf("expected IsNotExist after Remove, got %v", err)
	}
}

func TestMemoryBackendReadPartial(t *testing.T) {
	ctx := context.Background()
	b := New()
	id := ids.Hash([]byte("0123456789"))
	if err := b.WriteBytes(ctx, backend.KindPack, id, false, []byte("0123456789")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}

	data, err := b.ReadPartial(ctx, backend.KindPack, id, false, 2, 3)
	if err != nil {
		t.Fatalf("ReadPartial: %v", err)
	}
	if string(data) != "234" {
		t.Fatalf("got %q, want %q", data, "234")
	}
}
