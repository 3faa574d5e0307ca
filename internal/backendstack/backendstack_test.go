package backendstack

import (
	"bytes"
	"context"
	"testing"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backend/mem"
	"github.com/rustic-rs/rustic-sub001/internal/crypto"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

func TestHotColdMirrorsNonPackWrites(t *testing.T) {
	ctx := context.Background()
	hot, cold := mem.New(), mem.New()
	hc := NewHotCold(hot, cold)

	id := mustWrite(t, hc, backend.KindIndex, []byte("an index file"))

	if _, err := hot.ReadFull(ctx, backend.KindIndex, id); err != nil {
		t.Fatalf("expected index write mirrored to hot: %v", err)
	}
	if _, err := cold.ReadFull(ctx, backend.KindIndex, id); err != nil {
		t.Fatalf("cold must always have the write: %v", err)
	}
}

func TestHotColdDoesNotMirrorUncacheablePack(t *testing.T) {
	ctx := context.Background()
	hot, cold := mem.New(), mem.New()
	hc := NewHotCold(hot, cold)

	id := mustWrite(t, hc, backend.KindPack, []byte("pack bytes"))

	if _, err := hot.ReadFull(ctx, backend.KindPack, id); !backend.IsNotExist(err) {
		t.Fatalf("pack write should not reach hot, err=%v", err)
	}
}

func mustWrite(t *testing.T, b backend.Backend, kind backend.Kind, data []byte) ids.ID {
	t.Helper()
	sum := ids.Hash(data)
	if err := b.WriteBytes(context.Background(), kind, sum, false, data); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	return sum
}

func TestCryptZstdRoundTrip(t *testing.T) {
	ctx := context.Background()
	back := mem.New()
	key := crypto.NewRandomKey()

	cz, err := NewCryptZstd(back, key, true, 0)
	if err != nil {
		t.Fatalf("NewCryptZstd: %v", err)
	}

	plaintext := bytes.Repeat([]byte("hello world"), 1000)
	id, err := cz.HashWriteFull(ctx, backend.KindPack, false, plaintext)
	if err != nil {
		t.Fatalf("HashWriteFull: %v", err)
	}

	got, err := cz.ReadEncryptedFull(ctx, backend.KindPack, id)
	if err != nil {
		t.Fatalf("ReadEncryptedFull: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCryptZstdSkipsCompressionForJSONKinds(t *testing.T) {
	ctx := context.Background()
	back := mem.New()
	key := crypto.NewRandomKey()

	cz, err := NewCryptZstd(back, key, true, 0)
	if err != nil {
		t.Fatalf("NewCryptZstd: %v", err)
	}

	plaintext := []byte(`{"hello":"world"}`)
	id, err := cz.HashWriteFull(ctx, backend.KindSnapshot, true, plaintext)
	if err != nil {
		t.Fatalf("HashWriteFull: %v", err)
	}
	got, err := cz.ReadEncryptedFull(ctx, backend.KindSnapshot, id)
	if err != nil {
		t.Fatalf("ReadEncryptedFull: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch for json kind")
	}
}

func TestDryRunReturnsNullIDWithoutWriting(t *testing.T) {
	ctx := context.Background()
	back := mem.New()
	key := crypto.NewRandomKey()

	cz, err := NewCryptZstd(back, key, false, 0)
	if err != nil {
		t.Fatalf("NewCryptZstd: %v", err)
	}
	dr := NewDryRun(cz, true)

	id, err := dr.HashWriteFull(ctx, backend.KindPack, false, []byte("data"))
	if err != nil {
		t.Fatalf("HashWriteFull: %v", err)
	}
	if !id.IsNull() {
		t.Fatalf("expected null id under dry-run, got %v", id)
	}

	list, err := back.ListWithSize(ctx, backend.KindPack)
	if err != nil {
		t.Fatalf("ListWithSize: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("dry-run must not write to the underlying backend, found %d entries", len(list))
	}
}
