// Package mem implements an in-memory backend, useful for tests that would
// otherwise need a scratch directory or network service.
package mem

import (
	"context"
	"sync"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

type key struct {
	kind backend.Kind
	id   ids.ID
}

// MemoryBackend stores every file in a map; it never touches disk.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[key][]byte
}

var _ backend.Backend = (*MemoryBackend)(nil)

// New returns an empty in-memory backend.
func New() *MemoryBackend {
	return &MemoryBackend{data: make(map[key][]byte)}
}

func (b *MemoryBackend) Location() string { return "mem:" }

func (b *MemoryBackend) SetOption(string, string) error { return nil }

func (b *MemoryBackend) Create(context.Context) error { return nil }

func (b *MemoryBackend) ListWithSize(_ context.Context, kind backend.Kind) ([]backend.PackedBlob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []backend.PackedBlob
	for k, v := range b.data {
		if k.kind == kind {
			out = append(out, backend.PackedBlob{ID: k.id, Size: uint32(len(v))})
		}
	}
	return out, nil
}

func (b *MemoryBackend) ReadFull(_ context.Context, kind backend.Kind, id ids.ID) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.data[key{kind, id}]
	if !ok {
		return nil, notExistError{kind, id}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (b *MemoryBackend) ReadPartial(ctx context.Context, kind backend.Kind, id ids.ID, _ bool, offset, length uint32) ([]byte, error) {
	data, err := b.ReadFull(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) < offset+length {
		return nil, errors.Errorf("read past end of object: have %d bytes, want [%d,%d)", len(data), offset, offset+length)
	}
	return data[offset : offset+length], nil
}

func (b *MemoryBackend) WriteBytes(_ context.Context, kind backend.Kind, id ids.ID, _ bool, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	b.data[key{kind, id}] = cp
	return nil
}

func (b *MemoryBackend) Remove(_ context.Context, kind backend.Kind, id ids.ID, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.data, key{kind, id})
	return nil
}

type notExistError struct {
	kind backend.Kind
	id   ids.ID
}

func (e notExistError) Error() string {
	return "no such file: " + e.kind.String() + "/" + e.id.String()
}

func (notExistError) IsNotExist() bool { return true }
