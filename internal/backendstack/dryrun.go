package backendstack

import (
	"context"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// EncryptedStore is the interface CryptZstd exposes and DryRun decorates:
// callers above this point in the chain address files by content rather
// than by an id they already know.
type EncryptedStore interface {
	Create(ctx context.Context) error
	ListWithSize(ctx context.Context, kind backend.Kind) ([]backend.PackedBlob, error)
	HashWriteFull(ctx context.Context, kind backend.Kind, cacheable bool, plaintext []byte) (ids.ID, error)
	ReadEncryptedFull(ctx context.Context, kind backend.Kind, id ids.ID) ([]byte, error)
	ReadEncryptedPartial(ctx context.Context, kind backend.Kind, id ids.ID, cacheable bool, offset, length, ulen uint32) ([]byte, error)
	Remove(ctx context.Context, kind backend.Kind, id ids.ID, cacheable bool) error
}

// DryRun is the outermost decorator: when enabled, it short-circuits every
// mutation and hands back the reserved null id from HashWriteFull, so a
// simulated backup/prune run never touches the repository. Callers that
// compare the returned id for equality must special-case dry-run.
type DryRun struct {
	next    EncryptedStore
	enabled bool
}

var _ EncryptedStore = (*DryRun)(nil)

func NewDryRun(next EncryptedStore, enabled bool) *DryRun {
	return &DryRun{next: next, enabled: enabled}
}

func (d *DryRun) Create(ctx context.Context) error {
	if d.enabled {
		return nil
	}
	return d.next.Create(ctx)
}

func (d *DryRun) ListWithSize(ctx context.Context, kind backend.Kind) ([]backend.PackedBlob, error) {
	return d.next.ListWithSize(ctx, kind)
}

func (d *DryRun) HashWriteFull(ctx context.Context, kind backend.Kind, cacheable bool, plaintext []byte) (ids.ID, error) {
	if d.enabled {
		return ids.Null, nil
	}
	return d.next.HashWriteFull(ctx, kind, cacheable, plaintext)
}

func (d *DryRun) ReadEncryptedFull(ctx context.Context, kind backend.Kind, id ids.ID) ([]byte, error) {
	return d.next.ReadEncryptedFull(ctx, kind, id)
}

func (d *DryRun) ReadEncryptedPartial(ctx context.Context, kind backend.Kind, id ids.ID, cacheable bool, offset, length, ulen uint32) ([]byte, error) {
	return d.next.ReadEncryptedPartial(ctx, kind, id, cacheable, offset, length, ulen)
}

func (d *DryRun) Remove(ctx context.Context, kind backend.Kind, id ids.ID, cacheable bool) error {
	if d.enabled {
		return nil
	}
	return d.next.Remove(ctx, kind, id, cacheable)
}
