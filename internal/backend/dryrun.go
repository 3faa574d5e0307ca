package backend

import (
	"context"

	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// DryRun decorates a raw Backend for simulated runs: writes and removals
// are silently dropped, everything else (listing, reading) passes through
// to next unchanged. It exists alongside backendstack.DryRun because
// internal/pack.Packer writes packs directly through a Backend rather
// than through the encrypted-store chain.
type DryRun struct {
	next Backend
}

var _ Backend = (*DryRun)(nil)

func NewDryRun(next Backend) *DryRun { return &DryRun{next: next} }

func (d *DryRun) Location() string { return d.next.Location() }

func (d *DryRun) SetOption(name, value string) error { return d.next.SetOption(name, value) }

func (d *DryRun) ListWithSize(ctx context.Context, kind Kind) ([]PackedBlob, error) {
	return d.next.ListWithSize(ctx, kind)
}

func (d *DryRun) ReadFull(ctx context.Context, kind Kind, id ids.ID) ([]byte, error) {
	return d.next.ReadFull(ctx, kind, id)
}

func (d *DryRun) ReadPartial(ctx context.Context, kind Kind, id ids.ID, cacheable bool, offset, length uint32) ([]byte, error) {
	return d.next.ReadPartial(ctx, kind, id, cacheable, offset, length)
}

func (d *DryRun) Create(ctx context.Context) error { return nil }

func (d *DryRun) WriteBytes(ctx context.Context, kind Kind, id ids.ID, cacheable bool, data []byte) error {
	return nil
}

func (d *DryRun) Remove(ctx context.Context, kind Kind, id ids.ID, cacheable bool) error {
	return nil
}
