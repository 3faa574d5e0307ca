package checker

import (
	"bytes"
	"context"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
)

// hotColdKinds are the kinds CheckHotCold compares between the tiers. Keys
// and cacheable packs are mirrored into hot as well but are not compared.
var hotColdKinds = []backend.Kind{backend.KindIndex, backend.KindSnapshot}

// CheckHotCold lists the Index and Snapshot kinds from both tiers of hc and
// reports any id whose presence or size disagrees between them. It is a
// no-op when hc has no hot tier configured.
func CheckHotCold(ctx context.Context, hc *backendstack.HotCold) []error {
	if hc == nil || hc.Hot() == nil {
		return nil
	}

	var errs []error
	for _, kind := range hotColdKinds {
		hot, err := hc.Hot().ListWithSize(ctx, kind)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "list hot %v", kind))
			continue
		}
		cold, err := hc.Cold().ListWithSize(ctx, kind)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "list cold %v", kind))
			continue
		}

		coldSizes := make(map[string]uint32, len(cold))
		for _, e := range cold {
			coldSizes[e.ID.String()] = e.Size
		}
		for _, e := range hot {
			size, ok := coldSizes[e.ID.String()]
			if !ok {
				errs = append(errs, errors.Errorf("hot %v %v is absent from cold", kind, e.ID))
				continue
			}
			if size != e.Size {
				errs = append(errs, errors.Errorf("hot %v %v is %d bytes, cold has %d", kind, e.ID, e.Size, size))
			}
			delete(coldSizes, e.ID.String())
		}
		for idStr := range coldSizes {
			errs = append(errs, errors.Errorf("cold %v %v is absent from hot", kind, idStr))
		}
	}
	return errs
}

// cachedKinds are the file kinds the local cache mirrors and CheckCache
// therefore has anything to compare.
var cachedKinds = []backend.Kind{backend.KindIndex, backend.KindSnapshot}

// CheckCache byte-compares every file the local cache mirrors against the
// backend's copy of the same id, for the Index and Snapshot kinds. It is a
// no-op when the repository was opened without a cache, or when
// Options.TrustCache is set.
func (c *Checker) CheckCache(ctx context.Context) []error {
	if c.cache == nil || c.opts.TrustCache {
		return nil
	}

	var errs []error
	for _, kind := range cachedKinds {
		ids, err := c.cache.CachedIDs(kind)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "list cached %v", kind))
			continue
		}
		for _, id := range ids {
			cached, err := c.cache.ReadCached(kind, id)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "read cached %v %v", kind, id))
				continue
			}
			fromBackend, err := c.be.ReadFull(ctx, kind, id)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "read backend %v %v", kind, id))
				continue
			}
			if !bytes.Equal(cached, fromBackend) {
				errs = append(errs, errors.Errorf("cached %v %v does not match the backend copy", kind, id))
			}
		}
	}
	return errs
}
