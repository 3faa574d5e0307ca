package data

import "github.com/rustic-rs/rustic-sub001/internal/chunker"

// RepositoryFormatVersion is the on-disk format version this module writes
// and is willing to read.
const RepositoryFormatVersion = 2

// DefaultMinPacksizeTolerancePercent is the fraction of a pack's bytes that
// may go unused before prune repacks it, applied when Config leaves
// MinPacksizeTolerancePercent unset.
const DefaultMinPacksizeTolerancePercent = 30

// Config is the repository's root record, stored encrypted under the
// master key: a random
// repository id, the chunker polynomial every client must reuse so that
// deduplication stays effective across machines, and the pack-size/
// compression policy every writer into this repository must honor.
//
// The pointer fields are optional in the on-disk JSON, mirroring the
// Option<T> fields of the format this was distilled from: a nil value
// means "apply the built-in default", not zero.
type Config struct {
	Version           uint        `json:"version"`
	ID                string      `json:"id"`
	ChunkerPolynomial chunker.Pol `json:"chunker_polynomial"`

	// IsHot records whether this repository was created with a hot/cold
	// backend split (see internal/backendstack.HotCold); nil means the
	// config predates this field and should be treated as false.
	IsHot *bool `json:"is_hot,omitempty"`

	// CompressionLevel is the zstd level new packs and files are
	// compressed at. Nil means "use the library default level"; a
	// pointer to 0 disables compression entirely for Version >= 2.
	CompressionLevel *int `json:"compression,omitempty"`

	TreePackSize       *uint32 `json:"treepack_size,omitempty"`
	TreePackGrowFactor *uint32 `json:"treepack_growfactor,omitempty"`
	TreePackSizeLimit  *uint32 `json:"treepack_size_limit,omitempty"`

	DataPackSize       *uint32 `json:"datapack_size,omitempty"`
	DataPackGrowFactor *uint32 `json:"datapack_growfactor,omitempty"`
	DataPackSizeLimit  *uint32 `json:"datapack_size_limit,omitempty"`

	// MinPacksizeTolerancePercent/MaxPacksizeTolerancePercent bound how
	// much of a pack's bytes may go unused before prune repacks it; a nil
	// or zero max means "no upper limit".
	MinPacksizeTolerancePercent *uint32 `json:"min_packsize_tolerate_percent,omitempty"`
	MaxPacksizeTolerancePercent *uint32 `json:"max_packsize_tolerate_percent,omitempty"`
}

// Compress reports whether new packs and files should be zstd-compressed
// at all: always false below version 2, otherwise true unless
// CompressionLevel was explicitly set to 0.
func (c Config) Compress() bool {
	if c.Version < 2 {
		return false
	}
	return c.CompressionLevel == nil || *c.CompressionLevel != 0
}

// ZstdLevel returns the effective zstd compression level, 0 meaning "use
// the library's default level".
func (c Config) ZstdLevel() int {
	if c.CompressionLevel == nil {
		return 0
	}
	return *c.CompressionLevel
}

// PacksizeTolerancePercent returns the (min, max) percent of a pack's
// bytes that prune tolerates as unused before repacking it, applying
// DefaultMinPacksizeTolerancePercent and "no limit" for unset fields.
func (c Config) PacksizeTolerancePercent() (minPercent, maxPercent uint32) {
	minPercent = DefaultMinPacksizeTolerancePercent
	if c.MinPacksizeTolerancePercent != nil {
		minPercent = *c.MinPacksizeTolerancePercent
	}
	maxPercent = 0
	if c.MaxPacksizeTolerancePercent != nil {
		maxPercent = *c.MaxPacksizeTolerancePercent
	}
	return minPercent, maxPercent
}
