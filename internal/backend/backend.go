// Package backend defines the narrow object-store interface used to store
// and retrieve the repository's packs, indexes, snapshots, keys and config,
// along with the concrete transports that implement it.
package backend

import (
	"context"
	"fmt"

	"github.com/rustic-rs/rustic-sub001/internal/ids"
)

// ErrNoRepository is returned by transports when the target location does
// not look like a repository (no config file present).
var ErrNoRepository = fmt.Errorf("repository does not exist")

// Kind identifies one of the five file classes a repository is built from.
type Kind int

const (
	KindConfig Kind = iota
	KindKey
	KindSnapshot
	KindIndex
	KindPack
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindKey:
		return "keys"
	case KindSnapshot:
		return "snapshots"
	case KindIndex:
		return "index"
	case KindPack:
		return "data"
	default:
		return "invalid"
	}
}

// Handle addresses a single file in a backend: its kind and, for every kind
// but Config, the id of the file.
type Handle struct {
	Kind Kind
	Name string
}

// IsConfig reports whether h addresses the repository's singleton config.
func (h Handle) IsConfig() bool { return h.Kind == KindConfig }

func (h Handle) String() string {
	name := h.Name
	if len(name) > 10 {
		name = name[:10]
	}
	return fmt.Sprintf("<%s/%s>", h.Kind, name)
}

// PackedBlob is one entry returned by ListWithSize: an id and the size it
// occupies in the backend.
type PackedBlob struct {
	ID   ids.ID
	Size uint32
}

// Backend is the narrow interface the rest of the system uses to store and
// access data. It deliberately knows nothing about encryption, caching, or
// hot/cold tiering; those concerns are layered on top by the backendstack
// package.
type Backend interface {
	// Location returns a string that describes the type and location of
	// the backend, suitable for printing to the user.
	Location() string

	// SetOption sets a transport-specific option (e.g. "retry", "timeout")
	// after the backend has been constructed.
	SetOption(name, value string) error

	// ListWithSize returns every file of the given kind, together with its
	// size in bytes as stored in the backend.
	ListWithSize(ctx context.Context, kind Kind) ([]PackedBlob, error)

	// ReadFull returns the entire contents of the file addressed by kind
	// and id.
	ReadFull(ctx context.Context, kind Kind, id ids.ID) ([]byte, error)

	// ReadPartial returns length bytes starting at offset from the file
	// addressed by kind and id. cacheable hints whether the caller
	// considers the result safe to persist in a local cache.
	ReadPartial(ctx context.Context, kind Kind, id ids.ID, cacheable bool, offset, length uint32) ([]byte, error)

	// Create prepares the backend for use, creating any directories or
	// remote structure it needs. Create must be idempotent.
	Create(ctx context.Context) error

	// WriteBytes stores data under kind and id. cacheable hints whether a
	// wrapping cache layer should retain a local copy.
	WriteBytes(ctx context.Context, kind Kind, id ids.ID, cacheable bool, data []byte) error

	// Remove deletes the file addressed by kind and id.
	Remove(ctx context.Context, kind Kind, id ids.ID, cacheable bool) error
}

// IsNotExist reports whether err indicates that the requested file does not
// exist in the backend.
func IsNotExist(err error) bool {
	type notExister interface{ IsNotExist() bool }
	if ne, ok := err.(notExister); ok {
		return ne.IsNotExist()
	}
	return false
}

// IsPermanentError reports whether err should not be retried by a backoff
// wrapper because retrying it can never succeed.
func IsPermanentError(err error) bool {
	type permanenter interface{ IsPermanentError() bool }
	if pe, ok := err.(permanenter); ok {
		return pe.IsPermanentError()
	}
	return false
}

// subdir returns the two-character shard prefix used for every kind but
// Config, whose single file lives at the backend root under the name
// "config".
func subdir(kind Kind, name string) string {
	if kind == KindConfig {
		return ""
	}
	if len(name) < 2 {
		return name
	}
	return name[:2]
}

// Filename returns the path components (directory, filename) that a
// directory-shaped transport (local, sftp) should use to store the file
// addressed by kind/name.
func Filename(kind Kind, name string) (dir, file string) {
	if kind == KindConfig {
		return "", "config"
	}
	return kind.String() + "/" + subdir(kind, name), name
}
