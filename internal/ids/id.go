// Package ids implements the 256-bit content-addressing identifiers used
// throughout the repository format: every blob, pack, index file, snapshot
// and key is named by the SHA-256 hash of its (plaintext or ciphertext, as
// documented by the caller) contents.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/rustic-rs/rustic-sub001/internal/errors"
)

// Size is the length of an ID in bytes.
const Size = sha256.Size

// ID is a SHA-256 hash used to uniquely identify content.
type ID [Size]byte

// Null is the reserved all-zero ID. DryRun writes report it instead of a
// real content hash.
var Null ID

// Hash computes the ID of data.
func Hash(data []byte) ID {
	return sha256.Sum256(data)
}

// String returns the hexadecimal representation of id.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Str returns a shortened hex representation suitable for logging, or the
// sentinel string "[null]" for the zero value.
func (id ID) Str() string {
	if id.IsNull() {
		return "[null]"
	}
	return hex.EncodeToString(id[:4])
}

// IsNull reports whether id is the reserved null value.
func (id ID) IsNull() bool {
	return id == Null
}

// Equal reports whether id and other name the same content.
func (id ID) Equal(other ID) bool {
	return id == other
}

// ParseID parses s, a hex string, into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, errors.Wrap(err, "hex.DecodeString")
	}
	if len(b) != Size {
		return id, errors.Errorf("invalid length for id %q: got %d, want %d", s, len(b), Size)
	}
	copy(id[:], b)
	return id, nil
}

// MarshalJSON encodes id as its hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a hex string into id.
func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// HasPrefix reports whether id's hex representation starts with prefix.
func (id ID) HasPrefix(prefix string) bool {
	if len(prefix) > len(id)*2 {
		return false
	}
	s := id.String()
	return s[:len(prefix)] == prefix
}

// IDs is a slice of ID, sortable by byte value for the globally sorted
// index representation.
type IDs []ID

func (ids IDs) Len() int           { return len(ids) }
func (ids IDs) Less(i, j int) bool { return bytesLess(ids[i][:], ids[j][:]) }
func (ids IDs) Swap(i, j int)      { ids[i], ids[j] = ids[j], ids[i] }

// Sort sorts ids in place.
func (ids IDs) Sort() { sort.Sort(ids) }

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Uniq returns a new, sorted slice with duplicate ids removed.
func (ids IDs) Uniq() IDs {
	cp := make(IDs, len(ids))
	copy(cp, ids)
	cp.Sort()
	out := cp[:0]
	for i, id := range cp {
		if i == 0 || id != cp[i-1] {
			out = append(out, id)
		}
	}
	return out
}

// IDSet is a set of IDs.
type IDSet map[ID]struct{}

// NewIDSet creates a new IDSet populated with the given ids.
func NewIDSet(ids ...ID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is a member of s.
func (s IDSet) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// Insert adds id to s.
func (s IDSet) Insert(id ID) {
	s[id] = struct{}{}
}

// Delete removes id from s.
func (s IDSet) Delete(id ID) {
	delete(s, id)
}

// List returns the elements of s as a slice, in no particular order.
func (s IDSet) List() IDs {
	out := make(IDs, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}
